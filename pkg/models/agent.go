package models

import "time"

// AgentKind distinguishes the two worker shapes.
type AgentKind string

const (
	// AgentEphemeral runs exactly one task, then exits.
	AgentEphemeral AgentKind = "ephemeral"
	// AgentPersistent returns to standby after each task and waits for the
	// next assignment.
	AgentPersistent AgentKind = "persistent"
)

// AgentStatus represents the current state of an agent in the pool.
type AgentStatus string

const (
	// AgentStatusStarting indicates the process is launching.
	AgentStatusStarting AgentStatus = "starting"
	// AgentStatusStandby indicates a persistent agent waiting for work.
	AgentStatusStandby AgentStatus = "standby"
	// AgentStatusAssigned indicates an assignment exists but the agent has
	// not accepted it yet.
	AgentStatusAssigned AgentStatus = "assigned"
	// AgentStatusActive indicates the agent is working on its task.
	AgentStatusActive AgentStatus = "active"
	// AgentStatusCompleted indicates the agent finished its task.
	AgentStatusCompleted AgentStatus = "completed"
	// AgentStatusStuck indicates the agent exceeded the stuck timeout and
	// was evicted from consideration.
	AgentStatusStuck AgentStatus = "stuck"
	// AgentStatusTerminated indicates the process is gone (or was told to
	// go). Terminal.
	AgentStatusTerminated AgentStatus = "terminated"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusStarting, AgentStatusStandby, AgentStatusAssigned,
		AgentStatusActive, AgentStatusCompleted, AgentStatusStuck,
		AgentStatusTerminated:
		return true
	default:
		return false
	}
}

// Assignable returns true if the dispatcher may bind a task to an agent in
// this state.
func (s AgentStatus) Assignable() bool {
	return s == AgentStatusStandby || s == AgentStatusStarting
}

// Agent represents one worker process registered in the pool.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Kind is ephemeral or persistent.
	Kind AgentKind `json:"kind"`
	// Backend names the process backend that runs the agent.
	Backend string `json:"backend"`
	// Role is the role briefing the agent was launched with.
	Role string `json:"role"`
	// Capabilities lists the capabilities the agent advertises.
	Capabilities []string `json:"capabilities,omitempty"`
	// Status is the current pool state of the agent.
	Status AgentStatus `json:"status"`
	// CurrentTask is the task the agent is bound to, if any. An agent is
	// never simultaneously standby and holding a current task.
	CurrentTask string `json:"current_task,omitempty"`
	// Workspace is the path to the agent's isolated clone.
	Workspace string `json:"workspace,omitempty"`
	// PID is the agent's OS process ID, when known.
	PID int `json:"pid,omitempty"`
	// StartedAt is when the agent was spawned.
	StartedAt time.Time `json:"started_at"`
	// LastSeen is the agent's most recent heartbeat.
	LastSeen time.Time `json:"last_seen"`
}

// Assignment binds a task to a pooled agent. Assignments are append-only;
// acceptance is recorded by setting AcceptedAt.
type Assignment struct {
	// ID is the unique identifier for this assignment.
	ID string `json:"id"`
	// AgentID is the agent the task is bound to.
	AgentID string `json:"agent_id"`
	// TaskID is the bound task.
	TaskID string `json:"task_id"`
	// Branch is the git branch the agent should work on.
	Branch string `json:"branch"`
	// Description is the task briefing.
	Description string `json:"description"`
	// AssignedAt is when the dispatcher created the assignment.
	AssignedAt time.Time `json:"assigned_at"`
	// AcceptedAt is when the agent picked the assignment up, if it has.
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
}
