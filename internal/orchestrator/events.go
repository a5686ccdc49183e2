package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskDispatched indicates a task was handed to an agent.
	EventTaskDispatched EventType = "task_dispatched"
	// EventTaskCompleted indicates an agent reported the task done.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskApproved indicates the PM approved the completed work.
	EventTaskApproved EventType = "task_approved"
	// EventTaskRejected indicates the PM rejected the completed work.
	EventTaskRejected EventType = "task_rejected"
	// EventTaskMerged indicates the task's branch landed on the main line.
	EventTaskMerged EventType = "task_merged"
	// EventMergeConflict indicates a merge attempt conflicted.
	EventMergeConflict EventType = "merge_conflict"
	// EventTaskStuck indicates a task was reclaimed from a stuck agent.
	EventTaskStuck EventType = "task_stuck"
	// EventTaskNeedsHuman indicates automated handling is exhausted.
	EventTaskNeedsHuman EventType = "task_needs_human"
	// EventAgentSpawned indicates a new agent process was launched.
	EventAgentSpawned EventType = "agent_spawned"
	// EventAgentTerminated indicates an agent process was terminated.
	EventAgentTerminated EventType = "agent_terminated"
	// EventProjectDone indicates every task reached a terminal state.
	EventProjectDone EventType = "project_done"
)

// Event is one observable orchestrator occurrence. Events feed the activity
// log and any attached progress listener.
type Event struct {
	// Type is the kind of event.
	Type EventType
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
