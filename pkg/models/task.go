package models

import "time"

// TaskType classifies the kind of work a task represents.
type TaskType string

const (
	// TaskTypeResearch is exploratory work that produces notes, not code.
	TaskTypeResearch TaskType = "research"
	// TaskTypeSetup is scaffolding work (project layout, tooling).
	TaskTypeSetup TaskType = "setup"
	// TaskTypeImplement is feature implementation work.
	TaskTypeImplement TaskType = "implement"
	// TaskTypeTest is test-writing work.
	TaskTypeTest TaskType = "test"
	// TaskTypeIntegrate is cross-cutting integration work.
	TaskTypeIntegrate TaskType = "integrate"
)

// Valid returns true if the task type is a known value.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeResearch, TaskTypeSetup, TaskTypeImplement, TaskTypeTest, TaskTypeIntegrate:
		return true
	default:
		return false
	}
}

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusBlocked indicates unmet dependencies.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusReady indicates all dependencies are satisfied and the task
	// is waiting for an agent.
	TaskStatusReady TaskStatus = "ready"
	// TaskStatusRunning indicates an agent is working on the task.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the agent finished but the work has not
	// been reviewed yet.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusApproved indicates the PM approved the work; merge pending.
	TaskStatusApproved TaskStatus = "approved"
	// TaskStatusMerged indicates the work landed on the main line.
	TaskStatusMerged TaskStatus = "merged"
	// TaskStatusConflictRetry indicates an automated conflict-resolution
	// attempt is pending or in progress.
	TaskStatusConflictRetry TaskStatus = "conflict_retry"
	// TaskStatusNeedsHumanReview indicates automation gave up; a human must
	// intervene. Terminal.
	TaskStatusNeedsHumanReview TaskStatus = "needs_human_review"
	// TaskStatusFailed indicates the task failed (agent failure or PM
	// rejection). Terminal.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusBlocked, TaskStatusReady, TaskStatusRunning,
		TaskStatusCompleted, TaskStatusApproved, TaskStatusMerged,
		TaskStatusConflictRetry, TaskStatusNeedsHumanReview, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further automatic transitions are possible.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusMerged, TaskStatusFailed, TaskStatusNeedsHumanReview:
		return true
	default:
		return false
	}
}

// SatisfiesDependents returns true if a task in this state unblocks tasks
// that depend on it. Raw agent completion does not count; the work must have
// passed PM review (approved) or landed (merged).
func (s TaskStatus) SatisfiesDependents() bool {
	return s == TaskStatusApproved || s == TaskStatusMerged
}

// Task represents one unit of work in the dependency graph.
type Task struct {
	// ID is the unique identifier for this task within its project.
	ID string `json:"id"`
	// Type classifies the work.
	Type TaskType `json:"type"`
	// Branch is the git branch the assigned agent works on.
	Branch string `json:"branch"`
	// AgentType names the preferred agent capability for this task.
	AgentType string `json:"agent,omitempty"`
	// Description is the full task briefing handed to the agent.
	Description string `json:"description"`
	// DependsOn lists task IDs that must be approved or merged before this
	// task becomes ready. Always present, empty when the task has no
	// dependencies.
	DependsOn []string `json:"depends_on"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// AssignedAgent is the ID of the agent currently bound to this task.
	AssignedAgent string `json:"assigned_agent,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the task reached a terminal state, if it has.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	// Error holds the failure reason for failed tasks.
	Error string `json:"error,omitempty"`
	// Summary is the agent-reported completion summary.
	Summary string `json:"summary,omitempty"`
	// ReviewNote is the PM's one-line review rationale.
	ReviewNote string `json:"review_note,omitempty"`
}

// Project represents one unit of work with its own workspace.
type Project struct {
	// ID is the unique identifier for the project.
	ID string `json:"id"`
	// Name is the human-readable project name.
	Name string `json:"name"`
	// Description describes the overall goal.
	Description string `json:"description,omitempty"`
	// Status is "active" or "completed".
	Status string `json:"status"`
	// CreatedAt is when the project was created.
	CreatedAt time.Time `json:"created_at"`
}

// Project status values.
const (
	ProjectActive    = "active"
	ProjectCompleted = "completed"
)
