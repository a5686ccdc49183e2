package models

import "time"

// Message addresses. Agents address the PM by name; the PM addresses agents
// by ID, the human user, or everyone.
const (
	// AddrPM is the project-manager role address. The only destination an
	// agent may write to directly.
	AddrPM = "pm"
	// AddrUser is the human user address, reachable only via PM escalation.
	AddrUser = "user"
	// AddrAll broadcasts to every registered agent.
	AddrAll = "all"
)

// MessageKind classifies a mailbox message.
type MessageKind string

const (
	// KindQuestion is a blocking request that expects a correlated reply.
	KindQuestion MessageKind = "question"
	// KindNotification is fire-and-forget.
	KindNotification MessageKind = "notification"
	// KindTaskComplete reports task completion to the PM.
	KindTaskComplete MessageKind = "task_complete"
	// KindStatus is a progress heartbeat from an agent.
	KindStatus MessageKind = "status"
	// KindAnswer is a reply correlated to an earlier question.
	KindAnswer MessageKind = "answer"
)

// Valid returns true if the kind is a known value.
func (k MessageKind) Valid() bool {
	switch k {
	case KindQuestion, KindNotification, KindTaskComplete, KindStatus, KindAnswer:
		return true
	default:
		return false
	}
}

// MessagePriority orders PM attention.
type MessagePriority string

const (
	PriorityLow      MessagePriority = "low"
	PriorityNormal   MessagePriority = "normal"
	PriorityHigh     MessagePriority = "high"
	PriorityBlocking MessagePriority = "blocking"
)

// Valid returns true if the priority is a known value.
func (p MessagePriority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityBlocking:
		return true
	default:
		return false
	}
}

// MessageStatus is the delivery state of a message. Transitions are monotonic
// and one-directional; no message is resurrected.
type MessageStatus string

const (
	// StatusPending indicates the message has not been picked up.
	StatusPending MessageStatus = "pending"
	// StatusProcessing indicates the recipient is working on it.
	StatusProcessing MessageStatus = "processing"
	// StatusDelivered indicates a notification reached its recipient.
	StatusDelivered MessageStatus = "delivered"
	// StatusResponded indicates a question received a correlated reply.
	StatusResponded MessageStatus = "responded"
	// StatusRejected indicates the message violated routing rules. Terminal.
	StatusRejected MessageStatus = "rejected"
	// StatusHandled indicates the recipient finished with the message.
	StatusHandled MessageStatus = "handled"
)

// Valid returns true if the status is a known value.
func (s MessageStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDelivered, StatusResponded,
		StatusRejected, StatusHandled:
		return true
	default:
		return false
	}
}

// rank orders message statuses along the one-directional lifecycle.
func (s MessageStatus) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusDelivered, StatusResponded, StatusRejected, StatusHandled:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether moving from s to next respects the monotonic
// message lifecycle. Terminal states never transition.
func (s MessageStatus) CanTransition(next MessageStatus) bool {
	if !s.Valid() || !next.Valid() {
		return false
	}
	if s.rank() >= 2 {
		return false
	}
	return next.rank() > s.rank()
}

// Message is one unit on the mailbox. Messages are append-only; only their
// status is mutated.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// From is the sender address (agent ID, "pm", or "user").
	From string `json:"from"`
	// To is the destination address.
	To string `json:"to"`
	// Kind classifies the message.
	Kind MessageKind `json:"kind"`
	// Body is the message payload.
	Body string `json:"body"`
	// Context carries optional sender-supplied context for questions.
	Context string `json:"context,omitempty"`
	// Priority orders PM attention.
	Priority MessagePriority `json:"priority"`
	// Status is the delivery state.
	Status MessageStatus `json:"status"`
	// ReplyTo correlates an answer to its question.
	ReplyTo string `json:"reply_to,omitempty"`
	// TaskID links the message to a task, when relevant.
	TaskID string `json:"task_id,omitempty"`
	// FilesChanged lists files touched, for task_complete messages.
	FilesChanged []string `json:"files_changed,omitempty"`
	// Timestamp is when the message was created.
	Timestamp time.Time `json:"timestamp"`
}
