// Package bus layers request/response and notification semantics on the
// mailbox store. Routing is a star topology: agents talk only to the PM,
// the PM talks to agents, everyone, or the human user. Agent-to-agent
// traffic is rejected.
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// ErrRouteRejected indicates a message violated the star topology.
var ErrRouteRejected = errors.New("bus: destination not allowed")

// NoResponse is the explicit degraded answer returned when a bounded wait
// expires. Callers proceed with best judgment instead of blocking forever.
const NoResponse = "no response received before the deadline; proceed using your best judgment"

// EscalationPlaceholder is the PM's stand-in answer when the human does not
// reply within the escalation bound.
const EscalationPlaceholder = "no human answer arrived in time; proceeding without human input"

// Answer is the result of a blocking ask.
type Answer struct {
	// Text is the reply body, or an explicit no-response notice.
	Text string
	// TimedOut is true when the deadline expired before a reply arrived.
	TimedOut bool
	// MessageID is the outbox ID of the question.
	MessageID string
}

// Bus provides messaging operations over a mailbox store.
type Bus struct {
	store *mailbox.Store
	// pollInterval is how often bounded waits re-read the inbox.
	pollInterval time.Duration
}

// New creates a Bus over the given store.
func New(store *mailbox.Store) *Bus {
	return &Bus{store: store, pollInterval: time.Second}
}

// SetPollInterval overrides the wait-loop poll interval (for tests).
func (b *Bus) SetPollInterval(d time.Duration) {
	if d > 0 {
		b.pollInterval = d
	}
}

// allowed enforces the star topology for a sender/destination pair.
// The PM and the user may address anyone; agents may address only the PM.
func allowed(from, to string) bool {
	if from == models.AddrPM || from == models.AddrUser {
		return true
	}
	return to == models.AddrPM
}

// Notify appends a fire-and-forget message. A disallowed destination is
// recorded with status rejected and reported to the sender.
func (b *Bus) Notify(from, to string, kind models.MessageKind, body string, priority models.MessagePriority) (string, error) {
	if priority == "" {
		priority = models.PriorityNormal
	}
	msg := models.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Kind:      kind,
		Body:      body,
		Priority:  priority,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	}

	if !allowed(from, to) {
		msg.Status = models.StatusRejected
		if err := b.store.AppendOutbox(msg); err != nil {
			return "", err
		}
		return msg.ID, fmt.Errorf("%w: %s -> %s", ErrRouteRejected, from, to)
	}

	if err := b.store.AppendOutbox(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Send appends a PM-originated message for an agent (or all agents) to the
// inbox, where agents poll for it.
func (b *Bus) Send(to string, kind models.MessageKind, body string) (string, error) {
	msg := models.Message{
		ID:        uuid.New().String(),
		From:      models.AddrPM,
		To:        to,
		Kind:      kind,
		Body:      body,
		Priority:  models.PriorityNormal,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	}
	if err := b.store.AppendInbox(msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// Broadcast sends a PM-originated notification to every registered agent.
// Agents see it once on their next inbox poll.
func (b *Bus) Broadcast(kind models.MessageKind, body string) (string, error) {
	return b.Send(models.AddrAll, kind, body)
}

// Ask appends a pending question and blocks until a correlated reply appears
// in the inbox or the timeout elapses. On timeout it returns an explicit
// no-response answer, never an indefinite block.
func (b *Bus) Ask(ctx context.Context, from, to, question, contextInfo string, priority models.MessagePriority, timeout time.Duration) (Answer, error) {
	if priority == "" {
		priority = models.PriorityNormal
	}
	msg := models.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Kind:      models.KindQuestion,
		Body:      question,
		Context:   contextInfo,
		Priority:  priority,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	}

	if !allowed(from, to) {
		msg.Status = models.StatusRejected
		_ = b.store.AppendOutbox(msg)
		return Answer{}, fmt.Errorf("%w: %s -> %s", ErrRouteRejected, from, to)
	}

	if err := b.store.AppendOutbox(msg); err != nil {
		return Answer{}, err
	}

	return b.awaitReply(ctx, msg.ID, timeout)
}

// awaitReply polls the inbox for a reply correlated by reply_to.
func (b *Bus) awaitReply(ctx context.Context, questionID string, timeout time.Duration) (Answer, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		replies := b.store.Inbox(func(m models.Message) bool {
			return m.ReplyTo == questionID
		})
		if len(replies) > 0 {
			return Answer{Text: replies[0].Body, MessageID: questionID}, nil
		}

		if time.Now().After(deadline) {
			return Answer{Text: NoResponse, TimedOut: true, MessageID: questionID}, nil
		}

		select {
		case <-ctx.Done():
			return Answer{Text: NoResponse, TimedOut: true, MessageID: questionID}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reply appends a correlated answer to the inbox and flips the question's
// outbox entry to responded. Each outbox entry takes at most one response;
// a second reply against the same question is rejected.
func (b *Bus) Reply(questionID, from, text string) error {
	sender, ok := b.questionSender(questionID)
	if !ok {
		return fmt.Errorf("bus: reply to unknown question %s: %w", questionID, mailbox.ErrNotFound)
	}
	existing := b.store.Inbox(func(m models.Message) bool {
		return m.ReplyTo == questionID
	})
	if len(existing) > 0 {
		return fmt.Errorf("bus: question %s already has a response", questionID)
	}

	reply := models.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        sender,
		Kind:      models.KindAnswer,
		Body:      text,
		Priority:  models.PriorityNormal,
		Status:    models.StatusPending,
		ReplyTo:   questionID,
		Timestamp: time.Now().UTC(),
	}
	if err := b.store.AppendInbox(reply); err != nil {
		return err
	}

	return b.store.UpdateOutbox(questionID, func(m *models.Message) {
		m.Status = models.StatusResponded
	})
}

// questionSender looks up who asked a question, for reply addressing.
func (b *Bus) questionSender(questionID string) (string, bool) {
	msgs := b.store.Outbox(func(m models.Message) bool {
		return m.ID == questionID
	})
	if len(msgs) == 0 {
		return "", false
	}
	return msgs[0].From, true
}

// PendingFor returns pending outbox messages addressed to the given
// destination, oldest first, blocking priority first.
func (b *Bus) PendingFor(to string) []models.Message {
	msgs := b.store.Outbox(func(m models.Message) bool {
		return m.To == to && m.Status == models.StatusPending
	})
	// Stable partition: blocking and high priority ahead of the rest,
	// preserving append order within each class.
	var urgent, rest []models.Message
	for _, m := range msgs {
		if m.Priority == models.PriorityBlocking || m.Priority == models.PriorityHigh {
			urgent = append(urgent, m)
		} else {
			rest = append(rest, m)
		}
	}
	return append(urgent, rest...)
}

// MarkProcessing flips a pending outbox message to processing.
func (b *Bus) MarkProcessing(id string) error {
	return b.store.UpdateOutbox(id, func(m *models.Message) {
		m.Status = models.StatusProcessing
	})
}

// MarkDelivered flips an outbox message to delivered.
func (b *Bus) MarkDelivered(id string) error {
	return b.store.UpdateOutbox(id, func(m *models.Message) {
		m.Status = models.StatusDelivered
	})
}

// MarkHandled flips an outbox message to handled.
func (b *Bus) MarkHandled(id string) error {
	return b.store.UpdateOutbox(id, func(m *models.Message) {
		m.Status = models.StatusHandled
	})
}

// Escalate reformulates an agent question as a question to the human user
// and waits, bounded, for the human's answer. On timeout it returns the
// explicit placeholder so the PM can synthesize a degraded final answer.
func (b *Bus) Escalate(ctx context.Context, reformulated string, originalID string, timeout time.Duration) (Answer, error) {
	msg := models.Message{
		ID:        uuid.New().String(),
		From:      models.AddrPM,
		To:        models.AddrUser,
		Kind:      models.KindQuestion,
		Body:      reformulated,
		Context:   originalID,
		Priority:  models.PriorityHigh,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	}
	if err := b.store.AppendOutbox(msg); err != nil {
		return Answer{}, err
	}

	ans, err := b.awaitReply(ctx, msg.ID, timeout)
	if err != nil {
		return ans, err
	}
	if ans.TimedOut {
		ans.Text = EscalationPlaceholder
	}
	return ans, nil
}
