package pm

import (
	"context"
	"time"

	"overseer/internal/bus"
	"overseer/pkg/models"
)

// Handler drains messages addressed to the PM and dispatches them.
// Task-completion messages are not consumed here; the orchestrator's
// completion pass owns those.
type Handler struct {
	bus               *bus.Bus
	reviewer          *Reviewer
	escalationTimeout time.Duration
	debugLog          func(format string, args ...interface{})
}

// NewHandler creates a Handler.
func NewHandler(b *bus.Bus, reviewer *Reviewer, escalationTimeout time.Duration) *Handler {
	return &Handler{
		bus:               b,
		reviewer:          reviewer,
		escalationTimeout: escalationTimeout,
		debugLog:          func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (h *Handler) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		h.debugLog = fn
	}
}

// HandlePending processes every pending message addressed to the PM except
// task completions. Returns the number of messages settled.
func (h *Handler) HandlePending(ctx context.Context) int {
	handled := 0
	for _, msg := range h.bus.PendingFor(models.AddrPM) {
		if msg.Kind == models.KindTaskComplete {
			continue
		}
		if err := h.handle(ctx, msg); err != nil {
			h.debugLog("[pm] handle message %s from %s: %v", msg.ID, msg.From, err)
			continue
		}
		handled++
	}
	return handled
}

func (h *Handler) handle(ctx context.Context, msg models.Message) error {
	if err := h.bus.MarkProcessing(msg.ID); err != nil {
		return err
	}

	switch msg.Kind {
	case models.KindQuestion:
		return h.handleQuestion(ctx, msg)
	default:
		// Notifications and status reports carry no reply obligation.
		h.debugLog("[pm] %s from %s: %s", msg.Kind, msg.From, msg.Body)
		return h.bus.MarkHandled(msg.ID)
	}
}

// handleQuestion answers an agent question, escalating to the human when the
// question is blocking or the model defers. Every path ends in a reply so the
// asking agent's wait converges.
func (h *Handler) handleQuestion(ctx context.Context, msg models.Message) error {
	if msg.Priority == models.PriorityBlocking {
		return h.escalate(ctx, msg)
	}

	answer, escalate, err := h.reviewer.Answer(ctx, msg.Body, msg.Context)
	if err != nil {
		h.debugLog("[pm] answering %s failed: %v", msg.ID, err)
		return h.escalate(ctx, msg)
	}
	if escalate {
		return h.escalate(ctx, msg)
	}
	return h.bus.Reply(msg.ID, models.AddrPM, answer)
}

// escalate hands a question to the human: the PM reformulates it for someone
// without the agent's context, waits (bounded) for the answer, and
// synthesizes the final guidance from it. A backend failure on either side
// degrades to the verbatim text rather than blocking the escalation.
func (h *Handler) escalate(ctx context.Context, msg models.Message) error {
	h.debugLog("[pm] escalating question %s from %s", msg.ID, msg.From)

	question := msg.Body
	if reformulated, err := h.reviewer.Reformulate(ctx, msg.Body, msg.Context); err != nil {
		h.debugLog("[pm] reformulate %s: %v", msg.ID, err)
	} else if reformulated != "" {
		question = reformulated
	}

	answer, err := h.bus.Escalate(ctx, question, msg.ID, h.escalationTimeout)
	if err != nil {
		return err
	}

	final := answer.Text
	if !answer.TimedOut {
		if synthesized, err := h.reviewer.Synthesize(ctx, msg.Body, answer.Text); err != nil {
			h.debugLog("[pm] synthesize %s: %v", msg.ID, err)
		} else if synthesized != "" {
			final = synthesized
		}
	}
	return h.bus.Reply(msg.ID, models.AddrPM, final)
}
