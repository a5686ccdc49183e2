package pm

import (
	"context"
	"strings"
	"testing"
	"time"

	"overseer/internal/bus"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

func newTestHandler(t *testing.T, completer Completer, escalation time.Duration) (*Handler, *bus.Bus, *mailbox.Store) {
	t.Helper()
	store, err := mailbox.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	b := bus.New(store)
	b.SetPollInterval(5 * time.Millisecond)
	h := NewHandler(b, NewReviewer(completer), escalation)
	return h, b, store
}

func pendingQuestion(t *testing.T, store *mailbox.Store, id, body string, priority models.MessagePriority) {
	t.Helper()
	err := store.AppendOutbox(models.Message{
		ID:        id,
		From:      "agent-1",
		To:        models.AddrPM,
		Kind:      models.KindQuestion,
		Body:      body,
		Priority:  priority,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendOutbox: %v", err)
	}
}

func TestHandlePendingAnswersQuestion(t *testing.T) {
	c := &cannedCompleter{responses: []string{"Use v2 of the schema."}}
	h, _, store := newTestHandler(t, c, time.Second)

	pendingQuestion(t, store, "q1", "which schema version?", models.PriorityNormal)

	if n := h.HandlePending(context.Background()); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}

	replies := store.Inbox(func(m models.Message) bool { return m.ReplyTo == "q1" })
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].Body != "Use v2 of the schema." {
		t.Errorf("reply body = %q", replies[0].Body)
	}

	outbox := store.Outbox(func(m models.Message) bool { return m.ID == "q1" })
	if outbox[0].Status != models.StatusResponded {
		t.Errorf("question status = %s, want responded", outbox[0].Status)
	}
}

func TestHandlePendingEscalatesBlocking(t *testing.T) {
	// A blocking question skips the answer attempt and goes straight to the
	// human, reformulated for someone without the agent's context.
	c := &cannedCompleter{responses: []string{"May the agent delete production data?"}}
	h, _, store := newTestHandler(t, c, 20*time.Millisecond)

	pendingQuestion(t, store, "q1", "may I delete prod data?", models.PriorityBlocking)

	if n := h.HandlePending(context.Background()); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}
	// One completer call: the reformulation. No answer attempt, and no
	// synthesis after a timeout.
	if len(c.prompts) != 1 {
		t.Errorf("completer calls = %d, want 1 (reformulation only): %q", len(c.prompts), c.prompts)
	}

	// No human answered within the bound, so the agent gets the placeholder.
	replies := store.Inbox(func(m models.Message) bool { return m.ReplyTo == "q1" })
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].Body != bus.EscalationPlaceholder {
		t.Errorf("reply = %q, want escalation placeholder", replies[0].Body)
	}

	// The escalation on record carries the reformulated question.
	toUser := store.Outbox(func(m models.Message) bool { return m.To == models.AddrUser })
	if len(toUser) != 1 {
		t.Fatalf("expected 1 escalation message to user, got %d", len(toUser))
	}
	if toUser[0].Body != "May the agent delete production data?" {
		t.Errorf("escalation body = %q, want the reformulated question", toUser[0].Body)
	}
}

func TestHandlePendingSynthesizesHumanAnswer(t *testing.T) {
	c := &cannedCompleter{responses: []string{
		"Should the schema migration drop the legacy column?",
		"Keep the legacy column; add the new one alongside it.",
	}}
	h, b, store := newTestHandler(t, c, time.Second)

	pendingQuestion(t, store, "q1", "drop legacy column?", models.PriorityBlocking)

	// The human answers the escalated question once it appears.
	go func() {
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			esc := store.Outbox(func(m models.Message) bool {
				return m.To == models.AddrUser && m.Status == models.StatusPending
			})
			if len(esc) > 0 {
				_ = b.Reply(esc[0].ID, models.AddrUser, "keep it for now")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	if n := h.HandlePending(context.Background()); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}

	// The agent receives the synthesized guidance, not the raw human text.
	replies := store.Inbox(func(m models.Message) bool { return m.ReplyTo == "q1" })
	if len(replies) != 1 {
		t.Fatalf("expected 1 reply, got %d", len(replies))
	}
	if replies[0].Body != "Keep the legacy column; add the new one alongside it." {
		t.Errorf("reply = %q, want the synthesized answer", replies[0].Body)
	}

	// Synthesis saw both the original question and the human's words.
	if len(c.prompts) != 2 {
		t.Fatalf("completer calls = %d, want 2: %q", len(c.prompts), c.prompts)
	}
	if !strings.Contains(c.prompts[1], "drop legacy column?") || !strings.Contains(c.prompts[1], "keep it for now") {
		t.Errorf("synthesis prompt missing question or human answer: %q", c.prompts[1])
	}
}

func TestHandlePendingEscalatesWhenModelDefers(t *testing.T) {
	c := &cannedCompleter{responses: []string{"ESCALATE"}}
	h, _, store := newTestHandler(t, c, 20*time.Millisecond)

	pendingQuestion(t, store, "q1", "what is the billing account id?", models.PriorityNormal)

	h.HandlePending(context.Background())

	replies := store.Inbox(func(m models.Message) bool { return m.ReplyTo == "q1" })
	if len(replies) != 1 || replies[0].Body != bus.EscalationPlaceholder {
		t.Errorf("replies = %+v, want escalation placeholder", replies)
	}
}

func TestHandlePendingSkipsTaskCompletions(t *testing.T) {
	c := &cannedCompleter{}
	h, _, store := newTestHandler(t, c, time.Second)

	err := store.AppendOutbox(models.Message{
		ID:        "done1",
		From:      "agent-1",
		To:        models.AddrPM,
		Kind:      models.KindTaskComplete,
		Body:      "finished t1",
		TaskID:    "t1",
		Priority:  models.PriorityNormal,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendOutbox: %v", err)
	}

	if n := h.HandlePending(context.Background()); n != 0 {
		t.Fatalf("handled = %d, want 0", n)
	}

	// Still pending for the orchestrator's completion pass.
	outbox := store.Outbox(func(m models.Message) bool { return m.ID == "done1" })
	if outbox[0].Status != models.StatusPending {
		t.Errorf("status = %s, want pending", outbox[0].Status)
	}
}

func TestHandlePendingSettlesNotifications(t *testing.T) {
	c := &cannedCompleter{}
	h, _, store := newTestHandler(t, c, time.Second)

	err := store.AppendOutbox(models.Message{
		ID:        "n1",
		From:      "agent-1",
		To:        models.AddrPM,
		Kind:      models.KindStatus,
		Body:      "50% through the refactor",
		Priority:  models.PriorityLow,
		Status:    models.StatusPending,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendOutbox: %v", err)
	}

	if n := h.HandlePending(context.Background()); n != 1 {
		t.Fatalf("handled = %d, want 1", n)
	}
	outbox := store.Outbox(func(m models.Message) bool { return m.ID == "n1" })
	if outbox[0].Status != models.StatusHandled {
		t.Errorf("status = %s, want handled", outbox[0].Status)
	}
}
