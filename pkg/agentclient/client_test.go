package agentclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"overseer/internal/bus"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

func newTestClient(t *testing.T) (*Client, *mailbox.Store) {
	t.Helper()
	dir := t.TempDir()
	c, err := New(dir, "agent-1")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.SetPollInterval(5 * time.Millisecond)

	store, err := mailbox.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	err = store.UpsertAgent(models.Agent{
		ID:       "agent-1",
		Kind:     models.AgentPersistent,
		Status:   models.AgentStatusStarting,
		LastSeen: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("UpsertAgent: %v", err)
	}
	return c, store
}

func TestAskPMTimesOutWithInstruction(t *testing.T) {
	c, store := newTestClient(t)

	answer, err := c.AskPM(context.Background(), "which port?", "", models.PriorityNormal, 25*time.Millisecond)
	if err != nil {
		t.Fatalf("AskPM: %v", err)
	}
	if answer != bus.NoResponse {
		t.Errorf("answer = %q, want the no-response instruction", answer)
	}

	// The question stays on record.
	questions := store.Outbox(func(m models.Message) bool { return m.Kind == models.KindQuestion })
	if len(questions) != 1 {
		t.Errorf("questions on record = %d", len(questions))
	}
}

func TestAskPMReceivesReply(t *testing.T) {
	c, store := newTestClient(t)
	b := bus.New(store)

	go func() {
		// PM side: wait for the question, then reply.
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			pending := b.PendingFor(models.AddrPM)
			if len(pending) > 0 {
				_ = b.Reply(pending[0].ID, models.AddrPM, "port 8080")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	answer, err := c.AskPM(context.Background(), "which port?", "", models.PriorityNormal, time.Second)
	if err != nil {
		t.Fatalf("AskPM: %v", err)
	}
	if answer != "port 8080" {
		t.Errorf("answer = %q", answer)
	}
}

func TestTaskCompleteLandsInOutbox(t *testing.T) {
	c, store := newTestClient(t)

	if err := c.TaskComplete("t1", "implemented the limiter", []string{"limiter.go"}); err != nil {
		t.Fatalf("TaskComplete: %v", err)
	}

	msgs := store.Outbox(func(m models.Message) bool { return m.Kind == models.KindTaskComplete })
	if len(msgs) != 1 {
		t.Fatalf("completions = %d", len(msgs))
	}
	if msgs[0].TaskID != "t1" || msgs[0].To != models.AddrPM {
		t.Errorf("message = %+v", msgs[0])
	}
}

func TestMessagesDeliversBroadcasts(t *testing.T) {
	c, store := newTestClient(t)

	for _, m := range []models.Message{
		{ID: "m1", From: models.AddrPM, To: "agent-1", Kind: models.KindAnswer, Body: "direct", Status: models.StatusPending, Timestamp: time.Now().UTC()},
		{ID: "m2", From: models.AddrPM, To: models.AddrAll, Kind: models.KindNotification, Body: "broadcast", Status: models.StatusPending, Timestamp: time.Now().UTC()},
		{ID: "m3", From: models.AddrPM, To: "agent-2", Kind: models.KindAnswer, Body: "not mine", Status: models.StatusPending, Timestamp: time.Now().UTC()},
	} {
		if err := store.AppendInbox(m); err != nil {
			t.Fatalf("AppendInbox: %v", err)
		}
	}

	msgs, err := c.Messages()
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want direct + broadcast", len(msgs))
	}

	// Delivered messages are not handed out twice.
	again, _ := c.Messages()
	if len(again) != 0 {
		t.Errorf("second fetch = %d messages", len(again))
	}
}

func TestAwaitAssignmentAcceptsAndActivates(t *testing.T) {
	c, store := newTestClient(t)

	err := store.AppendAssignment(models.Assignment{
		ID:          "as1",
		AgentID:     "agent-1",
		TaskID:      "t1",
		Branch:      "task/t1",
		Description: "do t1",
		AssignedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("AppendAssignment: %v", err)
	}

	a, err := c.AwaitAssignment(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("AwaitAssignment: %v", err)
	}
	if a.TaskID != "t1" {
		t.Errorf("assignment = %+v", a)
	}

	entry, err := store.GetAgent("agent-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if entry.Status != models.AgentStatusActive {
		t.Errorf("status = %s, want active", entry.Status)
	}

	// Accepted assignments are not handed out again.
	if _, err := c.AwaitAssignment(context.Background(), 20*time.Millisecond); !errors.Is(err, ErrNoAssignment) {
		t.Errorf("expected ErrNoAssignment, got %v", err)
	}
}

func TestAwaitAssignmentTimesOut(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.AwaitAssignment(context.Background(), 20*time.Millisecond)
	if !errors.Is(err, ErrNoAssignment) {
		t.Fatalf("expected ErrNoAssignment, got %v", err)
	}
}

func TestStandbyAndHeartbeat(t *testing.T) {
	c, store := newTestClient(t)

	if err := c.Standby(); err != nil {
		t.Fatalf("Standby: %v", err)
	}
	entry, _ := store.GetAgent("agent-1")
	if entry.Status != models.AgentStatusStandby {
		t.Errorf("status = %s, want standby", entry.Status)
	}

	before := entry.LastSeen
	time.Sleep(5 * time.Millisecond)
	if err := c.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	entry, _ = store.GetAgent("agent-1")
	if !entry.LastSeen.After(before) {
		t.Error("heartbeat did not advance last_seen")
	}
}
