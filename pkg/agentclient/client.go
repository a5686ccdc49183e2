// Package agentclient is the library agent processes use to participate in
// an overseer run: receiving assignments, asking the project manager
// questions, and reporting progress and completion. All communication goes
// through the shared mailbox directory.
package agentclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"overseer/internal/bus"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// ErrNoAssignment indicates no assignment arrived before the deadline.
var ErrNoAssignment = errors.New("agentclient: no assignment before deadline")

// Client is one agent's handle on the mailbox.
type Client struct {
	agentID string
	store   *mailbox.Store
	bus     *bus.Bus
	poll    time.Duration
}

// New creates a Client for the given agent identity and mailbox directory.
func New(mailDir, agentID string) (*Client, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agentclient: empty agent id")
	}
	store, err := mailbox.NewStore(mailDir)
	if err != nil {
		return nil, fmt.Errorf("open mailbox: %w", err)
	}
	return &Client{agentID: agentID, store: store, bus: bus.New(store), poll: time.Second}, nil
}

// FromEnv creates a Client from the environment the launcher sets for every
// agent process: OVERSEER_AGENT_ID and OVERSEER_MAIL_DIR.
func FromEnv() (*Client, error) {
	agentID := os.Getenv("OVERSEER_AGENT_ID")
	mailDir := os.Getenv("OVERSEER_MAIL_DIR")
	if agentID == "" || mailDir == "" {
		return nil, fmt.Errorf("agentclient: OVERSEER_AGENT_ID and OVERSEER_MAIL_DIR must be set")
	}
	return New(mailDir, agentID)
}

// AgentID returns the client's agent identity.
func (c *Client) AgentID() string {
	return c.agentID
}

// AskPM sends a question to the project manager and blocks, bounded by
// timeout, for the answer. On timeout the returned answer is an explicit
// no-response instruction rather than an error; the agent should proceed on
// its own judgment.
func (c *Client) AskPM(ctx context.Context, question, taskContext string, priority models.MessagePriority, timeout time.Duration) (string, error) {
	ans, err := c.bus.Ask(ctx, c.agentID, models.AddrPM, question, taskContext, priority, timeout)
	if err != nil && !ans.TimedOut {
		return "", err
	}
	return ans.Text, nil
}

// NotifyPM sends a fire-and-forget notification to the project manager.
func (c *Client) NotifyPM(body string, priority models.MessagePriority) error {
	_, err := c.bus.Notify(c.agentID, models.AddrPM, models.KindNotification, body, priority)
	return err
}

// SendStatus reports a progress update and refreshes the agent's liveness
// timestamp.
func (c *Client) SendStatus(body string) error {
	if _, err := c.bus.Notify(c.agentID, models.AddrPM, models.KindStatus, body, models.PriorityLow); err != nil {
		return err
	}
	return c.Heartbeat()
}

// TaskComplete reports the task finished. The summary becomes the task's
// completion record and the input to PM review.
func (c *Client) TaskComplete(taskID, summary string, filesChanged []string) error {
	msg := models.Message{
		ID:           uuid.New().String(),
		From:         c.agentID,
		To:           models.AddrPM,
		Kind:         models.KindTaskComplete,
		Body:         summary,
		TaskID:       taskID,
		FilesChanged: filesChanged,
		Priority:     models.PriorityHigh,
		Status:       models.StatusPending,
		Timestamp:    time.Now().UTC(),
	}
	return c.store.AppendOutbox(msg)
}

// Messages returns undelivered inbox messages addressed to this agent (or
// broadcast) and marks them delivered.
func (c *Client) Messages() ([]models.Message, error) {
	msgs := c.store.Inbox(func(m models.Message) bool {
		if m.To != c.agentID && m.To != models.AddrAll {
			return false
		}
		return m.Status == models.StatusPending || m.Status == models.StatusProcessing
	})
	for _, m := range msgs {
		_ = c.store.UpdateInbox(m.ID, func(msg *models.Message) {
			msg.Status = models.StatusDelivered
		})
	}
	return msgs, nil
}

// AwaitAssignment blocks, bounded by timeout, until the orchestrator binds a
// task to this agent, then accepts it. A persistent agent calls this between
// tasks; expiry of the bound is how the standby lifetime is enforced from
// the agent's side.
func (c *Client) AwaitAssignment(ctx context.Context, timeout time.Duration) (models.Assignment, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		a, err := c.store.PendingAssignment(c.agentID)
		if err == nil {
			if err := c.store.AcceptAssignment(a.ID, time.Now().UTC()); err != nil {
				return models.Assignment{}, err
			}
			_ = c.store.UpdateAgent(c.agentID, func(ag *models.Agent) {
				ag.Status = models.AgentStatusActive
				ag.LastSeen = time.Now().UTC()
			})
			return a, nil
		}
		if !errors.Is(err, mailbox.ErrNotFound) {
			return models.Assignment{}, err
		}

		if time.Now().After(deadline) {
			return models.Assignment{}, ErrNoAssignment
		}
		select {
		case <-ctx.Done():
			return models.Assignment{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Standby flags the agent as idle and ready for its next assignment.
func (c *Client) Standby() error {
	return c.store.UpdateAgent(c.agentID, func(a *models.Agent) {
		a.Status = models.AgentStatusStandby
		a.CurrentTask = ""
		a.LastSeen = time.Now().UTC()
	})
}

// Heartbeat refreshes the agent's liveness timestamp.
func (c *Client) Heartbeat() error {
	return c.store.UpdateAgent(c.agentID, func(a *models.Agent) {
		a.LastSeen = time.Now().UTC()
	})
}

// SetPollInterval adjusts how often blocking calls poll the mailbox.
// Primarily for tests.
func (c *Client) SetPollInterval(d time.Duration) {
	if d > 0 {
		c.poll = d
		c.bus.SetPollInterval(d)
	}
}
