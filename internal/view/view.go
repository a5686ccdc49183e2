// Package view assembles read-only projections of a run for the CLI: task
// and agent tables, pending escalations, and the single write path a human
// has into a run, answering an escalated question.
package view

import (
	"fmt"
	"sort"
	"time"

	"overseer/internal/bus"
	"overseer/internal/mailbox"
	"overseer/internal/state"
	"overseer/pkg/models"
)

// View reads run state from the mailbox and the state database.
type View struct {
	store *mailbox.Store
	bus   *bus.Bus
	db    *state.DB
}

// New creates a View. The database is optional; without it task history is
// unavailable but live agent and message state still works.
func New(store *mailbox.Store, db *state.DB) *View {
	return &View{store: store, bus: bus.New(store), db: db}
}

// TaskRow is one task in the status projection.
type TaskRow struct {
	ID            string
	Type          models.TaskType
	Status        models.TaskStatus
	AssignedAgent string
	DependsOn     []string
	Error         string
	ReviewNote    string
}

// Tasks returns the task table for a project, ordered by ID.
func (v *View) Tasks(projectID string) ([]TaskRow, error) {
	if v.db == nil {
		return nil, fmt.Errorf("view: no state database")
	}
	tasks, err := v.db.ListTasks(projectID, nil)
	if err != nil {
		return nil, err
	}

	rows := make([]TaskRow, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, TaskRow{
			ID:            t.ID,
			Type:          t.Type,
			Status:        t.Status,
			AssignedAgent: t.AssignedAgent,
			DependsOn:     t.DependsOn,
			Error:         t.Error,
			ReviewNote:    t.ReviewNote,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
	return rows, nil
}

// AgentRow is one agent in the pool projection.
type AgentRow struct {
	ID          string
	Kind        models.AgentKind
	Role        string
	Status      models.AgentStatus
	CurrentTask string
	PID         int
	LastSeen    time.Time
}

// Agents returns the live agent pool, ordered by start time.
func (v *View) Agents() []AgentRow {
	agents := v.store.Agents(nil)
	sort.Slice(agents, func(i, j int) bool { return agents[i].StartedAt.Before(agents[j].StartedAt) })

	rows := make([]AgentRow, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, AgentRow{
			ID:          a.ID,
			Kind:        a.Kind,
			Role:        a.Role,
			Status:      a.Status,
			CurrentTask: a.CurrentTask,
			PID:         a.PID,
			LastSeen:    a.LastSeen,
		})
	}
	return rows
}

// PendingEscalations returns unanswered questions addressed to the human,
// oldest first.
func (v *View) PendingEscalations() []models.Message {
	msgs := v.store.Outbox(func(m models.Message) bool {
		return m.To == models.AddrUser && m.Status == models.StatusPending
	})
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Timestamp.Before(msgs[j].Timestamp) })
	return msgs
}

// Respond answers an escalated question on the human's behalf. The reply is
// correlated to the question; the waiting PM picks it up on its next poll.
func (v *View) Respond(messageID, text string) error {
	if text == "" {
		return fmt.Errorf("view: empty response")
	}
	return v.bus.Reply(messageID, models.AddrUser, text)
}

// Activity returns the newest activity entries for a project.
func (v *View) Activity(projectID string, limit int) ([]state.ActivityEntry, error) {
	if v.db == nil {
		return nil, fmt.Errorf("view: no state database")
	}
	return v.db.ListActivity(projectID, limit)
}

// Summary aggregates task statuses for a one-line progress readout.
type Summary struct {
	Total    int
	Terminal int
	ByStatus map[models.TaskStatus]int
}

// Summarize computes the progress summary for a project.
func (v *View) Summarize(projectID string) (Summary, error) {
	rows, err := v.Tasks(projectID)
	if err != nil {
		return Summary{}, err
	}
	s := Summary{Total: len(rows), ByStatus: map[models.TaskStatus]int{}}
	for _, r := range rows {
		s.ByStatus[r.Status]++
		if r.Status.Terminal() {
			s.Terminal++
		}
	}
	return s, nil
}
