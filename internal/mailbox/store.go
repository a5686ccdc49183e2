// Package mailbox provides the durable, file-backed store that is the sole
// shared state between the orchestrator, the PM, and agent processes.
// Every document is a whole JSON file updated via write-temp-then-rename so
// readers never observe a half-written document. There is no cross-process
// locking beyond that atomicity; each file has one logical owner-writer.
package mailbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"overseer/pkg/models"
)

// Document file names under the mail directory.
const (
	outboxFile      = "outbox.json"
	inboxFile       = "inbox.json"
	agentsFile      = "agents.json"
	assignmentsFile = "assignments.json"
)

// ErrNotFound indicates the requested entry does not exist.
var ErrNotFound = errors.New("mailbox: entry not found")

// Store reads and writes the mailbox documents under a single directory.
// In-process access is serialized; cross-process safety relies on the
// single-writer-per-file discipline and atomic renames.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at dir, creating the directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create mailbox dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the mailbox directory.
func (s *Store) Dir() string {
	return s.dir
}

// readDoc loads a JSON document into v. A missing or malformed file is
// treated as empty: store reads must be total so a partial write or
// corruption never crashes the orchestrator loop.
func (s *Store) readDoc(name string, v interface{}) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		return
	}
}

// writeDoc atomically replaces a JSON document via temp file + rename.
func (s *Store) writeDoc(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp for %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp for %s: %w", name, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// --- Outbox (messages toward the PM / user) ---

// AppendOutbox appends a message to the outbox.
func (s *Store) AppendOutbox(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	s.readDoc(outboxFile, &msgs)
	msgs = append(msgs, msg)
	return s.writeDoc(outboxFile, msgs)
}

// Outbox returns all outbox messages matching the filter. A nil filter
// returns everything.
func (s *Store) Outbox(filter func(models.Message) bool) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	s.readDoc(outboxFile, &msgs)
	return filterMessages(msgs, filter)
}

// UpdateOutbox applies fn to the outbox message with the given ID.
// The status transition inside fn must respect the monotonic lifecycle;
// UpdateOutbox rejects updates that move a status backwards or out of a
// terminal state.
func (s *Store) UpdateOutbox(id string, fn func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMessage(outboxFile, id, fn)
}

// --- Inbox (replies and messages toward agents) ---

// AppendInbox appends a message to the inbox.
func (s *Store) AppendInbox(msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	s.readDoc(inboxFile, &msgs)
	msgs = append(msgs, msg)
	return s.writeDoc(inboxFile, msgs)
}

// Inbox returns all inbox messages matching the filter.
func (s *Store) Inbox(filter func(models.Message) bool) []models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []models.Message
	s.readDoc(inboxFile, &msgs)
	return filterMessages(msgs, filter)
}

// UpdateInbox applies fn to the inbox message with the given ID.
func (s *Store) UpdateInbox(id string, fn func(*models.Message)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMessage(inboxFile, id, fn)
}

// updateMessage is the shared read-modify-write for message documents.
// Caller must hold s.mu.
func (s *Store) updateMessage(file, id string, fn func(*models.Message)) error {
	var msgs []models.Message
	s.readDoc(file, &msgs)

	for i := range msgs {
		if msgs[i].ID != id {
			continue
		}
		before := msgs[i].Status
		fn(&msgs[i])
		if msgs[i].Status != before && !before.CanTransition(msgs[i].Status) {
			return fmt.Errorf("mailbox: illegal status transition %s -> %s on %s", before, msgs[i].Status, id)
		}
		return s.writeDoc(file, msgs)
	}
	return ErrNotFound
}

// --- Agent pool ---

// UpsertAgent inserts or replaces the pool entry for an agent.
func (s *Store) UpsertAgent(agent models.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agents []models.Agent
	s.readDoc(agentsFile, &agents)
	for i := range agents {
		if agents[i].ID == agent.ID {
			agents[i] = agent
			return s.writeDoc(agentsFile, agents)
		}
	}
	agents = append(agents, agent)
	return s.writeDoc(agentsFile, agents)
}

// GetAgent returns the pool entry for an agent.
func (s *Store) GetAgent(id string) (models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agents []models.Agent
	s.readDoc(agentsFile, &agents)
	for _, a := range agents {
		if a.ID == id {
			return a, nil
		}
	}
	return models.Agent{}, ErrNotFound
}

// Agents returns all pool entries matching the filter.
func (s *Store) Agents(filter func(models.Agent) bool) []models.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agents []models.Agent
	s.readDoc(agentsFile, &agents)
	if filter == nil {
		return agents
	}
	var out []models.Agent
	for _, a := range agents {
		if filter(a) {
			out = append(out, a)
		}
	}
	return out
}

// UpdateAgent applies fn to the pool entry with the given ID.
func (s *Store) UpdateAgent(id string, fn func(*models.Agent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var agents []models.Agent
	s.readDoc(agentsFile, &agents)
	for i := range agents {
		if agents[i].ID == id {
			fn(&agents[i])
			return s.writeDoc(agentsFile, agents)
		}
	}
	return ErrNotFound
}

// --- Assignments ---

// AppendAssignment appends an assignment. Assignments are never deleted,
// only accepted, to preserve auditability.
func (s *Store) AppendAssignment(a models.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigns []models.Assignment
	s.readDoc(assignmentsFile, &assigns)
	assigns = append(assigns, a)
	return s.writeDoc(assignmentsFile, assigns)
}

// PendingAssignment returns the oldest unaccepted assignment for the agent.
func (s *Store) PendingAssignment(agentID string) (models.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigns []models.Assignment
	s.readDoc(assignmentsFile, &assigns)
	for _, a := range assigns {
		if a.AgentID == agentID && a.AcceptedAt == nil {
			return a, nil
		}
	}
	return models.Assignment{}, ErrNotFound
}

// AcceptAssignment records that the agent picked up the assignment.
func (s *Store) AcceptAssignment(id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigns []models.Assignment
	s.readDoc(assignmentsFile, &assigns)
	for i := range assigns {
		if assigns[i].ID == id {
			t := at
			assigns[i].AcceptedAt = &t
			return s.writeDoc(assignmentsFile, assigns)
		}
	}
	return ErrNotFound
}

// Assignments returns all assignments matching the filter.
func (s *Store) Assignments(filter func(models.Assignment) bool) []models.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assigns []models.Assignment
	s.readDoc(assignmentsFile, &assigns)
	if filter == nil {
		return assigns
	}
	var out []models.Assignment
	for _, a := range assigns {
		if filter(a) {
			out = append(out, a)
		}
	}
	return out
}

func filterMessages(msgs []models.Message, filter func(models.Message) bool) []models.Message {
	if filter == nil {
		return msgs
	}
	var out []models.Message
	for _, m := range msgs {
		if filter(m) {
			out = append(out, m)
		}
	}
	return out
}
