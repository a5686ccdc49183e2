package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"overseer/pkg/models"
)

// Project CRUD operations

// CreateProject creates a new project record.
func (db *DB) CreateProject(p *models.Project) error {
	_, err := db.Exec(`
		INSERT INTO projects (id, name, description, status, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Description, p.Status, formatTime(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID. Returns nil when absent.
func (db *DB) GetProject(id string) (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, name, description, status, created_at
		FROM projects WHERE id = ?
	`, id)

	var p models.Project
	var description sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &description, &p.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}

	p.Description = description.String
	p.CreatedAt, _ = parseTime(createdAt)
	return &p, nil
}

// SetProjectStatus updates a project's status.
func (db *DB) SetProjectStatus(id, status string) error {
	_, err := db.Exec("UPDATE projects SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("set project status: %w", err)
	}
	return nil
}

// GetActiveProject returns the most recent active project, if any.
func (db *DB) GetActiveProject() (*models.Project, error) {
	row := db.QueryRow(`
		SELECT id, name, description, status, created_at
		FROM projects WHERE status = ? ORDER BY created_at DESC LIMIT 1
	`, models.ProjectActive)

	var p models.Project
	var description sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &description, &p.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active project: %w", err)
	}

	p.Description = description.String
	p.CreatedAt, _ = parseTime(createdAt)
	return &p, nil
}

// Task CRUD operations

// UpsertTask inserts or replaces a task record for a project.
func (db *DB) UpsertTask(projectID string, t *models.Task) error {
	var completedAt *string
	if t.CompletedAt != nil {
		s := formatTime(*t.CompletedAt)
		completedAt = &s
	}

	_, err := db.Exec(`
		INSERT INTO tasks (id, project_id, type, branch, agent_type, description, depends_on,
			status, assigned_agent, created_at, completed_at, error, summary, review_note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, id) DO UPDATE SET
			type = excluded.type,
			branch = excluded.branch,
			agent_type = excluded.agent_type,
			description = excluded.description,
			depends_on = excluded.depends_on,
			status = excluded.status,
			assigned_agent = excluded.assigned_agent,
			completed_at = excluded.completed_at,
			error = excluded.error,
			summary = excluded.summary,
			review_note = excluded.review_note
	`, t.ID, projectID, string(t.Type), t.Branch, t.AgentType, t.Description,
		strings.Join(t.DependsOn, ","), string(t.Status), t.AssignedAgent,
		formatTime(t.CreatedAt), completedAt, t.Error, t.Summary, t.ReviewNote)
	if err != nil {
		return fmt.Errorf("upsert task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask retrieves a task by project and ID. Returns nil when absent.
func (db *DB) GetTask(projectID, id string) (*models.Task, error) {
	row := db.QueryRow(`
		SELECT id, type, branch, agent_type, description, depends_on,
			status, assigned_agent, created_at, completed_at, error, summary, review_note
		FROM tasks WHERE project_id = ? AND id = ?
	`, projectID, id)

	t, err := scanTask(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks lists a project's tasks, optionally filtered by status.
func (db *DB) ListTasks(projectID string, status *models.TaskStatus) ([]models.Task, error) {
	var rows *sql.Rows
	var err error

	if status != nil {
		rows, err = db.Query(`
			SELECT id, type, branch, agent_type, description, depends_on,
				status, assigned_agent, created_at, completed_at, error, summary, review_note
			FROM tasks WHERE project_id = ? AND status = ? ORDER BY created_at
		`, projectID, string(*status))
	} else {
		rows, err = db.Query(`
			SELECT id, type, branch, agent_type, description, depends_on,
				status, assigned_agent, created_at, completed_at, error, summary, review_note
			FROM tasks WHERE project_id = ? ORDER BY created_at
		`, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []models.Task
	for rows.Next() {
		t, err := scanTask(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func scanTask(scan func(dest ...any) error) (*models.Task, error) {
	var t models.Task
	var agentType, dependsOn, assignedAgent sql.NullString
	var errText, summary, reviewNote sql.NullString
	var createdAt string
	var completedAt sql.NullString

	err := scan(&t.ID, (*string)(&t.Type), &t.Branch, &agentType, &t.Description, &dependsOn,
		(*string)(&t.Status), &assignedAgent, &createdAt, &completedAt, &errText, &summary, &reviewNote)
	if err != nil {
		return nil, err
	}

	t.AgentType = agentType.String
	t.AssignedAgent = assignedAgent.String
	t.Error = errText.String
	t.Summary = summary.String
	t.ReviewNote = reviewNote.String
	t.CreatedAt, _ = parseTime(createdAt)
	t.CompletedAt = parseNullableTime(completedAt)

	t.DependsOn = []string{}
	if dependsOn.String != "" {
		t.DependsOn = strings.Split(dependsOn.String, ",")
	}
	return &t, nil
}

// Activity log

// ActivityEntry is one row of the activity log.
type ActivityEntry struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id"`
	TaskID    string    `json:"task_id,omitempty"`
	AgentID   string    `json:"agent_id,omitempty"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// RecordActivity appends an entry to the activity log.
func (db *DB) RecordActivity(e ActivityEntry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO activity (project_id, task_id, agent_id, event, detail, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ProjectID, e.TaskID, e.AgentID, e.Event, e.Detail, formatTime(at))
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// ListActivity returns the newest entries for a project, most recent first.
func (db *DB) ListActivity(projectID string, limit int) ([]ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, project_id, task_id, agent_id, event, detail, at
		FROM activity WHERE project_id = ? ORDER BY id DESC LIMIT ?
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	var entries []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		var taskID, agentID, detail sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.ProjectID, &taskID, &agentID, &e.Event, &detail, &at); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		e.TaskID = taskID.String
		e.AgentID = agentID.String
		e.Detail = detail.String
		e.At, _ = parseTime(at)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Snapshots

// Snapshot is the persisted scheduler view for resuming a project.
type Snapshot struct {
	ProjectID string                       `json:"project_id"`
	Statuses  map[string]models.TaskStatus `json:"statuses"`
	TakenAt   time.Time                    `json:"taken_at"`
}

// SaveSnapshot replaces a project's scheduler snapshot.
func (db *DB) SaveSnapshot(s Snapshot) error {
	if s.TakenAt.IsZero() {
		s.TakenAt = time.Now()
	}
	payload, err := json.Marshal(s.Statuses)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO snapshots (project_id, payload, taken_at)
		VALUES (?, ?, ?)
		ON CONFLICT (project_id) DO UPDATE SET
			payload = excluded.payload,
			taken_at = excluded.taken_at
	`, s.ProjectID, string(payload), formatTime(s.TakenAt))
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot returns a project's scheduler snapshot, or nil when none
// exists.
func (db *DB) LoadSnapshot(projectID string) (*Snapshot, error) {
	row := db.QueryRow(`
		SELECT payload, taken_at FROM snapshots WHERE project_id = ?
	`, projectID)

	var payload, takenAt string
	err := row.Scan(&payload, &takenAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	s := Snapshot{ProjectID: projectID, Statuses: map[string]models.TaskStatus{}}
	if err := json.Unmarshal([]byte(payload), &s.Statuses); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	s.TakenAt, _ = parseTime(takenAt)
	return &s, nil
}
