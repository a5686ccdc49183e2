package mailbox

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Marker file names under tasks/<id>/.
const (
	markerRunning     = "running"
	markerCompleted   = "completed"
	markerApproved    = "approved"
	markerStuck       = "stuck"
	markerHumanReview = "needs-human-review"
	counterConflict   = "conflict-retries"
	counterStuck      = "stuck-retries"
)

// Markers manages the per-task transient marker files that drive the
// scheduler's stateless readiness projection. A marker's presence is the
// fact; its content is advisory detail.
type Markers struct {
	dir string
}

// NewMarkers creates a marker set rooted at dir.
func NewMarkers(dir string) (*Markers, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &Markers{dir: dir}, nil
}

// Dir returns the marker root directory.
func (m *Markers) Dir() string {
	return m.dir
}

func (m *Markers) taskDir(taskID string) string {
	return filepath.Join(m.dir, taskID)
}

func (m *Markers) path(taskID, name string) string {
	return filepath.Join(m.taskDir(taskID), name)
}

// set writes a marker file atomically.
func (m *Markers) set(taskID, name, content string) error {
	dir := m.taskDir(taskID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, m.path(taskID, name))
}

// clear removes a marker file. Removing an absent marker is not an error.
func (m *Markers) clear(taskID, name string) error {
	err := os.Remove(m.path(taskID, name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (m *Markers) has(taskID, name string) bool {
	_, err := os.Stat(m.path(taskID, name))
	return err == nil
}

// RunningInfo records which agent holds a task and since when.
type RunningInfo struct {
	AgentID string    `json:"agent_id"`
	Since   time.Time `json:"since"`
}

// SetRunning places the single in-progress marker for a task. The marker's
// presence enforces the one-active-agent-per-task invariant.
func (m *Markers) SetRunning(taskID, agentID string) error {
	data, _ := json.Marshal(RunningInfo{AgentID: agentID, Since: time.Now().UTC()})
	return m.set(taskID, markerRunning, string(data))
}

// Running returns the in-progress marker for a task, if present.
func (m *Markers) Running(taskID string) (RunningInfo, bool) {
	data, err := os.ReadFile(m.path(taskID, markerRunning))
	if err != nil {
		return RunningInfo{}, false
	}
	var info RunningInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Corrupt marker still means "something claimed this task"; treat
		// the claim time as unknown-old so stuck detection can reclaim it.
		return RunningInfo{}, true
	}
	return info, true
}

// ClearRunning removes the in-progress marker.
func (m *Markers) ClearRunning(taskID string) error {
	return m.clear(taskID, markerRunning)
}

// SetCompleted records unreviewed agent completion with its summary.
func (m *Markers) SetCompleted(taskID, summary string) error {
	return m.set(taskID, markerCompleted, summary)
}

// Completed returns the completion summary and whether the marker exists.
func (m *Markers) Completed(taskID string) (string, bool) {
	data, err := os.ReadFile(m.path(taskID, markerCompleted))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// ClearCompleted removes the completion marker (used on rejection).
func (m *Markers) ClearCompleted(taskID string) error {
	return m.clear(taskID, markerCompleted)
}

// SetApproved records PM approval with its rationale.
func (m *Markers) SetApproved(taskID, rationale string) error {
	return m.set(taskID, markerApproved, rationale)
}

// Approved returns the approval rationale and whether the marker exists.
func (m *Markers) Approved(taskID string) (string, bool) {
	data, err := os.ReadFile(m.path(taskID, markerApproved))
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// ClearApproved removes the approval marker (set on successful merge).
func (m *Markers) ClearApproved(taskID string) error {
	return m.clear(taskID, markerApproved)
}

// SetStuck flags a task whose agent exceeded the stuck timeout.
func (m *Markers) SetStuck(taskID, reason string) error {
	return m.set(taskID, markerStuck, reason)
}

// Stuck reports whether the stuck marker exists.
func (m *Markers) Stuck(taskID string) bool {
	return m.has(taskID, markerStuck)
}

// ClearStuck removes the stuck marker.
func (m *Markers) ClearStuck(taskID string) error {
	return m.clear(taskID, markerStuck)
}

// SetNeedsHumanReview marks a task as terminally requiring manual
// intervention.
func (m *Markers) SetNeedsHumanReview(taskID, reason string) error {
	return m.set(taskID, markerHumanReview, reason)
}

// NeedsHumanReview reports whether the task is flagged for a human.
func (m *Markers) NeedsHumanReview(taskID string) bool {
	return m.has(taskID, markerHumanReview)
}

// ConflictRetries returns the per-task count of failed automated merge
// attempts. A missing or unreadable counter reads as zero.
func (m *Markers) ConflictRetries(taskID string) int {
	return m.readCounter(taskID, counterConflict)
}

// IncrementConflictRetries bumps the conflict counter and returns the new
// value.
func (m *Markers) IncrementConflictRetries(taskID string) (int, error) {
	n := m.readCounter(taskID, counterConflict) + 1
	return n, m.set(taskID, counterConflict, strconv.Itoa(n))
}

// ClearConflictRetries resets the conflict counter.
func (m *Markers) ClearConflictRetries(taskID string) error {
	return m.clear(taskID, counterConflict)
}

// StuckRetries returns the per-task count of stuck-reclaim cycles.
func (m *Markers) StuckRetries(taskID string) int {
	return m.readCounter(taskID, counterStuck)
}

// IncrementStuckRetries bumps the stuck counter and returns the new value.
func (m *Markers) IncrementStuckRetries(taskID string) (int, error) {
	n := m.readCounter(taskID, counterStuck) + 1
	return n, m.set(taskID, counterStuck, strconv.Itoa(n))
}

func (m *Markers) readCounter(taskID, name string) int {
	data, err := os.ReadFile(m.path(taskID, name))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
