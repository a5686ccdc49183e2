package state

import (
	"path/filepath"
	"testing"
	"time"

	"overseer/pkg/models"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestProjectRoundTrip(t *testing.T) {
	db := openTestDB(t)

	p := &models.Project{
		ID:          "p1",
		Name:        "billing rework",
		Description: "split the invoicing service",
		Status:      models.ProjectActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
	if err := db.CreateProject(p); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	got, err := db.GetProject("p1")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got == nil || got.Name != p.Name || got.Description != p.Description {
		t.Errorf("got %+v, want %+v", got, p)
	}

	active, err := db.GetActiveProject()
	if err != nil {
		t.Fatalf("GetActiveProject: %v", err)
	}
	if active == nil || active.ID != "p1" {
		t.Errorf("active = %+v", active)
	}

	if err := db.SetProjectStatus("p1", models.ProjectCompleted); err != nil {
		t.Fatalf("SetProjectStatus: %v", err)
	}
	active, _ = db.GetActiveProject()
	if active != nil {
		t.Errorf("completed project still active: %+v", active)
	}
}

func TestGetProjectAbsent(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetProject("nope")
	if err != nil {
		t.Fatalf("GetProject: %v", err)
	}
	if got != nil {
		t.Errorf("got %+v, want nil", got)
	}
}

func TestTaskUpsertAndList(t *testing.T) {
	db := openTestDB(t)

	now := time.Now().UTC().Truncate(time.Second)
	task := &models.Task{
		ID:          "t1",
		Type:        models.TaskTypeImplement,
		Branch:      "task/t1",
		Description: "add rate limiter",
		DependsOn:   []string{"t0", "setup"},
		Status:      models.TaskStatusBlocked,
		CreatedAt:   now,
	}
	if err := db.UpsertTask("p1", task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	// Upsert again with a status change; must replace, not duplicate.
	task.Status = models.TaskStatusRunning
	task.AssignedAgent = "agent-1"
	if err := db.UpsertTask("p1", task); err != nil {
		t.Fatalf("second UpsertTask: %v", err)
	}

	got, err := db.GetTask("p1", "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != models.TaskStatusRunning || got.AssignedAgent != "agent-1" {
		t.Errorf("got %+v", got)
	}
	if len(got.DependsOn) != 2 || got.DependsOn[0] != "t0" {
		t.Errorf("depends_on = %v", got.DependsOn)
	}

	all, err := db.ListTasks("p1", nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("len = %d, want 1 after upsert", len(all))
	}

	running := models.TaskStatusRunning
	filtered, err := db.ListTasks("p1", &running)
	if err != nil {
		t.Fatalf("ListTasks filtered: %v", err)
	}
	if len(filtered) != 1 {
		t.Errorf("filtered len = %d", len(filtered))
	}
}

func TestTaskEmptyDependsOn(t *testing.T) {
	db := openTestDB(t)

	task := &models.Task{
		ID:        "t1",
		Type:      models.TaskTypeSetup,
		Branch:    "task/t1",
		DependsOn: []string{},
		Status:    models.TaskStatusReady,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.UpsertTask("p1", task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	got, err := db.GetTask("p1", "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.DependsOn == nil || len(got.DependsOn) != 0 {
		t.Errorf("depends_on = %#v, want empty non-nil slice", got.DependsOn)
	}
}

func TestActivityLog(t *testing.T) {
	db := openTestDB(t)

	events := []string{"task_dispatched", "task_completed", "task_approved"}
	for _, ev := range events {
		err := db.RecordActivity(ActivityEntry{
			ProjectID: "p1",
			TaskID:    "t1",
			AgentID:   "agent-1",
			Event:     ev,
		})
		if err != nil {
			t.Fatalf("RecordActivity(%s): %v", ev, err)
		}
	}

	entries, err := db.ListActivity("p1", 2)
	if err != nil {
		t.Fatalf("ListActivity: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("len = %d, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].Event != "task_approved" {
		t.Errorf("entries[0].Event = %s", entries[0].Event)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openTestDB(t)

	s := Snapshot{
		ProjectID: "p1",
		Statuses: map[string]models.TaskStatus{
			"t1": models.TaskStatusMerged,
			"t2": models.TaskStatusRunning,
		},
	}
	if err := db.SaveSnapshot(s); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	// Overwrite is a replace.
	s.Statuses["t2"] = models.TaskStatusApproved
	if err := db.SaveSnapshot(s); err != nil {
		t.Fatalf("second SaveSnapshot: %v", err)
	}

	got, err := db.LoadSnapshot("p1")
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got == nil {
		t.Fatal("snapshot missing")
	}
	if got.Statuses["t2"] != models.TaskStatusApproved {
		t.Errorf("t2 = %s, want approved", got.Statuses["t2"])
	}

	none, err := db.LoadSnapshot("p2")
	if err != nil {
		t.Fatalf("LoadSnapshot absent: %v", err)
	}
	if none != nil {
		t.Errorf("got %+v, want nil", none)
	}
}
