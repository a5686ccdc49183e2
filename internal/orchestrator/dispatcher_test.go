package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"overseer/internal/agent"
	"overseer/internal/config"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

type noopCloner struct{}

func (noopCloner) Clone(dst, branch string) error { return os.MkdirAll(dst, 0755) }

func newTestDispatcher(t *testing.T, maxParallel int) (*Dispatcher, *agent.Manager, *mailbox.Store, *mailbox.Markers) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{}
	cfg.Orch.DataDir = dir
	cfg.Orch.MaxParallelAgents = maxParallel
	cfg.Git.RepoPath = filepath.Join(dir, "repo")
	cfg.Git.MainBranch = "main"
	cfg.Agents.Command = "claude"
	cfg.Timeouts.Stuck = 30 * time.Minute
	cfg.Timeouts.Standby = 10 * time.Minute

	store, err := mailbox.NewStore(cfg.MailDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	markers, err := mailbox.NewMarkers(cfg.TasksDir())
	if err != nil {
		t.Fatalf("NewMarkers: %v", err)
	}

	mgr := agent.NewManager(cfg, store, markers, noopCloner{}, agent.NewStubLauncher())
	d := NewDispatcher(cfg, mgr, store, markers, nil)
	return d, mgr, store, markers
}

func TestDispatchSpawnsEphemeralAgent(t *testing.T) {
	d, _, store, markers := newTestDispatcher(t, 4)

	tk := task("t1", models.TaskStatusReady)
	agentID, err := d.Dispatch(context.Background(), tk)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if tk.Status != models.TaskStatusRunning || tk.AssignedAgent != agentID {
		t.Errorf("task after dispatch: %+v", tk)
	}

	info, running := markers.Running("t1")
	if !running || info.AgentID != agentID {
		t.Errorf("running marker = %+v, %v", info, running)
	}

	entry, err := store.GetAgent(agentID)
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if entry.Kind != models.AgentEphemeral {
		t.Errorf("kind = %s, want ephemeral", entry.Kind)
	}
}

func TestDispatchPrefersStandbyAgent(t *testing.T) {
	d, mgr, store, _ := newTestDispatcher(t, 4)

	id, err := mgr.Spawn(context.Background(), agent.SpawnSpec{
		Kind:         models.AgentPersistent,
		Capabilities: []string{"golang", "backend"},
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_ = store.UpdateAgent(id, func(a *models.Agent) {
		a.Status = models.AgentStatusStandby
	})

	tk := task("t1", models.TaskStatusReady)
	tk.AgentType = "backend"
	agentID, err := d.Dispatch(context.Background(), tk)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if agentID != id {
		t.Errorf("dispatched to %s, want standby agent %s", agentID, id)
	}

	entry, _ := store.GetAgent(id)
	if entry.Status != models.AgentStatusAssigned || entry.CurrentTask != "t1" {
		t.Errorf("standby agent after dispatch: %+v", entry)
	}
	// An assignment record exists for the agent to pick up.
	if _, err := store.PendingAssignment(id); err != nil {
		t.Errorf("PendingAssignment: %v", err)
	}
}

func TestDispatchEnforcesCapacity(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t, 2)

	for i, id := range []string{"t1", "t2"} {
		if _, err := d.Dispatch(context.Background(), task(id, models.TaskStatusReady)); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	_, err := d.Dispatch(context.Background(), task("t3", models.TaskStatusReady))
	if !errors.Is(err, ErrNoCapacity) {
		t.Fatalf("expected ErrNoCapacity, got %v", err)
	}
}

func TestStandbyReuseBypassesCapacity(t *testing.T) {
	// A standby agent occupies a slot already; reusing it must work even
	// when the cap is reached.
	d, mgr, store, _ := newTestDispatcher(t, 1)

	id, err := mgr.Spawn(context.Background(), agent.SpawnSpec{Kind: models.AgentPersistent})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	_ = store.UpdateAgent(id, func(a *models.Agent) {
		a.Status = models.AgentStatusStandby
	})

	agentID, err := d.Dispatch(context.Background(), task("t1", models.TaskStatusReady))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if agentID != id {
		t.Errorf("dispatched to %s, want %s", agentID, id)
	}
}

func TestDispatchConflictResolutionBriefing(t *testing.T) {
	d, mgr, store, markers := newTestDispatcher(t, 4)

	tk := models.Task{ID: "t1", Branch: "task/t1", Description: "add rate limiter"}
	err := d.Resolve(context.Background(), tk, []string{"limiter.go"}, 1)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if mgr.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", mgr.ActiveCount())
	}
	info, running := markers.Running("t1")
	if !running {
		t.Fatal("expected running marker after resolution dispatch")
	}
	entry, _ := store.GetAgent(info.AgentID)
	if entry.Role != "conflict-resolver" {
		t.Errorf("role = %q", entry.Role)
	}
}

func TestTaskBriefingContent(t *testing.T) {
	tk := task("t1", models.TaskStatusReady)
	tk.Description = "wire the retry queue"
	b := taskBriefing(tk)

	// The briefing must spell out the whole contract: commit to the branch,
	// the orchestrator fetches it, report through the mailbox.
	for _, want := range []string{"t1", "task/t1", "wire the retry queue", "Commit", "fetches", "mailbox"} {
		if !strings.Contains(b, want) {
			t.Errorf("briefing missing %q:\n%s", want, b)
		}
	}
}
