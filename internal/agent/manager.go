package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"overseer/internal/config"
	"overseer/internal/git"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// ErrNotAssignable indicates an assignment attempt against an agent that is
// neither standby nor starting.
var ErrNotAssignable = fmt.Errorf("agent: not in an assignable state")

// Cloner creates isolated agent workspaces. Satisfied by git.Runner.
type Cloner interface {
	Clone(dst, branch string) error
}

// Manager owns the authoritative process table for agent workers and the
// pool document that mirrors it for other processes.
type Manager struct {
	cfg      *config.Config
	store    *mailbox.Store
	markers  *mailbox.Markers
	cloner   Cloner
	launcher Launcher
	debugLog func(format string, args ...interface{})

	mu    sync.Mutex
	procs map[string]Handle
	wg    sync.WaitGroup
}

// NewManager creates a Manager. A nil launcher defaults to real processes;
// a nil cloner defaults to a git runner on the configured repository.
func NewManager(cfg *config.Config, store *mailbox.Store, markers *mailbox.Markers, cloner Cloner, launcher Launcher) *Manager {
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if cloner == nil {
		cloner = git.NewRunner(cfg.Git.RepoPath)
	}
	return &Manager{
		cfg:      cfg,
		store:    store,
		markers:  markers,
		cloner:   cloner,
		launcher: launcher,
		debugLog: func(format string, args ...interface{}) {},
		procs:    make(map[string]Handle),
	}
}

// SetDebugLog sets the debug logging function.
func (m *Manager) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		m.debugLog = fn
	}
}

// SpawnSpec describes a new agent.
type SpawnSpec struct {
	// Role is the role briefing the agent is launched with.
	Role string
	// Kind is ephemeral or persistent.
	Kind models.AgentKind
	// Capabilities are advertised in the pool entry.
	Capabilities []string
	// Branch is the branch the workspace is checked out at.
	Branch string
	// Briefing is the task or role briefing text written into the workspace.
	Briefing string
}

// Spawn creates an isolated workspace clone, launches the backend process,
// and registers the agent in the pool as starting. Returns the agent ID.
func (m *Manager) Spawn(ctx context.Context, spec SpawnSpec) (string, error) {
	agentID := "agent-" + uuid.New().String()[:8]

	workspace := filepath.Join(m.cfg.WorkspacesDir(), agentID)
	if err := os.MkdirAll(filepath.Dir(workspace), 0755); err != nil {
		return "", fmt.Errorf("create workspaces dir: %w", err)
	}
	branch := spec.Branch
	if branch == "" {
		branch = m.cfg.Git.MainBranch
	}
	if err := m.cloner.Clone(workspace, branch); err != nil {
		return "", fmt.Errorf("clone workspace for %s: %w", agentID, err)
	}

	briefingPath := filepath.Join(workspace, ".overseer-briefing.md")
	if spec.Briefing != "" {
		if err := os.WriteFile(briefingPath, []byte(spec.Briefing), 0644); err != nil {
			return "", fmt.Errorf("write briefing for %s: %w", agentID, err)
		}
	} else {
		briefingPath = ""
	}

	handle, err := m.launcher.Launch(ctx, LaunchSpec{
		AgentID:      agentID,
		Workspace:    workspace,
		BriefingPath: briefingPath,
		MailDir:      m.store.Dir(),
		Command:      m.cfg.Agents.Command,
		Args:         m.cfg.Agents.Args,
	})
	if err != nil {
		return "", fmt.Errorf("launch %s: %w", agentID, err)
	}

	now := time.Now().UTC()
	entry := models.Agent{
		ID:           agentID,
		Kind:         spec.Kind,
		Backend:      m.cfg.Agents.Command,
		Role:         spec.Role,
		Capabilities: spec.Capabilities,
		Status:       models.AgentStatusStarting,
		Workspace:    workspace,
		PID:          handle.PID(),
		StartedAt:    now,
		LastSeen:     now,
	}
	if err := m.store.UpsertAgent(entry); err != nil {
		return "", fmt.Errorf("register %s: %w", agentID, err)
	}

	m.mu.Lock()
	m.procs[agentID] = handle
	m.mu.Unlock()

	m.wg.Add(1)
	go m.supervise(agentID, handle)

	m.debugLog("[agent] spawned %s kind=%s role=%s pid=%d", agentID, spec.Kind, spec.Role, handle.PID())
	return agentID, nil
}

// supervise waits for the process to exit and settles the pool entry.
func (m *Manager) supervise(agentID string, handle Handle) {
	defer m.wg.Done()

	err := handle.Wait()
	m.debugLog("[agent] %s exited (err=%v)", agentID, err)

	m.mu.Lock()
	delete(m.procs, agentID)
	m.mu.Unlock()

	// A process that is gone is terminated whatever else the pool says,
	// unless it already settled there.
	_ = m.store.UpdateAgent(agentID, func(a *models.Agent) {
		if a.Status != models.AgentStatusTerminated {
			a.Status = models.AgentStatusTerminated
			a.CurrentTask = ""
		}
	})
}

// Assign binds a task to a pooled agent. Fails unless the agent is standby
// or starting. Creates the Assignment record and flips the agent to
// assigned.
func (m *Manager) Assign(agentID, taskID, branch, description string) error {
	entry, err := m.store.GetAgent(agentID)
	if err != nil {
		return fmt.Errorf("agent %s: %w", agentID, err)
	}
	if !entry.Status.Assignable() {
		return fmt.Errorf("%w: %s is %s", ErrNotAssignable, agentID, entry.Status)
	}

	assignment := models.Assignment{
		ID:          uuid.New().String(),
		AgentID:     agentID,
		TaskID:      taskID,
		Branch:      branch,
		Description: description,
		AssignedAt:  time.Now().UTC(),
	}
	if err := m.store.AppendAssignment(assignment); err != nil {
		return err
	}

	return m.store.UpdateAgent(agentID, func(a *models.Agent) {
		a.Status = models.AgentStatusAssigned
		a.CurrentTask = taskID
	})
}

// Terminate signals an agent's process and marks its pool entry terminated.
// Idempotent: the entry is marked even when the process is already gone.
func (m *Manager) Terminate(agentID string) error {
	m.mu.Lock()
	handle := m.procs[agentID]
	m.mu.Unlock()

	if handle != nil {
		if err := handle.Signal(); err != nil {
			m.debugLog("[agent] signal %s failed: %v", agentID, err)
		}
	}

	err := m.store.UpdateAgent(agentID, func(a *models.Agent) {
		a.Status = models.AgentStatusTerminated
		a.CurrentTask = ""
	})
	if err == mailbox.ErrNotFound {
		return nil
	}
	return err
}

// TerminateAll terminates every non-terminated agent in the pool.
func (m *Manager) TerminateAll() error {
	agents := m.store.Agents(func(a models.Agent) bool {
		return a.Status != models.AgentStatusTerminated
	})
	var firstErr error
	for _, a := range agents {
		if err := m.Terminate(a.ID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Wait blocks until all supervised processes have exited.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// ActiveCount returns the number of pool agents that occupy a parallelism
// slot (anything not terminal and not stuck).
func (m *Manager) ActiveCount() int {
	return len(m.store.Agents(func(a models.Agent) bool {
		switch a.Status {
		case models.AgentStatusStarting, models.AgentStatusStandby,
			models.AgentStatusAssigned, models.AgentStatusActive:
			return true
		default:
			return false
		}
	}))
}

// StuckTask describes a task reclaimed from a stuck agent.
type StuckTask struct {
	TaskID  string
	AgentID string
	// Retries is the stuck-reclaim count after this reclaim.
	Retries int
}

// DetectStuck scans running markers for tasks whose claim has exceeded the
// stuck timeout and whose agent is not a healthy pooled worker. Each such
// task's marker is cleared so the scheduler can re-dispatch it, its stuck
// counter is bumped, and the agent is reclassified stuck.
func (m *Manager) DetectStuck(taskIDs []string, now time.Time) []StuckTask {
	var reclaimed []StuckTask

	for _, taskID := range taskIDs {
		info, ok := m.markers.Running(taskID)
		if !ok {
			continue
		}
		if !info.Since.IsZero() && now.Sub(info.Since) < m.cfg.Timeouts.Stuck {
			continue
		}

		// Healthy pooled agents are exempt: they report progress through the
		// pool, not the marker's age.
		if entry, err := m.store.GetAgent(info.AgentID); err == nil {
			if entry.Kind == models.AgentPersistent {
				switch entry.Status {
				case models.AgentStatusActive, models.AgentStatusStandby, models.AgentStatusAssigned:
					continue
				}
			}
		}

		m.debugLog("[agent] task %s stuck (agent %s, claimed %s)", taskID, info.AgentID, info.Since)

		if err := m.markers.ClearRunning(taskID); err != nil {
			m.debugLog("[agent] clear running marker %s: %v", taskID, err)
			continue
		}
		n, err := m.markers.IncrementStuckRetries(taskID)
		if err != nil {
			m.debugLog("[agent] bump stuck counter %s: %v", taskID, err)
		}
		_ = m.markers.SetStuck(taskID, fmt.Sprintf("agent %s exceeded stuck timeout", info.AgentID))

		if info.AgentID != "" {
			_ = m.store.UpdateAgent(info.AgentID, func(a *models.Agent) {
				if a.Status != models.AgentStatusTerminated {
					a.Status = models.AgentStatusStuck
					a.CurrentTask = ""
				}
			})
			_ = m.Terminate(info.AgentID)
		}

		reclaimed = append(reclaimed, StuckTask{TaskID: taskID, AgentID: info.AgentID, Retries: n})
	}
	return reclaimed
}

// EvictExpiredStandby terminates persistent agents whose standby wait has
// exceeded the configured bound. Returns the evicted agent IDs.
func (m *Manager) EvictExpiredStandby(now time.Time) []string {
	expired := m.store.Agents(func(a models.Agent) bool {
		return a.Kind == models.AgentPersistent &&
			a.Status == models.AgentStatusStandby &&
			now.Sub(a.LastSeen) > m.cfg.Timeouts.Standby
	})

	var evicted []string
	for _, a := range expired {
		m.debugLog("[agent] evicting %s: standby since %s", a.ID, a.LastSeen)
		if err := m.Terminate(a.ID); err != nil {
			m.debugLog("[agent] evict %s: %v", a.ID, err)
			continue
		}
		evicted = append(evicted, a.ID)
	}
	return evicted
}
