package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"overseer/internal/agent"
	"overseer/internal/bus"
	"overseer/internal/config"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// ErrNoCapacity indicates every parallelism slot is occupied.
var ErrNoCapacity = errors.New("orchestrator: agent capacity exhausted")

// Dispatcher hands ready tasks to agents. Standby persistent agents with a
// matching capability are reused; otherwise an ephemeral agent is spawned,
// subject to the parallelism cap.
type Dispatcher struct {
	cfg     *config.Config
	manager *agent.Manager
	store   *mailbox.Store
	markers *mailbox.Markers
	logger  *DebugLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *config.Config, manager *agent.Manager, store *mailbox.Store, markers *mailbox.Markers, logger *DebugLogger) *Dispatcher {
	if logger == nil {
		logger = NopLogger()
	}
	return &Dispatcher{cfg: cfg, manager: manager, store: store, markers: markers, logger: logger}
}

// Dispatch binds a ready task to an agent and claims its running marker.
// Returns the agent ID, or ErrNoCapacity when the cap is reached and no
// standby agent is available.
func (d *Dispatcher) Dispatch(ctx context.Context, task *models.Task) (string, error) {
	standby := d.store.Agents(func(a models.Agent) bool {
		return a.Status == models.AgentStatusStandby
	})

	if match := bus.MatchCapability(task.AgentType, standby); match != nil {
		if err := d.manager.Assign(match.ID, task.ID, task.Branch, task.Description); err != nil {
			return "", fmt.Errorf("assign %s to %s: %w", task.ID, match.ID, err)
		}
		if err := d.claim(task, match.ID); err != nil {
			return "", err
		}
		d.logger.Log("[dispatch] %s -> standby agent %s", task.ID, match.ID)
		return match.ID, nil
	}

	if d.manager.ActiveCount() >= d.cfg.Orch.MaxParallelAgents {
		return "", ErrNoCapacity
	}

	agentID, err := d.manager.Spawn(ctx, agent.SpawnSpec{
		Role:         task.AgentType,
		Kind:         models.AgentEphemeral,
		Capabilities: capabilitiesFor(task),
		Branch:       task.Branch,
		Briefing:     taskBriefing(task),
	})
	if err != nil {
		return "", fmt.Errorf("spawn agent for %s: %w", task.ID, err)
	}
	if err := d.claim(task, agentID); err != nil {
		return "", err
	}
	d.logger.Log("[dispatch] %s -> new agent %s", task.ID, agentID)
	return agentID, nil
}

// DispatchConflictResolution briefs an agent to resolve a conflicted merge
// on the task's branch. Implements the merge engine's resolver.
func (d *Dispatcher) DispatchConflictResolution(ctx context.Context, task models.Task, conflictFiles []string, attempt int) error {
	if d.manager.ActiveCount() >= d.cfg.Orch.MaxParallelAgents {
		return ErrNoCapacity
	}

	agentID, err := d.manager.Spawn(ctx, agent.SpawnSpec{
		Role:         "conflict-resolver",
		Kind:         models.AgentEphemeral,
		Capabilities: []string{"merge-conflict"},
		Branch:       task.Branch,
		Briefing:     conflictBriefing(task, conflictFiles, attempt),
	})
	if err != nil {
		return fmt.Errorf("spawn conflict resolver for %s: %w", task.ID, err)
	}
	return d.markers.SetRunning(task.ID, agentID)
}

// Resolve satisfies merge.ConflictResolver.
func (d *Dispatcher) Resolve(ctx context.Context, task models.Task, conflictFiles []string, attempt int) error {
	return d.DispatchConflictResolution(ctx, task, conflictFiles, attempt)
}

func (d *Dispatcher) claim(task *models.Task, agentID string) error {
	if err := d.markers.SetRunning(task.ID, agentID); err != nil {
		return fmt.Errorf("claim %s: %w", task.ID, err)
	}
	task.Status = models.TaskStatusRunning
	task.AssignedAgent = agentID
	return nil
}

func capabilitiesFor(task *models.Task) []string {
	caps := []string{string(task.Type)}
	if task.AgentType != "" {
		caps = append(caps, task.AgentType)
	}
	return caps
}

// taskBriefing renders the instructions handed to a fresh agent. Agents talk
// back through the mailbox, so the briefing spells out the contract.
func taskBriefing(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Task %s\n\n", task.ID)
	fmt.Fprintf(&b, "Type: %s\nBranch: %s\n\n", task.Type, task.Branch)
	fmt.Fprintf(&b, "%s\n\n", task.Description)
	b.WriteString("Work on the branch above inside this workspace. ")
	b.WriteString("Commit everything to that branch; the orchestrator fetches ")
	b.WriteString("it from this workspace once you report completion, so ")
	b.WriteString("uncommitted work is lost. When finished, report completion ")
	b.WriteString("through the mailbox with a short summary. Direct questions ")
	b.WriteString("to the project manager; do not contact other agents.\n")
	return b.String()
}

func conflictBriefing(task models.Task, conflictFiles []string, attempt int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Resolve merge conflicts for task %s (attempt %d)\n\n", task.ID, attempt)
	fmt.Fprintf(&b, "Branch %s conflicts with the main line in:\n\n", task.Branch)
	for _, f := range conflictFiles {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	fmt.Fprintf(&b, "\nOriginal task: %s\n\n", task.Description)
	b.WriteString("Merge the main line into the branch, resolve every conflict ")
	b.WriteString("in keeping with the original task, and commit the merge to ")
	b.WriteString("the branch; the orchestrator fetches the resolved branch ")
	b.WriteString("from this workspace. Report completion through the mailbox.\n")
	return b.String()
}
