package orchestrator

import (
	"context"
	"fmt"
	"time"

	"overseer/internal/agent"
	"overseer/internal/bus"
	"overseer/internal/config"
	"overseer/internal/graph"
	"overseer/internal/mailbox"
	"overseer/internal/merge"
	"overseer/internal/pm"
	"overseer/internal/state"
	"overseer/pkg/models"
)

// DiffSource produces the changes on a task branch for PM review.
type DiffSource interface {
	Diff(base, branch string) (string, error)
}

// BranchCollector pulls a branch from an agent's workspace into the shared
// repository. Satisfied by git.ExecRunner.
type BranchCollector interface {
	FetchBranch(src, branch string) error
}

// Orchestrator drives one project to completion. All task and agent state
// transitions happen on the loop goroutine; concurrency lives in the agent
// processes, never here.
type Orchestrator struct {
	cfg       *config.Config
	project   models.Project
	graph     *graph.Graph
	scheduler *Scheduler
	dispatch  *Dispatcher
	manager   *agent.Manager
	store     *mailbox.Store
	markers   *mailbox.Markers
	bus       *bus.Bus
	reviewer  *pm.Reviewer
	pmHandler *pm.Handler
	merger    *merge.Engine
	diffs     DiffSource
	collector BranchCollector
	db        *state.DB
	logger    *DebugLogger

	events chan Event
}

// Options bundles the orchestrator's collaborators.
type Options struct {
	Config   *config.Config
	Project  models.Project
	Graph    *graph.Graph
	Manager  *agent.Manager
	Store    *mailbox.Store
	Markers  *mailbox.Markers
	Bus      *bus.Bus
	Reviewer *pm.Reviewer
	Merger   *merge.Engine
	Diffs    DiffSource
	// Collector moves completed branches from agent workspaces into the
	// shared repository ahead of review and merge.
	Collector BranchCollector
	// DB is optional; without it nothing is persisted across runs.
	DB     *state.DB
	Logger *DebugLogger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = NopLogger()
	}

	o := &Orchestrator{
		cfg:       opts.Config,
		project:   opts.Project,
		graph:     opts.Graph,
		scheduler: NewScheduler(opts.Graph, logger),
		manager:   opts.Manager,
		store:     opts.Store,
		markers:   opts.Markers,
		bus:       opts.Bus,
		reviewer:  opts.Reviewer,
		merger:    opts.Merger,
		diffs:     opts.Diffs,
		collector: opts.Collector,
		db:        opts.DB,
		logger:    logger,
		events:    make(chan Event, 256),
	}
	o.dispatch = NewDispatcher(opts.Config, opts.Manager, opts.Store, opts.Markers, logger)
	if opts.Merger != nil {
		opts.Merger.SetResolver(o.dispatch)
	}
	o.pmHandler = pm.NewHandler(opts.Bus, opts.Reviewer, opts.Config.Timeouts.Escalation)
	o.pmHandler.SetDebugLog(logger.Log)
	return o
}

// Dispatcher exposes the dispatcher, used to wire it as the merge engine's
// conflict resolver.
func (o *Orchestrator) Dispatcher() *Dispatcher {
	return o.dispatch
}

// Events returns the event stream. Consumers must drain it; the channel is
// buffered and events are dropped once it fills.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}

// Resume restores task statuses from the project's persisted snapshot, if
// one exists. In-flight work is demoted to ready so it gets re-dispatched.
func (o *Orchestrator) Resume() error {
	if o.db == nil {
		return nil
	}
	snap, err := o.db.LoadSnapshot(o.project.ID)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if snap == nil {
		return nil
	}

	statuses := make(map[string]models.TaskStatus, len(snap.Statuses))
	for id, st := range snap.Statuses {
		// Agents from the previous run are gone; their claims do not
		// survive.
		if st == models.TaskStatusRunning || st == models.TaskStatusConflictRetry {
			st = models.TaskStatusReady
			_ = o.markers.ClearRunning(id)
		}
		statuses[id] = st
	}
	o.scheduler.Restore(statuses)
	o.logger.Log("[orch] resumed %s from snapshot (%d tasks)", o.project.ID, len(statuses))
	return nil
}

// Run executes loop passes until the project settles or the context is
// cancelled. On exit a snapshot is persisted and all agents are terminated.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.shutdown()

	ticker := time.NewTicker(o.cfg.Orch.PollInterval)
	defer ticker.Stop()

	// Wake early on mailbox writes; the ticker remains the correctness
	// backstop.
	var wake <-chan struct{}
	if watcher, err := mailbox.NewWatcher(o.store.Dir()); err == nil {
		defer watcher.Close()
		wake = watcher.Changes()
	} else {
		o.logger.Log("[orch] mailbox watcher unavailable, polling only: %v", err)
	}

	for {
		done, err := o.runPass(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// runPass executes one fixed-order pass. Returns done=true when every task
// is terminal or no further automatic progress is possible.
func (o *Orchestrator) runPass(ctx context.Context) (bool, error) {
	o.drainCompletions()
	o.reviewCompleted(ctx)
	o.mergeApproved(ctx)
	o.reclaimStuck()
	o.manager.EvictExpiredStandby(time.Now())
	o.dispatchReady(ctx)
	o.persist()

	if o.scheduler.Done() {
		o.emit(Event{Type: EventProjectDone, Message: "all tasks terminal"})
		o.logger.Log("[orch] project %s done", o.project.ID)
		return true, nil
	}
	if o.scheduler.Stalled() {
		o.emit(Event{Type: EventProjectDone, Message: "stalled: remaining tasks blocked behind failed work"})
		o.logger.Log("[orch] project %s stalled", o.project.ID)
		return true, nil
	}

	o.pmHandler.HandlePending(ctx)
	return false, nil
}

// drainCompletions consumes task_complete messages and flips their tasks to
// completed, pending PM review.
func (o *Orchestrator) drainCompletions() {
	for _, msg := range o.bus.PendingFor(models.AddrPM) {
		if msg.Kind != models.KindTaskComplete {
			continue
		}
		if err := o.bus.MarkProcessing(msg.ID); err != nil {
			continue
		}

		task := o.graph.Task(msg.TaskID)
		if task == nil {
			o.logger.Log("[orch] stray completion for %q from %s", msg.TaskID, msg.From)
			_ = o.bus.MarkHandled(msg.ID)
			continue
		}

		switch task.Status {
		case models.TaskStatusRunning:
			if err := o.collectBranch(task, msg.From); err != nil {
				// Without the branch in the shared repository there is
				// nothing to review or merge.
				o.failTask(task, "collect branch: "+err.Error())
				_ = o.markers.ClearRunning(task.ID)
				_ = o.bus.MarkHandled(msg.ID)
				o.settleAgent(msg.From)
				o.emit(Event{Type: EventTaskRejected, TaskID: task.ID, AgentID: msg.From, Message: task.Error, Error: err})
				o.logger.Log("[orch] collect %s from %s: %v", task.ID, msg.From, err)
				continue
			}
			task.Status = models.TaskStatusCompleted
			task.Summary = msg.Body
			_ = o.markers.SetCompleted(task.ID, msg.Body)
		case models.TaskStatusConflictRetry:
			// A conflict resolver finished; the branch goes back through the
			// merge path, not through review. A failed collect falls through
			// to the merge attempt, which bounds the retries.
			if err := o.collectBranch(task, msg.From); err != nil {
				o.logger.Log("[orch] collect resolved %s from %s: %v", task.ID, msg.From, err)
			}
			task.Status = models.TaskStatusApproved
		default:
			o.logger.Log("[orch] stray completion for %s (status %s) from %s", msg.TaskID, task.Status, msg.From)
			_ = o.bus.MarkHandled(msg.ID)
			continue
		}
		_ = o.markers.ClearRunning(task.ID)
		_ = o.bus.MarkHandled(msg.ID)

		o.settleAgent(msg.From)
		o.emit(Event{Type: EventTaskCompleted, TaskID: task.ID, AgentID: msg.From, Message: msg.Body})
		o.logger.Log("[orch] %s completed by %s", task.ID, msg.From)
	}
}

// settleAgent returns a persistent agent to standby and terminates an
// ephemeral one.
func (o *Orchestrator) settleAgent(agentID string) {
	entry, err := o.store.GetAgent(agentID)
	if err != nil {
		return
	}
	if entry.Kind == models.AgentPersistent {
		_ = o.store.UpdateAgent(agentID, func(a *models.Agent) {
			a.Status = models.AgentStatusStandby
			a.CurrentTask = ""
			a.LastSeen = time.Now().UTC()
		})
		return
	}
	_ = o.manager.Terminate(agentID)
	o.emit(Event{Type: EventAgentTerminated, AgentID: agentID})
}

// collectBranch fetches the task's branch from the reporting agent's
// workspace into the shared repository, where review diffs and merges run.
func (o *Orchestrator) collectBranch(task *models.Task, agentID string) error {
	if o.collector == nil {
		return nil
	}
	if task.Branch == "" {
		return fmt.Errorf("task %s has no branch", task.ID)
	}
	entry, err := o.store.GetAgent(agentID)
	if err != nil {
		return fmt.Errorf("agent %s not on record: %w", agentID, err)
	}
	if entry.Workspace == "" {
		return fmt.Errorf("agent %s has no workspace on record", agentID)
	}
	if err := o.collector.FetchBranch(entry.Workspace, task.Branch); err != nil {
		return fmt.Errorf("fetch %s from %s: %w", task.Branch, entry.Workspace, err)
	}
	o.logger.Log("[orch] collected %s from %s", task.Branch, entry.Workspace)
	return nil
}

// reviewCompleted runs PM review over completed tasks. Approval unblocks
// dependents; rejection is terminal.
func (o *Orchestrator) reviewCompleted(ctx context.Context) {
	for _, task := range o.graph.Tasks() {
		if task.Status != models.TaskStatusCompleted {
			continue
		}

		var diff string
		if o.diffs != nil {
			d, err := o.diffs.Diff(o.cfg.Git.MainBranch, task.Branch)
			if err != nil {
				o.logger.Log("[orch] diff %s: %v", task.Branch, err)
			} else {
				diff = d
			}
		}

		decision, err := o.reviewer.Review(ctx, *task, task.Summary, diff)
		if err != nil {
			// Review stays pending; retried next pass.
			o.logger.Log("[orch] review %s: %v", task.ID, err)
			continue
		}

		task.ReviewNote = decision.Note
		if decision.Approved {
			task.Status = models.TaskStatusApproved
			_ = o.markers.SetApproved(task.ID, decision.Note)
			o.emit(Event{Type: EventTaskApproved, TaskID: task.ID, Message: decision.Note})
		} else {
			o.failTask(task, "rejected by PM review: "+decision.Note)
			// A rejected completion is no completion.
			_ = o.markers.ClearCompleted(task.ID)
			o.emit(Event{Type: EventTaskRejected, TaskID: task.ID, Message: decision.Note})
		}
		o.logger.Log("[orch] review %s: approved=%v", task.ID, decision.Approved)
	}
}

// mergeApproved lands approved branches one at a time.
func (o *Orchestrator) mergeApproved(ctx context.Context) {
	for _, task := range o.graph.Tasks() {
		if task.Status != models.TaskStatusApproved {
			continue
		}

		out, err := o.merger.Attempt(ctx, *task)
		if err != nil {
			o.logger.Log("[orch] merge %s: %v", task.ID, err)
			continue
		}

		switch out.Result {
		case merge.ResultMerged:
			o.finishTask(task, models.TaskStatusMerged)
			// The branch landed; the approval marker has served its purpose.
			_ = o.markers.ClearApproved(task.ID)
			o.emit(Event{Type: EventTaskMerged, TaskID: task.ID})
		case merge.ResultConflictRetry:
			task.Status = models.TaskStatusConflictRetry
			o.emit(Event{Type: EventMergeConflict, TaskID: task.ID, Message: out.Reason})
		case merge.ResultNeedsHuman:
			task.Error = out.Reason
			o.finishTask(task, models.TaskStatusNeedsHumanReview)
			o.emit(Event{Type: EventTaskNeedsHuman, TaskID: task.ID, Message: out.Reason})
		}
	}
}

// reclaimStuck pulls tasks back from unresponsive agents. A task that has
// been reclaimed too often goes to a human instead of another agent.
func (o *Orchestrator) reclaimStuck() {
	var claimed []string
	for _, task := range o.graph.Tasks() {
		if task.Status == models.TaskStatusRunning || task.Status == models.TaskStatusConflictRetry {
			claimed = append(claimed, task.ID)
		}
	}

	for _, st := range o.manager.DetectStuck(claimed, time.Now()) {
		task := o.graph.Task(st.TaskID)
		if task == nil {
			continue
		}

		o.emit(Event{Type: EventTaskStuck, TaskID: st.TaskID, AgentID: st.AgentID})

		if st.Retries > o.cfg.Retries.MaxStuck {
			reason := fmt.Sprintf("stuck %d times; reassignment exhausted", st.Retries)
			_ = o.markers.SetNeedsHumanReview(st.TaskID, reason)
			task.Error = reason
			o.finishTask(task, models.TaskStatusNeedsHumanReview)
			o.emit(Event{Type: EventTaskNeedsHuman, TaskID: st.TaskID, Message: reason})
			continue
		}

		// Conflict-retry tasks go back through the merge path, others back
		// to dispatch.
		if task.Status == models.TaskStatusConflictRetry {
			task.Status = models.TaskStatusApproved
		} else {
			task.Status = models.TaskStatusReady
		}
		task.AssignedAgent = ""
		o.logger.Log("[orch] reclaimed %s from %s (retry %d)", st.TaskID, st.AgentID, st.Retries)
	}
}

// dispatchReady dispatches ready tasks until capacity runs out.
func (o *Orchestrator) dispatchReady(ctx context.Context) {
	for _, task := range o.scheduler.Refresh() {
		agentID, err := o.dispatch.Dispatch(ctx, task)
		if err == ErrNoCapacity {
			return
		}
		if err != nil {
			o.logger.Log("[orch] dispatch %s: %v", task.ID, err)
			continue
		}
		o.emit(Event{Type: EventTaskDispatched, TaskID: task.ID, AgentID: agentID})
	}
}

func (o *Orchestrator) failTask(task *models.Task, reason string) {
	task.Error = reason
	o.finishTask(task, models.TaskStatusFailed)
}

func (o *Orchestrator) finishTask(task *models.Task, status models.TaskStatus) {
	task.Status = status
	now := time.Now().UTC()
	task.CompletedAt = &now
}

// persist writes current task state and the scheduler snapshot.
func (o *Orchestrator) persist() {
	if o.db == nil {
		return
	}
	for _, task := range o.graph.Tasks() {
		if err := o.db.UpsertTask(o.project.ID, task); err != nil {
			o.logger.Log("[orch] persist %s: %v", task.ID, err)
		}
	}
	err := o.db.SaveSnapshot(state.Snapshot{
		ProjectID: o.project.ID,
		Statuses:  o.scheduler.Statuses(),
	})
	if err != nil {
		o.logger.Log("[orch] snapshot: %v", err)
	}
}

func (o *Orchestrator) shutdown() {
	o.persist()
	if o.db != nil && o.scheduler.Done() {
		_ = o.db.SetProjectStatus(o.project.ID, models.ProjectCompleted)
	}
	// Give agents a chance to stop cleanly before their processes go.
	if _, err := o.bus.Broadcast(models.KindNotification, "orchestrator shutting down"); err != nil {
		o.logger.Log("[orch] shutdown broadcast: %v", err)
	}
	if err := o.manager.TerminateAll(); err != nil {
		o.logger.Log("[orch] terminate all: %v", err)
	}
	o.manager.Wait()
	close(o.events)
}

func (o *Orchestrator) emit(ev Event) {
	ev.Timestamp = time.Now().UTC()
	if o.db != nil {
		_ = o.db.RecordActivity(state.ActivityEntry{
			ProjectID: o.project.ID,
			TaskID:    ev.TaskID,
			AgentID:   ev.AgentID,
			Event:     string(ev.Type),
			Detail:    ev.Message,
			At:        ev.Timestamp,
		})
	}
	select {
	case o.events <- ev:
	default:
	}
}
