package orchestrator

import (
	"sort"

	"overseer/internal/graph"
	"overseer/pkg/models"
)

// Scheduler projects task readiness from the dependency graph. It keeps no
// completion memory of its own: readiness is recomputed from current task
// statuses on every pass, so a task whose dependency regresses out of an
// approved state stops being ready without any bookkeeping.
type Scheduler struct {
	graph  *graph.Graph
	logger *DebugLogger
}

// NewScheduler creates a Scheduler over the given graph.
func NewScheduler(g *graph.Graph, logger *DebugLogger) *Scheduler {
	if logger == nil {
		logger = NopLogger()
	}
	return &Scheduler{graph: g, logger: logger}
}

// Refresh recomputes the blocked/ready projection for every undispatched
// task and returns the tasks that are ready, ordered by ID for
// deterministic dispatch. Tasks that have been dispatched or have settled
// are left untouched.
func (s *Scheduler) Refresh() []*models.Task {
	var ready []*models.Task

	for _, task := range s.graph.Tasks() {
		switch task.Status {
		case models.TaskStatusBlocked, models.TaskStatusReady:
		default:
			continue
		}

		if s.graph.DependenciesSatisfied(task.ID) {
			if task.Status != models.TaskStatusReady {
				s.logger.Log("[sched] %s ready", task.ID)
			}
			task.Status = models.TaskStatusReady
			ready = append(ready, task)
		} else {
			task.Status = models.TaskStatusBlocked
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].ID < ready[j].ID })
	return ready
}

// Done reports whether every task has reached a terminal state.
func (s *Scheduler) Done() bool {
	for _, task := range s.graph.Tasks() {
		if !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// Stalled reports whether no further automatic progress is possible: nothing
// is terminal-free and runnable. True when every non-terminal task is
// blocked behind a task that can no longer satisfy it.
func (s *Scheduler) Stalled() bool {
	for _, task := range s.graph.Tasks() {
		switch task.Status {
		case models.TaskStatusRunning, models.TaskStatusCompleted,
			models.TaskStatusApproved, models.TaskStatusConflictRetry:
			return false
		case models.TaskStatusBlocked, models.TaskStatusReady:
			if s.graph.DependenciesSatisfied(task.ID) {
				return false
			}
			// Blocked: progress is still possible unless some dependency is
			// terminally unable to satisfy.
			dead := false
			for _, depID := range s.graph.Dependencies(task.ID) {
				dep := s.graph.Task(depID)
				if dep != nil && dep.Status.Terminal() && !dep.Status.SatisfiesDependents() {
					dead = true
					break
				}
			}
			if !dead {
				return false
			}
		}
	}
	return true
}

// Statuses returns the current status of every task, keyed by ID.
func (s *Scheduler) Statuses() map[string]models.TaskStatus {
	out := make(map[string]models.TaskStatus, s.graph.Size())
	for _, task := range s.graph.Tasks() {
		out[task.ID] = task.Status
	}
	return out
}

// Restore applies previously persisted statuses onto the graph, used when
// resuming a project. Unknown IDs are ignored; tasks absent from the
// snapshot keep their initial status.
func (s *Scheduler) Restore(statuses map[string]models.TaskStatus) {
	for id, status := range statuses {
		if task := s.graph.Task(id); task != nil && status.Valid() {
			task.Status = status
		}
	}
}
