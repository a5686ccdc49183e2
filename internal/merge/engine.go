// Package merge lands approved task branches on the main line and drives
// the bounded conflict-resolution retry loop.
package merge

import (
	"context"
	"fmt"

	"overseer/internal/git"
	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// Result classifies a merge attempt.
type Result string

const (
	// ResultMerged means the branch landed cleanly.
	ResultMerged Result = "merged"
	// ResultConflictRetry means the merge conflicted and a resolution
	// attempt was dispatched.
	ResultConflictRetry Result = "conflict_retry"
	// ResultNeedsHuman means automated resolution is exhausted.
	ResultNeedsHuman Result = "needs_human_review"
)

// Outcome is what a merge attempt produced.
type Outcome struct {
	Result Result
	// Attempt is the conflict attempt count after this attempt. Zero for a
	// clean merge.
	Attempt int
	// ConflictFiles lists unmerged paths when the merge conflicted.
	ConflictFiles []string
	// Reason explains non-merged outcomes.
	Reason string
}

// ConflictResolver dispatches an automated resolution attempt for a
// conflicted branch. The orchestrator implements it by briefing an agent in
// a fresh workspace; tests substitute a recorder.
type ConflictResolver interface {
	Resolve(ctx context.Context, task models.Task, conflictFiles []string, attempt int) error
}

// Repo is the git surface the engine needs on the shared repository.
type Repo interface {
	git.BranchOperations
	git.MergeOperations
}

// Engine serializes merges into the main branch. Callers run attempts one at
// a time; the engine never leaves the repository mid-merge.
type Engine struct {
	repo        Repo
	markers     *mailbox.Markers
	resolver    ConflictResolver
	mainBranch  string
	maxConflict int
	debugLog    func(format string, args ...interface{})
}

// NewEngine creates an Engine.
func NewEngine(repo Repo, markers *mailbox.Markers, resolver ConflictResolver, mainBranch string, maxConflict int) *Engine {
	return &Engine{
		repo:        repo,
		markers:     markers,
		resolver:    resolver,
		mainBranch:  mainBranch,
		maxConflict: maxConflict,
		debugLog:    func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (e *Engine) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		e.debugLog = fn
	}
}

// SetResolver sets the conflict resolver. Resolution dispatch usually needs
// the agent pool, which is wired up after the engine.
func (e *Engine) SetResolver(r ConflictResolver) {
	e.resolver = r
}

// Attempt merges the task's branch into the main branch.
//
// A clean merge resets the task's conflict counter and reports merged. A
// conflicted merge is aborted immediately, then either a resolution attempt
// is dispatched (while attempts remain) or the task is marked for human
// review. The human-review marker is set at most once per task.
func (e *Engine) Attempt(ctx context.Context, task models.Task) (Outcome, error) {
	if task.Branch == "" {
		return Outcome{}, fmt.Errorf("merge %s: task has no branch", task.ID)
	}

	if err := e.repo.CheckoutBranch(e.mainBranch); err != nil {
		return Outcome{}, fmt.Errorf("checkout %s: %w", e.mainBranch, err)
	}

	// A branch that went through conflict resolution already contains the
	// main line, so the result fast-forwards back. Anything else falls
	// through to a regular merge.
	if e.markers.ConflictRetries(task.ID) > 0 {
		if err := e.repo.MergeFFOnly(task.Branch); err == nil {
			if cerr := e.markers.ClearConflictRetries(task.ID); cerr != nil {
				e.debugLog("[merge] clear conflict counter %s: %v", task.ID, cerr)
			}
			e.debugLog("[merge] %s: resolved %s fast-forwarded", task.ID, task.Branch)
			return Outcome{Result: ResultMerged}, nil
		}
	}

	mergeErr := e.repo.Merge(task.Branch)
	if mergeErr == nil {
		if err := e.markers.ClearConflictRetries(task.ID); err != nil {
			e.debugLog("[merge] clear conflict counter %s: %v", task.ID, err)
		}
		e.debugLog("[merge] %s: %s merged cleanly", task.ID, task.Branch)
		return Outcome{Result: ResultMerged}, nil
	}

	conflictFiles, filesErr := e.repo.ConflictedFiles()
	if abortErr := e.repo.MergeAbort(); abortErr != nil {
		e.debugLog("[merge] abort after conflict on %s: %v", task.ID, abortErr)
	}

	if filesErr != nil || len(conflictFiles) == 0 {
		// The merge failed without leaving conflicts: a hard git error, not
		// a resolvable conflict.
		return Outcome{}, fmt.Errorf("merge %s into %s: %w", task.Branch, e.mainBranch, mergeErr)
	}

	attempt := e.markers.ConflictRetries(task.ID) + 1
	if attempt > e.maxConflict {
		reason := fmt.Sprintf("merge of %s conflicted %d times; automated resolution exhausted", task.Branch, attempt)
		if !e.markers.NeedsHumanReview(task.ID) {
			if err := e.markers.SetNeedsHumanReview(task.ID, reason); err != nil {
				return Outcome{}, fmt.Errorf("mark %s for human review: %w", task.ID, err)
			}
		}
		e.debugLog("[merge] %s: %s", task.ID, reason)
		return Outcome{Result: ResultNeedsHuman, Attempt: attempt, ConflictFiles: conflictFiles, Reason: reason}, nil
	}

	e.debugLog("[merge] %s conflicted (attempt %d/%d): %v", task.ID, attempt, e.maxConflict, conflictFiles)
	if e.resolver != nil {
		if err := e.resolver.Resolve(ctx, task, conflictFiles, attempt); err != nil {
			return Outcome{}, fmt.Errorf("dispatch conflict resolution for %s: %w", task.ID, err)
		}
	}
	// The counter advances only once a resolution attempt is underway, so a
	// failed dispatch does not consume an attempt.
	if _, err := e.markers.IncrementConflictRetries(task.ID); err != nil {
		return Outcome{}, fmt.Errorf("count conflict attempt for %s: %w", task.ID, err)
	}

	return Outcome{
		Result:        ResultConflictRetry,
		Attempt:       attempt,
		ConflictFiles: conflictFiles,
		Reason:        fmt.Sprintf("conflict attempt %d of %d", attempt, e.maxConflict),
	}, nil
}
