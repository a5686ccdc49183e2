package merge

import (
	"context"
	"errors"
	"testing"

	"overseer/internal/mailbox"
	"overseer/pkg/models"
)

// fakeRepo scripts merge behavior per branch.
type fakeRepo struct {
	conflicts map[string][]string // branch -> conflicted files
	hardErr   map[string]error    // branch -> non-conflict failure
	ffable    map[string]bool     // branch -> fast-forward succeeds
	checkouts []string
	merges    []string
	ffMerges  []string
	aborts    int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		conflicts: map[string][]string{},
		hardErr:   map[string]error{},
		ffable:    map[string]bool{},
	}
}

func (r *fakeRepo) CurrentBranch() (string, error)            { return "main", nil }
func (r *fakeRepo) CreateAndCheckoutBranch(name string) error { return nil }
func (r *fakeRepo) BranchExists(name string) (bool, error)    { return true, nil }
func (r *fakeRepo) DeleteBranch(name string) error            { return nil }

func (r *fakeRepo) CheckoutBranch(name string) error {
	r.checkouts = append(r.checkouts, name)
	return nil
}

func (r *fakeRepo) Merge(branch string) error {
	r.merges = append(r.merges, branch)
	if err, ok := r.hardErr[branch]; ok {
		return err
	}
	if _, ok := r.conflicts[branch]; ok {
		return errors.New("exit status 1: merge conflict")
	}
	return nil
}

func (r *fakeRepo) MergeAbort() error {
	r.aborts++
	return nil
}

func (r *fakeRepo) MergeFFOnly(ref string) error {
	r.ffMerges = append(r.ffMerges, ref)
	if r.ffable[ref] {
		return nil
	}
	return errors.New("exit status 128: not possible to fast-forward")
}

func (r *fakeRepo) ConflictedFiles() ([]string, error) {
	if len(r.merges) == 0 {
		return nil, nil
	}
	return r.conflicts[r.merges[len(r.merges)-1]], nil
}

// recordingResolver records dispatched resolution attempts.
type recordingResolver struct {
	calls []int
	err   error
}

func (r *recordingResolver) Resolve(ctx context.Context, task models.Task, files []string, attempt int) error {
	r.calls = append(r.calls, attempt)
	return r.err
}

func newTestEngine(t *testing.T, repo Repo, resolver ConflictResolver) (*Engine, *mailbox.Markers) {
	t.Helper()
	markers, err := mailbox.NewMarkers(t.TempDir())
	if err != nil {
		t.Fatalf("NewMarkers: %v", err)
	}
	return NewEngine(repo, markers, resolver, "main", 2), markers
}

func TestAttemptCleanMerge(t *testing.T) {
	repo := newFakeRepo()
	e, markers := newTestEngine(t, repo, nil)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	out, err := e.Attempt(context.Background(), task)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Result != ResultMerged {
		t.Errorf("result = %s, want merged", out.Result)
	}
	if len(repo.checkouts) == 0 || repo.checkouts[0] != "main" {
		t.Errorf("expected checkout of main first, got %v", repo.checkouts)
	}
	if repo.aborts != 0 {
		t.Errorf("clean merge aborted %d times", repo.aborts)
	}
	if n := markers.ConflictRetries("t1"); n != 0 {
		t.Errorf("conflict counter = %d, want 0", n)
	}
}

func TestAttemptConflictDispatchesResolution(t *testing.T) {
	repo := newFakeRepo()
	repo.conflicts["task/t1"] = []string{"main.go", "go.mod"}
	resolver := &recordingResolver{}
	e, markers := newTestEngine(t, repo, resolver)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	out, err := e.Attempt(context.Background(), task)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Result != ResultConflictRetry {
		t.Fatalf("result = %s, want conflict_retry", out.Result)
	}
	if out.Attempt != 1 {
		t.Errorf("attempt = %d, want 1", out.Attempt)
	}
	if len(out.ConflictFiles) != 2 {
		t.Errorf("conflict files = %v", out.ConflictFiles)
	}
	if repo.aborts != 1 {
		t.Errorf("aborts = %d, want 1: a conflicted repo must not stay mid-merge", repo.aborts)
	}
	if len(resolver.calls) != 1 || resolver.calls[0] != 1 {
		t.Errorf("resolver calls = %v", resolver.calls)
	}
	if n := markers.ConflictRetries("t1"); n != 1 {
		t.Errorf("conflict counter = %d, want 1", n)
	}
}

func TestAttemptResolvedBranchFastForwards(t *testing.T) {
	repo := newFakeRepo()
	repo.conflicts["task/t1"] = []string{"main.go"}
	resolver := &recordingResolver{}
	e, markers := newTestEngine(t, repo, resolver)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	if _, err := e.Attempt(context.Background(), task); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// The resolver merged main into the branch and committed, so the branch
	// now fast-forwards and no longer conflicts.
	repo.ffable["task/t1"] = true
	delete(repo.conflicts, "task/t1")
	mergesBefore := len(repo.merges)

	out, err := e.Attempt(context.Background(), task)
	if err != nil {
		t.Fatalf("second attempt: %v", err)
	}
	if out.Result != ResultMerged {
		t.Fatalf("result = %s, want merged", out.Result)
	}
	if len(repo.ffMerges) == 0 || repo.ffMerges[len(repo.ffMerges)-1] != "task/t1" {
		t.Errorf("expected a fast-forward of task/t1, got %v", repo.ffMerges)
	}
	if len(repo.merges) != mergesBefore {
		t.Errorf("resolved branch went through a regular merge: %v", repo.merges)
	}
	if n := markers.ConflictRetries("t1"); n != 0 {
		t.Errorf("conflict counter = %d, want 0 after landing", n)
	}
}

func TestAttemptExhaustsIntoHumanReview(t *testing.T) {
	repo := newFakeRepo()
	repo.conflicts["task/t1"] = []string{"main.go"}
	resolver := &recordingResolver{}
	e, markers := newTestEngine(t, repo, resolver)

	task := models.Task{ID: "t1", Branch: "task/t1"}

	var out Outcome
	var err error
	for i := 0; i < 3; i++ {
		out, err = e.Attempt(context.Background(), task)
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}

	if out.Result != ResultNeedsHuman {
		t.Fatalf("result after 3 conflicts = %s, want needs_human_review", out.Result)
	}
	if !markers.NeedsHumanReview("t1") {
		t.Error("expected human-review marker")
	}
	// Two automated attempts were dispatched; the third conflict was not.
	if len(resolver.calls) != 2 {
		t.Errorf("resolver calls = %v, want 2 dispatches", resolver.calls)
	}
}

func TestAttemptHumanReviewMarkHappensOnce(t *testing.T) {
	repo := newFakeRepo()
	repo.conflicts["task/t1"] = []string{"main.go"}
	e, markers := newTestEngine(t, repo, nil)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	for i := 0; i < 5; i++ {
		if _, err := e.Attempt(context.Background(), task); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if !markers.NeedsHumanReview("t1") {
		t.Fatal("expected human-review marker")
	}
	// Further attempts keep reporting human review without error.
	out, err := e.Attempt(context.Background(), task)
	if err != nil {
		t.Fatalf("Attempt: %v", err)
	}
	if out.Result != ResultNeedsHuman {
		t.Errorf("result = %s, want needs_human_review", out.Result)
	}
}

func TestAttemptHardGitErrorIsAnError(t *testing.T) {
	repo := newFakeRepo()
	repo.hardErr["task/t1"] = errors.New("fatal: not a git repository")
	e, markers := newTestEngine(t, repo, nil)

	task := models.Task{ID: "t1", Branch: "task/t1"}
	_, err := e.Attempt(context.Background(), task)
	if err == nil {
		t.Fatal("expected error for non-conflict merge failure")
	}
	if n := markers.ConflictRetries("t1"); n != 0 {
		t.Errorf("hard error consumed a conflict attempt: %d", n)
	}
}

func TestAttemptNoBranch(t *testing.T) {
	repo := newFakeRepo()
	e, _ := newTestEngine(t, repo, nil)

	if _, err := e.Attempt(context.Background(), models.Task{ID: "t1"}); err == nil {
		t.Fatal("expected error for branchless task")
	}
}

func TestAttemptResolverFailurePropagates(t *testing.T) {
	repo := newFakeRepo()
	repo.conflicts["task/t1"] = []string{"main.go"}
	resolver := &recordingResolver{err: errors.New("no agent slots")}
	e, markers := newTestEngine(t, repo, resolver)

	_, err := e.Attempt(context.Background(), models.Task{ID: "t1", Branch: "task/t1"})
	if err == nil {
		t.Fatal("expected resolver failure to propagate")
	}
	if n := markers.ConflictRetries("t1"); n != 0 {
		t.Errorf("failed dispatch consumed a conflict attempt: %d", n)
	}
}
