package git

import (
	"fmt"
	"os/exec"
	"strings"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	repoPath string
}

// NewRunner creates a git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath}
}

// run executes a git command and returns its trimmed output.
func (r *ExecRunner) run(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

// runSilent executes a git command and discards output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.run(args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// CreateAndCheckoutBranch creates and switches to a new branch.
func (r *ExecRunner) CreateAndCheckoutBranch(name string) error {
	return r.runSilent("checkout", "-b", name)
}

// CheckoutBranch switches to the specified branch.
func (r *ExecRunner) CheckoutBranch(name string) error {
	return r.runSilent("checkout", name)
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(name string) (bool, error) {
	cmd := exec.Command("git", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	cmd.Dir = r.repoPath
	err := cmd.Run()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch force-deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string) error {
	return r.runSilent("branch", "-D", name)
}

// Clone clones the repository into dst, checked out at branch. The branch is
// created at dst if it does not exist in the source.
func (r *ExecRunner) Clone(dst, branch string) error {
	if err := r.runSilent("clone", "--no-hardlinks", r.repoPath, dst); err != nil {
		return err
	}
	clone := NewRunner(dst)
	exists, err := clone.BranchExists(branch)
	if err != nil {
		return err
	}
	if exists {
		return clone.CheckoutBranch(branch)
	}
	if err := clone.runSilent("checkout", "-t", "origin/"+branch); err == nil {
		return nil
	}
	return clone.CreateAndCheckoutBranch(branch)
}

// FetchBranch fetches a branch from src into the same-named local branch,
// creating or force-updating it. src may be a remote name or a repository
// path, which is how agent workspace branches reach the shared repository.
func (r *ExecRunner) FetchBranch(src, branch string) error {
	return r.runSilent("fetch", "--force", src, branch+":"+branch)
}

// Merge merges the specified branch into the current branch.
func (r *ExecRunner) Merge(branch string) error {
	return r.runSilent("merge", "--no-ff", branch)
}

// MergeAbort aborts an in-progress merge.
func (r *ExecRunner) MergeAbort() error {
	return r.runSilent("merge", "--abort")
}

// MergeFFOnly fast-forwards the current branch to the given ref.
func (r *ExecRunner) MergeFFOnly(ref string) error {
	return r.runSilent("merge", "--ff-only", ref)
}

// ConflictedFiles returns files with unmerged changes.
func (r *ExecRunner) ConflictedFiles() ([]string, error) {
	out, err := r.run("diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Status returns the output of git status --porcelain.
func (r *ExecRunner) Status() (string, error) {
	return r.run("status", "--porcelain")
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges() (bool, error) {
	out, err := r.Status()
	if err != nil {
		return false, err
	}
	return out != "", nil
}

// Diff returns the diff of branch relative to base (triple-dot).
func (r *ExecRunner) Diff(base, branch string) (string, error) {
	return r.run("diff", base+"..."+branch)
}

// ChangedFiles returns files changed on branch relative to base.
func (r *ExecRunner) ChangedFiles(base, branch string) ([]string, error) {
	out, err := r.run("diff", "--name-only", base+"..."+branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// Add stages the specified paths.
func (r *ExecRunner) Add(paths ...string) error {
	return r.runSilent(append([]string{"add"}, paths...)...)
}

// Commit creates a commit with the given message.
func (r *ExecRunner) Commit(message string) error {
	return r.runSilent("commit", "-m", message)
}
