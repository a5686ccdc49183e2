// Package git provides an interface for git operations.
package git

// BranchOperations defines git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateAndCheckoutBranch creates and switches to a new branch.
	CreateAndCheckoutBranch(name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(name string) error
}

// CloneOperations defines the operations for isolated agent workspaces.
type CloneOperations interface {
	// Clone clones the repository into dst, checked out at branch.
	Clone(dst, branch string) error
	// FetchBranch fetches a branch from src (a remote name or a repository
	// path) into the same-named local branch, creating or force-updating it.
	FetchBranch(src, branch string) error
}

// MergeOperations defines git merge operations.
type MergeOperations interface {
	// Merge merges the specified branch into the current branch.
	Merge(branch string) error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// MergeFFOnly fast-forwards the current branch to the given ref,
	// failing rather than creating a merge commit.
	MergeFFOnly(ref string) error
	// ConflictedFiles returns files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// DiffOperations defines diff and status operations.
type DiffOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// Diff returns the diff of a branch relative to a base (base...branch).
	Diff(base, branch string) (string, error)
	// ChangedFiles returns files changed on branch relative to base.
	ChangedFiles(base, branch string) ([]string, error)
}

// CommitOperations defines commit operations.
type CommitOperations interface {
	// Add stages the specified paths.
	Add(paths ...string) error
	// Commit creates a commit with the given message.
	Commit(message string) error
}

// Runner is the complete git interface. Consumers should prefer the focused
// interfaces where possible.
type Runner interface {
	BranchOperations
	CloneOperations
	MergeOperations
	DiffOperations
	CommitOperations
	// Run executes an arbitrary git command and returns its output.
	Run(args ...string) (string, error)
}
