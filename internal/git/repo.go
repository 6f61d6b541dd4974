package git

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/srhall/gitcrew/internal/errors"
)

// Repo is a handle on one git repository. All operations are scoped to it.
type Repo struct {
	dir      string
	executor CommandExecutor
}

// Worktree describes one attached worktree.
type Worktree struct {
	Path   string
	Branch string
}

// FindGitRoot finds the root of the git repository by traversing up from
// startDir. It returns the directory containing .git (a directory for a
// normal repo, a file for a worktree).
func FindGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		gitPath := filepath.Join(dir, ".git")
		if info, err := os.Stat(gitPath); err == nil {
			if info.IsDir() || info.Mode().IsRegular() {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.NewGitError("no .git found up to filesystem root", errors.ErrNotGitRepository).
				WithRepository(startDir)
		}
		dir = parent
	}
}

// Open creates a Repo rooted at the repository containing dir.
// Fails with ErrNotGitRepository if dir is not inside a git repository.
func Open(dir string) (*Repo, error) {
	root, err := FindGitRoot(dir)
	if err != nil {
		return nil, err
	}
	return &Repo{dir: root, executor: NewCLICommandExecutor()}, nil
}

// OpenWithExecutor creates a Repo with a custom executor. The directory is
// trusted as-is; primarily useful for testing.
func OpenWithExecutor(dir string, executor CommandExecutor) *Repo {
	return &Repo{dir: dir, executor: executor}
}

// Dir returns the repository root directory.
func (r *Repo) Dir() string {
	return r.dir
}

// Executor exposes the command executor so callers can run auxiliary git
// commands in the same way the repo does.
func (r *Repo) Executor() CommandExecutor {
	return r.executor
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	return r.executor.RunQuiet(ctx, r.dir, "git", "rev-parse", "--verify", "refs/heads/"+name) == nil
}

// CreateBranchFromBase checks out base, pulls the latest, and creates and
// checks out name. If name already exists it is just checked out (idempotent).
// A base that cannot be checked out or pulled is fatal to the caller.
func (r *Repo) CreateBranchFromBase(ctx context.Context, name, base string) error {
	output, err := r.executor.Run(ctx, r.dir, "git", "checkout", base)
	if err != nil {
		return errors.NewGitError("failed to checkout base "+base, errors.ErrBranchNotFound).
			WithRepository(r.dir).
			WithBranch(base).
			WithGitOutput(string(output))
	}

	if output, err := r.executor.Run(ctx, r.dir, "git", "pull", "--ff-only"); err != nil {
		outputStr := string(output)
		// A repo with no remote is fine; an unreachable remote is not.
		if !strings.Contains(outputStr, "no tracking information") &&
			!strings.Contains(outputStr, "does not appear to be a git repository") &&
			!strings.Contains(outputStr, "No remote") {
			return errors.NewGitError("failed to pull "+base, errors.ErrRemoteUnavailable).
				WithRepository(r.dir).
				WithBranch(base).
				WithGitOutput(outputStr).
				WithRetryable(true)
		}
	}

	if r.BranchExists(ctx, name) {
		output, err := r.executor.Run(ctx, r.dir, "git", "checkout", name)
		if err != nil {
			return errors.NewGitError("failed to checkout existing branch "+name, err).
				WithRepository(r.dir).
				WithBranch(name).
				WithGitOutput(string(output))
		}
		return nil
	}

	output, err = r.executor.Run(ctx, r.dir, "git", "checkout", "-b", name)
	if err != nil {
		return errors.NewGitError("failed to create branch "+name, err).
			WithRepository(r.dir).
			WithBranch(name).
			WithGitOutput(string(output))
	}

	return nil
}

// CreateWorktree creates branch off base (when absent) and attaches a new
// worktree at path. Returns the absolute worktree path. Fails if path
// already has a worktree attached.
func (r *Repo) CreateWorktree(ctx context.Context, branch, path, base string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewGitError("failed to resolve worktree path", err).WithWorktree(path)
	}

	existing, err := r.ListWorktrees(ctx)
	if err != nil {
		return "", err
	}
	for _, wt := range existing {
		if wt.Path == abs {
			return "", errors.NewGitError("path already has a worktree attached", errors.ErrWorktreeExists).
				WithRepository(r.dir).
				WithWorktree(abs)
		}
	}

	var output []byte
	if r.BranchExists(ctx, branch) {
		output, err = r.executor.Run(ctx, r.dir, "git", "worktree", "add", abs, branch)
	} else {
		output, err = r.executor.Run(ctx, r.dir, "git", "worktree", "add", "-b", branch, abs, base)
	}
	if err != nil {
		return "", errors.NewGitError("failed to create worktree from "+base, err).
			WithRepository(r.dir).
			WithWorktree(abs).
			WithBranch(branch).
			WithGitOutput(string(output))
	}

	return abs, nil
}

// RemoveWorktree force-removes the worktree at path, falling back to manual
// removal plus prune when git refuses. A worktree that is already gone is
// treated as success, so repeated teardown is safe.
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	output, err := r.executor.Run(ctx, r.dir, "git", "worktree", "remove", "--force", path)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "is not a working tree") ||
			strings.Contains(outputStr, "No such file or directory") {
			_, _ = r.executor.Run(ctx, r.dir, "git", "worktree", "prune")
			return nil
		}

		_ = os.RemoveAll(path)
		_, _ = r.executor.Run(ctx, r.dir, "git", "worktree", "prune")

		return errors.NewGitError("failed to remove worktree cleanly", err).
			WithRepository(r.dir).
			WithWorktree(path).
			WithGitOutput(outputStr)
	}
	return nil
}

// ListWorktrees returns all attached worktrees with their checked-out branches.
func (r *Repo) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	output, err := r.executor.Run(ctx, r.dir, "git", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, errors.NewGitError("failed to list worktrees", err).
			WithRepository(r.dir).
			WithGitOutput(string(output))
	}

	var worktrees []Worktree
	var current Worktree
	for _, line := range strings.Split(string(output), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current.Path != "" {
				worktrees = append(worktrees, current)
			}
			current = Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "branch refs/heads/"):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		}
	}
	if current.Path != "" {
		worktrees = append(worktrees, current)
	}

	return worktrees, nil
}

// CleanupWorktrees force-removes every worktree whose path lies under
// workspaceDir. Idempotent: an already-clean workspace is not an error.
func (r *Repo) CleanupWorktrees(ctx context.Context, workspaceDir string) error {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		return errors.NewGitError("failed to resolve workspace path", err).WithWorktree(workspaceDir)
	}

	worktrees, err := r.ListWorktrees(ctx)
	if err != nil {
		return err
	}

	prefix := abs + string(filepath.Separator)
	for _, wt := range worktrees {
		if wt.Path != abs && !strings.HasPrefix(wt.Path, prefix) {
			continue
		}
		output, err := r.executor.Run(ctx, r.dir, "git", "worktree", "remove", "--force", wt.Path)
		if err != nil {
			// Remove what git will not and keep going.
			_ = os.RemoveAll(wt.Path)
			_ = string(output)
		}
	}

	_, _ = r.executor.Run(ctx, r.dir, "git", "worktree", "prune")
	return nil
}

// CommitAll stages all changes in dir and commits them. Returns false (and
// no error) when there is nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	output, err := r.executor.Run(ctx, dir, "git", "add", "-A")
	if err != nil {
		return false, errors.NewGitError("failed to stage changes", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	output, err = r.executor.Run(ctx, dir, "git", "commit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return false, nil
		}
		return false, errors.NewGitError("failed to commit", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	return true, nil
}

// Push pushes branch to origin from dir. Remote failures are classified as
// retryable so callers can apply the resilience policy.
func (r *Repo) Push(ctx context.Context, dir, branch string) error {
	output, err := r.executor.Run(ctx, dir, "git", "push", "-u", "origin", branch)
	if err != nil {
		if ctx.Err() != nil {
			return errors.NewGitError("push timed out", errors.ErrTimeout).
				WithRepository(dir).
				WithBranch(branch).
				WithRetryable(true)
		}
		return errors.NewGitError("failed to push", errors.ErrRemoteUnavailable).
			WithRepository(dir).
			WithBranch(branch).
			WithGitOutput(string(output)).
			WithRetryable(true)
	}
	return nil
}

// CurrentBranch returns the branch checked out in dir.
func (r *Repo) CurrentBranch(ctx context.Context, dir string) (string, error) {
	output, err := r.executor.Run(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", errors.NewGitError("failed to get current branch", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return strings.TrimSpace(string(output)), nil
}

// ListBranches returns all local branch names.
func (r *Repo) ListBranches(ctx context.Context) ([]string, error) {
	output, err := r.executor.Run(ctx, r.dir, "git", "branch", "--format=%(refname:short)")
	if err != nil {
		return nil, errors.NewGitError("failed to list branches", err).
			WithRepository(r.dir).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// RecentCommits returns the subject lines of the n most recent commits in dir.
func (r *Repo) RecentCommits(ctx context.Context, dir string, n int) ([]string, error) {
	output, err := r.executor.Run(ctx, dir, "git", "log", "-n", strconv.Itoa(n), "--pretty=format:%h %s")
	if err != nil {
		return nil, errors.NewGitError("failed to get recent commits", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// HasUncommittedChanges reports whether dir has uncommitted changes.
func (r *Repo) HasUncommittedChanges(ctx context.Context, dir string) (bool, error) {
	output, err := r.executor.Run(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		return false, errors.NewGitError("failed to check status", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return len(strings.TrimSpace(string(output))) > 0, nil
}
