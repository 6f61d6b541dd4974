package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/srhall/gitcrew/internal/errors"
)

// MergeOutcome is the result of attempting one merge. A conflict is an
// expected outcome, never an error.
type MergeOutcome struct {
	Conflict bool
	Files    []string
}

// ConflictContent carries the three views of one conflicting file used by
// the resolution protocol.
type ConflictContent struct {
	Full   string // working-tree content including conflict markers
	Ours   string // stage 2 (integration branch side)
	Theirs string // stage 3 (incoming feature branch side)
}

// TestMergeConflict performs a trial merge of branch against base without
// mutating the checked-out state or history. It uses git merge-tree in
// --write-tree mode, which computes the merge entirely in the object
// database, so the current branch, index and working tree are untouched on
// both outcomes. Files that merge cleanly are never reported.
func (r *Repo) TestMergeConflict(ctx context.Context, dir, branch, base string) (bool, []string, error) {
	output, err := r.executor.Run(ctx, dir, "git", "merge-tree", "--write-tree", "--name-only", base, branch)
	if err == nil {
		return false, nil, nil
	}

	// merge-tree exits 1 when the merge has conflicts. The output then
	// starts with the merged tree OID, so anything else is real breakage.
	files, ok := parseMergeTreeConflicts(string(output))
	if !ok {
		return false, nil, errors.NewGitError("failed to run merge-tree", err).
			WithRepository(dir).
			WithBranch(branch).
			WithGitOutput(string(output))
	}
	return true, files, nil
}

// parseMergeTreeConflicts reads `merge-tree --write-tree --name-only`
// conflict output: the tree OID, one conflicted path per line, then a blank
// line and informational messages.
func parseMergeTreeConflicts(output string) ([]string, bool) {
	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")
	if len(lines) == 0 || !isObjectID(lines[0]) {
		return nil, false
	}

	var files []string
	seen := make(map[string]bool)
	for _, line := range lines[1:] {
		if line == "" {
			break
		}
		if !seen[line] {
			seen[line] = true
			files = append(files, line)
		}
	}
	return files, true
}

func isObjectID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// MergeBranch merges branch into the branch checked out in dir. A conflict
// is reported in the outcome, not as an error; the merge is left in progress
// so the resolution protocol can operate on it.
func (r *Repo) MergeBranch(ctx context.Context, dir, branch string) (MergeOutcome, error) {
	output, err := r.executor.Run(ctx, dir, "git", "merge", "--no-ff", branch)
	if err != nil {
		outputStr := string(output)
		if strings.Contains(outputStr, "CONFLICT") || strings.Contains(outputStr, "Automatic merge failed") {
			files, ferr := r.ConflictingFiles(ctx, dir)
			if ferr != nil {
				return MergeOutcome{}, ferr
			}
			return MergeOutcome{Conflict: true, Files: files}, nil
		}
		return MergeOutcome{}, errors.NewGitError("failed to merge branch "+branch, err).
			WithRepository(dir).
			WithBranch(branch).
			WithGitOutput(outputStr)
	}

	return MergeOutcome{}, nil
}

// ConflictingFiles returns files with unresolved merge conflicts in dir.
func (r *Repo) ConflictingFiles(ctx context.Context, dir string) ([]string, error) {
	output, err := r.executor.Run(ctx, dir, "git", "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, errors.NewGitError("failed to get conflicting files", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	lines := strings.TrimSpace(string(output))
	if lines == "" {
		return []string{}, nil
	}
	return strings.Split(lines, "\n"), nil
}

// GetConflictContent reads the three views of one conflicting file during an
// in-progress merge: the marker-bearing working copy plus the ours/theirs
// index stages.
func (r *Repo) GetConflictContent(ctx context.Context, dir, file string) (ConflictContent, error) {
	full, err := os.ReadFile(filepath.Join(dir, file))
	if err != nil {
		return ConflictContent{}, errors.NewGitError("failed to read conflicting file "+file, err).
			WithRepository(dir)
	}

	ours, err := r.executor.Run(ctx, dir, "git", "show", ":2:"+file)
	if err != nil {
		return ConflictContent{}, errors.NewGitError("failed to read ours stage of "+file, err).
			WithRepository(dir).
			WithGitOutput(string(ours))
	}

	theirs, err := r.executor.Run(ctx, dir, "git", "show", ":3:"+file)
	if err != nil {
		return ConflictContent{}, errors.NewGitError("failed to read theirs stage of "+file, err).
			WithRepository(dir).
			WithGitOutput(string(theirs))
	}

	return ConflictContent{
		Full:   string(full),
		Ours:   string(ours),
		Theirs: string(theirs),
	}, nil
}

// ResolveConflict writes the merged content for file and stages it.
func (r *Repo) ResolveConflict(ctx context.Context, dir, file, content string) error {
	path := filepath.Join(dir, file)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.NewGitError("failed to create parent directory for "+file, err).
			WithRepository(dir)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.NewGitError("failed to write resolved content for "+file, err).
			WithRepository(dir)
	}

	output, err := r.executor.Run(ctx, dir, "git", "add", "--", file)
	if err != nil {
		return errors.NewGitError("failed to stage resolved file "+file, err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	return nil
}

// MergeInProgress reports whether dir has an in-progress merge.
func (r *Repo) MergeInProgress(ctx context.Context, dir string) bool {
	return r.executor.RunQuiet(ctx, dir, "git", "rev-parse", "-q", "--verify", "MERGE_HEAD") == nil
}

// CompleteMerge finalizes an in-progress merge with the given message.
// Returns false (and no error) when unresolved conflicts remain.
func (r *Repo) CompleteMerge(ctx context.Context, dir, message string) (bool, error) {
	unresolved, err := r.ConflictingFiles(ctx, dir)
	if err != nil {
		return false, err
	}
	if len(unresolved) > 0 {
		return false, nil
	}

	if !r.MergeInProgress(ctx, dir) {
		// Nothing to finalize; the merge was already committed.
		return true, nil
	}

	output, err := r.executor.Run(ctx, dir, "git", "commit", "--no-edit", "-m", message)
	if err != nil {
		if strings.Contains(string(output), "nothing to commit") {
			return true, nil
		}
		return false, errors.NewGitError("failed to commit merge", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}

	return true, nil
}

// AbortMerge discards an in-progress merge, restoring a clean state.
func (r *Repo) AbortMerge(ctx context.Context, dir string) error {
	output, err := r.executor.Run(ctx, dir, "git", "merge", "--abort")
	if err != nil {
		return errors.NewGitError("failed to abort merge", err).
			WithRepository(dir).
			WithGitOutput(string(output))
	}
	return nil
}
