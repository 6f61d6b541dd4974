// Package merge drives the sequential integration of task branches and the
// conflict-resolution protocol around it.
package merge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/event"
	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
)

// Phase is the coordinator's position in the merge state machine.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseMerging    Phase = "merging"
	PhaseResolving  Phase = "resolving"
	PhaseAllMerged  Phase = "all_merged"
	PhaseFailed     Phase = "failed"
)

// State is an observable snapshot of coordinator progress.
type State struct {
	Phase       Phase
	BranchIndex int
	Branch      string
}

// Result reports the outcome of one integration run. Branches merge in input
// order; the run halts at the first branch whose conflict cannot be resolved.
type Result struct {
	Success           bool     `json:"success"`
	IntegrationBranch string   `json:"integration_branch"`
	MergedBranches    []string `json:"merged_branches"`
	FailedBranch      string   `json:"failed_branch,omitempty"`
	ConflictFiles     []string `json:"conflicting_files,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
}

// ConflictTools is the fixed protocol surface a resolver works through.
// Resolve rejects content that still carries conflict markers.
type ConflictTools interface {
	ListConflicts(ctx context.Context) ([]string, error)
	GetContent(ctx context.Context, file string) (git.ConflictContent, error)
	Resolve(ctx context.Context, file, content string) error
	CompleteMerge(ctx context.Context, message string) (bool, error)
}

// Request describes one conflicted merge handed to a resolver.
type Request struct {
	Branch            string
	IntegrationBranch string
	Files             []string
}

// Resolver is any capability that can settle a conflicted merge through
// ConflictTools. Returning nil means every file was resolved and
// CompleteMerge was invoked.
type Resolver interface {
	ResolveConflicts(ctx context.Context, req Request, tools ConflictTools) error
}

// Options assemble a Coordinator. Resolver may be nil, in which case any
// conflict fails the run. Bus and Logger may be nil.
type Options struct {
	Repo     *git.Repo
	Dir      string // integration checkout, normally the main repository
	Resolver Resolver
	Bus      *event.Bus
	Logger   *logging.Logger
}

// Coordinator merges task branches one at a time into the integration
// branch. Only one coordinator may operate on a repository at a time.
type Coordinator struct {
	opts Options

	mu    sync.RWMutex
	state State
}

func NewCoordinator(opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	opts.Logger = opts.Logger.WithPhase("merge")
	return &Coordinator{opts: opts, state: State{Phase: PhaseNotStarted}}
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// MergeBranches merges each branch into integrationBranch in order.
// An unresolvable conflict halts the run: remaining branches are not
// attempted and the partial result reports which branch failed. Only
// infrastructure failures (integration bootstrap, git breakage) return a
// non-nil error.
func (c *Coordinator) MergeBranches(ctx context.Context, branches []string, base, integrationBranch string) (Result, error) {
	result := Result{IntegrationBranch: integrationBranch, MergedBranches: []string{}}

	// Bootstrap is the one fatal step: without the integration branch
	// there is nothing to merge into.
	if err := c.opts.Repo.CreateBranchFromBase(ctx, integrationBranch, base); err != nil {
		c.setState(State{Phase: PhaseFailed})
		return result, errors.NewSessionError("integration branch bootstrap failed", err).
			WithPhase("merge")
	}

	for i, branch := range branches {
		c.setState(State{Phase: PhaseMerging, BranchIndex: i, Branch: branch})
		c.opts.Logger.Info("merging branch", "branch", branch, "index", i)

		if !c.opts.Repo.BranchExists(ctx, branch) {
			c.opts.Logger.Warn("branch missing, skipping", "branch", branch)
			continue
		}

		outcome, err := c.opts.Repo.MergeBranch(ctx, c.opts.Dir, branch)
		if err != nil {
			if c.opts.Repo.MergeInProgress(ctx, c.opts.Dir) {
				_ = c.opts.Repo.AbortMerge(ctx, c.opts.Dir)
			}
			c.setState(State{Phase: PhaseFailed, BranchIndex: i, Branch: branch})
			result.FailedBranch = branch
			result.FailureReason = err.Error()
			c.publishMerge(branch, false, nil)
			return result, nil
		}

		if outcome.Conflict {
			c.setState(State{Phase: PhaseResolving, BranchIndex: i, Branch: branch})
			if resolveErr := c.resolve(ctx, branch, integrationBranch, outcome.Files); resolveErr != nil {
				c.setState(State{Phase: PhaseFailed, BranchIndex: i, Branch: branch})
				result.FailedBranch = branch
				result.ConflictFiles = outcome.Files
				result.FailureReason = resolveErr.Error()
				c.publishMerge(branch, false, outcome.Files)
				c.opts.Logger.Error("conflict resolution failed, halting",
					"branch", branch, "files", outcome.Files, "error", resolveErr)
				return result, nil
			}
		}

		result.MergedBranches = append(result.MergedBranches, branch)
		c.publishMerge(branch, true, outcome.Files)
		c.pushIntegration(ctx, integrationBranch)
	}

	c.setState(State{Phase: PhaseAllMerged, BranchIndex: len(branches)})
	result.Success = true
	return result, nil
}

// resolve runs the resolver, then verifies the merge actually concluded.
// A resolver that claims success while the merge is still open gets one
// deterministic CompleteMerge fallback; if that cannot finish either, the
// merge is aborted so the repository is left clean.
func (c *Coordinator) resolve(ctx context.Context, branch, integrationBranch string, files []string) error {
	fail := func(cause error) error {
		if abortErr := c.opts.Repo.AbortMerge(ctx, c.opts.Dir); abortErr != nil {
			c.opts.Logger.Error("merge abort failed", "branch", branch, "error", abortErr)
		}
		return cause
	}

	if c.opts.Resolver == nil {
		return fail(errors.NewGitError("no conflict resolver configured", errors.ErrUnresolvedConflicts).
			WithBranch(branch))
	}

	tools := &conflictTools{repo: c.opts.Repo, dir: c.opts.Dir, branch: branch}
	req := Request{Branch: branch, IntegrationBranch: integrationBranch, Files: files}
	if err := c.opts.Resolver.ResolveConflicts(ctx, req, tools); err != nil {
		return fail(err)
	}

	if c.opts.Repo.MergeInProgress(ctx, c.opts.Dir) {
		c.opts.Logger.Warn("resolver returned without completing the merge, finalizing",
			"branch", branch)
		committed, err := c.opts.Repo.CompleteMerge(ctx, c.opts.Dir,
			fmt.Sprintf("Merge branch '%s'", branch))
		if err != nil {
			return fail(err)
		}
		if !committed {
			return fail(errors.NewGitError("unresolved conflicts remain", errors.ErrUnresolvedConflicts).
				WithBranch(branch))
		}
	}
	return nil
}

// pushIntegration pushes after each successful merge. Remote trouble is
// logged and the run continues; the local integration branch is the source
// of truth.
func (c *Coordinator) pushIntegration(ctx context.Context, integrationBranch string) {
	if err := c.opts.Repo.Push(ctx, c.opts.Dir, integrationBranch); err != nil {
		c.opts.Logger.Warn("integration push failed", "branch", integrationBranch, "error", err)
	}
}

func (c *Coordinator) publishMerge(branch string, merged bool, files []string) {
	if c.opts.Bus != nil {
		c.opts.Bus.Publish(event.NewMergeBranchEvent(branch, merged, files))
	}
}

// conflictTools adapts the repository to the resolver protocol and enforces
// that staged content is marker-free.
type conflictTools struct {
	repo   *git.Repo
	dir    string
	branch string
}

func (t *conflictTools) ListConflicts(ctx context.Context) ([]string, error) {
	return t.repo.ConflictingFiles(ctx, t.dir)
}

func (t *conflictTools) GetContent(ctx context.Context, file string) (git.ConflictContent, error) {
	return t.repo.GetConflictContent(ctx, t.dir, file)
}

func (t *conflictTools) Resolve(ctx context.Context, file, content string) error {
	if hasConflictMarkers(content) {
		return errors.NewGitError(
			fmt.Sprintf("resolved content for %s still contains conflict markers", file),
			errors.ErrUnresolvedConflicts).WithBranch(t.branch)
	}
	return t.repo.ResolveConflict(ctx, t.dir, file, content)
}

func (t *conflictTools) CompleteMerge(ctx context.Context, message string) (bool, error) {
	if message == "" {
		message = fmt.Sprintf("Merge branch '%s'", t.branch)
	}
	return t.repo.CompleteMerge(ctx, t.dir, message)
}

func hasConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") ||
			strings.HasPrefix(line, "=======") ||
			strings.HasPrefix(line, ">>>>>>>") {
			return true
		}
	}
	return false
}
