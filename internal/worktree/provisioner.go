// Package worktree allocates one isolated working directory and branch per
// task, and owns their teardown.
package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/tasks"
)

// Provisioned records the worktree allocated for a task. Skipped is set when
// provisioning failed and the session should carry on without this task.
type Provisioned struct {
	Task    tasks.Task
	Branch  string
	Path    string
	Skipped bool
	Err     error
}

// Provisioner computes deterministic worktree paths and branch names for a
// session and keeps the mapping so cleanup can find everything it created.
type Provisioner struct {
	repo         *git.Repo
	workspaceDir string
	sessionID    string
	baseBranch   string
	logger       *logging.Logger

	mu          sync.Mutex
	provisioned []Provisioned
}

func NewProvisioner(repo *git.Repo, workspaceDir, sessionID, baseBranch string, logger *logging.Logger) *Provisioner {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Provisioner{
		repo:         repo,
		workspaceDir: workspaceDir,
		sessionID:    sessionID,
		baseBranch:   baseBranch,
		logger:       logger,
	}
}

// BranchName is the session-scoped branch for a task.
func (p *Provisioner) BranchName(task tasks.Task) string {
	return fmt.Sprintf("%s-%s", task.Branch, p.sessionID)
}

// WorktreePath is the deterministic location of a task's worktree.
func (p *Provisioner) WorktreePath(task tasks.Task) string {
	return filepath.Join(p.workspaceDir, fmt.Sprintf("worktree-%s-%s", task.Branch, p.sessionID))
}

// Provision creates the branch and worktree for one task. Failures do not
// propagate as errors: the returned record is marked Skipped and the session
// continues with the remaining tasks.
func (p *Provisioner) Provision(ctx context.Context, task tasks.Task) Provisioned {
	result := Provisioned{
		Task:   task,
		Branch: p.BranchName(task),
		Path:   p.WorktreePath(task),
	}

	path, err := p.repo.CreateWorktree(ctx, result.Branch, result.Path, p.baseBranch)
	if err != nil {
		p.logger.Warn("worktree provisioning failed, skipping task",
			"task", task.Name, "branch", result.Branch, "error", err)
		result.Skipped = true
		result.Err = err
	} else {
		result.Path = path
		p.initSubmodules(ctx, task, path)
		p.logger.Info("worktree provisioned",
			"task", task.Name, "branch", result.Branch, "path", path)
	}

	p.mu.Lock()
	p.provisioned = append(p.provisioned, result)
	p.mu.Unlock()
	return result
}

// initSubmodules populates submodules in a new worktree. A worker in a
// worktree with empty submodule directories would see a broken checkout,
// but a failing init is not worth skipping the task over.
func (p *Provisioner) initSubmodules(ctx context.Context, task tasks.Task, path string) {
	modules, err := Submodules(p.repo.Dir())
	if err != nil {
		p.logger.Warn("submodule inspection failed", "task", task.Name, "error", err)
		return
	}
	if len(modules) == 0 {
		return
	}
	if err := InitSubmodules(ctx, p.repo.Executor(), path); err != nil {
		p.logger.Warn("submodule init failed", "task", task.Name, "path", path, "error", err)
	}
}

// ProvisionAll provisions every task in order and returns the records,
// skipped ones included.
func (p *Provisioner) ProvisionAll(ctx context.Context, list []tasks.Task) []Provisioned {
	results := make([]Provisioned, 0, len(list))
	for _, task := range list {
		results = append(results, p.Provision(ctx, task))
	}
	return results
}

// Provisioned returns a copy of every record created so far.
func (p *Provisioner) Provisioned() []Provisioned {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Provisioned, len(p.provisioned))
	copy(out, p.provisioned)
	return out
}

// Teardown removes every worktree this provisioner created. Safe to call
// more than once; worktrees already gone are not an error.
func (p *Provisioner) Teardown(ctx context.Context) error {
	var firstErr error
	for _, rec := range p.Provisioned() {
		if rec.Skipped {
			continue
		}
		if err := p.repo.RemoveWorktree(ctx, rec.Path); err != nil {
			p.logger.Warn("failed to remove worktree", "path", rec.Path, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
