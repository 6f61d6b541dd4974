// Package session is the composition root: it owns the task list and
// drives the provision, execute, push, merge and cleanup phases.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/srhall/gitcrew/internal/config"
	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/event"
	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/merge"
	"github.com/srhall/gitcrew/internal/pr"
	"github.com/srhall/gitcrew/internal/tasks"
	"github.com/srhall/gitcrew/internal/telemetry"
	"github.com/srhall/gitcrew/internal/worker"
	"github.com/srhall/gitcrew/internal/worktree"
)

// NewID returns a session identifier: the first 8 hex characters of a
// random UUID. Unique enough across sessions run in quick succession.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// TaskOutcome is the terminal state of one task in the session.
type TaskOutcome struct {
	Task    tasks.Task
	Branch  string
	Status  worker.Status
	Skipped bool
	Err     error
}

// Result is the session's overall outcome.
type Result struct {
	SessionID         string
	IntegrationBranch string
	Outcomes          []TaskOutcome
	Merge             merge.Result
	Summary           telemetry.RunSummary
}

// Succeeded reports whether every non-skipped task completed and every
// completed branch merged.
func (r *Result) Succeeded() bool {
	for _, o := range r.Outcomes {
		if !o.Skipped && o.Status != worker.StatusCompleted {
			return false
		}
	}
	return r.Merge.Success
}

// Options assemble a Session.
type Options struct {
	Config   *config.Config
	RepoDir  string
	Tasks    []tasks.Task
	TeamID   string
	Backend  worker.Backend
	Resolver merge.Resolver
	Sink     telemetry.Sink
	Bus      *event.Bus
	Logger   *logging.Logger
	// Observe adds the filesystem watcher as a secondary telemetry path.
	Observe bool
}

// Session coordinates one run: N workers in parallel worktrees, then a
// sequential merge into the integration branch, telemetry throughout.
type Session struct {
	id           string
	opts         Options
	repo         *git.Repo
	workspaceDir string
	logger       *logging.Logger

	provisioner *worktree.Provisioner
	collector   *telemetry.Collector
	observer    *telemetry.Observer

	phaseMu sync.Mutex
	phase   string

	lock *Lock

	cleanupOnce sync.Once
	canceled    bool
}

func New(opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if len(opts.Tasks) == 0 {
		return nil, errors.NewSessionError("no tasks to run", errors.ErrInvalidInput)
	}

	repo, err := git.Open(opts.RepoDir)
	if err != nil {
		return nil, err
	}

	id := NewID()
	logger := opts.Logger.WithSession(id)
	workspaceDir := opts.Config.Paths.ResolveWorkspaceDir(repo.Dir())

	s := &Session{
		id:           id,
		opts:         opts,
		repo:         repo,
		workspaceDir: workspaceDir,
		logger:       logger,
		phase:        "created",
	}
	// Feature branches are cut from the integration branch, never from the
	// trunk directly, so the integration branch stays an ancestor of every
	// task branch it later merges.
	s.provisioner = worktree.NewProvisioner(repo, workspaceDir, id, s.IntegrationBranch(), logger)
	s.collector = telemetry.NewCollector(telemetry.CollectorOptions{
		TeamID:         opts.TeamID,
		SessionID:      id,
		Interval:       opts.Config.Telemetry.CollectInterval(),
		Sink:           opts.Sink,
		Logger:         logger,
		GitActivityCap: opts.Config.Telemetry.GitActivityCap,
		ToolCallCap:    opts.Config.Telemetry.ToolCallCap,
		ActivityLogCap: opts.Config.Telemetry.ActivityLogCap,
	})
	if opts.Observe {
		observer, err := telemetry.NewObserver(s.collector, logger, nil)
		if err != nil {
			logger.Warn("filesystem observer unavailable", "error", err)
		} else {
			s.observer = observer
		}
	}
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) IntegrationBranch() string {
	return "integration/" + s.id
}

// Collector exposes the telemetry collector, e.g. for a log scraper.
func (s *Session) Collector() *telemetry.Collector { return s.collector }

func (s *Session) setPhase(phase string) {
	s.phaseMu.Lock()
	previous := s.phase
	s.phase = phase
	s.phaseMu.Unlock()

	s.opts.Bus.Publish(event.NewPhaseChangeEvent(s.id, previous, phase))
	s.logger.Info("phase change", "from", previous, "to", phase)
}

// Phase is the session's current phase name.
func (s *Session) Phase() string {
	s.phaseMu.Lock()
	defer s.phaseMu.Unlock()
	return s.phase
}

// Run executes the whole session. The returned Result is populated as far
// as the run got even when err is non-nil. Cleanup always runs, except that
// a canceled context leaves worktrees in place for inspection.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	result := &Result{SessionID: s.id, IntegrationBranch: s.IntegrationBranch()}

	lock, err := AcquireLock(s.workspaceDir, s.id)
	if err != nil {
		return result, errors.NewSessionError("workspace unavailable", err).
			WithSessionID(s.id).WithPhase("provision")
	}
	s.lock = lock

	defer func() {
		s.canceled = ctx.Err() != nil
		s.Cleanup()
		result.Summary = s.collector.Summary()
	}()

	s.collector.Start(ctx)
	if s.observer != nil {
		s.observer.Start()
	}

	// Provision phase: the integration branch is created first, before any
	// feature work, then one worktree per task. Bootstrap failure is fatal;
	// individual worktree failures skip their task.
	s.setPhase("provision")
	if err := s.repo.CreateBranchFromBase(ctx, s.IntegrationBranch(), s.opts.Config.Git.MainBranch); err != nil {
		return result, errors.NewSessionError("integration branch bootstrap failed", err).
			WithSessionID(s.id).WithPhase("provision")
	}
	provisioned := s.provisioner.ProvisionAll(ctx, s.opts.Tasks)
	runnable := make([]worktree.Provisioned, 0, len(provisioned))
	for _, rec := range provisioned {
		if rec.Skipped {
			result.Outcomes = append(result.Outcomes, TaskOutcome{
				Task: rec.Task, Branch: rec.Branch, Skipped: true, Err: rec.Err,
			})
			continue
		}
		runnable = append(runnable, rec)
		if s.observer != nil {
			if err := s.observer.AddWorktree(rec.Task.Name, rec.Path); err != nil {
				s.logger.Warn("observer watch failed", "path", rec.Path, "error", err)
			}
		}
	}
	if len(runnable) == 0 {
		return result, errors.NewSessionError("every task failed provisioning", errors.ErrTaskFailed).
			WithSessionID(s.id).WithPhase("provision")
	}

	// Execute phase: all workers in parallel, hard barrier at the end.
	s.setPhase("execute")
	outcomes := s.execute(ctx, runnable)
	result.Outcomes = append(result.Outcomes, outcomes...)

	if err := ctx.Err(); err != nil {
		return result, errors.NewSessionError("session canceled", errors.ErrCanceled).
			WithSessionID(s.id).WithPhase("execute")
	}

	// Push phase: feature branches go up before merging so remote state
	// mirrors what the coordinator consumes. Failures are retryable noise.
	s.setPhase("push")
	s.pushBranches(ctx, outcomes)

	// Merge phase: completed branches only, in task-list order.
	s.setPhase("merge")
	branches := make([]string, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status == worker.StatusCompleted {
			branches = append(branches, o.Branch)
		}
	}
	coordinator := merge.NewCoordinator(merge.Options{
		Repo:     s.repo,
		Dir:      s.repo.Dir(),
		Resolver: s.opts.Resolver,
		Bus:      s.opts.Bus,
		Logger:   s.logger,
	})
	mergeResult, err := coordinator.MergeBranches(ctx, branches, s.opts.Config.Git.MainBranch, s.IntegrationBranch())
	result.Merge = mergeResult
	if err != nil {
		return result, err
	}

	if s.opts.Config.Git.CreatePR && mergeResult.Success {
		s.setPhase("pr")
		s.createPR(ctx, outcomes, mergeResult)
	}

	s.setPhase("done")
	return result, nil
}

// execute runs every provisioned worker concurrently and waits for all of
// them. Worker failures do not cancel siblings; the barrier is absolute.
func (s *Session) execute(ctx context.Context, runnable []worktree.Provisioned) []TaskOutcome {
	outcomes := make([]TaskOutcome, len(runnable))

	healthCtx, stopHealth := context.WithCancel(ctx)
	workers := make([]*worker.Worker, len(runnable))

	g := new(errgroup.Group)
	for i, rec := range runnable {
		s.collector.Track(rec.Task.Name)
		w := worker.New(worker.Options{
			Task:         rec.Task,
			Branch:       rec.Branch,
			WorktreePath: rec.Path,
			Repo:         s.repo,
			Backend:      s.opts.Backend,
			Registry: worker.NewWorktreeTools(s.repo, rec.Path, rec.Branch,
				s.IntegrationBranch()),
			Budget: worker.Budget{
				MaxIterations: s.opts.Config.Worker.MaxIterations,
				MaxTokens:     int(s.opts.Config.Worker.MaxTokens),
			},
			Model:  s.opts.Config.Backend.Model,
			Sink:   s.collector,
			Bus:    s.opts.Bus,
			Logger: s.logger,
		})
		workers[i] = w

		i, rec := i, rec
		g.Go(func() error {
			out := w.Run(ctx)
			outcomes[i] = TaskOutcome{
				Task:   rec.Task,
				Branch: rec.Branch,
				Status: out.Status,
				Err:    out.Err,
			}
			return nil
		})
	}

	go s.healthLoop(healthCtx, workers)
	_ = g.Wait()
	stopHealth()
	return outcomes
}

// healthLoop periodically reports worker liveness and flags agents that
// have gone quiet for more than one check interval.
func (s *Session) healthLoop(ctx context.Context, workers []*worker.Worker) {
	interval := s.opts.Config.Session.CheckInterval()
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, w := range workers {
				status := w.Status()
				if status != worker.StatusRunning {
					continue
				}
				last := s.collector.Runtime(w.Name()).LastEvent()
				if !last.IsZero() && time.Since(last) > interval {
					s.logger.Warn("worker appears stalled",
						"agent", w.Name(), "last_event", last.Format(time.RFC3339))
				} else {
					s.logger.Debug("worker healthy", "agent", w.Name())
				}
			}
		}
	}
}

func (s *Session) pushBranches(ctx context.Context, outcomes []TaskOutcome) {
	for _, o := range outcomes {
		if o.Status != worker.StatusCompleted {
			continue
		}
		pushCtx, cancel := context.WithTimeout(ctx, s.opts.Config.Git.RemoteTimeout())
		err := s.repo.Push(pushCtx, s.repo.Dir(), o.Branch)
		cancel()
		if err != nil {
			s.logger.Warn("branch push failed", "branch", o.Branch, "error", err)
		}
	}
}

// createPR opens a PR for the integration branch through the gh CLI.
// Provider APIs are out of scope, so a missing or failing gh is only a
// warning.
func (s *Session) createPR(ctx context.Context, outcomes []TaskOutcome, mergeResult merge.Result) {
	lines := make([]pr.TaskLine, 0, len(outcomes))
	for _, o := range outcomes {
		status := string(o.Status)
		if o.Skipped {
			status = "skipped"
		}
		lines = append(lines, pr.TaskLine{Name: o.Task.Name, Branch: o.Branch, Status: status})
	}
	content, err := pr.BuildContent(pr.TemplateData{
		SessionID:         s.id,
		IntegrationBranch: s.IntegrationBranch(),
		Tasks:             lines,
		MergedBranches:    mergeResult.MergedBranches,
	})
	if err != nil {
		s.logger.Warn("pr content rendering failed", "error", err)
		return
	}
	url, err := pr.Create(ctx, &git.CLICommandExecutor{}, s.repo.Dir(), pr.Options{
		Title: content.Title,
		Body:  content.Body,
		Head:  s.IntegrationBranch(),
		Base:  s.opts.Config.Git.MainBranch,
	})
	if err != nil {
		s.logger.Warn("pr creation failed", "error", err)
		return
	}
	s.opts.Bus.Publish(event.NewPRCreatedEvent(s.IntegrationBranch(), url))
	s.logger.Info("pr created", "url", url)
}

// Cleanup tears down telemetry and worktrees. Idempotent and safe to call
// from a signal handler. A canceled run keeps its worktrees on disk so the
// partial work can be inspected.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		s.setPhase("cleanup")
		if s.observer != nil {
			s.observer.Stop()
		}
		s.collector.Stop()
		defer func() {
			if err := s.lock.Release(); err != nil {
				s.logger.Warn("workspace lock release failed", "error", err)
			}
		}()

		if s.canceled {
			s.logger.Info("session canceled, leaving worktrees for inspection",
				"workspace", s.workspaceDir)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.provisioner.Teardown(ctx); err != nil {
			s.logger.Warn("worktree teardown incomplete", "error", err)
		}
		if err := s.repo.CleanupWorktrees(ctx, s.workspaceDir); err != nil {
			s.logger.Warn("workspace cleanup incomplete", "error", err)
		}
	})
}
