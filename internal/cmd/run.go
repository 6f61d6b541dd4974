package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/srhall/gitcrew/internal/callback"
	"github.com/srhall/gitcrew/internal/config"
	"github.com/srhall/gitcrew/internal/event"
	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/merge"
	"github.com/srhall/gitcrew/internal/session"
	"github.com/srhall/gitcrew/internal/tasks"
	"github.com/srhall/gitcrew/internal/telemetry"
	"github.com/srhall/gitcrew/internal/worker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a task list: provision worktrees, execute workers, merge branches",
	RunE:  runSession,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("tasks", "", "path to the YAML task list (required unless --cleanup-only)")
	runCmd.Flags().String("team-id", "", "team identifier attached to telemetry")
	runCmd.Flags().Bool("dry-run", false, "use the offline scripted backend instead of a live model")
	runCmd.Flags().Bool("headless", false, "write telemetry to files instead of the HTTP sink")
	runCmd.Flags().Bool("cleanup-only", false, "remove leftover session worktrees and exit")
}

func runSession(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	repoDir := viper.GetString("repo")
	if repoDir == "" {
		if repoDir, err = os.Getwd(); err != nil {
			return err
		}
	}
	repo, err := git.Open(repoDir)
	if err != nil {
		return err
	}
	workspaceDir := cfg.Paths.ResolveWorkspaceDir(repo.Dir())

	logger, err := logging.NewLogger(workspaceDir, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer logger.Close()

	if cleanupOnly, _ := cmd.Flags().GetBool("cleanup-only"); cleanupOnly {
		ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
		defer cancel()
		if err := repo.CleanupWorktrees(ctx, workspaceDir); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "workspace cleaned:", workspaceDir)
		return nil
	}

	tasksPath, _ := cmd.Flags().GetString("tasks")
	if tasksPath == "" {
		return fmt.Errorf("--tasks is required")
	}
	taskList, err := tasks.Load(tasksPath)
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	backend, resolver, err := buildBackend(cfg, dryRun, logger)
	if err != nil {
		return err
	}

	headless, _ := cmd.Flags().GetBool("headless")
	sink, err := buildSink(cfg, workspaceDir, headless)
	if err != nil {
		return err
	}

	bus := event.NewBus()
	var notifier *callback.Notifier
	if cfg.Session.StatusCallbackURL != "" {
		notifier = callback.NewNotifier(cfg.Session.StatusCallbackURL, logger)
		notifier.Attach(bus)
		defer notifier.Detach(bus)
	}

	teamID, _ := cmd.Flags().GetString("team-id")
	s, err := session.New(session.Options{
		Config:   cfg,
		RepoDir:  repo.Dir(),
		Tasks:    taskList,
		TeamID:   teamID,
		Backend:  backend,
		Resolver: resolver,
		Sink:     sink,
		Bus:      bus,
		Logger:   logger,
		Observe:  true,
	})
	if err != nil {
		return err
	}

	// A signal cancels the run; the session keeps its worktrees on disk so
	// partial work can be inspected.
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("session starting",
		"session", s.ID(), "tasks", len(taskList), "dry_run", dryRun)
	result, err := s.Run(ctx)
	if result != nil {
		renderSummary(cmd.OutOrStdout(), result)
	}
	if err != nil {
		return err
	}
	if !result.Succeeded() {
		return fmt.Errorf("session %s finished with failures", s.ID())
	}
	return nil
}

// buildBackend picks the reasoning backend and a matching conflict
// resolver. Dry runs stay fully offline: scripted backend, mechanical
// resolver.
func buildBackend(cfg *config.Config, dryRun bool, logger *logging.Logger) (worker.Backend, merge.Resolver, error) {
	if dryRun {
		return worker.NewDryRunBackend(200 * time.Millisecond),
			merge.NewRuleResolver(merge.StrategyUnion, logger), nil
	}
	backend, err := worker.NewOpenAIBackend(worker.OpenAIOptions{
		Model:     cfg.Backend.Model,
		APIKeyEnv: cfg.Backend.APIKeyEnv,
		BaseURL:   cfg.Backend.BaseURL,
	})
	if err != nil {
		return nil, nil, err
	}
	return backend, merge.NewLLMResolver(backend, cfg.Backend.Model, logger), nil
}

func buildSink(cfg *config.Config, workspaceDir string, headless bool) (telemetry.Sink, error) {
	if !headless && cfg.Telemetry.SinkURL != "" {
		return telemetry.NewHTTPSink(cfg.Telemetry.SinkURL, nil), nil
	}
	sink, err := telemetry.NewFileSink(filepath.Join(workspaceDir, "telemetry"))
	if err != nil {
		return nil, err
	}
	return sink, nil
}
