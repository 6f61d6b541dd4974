package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/tasks"
	"github.com/srhall/gitcrew/internal/testutil"
)

func newProvisioner(t *testing.T) (*Provisioner, string) {
	t.Helper()
	repoDir := testutil.SetupTestRepo(t)
	repo, err := git.Open(repoDir)
	if err != nil {
		t.Fatal(err)
	}
	workspace := t.TempDir()
	return NewProvisioner(repo, workspace, "ab12cd34", "main", logging.NopLogger()), workspace
}

func TestNaming(t *testing.T) {
	p, workspace := newProvisioner(t)
	task := tasks.Task{Name: "Parser rewrite", Branch: "parser"}

	if got := p.BranchName(task); got != "parser-ab12cd34" {
		t.Errorf("BranchName = %q", got)
	}
	want := filepath.Join(workspace, "worktree-parser-ab12cd34")
	if got := p.WorktreePath(task); got != want {
		t.Errorf("WorktreePath = %q, want %q", got, want)
	}
}

func TestProvisionAndTeardown(t *testing.T) {
	p, _ := newProvisioner(t)
	ctx := context.Background()

	list := []tasks.Task{
		{Name: "a", Branch: "feat-a"},
		{Name: "b", Branch: "feat-b"},
	}
	results := p.ProvisionAll(ctx, list)
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, rec := range results {
		if rec.Skipped {
			t.Fatalf("task %s skipped: %v", rec.Task.Name, rec.Err)
		}
		if _, err := os.Stat(rec.Path); err != nil {
			t.Errorf("worktree %q missing: %v", rec.Path, err)
		}
	}

	if err := p.Teardown(ctx); err != nil {
		t.Fatalf("Teardown: %v", err)
	}
	for _, rec := range results {
		if _, err := os.Stat(rec.Path); !os.IsNotExist(err) {
			t.Errorf("worktree %q should be gone", rec.Path)
		}
	}
	// Teardown is idempotent.
	if err := p.Teardown(ctx); err != nil {
		t.Fatalf("second Teardown: %v", err)
	}
}

type failingExecutor struct{}

func (failingExecutor) Run(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	return nil, fmt.Errorf("executor down")
}

func (failingExecutor) RunQuiet(ctx context.Context, dir, name string, args ...string) error {
	return fmt.Errorf("executor down")
}

func TestProvisionFailureSkipsNotFails(t *testing.T) {
	repoDir := testutil.SetupTestRepo(t)
	repo := git.OpenWithExecutor(repoDir, failingExecutor{})
	p := NewProvisioner(repo, t.TempDir(), "ab12cd34", "main", logging.NopLogger())

	rec := p.Provision(context.Background(), tasks.Task{Name: "a", Branch: "feat-a"})
	if !rec.Skipped {
		t.Fatal("provisioning failure should mark the task skipped")
	}
	if rec.Err == nil {
		t.Error("skip record should carry the cause")
	}

	// Skipped records are remembered but never torn down.
	if err := p.Teardown(context.Background()); err != nil {
		t.Fatalf("Teardown with only skipped records: %v", err)
	}
}
