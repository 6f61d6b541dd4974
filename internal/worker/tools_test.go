package worker

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/testutil"
)

func setupTools(t *testing.T) (*Registry, *git.Repo, string) {
	t.Helper()
	repoDir := testutil.SetupTestRepo(t)
	repo, err := git.Open(repoDir)
	if err != nil {
		t.Fatal(err)
	}
	wt := filepath.Join(t.TempDir(), "wt")
	path, err := repo.CreateWorktree(context.Background(), "feat-x", wt, "main")
	if err != nil {
		t.Fatal(err)
	}
	return NewWorktreeTools(repo, path, "feat-x", "main"), repo, path
}

func TestWriteThenReadFile(t *testing.T) {
	r, _, _ := setupTools(t)
	ctx := context.Background()

	out, err := r.Execute(ctx, "write_file", `{"path":"docs/plan.md","content":"hello\n"}`)
	if err != nil {
		t.Fatalf("write_file: %v", err)
	}
	if !strings.Contains(out, "docs/plan.md") {
		t.Errorf("write result = %q", out)
	}

	got, err := r.Execute(ctx, "read_file", `{"path":"docs/plan.md"}`)
	if err != nil {
		t.Fatalf("read_file: %v", err)
	}
	if got != "hello\n" {
		t.Errorf("read back %q", got)
	}
}

func TestPathSandbox(t *testing.T) {
	r, _, _ := setupTools(t)
	ctx := context.Background()

	tests := []struct{ name, args string }{
		{"parent escape", `{"path":"../outside.txt","content":"x"}`},
		{"deep escape", `{"path":"a/../../outside.txt","content":"x"}`},
		{"absolute path", `{"path":"/etc/passwd","content":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Execute(ctx, "write_file", tt.args)
			if err == nil {
				t.Fatal("expected sandbox violation")
			}
			if !errors.Is(err, errors.ErrPathEscapesWorktree) && !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("unexpected error class: %v", err)
			}
		})
	}
}

func TestCommitAndBranchTools(t *testing.T) {
	r, _, _ := setupTools(t)
	ctx := context.Background()

	// Clean tree: commit reports no-op.
	out, err := r.Execute(ctx, "commit", `{"message":"empty"}`)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if out != "nothing to commit" {
		t.Errorf("commit on clean tree = %q", out)
	}

	if _, err := r.Execute(ctx, "write_file", `{"path":"f.txt","content":"body\n"}`); err != nil {
		t.Fatal(err)
	}
	out, err = r.Execute(ctx, "commit", `{"message":"add f"}`)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if !strings.Contains(out, "add f") {
		t.Errorf("commit result = %q", out)
	}

	branch, err := r.Execute(ctx, "current_branch", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	if branch != "feat-x" {
		t.Errorf("current_branch = %q", branch)
	}

	commits, err := r.Execute(ctx, "recent_commits", `{"count":1}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(commits, "add f") {
		t.Errorf("recent_commits = %q", commits)
	}

	branches, err := r.Execute(ctx, "list_branches", `{}`)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(branches, "feat-x") || !strings.Contains(branches, "main") {
		t.Errorf("list_branches = %q", branches)
	}
}

func TestTestConflictTool(t *testing.T) {
	r, _, _ := setupTools(t)
	ctx := context.Background()

	if _, err := r.Execute(ctx, "write_file", `{"path":"new.txt","content":"x\n"}`); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Execute(ctx, "commit", `{"message":"add new"}`); err != nil {
		t.Fatal(err)
	}

	out, err := r.Execute(ctx, "test_conflict", `{}`)
	if err != nil {
		t.Fatalf("test_conflict: %v", err)
	}
	if out != "no conflict" {
		t.Errorf("test_conflict = %q", out)
	}
}

func TestUnknownTool(t *testing.T) {
	r, _, _ := setupTools(t)
	if _, err := r.Execute(context.Background(), "launch_missiles", `{}`); err == nil {
		t.Fatal("unknown tool should error")
	}
}

func TestSpecsKeepRegistrationOrder(t *testing.T) {
	r, _, _ := setupTools(t)
	specs := r.Specs()
	if len(specs) != 8 {
		t.Fatalf("expected 8 tools, got %d", len(specs))
	}
	if specs[0].Name != "read_file" || specs[1].Name != "write_file" {
		t.Errorf("unexpected order: %s, %s", specs[0].Name, specs[1].Name)
	}
}
