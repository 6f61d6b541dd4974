package errors

import (
	"fmt"
	"testing"
)

func TestGitErrorContext(t *testing.T) {
	err := NewGitError("failed to create worktree", ErrWorktreeExists).
		WithBranch("feature-x").
		WithWorktree("/ws/worktree-feature-x-ab12cd34")

	msg := err.Error()
	if want := "git error [branch=feature-x, worktree=/ws/worktree-feature-x-ab12cd34]"; len(msg) == 0 || msg[:len(want)] != want {
		t.Errorf("unexpected message prefix: %s", msg)
	}

	if !Is(err, ErrWorktreeExists) {
		t.Error("expected errors.Is to match ErrWorktreeExists")
	}

	var gitErr *GitError
	if !As(err, &gitErr) {
		t.Fatal("expected errors.As to match *GitError")
	}
	if gitErr.Branch != "feature-x" {
		t.Errorf("expected branch feature-x, got %s", gitErr.Branch)
	}
}

func TestGitErrorWrapped(t *testing.T) {
	inner := NewGitError("pull failed", ErrRemoteUnavailable)
	outer := fmt.Errorf("bootstrap: %w", inner)

	if !Is(outer, ErrRemoteUnavailable) {
		t.Error("expected wrapped sentinel to be matched")
	}
	if !IsRetryable(outer) {
		t.Error("remote unavailability should be retryable")
	}
}

func TestTaskErrorFormat(t *testing.T) {
	err := NewTaskError("tool loop aborted", ErrBudgetExceeded).
		WithTask("parser").
		WithAgent("agent-1")

	want := "task error [task=parser, agent=agent-1]: tool loop aborted: execution budget exceeded"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestIsFatal(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"not a repo", NewGitError("open repo", ErrNotGitRepository), true},
		{"session error", NewSessionError("bootstrap failed", ErrRemoteUnavailable), true},
		{"branch missing", NewGitError("checkout", ErrBranchNotFound), false},
		{"task error", NewTaskError("oops", ErrTaskFailed), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsFatal(tc.err); got != tc.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(ErrBranchNotFound) {
		t.Error("branch not found is not retryable")
	}
	if !IsRetryable(ErrTimeout) {
		t.Error("timeouts are retryable")
	}
	err := NewGitError("push failed", New("exit status 128")).WithRetryable(true)
	if !IsRetryable(err) {
		t.Error("explicitly retryable git error should report retryable")
	}
}

func TestSeverityString(t *testing.T) {
	if SeverityWarning.String() != "warning" {
		t.Errorf("unexpected severity string: %s", SeverityWarning)
	}
	if Severity(99).String() != "unknown" {
		t.Error("out-of-range severity should be unknown")
	}
}
