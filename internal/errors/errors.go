// Package errors provides centralized error definitions and handling
// utilities for gitcrew. It defines domain-specific errors (git, task,
// session), sentinel errors for common conditions, and classification
// helpers used by the orchestration resilience policy.
//
// A merge conflict is deliberately NOT represented here: conflicts are a
// first-class return value of the merge layer, not an error condition.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions so callers can import only this
// package for error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Git-related sentinel errors.
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	// Fatal at construction of a repository handle.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchNotFound indicates that a branch could not be found. The caller
	// decides whether this is fatal: skip-and-warn for tasks, fatal for
	// session bootstrap.
	ErrBranchNotFound = New("branch not found")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
	// ErrWorktreeExists indicates that a path already has a worktree attached.
	ErrWorktreeExists = New("worktree already exists")
	// ErrWorktreeNotFound indicates that a worktree could not be found.
	ErrWorktreeNotFound = New("worktree not found")
	// ErrRemoteUnavailable indicates that the remote could not be reached.
	// Retryable; fatal only when it blocks integration-branch bootstrap.
	ErrRemoteUnavailable = New("remote unavailable")
	// ErrMergeInProgress indicates an unexpected in-progress merge.
	ErrMergeInProgress = New("merge in progress")
	// ErrUnresolvedConflicts indicates staged content still carries conflicts.
	ErrUnresolvedConflicts = New("unresolved conflicts remain")
)

// Task-related sentinel errors.
var (
	// ErrBudgetExceeded indicates a worker exhausted its iteration or token budget.
	ErrBudgetExceeded = New("execution budget exceeded")
	// ErrTaskFailed indicates that a task execution failed.
	ErrTaskFailed = New("task failed")
	// ErrPathEscapesWorktree indicates a tool path resolved outside the worktree.
	ErrPathEscapesWorktree = New("path escapes worktree")
)

// General sentinel errors.
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	severity  Severity
	retryable bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

// -----------------------------------------------------------------------------
// GitError
// -----------------------------------------------------------------------------

// GitError represents errors from git operations (worktrees, branches,
// commits, pushes). Captured git output is kept for diagnostics.
//
// Example:
//
//	err := errors.NewGitError("failed to create worktree", errors.ErrWorktreeExists).
//		WithBranch("feature-x").WithWorktree("/ws/worktree-feature-x-ab12cd34")
type GitError struct {
	baseError
	Branch     string
	Worktree   string
	Repository string
	GitOutput  string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithBranch adds a branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithWorktree adds a worktree path to the error context.
func (e *GitError) WithWorktree(path string) *GitError {
	e.Worktree = path
	return e
}

// WithRepository adds a repository path to the error context.
func (e *GitError) WithRepository(path string) *GitError {
	e.Repository = path
	return e
}

// WithGitOutput adds captured git command output to the error context.
func (e *GitError) WithGitOutput(output string) *GitError {
	e.GitOutput = output
	return e
}

// WithRetryable sets whether the error is retryable.
func (e *GitError) WithRetryable(r bool) *GitError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	if e.Worktree != "" {
		parts = append(parts, fmt.Sprintf("worktree=%s", e.Worktree))
	}

	prefix := "git error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("git error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// TaskError
// -----------------------------------------------------------------------------

// TaskError represents an error scoped to one feature task. Task errors are
// task-local: one failing task never aborts the session.
type TaskError struct {
	baseError
	Task  string
	Agent string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityError,
		},
	}
}

// WithTask adds a task name to the error context.
func (e *TaskError) WithTask(task string) *TaskError {
	e.Task = task
	return e
}

// WithAgent adds an agent name to the error context.
func (e *TaskError) WithAgent(agent string) *TaskError {
	e.Agent = agent
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.Task != "" {
		parts = append(parts, fmt.Sprintf("task=%s", e.Task))
	}
	if e.Agent != "" {
		parts = append(parts, fmt.Sprintf("agent=%s", e.Agent))
	}

	prefix := "task error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("task error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// SessionError
// -----------------------------------------------------------------------------

// SessionError represents a fatal error in session orchestration.
type SessionError struct {
	baseError
	SessionID string
	Phase     string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithSessionID adds the session identifier to the error context.
func (e *SessionError) WithSessionID(id string) *SessionError {
	e.SessionID = id
	return e
}

// WithPhase adds the orchestration phase to the error context.
func (e *SessionError) WithPhase(phase string) *SessionError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	var parts []string
	if e.SessionID != "" {
		parts = append(parts, fmt.Sprintf("session=%s", e.SessionID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}

	prefix := "session error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("session error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// classifier is implemented by errors that carry retry classification.
type classifier interface {
	IsRetryable() bool
}

// IsRetryable reports whether the error is transient and the operation may
// succeed on retry. Remote unavailability and timeouts are retryable by
// default.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrRemoteUnavailable) || Is(err, ErrTimeout) {
		return true
	}
	var c classifier
	if As(err, &c) {
		return c.IsRetryable()
	}
	return false
}

// IsFatal reports whether the error must abort the session: a missing
// repository or a session-level failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if Is(err, ErrNotGitRepository) {
		return true
	}
	var se *SessionError
	return As(err, &se)
}
