package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/event"
	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/tasks"
	"github.com/srhall/gitcrew/internal/telemetry"
)

// Status is the worker task lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Budget bounds a worker loop. Exceeding either limit fails the task.
type Budget struct {
	MaxIterations int
	MaxTokens     int
}

// Outcome is the terminal result of one worker run.
type Outcome struct {
	Status       Status
	Iterations   int
	TotalTokens  int
	FinalMessage string
	Err          error
}

// Options assemble a worker. Sink, Bus and Logger may be nil.
type Options struct {
	Task         tasks.Task
	Branch       string
	WorktreePath string
	Repo         *git.Repo
	Backend      Backend
	Registry     *Registry
	Budget       Budget
	Model        string
	Sink         telemetry.EventSink
	Bus          *event.Bus
	Logger       *logging.Logger
}

// Worker drives a single task. The backend decides what to do; the worker
// executes tool calls, feeds results back, and enforces budgets.
type Worker struct {
	opts Options

	mu     sync.RWMutex
	status Status
}

func New(opts Options) *Worker {
	if opts.Sink == nil {
		opts.Sink = telemetry.NopSink{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	opts.Logger = opts.Logger.WithAgent(opts.Task.Name)
	return &Worker{opts: opts, status: StatusPending}
}

// Name is the agent identity used for telemetry attribution.
func (w *Worker) Name() string { return w.opts.Task.Name }

func (w *Worker) Status() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.status
}

func (w *Worker) setStatus(s Status, errMsg string) {
	w.mu.Lock()
	w.status = s
	w.mu.Unlock()

	if w.opts.Bus != nil {
		evt := event.NewTaskStatusEvent(w.opts.Task.Name, w.opts.Task.WorkItemID, event.TaskStatus(s)).
			WithDetail(w.Name(), w.opts.Branch, w.opts.WorktreePath)
		if errMsg != "" {
			evt = evt.WithError(errMsg)
		}
		w.opts.Bus.Publish(evt)
	}
}

func (w *Worker) systemPrompt() string {
	return fmt.Sprintf(
		"You are an autonomous software developer working in an isolated git worktree "+
			"on branch %q. Complete the assigned task by reading and writing files and "+
			"committing your work. All paths are relative to the worktree root. "+
			"Commit before you finish. When the task is done, reply without tool calls.",
		w.opts.Branch)
}

func (w *Worker) userPrompt() string {
	t := w.opts.Task
	prompt := t.Description
	if prompt == "" {
		prompt = t.Name
	}
	if t.Role != "" {
		prompt = fmt.Sprintf("Role: %s\n\n%s", t.Role, prompt)
	}
	if t.Goal != "" && t.Goal != t.Description {
		prompt = fmt.Sprintf("%s\n\nGoal: %s", prompt, t.Goal)
	}
	return prompt
}

// Run executes the task loop to a terminal state. Tool failures are folded
// into the conversation as text; only infrastructure errors and exhausted
// budgets fail the task.
func (w *Worker) Run(ctx context.Context) Outcome {
	w.setStatus(StatusRunning, "")
	w.opts.Sink.Emit(telemetry.NewTaskStartedEvent(w.Name(), w.opts.Task.Name))
	w.opts.Logger.Info("task started", "task", w.opts.Task.Name, "branch", w.opts.Branch)

	outcome := w.loop(ctx)

	switch outcome.Status {
	case StatusCompleted:
		w.finalCommit(ctx)
		w.setStatus(StatusCompleted, "")
		w.opts.Sink.Emit(telemetry.NewTaskCompletedEvent(w.Name(), w.opts.Task.Name, true, ""))
		w.opts.Logger.Info("task completed",
			"iterations", outcome.Iterations, "tokens", outcome.TotalTokens)
	default:
		reason := ""
		if outcome.Err != nil {
			reason = outcome.Err.Error()
		}
		w.setStatus(StatusFailed, reason)
		w.opts.Sink.Emit(telemetry.NewTaskCompletedEvent(w.Name(), w.opts.Task.Name, false, reason))
		w.opts.Logger.Error("task failed", "error", outcome.Err,
			"iterations", outcome.Iterations, "tokens", outcome.TotalTokens)
	}
	return outcome
}

func (w *Worker) loop(ctx context.Context) Outcome {
	messages := []Message{{Role: RoleUser, Content: w.userPrompt()}}
	outcome := Outcome{Status: StatusFailed}

	for {
		if err := ctx.Err(); err != nil {
			outcome.Err = errors.NewTaskError("task canceled", errors.ErrCanceled).
				WithTask(w.opts.Task.Name)
			return outcome
		}
		if outcome.Iterations >= w.opts.Budget.MaxIterations {
			outcome.Err = errors.NewTaskError(
				fmt.Sprintf("iteration budget exhausted after %d iterations", outcome.Iterations),
				errors.ErrBudgetExceeded).WithTask(w.opts.Task.Name)
			return outcome
		}
		if w.opts.Budget.MaxTokens > 0 && outcome.TotalTokens >= w.opts.Budget.MaxTokens {
			outcome.Err = errors.NewTaskError(
				fmt.Sprintf("token budget exhausted at %d tokens", outcome.TotalTokens),
				errors.ErrBudgetExceeded).WithTask(w.opts.Task.Name)
			return outcome
		}
		outcome.Iterations++

		w.opts.Sink.Emit(telemetry.NewCallStartedEvent(w.Name(), w.opts.Model))
		resp, err := w.opts.Backend.Complete(ctx, Request{
			Model:    w.opts.Model,
			System:   w.systemPrompt(),
			Messages: messages,
			Tools:    w.opts.Registry.Specs(),
		}, func(chunk string) {
			w.opts.Sink.Emit(telemetry.NewStreamChunkEvent(w.Name(), chunk))
		})
		if err != nil {
			outcome.Err = errors.NewTaskError("backend call failed", err).
				WithTask(w.opts.Task.Name)
			return outcome
		}
		outcome.TotalTokens += resp.Usage.TotalTokens
		w.opts.Sink.Emit(telemetry.NewCallCompletedEvent(w.Name(), resp.Usage))

		if len(resp.ToolCalls) == 0 {
			outcome.Status = StatusCompleted
			outcome.FinalMessage = resp.Content
			return outcome
		}

		messages = append(messages, Message{
			Role:      RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			messages = append(messages, w.runTool(ctx, call))
		}
	}
}

// runTool executes one tool call and returns the tool message to append.
// Errors become the message text so the backend can self-correct.
func (w *Worker) runTool(ctx context.Context, call ToolCall) Message {
	w.opts.Sink.Emit(telemetry.NewToolStartedEvent(w.Name(), call.Name, call.Arguments))
	w.opts.Logger.Debug("tool call", "tool", call.Name)

	result, err := w.opts.Registry.Execute(ctx, call.Name, call.Arguments)
	if err != nil {
		result = "error: " + err.Error()
	}
	w.opts.Sink.Emit(telemetry.NewToolFinishedEvent(w.Name(), call.Name, err == nil, truncate(result, 400)))

	return Message{Role: RoleTool, ToolCallID: call.ID, Content: result}
}

// finalCommit captures any work the backend left uncommitted. Failure here
// is logged, not fatal: the task's committed work is still mergeable.
func (w *Worker) finalCommit(ctx context.Context) {
	if w.opts.Repo == nil {
		return
	}
	committed, err := w.opts.Repo.CommitAll(ctx, w.opts.WorktreePath,
		fmt.Sprintf("%s: final checkpoint", w.opts.Task.Name))
	if err != nil {
		w.opts.Logger.Warn("final commit failed", "error", err)
		return
	}
	if committed {
		w.opts.Logger.Info("committed remaining changes")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
