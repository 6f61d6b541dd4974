package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/logging"
	"github.com/srhall/gitcrew/internal/worker"
)

const resolverSystemPrompt = `You are a merge conflict resolver. You receive a file
with git conflict markers plus both sides in full. Reply with the complete merged
file content and nothing else: no commentary, no code fences, and absolutely no
conflict markers. Preserve the intent of both changes whenever they are compatible.`

// LLMResolver asks a reasoning backend for the merged content of each
// conflicted file. It shares the worker's Backend so a dry-run session stays
// fully offline.
type LLMResolver struct {
	Backend worker.Backend
	Model   string
	Logger  *logging.Logger

	// Retries per file when the backend answers with markers left in.
	Retries int
}

func NewLLMResolver(backend worker.Backend, model string, logger *logging.Logger) *LLMResolver {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &LLMResolver{Backend: backend, Model: model, Logger: logger, Retries: 1}
}

func (r *LLMResolver) ResolveConflicts(ctx context.Context, req Request, tools ConflictTools) error {
	files, err := tools.ListConflicts(ctx)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := r.resolveFile(ctx, req, tools, file); err != nil {
			return err
		}
	}

	committed, err := tools.CompleteMerge(ctx, fmt.Sprintf("Merge branch '%s'", req.Branch))
	if err != nil {
		return err
	}
	if !committed {
		return errors.NewGitError("merge did not complete", errors.ErrUnresolvedConflicts).
			WithBranch(req.Branch)
	}
	return nil
}

func (r *LLMResolver) resolveFile(ctx context.Context, req Request, tools ConflictTools, file string) error {
	content, err := tools.GetContent(ctx, file)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf(
		"Merging branch %q into %q conflicts in %s.\n\n"+
			"--- file with conflict markers ---\n%s\n\n"+
			"--- %q side (integration) ---\n%s\n\n"+
			"--- %q side (incoming) ---\n%s\n",
		req.Branch, req.IntegrationBranch, file,
		content.Full,
		req.IntegrationBranch, content.Ours,
		req.Branch, content.Theirs)

	messages := []worker.Message{{Role: worker.RoleUser, Content: prompt}}
	for attempt := 0; ; attempt++ {
		resp, err := r.Backend.Complete(ctx, worker.Request{
			Model:    r.Model,
			System:   resolverSystemPrompt,
			Messages: messages,
		}, nil)
		if err != nil {
			return errors.NewGitError("resolver backend call failed", err).WithBranch(req.Branch)
		}

		merged := stripCodeFence(resp.Content)
		resolveErr := tools.Resolve(ctx, file, merged)
		if resolveErr == nil {
			r.Logger.Info("conflict resolved", "file", file, "attempts", attempt+1)
			return nil
		}
		if attempt >= r.Retries {
			return resolveErr
		}
		messages = append(messages,
			worker.Message{Role: worker.RoleAssistant, Content: resp.Content},
			worker.Message{Role: worker.RoleUser, Content: "Your answer was rejected: " +
				resolveErr.Error() + ". Reply with the merged file content only."})
	}
}

// stripCodeFence unwraps a response the backend wrapped in a markdown fence.
func stripCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n") + "\n"
}
