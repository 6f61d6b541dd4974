package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/srhall/gitcrew/internal/errors"
	"github.com/srhall/gitcrew/internal/git"
)

// Tool binds a spec the backend sees to the handler that executes it.
type Tool struct {
	Spec    ToolSpec
	Handler func(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry is the fixed tool set a worker exposes to its backend. Every
// filesystem tool is sandboxed to the worker's own worktree.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(tool Tool) {
	if _, exists := r.tools[tool.Spec.Name]; !exists {
		r.order = append(r.order, tool.Spec.Name)
	}
	r.tools[tool.Spec.Name] = tool
}

// Specs lists tool specs in registration order for the backend request.
func (r *Registry) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec)
	}
	return specs
}

// Execute runs a named tool. An unknown name is an error the caller folds
// back into the conversation like any other tool failure.
func (r *Registry) Execute(ctx context.Context, name, args string) (string, error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Handler(ctx, json.RawMessage(args))
}

// resolveInWorktree maps a tool-supplied path into the worktree, rejecting
// any path that escapes it.
func resolveInWorktree(worktree, path string) (string, error) {
	if path == "" {
		return "", errors.NewTaskError("path is required", errors.ErrInvalidInput)
	}
	if filepath.IsAbs(path) {
		return "", errors.NewTaskError("absolute paths are not allowed", errors.ErrPathEscapesWorktree)
	}
	full := filepath.Join(worktree, path)
	rel, err := filepath.Rel(worktree, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.NewTaskError(
			fmt.Sprintf("path %q escapes the worktree", path), errors.ErrPathEscapesWorktree)
	}
	return full, nil
}

func strParam(raw json.RawMessage, key string) string {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func intParam(raw json.RawMessage, key string, fallback int) int {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fallback
	}
	if f, ok := m[key].(float64); ok && int(f) > 0 {
		return int(f)
	}
	return fallback
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func stringProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

// NewWorktreeTools builds the worker tool set: file access under the
// worktree plus the git operations a task needs.
func NewWorktreeTools(repo *git.Repo, worktreePath, branch, baseBranch string) *Registry {
	r := NewRegistry()

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "read_file",
			Description: "Read a file from the working directory. Path is relative to the worktree root.",
			Parameters:  objectSchema(map[string]any{"path": stringProp("relative file path")}, "path"),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			full, err := resolveInWorktree(worktreePath, strParam(args, "path"))
			if err != nil {
				return "", err
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return "", err
			}
			return string(data), nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "write_file",
			Description: "Write a file in the working directory, creating parent directories as needed.",
			Parameters: objectSchema(map[string]any{
				"path":    stringProp("relative file path"),
				"content": stringProp("full file content"),
			}, "path", "content"),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			full, err := resolveInWorktree(worktreePath, strParam(args, "path"))
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
				return "", err
			}
			if err := os.WriteFile(full, []byte(strParam(args, "content")), 0644); err != nil {
				return "", err
			}
			return fmt.Sprintf("wrote %s", strParam(args, "path")), nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "commit",
			Description: "Stage all changes in the worktree and commit them.",
			Parameters:  objectSchema(map[string]any{"message": stringProp("commit message")}, "message"),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			message := strParam(args, "message")
			if message == "" {
				message = "checkpoint"
			}
			committed, err := repo.CommitAll(ctx, worktreePath, message)
			if err != nil {
				return "", err
			}
			if !committed {
				return "nothing to commit", nil
			}
			return "committed: " + message, nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "push",
			Description: "Push the task branch to the remote.",
			Parameters:  objectSchema(map[string]any{}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			if err := repo.Push(ctx, worktreePath, branch); err != nil {
				return "", err
			}
			return "pushed " + branch, nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "list_branches",
			Description: "List local branches in the repository.",
			Parameters:  objectSchema(map[string]any{}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			branches, err := repo.ListBranches(ctx)
			if err != nil {
				return "", err
			}
			return strings.Join(branches, "\n"), nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "recent_commits",
			Description: "Show recent commits on the current branch.",
			Parameters:  objectSchema(map[string]any{"count": map[string]any{"type": "integer", "description": "number of commits, default 10"}}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			commits, err := repo.RecentCommits(ctx, worktreePath, intParam(args, "count", 10))
			if err != nil {
				return "", err
			}
			return strings.Join(commits, "\n"), nil
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "current_branch",
			Description: "Name of the branch checked out in this worktree.",
			Parameters:  objectSchema(map[string]any{}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			return repo.CurrentBranch(ctx, worktreePath)
		},
	})

	r.Register(Tool{
		Spec: ToolSpec{
			Name:        "test_conflict",
			Description: "Check whether merging this branch into the base branch would conflict. Does not modify anything.",
			Parameters:  objectSchema(map[string]any{}),
		},
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			conflict, files, err := repo.TestMergeConflict(ctx, worktreePath, branch, baseBranch)
			if err != nil {
				return "", err
			}
			if !conflict {
				return "no conflict", nil
			}
			return "conflict in: " + strings.Join(files, ", "), nil
		},
	})

	return r
}
