package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/srhall/gitcrew/internal/git"
)

// SubmoduleInfo is one submodule declared in .gitmodules.
type SubmoduleInfo struct {
	Name   string
	Path   string
	URL    string
	Branch string
}

// Submodules parses .gitmodules at the repository root. A missing file
// means no submodules and is not an error.
func Submodules(repoDir string) ([]SubmoduleInfo, error) {
	f, err := os.Open(filepath.Join(repoDir, ".gitmodules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open .gitmodules: %w", err)
	}
	defer f.Close()

	var (
		modules []SubmoduleInfo
		current *SubmoduleInfo
	)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[submodule ") {
			if current != nil {
				modules = append(modules, *current)
			}
			name := strings.TrimSuffix(strings.TrimPrefix(line, "[submodule "), "]")
			name = strings.Trim(name, `"`)
			current = &SubmoduleInfo{Name: name}
			continue
		}
		if current == nil {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "path":
			current.Path = value
		case "url":
			current.URL = value
		case "branch":
			current.Branch = value
		}
	}
	if current != nil {
		modules = append(modules, *current)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read .gitmodules: %w", err)
	}
	return modules, nil
}

// InitSubmodules populates submodule checkouts inside a fresh worktree.
// Worktrees do not inherit submodule state from the main checkout.
func InitSubmodules(ctx context.Context, executor git.CommandExecutor, dir string) error {
	out, err := executor.Run(ctx, dir, "git", "submodule", "update", "--init", "--recursive")
	if err != nil {
		return fmt.Errorf("submodule update: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}
