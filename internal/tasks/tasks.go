// Package tasks loads the ordered feature task list that a session executes.
package tasks

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/srhall/gitcrew/internal/errors"
)

// Task is one unit of work assigned to a single worker. Order in the file is
// execution order for the merge phase.
type Task struct {
	Name        string `yaml:"name"`
	Branch      string `yaml:"branch"`
	Description string `yaml:"description"`
	Role        string `yaml:"role,omitempty"`
	Goal        string `yaml:"goal,omitempty"`
	WorkItemID  string `yaml:"work_item_id,omitempty"`
}

type taskFile struct {
	Tasks []Task `yaml:"tasks"`
}

// Load reads an ordered task list from a YAML file. The file is either a
// bare sequence of tasks or a document with a top-level "tasks" key.
func Load(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task list: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a task list.
func Parse(data []byte) ([]Task, error) {
	var file taskFile
	if err := yaml.Unmarshal(data, &file); err != nil || len(file.Tasks) == 0 {
		var bare []Task
		if bareErr := yaml.Unmarshal(data, &bare); bareErr == nil && len(bare) > 0 {
			file.Tasks = bare
		} else if err != nil {
			return nil, fmt.Errorf("parsing task list: %w", err)
		}
	}
	if len(file.Tasks) == 0 {
		return nil, errors.NewTaskError("task list is empty", errors.ErrInvalidInput)
	}

	seen := make(map[string]bool, len(file.Tasks))
	for i := range file.Tasks {
		t := &file.Tasks[i]
		t.Name = strings.TrimSpace(t.Name)
		if t.Name == "" {
			return nil, errors.NewTaskError(
				fmt.Sprintf("task %d has no name", i+1), errors.ErrInvalidInput)
		}
		if t.Branch == "" {
			t.Branch = Slugify(t.Name)
		}
		if seen[t.Branch] {
			return nil, errors.NewTaskError(
				fmt.Sprintf("duplicate branch %q", t.Branch), errors.ErrInvalidInput).
				WithTask(t.Name)
		}
		seen[t.Branch] = true
		if t.Description == "" {
			t.Description = t.Goal
		}
	}
	return file.Tasks, nil
}

// Slugify turns a task name into a git-safe branch base.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}
