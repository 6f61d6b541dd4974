package tasks

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/srhall/gitcrew/internal/errors"
)

func TestParseWithTasksKey(t *testing.T) {
	data := []byte(`tasks:
  - name: Parser rewrite
    branch: parser
    description: rewrite the parser
    work_item_id: WI-101
  - name: Cache layer
    goal: add an LRU cache in front of storage
`)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(got))
	}
	if got[0].Branch != "parser" || got[0].WorkItemID != "WI-101" {
		t.Errorf("first task = %+v", got[0])
	}
	if got[1].Branch != "cache-layer" {
		t.Errorf("branch should default to slugified name, got %q", got[1].Branch)
	}
	if got[1].Description != got[1].Goal {
		t.Errorf("description should fall back to goal, got %q", got[1].Description)
	}
}

func TestParseBareSequence(t *testing.T) {
	data := []byte(`- name: one
- name: two
`)
	got, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(got) != 2 || got[0].Name != "one" || got[1].Name != "two" {
		t.Errorf("got %+v", got)
	}
}

func TestParseRejectsEmptyAndInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty document", ""},
		{"empty list", "tasks: []"},
		{"missing name", "tasks:\n  - branch: x\n"},
		{"duplicate branch", "tasks:\n  - name: a\n    branch: same\n  - name: b\n    branch: same\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestLoadPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	data := `tasks:
  - name: third
  - name: first
  - name: second
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"third", "first", "second"}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("task %d = %q, want %q", i, got[i].Name, name)
		}
	}
}

func TestSlugify(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Parser rewrite", "parser-rewrite"},
		{"  Fix bug #42!  ", "fix-bug-42"},
		{"already-clean", "already-clean"},
	}
	for _, tt := range tests {
		if got := Slugify(tt.in); got != tt.want {
			t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
