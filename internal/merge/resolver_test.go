package merge

import (
	"context"
	"strings"
	"testing"

	"github.com/srhall/gitcrew/internal/git"
	"github.com/srhall/gitcrew/internal/telemetry"
	"github.com/srhall/gitcrew/internal/worker"
)

const conflicted = `header
<<<<<<< HEAD
from ours
=======
from theirs
>>>>>>> feat-b
footer`

func TestResolveMarkers(t *testing.T) {
	tests := []struct {
		strategy Strategy
		want     string
	}{
		{StrategyUnion, "header\nfrom ours\nfrom theirs\nfooter"},
		{StrategyOurs, "header\nfrom ours\nfooter"},
		{StrategyTheirs, "header\nfrom theirs\nfooter"},
	}
	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			got, err := resolveMarkers(conflicted, tt.strategy)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResolveMarkersMalformed(t *testing.T) {
	tests := []struct{ name, content string }{
		{"unterminated", "<<<<<<< HEAD\nx\n=======\ny\n"},
		{"stray closer", "x\n>>>>>>> feat\n"},
		{"nested opener", "<<<<<<< HEAD\n<<<<<<< HEAD\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := resolveMarkers(tt.content, StrategyUnion); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHasConflictMarkers(t *testing.T) {
	if !hasConflictMarkers(conflicted) {
		t.Error("markers not detected")
	}
	if hasConflictMarkers("clean content\nwith == inside ==\n") {
		t.Error("false positive")
	}
}

// fakeTools simulates one conflicted file in memory.
type fakeTools struct {
	file     string
	content  git.ConflictContent
	resolved map[string]string
	// completeReturns controls whether CompleteMerge reports a commit.
	completeReturns bool
	completed       bool
}

func newFakeTools(file string, content git.ConflictContent) *fakeTools {
	return &fakeTools{file: file, content: content, resolved: map[string]string{}, completeReturns: true}
}

func (f *fakeTools) ListConflicts(ctx context.Context) ([]string, error) {
	if _, done := f.resolved[f.file]; done {
		return nil, nil
	}
	return []string{f.file}, nil
}

func (f *fakeTools) GetContent(ctx context.Context, file string) (git.ConflictContent, error) {
	return f.content, nil
}

func (f *fakeTools) Resolve(ctx context.Context, file, content string) error {
	if hasConflictMarkers(content) {
		return errTest("markers remain")
	}
	f.resolved[file] = content
	return nil
}

func (f *fakeTools) CompleteMerge(ctx context.Context, message string) (bool, error) {
	f.completed = true
	return f.completeReturns, nil
}

type errTest string

func (e errTest) Error() string { return string(e) }

// scriptedBackend answers with canned content, in order.
type scriptedBackend struct {
	answers []string
	turn    int
}

func (b *scriptedBackend) Complete(ctx context.Context, req worker.Request, onDelta func(string)) (worker.Response, error) {
	answer := b.answers[b.turn]
	if b.turn < len(b.answers)-1 {
		b.turn++
	}
	return worker.Response{Content: answer, Usage: telemetry.TokenUsage{TotalTokens: 10}}, nil
}

func TestLLMResolverHappyPath(t *testing.T) {
	tools := newFakeTools("shared.txt", git.ConflictContent{
		Full: conflicted, Ours: "from ours", Theirs: "from theirs",
	})
	backend := &scriptedBackend{answers: []string{"merged content\n"}}
	r := NewLLMResolver(backend, "test-model", nil)

	if err := r.ResolveConflicts(context.Background(), Request{Branch: "feat-b"}, tools); err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}
	if tools.resolved["shared.txt"] != "merged content\n" {
		t.Errorf("resolved = %q", tools.resolved["shared.txt"])
	}
	if !tools.completed {
		t.Error("CompleteMerge never invoked")
	}
}

func TestLLMResolverRetriesOnMarkers(t *testing.T) {
	tools := newFakeTools("shared.txt", git.ConflictContent{Full: conflicted})
	backend := &scriptedBackend{answers: []string{
		"<<<<<<< HEAD\nstill conflicted\n=======\nnope\n>>>>>>> x\n",
		"clean second attempt\n",
	}}
	r := NewLLMResolver(backend, "test-model", nil)

	if err := r.ResolveConflicts(context.Background(), Request{Branch: "feat-b"}, tools); err != nil {
		t.Fatalf("ResolveConflicts: %v", err)
	}
	if !strings.Contains(tools.resolved["shared.txt"], "clean second attempt") {
		t.Errorf("resolved = %q", tools.resolved["shared.txt"])
	}
}

func TestLLMResolverGivesUpAfterRetries(t *testing.T) {
	tools := newFakeTools("shared.txt", git.ConflictContent{Full: conflicted})
	backend := &scriptedBackend{answers: []string{
		"<<<<<<< HEAD\nbad\n=======\nbad\n>>>>>>> x\n",
	}}
	r := NewLLMResolver(backend, "test-model", nil)

	if err := r.ResolveConflicts(context.Background(), Request{Branch: "feat-b"}, tools); err == nil {
		t.Fatal("expected failure when every attempt keeps markers")
	}
	if tools.completed {
		t.Error("CompleteMerge must not run after resolution failure")
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct{ in, want string }{
		{"```go\npackage x\n```", "package x\n"},
		{"no fence here", "no fence here"},
		{"```\nplain\n```", "plain\n"},
	}
	for _, tt := range tests {
		if got := stripCodeFence(tt.in); got != tt.want {
			t.Errorf("stripCodeFence(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
