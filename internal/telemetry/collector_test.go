package telemetry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// memorySink records everything it receives.
type memorySink struct {
	mu        sync.Mutex
	snapshots []Snapshot
	summaries []RunSummary
}

func (s *memorySink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, snap)
	return nil
}

func (s *memorySink) WriteSummary(ctx context.Context, summary RunSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, summary)
	return nil
}

func (s *memorySink) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots), len(s.summaries)
}

func TestCollectorLifecycle(t *testing.T) {
	sink := &memorySink{}
	c := NewCollector(CollectorOptions{
		TeamID:   "team-1",
		Interval: 10 * time.Millisecond,
		Sink:     sink,
	})
	c.Track("parser")
	c.Track("cache")

	c.Start(context.Background())
	c.Emit(NewTaskStartedEvent("parser", "rewrite parser"))
	c.Emit(NewCallCompletedEvent("parser", TokenUsage{Model: "gpt-4o", TotalTokens: 50, InputTokens: 40, OutputTokens: 10}))

	// Let at least one tick fire.
	time.Sleep(50 * time.Millisecond)
	c.Stop()

	snaps, summaries := sink.counts()
	if snaps < 2 {
		t.Errorf("expected snapshots for both agents, got %d", snaps)
	}
	if summaries != 1 {
		t.Fatalf("expected exactly one run summary, got %d", summaries)
	}

	summary := sink.summaries[0]
	if summary.TeamID != "team-1" || len(summary.Agents) != 2 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.TotalTokens != 50 {
		t.Errorf("total tokens = %d", summary.TotalTokens)
	}
}

func TestCollectorStopIsIdempotent(t *testing.T) {
	sink := &memorySink{}
	c := NewCollector(CollectorOptions{Interval: time.Hour, Sink: sink})
	c.Track("a")
	c.Start(context.Background())
	c.Stop()
	c.Stop()

	if _, summaries := sink.counts(); summaries != 1 {
		t.Errorf("summary written %d times", summaries)
	}
}

func TestCollectorStopFlushesQueuedEvents(t *testing.T) {
	sink := &memorySink{}
	c := NewCollector(CollectorOptions{Interval: time.Hour, Sink: sink})
	c.Track("parser")
	c.Start(context.Background())

	// Never wait for the drain loop; Stop must pick these up.
	for i := 0; i < 10; i++ {
		c.Emit(NewCallCompletedEvent("parser", TokenUsage{TotalTokens: 1}))
	}
	c.Stop()

	if got := c.Runtime("parser").Usage().TotalTokens; got != 10 {
		t.Errorf("tokens after flush = %d, want 10", got)
	}
}

func TestEmitNeverBlocks(t *testing.T) {
	c := NewCollector(CollectorOptions{EventBuffer: 2})
	// No Start: the channel fills and further events must drop, not hang.
	for i := 0; i < 10; i++ {
		c.Emit(NewStreamChunkEvent("a", "x"))
	}
	if c.Dropped() != 8 {
		t.Errorf("dropped = %d, want 8", c.Dropped())
	}
}

func TestSinkFailureDoesNotStopLoop(t *testing.T) {
	c := NewCollector(CollectorOptions{
		Interval: 5 * time.Millisecond,
		Sink:     failSink{},
	})
	c.Track("parser")
	c.Start(context.Background())
	c.Emit(NewTaskStartedEvent("parser", "t"))
	time.Sleep(30 * time.Millisecond)
	c.Stop()

	// Events kept flowing despite every sink write failing.
	if c.Runtime("parser").Status() != AgentWorking {
		t.Errorf("status = %s", c.Runtime("parser").Status())
	}
}

type failSink struct{}

func (failSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	return os.ErrClosed
}

func (failSink) WriteSummary(ctx context.Context, summary RunSummary) error {
	return os.ErrClosed
}

func TestFileSink(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	rt := NewAgentRuntime("parser")
	rt.Apply(NewTaskStartedEvent("parser", "t"))
	snap := rt.Snapshot("team-1", true)

	for i := 0; i < 3; i++ {
		if err := sink.WriteSnapshot(ctx, snap); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := os.ReadFile(filepath.Join(dir, "parser_latest.json"))
	if err != nil {
		t.Fatal(err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(latest, &decoded); err != nil {
		t.Fatalf("latest is not valid JSON: %v", err)
	}
	if decoded.AgentName != "parser" || decoded.TeamID != "team-1" {
		t.Errorf("decoded = %+v", decoded)
	}

	events, err := os.ReadFile(filepath.Join(dir, "parser_events.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(events)), "\n")
	if len(lines) != 3 {
		t.Errorf("events.jsonl has %d lines, want 3", len(lines))
	}

	if err := sink.WriteSummary(ctx, RunSummary{TeamID: "team-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "run_summary.json")); err != nil {
		t.Errorf("run_summary.json missing: %v", err)
	}
}

func TestScraper(t *testing.T) {
	c := NewCollector(CollectorOptions{})
	s := NewScraper(c)

	input := `noise before any agent marker
Agent: parser
doing things with 1,200 input tokens and 340 output tokens
running git commit -m "checkpoint"
Agent: cache
git push origin cache-ab12cd34
`
	if err := s.Scrape(strings.NewReader(input)); err != nil {
		t.Fatal(err)
	}

	parser := c.Runtime("parser").Snapshot("t", false)
	if parser.TokenUsage.InputTokens != 1200 || parser.TokenUsage.OutputTokens != 340 {
		t.Errorf("parser usage = %+v", parser.TokenUsage)
	}
	if len(parser.GitActivities) != 1 || !strings.Contains(parser.GitActivities[0], "git commit") {
		t.Errorf("parser git activities = %v", parser.GitActivities)
	}
	if len(parser.ActivityLogs) != 2 {
		t.Errorf("parser activity logs = %v", parser.ActivityLogs)
	}

	cache := c.Runtime("cache").Snapshot("t", false)
	if len(cache.GitActivities) != 1 || !strings.Contains(cache.GitActivities[0], "git push") {
		t.Errorf("cache git activities = %v", cache.GitActivities)
	}
}
