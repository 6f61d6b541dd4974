package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/srhall/gitcrew/internal/telemetry"
)

// DryRunBackend produces a deterministic tool-call script with synthetic
// delays and token counts. It drives the full loop without any network: it
// writes a notes file, commits it, then declares the task done.
type DryRunBackend struct {
	Delay time.Duration

	mu    sync.Mutex
	calls map[string]int // per conversation, keyed by first user message
}

func NewDryRunBackend(delay time.Duration) *DryRunBackend {
	return &DryRunBackend{Delay: delay, calls: make(map[string]int)}
}

func (b *DryRunBackend) Complete(ctx context.Context, req Request, onDelta func(string)) (Response, error) {
	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return Response{}, ctx.Err()
		}
	}

	key := ""
	for _, m := range req.Messages {
		if m.Role == RoleUser {
			key = m.Content
			break
		}
	}
	b.mu.Lock()
	turn := b.calls[key]
	b.calls[key] = turn + 1
	b.mu.Unlock()

	resp := b.scripted(turn, key)
	if onDelta != nil && resp.Content != "" {
		onDelta(resp.Content)
	}
	resp.Usage = telemetry.TokenUsage{
		Model:        "dry-run",
		InputTokens:  len(key) / 4,
		OutputTokens: len(resp.Content)/4 + 16,
	}
	resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return resp, nil
}

func (b *DryRunBackend) scripted(turn int, task string) Response {
	switch turn {
	case 0:
		args, _ := json.Marshal(map[string]string{
			"path":    "NOTES.md",
			"content": fmt.Sprintf("# Plan\n\n%s\n", task),
		})
		return Response{ToolCalls: []ToolCall{{ID: "call-1", Name: "write_file", Arguments: string(args)}}}
	case 1:
		args, _ := json.Marshal(map[string]string{"message": "record plan notes"})
		return Response{ToolCalls: []ToolCall{{ID: "call-2", Name: "commit", Arguments: string(args)}}}
	default:
		return Response{Content: "Task complete. Plan notes committed."}
	}
}
