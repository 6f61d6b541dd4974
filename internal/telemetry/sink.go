package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AgentSummary is one worker's line in the end-of-run totals.
type AgentSummary struct {
	AgentName    string     `json:"agent_name"`
	Status       string     `json:"status"`
	TokenUsage   TokenUsage `json:"token_usage"`
	CostUSD      float64    `json:"cost_usd"`
	ToolCalls    int        `json:"tool_calls"`
	FilesWritten int        `json:"files_written"`
}

// RunSummary is written once at shutdown.
type RunSummary struct {
	TeamID       string         `json:"team_id"`
	SessionID    string         `json:"session_id,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Agents       []AgentSummary `json:"agents"`
	TotalTokens  int            `json:"total_tokens"`
	TotalCostUSD float64        `json:"total_cost_usd"`
}

// Sink receives telemetry output. Implementations must tolerate being
// called from the collector loop; failures are reported, never fatal.
type Sink interface {
	WriteSnapshot(ctx context.Context, snap Snapshot) error
	WriteSummary(ctx context.Context, summary RunSummary) error
}

// HTTPSink POSTs JSON payloads to a collector endpoint.
type HTTPSink struct {
	URL     string
	Headers map[string]string
	Client  *http.Client
}

func NewHTTPSink(url string, headers map[string]string) *HTTPSink {
	return &HTTPSink{
		URL:     url,
		Headers: headers,
		Client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (s *HTTPSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	return s.post(ctx, s.URL, snap)
}

func (s *HTTPSink) WriteSummary(ctx context.Context, summary RunSummary) error {
	url := strings.TrimSuffix(s.URL, "/") + "/summary"
	return s.post(ctx, url, summary)
}

func (s *HTTPSink) post(ctx context.Context, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("telemetry endpoint returned %s", resp.Status)
	}
	return nil
}

// FileSink writes `<agent>_latest.json` (overwritten each interval), an
// append-only `<agent>_events.jsonl`, and `run_summary.json` at shutdown.
type FileSink struct {
	Dir string
}

func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &FileSink{Dir: dir}, nil
}

func (s *FileSink) WriteSnapshot(ctx context.Context, snap Snapshot) error {
	name := sanitizeAgentName(snap.AgentName)

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	latest := filepath.Join(s.Dir, name+"_latest.json")
	if err := os.WriteFile(latest, data, 0644); err != nil {
		return err
	}

	line, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	events := filepath.Join(s.Dir, name+"_events.jsonl")
	f, err := os.OpenFile(events, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}

func (s *FileSink) WriteSummary(ctx context.Context, summary RunSummary) error {
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, "run_summary.json"), data, 0644)
}

// sanitizeAgentName keeps file names flat even if agent names carry
// separators.
func sanitizeAgentName(name string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", " ", "_", "..", "_")
	out := replacer.Replace(name)
	if out == "" {
		out = "agent"
	}
	return out
}
