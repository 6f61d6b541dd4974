package telemetry

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/srhall/gitcrew/internal/util"
)

// AgentStatus is the observable state of one worker.
type AgentStatus string

const (
	AgentIdle      AgentStatus = "idle"
	AgentWorking   AgentStatus = "working"
	AgentCompleted AgentStatus = "completed"
	AgentError     AgentStatus = "error"
)

// Buffer capacities for the per-agent rings.
const (
	GitActivityCap = 15
	ToolCallCap    = 30
	ActivityLogCap = 80
)

// ToolCallRecord is one finished tool invocation.
type ToolCallRecord struct {
	Tool      string    `json:"tool"`
	Success   bool      `json:"success"`
	Result    string    `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentRuntime is a worker's live telemetry state. All mutation goes
// through one mutex; the collector reads under the same lock, so the event
// path and the snapshot path never race on a given agent.
type AgentRuntime struct {
	name string

	mu             sync.Mutex
	status         AgentStatus
	currentTask    string
	currentAction  string
	usage          TokenUsage
	filesRead      []string
	filesWritten   []string
	seenRead       map[string]bool
	seenWritten    map[string]bool
	toolCalls      *RingBuffer[ToolCallRecord]
	toolInProgress string
	gitActivities  *RingBuffer[string]
	activityLogs   *RingBuffer[string]
	lastEvent      time.Time
}

func NewAgentRuntime(name string) *AgentRuntime {
	return NewAgentRuntimeSized(name, GitActivityCap, ToolCallCap, ActivityLogCap)
}

// NewAgentRuntimeSized overrides the ring capacities, for configured caps.
func NewAgentRuntimeSized(name string, gitCap, toolCap, logCap int) *AgentRuntime {
	return &AgentRuntime{
		name:          name,
		status:        AgentIdle,
		seenRead:      map[string]bool{},
		seenWritten:   map[string]bool{},
		toolCalls:     NewRingBuffer[ToolCallRecord](toolCap),
		gitActivities: NewRingBuffer[string](gitCap),
		activityLogs:  NewRingBuffer[string](logCap),
	}
}

func (a *AgentRuntime) Name() string { return a.name }

func (a *AgentRuntime) Status() AgentStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}

// LastEvent is when this agent last produced any telemetry.
func (a *AgentRuntime) LastEvent() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastEvent
}

// Usage returns the cumulative counts including the live estimate.
func (a *AgentRuntime) Usage() TokenUsage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usage
}

// Apply folds one worker event into the runtime state.
func (a *AgentRuntime) Apply(e WorkerEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEvent = e.At()

	switch evt := e.(type) {
	case TaskStartedEvent:
		a.status = AgentWorking
		a.currentTask = evt.Task
		a.currentAction = "starting task"
		a.logf("task started: %s", evt.Task)
	case TaskCompletedEvent:
		if evt.Success {
			a.status = AgentCompleted
			a.currentAction = "done"
		} else {
			a.status = AgentError
			a.currentAction = "failed: " + evt.Reason
		}
		a.logf("task finished: %s success=%v", evt.Task, evt.Success)
	case CallStartedEvent:
		a.currentAction = "calling model"
		if evt.Model != "" {
			a.usage.Model = evt.Model
		}
	case StreamChunkEvent:
		a.currentAction = "streaming response"
		// Rough live estimate until the call reports authoritative usage.
		a.usage.StreamingTokens += (len(evt.Chunk) + 3) / 4
	case CallCompletedEvent:
		a.usage.InputTokens += evt.Usage.InputTokens
		a.usage.OutputTokens += evt.Usage.OutputTokens
		a.usage.TotalTokens += evt.Usage.TotalTokens
		if evt.Usage.Model != "" {
			a.usage.Model = evt.Usage.Model
		}
		a.usage.StreamingTokens = 0
		a.currentAction = "thinking"
	case ToolStartedEvent:
		a.toolInProgress = evt.Tool
		a.currentAction = "tool: " + evt.Tool
		a.recordFileArgs(evt.Tool, evt.Args)
	case ToolFinishedEvent:
		a.toolInProgress = ""
		a.toolCalls.Push(ToolCallRecord{
			Tool: evt.Tool, Success: evt.Success, Result: evt.Result, Timestamp: evt.At(),
		})
		if isGitTool(evt.Tool) {
			a.gitActivities.Push(fmt.Sprintf("%s: %s", evt.Tool, util.TruncateString(util.FirstLine(evt.Result), 200)))
		}
		a.logf("tool %s success=%v", evt.Tool, evt.Success)
	}
}

// RecordLog appends one scraped or observed activity line.
func (a *AgentRuntime) RecordLog(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEvent = time.Now()
	a.activityLogs.Push(line)
}

// RecordGitActivity appends to the git ring directly, for scraped lines.
func (a *AgentRuntime) RecordGitActivity(line string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.gitActivities.Push(line)
}

// RecordFileWritten marks a file as touched, for the filesystem observer.
func (a *AgentRuntime) RecordFileWritten(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastEvent = time.Now()
	if !a.seenWritten[path] {
		a.seenWritten[path] = true
		a.filesWritten = append(a.filesWritten, path)
	}
}

// AddTokens folds scraped token counts into the cumulative usage.
func (a *AgentRuntime) AddTokens(input, output int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.InputTokens += input
	a.usage.OutputTokens += output
	a.usage.TotalTokens += input + output
}

// recordFileArgs attributes read/write tool paths. Callers hold a.mu.
func (a *AgentRuntime) recordFileArgs(tool, args string) {
	var m map[string]any
	if json.Unmarshal([]byte(args), &m) != nil {
		return
	}
	path, _ := m["path"].(string)
	if path == "" {
		return
	}
	switch tool {
	case "read_file":
		if !a.seenRead[path] {
			a.seenRead[path] = true
			a.filesRead = append(a.filesRead, path)
		}
	case "write_file":
		if !a.seenWritten[path] {
			a.seenWritten[path] = true
			a.filesWritten = append(a.filesWritten, path)
		}
	}
}

func (a *AgentRuntime) logf(format string, args ...any) {
	a.activityLogs.Push(fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...)))
}

// Snapshot captures the full observable state at one instant.
func (a *AgentRuntime) Snapshot(teamID string, busConnected bool) Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	usage := a.usage
	snap := Snapshot{
		TeamID:         teamID,
		AgentName:      a.name,
		Status:         string(a.status),
		CurrentTask:    a.currentTask,
		CurrentAction:  a.currentAction,
		ProcessMetrics: sampleProcessMetrics(string(a.status)),
		TokenUsage: SnapshotUsage{
			TokenUsage:               usage,
			TotalTokensWithStreaming: usage.TotalWithStreaming(),
		},
		EstimatedCost:     CalculateCost(usage),
		FilesRead:         append([]string(nil), a.filesRead...),
		FilesWritten:      append([]string(nil), a.filesWritten...),
		ToolCalls:         a.toolCalls.Items(),
		ToolInProgress:    a.toolInProgress,
		GitActivities:     a.gitActivities.Items(),
		ActivityLogs:      a.activityLogs.Items(),
		Timestamp:         time.Now().UTC(),
		Heartbeat:         true,
		EventBusConnected: busConnected,
	}
	return snap
}

// SnapshotUsage is TokenUsage plus the folded streaming total.
type SnapshotUsage struct {
	TokenUsage
	TotalTokensWithStreaming int `json:"total_tokens_with_streaming,omitempty"`
}

// Snapshot is the per-agent payload dispatched to the sink every interval.
type Snapshot struct {
	TeamID            string           `json:"team_id"`
	AgentName         string           `json:"agent_name"`
	Status            string           `json:"status"`
	CurrentTask       string           `json:"current_task"`
	CurrentAction     string           `json:"current_action"`
	ProcessMetrics    ProcessMetrics   `json:"process_metrics"`
	TokenUsage        SnapshotUsage    `json:"token_usage"`
	EstimatedCost     float64          `json:"estimated_cost_usd"`
	FilesRead         []string         `json:"files_read"`
	FilesWritten      []string         `json:"files_written"`
	ToolCalls         []ToolCallRecord `json:"tool_calls"`
	ToolInProgress    string           `json:"tool_in_progress,omitempty"`
	GitActivities     []string         `json:"git_activities"`
	ActivityLogs      []string         `json:"activity_logs"`
	Timestamp         time.Time        `json:"timestamp"`
	Heartbeat         bool             `json:"heartbeat"`
	EventBusConnected bool             `json:"event_bus_connected"`
}

func isGitTool(name string) bool {
	switch name {
	case "commit", "push", "list_branches", "recent_commits", "current_branch", "test_conflict":
		return true
	}
	return false
}
