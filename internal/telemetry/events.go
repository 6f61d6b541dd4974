package telemetry

import "time"

// TokenUsage is the authoritative count reported by a backend for one call,
// plus the running streaming estimate between completions.
type TokenUsage struct {
	Model           string `json:"model"`
	InputTokens     int    `json:"input_tokens"`
	OutputTokens    int    `json:"output_tokens"`
	TotalTokens     int    `json:"total_tokens"`
	StreamingTokens int    `json:"streaming_tokens,omitempty"`
}

// TotalWithStreaming folds the live estimate into the confirmed total.
func (u TokenUsage) TotalWithStreaming() int {
	return u.TotalTokens + u.StreamingTokens
}

// WorkerEvent is a structured telemetry event pushed by a worker onto the
// collector's bounded channel.
type WorkerEvent interface {
	Agent() string
	At() time.Time
}

type workerEvent struct {
	AgentName string    `json:"agent"`
	Timestamp time.Time `json:"timestamp"`
}

func (e workerEvent) Agent() string { return e.AgentName }
func (e workerEvent) At() time.Time { return e.Timestamp }

func newWorkerEvent(agent string) workerEvent {
	return workerEvent{AgentName: agent, Timestamp: time.Now()}
}

// StreamChunkEvent carries a fragment of partial model output. The collector
// estimates roughly one token per four characters until the call completes.
type StreamChunkEvent struct {
	workerEvent
	Chunk string `json:"chunk"`
}

func NewStreamChunkEvent(agent, chunk string) StreamChunkEvent {
	return StreamChunkEvent{workerEvent: newWorkerEvent(agent), Chunk: chunk}
}

// CallStartedEvent marks the beginning of one backend completion call.
type CallStartedEvent struct {
	workerEvent
	Model string `json:"model"`
}

func NewCallStartedEvent(agent, model string) CallStartedEvent {
	return CallStartedEvent{workerEvent: newWorkerEvent(agent), Model: model}
}

// CallCompletedEvent carries the authoritative usage for a finished call;
// it resets the streaming estimate.
type CallCompletedEvent struct {
	workerEvent
	Usage TokenUsage `json:"usage"`
}

func NewCallCompletedEvent(agent string, usage TokenUsage) CallCompletedEvent {
	return CallCompletedEvent{workerEvent: newWorkerEvent(agent), Usage: usage}
}

// ToolStartedEvent marks a tool invocation inside the worker loop.
type ToolStartedEvent struct {
	workerEvent
	Tool string `json:"tool"`
	Args string `json:"args,omitempty"`
}

func NewToolStartedEvent(agent, tool, args string) ToolStartedEvent {
	return ToolStartedEvent{workerEvent: newWorkerEvent(agent), Tool: tool, Args: args}
}

// ToolFinishedEvent carries the outcome of a tool invocation.
type ToolFinishedEvent struct {
	workerEvent
	Tool    string `json:"tool"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
}

func NewToolFinishedEvent(agent, tool string, success bool, result string) ToolFinishedEvent {
	return ToolFinishedEvent{workerEvent: newWorkerEvent(agent), Tool: tool, Success: success, Result: result}
}

// TaskStartedEvent marks a worker picking up its task.
type TaskStartedEvent struct {
	workerEvent
	Task string `json:"task"`
}

func NewTaskStartedEvent(agent, task string) TaskStartedEvent {
	return TaskStartedEvent{workerEvent: newWorkerEvent(agent), Task: task}
}

// TaskCompletedEvent marks terminal task state for a worker.
type TaskCompletedEvent struct {
	workerEvent
	Task    string `json:"task"`
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func NewTaskCompletedEvent(agent, task string, success bool, reason string) TaskCompletedEvent {
	return TaskCompletedEvent{workerEvent: newWorkerEvent(agent), Task: task, Success: success, Reason: reason}
}

// EventSink accepts worker events without blocking the producer. A full sink
// drops rather than stalls the worker.
type EventSink interface {
	Emit(event WorkerEvent)
}

// NopSink discards everything, for workers running without telemetry.
type NopSink struct{}

func (NopSink) Emit(WorkerEvent) {}
