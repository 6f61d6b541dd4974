// Package worker drives one task to completion through an iterative
// tool-calling loop scoped to the task's worktree.
package worker

import (
	"context"

	"github.com/srhall/gitcrew/internal/telemetry"
)

// Message roles mirror the chat-completion convention.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in the conversation the backend reasons over.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set on RoleTool messages
}

// ToolCall is a backend request to invoke a named tool with JSON arguments.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolSpec describes a tool to the backend.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Request is one completion call.
type Request struct {
	Model    string
	System   string
	Messages []Message
	Tools    []ToolSpec
}

// Response is the backend's answer: either final content, or tool calls the
// loop must execute before calling again.
type Response struct {
	Content   string
	ToolCalls []ToolCall
	Usage     telemetry.TokenUsage
}

// Backend is the reasoning capability behind a worker. onDelta, when
// non-nil, receives partial output as it streams; implementations that do
// not stream may ignore it.
type Backend interface {
	Complete(ctx context.Context, req Request, onDelta func(string)) (Response, error)
}
