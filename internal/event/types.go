// Package event defines the session-level event types used to decouple the
// orchestrator from its observers (status callback client, summary printer).
// Worker-to-collector telemetry uses a separate bounded typed channel in the
// telemetry package; this bus carries coarse lifecycle notifications only.
package event

import "time"

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	// Convention: "category.action" (e.g., "task.completed", "merge.conflict").
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// TaskStatus mirrors the lifecycle reported to the external work-item layer.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskRetrying  TaskStatus = "retrying"
)

// TaskStatusEvent is emitted on every task lifecycle transition.
type TaskStatusEvent struct {
	baseEvent
	Task         string     // Task name
	WorkItemID   string     // External work-item id (may be empty)
	Status       TaskStatus // New status
	AgentName    string     // Worker executing the task
	BranchName   string     // Feature branch
	WorktreePath string     // Worktree directory
	ErrorMessage string     // Failure reason (empty unless failed)
}

// NewTaskStatusEvent creates a TaskStatusEvent.
func NewTaskStatusEvent(task, workItemID string, status TaskStatus) TaskStatusEvent {
	return TaskStatusEvent{
		baseEvent:  newBaseEvent("task.status"),
		Task:       task,
		WorkItemID: workItemID,
		Status:     status,
	}
}

// WithDetail attaches agent/branch/worktree context to the event.
func (e TaskStatusEvent) WithDetail(agent, branch, worktree string) TaskStatusEvent {
	e.AgentName = agent
	e.BranchName = branch
	e.WorktreePath = worktree
	return e
}

// WithError attaches a failure reason to the event.
func (e TaskStatusEvent) WithError(msg string) TaskStatusEvent {
	e.ErrorMessage = msg
	return e
}

// PhaseChangeEvent is emitted when the session moves between phases.
type PhaseChangeEvent struct {
	baseEvent
	SessionID     string
	PreviousPhase string
	CurrentPhase  string
}

// NewPhaseChangeEvent creates a PhaseChangeEvent.
func NewPhaseChangeEvent(sessionID, previous, current string) PhaseChangeEvent {
	return PhaseChangeEvent{
		baseEvent:     newBaseEvent("session.phase"),
		SessionID:     sessionID,
		PreviousPhase: previous,
		CurrentPhase:  current,
	}
}

// MergeBranchEvent is emitted per branch during the merge phase.
type MergeBranchEvent struct {
	baseEvent
	Branch        string
	Merged        bool     // true if cleanly merged or resolved
	ConflictFiles []string // populated when a conflict was hit
}

// NewMergeBranchEvent creates a MergeBranchEvent.
func NewMergeBranchEvent(branch string, merged bool, conflictFiles []string) MergeBranchEvent {
	return MergeBranchEvent{
		baseEvent:     newBaseEvent("merge.branch"),
		Branch:        branch,
		Merged:        merged,
		ConflictFiles: conflictFiles,
	}
}

// PRCreatedEvent is emitted when the optional post-merge PR hook succeeds.
type PRCreatedEvent struct {
	baseEvent
	IntegrationBranch string
	URL               string
}

// NewPRCreatedEvent creates a PRCreatedEvent.
func NewPRCreatedEvent(integrationBranch, url string) PRCreatedEvent {
	return PRCreatedEvent{
		baseEvent:         newBaseEvent("pr.created"),
		IntegrationBranch: integrationBranch,
		URL:               url,
	}
}
