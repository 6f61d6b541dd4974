// Package callback pushes task status transitions to an external tracking
// service, keyed by work item id.
package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/srhall/gitcrew/internal/event"
	"github.com/srhall/gitcrew/internal/logging"
)

// StatusUpdate is the payload POSTed on every task transition.
type StatusUpdate struct {
	WorkItemID   string    `json:"work_item_id"`
	Task         string    `json:"task"`
	Status       string    `json:"status"`
	AgentName    string    `json:"agent_name,omitempty"`
	BranchName   string    `json:"branch_name,omitempty"`
	WorktreePath string    `json:"worktree_path,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Notifier subscribes to task status events and forwards the ones that
// carry a work item id. Delivery failures are logged and dropped; status
// tracking never blocks or fails a session.
type Notifier struct {
	url    string
	client *http.Client
	logger *logging.Logger

	subID uint64
	wg    sync.WaitGroup
}

func NewNotifier(url string, logger *logging.Logger) *Notifier {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With("component", "callback"),
	}
}

// Attach starts forwarding task status events published on the bus.
func (n *Notifier) Attach(bus *event.Bus) {
	n.subID = bus.Subscribe("task.status", func(e event.Event) {
		evt, ok := e.(event.TaskStatusEvent)
		if !ok || evt.WorkItemID == "" {
			return
		}
		update := StatusUpdate{
			WorkItemID:   evt.WorkItemID,
			Task:         evt.Task,
			Status:       string(evt.Status),
			AgentName:    evt.AgentName,
			BranchName:   evt.BranchName,
			WorktreePath: evt.WorktreePath,
			ErrorMessage: evt.ErrorMessage,
			Timestamp:    time.Now().UTC(),
		}
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.send(update)
		}()
	})
}

// Detach unsubscribes and waits for in-flight deliveries.
func (n *Notifier) Detach(bus *event.Bus) {
	bus.Unsubscribe(n.subID)
	n.wg.Wait()
}

func (n *Notifier) send(update StatusUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := json.Marshal(update)
	if err != nil {
		n.logger.Warn("status update marshal failed", "error", err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("status update request failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("status update delivery failed",
			"work_item_id", update.WorkItemID, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		n.logger.Warn("status endpoint rejected update",
			"work_item_id", update.WorkItemID,
			"status", fmt.Sprintf("%d", resp.StatusCode))
	}
}
