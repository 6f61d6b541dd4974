// Package telemetry aggregates live observability state for every worker
// in a session and ships periodic snapshots to a sink.
package telemetry

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/srhall/gitcrew/internal/logging"
)

const defaultEventBuffer = 1024

// CollectorOptions configure a Collector. Interval defaults to 2s and
// Logger to a no-op.
type CollectorOptions struct {
	TeamID      string
	SessionID   string
	Interval    time.Duration
	Sink        Sink
	Logger      *logging.Logger
	EventBuffer int

	// Ring capacities per agent; zero means the package defaults.
	GitActivityCap int
	ToolCallCap    int
	ActivityLogCap int
}

// Collector owns one AgentRuntime per tracked worker, drains the worker
// event channel, and dispatches a snapshot per agent on a fixed timer. The
// snapshot timer is independent of task execution; sink failures are logged
// and never stop the loop.
type Collector struct {
	opts    CollectorOptions
	events  chan WorkerEvent
	dropped int64

	mu     sync.RWMutex
	agents map[string]*AgentRuntime
	order  []string

	startedAt time.Time
	cancel    context.CancelFunc
	group     *errgroup.Group
	stopOnce  sync.Once
}

func NewCollector(opts CollectorOptions) *Collector {
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	opts.Logger = opts.Logger.With("component", "telemetry")
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	if opts.GitActivityCap <= 0 {
		opts.GitActivityCap = GitActivityCap
	}
	if opts.ToolCallCap <= 0 {
		opts.ToolCallCap = ToolCallCap
	}
	if opts.ActivityLogCap <= 0 {
		opts.ActivityLogCap = ActivityLogCap
	}
	return &Collector{
		opts:   opts,
		events: make(chan WorkerEvent, opts.EventBuffer),
		agents: make(map[string]*AgentRuntime),
	}
}

// Track registers a worker. Idempotent; returns its runtime either way.
func (c *Collector) Track(agent string) *AgentRuntime {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt, ok := c.agents[agent]; ok {
		return rt
	}
	rt := NewAgentRuntimeSized(agent,
		c.opts.GitActivityCap, c.opts.ToolCallCap, c.opts.ActivityLogCap)
	c.agents[agent] = rt
	c.order = append(c.order, agent)
	return rt
}

// Runtime looks up a tracked agent, tracking it on first sight so scraped
// lines for unknown agents are not lost.
func (c *Collector) Runtime(agent string) *AgentRuntime {
	c.mu.RLock()
	rt, ok := c.agents[agent]
	c.mu.RUnlock()
	if ok {
		return rt
	}
	return c.Track(agent)
}

// Emit implements EventSink. It never blocks a worker: when the channel is
// full the event is dropped and counted.
func (c *Collector) Emit(e WorkerEvent) {
	select {
	case c.events <- e:
	default:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	}
}

// Start launches the drain and snapshot loops. Stop shuts them down.
func (c *Collector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.group, ctx = errgroup.WithContext(ctx)
	c.startedAt = time.Now().UTC()

	c.group.Go(func() error {
		c.drainLoop(ctx)
		return nil
	})
	c.group.Go(func() error {
		c.snapshotLoop(ctx)
		return nil
	})
}

// Stop drains remaining events, emits one final round of snapshots, and
// writes the run summary.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
			_ = c.group.Wait()
		}
		c.flushEvents()
		c.dispatchSnapshots(context.Background())
		c.writeSummary()
	})
}

func (c *Collector) drainLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-c.events:
			c.apply(e)
		}
	}
}

func (c *Collector) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(c.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.dispatchSnapshots(ctx)
		}
	}
}

// flushEvents empties whatever is still queued after the loops exit.
func (c *Collector) flushEvents() {
	for {
		select {
		case e := <-c.events:
			c.apply(e)
		default:
			return
		}
	}
}

func (c *Collector) apply(e WorkerEvent) {
	c.Runtime(e.Agent()).Apply(e)
}

func (c *Collector) dispatchSnapshots(ctx context.Context) {
	if c.opts.Sink == nil {
		return
	}
	for _, rt := range c.runtimes() {
		snap := rt.Snapshot(c.opts.TeamID, true)
		if err := c.opts.Sink.WriteSnapshot(ctx, snap); err != nil {
			c.opts.Logger.Warn("snapshot dispatch failed",
				"agent", rt.Name(), "error", err)
		}
	}
}

func (c *Collector) runtimes() []*AgentRuntime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*AgentRuntime, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.agents[name])
	}
	return out
}

// Dropped reports events discarded because the channel was full.
func (c *Collector) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Summary builds the cumulative run totals.
func (c *Collector) Summary() RunSummary {
	summary := RunSummary{
		TeamID:     c.opts.TeamID,
		SessionID:  c.opts.SessionID,
		StartedAt:  c.startedAt,
		FinishedAt: time.Now().UTC(),
	}
	for _, rt := range c.runtimes() {
		snap := rt.Snapshot(c.opts.TeamID, true)
		agent := AgentSummary{
			AgentName:    snap.AgentName,
			Status:       snap.Status,
			TokenUsage:   snap.TokenUsage.TokenUsage,
			CostUSD:      snap.EstimatedCost,
			ToolCalls:    len(snap.ToolCalls),
			FilesWritten: len(snap.FilesWritten),
		}
		summary.Agents = append(summary.Agents, agent)
		summary.TotalTokens += agent.TokenUsage.TotalTokens
		summary.TotalCostUSD += agent.CostUSD
	}
	sort.Slice(summary.Agents, func(i, j int) bool {
		return summary.Agents[i].AgentName < summary.Agents[j].AgentName
	})
	return summary
}

func (c *Collector) writeSummary() {
	if c.opts.Sink == nil {
		return
	}
	if err := c.opts.Sink.WriteSummary(context.Background(), c.Summary()); err != nil {
		c.opts.Logger.Warn("run summary write failed", "error", err)
	}
}
