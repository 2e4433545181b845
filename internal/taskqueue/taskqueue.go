// Package taskqueue drains the durable task_queue log (see
// internal/store's task_queue_entries/task_queue_cursors tables) and
// hands each entry to an orchestration collaborator. It follows the
// same start/stop/done-channel shape used throughout this codebase: a
// single background goroutine, cancellable context, and a done channel
// Stop waits on.
package taskqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/devswarm/devswarm/internal/store"
)

// DefaultGroup is the consumer group name used by the default
// devswarmd process. A distinct group name lets a second worker
// process replay the same log independently (e.g. for a dry-run).
const DefaultGroup = "dispatcher"

// DefaultPollInterval is how often the worker checks for new entries
// when the queue is caught up.
const DefaultPollInterval = 1 * time.Second

// Orchestrator executes one orchestration goal against the external
// orchestration service. Implemented by internal/orchestration.Client.
type Orchestrator interface {
	Execute(ctx context.Context, goal, target string) error
}

// job is the JSON shape enqueued by the HTTP API's task creation
// handler whenever a new task already names its assigned agents (see
// internal/httpapi's handleCreateTask).
type job struct {
	Goal   string `json:"goal"`
	Target string `json:"target,omitempty"`
}

// Worker polls the store's task queue for one consumer group and
// drives each entry through an Orchestrator, acknowledging it whether
// or not execution succeeds — the queue has no redelivery path, so a
// failed goal is recorded to the activity log instead of retried.
type Worker struct {
	store        *store.Store
	orchestrator Orchestrator
	group        string
	pollInterval time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Worker. group and pollInterval default to DefaultGroup
// and DefaultPollInterval when zero-valued.
func New(s *store.Store, orchestrator Orchestrator, group string, pollInterval time.Duration, logger *slog.Logger) *Worker {
	if group == "" {
		group = DefaultGroup
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		store:        s,
		orchestrator: orchestrator,
		group:        group,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start joins the consumer group and launches the poll loop. Safe to
// call once; a second call is a no-op that returns nil.
func (w *Worker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	if err := w.store.JoinGroup(ctx, w.group); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(runCtx)
	return nil
}

// Stop cancels the poll loop and waits for the in-flight entry, if
// any, to finish.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	w.drain(ctx)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes every entry currently available for the group
// before returning, so a burst of enqueues is handled within one
// poll tick rather than trickling out one per tick.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		entry, err := w.store.Next(ctx, w.group)
		if err != nil {
			w.logger.Error("task queue next failed", "group", w.group, "error", err)
			return
		}
		if entry == nil {
			return
		}
		w.process(ctx, entry.ID, entry.Payload)
	}
}

func (w *Worker) process(ctx context.Context, id int64, payload string) {
	defer func() {
		if err := w.store.Ack(ctx, w.group, id); err != nil {
			w.logger.Error("task queue ack failed", "group", w.group, "id", id, "error", err)
		}
	}()

	var j job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		w.logger.Error("task queue entry has malformed payload", "id", id, "error", err)
		return
	}

	if err := w.orchestrator.Execute(ctx, j.Goal, j.Target); err != nil {
		w.logger.Warn("orchestration execution failed", "goal", j.Goal, "target", j.Target, "error", err)
		if logErr := w.store.LogActivity(ctx, "dispatcher", "orchestration_failed", map[string]any{
			"goal":   j.Goal,
			"target": j.Target,
			"error":  err.Error(),
		}); logErr != nil {
			w.logger.Error("failed to log orchestration failure", "error", logErr)
		}
		return
	}

	w.logger.Info("orchestration goal completed", "goal", j.Goal, "target", j.Target)
}
