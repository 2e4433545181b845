// Package dispatcher drains idle agents' backlogs on a short cadence,
// driving each eligible task through the Backlog -> In Progress ->
// Review -> Done (or -> Blocked) state machine. It shares the
// start/cancel/done goroutine shape used by internal/taskqueue's
// worker, but adds a per-agent try-lock so at most one cycle ever
// drains a given agent at a time.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/devswarm/devswarm/internal/delta"
	"github.com/devswarm/devswarm/internal/model"
	"github.com/devswarm/devswarm/internal/store"
)

// DefaultInterval is the polling cadence between dispatcher cycles.
const DefaultInterval = 2 * time.Second

// Executor runs a single task for an agent via the external
// orchestration collaborator. Implemented by orchestration.Client.
type Executor interface {
	ExecuteTask(ctx context.Context, agentID, taskID string) error
}

// Dispatcher snapshots idle agents every interval and, for each one it
// can lock, drives its Backlog tasks to completion or Blocked.
type Dispatcher struct {
	store    *store.Store
	executor Executor
	delta    *delta.Publisher
	interval time.Duration
	logger   *slog.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Dispatcher. interval defaults to DefaultInterval when
// zero-valued.
func New(s *store.Store, executor Executor, publisher *delta.Publisher, interval time.Duration, logger *slog.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:    s,
		executor: executor,
		delta:    publisher,
		interval: interval,
		logger:   logger,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Start launches the polling loop. Safe to call once.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.run(runCtx)
	return nil
}

// Stop cancels the loop. An in-flight task is allowed to finish; no
// new task is started on the agent currently being drained.
func (d *Dispatcher) Stop() {
	if d.cancel == nil {
		return
	}
	d.cancel()
	<-d.done
}

func (d *Dispatcher) run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.cycle(ctx)
		}
	}
}

// cycle performs one full pass: snapshot idle agents, try-lock each,
// and drain its backlog under the lock.
func (d *Dispatcher) cycle(ctx context.Context) {
	agents, err := d.store.ListAgents(ctx)
	if err != nil {
		d.logger.Error("dispatcher: list agents failed", "error", err)
		return
	}

	for _, a := range agents {
		if ctx.Err() != nil {
			return
		}
		if a.Status != model.AgentIdle {
			continue
		}

		lock := d.lockFor(a.ID)
		if !lock.TryLock() {
			continue // another cycle is already draining this agent
		}
		d.drainAgent(ctx, a.ID)
		lock.Unlock()
	}
}

func (d *Dispatcher) lockFor(agentID string) *sync.Mutex {
	d.locksMu.Lock()
	defer d.locksMu.Unlock()
	l, ok := d.locks[agentID]
	if !ok {
		l = &sync.Mutex{}
		d.locks[agentID] = l
	}
	return l
}

// drainAgent drives every Backlog task assigned to agentID through the
// state machine, one at a time, stopping early if the context is
// cancelled between tasks. The agent is held in AgentWorking for the
// duration of the drain and returned to AgentIdle once its backlog is
// exhausted, so the next cycle's Idle snapshot picks it up again.
func (d *Dispatcher) drainAgent(ctx context.Context, agentID string) {
	tasks, err := d.store.ListTasksByAgentAndStatus(ctx, agentID, model.TaskBacklog)
	if err != nil {
		d.logger.Error("dispatcher: list backlog tasks failed", "agent", agentID, "error", err)
		return
	}
	if len(tasks) == 0 {
		return
	}

	if err := d.setAgentStatus(ctx, agentID, model.AgentWorking); err != nil {
		d.logger.Error("dispatcher: mark agent working failed", "agent", agentID, "error", err)
		return
	}

	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		d.runTask(ctx, agentID, task)
	}

	if err := d.setAgentStatus(ctx, agentID, model.AgentIdle); err != nil {
		d.logger.Error("dispatcher: restore agent idle failed", "agent", agentID, "error", err)
	}
}

// setAgentStatus persists an agent's status, bumps the global version,
// and publishes the resulting entity as a delta — the same
// persist-bump-publish choke point transition uses for tasks.
func (d *Dispatcher) setAgentStatus(ctx context.Context, agentID string, status model.AgentStatus) error {
	s := string(status)
	agent, err := d.store.PatchAgent(ctx, agentID, store.AgentPatch{Status: &s})
	if err != nil {
		return err
	}
	if _, err := d.store.BumpVersion(ctx); err != nil {
		return err
	}
	d.delta.Publish(ctx, delta.CategoryAgents, agentID, agent)
	return nil
}

// runTask drives one task through Backlog -> In Progress -> {Review ->
// Done | Blocked}, persisting, bumping version, and publishing a delta
// after every transition, then emits a summary message.
func (d *Dispatcher) runTask(ctx context.Context, agentID string, task *model.Task) {
	if err := d.transition(ctx, task.ID, model.TaskInProgress); err != nil {
		d.logger.Error("dispatcher: transition to in-progress failed", "task", task.ID, "error", err)
		return
	}

	execErr := d.executor.ExecuteTask(ctx, agentID, task.ID)

	var summary string
	if execErr != nil {
		if err := d.transition(ctx, task.ID, model.TaskBlocked); err != nil {
			d.logger.Error("dispatcher: transition to blocked failed", "task", task.ID, "error", err)
			return
		}
		if err := d.store.LogActivity(ctx, agentID, "task_blocked", map[string]any{
			"taskId": task.ID,
			"error":  execErr.Error(),
		}); err != nil {
			d.logger.Error("dispatcher: log activity failed", "error", err)
		}
		summary = fmt.Sprintf("%s is blocked on %q: %v", agentID, task.Title, execErr)
	} else {
		if err := d.transition(ctx, task.ID, model.TaskReview); err != nil {
			d.logger.Error("dispatcher: transition to review failed", "task", task.ID, "error", err)
			return
		}
		if err := d.transition(ctx, task.ID, model.TaskDone); err != nil {
			d.logger.Error("dispatcher: transition to done failed", "task", task.ID, "error", err)
			return
		}
		summary = fmt.Sprintf("%s completed %q", agentID, task.Title)
	}

	msgID, err := d.store.CreateMessage(ctx, &model.Message{
		FromAgent:   agentID,
		ToAgent:     "orchestrator",
		Content:     summary,
		MessageType: "status",
	})
	if err != nil {
		d.logger.Error("dispatcher: create summary message failed", "error", err)
		return
	}
	msg, err := d.store.ListMessages(ctx, 1, "")
	if err == nil && len(msg) == 1 {
		d.delta.Publish(ctx, delta.CategoryMessages, msgID, msg[0])
	}
}

// transition persists a task's status, bumps the global version, and
// publishes the resulting entity as a delta.
func (d *Dispatcher) transition(ctx context.Context, taskID string, status model.TaskStatus) error {
	if err := d.store.UpdateTaskStatus(ctx, taskID, status); err != nil {
		return err
	}
	if _, err := d.store.BumpVersion(ctx); err != nil {
		return err
	}
	task, err := d.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	d.delta.Publish(ctx, delta.CategoryTasks, taskID, task)
	return nil
}
