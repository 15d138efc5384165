package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/settings"
)

// nextRunLayout formats TaskInfo.NextRun.
const nextRunLayout = "2006-01-02 15:04:05"

// NextRunPaused is reported for disabled or unschedulable tasks.
const NextRunPaused = "Paused"

// Responder arms response correlation after a task publishes.
type Responder interface {
	Arm(task Task)
}

// TaskEngine runs the active server's scheduled tasks on a cron runner.
//
// Tasks are loaded when the session connects and cleared when it drops.
// Each enabled task has exactly one cron entry; editing or toggling a
// task replaces its entry.
type TaskEngine struct {
	repo      TaskRepository
	pub       Publisher
	hub       events.Broadcaster
	history   HistoryRecorder
	settings  Settings
	responder Responder
	logger    Logger
	now       func() time.Time
	cron      *cron.Cron

	mu      sync.Mutex
	server  string
	order   []string
	tasks   map[string]*Task
	entries map[string]cron.EntryID
}

// NewTaskEngine creates a task engine with an idle runner.
func NewTaskEngine(repo TaskRepository, pub Publisher, hub events.Broadcaster, rec HistoryRecorder, cfg Settings) *TaskEngine {
	e := &TaskEngine{
		repo:     repo,
		pub:      pub,
		hub:      hub,
		history:  rec,
		settings: cfg,
		logger:   noopLogger{},
		now:      time.Now,
		tasks:    make(map[string]*Task),
		entries:  make(map[string]cron.EntryID),
	}
	e.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{e})))
	return e
}

// SetLogger sets the logger for the task engine.
func (e *TaskEngine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// SetResponder sets the component armed after a task with response
// analysis publishes.
func (e *TaskEngine) SetResponder(r Responder) {
	e.responder = r
}

// Load replaces the task table with server's tasks, schedules the enabled
// ones and broadcasts the listing.
func (e *TaskEngine) Load(ctx context.Context, server string) error {
	list, err := e.repo.ListByServer(ctx, server)
	if err != nil {
		return fmt.Errorf("loading tasks: %w", err)
	}

	e.mu.Lock()
	e.resetLocked()
	e.server = server
	for i := range list {
		t := list[i]
		e.tasks[t.ID] = &t
		e.order = append(e.order, t.ID)
		if t.Enabled {
			e.scheduleLocked(&t)
		}
	}
	e.mu.Unlock()

	e.logger.Info("scheduled tasks loaded", "server", server, "count", len(list))
	e.broadcast()
	return nil
}

// Start starts the cron runner. Starting a running runner is a no-op.
func (e *TaskEngine) Start() {
	e.cron.Start()
}

// Stop stops the cron runner without waiting for running jobs.
func (e *TaskEngine) Stop() {
	e.cron.Stop()
}

// Clear removes every job and task and broadcasts the empty listing.
func (e *TaskEngine) Clear() {
	e.mu.Lock()
	e.resetLocked()
	e.server = ""
	e.mu.Unlock()
	e.broadcast()
}

func (e *TaskEngine) resetLocked() {
	for id, entry := range e.entries {
		e.cron.Remove(entry)
		delete(e.entries, id)
	}
	e.tasks = make(map[string]*Task)
	e.order = nil
}

// scheduleLocked adds a cron entry for t, replacing any existing one.
// Caller holds e.mu.
func (e *TaskEngine) scheduleLocked(t *Task) {
	e.unscheduleLocked(t.ID)

	sched, desc := BuildSchedule(t.ScheduleType, t.ScheduleData)
	if sched == nil {
		e.logger.Warn("task has no usable schedule", "task", t.Name, "schedule", desc)
		return
	}

	id := t.ID
	e.entries[id] = e.cron.Schedule(sched, cron.FuncJob(func() {
		if err := e.execute(context.Background(), id); err != nil {
			e.logger.Debug("scheduled run did not publish", "task_id", id, "error", err)
		}
	}))
}

func (e *TaskEngine) unscheduleLocked(id string) {
	if entry, ok := e.entries[id]; ok {
		e.cron.Remove(entry)
		delete(e.entries, id)
	}
}

// List returns the loaded tasks in load order, with their schedule
// description and next fire time.
func (e *TaskEngine) List() []TaskInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	out := make([]TaskInfo, 0, len(e.order))
	for _, id := range e.order {
		t := e.tasks[id]
		sched, desc := BuildSchedule(t.ScheduleType, t.ScheduleData)
		info := TaskInfo{Task: *t, Schedule: desc, NextRun: NextRunPaused}

		if entryID, ok := e.entries[id]; ok && sched != nil {
			next := e.cron.Entry(entryID).Next
			if next.IsZero() {
				next = sched.Next(now)
			}
			info.NextRun = next.Format(nextRunLayout)
		}
		out = append(out, info)
	}
	return out
}

// Get returns a loaded task.
func (e *TaskEngine) Get(id string) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Run publishes a loaded task immediately.
func (e *TaskEngine) Run(ctx context.Context, id string) error {
	return e.execute(ctx, id)
}

func (e *TaskEngine) execute(ctx context.Context, id string) error {
	t, ok := e.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if !e.pub.IsConnected() {
		e.logger.Warn("task skipped, broker not connected", "task", t.Name, "topic", t.Topic)
		return ErrNotConnected
	}

	now := e.now()
	payload := t.Payload
	if t.UsePlaceholders {
		payload = ExpandPlaceholdersAt(payload, now)
	}

	qos := byte(e.settings.Int(settings.KeyDefaultQoS, 1))
	if err := e.pub.Publish(t.Topic, []byte(payload), qos, false); err != nil {
		e.logger.Error("task publish failed", "task", t.Name, "topic", t.Topic, "error", err)
		return fmt.Errorf("publishing task %q: %w", t.Name, err)
	}
	e.logger.Info("task executed", "task", t.Name, "topic", t.Topic)
	e.history.Record(t.Name, fmt.Sprintf("Published to %s: %s", t.Topic, payload), history.Out)

	updated, ok := e.bump(id, now)
	if ok {
		if err := e.repo.UpdateExecution(ctx, id, updated.Executions, now); err != nil {
			e.logger.Warn("persisting task execution failed", "task", t.Name, "error", err)
		}
		e.broadcast()
		t = updated
	}

	if t.ResponseSpec.Enabled && e.responder != nil {
		e.responder.Arm(t)
	}
	return nil
}

// bump increments a task's execution counter in memory.
func (e *TaskEngine) bump(id string, now time.Time) (Task, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return Task{}, false
	}
	t.Executions++
	t.LastRun = &now
	return *t, true
}

// RecordResponse counts a satisfied response as an execution of the task.
func (e *TaskEngine) RecordResponse(ctx context.Context, taskID string) {
	now := e.now()
	t, ok := e.bump(taskID, now)
	if !ok {
		return
	}
	if err := e.repo.UpdateExecution(ctx, taskID, t.Executions, now); err != nil {
		e.logger.Warn("persisting task response failed", "task", t.Name, "error", err)
	}
	e.broadcast()
}

// ─── Administration ─────────────────────────────────────────────────────────

// Create validates and stores a new task, scheduling it when it belongs
// to the loaded server and is enabled.
func (e *TaskEngine) Create(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = GenerateID()
	}
	t.Executions = 0
	t.LastRun = nil
	if err := ValidateTask(t); err != nil {
		return err
	}
	if err := e.repo.Create(ctx, t); err != nil {
		return err
	}

	e.mu.Lock()
	if t.ServerName == e.server {
		stored := *t
		e.tasks[t.ID] = &stored
		e.order = append(e.order, t.ID)
		if stored.Enabled {
			e.scheduleLocked(&stored)
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Update validates and stores a task's new definition and reschedules it.
// Counters are kept.
func (e *TaskEngine) Update(ctx context.Context, t *Task) error {
	if err := ValidateTask(t); err != nil {
		return err
	}
	if err := e.repo.Update(ctx, t); err != nil {
		return err
	}

	e.mu.Lock()
	if existing, ok := e.tasks[t.ID]; ok {
		t.Executions = existing.Executions
		t.LastRun = existing.LastRun
		stored := *t
		e.tasks[t.ID] = &stored
		if stored.Enabled {
			e.scheduleLocked(&stored)
		} else {
			e.unscheduleLocked(t.ID)
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Delete removes a task and its job.
func (e *TaskEngine) Delete(ctx context.Context, id string) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	e.unscheduleLocked(id)
	if _, ok := e.tasks[id]; ok {
		delete(e.tasks, id)
		for i, oid := range e.order {
			if oid == id {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Toggle pauses or resumes a task and returns the updated task.
func (e *TaskEngine) Toggle(ctx context.Context, id string) (*Task, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Enabled = !t.Enabled
	if err := e.repo.SetEnabled(ctx, id, t.Enabled); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if existing, ok := e.tasks[id]; ok {
		existing.Enabled = t.Enabled
		if t.Enabled {
			e.scheduleLocked(existing)
		} else {
			e.unscheduleLocked(id)
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return t, nil
}

func (e *TaskEngine) broadcast() {
	e.hub.Broadcast(events.TaskUpdate, e.List())
}

// cronLogger routes the runner's own messages to the engine logger.
type cronLogger struct {
	e *TaskEngine
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.e.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.e.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
