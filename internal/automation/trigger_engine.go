package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/settings"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// TriggerEngine evaluates the active server's message triggers against
// every inbound message, in registration order.
type TriggerEngine struct {
	repo     TriggerRepository
	pub      Publisher
	hub      events.Broadcaster
	history  HistoryRecorder
	settings Settings
	logger   Logger
	now      func() time.Time

	mu       sync.RWMutex
	server   string
	triggers []Trigger
}

// NewTriggerEngine creates a trigger engine with no triggers loaded.
func NewTriggerEngine(repo TriggerRepository, pub Publisher, hub events.Broadcaster, rec HistoryRecorder, cfg Settings) *TriggerEngine {
	return &TriggerEngine{
		repo:     repo,
		pub:      pub,
		hub:      hub,
		history:  rec,
		settings: cfg,
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the trigger engine.
func (e *TriggerEngine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Load replaces the trigger table with server's triggers and broadcasts it.
func (e *TriggerEngine) Load(ctx context.Context, server string) error {
	list, err := e.repo.ListByServer(ctx, server)
	if err != nil {
		return fmt.Errorf("loading triggers: %w", err)
	}

	e.mu.Lock()
	e.server = server
	e.triggers = list
	e.mu.Unlock()

	e.logger.Info("message triggers loaded", "server", server, "count", len(list))
	e.broadcast()
	return nil
}

// Clear drops every trigger and broadcasts the empty table.
func (e *TriggerEngine) Clear() {
	e.mu.Lock()
	e.server = ""
	e.triggers = nil
	e.mu.Unlock()
	e.broadcast()
}

// List returns a copy of the loaded triggers in registration order.
func (e *TriggerEngine) List() []Trigger {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Trigger, len(e.triggers))
	copy(out, e.triggers)
	return out
}

// Process fires every enabled trigger whose pattern matches topic and whose
// condition holds for payload. It returns the number fired.
func (e *TriggerEngine) Process(ctx context.Context, msgTopic string, payload []byte) int {
	candidates := e.List()
	if len(candidates) == 0 {
		return 0
	}

	var data any
	parsed := false
	fired := 0
	for _, t := range candidates {
		if !t.Enabled || !topic.MatchesStrict(msgTopic, t.TopicPattern) {
			continue
		}
		if !parsed {
			data = ParsePayload(payload)
			parsed = true
		}
		if !EvaluateCondition(t.Condition, data) {
			continue
		}
		e.fire(ctx, t, msgTopic, payload)
		fired++
	}
	return fired
}

func (e *TriggerEngine) fire(ctx context.Context, t Trigger, msgTopic string, payload []byte) {
	now := e.now()

	e.mu.Lock()
	count := t.TriggerCount + 1
	for i := range e.triggers {
		if e.triggers[i].ID == t.ID {
			e.triggers[i].TriggerCount++
			e.triggers[i].LastTriggered = &now
			count = e.triggers[i].TriggerCount
			break
		}
	}
	e.mu.Unlock()

	if err := e.repo.UpdateCounters(ctx, t.ID, count, now); err != nil {
		e.logger.Warn("persisting trigger counters failed", "trigger", t.Name, "error", err)
	}

	e.logger.Info("message trigger fired", "trigger", t.Name, "topic", msgTopic, "action", t.ActionType)

	switch t.ActionType {
	case ActionPublish:
		e.publish(t)
	case ActionNotify:
		e.hub.Broadcast(events.NewNotification, events.Notification{
			Title: "Trigger: " + t.Name,
			Body:  "Topic: " + msgTopic + "\nPayload: " + truncate(string(payload), previewLimit),
			Type:  events.TypeInfo,
			Tag:   fmt.Sprintf("trigger_%d", t.ID),
		})
		e.history.Record("Trigger: "+t.Name, "Topic: "+msgTopic, history.In)
	default:
		e.logger.Warn("unknown trigger action", "trigger", t.Name, "action", t.ActionType)
	}
}

func (e *TriggerEngine) publish(t Trigger) {
	if t.ActionTopic == "" || t.ActionPayload == "" {
		e.logger.Debug("trigger publish skipped, no topic or payload", "trigger", t.Name)
		return
	}
	if !e.pub.IsConnected() {
		e.logger.Warn("trigger publish skipped, broker not connected", "trigger", t.Name)
		return
	}

	payload := ExpandPlaceholdersAt(t.ActionPayload, e.now())
	qos := byte(e.settings.Int(settings.KeyDefaultQoS, 1))
	if err := e.pub.Publish(t.ActionTopic, []byte(payload), qos, false); err != nil {
		e.logger.Error("trigger publish failed", "trigger", t.Name, "topic", t.ActionTopic, "error", err)
		return
	}
	e.history.Record("Trigger: "+t.Name, fmt.Sprintf("Published to %s: %s", t.ActionTopic, payload), history.Out)
}

// ─── Administration ─────────────────────────────────────────────────────────

// Create validates and stores a new trigger. It joins the live table when
// it belongs to the loaded server.
func (e *TriggerEngine) Create(ctx context.Context, t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	t.TriggerCount = 0
	t.LastTriggered = nil
	if err := e.repo.Create(ctx, t); err != nil {
		return err
	}

	e.mu.Lock()
	if t.ServerName == e.server {
		e.triggers = append(e.triggers, *t)
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Update validates and stores a trigger's new definition. Counters are kept.
func (e *TriggerEngine) Update(ctx context.Context, t *Trigger) error {
	if err := ValidateTrigger(t); err != nil {
		return err
	}
	if err := e.repo.Update(ctx, t); err != nil {
		return err
	}

	e.mu.Lock()
	for i := range e.triggers {
		if e.triggers[i].ID == t.ID {
			t.TriggerCount = e.triggers[i].TriggerCount
			t.LastTriggered = e.triggers[i].LastTriggered
			e.triggers[i] = *t
			break
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Delete removes a trigger.
func (e *TriggerEngine) Delete(ctx context.Context, id int64) error {
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}

	e.mu.Lock()
	for i := range e.triggers {
		if e.triggers[i].ID == id {
			e.triggers = append(e.triggers[:i], e.triggers[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return nil
}

// Toggle flips a trigger's enabled flag and returns the updated trigger.
func (e *TriggerEngine) Toggle(ctx context.Context, id int64) (*Trigger, error) {
	t, err := e.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Enabled = !t.Enabled
	if err := e.repo.SetEnabled(ctx, id, t.Enabled); err != nil {
		return nil, err
	}

	e.mu.Lock()
	for i := range e.triggers {
		if e.triggers[i].ID == id {
			e.triggers[i].Enabled = t.Enabled
			break
		}
	}
	e.mu.Unlock()

	e.broadcast()
	return t, nil
}

func (e *TriggerEngine) broadcast() {
	e.hub.Broadcast(events.MessageTriggersUpdate, e.List())
}
