package alerting

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/nerrad567/iotgateway-core/internal/events"
)

// Logger defines the logging interface used by the engine.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Engine evaluates the active server's alert rules against device readings.
//
// Rules are cached at session start and cleared at session end; Check
// never touches the store.
type Engine struct {
	repo   Repository
	hub    events.Broadcaster
	logger Logger

	mu     sync.RWMutex
	server string
	rules  []Rule
}

// NewEngine creates an alert engine.
func NewEngine(repo Repository, hub events.Broadcaster) *Engine {
	if hub == nil {
		hub = events.Discard{}
	}
	return &Engine{repo: repo, hub: hub, logger: noopLogger{}}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Load caches the rules of server and broadcasts alerts_update.
func (e *Engine) Load(ctx context.Context, server string) error {
	rules, err := e.repo.ListByServer(ctx, server)
	if err != nil {
		return fmt.Errorf("loading alerts: %w", err)
	}

	e.mu.Lock()
	e.server = server
	e.rules = rules
	e.mu.Unlock()

	e.logger.Info("alert rules loaded", "server", server, "count", len(rules))
	e.hub.Broadcast(events.AlertsUpdate, e.List())
	return nil
}

// Clear drops the cache and broadcasts an empty alerts_update.
func (e *Engine) Clear() {
	e.mu.Lock()
	e.server = ""
	e.rules = nil
	e.mu.Unlock()

	e.hub.Broadcast(events.AlertsUpdate, []Rule{})
}

// List returns a copy of the cached rules.
func (e *Engine) List() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// Check evaluates the rules and broadcasts new_alert for each one that
// fires.
func (e *Engine) Check(deviceID, location string, reading map[string]any) {
	for _, alert := range e.Evaluate(deviceID, location, reading) {
		e.logger.Warn("alert fired", "device", deviceID+"@"+location, "message", alert.Message)
		e.hub.Broadcast(events.NewAlert, alert)
	}
}

// Evaluate returns the alerts the reading fires without emitting them.
//
// A rule fires when it is enabled, selects the device, the reading has its
// metric and the comparison holds. Both operands are compared as numbers
// when they parse as numbers; otherwise only == applies, as string
// equality.
func (e *Engine) Evaluate(deviceID, location string, reading map[string]any) []events.Alert {
	e.mu.RLock()
	rules := make([]Rule, len(e.rules))
	copy(rules, e.rules)
	e.mu.RUnlock()

	var fired []events.Alert
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || !rule.Selects(deviceID, location) {
			continue
		}
		actual, ok := reading[rule.Metric]
		if !ok {
			continue
		}
		if !compare(actual, rule.Operator, rule.Value) {
			continue
		}

		severity := rule.Type
		if severity == "" {
			severity = DefaultSeverity
		}
		fired = append(fired, events.Alert{
			Message: render(rule.Message, deviceName(reading, deviceID), actual),
			Type:    severity,
		})
	}
	return fired
}

// ─── Administration ────────────────────────────────────────────────────────

// Create persists a new rule and refreshes the cache.
func (e *Engine) Create(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := e.repo.Create(ctx, rule); err != nil {
		return err
	}
	e.logger.Info("alert rule created", "id", rule.ID, "name", rule.Name)
	return e.refresh(ctx, rule.ServerName)
}

// Update replaces a rule definition.
func (e *Engine) Update(ctx context.Context, rule *Rule) error {
	existing, err := e.repo.Get(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.ServerName = existing.ServerName
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if err := e.repo.Update(ctx, rule); err != nil {
		return err
	}
	return e.refresh(ctx, rule.ServerName)
}

// Delete removes a rule.
func (e *Engine) Delete(ctx context.Context, id int64) error {
	existing, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := e.repo.Delete(ctx, id); err != nil {
		return err
	}
	return e.refresh(ctx, existing.ServerName)
}

// Toggle flips a rule's enabled flag and returns the new state.
func (e *Engine) Toggle(ctx context.Context, id int64) (bool, error) {
	existing, err := e.repo.Get(ctx, id)
	if err != nil {
		return false, err
	}
	enabled := !existing.Enabled
	if err := e.repo.SetEnabled(ctx, id, enabled); err != nil {
		return false, err
	}
	return enabled, e.refresh(ctx, existing.ServerName)
}

// refresh reloads the cache when server is the active one and broadcasts
// the server's rule list.
func (e *Engine) refresh(ctx context.Context, server string) error {
	rules, err := e.repo.ListByServer(ctx, server)
	if err != nil {
		return fmt.Errorf("reloading alerts: %w", err)
	}

	e.mu.Lock()
	if e.server == server {
		e.rules = rules
	}
	e.mu.Unlock()

	e.hub.Broadcast(events.AlertsUpdate, rules)
	return nil
}

// ─── Comparison ────────────────────────────────────────────────────────────

func compare(actual any, op Operator, threshold string) bool {
	a, okA := number(actual)
	b, okB := number(threshold)
	if okA && okB {
		switch op {
		case OpGreater:
			return a > b
		case OpLess:
			return a < b
		case OpEqual:
			return a == b
		}
		return false
	}
	return op == OpEqual && format(actual) == threshold
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func format(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

func deviceName(reading map[string]any, deviceID string) string {
	if name, ok := reading["name"].(string); ok && name != "" {
		return name
	}
	return deviceID
}

func render(template, name string, value any) string {
	return strings.NewReplacer(TokenDeviceName, name, TokenValue, format(value)).Replace(template)
}
