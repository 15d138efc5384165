package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/events"
	"github.com/nerrad567/iotgateway-core/internal/history"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// ─── Engine-facing handles ──────────────────────────────────────────────────

// Publish sends a message on the live connection. It is the publisher the
// engines and the presence tracker are built with.
func (s *Session) Publish(msgTopic string, payload []byte, qos byte, retained bool) error {
	t := s.live()
	if t == nil {
		return ErrNotConnected
	}
	return t.Publish(msgTopic, payload, qos, retained)
}

// Record appends a history entry regardless of the subscription set.
func (s *Session) Record(title, payload string, dir history.Direction) {
	s.addHistory(title, payload, dir, true)
}

// EnsureSubscribed subscribes to filter for this connection if it is not
// in the subscription set yet. The filter is not persisted.
func (s *Session) EnsureSubscribed(filter string) error {
	if s.topics.Has(filter) || isDeviceFilter(filter) {
		return nil
	}
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	t := s.live()
	if t == nil {
		return ErrNotConnected
	}
	if err := t.Subscribe(filter, s.qos(), s.handlerFor(filter)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	if s.topics.Add(filter) {
		s.broadcastTopics()
	}
	return nil
}

// ─── Administration ─────────────────────────────────────────────────────────

// Subscribe adds a user filter to the live connection and persists it for
// the selected server.
func (s *Session) Subscribe(ctx context.Context, filter string) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	if isDeviceFilter(filter) {
		return fmt.Errorf("%w: %s", ErrReservedFilter, filter)
	}
	t := s.live()
	if t == nil {
		return ErrNotConnected
	}
	if s.topics.Has(filter) {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, filter)
	}

	if err := t.Subscribe(filter, s.qos(), s.handlerFor(filter)); err != nil {
		return fmt.Errorf("subscribing to %s: %w", filter, err)
	}
	s.topics.Add(filter)

	if err := s.subs.Add(ctx, s.Server(), filter); err != nil && !errors.Is(err, ErrAlreadySubscribed) {
		s.logger.Warn("persisting subscription failed", "filter", filter, "error", err)
	}

	s.logger.Info("subscribed", "filter", filter)
	s.addHistory(topic.System, "Subscribed to "+filter, history.In, true)
	s.broadcastTopics()
	return nil
}

// Unsubscribe removes a user filter from the live connection and from the
// selected server's stored subscriptions.
func (s *Session) Unsubscribe(ctx context.Context, filter string) error {
	if err := topic.ValidateFilter(filter); err != nil {
		return err
	}
	if isDeviceFilter(filter) {
		return fmt.Errorf("%w: %s", ErrReservedFilter, filter)
	}
	t := s.live()
	if t == nil {
		return ErrNotConnected
	}
	if !s.topics.Has(filter) {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, filter)
	}

	if err := t.Unsubscribe(filter); err != nil {
		return fmt.Errorf("unsubscribing from %s: %w", filter, err)
	}
	s.topics.Remove(filter)

	if err := s.subs.Remove(ctx, s.Server(), filter); err != nil && !errors.Is(err, ErrNotSubscribed) {
		s.logger.Warn("removing stored subscription failed", "filter", filter, "error", err)
	}

	s.logger.Info("unsubscribed", "filter", filter)
	s.addHistory(topic.System, "Unsubscribed from "+filter, history.In, true)
	s.broadcastTopics()
	return nil
}

// PublishMessage publishes a user message at the default QoS.
func (s *Session) PublishMessage(msgTopic, payload string, retained bool) error {
	if err := topic.ValidatePublishTopic(msgTopic); err != nil {
		return err
	}
	if err := topic.ValidatePayload(payload); err != nil {
		return err
	}
	if err := s.Publish(msgTopic, []byte(payload), s.qos(), retained); err != nil {
		return fmt.Errorf("publishing to %s: %w", msgTopic, err)
	}
	s.addHistory(topic.System, fmt.Sprintf("Published to %s: %s", msgTopic, payload), history.Out, true)
	return nil
}

// History returns the message history, newest first.
func (s *Session) History() []history.Entry {
	return s.history.Snapshot()
}

// ClearHistory empties the message history.
func (s *Session) ClearHistory() {
	s.history.Clear()
	s.hub.Broadcast(events.HistoryUpdate, []history.Entry{})
	s.logger.Info("message history cleared")
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// Snapshot is the full state a UI subscriber needs on connect.
type Snapshot struct {
	Status       events.Status            `json:"mqtt_status"`
	Topics       []string                 `json:"topics"`
	Tasks        []automation.TaskInfo    `json:"tasks"`
	Triggers     []automation.Trigger     `json:"triggers"`
	Devices      map[string]device.Device `json:"devices"`
	History      []history.Entry          `json:"history"`
	Alerts       []alerting.Rule          `json:"alerts"`
	Whitelist    []device.WhitelistEntry  `json:"whitelist"`
	KnownDevices []device.KnownDevice     `json:"known_devices"`
	Servers      []broker.Server          `json:"servers"`
	Settings     map[string]string        `json:"settings"`
}

// Snapshot gathers the current state. Store failures leave the affected
// list empty and are logged.
func (s *Session) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{
		Status:       s.Status(),
		Topics:       s.topics.List(),
		Tasks:        s.c.Tasks.List(),
		Triggers:     s.c.Triggers.List(),
		Devices:      s.c.Tracker.Snapshot(),
		History:      s.history.Snapshot(),
		Alerts:       s.c.Alerts.List(),
		Whitelist:    []device.WhitelistEntry{},
		KnownDevices: []device.KnownDevice{},
		Servers:      []broker.Server{},
		Settings:     s.settings.All(),
	}

	servers, err := s.servers.List(ctx)
	if err != nil {
		s.logger.Warn("listing server profiles failed", "error", err)
	}
	for _, p := range servers {
		snap.Servers = append(snap.Servers, p.Redacted())
	}

	server := snap.Status.Server
	if server == "" {
		return snap
	}
	if list, err := s.c.Gate.List(ctx, server); err != nil {
		s.logger.Warn("listing allow-list failed", "server", server, "error", err)
	} else {
		snap.Whitelist = list
	}
	if list, err := s.c.Devices.ListKnown(ctx, server); err != nil {
		s.logger.Warn("listing known devices failed", "server", server, "error", err)
	} else {
		snap.KnownDevices = list
	}
	return snap
}

// BroadcastState pushes a state_update with the full snapshot.
func (s *Session) BroadcastState(ctx context.Context) {
	s.hub.Broadcast(events.StateUpdate, s.Snapshot(ctx))
}
