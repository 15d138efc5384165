// Package events defines the typed events the gateway pushes to its
// broadcast channel, and a fan-out that delivers each event to several
// sinks (the WebSocket hub and the optional Redis mirror).
package events

import "sync"

// Event names carried on the broadcast channel.
const (
	DevicesUpdate         = "devices_update"
	KnownDevicesUpdate    = "known_devices_update"
	DeviceConfigUpdate    = "device_config_update"
	TopicsUpdate          = "topics_update"
	TaskUpdate            = "task_update"
	MessageTriggersUpdate = "message_triggers_update"
	AlertsUpdate          = "alerts_update"
	NewAlert              = "new_alert"
	NewNotification       = "new_notification"
	HistoryUpdate         = "history_update"
	MQTTStatus            = "mqtt_status"
	StateUpdate           = "state_update"
)

// Notification types.
const (
	TypeInfo    = "info"
	TypeSuccess = "success"
	TypeWarning = "warning"
	TypeError   = "error"
)

// Broadcaster pushes an event to UI subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Notification is the payload of a new_notification event.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Type  string `json:"type"`
	Tag   string `json:"tag,omitempty"`
}

// Alert is the payload of a new_alert event.
type Alert struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Status is the payload of an mqtt_status event.
type Status struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	Server    string `json:"server,omitempty"`
}

// Fanout delivers every event to each attached sink in attach order.
// The zero value is ready to use.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Broadcaster
}

// NewFanout returns a fan-out over the given sinks; nil sinks are skipped.
func NewFanout(sinks ...Broadcaster) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Attach(s)
	}
	return f
}

// Attach adds a sink.
func (f *Fanout) Attach(sink Broadcaster) {
	if sink == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, sink)
	f.mu.Unlock()
}

// Broadcast implements Broadcaster.
func (f *Fanout) Broadcast(event string, payload any) {
	f.mu.RLock()
	sinks := make([]Broadcaster, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		s.Broadcast(event, payload)
	}
}

// Discard is a Broadcaster that drops every event.
type Discard struct{}

// Broadcast implements Broadcaster.
func (Discard) Broadcast(string, any) {}
