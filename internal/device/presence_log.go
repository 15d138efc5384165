package device

import (
	"context"
	"time"
)

// EventType classifies a presence event.
type EventType string

// Presence event types.
const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
)

// Event is one presence transition of a device.
//
// Events are kept for the retention window as a local audit trail of when
// devices came and went, independent of the time-series sink.
type Event struct {
	ID        int64     `json:"id"`
	DeviceID  string    `json:"device_id"`
	Location  string    `json:"location"`
	Type      EventType `json:"event_type"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// EventRepository stores and retrieves presence events.
//
// Implementations must be thread-safe and use UTC timestamps.
type EventRepository interface {
	// AddEvent records a presence event.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - event: Event to persist; a zero Timestamp means now
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	AddEvent(ctx context.Context, event Event) error

	// ListEvents returns recent events for a device, newest first.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - deviceID, location: Composite key of the device
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	ListEvents(ctx context.Context, deviceID, location string, limit int) ([]Event, error)
}
