package device

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const (
	// DefaultEventLimit is the number of events returned by device detail.
	DefaultEventLimit = 100
	maxEventLimit     = 500
)

// SQLiteEventRepository implements EventRepository using SQLite.
type SQLiteEventRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteEventRepository creates a new SQLite presence event repository.
//
// Parameters:
//   - db: Open SQLite connection used for queries
//
// Returns:
//   - *SQLiteEventRepository: Repository instance ready for use
func NewSQLiteEventRepository(db *sql.DB) *SQLiteEventRepository {
	return &SQLiteEventRepository{db: db, now: time.Now}
}

// AddEvent inserts a presence event.
func (r *SQLiteEventRepository) AddEvent(ctx context.Context, event Event) error {
	if event.DeviceID == "" || event.Location == "" {
		return fmt.Errorf("device id and location are required")
	}
	ts := event.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO device_events (device_id, location, event_type, details, timestamp) VALUES (?, ?, ?, ?, ?)",
		event.DeviceID,
		event.Location,
		string(event.Type),
		event.Details,
		ts.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting device event: %w", err)
	}
	return nil
}

// ListEvents returns recent events for a device, ordered newest first.
//
// Parameters:
//   - ctx: Context for cancellation and timeout
//   - deviceID, location: Composite key of the device
//   - limit: Maximum entries to return (default 100, max 500)
//
// Returns:
//   - []Event: Events ordered by timestamp DESC
//   - error: nil on success, otherwise the underlying query error
func (r *SQLiteEventRepository) ListEvents(ctx context.Context, deviceID, location string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, location, event_type, details, timestamp
		 FROM device_events
		 WHERE device_id = ? AND location = ?
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`,
		deviceID,
		location,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying device events: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0)
	for rows.Next() {
		var e Event
		var eventType, ts string
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.Location, &eventType, &e.Details, &ts); err != nil {
			return nil, fmt.Errorf("scanning device event: %w", err)
		}
		e.Type = EventType(eventType)

		timestamp, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		e.Timestamp = timestamp
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating device events: %w", err)
	}
	return events, nil
}

// PruneEvents deletes events recorded before cutoff.
//
// Returns:
//   - int64: Number of rows deleted
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteEventRepository) PruneEvents(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM device_events WHERE timestamp < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting device events: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return rowsAffected, nil
}

// parseTimestamp parses a timestamp stored in SQLite.
func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("timestamp is empty")
	}

	timestamp, err := time.Parse(time.RFC3339, value)
	if err == nil {
		return timestamp, nil
	}

	fallback, fallbackErr := time.Parse("2006-01-02 15:04:05", value)
	if fallbackErr == nil {
		return fallback, nil
	}

	return time.Time{}, fmt.Errorf("parsing timestamp: %w", err)
}
