package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
//
// Every record is scoped to a server profile name.
type Repository interface {
	// EnsureKnown registers a device if it is not known yet.
	// Returns the stored record and whether it was created by this call.
	EnsureKnown(ctx context.Context, server, deviceID, name, location string) (*KnownDevice, bool, error)

	// ListKnown retrieves every registered device of a server.
	ListKnown(ctx context.Context, server string) ([]KnownDevice, error)

	// GetKnown retrieves one registered device.
	// Returns ErrDeviceNotFound if the device is not registered.
	GetKnown(ctx context.Context, server, deviceID, location string) (*KnownDevice, error)

	// SetAlias updates the display alias of a registered device.
	// An empty alias clears it. Returns ErrDeviceNotFound if not registered.
	SetAlias(ctx context.Context, server, deviceID, location, alias string) error

	// ListWhitelist retrieves the allow-list of a server joined with the
	// registered names.
	ListWhitelist(ctx context.Context, server string) ([]WhitelistEntry, error)

	// AddWhitelist adds an allow-list entry.
	// Returns ErrAlreadyWhitelisted on duplicates, ErrUnknownServer when the
	// server profile does not exist.
	AddWhitelist(ctx context.Context, server, deviceID, location string) error

	// RemoveWhitelist deletes an allow-list entry.
	// Returns ErrNotWhitelisted if the entry does not exist.
	RemoveWhitelist(ctx context.Context, server, deviceID, location string) error

	// IsWhitelisted reports whether the composite key is allow-listed.
	IsWhitelisted(ctx context.Context, server, deviceID, location string) (bool, error)

	// AddSensorReading persists one sensor sample.
	AddSensorReading(ctx context.Context, reading SensorReading) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ─── Known Devices ─────────────────────────────────────────────────────────

// EnsureKnown registers a device if it is not known yet.
func (r *SQLiteRepository) EnsureKnown(ctx context.Context, server, deviceID, name, location string) (*KnownDevice, bool, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (dev_id, dev_name, dev_location, dev_server) VALUES (?, ?, ?, ?)
		 ON CONFLICT (dev_id, dev_location, dev_server) DO NOTHING`,
		deviceID, name, location, server,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return nil, false, fmt.Errorf("%w: %q", ErrUnknownServer, server)
		}
		return nil, false, fmt.Errorf("inserting device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("checking rows affected: %w", err)
	}

	known, err := r.GetKnown(ctx, server, deviceID, location)
	if err != nil {
		return nil, false, err
	}
	return known, affected > 0, nil
}

// ListKnown retrieves every registered device of a server, oldest first.
func (r *SQLiteRepository) ListKnown(ctx context.Context, server string) ([]KnownDevice, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT dev_id, dev_name, dev_location, dev_alias, dev_server, created_at
		 FROM devices WHERE dev_server = ? ORDER BY id`,
		server,
	)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	devices := make([]KnownDevice, 0)
	for rows.Next() {
		known, scanErr := scanKnown(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning device: %w", scanErr)
		}
		devices = append(devices, *known)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}
	return devices, nil
}

// GetKnown retrieves one registered device.
func (r *SQLiteRepository) GetKnown(ctx context.Context, server, deviceID, location string) (*KnownDevice, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT dev_id, dev_name, dev_location, dev_alias, dev_server, created_at
		 FROM devices WHERE dev_server = ? AND dev_id = ? AND dev_location = ?`,
		server, deviceID, location,
	)
	known, err := scanKnown(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device: %w", err)
	}
	return known, nil
}

// SetAlias updates the display alias of a registered device.
func (r *SQLiteRepository) SetAlias(ctx context.Context, server, deviceID, location, alias string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE devices SET dev_alias = ? WHERE dev_server = ? AND dev_id = ? AND dev_location = ?",
		alias, server, deviceID, location,
	)
	if err != nil {
		return fmt.Errorf("updating alias: %w", err)
	}
	return requireAffected(result, ErrDeviceNotFound)
}

// ─── Allow-list ────────────────────────────────────────────────────────────

// ListWhitelist retrieves the allow-list of a server joined with the
// registered names. Entries for devices never seen have an empty Name.
func (r *SQLiteRepository) ListWhitelist(ctx context.Context, server string) ([]WhitelistEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT w.server_name, w.device_id, w.location,
			COALESCE(NULLIF(d.dev_alias, ''), d.dev_name, '')
		 FROM whitelist w
		 LEFT JOIN devices d
			ON d.dev_server = w.server_name AND d.dev_id = w.device_id AND d.dev_location = w.location
		 WHERE w.server_name = ?
		 ORDER BY w.id`,
		server,
	)
	if err != nil {
		return nil, fmt.Errorf("querying whitelist: %w", err)
	}
	defer rows.Close()

	entries := make([]WhitelistEntry, 0)
	for rows.Next() {
		var e WhitelistEntry
		if err := rows.Scan(&e.Server, &e.DeviceID, &e.Location, &e.Name); err != nil {
			return nil, fmt.Errorf("scanning whitelist entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating whitelist: %w", err)
	}
	return entries, nil
}

// AddWhitelist adds an allow-list entry.
func (r *SQLiteRepository) AddWhitelist(ctx context.Context, server, deviceID, location string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO whitelist (server_name, device_id, location) VALUES (?, ?, ?)",
		server, deviceID, location,
	)
	switch {
	case err == nil:
		return nil
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrAlreadyWhitelisted, Key(deviceID, location))
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %q", ErrUnknownServer, server)
	}
	return fmt.Errorf("inserting whitelist entry: %w", err)
}

// RemoveWhitelist deletes an allow-list entry.
func (r *SQLiteRepository) RemoveWhitelist(ctx context.Context, server, deviceID, location string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM whitelist WHERE server_name = ? AND device_id = ? AND location = ?",
		server, deviceID, location,
	)
	if err != nil {
		return fmt.Errorf("deleting whitelist entry: %w", err)
	}
	return requireAffected(result, ErrNotWhitelisted)
}

// IsWhitelisted reports whether the composite key is allow-listed.
func (r *SQLiteRepository) IsWhitelisted(ctx context.Context, server, deviceID, location string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM whitelist WHERE server_name = ? AND device_id = ? AND location = ?",
		server, deviceID, location,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("querying whitelist: %w", err)
	}
	return count > 0, nil
}

// ─── Sensor Data ───────────────────────────────────────────────────────────

// AddSensorReading persists one sensor sample. A zero timestamp means now.
func (r *SQLiteRepository) AddSensorReading(ctx context.Context, reading SensorReading) error {
	ts := reading.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sensor_data (device_id, location, timestamp, temp_c, temp_h, temp_st) VALUES (?, ?, ?, ?, ?, ?)",
		reading.DeviceID,
		reading.Location,
		ts.UTC().Format(time.RFC3339),
		nullableFloat(reading.TempC),
		nullableFloat(reading.TempH),
		nullableFloat(reading.TempST),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	return nil
}

// ListSensorReadings returns the latest readings of a device, newest first.
func (r *SQLiteRepository) ListSensorReadings(ctx context.Context, deviceID, location string, limit int) ([]SensorReading, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT device_id, location, timestamp, temp_c, temp_h, temp_st
		 FROM sensor_data WHERE device_id = ? AND location = ?
		 ORDER BY timestamp DESC, id DESC LIMIT ?`,
		deviceID, location, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor data: %w", err)
	}
	defer rows.Close()

	readings := make([]SensorReading, 0)
	for rows.Next() {
		var s SensorReading
		var ts string
		var tempC, tempH, tempST sql.NullFloat64
		if err := rows.Scan(&s.DeviceID, &s.Location, &ts, &tempC, &tempH, &tempST); err != nil {
			return nil, fmt.Errorf("scanning sensor reading: %w", err)
		}
		timestamp, err := parseTimestamp(ts)
		if err != nil {
			return nil, err
		}
		s.Timestamp = timestamp
		s.TempC = floatPtr(tempC)
		s.TempH = floatPtr(tempH)
		s.TempST = floatPtr(tempST)
		readings = append(readings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor data: %w", err)
	}
	return readings, nil
}

// PruneReadings deletes sensor readings recorded before cutoff.
func (r *SQLiteRepository) PruneReadings(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sensor_data WHERE timestamp < ?",
		cutoff.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sensor data: %w", err)
	}
	return result.RowsAffected()
}

// ─── Helpers ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKnown(scanner rowScanner) (*KnownDevice, error) {
	var k KnownDevice
	var createdAt string
	if err := scanner.Scan(&k.ID, &k.Name, &k.Location, &k.Alias, &k.Server, &createdAt); err != nil {
		return nil, err
	}
	if ts, err := parseTimestamp(createdAt); err == nil {
		k.CreatedAt = ts
	}
	return &k, nil
}

func requireAffected(result sql.Result, notFound error) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return notFound
	}
	return nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
