// Package settings holds the gateway's runtime key/value settings.
//
// Values are persisted in the settings table and cached in memory; reads
// never touch the database. Defaults apply to keys that have never been
// written.
package settings

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strconv"
	"sync"
)

// Setting keys.
const (
	KeyRefreshInterval    = "refresh_interval"
	KeyMaxMissedPings     = "max_missed_pings"
	KeyDefaultQoS         = "mqtt_default_qos"
	KeyKeepAlive          = "mqtt_keepalive"
	KeyReconnectDelay     = "mqtt_reconnect_delay"
	KeyLastSelectedServer = "last_selected_server"
	KeyLastCleanupDate    = "last_cleanup_date"
)

var (
	// ErrUnknownKey is returned when updating a key that is not user-editable.
	ErrUnknownKey = errors.New("settings: unknown key")

	// ErrInvalidValue is returned when a value fails its range check.
	ErrInvalidValue = errors.New("settings: invalid value")
)

// intRange bounds an integer setting.
type intRange struct{ min, max int }

// editable lists the integer settings admins may change, with their bounds.
var editable = map[string]intRange{
	KeyRefreshInterval: {5, 3600},
	KeyMaxMissedPings:  {1, 10},
	KeyDefaultQoS:      {0, 2},
	KeyKeepAlive:       {10, 3600},
	KeyReconnectDelay:  {1, 300},
}

// Defaults returns the built-in values.
func Defaults() map[string]string {
	return map[string]string{
		KeyRefreshInterval: "30",
		KeyMaxMissedPings:  "2",
		KeyDefaultQoS:      "1",
		KeyKeepAlive:       "60",
		KeyReconnectDelay:  "5",
	}
}

// Store is the cached settings view.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	repo   Repository
	mu     sync.RWMutex
	values map[string]string
}

// NewStore creates a store seeded with Defaults. Call Load to read the
// persisted values.
func NewStore(repo Repository) *Store {
	return &Store{
		repo:   repo,
		values: Defaults(),
	}
}

// Load reads every persisted setting over the defaults.
func (s *Store) Load(ctx context.Context) error {
	stored, err := s.repo.All(ctx)
	if err != nil {
		return fmt.Errorf("loading settings: %w", err)
	}

	s.mu.Lock()
	maps.Copy(s.values, stored)
	s.mu.Unlock()
	return nil
}

// Get returns the value of key, or "" if unset.
func (s *Store) Get(key string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.values[key]
}

// Int returns key parsed as an integer, or def if unset or malformed.
func (s *Store) Int(key string, def int) int {
	v, err := strconv.Atoi(s.Get(key))
	if err != nil {
		return def
	}
	return v
}

// All returns a copy of every setting.
func (s *Store) All() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// Set persists a value and updates the cache. Internal keys such as
// last_selected_server are accepted without range checks.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.repo.Set(ctx, key, value); err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

// Update validates and persists a batch of admin-editable settings. Nothing
// is written if any entry is invalid.
func (s *Store) Update(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if err := Validate(key, value); err != nil {
			return err
		}
	}
	for key, value := range values {
		if err := s.Set(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks an admin-editable setting.
func Validate(key, value string) error {
	r, ok := editable[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKey, key)
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < r.min || n > r.max {
		return fmt.Errorf("%w: %s must be an integer in [%d, %d]", ErrInvalidValue, key, r.min, r.max)
	}
	return nil
}
