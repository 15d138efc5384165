package gateway

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"

	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// SubscriptionRepository persists the user subscription filters of each
// server profile in insertion order.
type SubscriptionRepository interface {
	// List returns the filters of server, oldest first.
	List(ctx context.Context, server string) ([]string, error)

	// Add appends a filter. Returns ErrAlreadySubscribed on duplicates and
	// broker.ErrServerNotFound when the profile does not exist.
	Add(ctx context.Context, server, filter string) error

	// Remove deletes a filter. Returns ErrNotSubscribed if it is not stored.
	Remove(ctx context.Context, server, filter string) error
}

// SQLiteSubscriptionRepository implements SubscriptionRepository using SQLite.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a SQLite-backed subscription store.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// List returns the filters of server, oldest first.
func (r *SQLiteSubscriptionRepository) List(ctx context.Context, server string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT topic FROM subscriptions WHERE server_name = ? ORDER BY id", server)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	filters := []string{}
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		filters = append(filters, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return filters, nil
}

// Add appends a filter to server's subscriptions.
func (r *SQLiteSubscriptionRepository) Add(ctx context.Context, server, filter string) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO subscriptions (server_name, topic) VALUES (?, ?)", server, filter)
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, filter)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %s", broker.ErrServerNotFound, server)
	case err != nil:
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// Remove deletes a filter from server's subscriptions.
func (r *SQLiteSubscriptionRepository) Remove(ctx context.Context, server, filter string) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM subscriptions WHERE server_name = ? AND topic = ?", server, filter)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotSubscribed, filter)
	}
	return nil
}

// topicSet is the live, ordered subscription set of the connected session.
type topicSet struct {
	mu      sync.RWMutex
	filters []string
}

// Reset replaces the set, dropping duplicates.
func (s *topicSet) Reset(filters []string) {
	next := make([]string, 0, len(filters))
	for _, f := range filters {
		if !slices.Contains(next, f) {
			next = append(next, f)
		}
	}
	s.mu.Lock()
	s.filters = next
	s.mu.Unlock()
}

// Add appends f and reports whether it was new.
func (s *topicSet) Add(f string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slices.Contains(s.filters, f) {
		return false
	}
	s.filters = append(s.filters, f)
	return true
}

// Remove deletes f and reports whether it was present.
func (s *topicSet) Remove(f string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := slices.Index(s.filters, f)
	if i < 0 {
		return false
	}
	s.filters = slices.Delete(s.filters, i, i+1)
	return true
}

// Has reports whether f is in the set.
func (s *topicSet) Has(f string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.filters, f)
}

// Matches reports whether any filter in the set matches msgTopic.
func (s *topicSet) Matches(msgTopic string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.filters {
		if topic.Matches(msgTopic, f) {
			return true
		}
	}
	return false
}

// List returns a copy of the set in insertion order.
func (s *topicSet) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.filters))
	copy(out, s.filters)
	return out
}

// Clear empties the set.
func (s *topicSet) Clear() {
	s.mu.Lock()
	s.filters = nil
	s.mu.Unlock()
}
