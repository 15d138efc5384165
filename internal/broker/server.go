package broker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/internal/topic"
)

// DefaultPort is the plain MQTT port.
const DefaultPort = 1883

var (
	// ErrServerNotFound is returned when a profile name does not exist.
	ErrServerNotFound = errors.New("broker: server not found")

	// ErrServerExists is returned when a profile name is already taken.
	ErrServerExists = errors.New("broker: server already exists")

	// ErrInvalidServer is returned when a profile fails validation.
	ErrInvalidServer = errors.New("broker: invalid server")
)

// Server is one broker connection profile.
type Server struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Broker   string `json:"broker"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

// Redacted returns a copy without the password, for API responses.
func (s Server) Redacted() Server {
	s.Password = ""
	return s
}

// Defaults returns the profiles seeded into an empty store.
func Defaults() []Server {
	return []Server{
		{Name: "Localhost", Broker: "localhost", Port: DefaultPort},
		{Name: "HiveMQ Public", Broker: "broker.hivemq.com", Port: DefaultPort},
		{Name: "Mosquitto Test", Broker: "test.mosquitto.org", Port: DefaultPort},
	}
}

// Validate checks a profile and applies the default port.
func Validate(s *Server) error {
	s.Name = strings.TrimSpace(s.Name)
	s.Broker = strings.TrimSpace(s.Broker)

	if s.Name == "" || len(s.Name) > topic.MaxIdentityLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalidServer, topic.MaxIdentityLength)
	}
	if s.Broker == "" || strings.ContainsAny(s.Broker, " /") {
		return fmt.Errorf("%w: broker host %q", ErrInvalidServer, s.Broker)
	}
	if s.Port == 0 {
		s.Port = DefaultPort
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidServer, s.Port)
	}
	return nil
}

// Repository defines the interface for server profile persistence.
type Repository interface {
	List(ctx context.Context) ([]Server, error)
	Get(ctx context.Context, name string) (*Server, error)
	Create(ctx context.Context, s *Server) error

	// Update replaces the profile called name; s.Name may differ to rename
	// it, in which case server-scoped records follow.
	Update(ctx context.Context, name string, s *Server) error

	// Delete removes the profile and every record scoped to it.
	Delete(ctx context.Context, name string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed server repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// List retrieves every profile in creation order.
func (r *SQLiteRepository) List(ctx context.Context) ([]Server, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, broker, port, username, password FROM servers ORDER BY id",
	)
	if err != nil {
		return nil, fmt.Errorf("querying servers: %w", err)
	}
	defer rows.Close()

	servers := make([]Server, 0)
	for rows.Next() {
		var s Server
		if err := rows.Scan(&s.ID, &s.Name, &s.Broker, &s.Port, &s.Username, &s.Password); err != nil {
			return nil, fmt.Errorf("scanning server: %w", err)
		}
		servers = append(servers, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating servers: %w", err)
	}
	return servers, nil
}

// Get retrieves a profile by name.
func (r *SQLiteRepository) Get(ctx context.Context, name string) (*Server, error) {
	var s Server
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, broker, port, username, password FROM servers WHERE name = ?", name,
	).Scan(&s.ID, &s.Name, &s.Broker, &s.Port, &s.Username, &s.Password)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrServerNotFound, name)
		}
		return nil, fmt.Errorf("querying server: %w", err)
	}
	return &s, nil
}

// Create inserts a profile and sets its ID.
func (r *SQLiteRepository) Create(ctx context.Context, s *Server) error {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO servers (name, broker, port, username, password) VALUES (?, ?, ?, ?, ?)",
		s.Name, s.Broker, s.Port, s.Username, s.Password,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrServerExists, s.Name)
		}
		return fmt.Errorf("inserting server: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading server id: %w", err)
	}
	s.ID = id
	return nil
}

// Update replaces a profile.
func (r *SQLiteRepository) Update(ctx context.Context, name string, s *Server) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE servers SET name = ?, broker = ?, port = ?, username = ?, password = ? WHERE name = ?",
		s.Name, s.Broker, s.Port, s.Username, s.Password, name,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %q", ErrServerExists, s.Name)
		}
		return fmt.Errorf("updating server: %w", err)
	}
	return requireAffected(result, name)
}

// Delete removes a profile; foreign keys cascade to scoped records.
func (r *SQLiteRepository) Delete(ctx context.Context, name string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM servers WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting server: %w", err)
	}
	return requireAffected(result, name)
}

// SeedDefaults inserts the default profiles if the store has none.
//
// Returns:
//   - int: Number of profiles inserted (0 when the store was not empty)
//   - error: nil on success, otherwise the underlying database error
func (r *SQLiteRepository) SeedDefaults(ctx context.Context) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback after commit is a no-op

	var count int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM servers").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting servers: %w", err)
	}
	if count > 0 {
		return 0, nil
	}

	defaults := Defaults()
	for _, s := range defaults {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO servers (name, broker, port, username, password) VALUES (?, ?, ?, '', '')",
			s.Name, s.Broker, s.Port,
		); err != nil {
			return 0, fmt.Errorf("seeding server %q: %w", s.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing seed: %w", err)
	}
	return len(defaults), nil
}

func requireAffected(result sql.Result, name string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	return nil
}
