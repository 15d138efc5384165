package alerting

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
)

// Repository defines the interface for alert rule persistence.
type Repository interface {
	ListByServer(ctx context.Context, server string) ([]Rule, error)
	Get(ctx context.Context, id int64) (*Rule, error)
	Create(ctx context.Context, rule *Rule) error
	Update(ctx context.Context, rule *Rule) error
	Delete(ctx context.Context, id int64) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
}

const ruleColumns = `id, server_name, name, device_id, metric, operator, value, message, type, enabled`

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed alert rule repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListByServer retrieves the rules of a server in creation order.
func (r *SQLiteRepository) ListByServer(ctx context.Context, server string) ([]Rule, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+ruleColumns+` FROM alerts WHERE server_name = ? ORDER BY id`,
		server,
	)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	rules := make([]Rule, 0)
	for rows.Next() {
		rule, scanErr := scanRule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning alert: %w", scanErr)
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return rules, nil
}

// Get retrieves a rule by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id int64) (*Rule, error) {
	rule, err := scanRule(r.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM alerts WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("querying alert: %w", err)
	}
	return rule, nil
}

// Create inserts a rule and sets its ID.
func (r *SQLiteRepository) Create(ctx context.Context, rule *Rule) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO alerts (server_name, name, device_id, metric, operator, value, message, type, enabled)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ServerName,
		rule.Name,
		rule.DeviceID,
		rule.Metric,
		string(rule.Operator),
		rule.Value,
		rule.Message,
		rule.Type,
		boolToInt(rule.Enabled),
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %q", ErrUnknownServer, rule.ServerName)
		}
		return fmt.Errorf("inserting alert: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading alert id: %w", err)
	}
	rule.ID = id
	return nil
}

// Update modifies an existing rule.
func (r *SQLiteRepository) Update(ctx context.Context, rule *Rule) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET name = ?, device_id = ?, metric = ?, operator = ?, value = ?,
			message = ?, type = ?, enabled = ?
		 WHERE id = ?`,
		rule.Name,
		rule.DeviceID,
		rule.Metric,
		string(rule.Operator),
		rule.Value,
		rule.Message,
		rule.Type,
		boolToInt(rule.Enabled),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	return requireAffected(result)
}

// Delete removes a rule.
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting alert: %w", err)
	}
	return requireAffected(result)
}

// SetEnabled toggles a rule.
func (r *SQLiteRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := r.db.ExecContext(ctx, "UPDATE alerts SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("updating alert: %w", err)
	}
	return requireAffected(result)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(scanner rowScanner) (*Rule, error) {
	var rule Rule
	var operator string
	var enabled int
	err := scanner.Scan(
		&rule.ID,
		&rule.ServerName,
		&rule.Name,
		&rule.DeviceID,
		&rule.Metric,
		&operator,
		&rule.Value,
		&rule.Message,
		&rule.Type,
		&enabled,
	)
	if err != nil {
		return nil, err
	}
	rule.Operator = Operator(operator)
	rule.Enabled = enabled != 0
	return &rule, nil
}

func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
