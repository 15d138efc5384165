package automation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
)

// TaskRepository defines the interface for scheduled task persistence.
// This abstraction allows different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type TaskRepository interface {
	ListByServer(ctx context.Context, server string) ([]Task, error)
	Get(ctx context.Context, id string) (*Task, error)
	Create(ctx context.Context, task *Task) error
	Update(ctx context.Context, task *Task) error
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error

	// UpdateExecution stores the execution counter and last run time.
	UpdateExecution(ctx context.Context, id string, executions int, lastRun time.Time) error
}

// TriggerRepository defines the interface for message trigger persistence.
type TriggerRepository interface {
	ListByServer(ctx context.Context, server string) ([]Trigger, error)
	Get(ctx context.Context, id int64) (*Trigger, error)
	Create(ctx context.Context, trigger *Trigger) error
	Update(ctx context.Context, trigger *Trigger) error
	Delete(ctx context.Context, id int64) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error

	// UpdateCounters stores the fire counter and last fire time.
	UpdateCounters(ctx context.Context, id int64, count int, lastTriggered time.Time) error
}

// taskColumns is the SELECT column list for task queries.
const taskColumns = `id, server_name, name, topic, payload, schedule_type, schedule_data,
			enabled, executions, last_run, use_placeholders,
			response_enabled, response_topic, response_timeout, response_condition, response_action`

// triggerColumns is the SELECT column list for trigger queries.
const triggerColumns = `id, server_name, name, topic_pattern, trigger_condition, action_type,
			action_topic, action_payload, enabled, trigger_count, last_triggered`

// SQLiteTaskRepository implements TaskRepository using SQLite.
type SQLiteTaskRepository struct {
	db *sql.DB
}

// NewSQLiteTaskRepository creates a new SQLite-backed task repository.
func NewSQLiteTaskRepository(db *sql.DB) *SQLiteTaskRepository {
	return &SQLiteTaskRepository{db: db}
}

// ListByServer retrieves the tasks of a server in creation order.
func (r *SQLiteTaskRepository) ListByServer(ctx context.Context, server string) ([]Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE server_name = ? ORDER BY created_at, rowid`

	rows, err := r.db.QueryContext(ctx, query, server)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		task, scanErr := scanTaskRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning task: %w", scanErr)
		}
		tasks = append(tasks, *task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return tasks, nil
}

// Get retrieves a task by its identifier.
func (r *SQLiteTaskRepository) Get(ctx context.Context, id string) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`

	task, err := scanTaskRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("querying task: %w", err)
	}
	return task, nil
}

// Create inserts a new task.
func (r *SQLiteTaskRepository) Create(ctx context.Context, task *Task) error {
	data, err := marshalScheduleData(task.ScheduleData)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO tasks (
			id, server_name, name, topic, payload, schedule_type, schedule_data,
			enabled, executions, last_run, use_placeholders,
			response_enabled, response_topic, response_timeout, response_condition, response_action
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.ExecContext(ctx, query,
		task.ID,
		task.ServerName,
		task.Name,
		task.Topic,
		task.Payload,
		string(task.ScheduleType),
		data,
		boolToInt(task.Enabled),
		task.Executions,
		nullableTime(task.LastRun),
		boolToInt(task.UsePlaceholders),
		boolToInt(task.ResponseSpec.Enabled),
		task.ResponseSpec.Topic,
		task.ResponseSpec.Timeout,
		task.ResponseSpec.Condition,
		string(task.ResponseSpec.Action),
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return fmt.Errorf("%w: %q", ErrUnknownServer, task.ServerName)
		}
		return fmt.Errorf("inserting task: %w", err)
	}
	return nil
}

// Update modifies an existing task's definition. Counters are left alone.
func (r *SQLiteTaskRepository) Update(ctx context.Context, task *Task) error {
	data, err := marshalScheduleData(task.ScheduleData)
	if err != nil {
		return err
	}

	query := `
		UPDATE tasks SET
			name = ?, topic = ?, payload = ?, schedule_type = ?, schedule_data = ?,
			enabled = ?, use_placeholders = ?,
			response_enabled = ?, response_topic = ?, response_timeout = ?,
			response_condition = ?, response_action = ?
		WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query,
		task.Name,
		task.Topic,
		task.Payload,
		string(task.ScheduleType),
		data,
		boolToInt(task.Enabled),
		boolToInt(task.UsePlaceholders),
		boolToInt(task.ResponseSpec.Enabled),
		task.ResponseSpec.Topic,
		task.ResponseSpec.Timeout,
		task.ResponseSpec.Condition,
		string(task.ResponseSpec.Action),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("updating task: %w", err)
	}
	return requireAffected(result, ErrTaskNotFound)
}

// Delete removes a task by ID.
func (r *SQLiteTaskRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return requireAffected(result, ErrTaskNotFound)
}

// SetEnabled pauses or resumes a task.
func (r *SQLiteTaskRepository) SetEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := r.db.ExecContext(ctx, "UPDATE tasks SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("toggling task: %w", err)
	}
	return requireAffected(result, ErrTaskNotFound)
}

// UpdateExecution stores the execution counter and last run time.
func (r *SQLiteTaskRepository) UpdateExecution(ctx context.Context, id string, executions int, lastRun time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE tasks SET executions = ?, last_run = ? WHERE id = ?",
		executions, lastRun.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating task execution: %w", err)
	}
	return requireAffected(result, ErrTaskNotFound)
}

// SQLiteTriggerRepository implements TriggerRepository using SQLite.
type SQLiteTriggerRepository struct {
	db *sql.DB
}

// NewSQLiteTriggerRepository creates a new SQLite-backed trigger repository.
func NewSQLiteTriggerRepository(db *sql.DB) *SQLiteTriggerRepository {
	return &SQLiteTriggerRepository{db: db}
}

// ListByServer retrieves the triggers of a server in registration order.
func (r *SQLiteTriggerRepository) ListByServer(ctx context.Context, server string) ([]Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM message_triggers WHERE server_name = ? ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, server)
	if err != nil {
		return nil, fmt.Errorf("querying triggers: %w", err)
	}
	defer rows.Close()

	var triggers []Trigger
	for rows.Next() {
		trigger, scanErr := scanTriggerRow(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning trigger: %w", scanErr)
		}
		triggers = append(triggers, *trigger)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating triggers: %w", err)
	}
	return triggers, nil
}

// Get retrieves a trigger by its identifier.
func (r *SQLiteTriggerRepository) Get(ctx context.Context, id int64) (*Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM message_triggers WHERE id = ?`

	trigger, err := scanTriggerRow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTriggerNotFound
		}
		return nil, fmt.Errorf("querying trigger: %w", err)
	}
	return trigger, nil
}

// Create inserts a new trigger and sets its ID.
func (r *SQLiteTriggerRepository) Create(ctx context.Context, trigger *Trigger) error {
	query := `
		INSERT INTO message_triggers (
			server_name, name, topic_pattern, trigger_condition, action_type,
			action_topic, action_payload, enabled, trigger_count, last_triggered
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trigger.ServerName,
		trigger.Name,
		trigger.TopicPattern,
		trigger.Condition,
		string(trigger.ActionType),
		trigger.ActionTopic,
		trigger.ActionPayload,
		boolToInt(trigger.Enabled),
		trigger.TriggerCount,
		nullableTime(trigger.LastTriggered),
	)
	if err != nil {
		return mapTriggerWriteError(err, trigger, "inserting trigger")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading trigger id: %w", err)
	}
	trigger.ID = id
	return nil
}

// Update modifies an existing trigger's definition. Counters are left alone.
func (r *SQLiteTriggerRepository) Update(ctx context.Context, trigger *Trigger) error {
	query := `
		UPDATE message_triggers SET
			name = ?, topic_pattern = ?, trigger_condition = ?, action_type = ?,
			action_topic = ?, action_payload = ?, enabled = ?
		WHERE id = ? AND server_name = ?`

	result, err := r.db.ExecContext(ctx, query,
		trigger.Name,
		trigger.TopicPattern,
		trigger.Condition,
		string(trigger.ActionType),
		trigger.ActionTopic,
		trigger.ActionPayload,
		boolToInt(trigger.Enabled),
		trigger.ID,
		trigger.ServerName,
	)
	if err != nil {
		return mapTriggerWriteError(err, trigger, "updating trigger")
	}
	return requireAffected(result, ErrTriggerNotFound)
}

// Delete removes a trigger by ID.
func (r *SQLiteTriggerRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM message_triggers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting trigger: %w", err)
	}
	return requireAffected(result, ErrTriggerNotFound)
}

// SetEnabled enables or disables a trigger.
func (r *SQLiteTriggerRepository) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	result, err := r.db.ExecContext(ctx, "UPDATE message_triggers SET enabled = ? WHERE id = ?", boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("toggling trigger: %w", err)
	}
	return requireAffected(result, ErrTriggerNotFound)
}

// UpdateCounters stores the fire counter and last fire time.
func (r *SQLiteTriggerRepository) UpdateCounters(ctx context.Context, id int64, count int, lastTriggered time.Time) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE message_triggers SET trigger_count = ?, last_triggered = ? WHERE id = ?",
		count, lastTriggered.UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("updating trigger counters: %w", err)
	}
	return requireAffected(result, ErrTriggerNotFound)
}

// ─── Row Scanning Helpers ───────────────────────────────────────────────────

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTaskRow(scanner rowScanner) (*Task, error) {
	var t Task
	var scheduleType, scheduleData, action string
	var enabled, usePlaceholders, responseEnabled int
	var lastRun sql.NullString

	err := scanner.Scan(
		&t.ID,
		&t.ServerName,
		&t.Name,
		&t.Topic,
		&t.Payload,
		&scheduleType,
		&scheduleData,
		&enabled,
		&t.Executions,
		&lastRun,
		&usePlaceholders,
		&responseEnabled,
		&t.ResponseSpec.Topic,
		&t.ResponseSpec.Timeout,
		&t.ResponseSpec.Condition,
		&action,
	)
	if err != nil {
		return nil, err
	}

	t.ScheduleType = ScheduleType(scheduleType)
	t.Enabled = enabled != 0
	t.UsePlaceholders = usePlaceholders != 0
	t.ResponseSpec.Enabled = responseEnabled != 0
	t.ResponseSpec.Action = ResponseAction(action)
	t.LastRun = parseNullableTime(lastRun)

	t.ScheduleData = map[string]any{}
	if scheduleData != "" {
		if jsonErr := json.Unmarshal([]byte(scheduleData), &t.ScheduleData); jsonErr != nil {
			return nil, fmt.Errorf("unmarshalling schedule data: %w", jsonErr)
		}
	}
	return &t, nil
}

func scanTriggerRow(scanner rowScanner) (*Trigger, error) {
	var t Trigger
	var actionType string
	var enabled int
	var lastTriggered sql.NullString

	err := scanner.Scan(
		&t.ID,
		&t.ServerName,
		&t.Name,
		&t.TopicPattern,
		&t.Condition,
		&actionType,
		&t.ActionTopic,
		&t.ActionPayload,
		&enabled,
		&t.TriggerCount,
		&lastTriggered,
	)
	if err != nil {
		return nil, err
	}

	t.ActionType = ActionType(actionType)
	t.Enabled = enabled != 0
	t.LastTriggered = parseNullableTime(lastTriggered)
	return &t, nil
}

// ─── SQL Helpers ────────────────────────────────────────────────────────────

func marshalScheduleData(data map[string]any) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshalling schedule data: %w", err)
	}
	return string(b), nil
}

func mapTriggerWriteError(err error, trigger *Trigger, op string) error {
	switch {
	case database.IsUniqueViolation(err):
		return fmt.Errorf("%w: %q", ErrTriggerExists, trigger.Name)
	case database.IsForeignKeyViolation(err):
		return fmt.Errorf("%w: %q", ErrUnknownServer, trigger.ServerName)
	}
	return fmt.Errorf("%s: %w", op, err)
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

func nullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
