package automation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RuleRecord is a rule row as stored. Condition and action are kept in
// their JSON form so a row that no longer decodes can still be loaded.
type RuleRecord struct {
	ID            string
	Name          string
	Description   string
	ConditionJSON []byte
	ActionJSON    []byte
	Enabled       bool
	LastTriggered *time.Time
	TriggerCount  int64
	CreatedAt     time.Time
}

// TaskRecord is a scheduled task row as stored.
type TaskRecord struct {
	ID         string
	Name       string
	Schedule   string
	ActionJSON []byte
	Enabled    bool
	LastRun    *time.Time
	NextRun    *time.Time
	RunCount   int64
	CreatedAt  time.Time
}

// Repository defines the interface for rule and task persistence.
type Repository interface {
	// Rules
	ListRules(ctx context.Context) ([]RuleRecord, error)
	SaveRule(ctx context.Context, r *Rule) error
	RecordTrigger(ctx context.Context, id string, at time.Time, count int64) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error

	// Scheduled tasks
	ListTasks(ctx context.Context) ([]TaskRecord, error)
	SaveTask(ctx context.Context, t *ScheduledTask) error
	RecordRun(ctx context.Context, id string, lastRun, nextRun time.Time, runCount int64) error
	SetTaskState(ctx context.Context, id string, enabled bool, nextRun time.Time) error
	DeleteTask(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// ListRules returns all stored rules ordered by ID.
func (r *SQLiteRepository) ListRules(ctx context.Context) ([]RuleRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rule_id, name, description, condition_json, action_json,
		       enabled, last_triggered, trigger_count, created_at
		FROM automation_rules
		ORDER BY rule_id`)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var records []RuleRecord
	for rows.Next() {
		var rec RuleRecord
		var cond, act, created string
		var enabled int
		var last sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Description, &cond, &act,
			&enabled, &last, &rec.TriggerCount, &created); err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rec.ConditionJSON = []byte(cond)
		rec.ActionJSON = []byte(act)
		rec.Enabled = enabled != 0
		rec.LastTriggered = parseNullTime(last)
		rec.CreatedAt = parseTime(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rules: %w", err)
	}
	return records, nil
}

// SaveRule inserts a rule or overwrites its definition. Trigger counters of
// an existing row are preserved.
func (r *SQLiteRepository) SaveRule(ctx context.Context, rule *Rule) error {
	cond, err := EncodeCondition(rule.Condition)
	if err != nil {
		return err
	}
	act, err := EncodeAction(rule.Action)
	if err != nil {
		return err
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO automation_rules (
			rule_id, name, description, condition_json, action_json,
			enabled, trigger_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			name           = excluded.name,
			description    = excluded.description,
			condition_json = excluded.condition_json,
			action_json    = excluded.action_json,
			enabled        = excluded.enabled`,
		rule.ID, rule.Name, rule.Description, string(cond), string(act),
		boolToInt(rule.Enabled), formatTime(rule.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving rule: %w", err)
	}
	return nil
}

// RecordTrigger stores a rule's last trigger time and count in one
// statement.
func (r *SQLiteRepository) RecordTrigger(ctx context.Context, id string, at time.Time, count int64) error {
	return r.execOne(ctx, ErrRuleNotFound, "recording rule trigger",
		"UPDATE automation_rules SET last_triggered = ?, trigger_count = ? WHERE rule_id = ?",
		formatTime(at), count, id)
}

// SetRuleEnabled enables or disables a rule.
func (r *SQLiteRepository) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return r.execOne(ctx, ErrRuleNotFound, "updating rule",
		"UPDATE automation_rules SET enabled = ? WHERE rule_id = ?",
		boolToInt(enabled), id)
}

// DeleteRule removes a rule.
func (r *SQLiteRepository) DeleteRule(ctx context.Context, id string) error {
	return r.execOne(ctx, ErrRuleNotFound, "deleting rule",
		"DELETE FROM automation_rules WHERE rule_id = ?", id)
}

// ListTasks returns all stored tasks ordered by ID.
func (r *SQLiteRepository) ListTasks(ctx context.Context) ([]TaskRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT task_id, name, schedule, action_json, enabled,
		       last_run, next_run, run_count, created_at
		FROM scheduled_tasks
		ORDER BY task_id`)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	var records []TaskRecord
	for rows.Next() {
		var rec TaskRecord
		var act, created string
		var enabled int
		var last, next sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Schedule, &act, &enabled,
			&last, &next, &rec.RunCount, &created); err != nil {
			return nil, fmt.Errorf("scanning task: %w", err)
		}
		rec.ActionJSON = []byte(act)
		rec.Enabled = enabled != 0
		rec.LastRun = parseNullTime(last)
		rec.NextRun = parseNullTime(next)
		rec.CreatedAt = parseTime(created)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}
	return records, nil
}

// SaveTask inserts a task or overwrites its definition and next run. Run
// history of an existing row is preserved.
func (r *SQLiteRepository) SaveTask(ctx context.Context, t *ScheduledTask) error {
	act, err := EncodeAction(t.Action)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			task_id, name, schedule, action_json, enabled, next_run, run_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			name        = excluded.name,
			schedule    = excluded.schedule,
			action_json = excluded.action_json,
			enabled     = excluded.enabled,
			next_run    = excluded.next_run`,
		t.ID, t.Name, t.Schedule, string(act), boolToInt(t.Enabled),
		nullableTime(t.NextRun), formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("saving task: %w", err)
	}
	return nil
}

// RecordRun stores a task's last run, next run and run count in one
// statement.
func (r *SQLiteRepository) RecordRun(ctx context.Context, id string, lastRun, nextRun time.Time, runCount int64) error {
	return r.execOne(ctx, ErrTaskNotFound, "recording task run",
		"UPDATE scheduled_tasks SET last_run = ?, next_run = ?, run_count = ? WHERE task_id = ?",
		formatTime(lastRun), nullableTime(nextRun), runCount, id)
}

// SetTaskState enables or disables a task and stores its next run.
func (r *SQLiteRepository) SetTaskState(ctx context.Context, id string, enabled bool, nextRun time.Time) error {
	return r.execOne(ctx, ErrTaskNotFound, "updating task",
		"UPDATE scheduled_tasks SET enabled = ?, next_run = ? WHERE task_id = ?",
		boolToInt(enabled), nullableTime(nextRun), id)
}

// DeleteTask removes a task.
func (r *SQLiteRepository) DeleteTask(ctx context.Context, id string) error {
	return r.execOne(ctx, ErrTaskNotFound, "deleting task",
		"DELETE FROM scheduled_tasks WHERE task_id = ?", id)
}

// execOne runs a statement that must affect exactly one row.
func (r *SQLiteRepository) execOne(ctx context.Context, notFound error, op, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time on bad rows
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
