package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 1000
	alertTypeDevice   = "device_alert"
	alertTypeSystem   = "system_alert"
	alertTypeRule     = "rule_alert"
)

// Repository defines the durable telemetry store.
type Repository interface {
	InsertBatch(ctx context.Context, b *Batch) error
	SensorHistory(ctx context.Context, deviceID, sensorType string, since time.Time) ([]SensorPoint, error)
	DeviceUptime(ctx context.Context, deviceID string, since time.Time) (float64, error)
	RecentAlerts(ctx context.Context, since time.Time, limit int) ([]StoredAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository on the relay's SQLite database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// InsertBatch writes all rows in b in a single transaction.
func (r *SQLiteRepository) InsertBatch(ctx context.Context, b *Batch) error {
	if b.Len() == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := insertStatuses(ctx, tx, b.Statuses); err != nil {
		return err
	}
	if err := insertSensors(ctx, tx, b.Sensors); err != nil {
		return err
	}
	if err := insertAlerts(ctx, tx, b.Alerts); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing history batch: %w", err)
	}
	return nil
}

func insertStatuses(ctx context.Context, tx *sql.Tx, rows []StatusRow) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO device_status (device_id, timestamp, online, status_data) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing status insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		data, err := json.Marshal(row.Status)
		if err != nil {
			return fmt.Errorf("marshalling status for %s: %w", row.DeviceID, err)
		}
		if _, err := stmt.ExecContext(ctx, row.DeviceID, formatTime(row.Timestamp), boolToInt(row.Online), string(data)); err != nil {
			return fmt.Errorf("inserting status: %w", err)
		}
	}
	return nil
}

func insertSensors(ctx context.Context, tx *sql.Tx, rows []SensorPoint) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO sensor_data (device_id, timestamp, sensor_type, value, unit, location) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing sensor insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range rows {
		if _, err := stmt.ExecContext(ctx, p.DeviceID, formatTime(p.Timestamp), p.SensorType, p.Value,
			nullableString(p.Unit), nullableString(p.Location)); err != nil {
			return fmt.Errorf("inserting sensor value: %w", err)
		}
	}
	return nil
}

func insertAlerts(ctx context.Context, tx *sql.Tx, rows []alert.Alert) error {
	if len(rows) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO alert_history (id, device_id, alert_type, level, message, rule_id, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("preparing alert insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range rows {
		if _, err := stmt.ExecContext(ctx, a.ID, nullableString(a.DeviceID), alertType(a), string(a.Level),
			a.Message, nullableString(a.RuleID), formatTime(a.Timestamp)); err != nil {
			return fmt.Errorf("inserting alert: %w", err)
		}
	}
	return nil
}

func alertType(a alert.Alert) string {
	switch {
	case a.RuleID != "":
		return alertTypeRule
	case a.DeviceID != "":
		return alertTypeDevice
	default:
		return alertTypeSystem
	}
}

// SensorHistory returns a device's values for one sensor since the given
// time, oldest first.
func (r *SQLiteRepository) SensorHistory(ctx context.Context, deviceID, sensorType string, since time.Time) ([]SensorPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT device_id, timestamp, sensor_type, value, unit, location
		FROM sensor_data
		WHERE device_id = ? AND sensor_type = ? AND timestamp >= ?
		ORDER BY timestamp, id`,
		deviceID, sensorType, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("querying sensor history: %w", err)
	}
	defer rows.Close()

	var points []SensorPoint
	for rows.Next() {
		var p SensorPoint
		var ts string
		var unit, location sql.NullString
		if err := rows.Scan(&p.DeviceID, &ts, &p.SensorType, &p.Value, &unit, &location); err != nil {
			return nil, fmt.Errorf("scanning sensor row: %w", err)
		}
		p.Timestamp = parseTime(ts)
		p.Unit = unit.String
		p.Location = location.String
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor rows: %w", err)
	}
	return points, nil
}

// DeviceUptime returns the percentage of status snapshots since the given
// time that reported the device online. It returns 0 when there are none.
func (r *SQLiteRepository) DeviceUptime(ctx context.Context, deviceID string, since time.Time) (float64, error) {
	var total, online sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(online)
		FROM device_status
		WHERE device_id = ? AND timestamp >= ?`,
		deviceID, formatTime(since)).Scan(&total, &online)
	if err != nil {
		return 0, fmt.Errorf("querying device uptime: %w", err)
	}
	if total.Int64 == 0 {
		return 0, nil
	}
	return float64(online.Int64) / float64(total.Int64) * 100, nil
}

// RecentAlerts returns alerts since the given time, newest first.
func (r *SQLiteRepository) RecentAlerts(ctx context.Context, since time.Time, limit int) ([]StoredAlert, error) {
	if limit <= 0 {
		limit = defaultAlertLimit
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, device_id, alert_type, level, message, rule_id, acknowledged, timestamp
		FROM alert_history
		WHERE timestamp >= ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		formatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("querying alerts: %w", err)
	}
	defer rows.Close()

	var alerts []StoredAlert
	for rows.Next() {
		var a StoredAlert
		var deviceID, ruleID sql.NullString
		var kind, level, ts string
		var acked int
		if err := rows.Scan(&a.ID, &deviceID, &kind, &level, &a.Message, &ruleID, &acked, &ts); err != nil {
			return nil, fmt.Errorf("scanning alert row: %w", err)
		}
		a.DeviceID = deviceID.String
		a.RuleID = ruleID.String
		a.Level = alert.Level(level)
		a.Timestamp = parseTime(ts)
		a.Acknowledged = acked != 0
		a.Source = alert.SourceSystem
		if kind == alertTypeRule {
			a.Source = alert.SourceAutomation
		}
		alerts = append(alerts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating alerts: %w", err)
	}
	return alerts, nil
}

// AcknowledgeAlert marks an archived alert as acknowledged.
func (r *SQLiteRepository) AcknowledgeAlert(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "UPDATE alert_history SET acknowledged = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("acknowledging alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlertNotFound
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IsNotFound reports whether err means the requested row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAlertNotFound)
}
