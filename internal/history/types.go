package history

import (
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s) //nolint:errcheck // zero time on bad rows
	}
	return t
}

// SensorPoint is one stored sensor value.
type SensorPoint struct {
	DeviceID   string    `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	SensorType string    `json:"sensor_type"`
	Value      float64   `json:"value"`
	Unit       string    `json:"unit,omitempty"`
	Location   string    `json:"location,omitempty"`
}

// StatusRow is one stored status snapshot.
type StatusRow struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Online    bool           `json:"online"`
	Status    map[string]any `json:"status"`
}

// StoredAlert is an alert as kept in alert_history.
type StoredAlert struct {
	alert.Alert
	Acknowledged bool `json:"acknowledged"`
}

// Batch groups rows written in one transaction.
type Batch struct {
	Statuses []StatusRow
	Sensors  []SensorPoint
	Alerts   []alert.Alert
}

// Len returns the total number of rows in the batch.
func (b *Batch) Len() int {
	return len(b.Statuses) + len(b.Sensors) + len(b.Alerts)
}

func (b *Batch) reset() {
	b.Statuses = b.Statuses[:0]
	b.Sensors = b.Sensors[:0]
	b.Alerts = b.Alerts[:0]
}
