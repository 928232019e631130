package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/telemetry"
)

// Measurement names.
const (
	measurementSensor = "sensor_readings"
	measurementStatus = "device_status"
	measurementAlert  = "alerts"
)

// RecordReading writes one point per numeric sensor value in the reading.
func (c *Client) RecordReading(deviceID string, values map[string]any, at time.Time) {
	for _, p := range readingPoints(deviceID, values, at) {
		c.writePoint(p)
	}
}

// RecordStatus writes the device's online flag and any numeric status fields.
func (c *Client) RecordStatus(deviceID string, status map[string]any, at time.Time) {
	c.writePoint(statusPoint(deviceID, status, at))
}

// ArchiveAlert writes an alert event.
func (c *Client) ArchiveAlert(a alert.Alert) {
	c.writePoint(alertPoint(a))
}

func readingPoints(deviceID string, values map[string]any, at time.Time) []*write.Point {
	location, _ := values[telemetry.KeyLocation].(string)

	measurements := telemetry.Measurements(values)
	points := make([]*write.Point, 0, len(measurements))
	for _, m := range measurements {
		tags := map[string]string{
			"device_id":   deviceID,
			"sensor_type": m.SensorType,
		}
		if m.Unit != "" {
			tags["unit"] = m.Unit
		}
		if location != "" {
			tags["location"] = location
		}
		points = append(points, write.NewPoint(measurementSensor, tags,
			map[string]any{"value": m.Value}, at))
	}
	return points
}

func statusPoint(deviceID string, status map[string]any, at time.Time) *write.Point {
	online := true
	if v, ok := status[telemetry.KeyOnline].(bool); ok {
		online = v
	}

	fields := map[string]any{"online": online}
	for key, raw := range status {
		if f, ok := telemetry.Float(raw); ok {
			fields[key] = f
		}
	}
	return write.NewPoint(measurementStatus, map[string]string{"device_id": deviceID}, fields, at)
}

func alertPoint(a alert.Alert) *write.Point {
	tags := map[string]string{
		"level":  string(a.Level),
		"source": a.Source,
	}
	if a.DeviceID != "" {
		tags["device_id"] = a.DeviceID
	}
	if a.RuleID != "" {
		tags["rule_id"] = a.RuleID
	}
	return write.NewPoint(measurementAlert, tags, map[string]any{"message": a.Message}, a.Timestamp)
}
