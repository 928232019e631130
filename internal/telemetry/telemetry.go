package telemetry

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// Payload keys with special meaning in device messages.
const (
	KeySensorType = "sensor_type"
	KeyValue      = "value"
	KeyTimestamp  = "timestamp"
	KeyLocation   = "location"
	KeyOnline     = "online"
)

// Sink receives device telemetry after it has been applied to the presence
// store. Implementations are called on the MQTT callback and must not block.
type Sink interface {
	RecordStatus(deviceID string, status map[string]any, at time.Time)
	RecordReading(deviceID string, values map[string]any, at time.Time)
}

// Normalize adds the flattened form of a sensor_type/value pair, so
// {"sensor_type":"temperature","value":31} also carries "temperature":31.
// A key already present in the payload is left alone. Normalize mutates
// and returns values.
func Normalize(values map[string]any) map[string]any {
	sensorType, ok := values[KeySensorType].(string)
	if !ok || sensorType == "" {
		return values
	}
	v, ok := values[KeyValue]
	if !ok {
		return values
	}
	if _, exists := values[sensorType]; !exists {
		values[sensorType] = v
	}
	return values
}

// Float converts a decoded JSON scalar to float64. Booleans, strings and
// non-finite numbers are rejected.
func Float(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := strconv.ParseFloat(string(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Measurement is one numeric sensor value extracted from a reading.
type Measurement struct {
	SensorType string
	Value      float64
	Unit       string
}

// reservedKeys never become measurements on their own.
var reservedKeys = map[string]bool{
	KeySensorType: true,
	KeyValue:      true,
	KeyTimestamp:  true,
	KeyLocation:   true,
	"device_id":   true,
	"unit":        true,
}

// Measurements returns every numeric sensor value in a normalised reading,
// sorted by sensor type. An explicit "unit" in a sensor_type/value payload
// wins over the built-in unit table.
func Measurements(values map[string]any) []Measurement {
	explicitType, _ := values[KeySensorType].(string)
	explicitUnit, _ := values["unit"].(string)

	var out []Measurement
	for key, raw := range values {
		if reservedKeys[key] {
			continue
		}
		f, ok := Float(raw)
		if !ok {
			continue
		}
		unit := UnitFor(key)
		if key == explicitType && explicitUnit != "" {
			unit = explicitUnit
		}
		out = append(out, Measurement{SensorType: key, Value: f, Unit: unit})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SensorType < out[j].SensorType })
	return out
}

var units = map[string]string{
	"temperature":       "°C",
	"humidity":          "%",
	"pressure":          "bar",
	"flow_rate":         "L/min",
	"power_consumption": "kW",
	"vibration":         "mm/s",
}

// UnitFor returns the unit for a known sensor type, or "".
func UnitFor(sensorType string) string {
	return units[sensorType]
}
