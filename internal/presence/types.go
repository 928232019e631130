package presence

import "time"

// Default limits used when a Store is created without options.
const (
	DefaultHistorySize = 100
	DefaultTTL         = 30 * time.Second
)

// SensorReading is one data event as received from a device.
type SensorReading struct {
	// ReceivedAt is the relay's clock when the event arrived.
	ReceivedAt time.Time `json:"received_at"`

	// Values is the decoded payload, including any normalised
	// sensor_type/value pair.
	Values map[string]any `json:"values"`
}

// DeviceState is a point-in-time snapshot of a device.
//
// Snapshots are deep copies; callers may modify them freely.
type DeviceState struct {
	DeviceID      string          `json:"device_id"`
	LastStatus    map[string]any  `json:"last_status,omitempty"`
	SensorHistory []SensorReading `json:"sensor_history"`
	LastSeen      time.Time       `json:"last_seen"`
	Online        bool            `json:"online"`
}

// LatestReading returns the most recent reading, if any.
func (s DeviceState) LatestReading() (SensorReading, bool) {
	if len(s.SensorHistory) == 0 {
		return SensorReading{}, false
	}
	return s.SensorHistory[len(s.SensorHistory)-1], true
}

// deepCopyMap copies a decoded JSON object, including nested objects and arrays.
func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return val
	}
}
