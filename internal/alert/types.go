package alert

import (
	"strings"
	"time"
)

// Level is an alert severity.
type Level string

// Alert levels, lowest to highest severity.
const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
)

// Alert sources used by the relay itself.
const (
	SourceSystem     = "system"
	SourceAutomation = "automation_rule"
)

var severity = map[Level]int{
	LevelInfo:     0,
	LevelWarning:  1,
	LevelError:    2,
	LevelCritical: 3,
}

// ParseLevel converts a case-insensitive level name. "WARN" is accepted as
// WARNING.
func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToUpper(strings.TrimSpace(s)))
	if l == "WARN" {
		l = LevelWarning
	}
	_, ok := severity[l]
	return l, ok
}

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	_, ok := severity[l]
	return ok
}

// AtLeast reports whether l is as severe as other.
func (l Level) AtLeast(other Level) bool {
	return severity[l] >= severity[other]
}

// Notifiable reports whether alerts at this level go to the notification
// channels (WARNING and above).
func (l Level) Notifiable() bool {
	return l.AtLeast(LevelWarning)
}

// Alert is an immutable record of something worth telling an operator.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	DeviceID  string    `json:"device_id,omitempty"` // empty for system alerts
	Source    string    `json:"source"`
	RuleID    string    `json:"rule_id,omitempty"`
}

// timestampLayouts are tried in order when reading device-supplied times.
// Many devices omit the zone; those are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// FromPayload builds an alert from a decoded iot/alerts message.
//
// Missing fields get defaults: level INFO, source "system", and the relay's
// clock when the timestamp is absent or unreadable. Unknown levels are
// treated as INFO.
func FromPayload(payload map[string]any, now time.Time) Alert {
	a := Alert{
		Timestamp: now,
		Level:     LevelInfo,
		Source:    SourceSystem,
	}

	if s, ok := payload["level"].(string); ok {
		if l, ok := ParseLevel(s); ok {
			a.Level = l
		}
	}
	if s, ok := payload["message"].(string); ok {
		a.Message = s
	}
	if s, ok := payload["device_id"].(string); ok {
		a.DeviceID = s
	}
	if s, ok := payload["source"].(string); ok && s != "" {
		a.Source = s
	}
	if s, ok := payload["rule_id"].(string); ok {
		a.RuleID = s
	}
	if s, ok := payload["timestamp"].(string); ok {
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				a.Timestamp = ts.UTC()
				break
			}
		}
	}
	return a
}
