package notify

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
)

// Event kinds carried by Event.Kind.
const (
	KindAlert        = "alert"
	KindNotification = "notification"
)

// Message is a free-form operator notification raised by an automation
// action.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"message"`
	DeviceID  string    `json:"device_id,omitempty"`
	RuleID    string    `json:"rule_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
}

// Event is the envelope delivered to operator channels.
type Event struct {
	Kind         string       `json:"kind"`
	Timestamp    time.Time    `json:"timestamp"`
	Alert        *alert.Alert `json:"alert,omitempty"`
	Notification *Message     `json:"notification,omitempty"`
}

// AlertEvent wraps an alert.
func AlertEvent(a alert.Alert) Event {
	return Event{Kind: KindAlert, Timestamp: a.Timestamp, Alert: &a}
}

// MessageEvent wraps a notification.
func MessageEvent(m Message) Event {
	return Event{Kind: KindNotification, Timestamp: m.Timestamp, Notification: &m}
}

// Key returns the partitioning key for the event: the device it concerns,
// or "system".
func (e Event) Key() string {
	switch {
	case e.Alert != nil && e.Alert.DeviceID != "":
		return e.Alert.DeviceID
	case e.Notification != nil && e.Notification.DeviceID != "":
		return e.Notification.DeviceID
	default:
		return "system"
	}
}

// Notifier delivers alerts and notifications to operators.
type Notifier interface {
	NotifyAlert(ctx context.Context, a alert.Alert) error
	Notify(ctx context.Context, msg Message) error
}

// Multi fans out to several notifiers. Every notifier is tried; the errors
// are joined.
type Multi []Notifier

// NewMulti builds a Multi, skipping nil entries.
func NewMulti(notifiers ...Notifier) Multi {
	out := make(Multi, 0, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

// NotifyAlert implements Notifier.
func (m Multi) NotifyAlert(ctx context.Context, a alert.Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.NotifyAlert(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, msg Message) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger defines the logging interface used by LogNotifier and
// KafkaNotifier.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// LogNotifier writes notifications to the structured log. It is the
// fallback channel when no other notifier is configured.
type LogNotifier struct {
	logger Logger
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(logger Logger) *LogNotifier {
	if logger == nil {
		logger = noopLogger{}
	}
	return &LogNotifier{logger: logger}
}

// NotifyAlert implements Notifier.
func (l *LogNotifier) NotifyAlert(_ context.Context, a alert.Alert) error {
	l.logger.Warn("operator alert",
		"alert_id", a.ID, "level", string(a.Level), "device_id", a.DeviceID,
		"rule_id", a.RuleID, "message", a.Message)
	return nil
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(_ context.Context, msg Message) error {
	l.logger.Info("operator notification",
		"message", msg.Text, "device_id", msg.DeviceID, "rule_id", msg.RuleID, "task_id", msg.TaskID)
	return nil
}
