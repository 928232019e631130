package automation

import "github.com/nerrad567/iotrelay/internal/alert"

// Action is what a rule or scheduled task does when it fires.
//
// The set of implementations is closed: SendAlert, ControlDevice,
// SendNotification and LogEvent.
type Action interface {
	// ActionType returns the persisted type tag.
	ActionType() string

	isAction()
}

// Action type tags. actionSendTelegram is accepted when decoding and maps
// to SendNotification.
const (
	ActionSendAlert        = "send_alert"
	ActionControlDevice    = "control_device"
	ActionSendNotification = "send_notification"
	ActionLogEvent         = "log_event"

	actionSendTelegram = "send_telegram"
)

// Defaults applied when an action omits a field.
const (
	defaultAlertMessage        = "Automated alert triggered"
	defaultNotificationMessage = "Automation alert"
	defaultLogMessage          = "Automated event logged"
)

// SendAlert records an alert attributed to the rule.
type SendAlert struct {
	Level   alert.Level
	Message string
}

// ActionType implements Action.
func (SendAlert) ActionType() string { return ActionSendAlert }
func (SendAlert) isAction()          {}

// ControlDevice publishes a command to another device. Command is either a
// string or a JSON object.
type ControlDevice struct {
	DeviceID string
	Command  any
}

// ActionType implements Action.
func (ControlDevice) ActionType() string { return ActionControlDevice }
func (ControlDevice) isAction()          {}

// SendNotification pushes a message to operators.
type SendNotification struct {
	Message string
}

// ActionType implements Action.
func (SendNotification) ActionType() string { return ActionSendNotification }
func (SendNotification) isAction()          {}

// LogEvent writes a structured log line.
type LogEvent struct {
	Message string
}

// ActionType implements Action.
func (LogEvent) ActionType() string { return ActionLogEvent }
func (LogEvent) isAction()          {}
