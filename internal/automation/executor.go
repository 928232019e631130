package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
	"github.com/nerrad567/iotrelay/internal/notify"
)

// CommandSource is the source recorded on commands published by actions.
const CommandSource = "automation"

// AlertRecorder is the alert path shared with inbound MQTT alerts.
type AlertRecorder interface {
	Record(a alert.Alert) alert.Alert
}

// CommandPublisher sends control commands to devices.
type CommandPublisher interface {
	Publish(ctx context.Context, deviceID string, command any, source string) error
}

// Notifier delivers free-form operator notifications.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// ActionExecutor runs actions. Engine and Scheduler share one.
type ActionExecutor interface {
	Execute(ctx context.Context, actx ActionContext, action Action) error
}

// Executor runs rule and task actions against the relay's collaborators.
// Any collaborator may be nil, in which case its actions fail with an error
// that the caller logs.
type Executor struct {
	alerts   AlertRecorder
	commands CommandPublisher
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// NewExecutor creates an Executor.
func NewExecutor(alerts AlertRecorder, commands CommandPublisher, notifier Notifier, logger Logger) *Executor {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Executor{
		alerts:   alerts,
		commands: commands,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute runs a single action. Failures are returned for the caller to
// log; they are never retried.
func (x *Executor) Execute(ctx context.Context, actx ActionContext, action Action) error {
	err := x.execute(ctx, actx, action)

	kind := "unknown"
	if action != nil {
		kind = action.ActionType()
	}
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.IncActionExecution(kind, result)
	return err
}

func (x *Executor) execute(ctx context.Context, actx ActionContext, action Action) error {
	switch act := action.(type) {
	case SendAlert:
		if x.alerts == nil {
			return errors.New("send_alert: no alert recorder configured")
		}
		message := act.Message
		if message == "" {
			message = defaultAlertMessage
		}
		level := act.Level
		if !level.Valid() {
			level = alert.LevelWarning
		}
		x.alerts.Record(alert.Alert{
			Level:    level,
			Message:  message,
			DeviceID: actx.DeviceID,
			Source:   alert.SourceAutomation,
			RuleID:   actx.RuleID,
		})
		return nil

	case ControlDevice:
		if x.commands == nil {
			return errors.New("control_device: no command publisher configured")
		}
		if err := x.commands.Publish(ctx, act.DeviceID, act.Command, CommandSource); err != nil {
			return fmt.Errorf("control_device %s: %w", act.DeviceID, err)
		}
		x.logger.Info("automation command sent",
			"target_device", act.DeviceID, "trigger_device", actx.DeviceID, "rule_id", actx.RuleID)
		return nil

	case SendNotification:
		if x.notifier == nil {
			return errors.New("send_notification: no notifier configured")
		}
		message := act.Message
		if message == "" {
			message = defaultNotificationMessage
		}
		return x.notifier.Notify(ctx, notify.Message{
			Timestamp: x.now().UTC(),
			Text:      message,
			DeviceID:  actx.DeviceID,
			RuleID:    actx.RuleID,
			TaskID:    actx.TaskID,
		})

	case LogEvent:
		message := act.Message
		if message == "" {
			message = defaultLogMessage
		}
		x.logger.Info("automation event",
			"message", message, "device_id", actx.DeviceID,
			"rule_id", actx.RuleID, "task_id", actx.TaskID)
		return nil

	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}
}
