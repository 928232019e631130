package relay

import (
	"context"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/automation"
	"github.com/nerrad567/iotrelay/internal/command"
	"github.com/nerrad567/iotrelay/internal/history"
	"github.com/nerrad567/iotrelay/internal/presence"
)

// Health summarises the relay's runtime state.
type Health struct {
	Status        string `json:"status"`
	EngineRunning bool   `json:"engine_running"`
	MQTTConnected bool   `json:"mqtt_connected"`
	Devices       int    `json:"devices"`
	OnlineDevices int    `json:"online_devices"`
	QueueDepth    int    `json:"queue_depth"`
}

// Health statuses.
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
)

// Health reports the relay's runtime state without touching the engine
// goroutine.
func (s *Service) Health() Health {
	h := Health{
		EngineRunning: s.Running(),
		MQTTConnected: s.broker != nil && s.broker.IsConnected(),
		Devices:       s.store.Count(),
		OnlineDevices: len(s.store.GetOnline(0)),
		QueueDepth:    s.bridge.Len(),
	}
	h.Status = StatusOK
	if !h.EngineRunning || !h.MQTTConnected {
		h.Status = StatusDegraded
	}
	return h
}

// PresenceTTL returns the default online window.
func (s *Service) PresenceTTL() time.Duration {
	return s.store.TTL()
}

// GetDevice returns a snapshot of one device.
func (s *Service) GetDevice(deviceID string) (presence.DeviceState, bool) {
	return s.store.Get(deviceID)
}

// GetAllDevices returns snapshots of every known device.
func (s *Service) GetAllDevices() map[string]presence.DeviceState {
	return s.store.GetAll()
}

// GetOnlineDevices returns devices seen within ttl; a non-positive ttl uses
// the configured default.
func (s *Service) GetOnlineDevices(ttl time.Duration) map[string]presence.DeviceState {
	return s.store.GetOnline(ttl)
}

// GetRecentAlerts returns up to limit of the newest alerts, oldest first.
func (s *Service) GetRecentAlerts(limit int) []alert.Alert {
	return s.alerts.Recent(limit)
}

// PublishCommand sends command to a known, online device.
func (s *Service) PublishCommand(ctx context.Context, deviceID string, cmd any) error {
	return s.commands.Publish(ctx, deviceID, cmd, command.SourceAPI)
}

// CreateThresholdRule adds a threshold alert rule and returns its ID.
// Creating the same rule twice yields the same ID.
func (s *Service) CreateThresholdRule(ctx context.Context, deviceID, sensorType string, threshold float64, op automation.Operator, level alert.Level) (string, error) {
	var id string
	err := s.call(ctx, "create_threshold_rule", func(ctx context.Context) error {
		var err error
		id, err = s.engine.CreateThresholdRule(ctx, deviceID, sensorType, threshold, op, level)
		return err
	})
	return id, err
}

// CreateDeviceControlRule adds a rule that sends command to targetDevice
// when triggerDevice reports values matching fields.
func (s *Service) CreateDeviceControlRule(ctx context.Context, triggerDevice string, fields map[string]automation.FieldPredicate, targetDevice string, cmd any) (string, error) {
	var id string
	err := s.call(ctx, "create_control_rule", func(ctx context.Context) error {
		var err error
		id, err = s.engine.CreateDeviceControlRule(ctx, triggerDevice, fields, targetDevice, cmd)
		return err
	})
	return id, err
}

// AddRule adds or replaces a rule.
func (s *Service) AddRule(ctx context.Context, rule automation.Rule) (automation.Rule, error) {
	var out automation.Rule
	err := s.call(ctx, "add_rule", func(ctx context.Context) error {
		var err error
		out, err = s.engine.AddRule(ctx, rule)
		return err
	})
	return out, err
}

// GetRule returns one rule.
func (s *Service) GetRule(ctx context.Context, id string) (automation.Rule, error) {
	var out automation.Rule
	err := s.call(ctx, "get_rule", func(context.Context) error {
		var err error
		out, err = s.engine.GetRule(id)
		return err
	})
	return out, err
}

// ListRules returns every rule ordered by ID.
func (s *Service) ListRules(ctx context.Context) ([]automation.Rule, error) {
	var out []automation.Rule
	err := s.call(ctx, "list_rules", func(context.Context) error {
		out = s.engine.ListRules()
		return nil
	})
	return out, err
}

// SetRuleEnabled enables or disables a rule.
func (s *Service) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	return s.call(ctx, "set_rule_enabled", func(ctx context.Context) error {
		return s.engine.SetRuleEnabled(ctx, id, enabled)
	})
}

// DeleteRule removes a rule.
func (s *Service) DeleteRule(ctx context.Context, id string) error {
	return s.call(ctx, "delete_rule", func(ctx context.Context) error {
		return s.engine.DeleteRule(ctx, id)
	})
}

// AddScheduledTask adds or replaces a scheduled task. An empty ID is
// generated.
func (s *Service) AddScheduledTask(ctx context.Context, task automation.ScheduledTask) (automation.ScheduledTask, error) {
	var out automation.ScheduledTask
	err := s.call(ctx, "add_task", func(ctx context.Context) error {
		var err error
		out, err = s.scheduler.AddTask(ctx, task)
		return err
	})
	return out, err
}

// GetTask returns one scheduled task.
func (s *Service) GetTask(ctx context.Context, id string) (automation.ScheduledTask, error) {
	var out automation.ScheduledTask
	err := s.call(ctx, "get_task", func(context.Context) error {
		var err error
		out, err = s.scheduler.GetTask(id)
		return err
	})
	return out, err
}

// ListTasks returns every scheduled task ordered by ID.
func (s *Service) ListTasks(ctx context.Context) ([]automation.ScheduledTask, error) {
	var out []automation.ScheduledTask
	err := s.call(ctx, "list_tasks", func(context.Context) error {
		out = s.scheduler.ListTasks()
		return nil
	})
	return out, err
}

// SetTaskEnabled enables or disables a scheduled task.
func (s *Service) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	return s.call(ctx, "set_task_enabled", func(ctx context.Context) error {
		return s.scheduler.SetTaskEnabled(ctx, id, enabled)
	})
}

// DeleteTask removes a scheduled task.
func (s *Service) DeleteTask(ctx context.Context, id string) error {
	return s.call(ctx, "delete_task", func(ctx context.Context) error {
		return s.scheduler.DeleteTask(ctx, id)
	})
}

// SensorHistory returns stored values of one sensor over the last hours,
// oldest first.
func (s *Service) SensorHistory(ctx context.Context, deviceID, sensorType string, hours int) ([]history.SensorPoint, error) {
	s.flushHistory(ctx)
	return s.history.SensorHistory(ctx, deviceID, sensorType, s.since(hours))
}

// DeviceUptime returns the percentage of status snapshots over the last
// hours that reported the device online.
func (s *Service) DeviceUptime(ctx context.Context, deviceID string, hours int) (float64, error) {
	s.flushHistory(ctx)
	return s.history.DeviceUptime(ctx, deviceID, s.since(hours))
}

// AlertHistory returns stored alerts from the last hours, newest first.
func (s *Service) AlertHistory(ctx context.Context, hours, limit int) ([]history.StoredAlert, error) {
	s.flushHistory(ctx)
	return s.history.RecentAlerts(ctx, s.since(hours), limit)
}

// AcknowledgeAlert marks a stored alert as acknowledged.
func (s *Service) AcknowledgeAlert(ctx context.Context, id string) error {
	s.flushHistory(ctx)
	return s.history.AcknowledgeAlert(ctx, id)
}
