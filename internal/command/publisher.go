package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
	"github.com/nerrad567/iotrelay/internal/infrastructure/mqtt"
)

// Command sources recorded in the published payload.
const (
	SourceAPI        = "api"
	SourceAutomation = "automation"
)

// Payload keys added by the publisher.
const (
	keyTimestamp = "timestamp"
	keySource    = "source"
	keyAction    = "action"
)

// Presence answers whether a device is known and currently online.
type Presence interface {
	Known(deviceID string) bool
	IsOnline(deviceID string, ttl time.Duration) bool
}

// Transport publishes to the broker.
type Transport interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
}

// Logger defines the logging interface used by the Publisher.
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

// Publisher sends control commands to devices over MQTT.
//
// Commands to devices that are unknown or offline fail immediately; the
// relay never queues commands for later delivery.
type Publisher struct {
	transport Transport
	presence  Presence
	qos       byte
	ttl       time.Duration
	logger    Logger
	now       func() time.Time
	topics    mqtt.Topics
}

// NewPublisher creates a Publisher. ttl is the presence window used for
// the online check; zero uses the store's default.
func NewPublisher(transport Transport, presence Presence, qos byte, ttl time.Duration, logger Logger) *Publisher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Publisher{
		transport: transport,
		presence:  presence,
		qos:       qos,
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the clock used for payload timestamps.
func (p *Publisher) SetClock(now func() time.Time) {
	p.now = now
}

// Publish sends command to deviceID's control topic. command is either a
// string, sent as {"action": command}, or an object whose fields are
// merged into the payload after timestamp and source.
func (p *Publisher) Publish(_ context.Context, deviceID string, command any, source string) error {
	if source == "" {
		source = SourceAPI
	}
	err := p.publish(deviceID, command, source)

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		p.logger.Warn("command not sent", "device_id", deviceID, "source", source, "error", err)
	} else {
		p.logger.Info("command sent", "device_id", deviceID, "source", source)
	}
	metrics.IncCommandPublished(source, result)
	return err
}

func (p *Publisher) publish(deviceID string, command any, source string) error {
	if deviceID == "" || p.presence == nil || !p.presence.Known(deviceID) {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, deviceID)
	}
	if !p.presence.IsOnline(deviceID, p.ttl) {
		return fmt.Errorf("%w: %q", ErrDeviceOffline, deviceID)
	}
	if p.transport == nil || !p.transport.IsConnected() {
		return ErrNotConnected
	}

	payload, err := BuildPayload(command, source, p.now())
	if err != nil {
		return err
	}

	if err := p.transport.Publish(p.topics.DeviceControl(deviceID), payload, p.qos, false); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) {
			return fmt.Errorf("%w: %w", ErrNotConnected, err)
		}
		return fmt.Errorf("publishing command to %s: %w", deviceID, err)
	}
	return nil
}

// BuildPayload encodes a command as published on a control topic. The
// timestamp and source fields always come from the relay.
func BuildPayload(command any, source string, now time.Time) ([]byte, error) {
	data := make(map[string]any)
	switch cmd := command.(type) {
	case string:
		if cmd == "" {
			return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
		}
		data[keyAction] = cmd
	case map[string]any:
		if len(cmd) == 0 {
			return nil, fmt.Errorf("%w: empty command", ErrInvalidCommand)
		}
		for k, v := range cmd {
			data[k] = v
		}
	default:
		return nil, fmt.Errorf("%w: must be a string or object, got %T", ErrInvalidCommand, command)
	}
	data[keyTimestamp] = now.UTC().Format(time.RFC3339)
	data[keySource] = source

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}
	return payload, nil
}
