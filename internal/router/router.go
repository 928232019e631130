package router

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
	"github.com/nerrad567/iotrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotrelay/internal/presence"
	"github.com/nerrad567/iotrelay/internal/telemetry"
)

// Drop reasons recorded in metrics.
const (
	reasonMalformed = "malformed"
	reasonNoBridge  = "bridge_rejected"
)

// DeviceStore is the presence store as seen by the router.
type DeviceStore interface {
	RecordStatus(deviceID string, status map[string]any)
	RecordReading(deviceID string, values map[string]any) presence.SensorReading
}

// AlertRecorder records inbound alerts.
type AlertRecorder interface {
	Record(a alert.Alert) alert.Alert
}

// Evaluator evaluates rules against a reading.
type Evaluator interface {
	Evaluate(ctx context.Context, deviceID string, reading map[string]any) int
}

// Dispatcher hands work to the bridge goroutine without blocking.
type Dispatcher interface {
	Dispatch(name string, task func(ctx context.Context)) bool
}

// Logger defines the logging interface used by the Router.
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

// Router classifies inbound MQTT messages and applies them.
//
// Route runs on the MQTT callback goroutine and never blocks: the store
// takes short per-device locks, sinks enqueue, and rule evaluation is
// handed to the bridge. Decoded payloads are treated as immutable once
// routed, so the store, sinks and rule engine share them without copying.
type Router struct {
	store      DeviceStore
	alerts     AlertRecorder
	evaluator  Evaluator
	dispatcher Dispatcher
	sinks      []telemetry.Sink
	logger     Logger
	now        func() time.Time
}

// New creates a Router. evaluator and dispatcher may be nil, in which case
// readings are stored but not evaluated.
func New(store DeviceStore, alerts AlertRecorder, evaluator Evaluator, dispatcher Dispatcher, logger Logger) *Router {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Router{
		store:      store,
		alerts:     alerts,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// AddSink registers a telemetry sink. Call before the first message.
func (r *Router) AddSink(s telemetry.Sink) {
	r.sinks = append(r.sinks, s)
}

// SetClock replaces the clock used for sink timestamps and alert defaults.
func (r *Router) SetClock(now func() time.Time) {
	r.now = now
}

// HandleMessage adapts Route to mqtt.MessageHandler.
func (r *Router) HandleMessage(topic string, payload []byte) error {
	return r.Route(topic, payload)
}

// Route applies one MQTT message. Payloads that are not a JSON object are
// dropped and reported with ErrMalformedPayload; nothing is mutated.
func (r *Router) Route(topic string, payload []byte) error {
	kind, deviceID := mqtt.ParseTopic(topic)
	metrics.IncEvent(kind.String())

	switch kind {
	case mqtt.KindDeviceStatus, mqtt.KindDeviceData, mqtt.KindAlert:
	default:
		r.logger.Debug("message ignored", "topic", topic, "kind", kind.String(), "bytes", len(payload))
		return nil
	}

	var data map[string]any
	if err := json.Unmarshal(payload, &data); err != nil || data == nil {
		metrics.IncEventDropped(reasonMalformed)
		if err == nil {
			return fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
		}
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	switch kind {
	case mqtt.KindDeviceStatus:
		r.routeStatus(deviceID, data)
	case mqtt.KindDeviceData:
		r.routeReading(deviceID, data)
	case mqtt.KindAlert:
		r.routeAlert(data)
	}
	return nil
}

func (r *Router) routeStatus(deviceID string, status map[string]any) {
	r.store.RecordStatus(deviceID, status)
	at := r.now().UTC()
	for _, s := range r.sinks {
		s.RecordStatus(deviceID, status, at)
	}
	r.logger.Debug("device status", "device_id", deviceID)
}

func (r *Router) routeReading(deviceID string, values map[string]any) {
	values = telemetry.Normalize(values)
	reading := r.store.RecordReading(deviceID, values)

	for _, s := range r.sinks {
		s.RecordReading(deviceID, values, reading.ReceivedAt.UTC())
	}

	if r.evaluator == nil || r.dispatcher == nil {
		return
	}
	ok := r.dispatcher.Dispatch("evaluate_rules", func(ctx context.Context) {
		r.evaluator.Evaluate(ctx, deviceID, values)
	})
	if !ok {
		metrics.IncEventDropped(reasonNoBridge)
	}
}

func (r *Router) routeAlert(payload map[string]any) {
	if r.alerts == nil {
		return
	}
	r.alerts.Record(alert.FromPayload(payload, r.now().UTC()))
}
