package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Archiver stores alerts durably. Implementations must not block.
type Archiver interface {
	ArchiveAlert(a Alert)
}

// Notifier delivers alerts to operators (WebSocket clients, Kafka, ...).
type Notifier interface {
	NotifyAlert(ctx context.Context, a Alert) error
}

// Dispatcher runs work on the engine goroutine without blocking the caller.
type Dispatcher interface {
	Dispatch(name string, task func(ctx context.Context)) bool
}

// Logger defines the logging interface used by the Service.
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

// Service records alerts in the ring buffer and the archive, and hands
// WARNING-or-worse alerts to the notifier on the engine goroutine.
type Service struct {
	ring       *Ring
	archives   []Archiver
	notifier   Notifier
	dispatcher Dispatcher
	logger     Logger
	now        func() time.Time
}

// NewService creates a Service. notifier and dispatcher may be nil, in which
// case alerts are only recorded.
func NewService(ring *Ring, notifier Notifier, dispatcher Dispatcher, logger Logger) *Service {
	if ring == nil {
		ring = NewRing(DefaultBufferSize)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		ring:       ring,
		notifier:   notifier,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// AddArchiver registers a durable store for alerts. Call before Record is
// first used.
func (s *Service) AddArchiver(a Archiver) {
	s.archives = append(s.archives, a)
}

// SetClock replaces the clock used for default timestamps.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Record stores a and schedules notification when its level warrants it.
// Missing ID, timestamp, level or source are filled in. Record never blocks
// and is safe to call from MQTT callbacks.
func (s *Service) Record(a Alert) Alert {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = s.now().UTC()
	}
	if !a.Level.Valid() {
		a.Level = LevelInfo
	}
	if a.Source == "" {
		a.Source = SourceSystem
	}

	s.ring.Add(a)
	for _, archive := range s.archives {
		archive.ArchiveAlert(a)
	}

	s.logger.Info("alert recorded",
		"alert_id", a.ID, "level", string(a.Level), "device_id", a.DeviceID,
		"source", a.Source, "message", a.Message)

	if a.Level.Notifiable() && s.notifier != nil && s.dispatcher != nil {
		s.dispatcher.Dispatch("notify_alert", func(ctx context.Context) {
			if err := s.notifier.NotifyAlert(ctx, a); err != nil {
				s.logger.Warn("alert notification failed", "alert_id", a.ID, "error", err)
			}
		})
	}
	return a
}

// Recent returns up to limit of the newest alerts, oldest first.
func (s *Service) Recent(limit int) []Alert {
	return s.ring.Recent(limit)
}
