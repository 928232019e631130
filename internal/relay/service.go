package relay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/automation"
	"github.com/nerrad567/iotrelay/internal/bridge"
	"github.com/nerrad567/iotrelay/internal/command"
	"github.com/nerrad567/iotrelay/internal/history"
	"github.com/nerrad567/iotrelay/internal/infrastructure/config"
	"github.com/nerrad567/iotrelay/internal/infrastructure/logging"
	"github.com/nerrad567/iotrelay/internal/infrastructure/metrics"
	"github.com/nerrad567/iotrelay/internal/infrastructure/mqtt"
	"github.com/nerrad567/iotrelay/internal/notify"
	"github.com/nerrad567/iotrelay/internal/presence"
	"github.com/nerrad567/iotrelay/internal/router"
	"github.com/nerrad567/iotrelay/internal/telemetry"
)

// gaugeInterval is how often the online-devices gauge is refreshed.
const gaugeInterval = 10 * time.Second

// flushTimeout bounds the history flush done before durable queries.
const flushTimeout = 2 * time.Second

// defaultHistoryHours applies when a history query is given no window.
const defaultHistoryHours = 24

// Broker is the MQTT client as used by the relay.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	IsConnected() bool
	SubscribeAll(topics []string, qos byte, handler mqtt.MessageHandler) error
	UnsubscribeAll(topics []string) error
}

// Deps holds the dependencies of a Service.
type Deps struct {
	Config *config.Config
	DB     *sql.DB
	Logger *logging.Logger

	// Broker may be nil; commands then fail with command.ErrNotConnected
	// and nothing is ingested.
	Broker Broker

	// Notifiers receive WARNING-or-worse alerts and notification actions.
	Notifiers []notify.Notifier

	// Sinks and Archivers receive telemetry and alerts in addition to the
	// SQLite history.
	Sinks     []telemetry.Sink
	Archivers []alert.Archiver
}

// Service is the relay facade.
type Service struct {
	logger *logging.Logger
	broker Broker
	qos    byte
	ttl    time.Duration
	now    func() time.Time

	store     *presence.Store
	bridge    *bridge.Bridge
	alerts    *alert.Service
	recorder  *history.Recorder
	history   history.Repository
	engine    *automation.Engine
	scheduler *automation.Scheduler
	commands  *command.Publisher
	router    *router.Router

	mu      sync.Mutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New builds a Service and all of its components. Nothing runs until
// StartEngine.
func New(deps Deps) (*Service, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("%w: config", ErrMissingDependency)
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("%w: database", ErrMissingDependency)
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}
	cfg := deps.Config

	s := &Service{
		logger: logger,
		broker: deps.Broker,
		qos:    byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
		ttl:    cfg.PresenceTTL(),
		now:    time.Now,
	}

	s.store = presence.NewStore(
		presence.WithHistorySize(cfg.Presence.HistorySize),
		presence.WithTTL(s.ttl),
	)
	s.bridge = bridge.New(cfg.Automation.QueueSize, logger.Component("bridge"))

	notifier := notify.NewMulti(deps.Notifiers...)

	s.alerts = alert.NewService(alert.NewRing(cfg.Alerts.BufferSize), notifier, s.bridge, logger.Component("alerts"))

	repo := history.NewSQLiteRepository(deps.DB)
	s.history = repo
	s.recorder = history.NewRecorder(repo, history.RecorderConfig{
		BatchSize:     cfg.History.BatchSize,
		FlushInterval: cfg.HistoryFlushInterval(),
		BufferSize:    cfg.History.BufferSize,
	}, logger.Component("history"))
	s.alerts.AddArchiver(s.recorder)
	for _, a := range deps.Archivers {
		s.alerts.AddArchiver(a)
	}

	var transport command.Transport
	if deps.Broker != nil {
		transport = deps.Broker
	}
	s.commands = command.NewPublisher(transport, s.store, s.qos, s.ttl, logger.Component("commands"))

	autoRepo := automation.NewSQLiteRepository(deps.DB)
	executor := automation.NewExecutor(s.alerts, s.commands, notifier, logger.Component("actions"))
	s.engine = automation.NewEngine(autoRepo, executor, logger.Component("rules"))
	s.scheduler = automation.NewScheduler(autoRepo, executor,
		cfg.SchedulerTick(), logger.Component("scheduler"))

	s.router = router.New(s.store, s.alerts, s.engine, s.bridge, logger.Component("router"))
	s.router.AddSink(s.recorder)
	for _, sink := range deps.Sinks {
		s.router.AddSink(sink)
	}

	return s, nil
}

// StartEngine loads persisted rules and tasks, starts the engine goroutine,
// the scheduler and the history recorder, and subscribes to the inbound
// topics. It may be called once.
func (s *Service) StartEngine(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	// The bridge is not running yet, so loading here cannot race with it.
	if err := s.engine.LoadRules(ctx); err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	if err := s.scheduler.LoadTasks(ctx); err != nil {
		return fmt.Errorf("loading scheduled tasks: %w", err)
	}

	rules := s.engine.Count()

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.started = true

	s.recorder.Start(runCtx)

	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		s.bridge.Run(runCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(runCtx, s.bridge)
	}()
	go func() {
		defer s.wg.Done()
		s.gaugeLoop(runCtx)
	}()

	if s.broker != nil {
		if err := s.broker.SubscribeAll(mqtt.Topics{}.Inbound(), s.qos, s.router.HandleMessage); err != nil {
			s.logger.Warn("subscribing to inbound topics failed; will retry on reconnect", "error", err)
		}
	}

	s.logger.Info("engine started", "rules", rules)
	return nil
}

// StopEngine unsubscribes from the inbound topics, stops the scheduler,
// drains the engine queue, flushes history and waits for the background
// goroutines. It is safe to call more than once.
func (s *Service) StopEngine() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	// Inbound traffic stops before the queue closes.
	if s.broker != nil {
		if err := s.broker.UnsubscribeAll(mqtt.Topics{}.Inbound()); err != nil {
			s.logger.Warn("unsubscribing from inbound topics failed", "error", err)
		}
	}

	s.scheduler.Stop()
	s.bridge.Close()
	s.bridge.Wait()
	s.cancel()
	s.wg.Wait()
	s.recorder.Close()

	s.logger.Info("engine stopped")
}

// Running reports whether the engine is between StartEngine and StopEngine.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}

// HandleMessage applies one inbound MQTT message. It is the handler
// registered with the broker and is exported for alternative transports.
func (s *Service) HandleMessage(topic string, payload []byte) error {
	return s.router.Route(topic, payload)
}

func (s *Service) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	metrics.SetDevicesOnline(len(s.store.GetOnline(0)))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SetDevicesOnline(len(s.store.GetOnline(0)))
		}
	}
}

// call runs fn on the engine goroutine.
func (s *Service) call(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return ErrNotStarted
	}
	return s.bridge.Call(ctx, name, fn)
}

// flushHistory makes recently received rows visible to history queries.
func (s *Service) flushHistory(ctx context.Context) {
	if !s.Running() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()
	if err := s.recorder.Flush(ctx); err != nil && !errors.Is(err, history.ErrRecorderClosed) {
		s.logger.Debug("history flush before query failed", "error", err)
	}
}

func (s *Service) since(hours int) time.Time {
	if hours <= 0 {
		hours = defaultHistoryHours
	}
	return s.now().UTC().Add(-time.Duration(hours) * time.Hour)
}
