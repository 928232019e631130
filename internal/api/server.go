package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/iotrelay/internal/alert"
	"github.com/nerrad567/iotrelay/internal/automation"
	"github.com/nerrad567/iotrelay/internal/history"
	"github.com/nerrad567/iotrelay/internal/infrastructure/config"
	"github.com/nerrad567/iotrelay/internal/infrastructure/logging"
	"github.com/nerrad567/iotrelay/internal/presence"
	"github.com/nerrad567/iotrelay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Relay is the facade the API serves. *relay.Service implements it.
type Relay interface {
	Health() relay.Health
	PresenceTTL() time.Duration

	GetDevice(deviceID string) (presence.DeviceState, bool)
	GetAllDevices() map[string]presence.DeviceState
	GetOnlineDevices(ttl time.Duration) map[string]presence.DeviceState
	PublishCommand(ctx context.Context, deviceID string, cmd any) error

	GetRecentAlerts(limit int) []alert.Alert
	AlertHistory(ctx context.Context, hours, limit int) ([]history.StoredAlert, error)
	AcknowledgeAlert(ctx context.Context, id string) error

	CreateThresholdRule(ctx context.Context, deviceID, sensorType string, threshold float64, op automation.Operator, level alert.Level) (string, error)
	CreateDeviceControlRule(ctx context.Context, triggerDevice string, fields map[string]automation.FieldPredicate, targetDevice string, cmd any) (string, error)
	AddRule(ctx context.Context, rule automation.Rule) (automation.Rule, error)
	GetRule(ctx context.Context, id string) (automation.Rule, error)
	ListRules(ctx context.Context) ([]automation.Rule, error)
	SetRuleEnabled(ctx context.Context, id string, enabled bool) error
	DeleteRule(ctx context.Context, id string) error

	AddScheduledTask(ctx context.Context, task automation.ScheduledTask) (automation.ScheduledTask, error)
	GetTask(ctx context.Context, id string) (automation.ScheduledTask, error)
	ListTasks(ctx context.Context) ([]automation.ScheduledTask, error)
	SetTaskEnabled(ctx context.Context, id string, enabled bool) error
	DeleteTask(ctx context.Context, id string) error

	SensorHistory(ctx context.Context, deviceID, sensorType string, hours int) ([]history.SensorPoint, error)
	DeviceUptime(ctx context.Context, deviceID string, hours int) (float64, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig
	Logger   *logging.Logger
	Relay    Relay
	Hub      *Hub // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the HTTP API server for the relay.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	secCfg      config.SecurityConfig
	logger      *logging.Logger
	relay       Relay
	version     string
	server      *http.Server
	hub         *Hub
	externalHub bool
	tickets     *ticketStore
	cancel      context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if deps.Relay == nil {
		return nil, errors.New("relay is required")
	}
	if deps.Security.JWT.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}

	s := &Server{
		cfg:     deps.Config,
		wsCfg:   deps.WS,
		secCfg:  deps.Security,
		logger:  deps.Logger,
		relay:   deps.Relay,
		version: deps.Version,
		tickets: newTicketStore(),
	}

	// The hub is shared with the relay's notifiers, so main usually
	// creates it.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	} else {
		s.hub = NewHub(deps.WS, deps.Logger)
	}

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
