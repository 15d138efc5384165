package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/iotgateway-core/internal/alerting"
	"github.com/nerrad567/iotgateway-core/internal/automation"
	"github.com/nerrad567/iotgateway-core/internal/broker"
	"github.com/nerrad567/iotgateway-core/internal/device"
	"github.com/nerrad567/iotgateway-core/internal/gateway"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/config"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/database"
	"github.com/nerrad567/iotgateway-core/internal/infrastructure/logging"
	"github.com/nerrad567/iotgateway-core/internal/settings"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// DeviceStore is the device persistence the API reads from.
type DeviceStore interface {
	device.Repository
	ListSensorReadings(ctx context.Context, deviceID, location string, limit int) ([]device.SensorReading, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Logger   *logging.Logger
	DB       *database.DB
	Session  *gateway.Session
	Servers  broker.Repository
	Settings *settings.Store
	Devices  DeviceStore
	Tracker  *device.Tracker
	Gate     *device.Gate
	Tasks    *automation.TaskEngine
	Triggers *automation.TriggerEngine
	Alerts   *alerting.Engine
	Hub      *Hub // If set, the server uses this hub instead of creating its own
	Version  string
}

// Server is the HTTP API server of the gateway.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg         config.APIConfig
	wsCfg       config.WebSocketConfig
	logger      *logging.Logger
	db          *database.DB
	session     *gateway.Session
	servers     broker.Repository
	settings    *settings.Store
	devices     DeviceStore
	tracker     *device.Tracker
	gate        *device.Gate
	tasks       *automation.TaskEngine
	triggers    *automation.TriggerEngine
	alerts      *alerting.Engine
	version     string
	startTime   time.Time
	server      *http.Server
	hub         *Hub
	externalHub bool               // true if hub was injected externally
	cancel      context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Session == nil {
		return nil, fmt.Errorf("gateway session is required")
	}
	if deps.Servers == nil || deps.Settings == nil {
		return nil, fmt.Errorf("server and settings stores are required")
	}
	if deps.Tracker == nil || deps.Gate == nil || deps.Devices == nil {
		return nil, fmt.Errorf("device components are required")
	}
	if deps.Tasks == nil || deps.Triggers == nil || deps.Alerts == nil {
		return nil, fmt.Errorf("automation and alert engines are required")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		db:        deps.DB,
		session:   deps.Session,
		servers:   deps.Servers,
		settings:  deps.Settings,
		devices:   deps.Devices,
		tracker:   deps.Tracker,
		gate:      deps.Gate,
		tasks:     deps.Tasks,
		triggers:  deps.Triggers,
		alerts:    deps.Alerts,
		version:   deps.Version,
		startTime: time.Now(),
	}

	// The session and engines broadcast through the hub, so it is usually
	// created first and injected.
	if deps.Hub != nil {
		s.hub = deps.Hub
		s.externalHub = true
	}

	return s, nil
}

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	return s.buildRouter()
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless injected) and launches the HTTP
// listener in a background goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Parent context of the hub loop
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
	}
	if !s.externalHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
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

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
