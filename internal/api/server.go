// Package api provides the HTTP API and Prometheus endpoint of the XpressNet
// bridge.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/xnet-bridge/internal/infrastructure/config"
	"github.com/nerrad567/xnet-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/xnet-bridge/internal/turnout"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// TurnoutService is the part of turnout.Manager the handlers use.
type TurnoutService interface {
	Get(address int) (*turnout.Turnout, error)
	List() []*turnout.Turnout
}

// HistoryReader returns recorded property changes, newest first.
type HistoryReader interface {
	GetHistory(ctx context.Context, address int, limit int) ([]turnout.HistoryEntry, error)
}

// HealthChecker is implemented by the database and MQTT clients.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// BusStatus reports whether the command station link is up.
type BusStatus interface {
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Turnouts TurnoutService
	History  HistoryReader // optional: history endpoint returns 503 without it
	Metrics  *Metrics      // optional: /metrics returns 404 without it
	Database HealthChecker // optional
	MQTT     HealthChecker // optional
	Bus      BusStatus     // optional
	Version  string
}

// Server is the HTTP API server.
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	turnouts  TurnoutService
	history   HistoryReader
	metrics   *Metrics
	db        HealthChecker
	mqtt      HealthChecker
	bus       BusStatus
	version   string
	startTime time.Time
	server    *http.Server
	listener  net.Listener
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
	if deps.Turnouts == nil {
		return nil, fmt.Errorf("turnout service is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		turnouts:  deps.Turnouts,
		history:   deps.History,
		metrics:   deps.Metrics,
		db:        deps.Database,
		mqtt:      deps.MQTT,
		bus:       deps.Bus,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start binds the listener and serves in a background goroutine. Binding
// happens before Start returns so a port conflict is reported to the caller.
//
// Returns:
//   - error: If the listener cannot be opened
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}
	s.listener = ln

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
