package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/mqtt-bridge/internal/bridge"
	"github.com/nerrad567/mqtt-bridge/internal/connection"
	"github.com/nerrad567/mqtt-bridge/internal/engine"
	"github.com/nerrad567/mqtt-bridge/internal/infrastructure/config"
	"github.com/nerrad567/mqtt-bridge/internal/journal"
)

const (
	// gracefulShutdownTimeout bounds Close.
	gracefulShutdownTimeout = 10 * time.Second

	// defaultHealthPush is how often health is pushed to WebSocket clients.
	defaultHealthPush = 10 * time.Second
)

// ErrNoEngine is returned by New without a status source.
var ErrNoEngine = errors.New("api: engine is required")

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// StatusSource is the running engine as seen by the API.
// *engine.Engine implements it.
type StatusSource interface {
	Health() engine.Health
	Bridges() []bridge.Bridge
	Failures() []engine.Failure
	Connection() connection.Status
	ClientID() string
}

// ConnectionObserver delivers connection transitions for the WebSocket
// stream. *connection.Manager implements it.
type ConnectionObserver interface {
	Observe(fn connection.Observer) (cancel func())
}

// Deps holds the server's collaborators.
type Deps struct {
	Config   config.APIConfig
	Broker   string // broker URL shown by /connection
	Logger   Logger
	Engine   StatusSource
	Journal  journal.Repository // optional; /events answers 503 without it
	Observer ConnectionObserver // optional; /ws carries only health without it

	// HealthPush is the WebSocket health broadcast period.
	HealthPush time.Duration

	Version string
}

// Server is the status HTTP server.
type Server struct {
	cfg        config.APIConfig
	broker     string
	logger     Logger
	engine     StatusSource
	journal    journal.Repository
	observer   ConnectionObserver
	healthPush time.Duration
	version    string

	hub *Hub

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a server. It does not listen until Start.
func New(deps Deps) (*Server, error) {
	if deps.Engine == nil {
		return nil, ErrNoEngine
	}
	push := deps.HealthPush
	if push <= 0 {
		push = defaultHealthPush
	}
	s := &Server{
		cfg:        deps.Config,
		broker:     deps.Broker,
		logger:     deps.Logger,
		engine:     deps.Engine,
		journal:    deps.Journal,
		observer:   deps.Observer,
		healthPush: push,
		version:    deps.Version,
	}
	s.hub = NewHub(deps.Config.WebSocket, deps.Logger)
	return s, nil
}

// Handler returns the router. Start uses it; tests call it directly.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start listens on the configured address and serves in the background.
// It also starts pushing connection and health events to WebSocket clients.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("api listen on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.Timeouts.GetReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.GetReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.GetWriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.GetIdleTimeout(),
	}

	s.mu.Lock()
	s.server, s.listener, s.cancel = srv, ln, cancel
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(srvCtx)
	}()
	go func() {
		defer s.wg.Done()
		s.pushEvents(srvCtx)
	}()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logError("API server error", "error", err)
		}
	}()

	s.logInfo("API server listening", "address", ln.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops the event pushers and shuts the server down, waiting up to
// ten seconds for in-flight requests. Safe to call before Start.
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	cancel()
	s.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer done()
	s.logInfo("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck reports whether the server is listening.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.Addr() == "" {
		return fmt.Errorf("api server not started")
	}
	return nil
}

// pushEvents forwards connection transitions and periodic health to the hub.
func (s *Server) pushEvents(ctx context.Context) {
	if s.observer != nil {
		cancel := s.observer.Observe(func(state connection.State, err error) {
			ev := connectionEvent{State: state.String()}
			if err != nil {
				ev.Error = err.Error()
			}
			s.hub.Broadcast(ChannelConnection, ev)
		})
		defer cancel()
	}

	ticker := time.NewTicker(s.healthPush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hub.ClientCount() > 0 {
				s.hub.Broadcast(ChannelHealth, s.engine.Health())
			}
		}
	}
}

func (s *Server) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Server) logError(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Error(msg, args...)
	}
}
