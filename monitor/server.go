package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/observability"
	"github.com/kbukum/stagekit/sse"
)

// HealthChecker returns the health of the process's components.
type HealthChecker func(ctx context.Context) []observability.Health

// Server serves the monitor API over HTTP/1.1 and cleartext HTTP/2.
type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	runs       *Runs
	hub        *sse.Hub
	checker    HealthChecker
	service    string
	config     Config
	log        *logger.Logger

	mu       sync.Mutex
	listener net.Listener
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHealthChecker adds component health to /healthz.
func WithHealthChecker(fn HealthChecker) ServerOption {
	return func(s *Server) { s.checker = fn }
}

// WithServiceName sets the service name reported by /healthz.
func WithServiceName(name string) ServerOption {
	return func(s *Server) { s.service = name }
}

// WithLogger sets the server's logger.
func WithLogger(l *logger.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

// New creates a Server exposing runs. Event streams are served from hub,
// which the caller runs (see sse.Component).
func New(cfg Config, runs *Runs, hub *sse.Hub, opts ...ServerOption) *Server {
	if zerolog.GlobalLevel() <= zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.New(),
		runs:    runs,
		hub:     hub,
		service: "stagekit",
		config:  cfg,
		log:     logger.Get("monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.engine.Use(recovery(s.log), requestID(), requestLogger(s.log))
	s.routes()

	h2s := &http2.Server{
		MaxConcurrentStreams: 250,
		IdleTimeout:          120 * time.Second,
	}
	s.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h2c.NewHandler(s.engine, h2s),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.IdleTimeout) * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.healthz)
	s.engine.GET("/version", s.version)
	s.engine.GET("/runs", s.listRuns)
	s.engine.GET("/runs/:id", s.getRun)
	s.engine.GET("/runs/:id/events", s.runEvents)
	s.engine.POST("/runs/:id/cancel", s.cancelRun)
}

// Handler returns the server's root handler, h2c included.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Engine returns the gin engine for extra routes.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start binds the port and serves in a goroutine. It returns once the
// listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("monitor failed to bind %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("monitor server error", logger.ErrorFields("serve", err))
		}
	}()

	s.log.Info("monitor server started", logger.Fields("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts the server down within a 5-second deadline.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	s.log.Info("monitor server stopped")
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
