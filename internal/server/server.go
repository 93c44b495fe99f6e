package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/govgate/internal/config"
	"github.com/vyrodovalexey/govgate/internal/health"
	"github.com/vyrodovalexey/govgate/internal/middleware"
	"github.com/vyrodovalexey/govgate/internal/observability"
)

// AdminPathPrefix is where the admin API is mounted.
const AdminPathPrefix = "/_govgate/"

// State represents the server state.
type State int32

const (
	// StateStopped indicates the server is stopped.
	StateStopped State = iota
	// StateStarting indicates the server is starting.
	StateStarting
	// StateRunning indicates the server is running.
	StateRunning
	// StateStopping indicates the server is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Server is the govgate HTTP server.
type Server struct {
	config  config.ServerConfig
	logger  observability.Logger
	engine  *gin.Engine
	handler http.Handler

	routeHandler  http.Handler
	adminHandler  http.Handler
	health        *health.Handler
	metrics       *observability.Metrics
	metricsPath   string
	tracer        *observability.Tracer
	ipExtractor   *middleware.ClientIPExtractor
	httpServer    *http.Server
	listenAddress net.Addr

	state     atomic.Int32
	startTime time.Time
	mu        sync.RWMutex
	done      chan struct{}
}

// Option is a functional option for configuring the server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithRouteHandler sets the handler serving every path without a
// dedicated route, normally the pipeline router.
func WithRouteHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.routeHandler = handler
	}
}

// WithAdminHandler mounts handler under AdminPathPrefix.
func WithAdminHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.adminHandler = handler
	}
}

// WithHealth registers the probe endpoints of h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) {
		s.health = h
	}
}

// WithMetrics records request metrics and serves them at path.
func WithMetrics(m *observability.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithTracer starts a server span per request.
func WithTracer(t *observability.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithClientIPExtractor sets how the client IP is resolved.
func WithClientIPExtractor(e *middleware.ClientIPExtractor) Option {
	return func(s *Server) {
		s.ipExtractor = e
	}
}

// New creates a server. Routes and the outer layers are set up here so the
// handler can be exercised without a listener.
func New(cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.state.Store(int32(StateStopped))
	s.engine = gin.New()
	s.engine.RedirectTrailingSlash = false
	s.setupRoutes()
	s.handler = s.wrap(s.engine)

	return s
}

func (s *Server) setupRoutes() {
	if s.health != nil {
		s.health.RegisterRoutes(s.engine)
	}

	if s.metrics != nil && s.metricsPath != "" {
		s.engine.GET(s.metricsPath, gin.WrapH(s.metrics.Handler()))
	}

	if s.adminHandler != nil {
		s.engine.Any(AdminPathPrefix+"*path", gin.WrapH(s.adminHandler))
	}

	if s.routeHandler != nil {
		s.engine.NoRoute(fallthroughHandler(s.routeHandler))
	}
}

// fallthroughHandler hands unmatched requests to h. gin presets 404 on the
// NoRoute path, so the status is reset for handlers that write a body
// without calling WriteHeader.
func fallthroughHandler(h http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Status(http.StatusOK)
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// wrap applies the outer layers. The execution order (outermost first):
// Recovery -> RequestID -> ClientIP -> Logging -> Tracing -> Metrics.
func (s *Server) wrap(h http.Handler) http.Handler {
	if s.metrics != nil {
		h = observability.MetricsMiddleware(s.metrics)(h)
	}
	if s.tracer != nil {
		h = observability.TracingMiddleware(s.tracer)(h)
	}
	h = middleware.Logging(s.logger)(h)
	h = middleware.ClientIP(s.ipExtractor)(h)
	h = middleware.RequestID()(h)
	h = middleware.Recovery(s.logger)(h)
	return h
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Engine returns the gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Start binds the listener and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("server is not in stopped state")
	}

	s.httpServer = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout.Duration(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout.Duration(),
		WriteTimeout:      s.config.WriteTimeout.Duration(),
		IdleTimeout:       s.config.IdleTimeout.Duration(),
		MaxHeaderBytes:    1 << 20,
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		s.state.Store(int32(StateStopped))
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}

	s.mu.Lock()
	s.listenAddress = ln.Addr()
	s.startTime = time.Now()
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.state.Store(int32(StateRunning))

	s.logger.Info("server started",
		observability.String("address", ln.Addr().String()),
		observability.Bool("tls", s.tlsEnabled()),
	)

	go s.serve(ln)

	return nil
}

func (s *Server) tlsEnabled() bool {
	return s.config.TLSCertFile != "" && s.config.TLSKeyFile != ""
}

func (s *Server) serve(ln net.Listener) {
	defer close(s.done)

	var err error
	if s.tlsEnabled() {
		err = s.httpServer.ServeTLS(ln, s.config.TLSCertFile, s.config.TLSKeyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server error", observability.Error(err))
		s.state.Store(int32(StateStopped))
	}
}

// Stop shuts the server down gracefully. Without a deadline on ctx the
// configured shutdown timeout applies.
func (s *Server) Stop(ctx context.Context) error {
	if !s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("server is not running")
	}
	defer s.state.Store(int32(StateStopped))

	if _, ok := ctx.Deadline(); !ok {
		timeout := s.config.ShutdownTimeout.Duration()
		if timeout <= 0 {
			timeout = config.DefaultShutdownTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	s.logger.Info("stopping server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if closeErr := s.httpServer.Close(); closeErr != nil {
			return fmt.Errorf("failed to close server: %w", closeErr)
		}
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}
	<-s.done

	s.logger.Info("server stopped")
	return nil
}

// State returns the current server state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.State() == StateRunning
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listenAddress
}

// Uptime returns the time since Start.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return time.Since(s.startTime)
}
