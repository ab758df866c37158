// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/txpulse/internal/config"
	"github.com/mbd888/txpulse/internal/dashboard"
	"github.com/mbd888/txpulse/internal/health"
	"github.com/mbd888/txpulse/internal/ingest"
	"github.com/mbd888/txpulse/internal/logging"
	"github.com/mbd888/txpulse/internal/metrics"
	"github.com/mbd888/txpulse/internal/ratelimit"
	"github.com/mbd888/txpulse/internal/realtime"
	"github.com/mbd888/txpulse/internal/risk"
	"github.com/mbd888/txpulse/internal/security"
	"github.com/mbd888/txpulse/internal/transactions"
	"github.com/mbd888/txpulse/internal/validation"
	"github.com/mbd888/txpulse/internal/webhooks"
)

const (
	defaultShutdownGrace   = 5 * time.Second
	shutdownTimeout        = 30 * time.Second
	runtimeCollectInterval = 15 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	store       *transactions.Store
	hub         *realtime.Hub
	service     *dashboard.Service
	notifier    *webhooks.Notifier // nil when no webhook is configured
	sources     []ingest.Source
	pumps       []*ingest.Pump
	health      *health.Registry
	rateLimiter *ratelimit.Limiter

	router   *gin.Engine
	httpSrv  *http.Server
	addrMu   sync.Mutex
	addr     net.Addr
	serveErr chan error

	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run
	bg            sync.WaitGroup
	shutdownGrace time.Duration
	shutdownOnce  sync.Once
	shutdownErr   error
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithSource adds an ingestion source next to the configured ones.
func WithSource(src ingest.Source) Option {
	return func(s *Server) {
		s.sources = append(s.sources, src)
	}
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) {
		s.version = v
	}
}

// WithShutdownGrace sets how long Shutdown waits for load balancers to stop
// routing before closing listeners.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) {
		if d >= 0 {
			s.shutdownGrace = d
		}
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:           cfg,
		version:       "dev",
		shutdownGrace: defaultShutdownGrace,
		serveErr:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	s.store = transactions.NewStore(risk.NewScorer(), transactions.Options{
		Capacity: cfg.RetentionCapacity,
		MaxAge:   cfg.RetentionMaxAge,
	})
	s.hub = realtime.NewHub(s.logger,
		realtime.WithMaxSubscribers(cfg.MaxSubscribers),
		realtime.WithAllowedOrigins(cfg.AllowedOrigins),
	)

	svcOpts := []dashboard.Option{
		dashboard.WithRefreshInterval(cfg.RefreshInterval),
		dashboard.WithPushOnIngest(cfg.PushOnIngest),
	}
	if cfg.WebhookURL != "" {
		n, err := webhooks.NewNotifier(webhooks.Config{
			URL:    cfg.WebhookURL,
			Secret: cfg.WebhookSecret,
			// Local receivers are fine outside production.
			Endpoint: security.EndpointPolicy{AllowPrivate: !cfg.IsProduction()},
		}, s.logger.With("component", "webhooks"))
		if err != nil {
			return nil, fmt.Errorf("server: %w", err)
		}
		s.notifier = n
		svcOpts = append(svcOpts,
			dashboard.WithObserver(n.ObserveIngest),
			dashboard.WithFraudObserver(n.ObserveFraud),
		)
	}
	s.service = dashboard.NewService(s.store, s.hub, s.logger, svcOpts...)
	s.hub.SetRefreshFunc(s.service.RequestRefresh)

	if cfg.GeneratorEnabled {
		s.sources = append([]ingest.Source{ingest.NewGenerator(ingest.GeneratorConfig{
			Interval: cfg.GeneratorInterval,
			Seed:     cfg.GeneratorSeed,
		})}, s.sources...)
	}
	for _, src := range s.sources {
		s.pumps = append(s.pumps, ingest.NewPump(src, s.service, s.logger))
	}

	s.health = health.NewRegistry()
	s.registerHealthChecks()

	if gin.Mode() != gin.TestMode && cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.logger.Info("server configured",
		"retention_capacity", cfg.RetentionCapacity,
		"retention_max_age", cfg.RetentionMaxAge.String(),
		"refresh_interval", cfg.RefreshInterval.String(),
		"sources", len(s.pumps),
		"webhook", s.notifier != nil,
	)
	return s, nil
}

func (s *Server) registerHealthChecks() {
	s.health.Register("store", func(context.Context) health.Status {
		st := s.store.Stats()
		return health.Status{
			Healthy:  st.Retained <= st.Capacity,
			Detail:   fmt.Sprintf("%d/%d retained", st.Retained, st.Capacity),
			Critical: true,
		}
	})
	s.health.Register("realtime", func(context.Context) health.Status {
		st := s.hub.Stats()
		return health.Status{
			Healthy:  st.Subscribers <= st.MaxSubscribers,
			Detail:   fmt.Sprintf("%d subscribers", st.Subscribers),
			Critical: true,
		}
	})
	for _, p := range s.pumps {
		s.health.Register("ingest:"+p.Status().Source, func(context.Context) health.Status {
			st := health.Status{Healthy: true, Detail: string(p.Status().State)}
			if err := p.Err(); err != nil {
				st.Healthy = false
				st.Detail = err.Error()
			}
			return st
		})
	}
	if s.notifier != nil {
		s.health.Register("webhook", func(context.Context) health.Status {
			st := s.notifier.Stats()
			return health.Status{
				Healthy: st.Circuit != "open",
				Detail:  "circuit " + st.Circuit,
			}
		})
	}
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   "internal error",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	rl := ratelimit.DefaultConfig()
	rl.RequestsPerMinute = s.cfg.RateLimitRPM
	s.rateLimiter = ratelimit.New(rl)
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(logging.RequestIDMiddleware(s.logger))
	s.router.Use(logging.AccessLog("/health/live", "/health/ready", "/metrics"))
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.health.Handler(s.version))
	s.router.GET("/health/live", s.health.LiveHandler)
	s.router.GET("/health/ready", s.health.ReadyHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/", dashboardPageHandler)
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	debug := s.router.Group("/debug")
	debug.GET("/hub", s.hubStatsHandler)
	debug.GET("/ingest", s.ingestStatsHandler)

	api := s.router.Group("/api")
	dashboard.NewHandler(s.service).RegisterRoutes(api)
	if s.notifier != nil {
		webhooks.NewHandler(s.notifier).RegisterRoutes(api)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "not found",
		})
	})
}

func (s *Server) hubStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"hub":     s.hub.Stats(),
	})
}

func (s *Server) ingestStatsHandler(c *gin.Context) {
	sources := make([]ingest.Status, 0, len(s.pumps))
	for _, p := range s.pumps {
		sources = append(sources, p.Status())
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"sources": sources,
		"service": s.service.Stats(),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts background workers and the HTTP server, then blocks until ctx
// is done, a shutdown signal arrives, or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.goBackground(func() { s.hub.Run(runCtx) })
	s.goBackground(func() { s.service.Run(runCtx) })
	s.goBackground(func() { metrics.StartRuntimeCollector(runCtx, runtimeCollectInterval) })
	if s.notifier != nil {
		s.goBackground(func() { s.notifier.Run(runCtx) })
	}
	for _, p := range s.pumps {
		s.goBackground(func() { p.Run(runCtx) })
	}

	ln, err := net.Listen("tcp", ":"+s.cfg.Port)
	if err != nil {
		cancel()
		s.bg.Wait()
		s.rateLimiter.Stop()
		return fmt.Errorf("server: listen: %w", err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr()
	s.addrMu.Unlock()

	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		s.logger.Info("starting server", "addr", ln.Addr().String(), "env", s.cfg.Env)
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.serveErr <- err
		}
	}()

	s.health.SetReady(true)
	s.logger.Info("server ready")

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-s.serveErr:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

func (s *Server) goBackground(fn func()) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		fn()
	}()
}

// Shutdown gracefully stops the server. Safe to call more than once.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.health.SetReady(false)
	s.logger.Info("starting graceful shutdown")

	// Give load balancers time to stop sending traffic
	if s.shutdownGrace > 0 {
		time.Sleep(s.shutdownGrace)
	}

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	// Hub close drops websocket peers; pumps stop ingesting; the notifier
	// drains what is already queued.
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.bg.Wait()
	if s.notifier != nil {
		s.notifier.Wait()
		s.logger.Info("webhook notifier stopped")
	}

	s.rateLimiter.Stop()
	s.logger.Info("server stopped", "retained", s.store.Len())
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Addr returns the bound listener address once Run has started listening.
func (s *Server) Addr() net.Addr {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// Service exposes the dashboard service (tests, embedded sources).
func (s *Server) Service() *dashboard.Service {
	return s.service
}

// Health exposes the health registry.
func (s *Server) Health() *health.Registry {
	return s.health
}
