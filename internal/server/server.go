// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/nats-io/nats.go"

	"github.com/mbd888/licensehub/internal/auth"
	"github.com/mbd888/licensehub/internal/circuitbreaker"
	"github.com/mbd888/licensehub/internal/config"
	"github.com/mbd888/licensehub/internal/events"
	"github.com/mbd888/licensehub/internal/health"
	"github.com/mbd888/licensehub/internal/licensing"
	"github.com/mbd888/licensehub/internal/logging"
	"github.com/mbd888/licensehub/internal/metrics"
	"github.com/mbd888/licensehub/internal/ratelimit"
	"github.com/mbd888/licensehub/internal/realtime"
	"github.com/mbd888/licensehub/internal/security"
	"github.com/mbd888/licensehub/internal/traces"
	"github.com/mbd888/licensehub/internal/validation"
	"github.com/mbd888/licensehub/migrations"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const (
	defaultDrainDelay = 5 * time.Second
	dbStatsInterval   = 15 * time.Second
	healthTimeout     = 3 * time.Second

	natsBreakerThreshold = 5
	natsBreakerCooldown  = 30 * time.Second
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	store       licensing.Store
	service     *licensing.Service
	authMgr     *auth.Manager
	realtimeHub *realtime.Hub
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	nc          *nats.Conn      // nil when NATS_URL is unset
	db          *sql.DB         // nil if using in-memory
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger
	drainDelay  time.Duration
	emitters    events.Multi
	stopTracing func(context.Context) error

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing listeners.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// WithEventEmitter adds an extra sink for license events.
func WithEventEmitter(e licensing.EventEmitter) Option {
	return func(s *Server) {
		s.emitters = append(s.emitters, e)
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: defaultDrainDelay,
		health:     health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	stopTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stopTracing

	// Storage: Postgres if DATABASE_URL set, otherwise in-memory
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if cfg.AutoMigrate {
			if err := migrations.Up(ctx, db); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("failed to apply migrations: %w", err)
			}
			s.logger.Info("database migrations applied")
		}

		s.db = db
		s.store = licensing.NewPostgresStore(db)
		s.authMgr = auth.NewManager(auth.NewPostgresStore(db))
		s.health.Register("database", health.PingChecker("database", db, healthTimeout))
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = licensing.NewMemoryStore()
		s.authMgr = auth.NewManager(auth.NewMemoryStore())
		s.logger.Warn("using in-memory storage; data is lost on restart")
	}

	// License events: websocket subscribers always, NATS when configured
	s.realtimeHub = realtime.NewHub(s.logger, cfg.AllowedOrigins...)
	s.emitters = append(events.Multi{events.HubEmitter{Hub: s.realtimeHub}}, s.emitters...)
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, s.logger)
		if err != nil {
			s.closeDB()
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		s.nc = nc
		breaker := circuitbreaker.New(natsBreakerThreshold, natsBreakerCooldown,
			circuitbreaker.OnTransition(func(sink string, from, to circuitbreaker.State) {
				s.logger.Warn("event sink circuit changed", "sink", sink, "from", from.String(), "to", to.String())
			}))
		s.emitters = append(s.emitters, events.NewNATSEmitter(nc, cfg.NATSSubject, events.WithBreaker(breaker)))
		s.health.Register("nats", health.ConnChecker("nats", nc.IsConnected))
		s.logger.Info("publishing license events to nats", "subject_prefix", cfg.NATSSubject)
	}

	s.service = licensing.NewService(s.store, licensing.WithEventEmitter(s.emitters))

	if cfg.AdminSecret == "" {
		s.logger.Warn("ADMIN_SECRET not set; admin API disabled")
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Request ID first so recovery logs carry it
	s.router.Use(logging.RequestIDMiddleware(s.logger))

	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware(s.cfg.IsProduction()))
	s.router.Use(security.CORSMiddleware(s.cfg.AllowedOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	s.router.Use(metrics.Middleware())
	s.router.Use(logging.AccessLogMiddleware())
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	licenses := licensing.NewHandler(s.service, s.authMgr)
	v1 := s.router.Group("/v1")

	// Product-facing endpoints: unauthenticated, limited per client IP
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPM,
		BurstSize:         s.cfg.RateLimitBurst,
		CleanupInterval:   time.Minute,
		IdleTTL:           2 * time.Minute,
	})
	licenses.RegisterPublicRoutes(v1.Group("", s.rateLimiter.Middleware()))

	admin := v1.Group("/admin", auth.RequireAdmin(s.cfg.AdminSecret))
	licenses.RegisterAdminRoutes(admin)

	brand := v1.Group("/brands/:brand",
		validation.CodeParamMiddleware("brand"),
		auth.Middleware(s.authMgr),
		auth.RequireBrand("brand"),
	)
	licenses.RegisterBrandRoutes(brand)
	auth.NewHandler(s.authMgr).RegisterRoutes(brand)
	brand.GET("/events", s.eventsHandler)
	brand.GET("/events/stats", s.eventStatsHandler)

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "route not found"})
	})
}

// eventsHandler upgrades to a websocket streaming the brand's license events.
func (s *Server) eventsHandler(c *gin.Context) {
	s.realtimeHub.HandleWebSocket(c.Writer, c.Request, auth.GetAuthenticatedBrand(c))
}

func (s *Server) eventStatsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.realtimeHub.Stats())
}

// -----------------------------------------------------------------------------
// Health
// -----------------------------------------------------------------------------

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Storage   string          `json:"storage"`
	Checks    []health.Status `json:"checks"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ok, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	storage := "memory"
	if s.db != nil {
		storage = "postgres"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Storage:   storage,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	if ok, checks := s.health.CheckAll(c.Request.Context()); !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, dbStatsInterval)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
		s.release()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.release()

	if err := s.stopTracing(ctx); err != nil {
		s.logger.Error("tracer shutdown error", "error", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// release stops background workers and closes outbound connections.
func (s *Server) release() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.nc != nil {
		if err := s.nc.Drain(); err != nil {
			s.logger.Error("nats drain error", "error", err)
		} else {
			s.logger.Info("nats connection drained")
		}
	}

	s.closeDB()
}

func (s *Server) closeDB() {
	if s.db == nil {
		return
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("database close error", "error", err)
	} else {
		s.logger.Info("database connection closed")
	}
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Service returns the licensing service.
func (s *Server) Service() *licensing.Service {
	return s.service
}
