// Package server wires the HTTP API together: stores, services, background
// workers, middleware, and routes.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
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

	"github.com/rupeeflow/walletengine/internal/admin"
	"github.com/rupeeflow/walletengine/internal/config"
	"github.com/rupeeflow/walletengine/internal/gateway"
	"github.com/rupeeflow/walletengine/internal/health"
	"github.com/rupeeflow/walletengine/internal/loan"
	"github.com/rupeeflow/walletengine/internal/logging"
	"github.com/rupeeflow/walletengine/internal/metrics"
	"github.com/rupeeflow/walletengine/internal/ratelimit"
	"github.com/rupeeflow/walletengine/internal/settlement"
	"github.com/rupeeflow/walletengine/internal/validation"
	"github.com/rupeeflow/walletengine/internal/wallet"
)

// How often the loan timer sweeps for overdue loans. Due dates have day
// granularity, so an hourly sweep is more than enough.
const loanSweepInterval = time.Hour

// Server wraps the HTTP server and dependencies.
type Server struct {
	cfg          *config.Config
	wallets      *wallet.Service
	settlements  *settlement.Service
	loans        *loan.Service
	admins       *admin.Service
	reconciler   *settlement.Reconciler
	loanTimer    *loan.Timer
	rateLimiter  *ratelimit.Limiter
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory stores
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a new server instance.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		checks: health.NewRegistry(),
	}

	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		walletStore     wallet.Store
		settlementStore settlement.Store
		loanStore       loan.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		walletStore = wallet.NewPostgresStore(db)
		settlementStore = settlement.NewPostgresStore(db)
		loanStore = loan.NewPostgresStore(db)
		s.checks.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		walletStore = wallet.NewMemoryStore()
		settlementStore = settlement.NewMemoryStore()
		loanStore = loan.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.wallets = wallet.NewService(walletStore)

	// Settlement rails. Without GATEWAY_URL everything settles against the
	// in-process mock rail, which resolves synchronously.
	var fallback gateway.Gateway
	if cfg.GatewayURL != "" {
		fallback = gateway.NewHTTPGateway(cfg.GatewayURL, cfg.GatewayAPIKey)
		s.logger.Info("vendor gateway enabled", "url", cfg.GatewayURL)
	} else {
		fallback = gateway.NewMockGateway()
		s.logger.Info("using mock gateway (settlements resolve synchronously)")
	}
	router := gateway.NewRouter(fallback)
	if cfg.StripeAPIKey != "" {
		router.Route(settlement.KindTopup, gateway.NewStripeGateway(cfg.StripeAPIKey, cfg.Currency))
		s.logger.Info("stripe top-ups enabled", "currency", cfg.Currency)
	}

	s.settlements = settlement.NewService(settlementStore, s.wallets, router)
	s.reconciler = settlement.NewReconciler(s.settlements, settlementStore, s.wallets, router,
		cfg.ReconcileInterval, cfg.CallbackWindow, s.logger)

	s.loans = loan.NewService(loanStore, s.wallets, s.settlements, loan.Config{
		MinAmount:    cfg.LoanMinAmount,
		MaxAmount:    cfg.LoanMaxAmount,
		TermDays:     cfg.LoanTermDays,
		BounceCharge: cfg.LoanBounceCharge,
		LenderName:   cfg.LenderName,
	})
	s.loanTimer = loan.NewTimer(s.loans, loanSweepInterval, s.logger)

	s.admins = admin.NewService(s.wallets, s.settlements)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides the password in a connection string for logging.
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
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitPerMin > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitPerMin
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Keep an existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminSecretMiddleware guards operator endpoints with the shared secret.
// In development without a configured secret the endpoints stay open, which
// mirrors how the in-memory demo mode is meant to be used.
func (s *Server) adminSecretMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" {
			if s.cfg.IsProduction() {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error":   "admin_disabled",
					"message": "Admin endpoints are not configured",
				})
				return
			}
			c.Next()
			return
		}

		provided := c.GetHeader("X-Admin-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid admin secret",
			})
			return
		}

		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :ownerId URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.OwnerParamMiddleware())

	walletHandler := wallet.NewHandler(s.wallets)
	walletHandler.RegisterRoutes(v1)

	settlementHandler := settlement.NewHandler(s.settlements)
	settlementHandler.RegisterRoutes(v1)
	// Vendor callback endpoint. Authenticated by the external ref being
	// unguessable, same as the rails this models.
	settlementHandler.RegisterCallbackRoutes(v1)

	loanHandler := loan.NewHandler(s.loans)
	loanHandler.RegisterRoutes(v1)

	// Operator endpoints behind the admin secret
	adminGroup := v1.Group("/admin")
	adminGroup.Use(s.adminSecretMiddleware())
	admin.NewHandler(s.admins).RegisterRoutes(adminGroup)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "RupeeFlow Wallet Engine",
		"description": "Wallet ledger and transaction settlement API",
		"version":     "0.1.0",
		"currency":    s.cfg.Currency,
	})
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	ok, statuses := s.checks.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !ok {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"version":   "0.1.0",
		"checks":    statuses,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
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
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
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

	// Settlement reconciler (times out stuck PENDING transactions)
	go s.reconciler.Start(runCtx)

	// Loan overdue sweep
	go s.loanTimer.Start(runCtx)

	// DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Startup pass: settle anything that went stale while we were down
	go func() {
		s.reconciler.SweepOnce(runCtx)
		if marked := s.loans.MarkOverdueLoans(runCtx); marked > 0 {
			s.logger.Info("marked loans overdue at startup", "count", marked)
		}
	}()

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops the server and all background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.reconciler != nil {
		s.reconciler.Stop()
	}
	if s.loanTimer != nil {
		s.loanTimer.Stop()
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
