package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/analysis"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/analytics"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/api"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/budget"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/classify"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/config"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/llm"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/logging"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/middleware"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/router"
	"github.com/bigdegenenergy/open-cloud-ops/sage/internal/session"
	"github.com/bigdegenenergy/open-cloud-ops/sage/pkg/cache"
)

const purgeInterval = time.Hour

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "sage: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "sage: failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "sage: invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sage: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("sage exited with error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database holds sessions, user limits and the durable monthly ledger.
	db, err := database.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.RedactedDSN(), err)
	}
	defer db.Close()

	migrateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = db.Migrate(migrateCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("database connected and migrations applied")

	// Redis is optional unless it backs the monthly ledger.
	cacheCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	rdb, err := cache.NewCache(cacheCtx, cache.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	cancel()
	if err != nil {
		if cfg.LedgerBackend == config.LedgerBackendRedis {
			return fmt.Errorf("redis ledger backend unavailable: %w", err)
		}
		logger.Warn("redis unavailable, rate limiting disabled", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
	}

	var monthly budget.MonthlyStore = db
	if cfg.LedgerBackend == config.LedgerBackendRedis {
		monthly = rdb
	}
	ledger := budget.NewLedger(budget.Limits{
		PerRequestMax:       cfg.MaxCostPerRequest,
		PerUserDailyMax:     cfg.MaxDailyCostPerUser,
		TotalDailyMax:       cfg.MaxTotalDailyCost,
		DefaultMonthlyLimit: cfg.DefaultMonthlyLimit,
	}, monthly, db, cfg.BudgetFailOpen, logger)
	logger.Info("cost ledger ready",
		zap.String("backend", cfg.LedgerBackend),
		zap.Bool("limits_enabled", cfg.CostLimitsEnabled),
		zap.Bool("fail_open", cfg.BudgetFailOpen))

	if cfg.AnthropicKey == "" {
		logger.Warn("ANTHROPIC_API_KEY not set, analyses will fail")
	}
	model := llm.NewAnthropicClient(cfg.AnthropicKey, logger, llm.WithBaseURL(cfg.AnthropicBaseURL))

	sessions := session.NewService(db, logger)
	orch := analysis.New(analysis.Config{
		CostLimitsEnabled: cfg.CostLimitsEnabled,
		Pricing: budget.Pricing{
			InputPerMToken:  cfg.InputCostPerMTok,
			OutputPerMToken: cfg.OutputCostPerMTok,
		},
		OutputTokenBudget:   cfg.OutputTokenBudget,
		MaxContextExchanges: cfg.MaxContextExchanges,
		Synthesis:           classify.SynthesisPolicy{MinPriorExchanges: cfg.SynthesisMinExchanges},
	}, ledger, session.NewWindow(db, logger), db, model,
		router.NewRouter(cfg.AnalysisModel, cfg.SynthesisModel), logger)

	checks := map[string]api.Pinger{"database": db}
	var limiter middleware.RateLimiter
	if rdb != nil {
		checks["redis"] = rdb
		limiter = rdb
	}
	handlers := api.NewHandlers(api.Deps{
		Analyzer: orch,
		Sessions: sessions,
		Usage:    ledger,
		Limits:   db,
		Reports:  analytics.NewReporter(db),
		Checks:   checks,
		Logger:   logger,
	})

	if cfg.LogLevel != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RecoveryMiddleware(logger))
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", handlers.HealthCheck)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	apiGroup := r.Group("/api")
	{
		apiGroup.POST("/analyze",
			middleware.RateLimitMiddleware(limiter, cfg.RateLimitPerMinute, time.Minute, logger),
			handlers.Analyze)
		apiGroup.GET("/sessions", handlers.ListSessions)
		apiGroup.GET("/sessions/:sessionId", handlers.GetSession)
		apiGroup.DELETE("/sessions/:sessionId", handlers.DeleteSession)
	}

	// Management API. Fail-secure: without a key the routes answer 503.
	if cfg.AdminAPIKey == "" {
		logger.Warn("SAGE_ADMIN_API_KEY not set, management API is disabled")
	}
	v1 := r.Group("/api/v1", middleware.AdminAuthMiddleware(cfg.AdminAPIKey))
	{
		v1.GET("/usage/:userId", handlers.GetUsage)
		v1.PUT("/limits/:userId", handlers.SetLimit)
		v1.GET("/report", handlers.GetReport)
	}

	go purgeExpired(ctx, sessions, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("sage is ready", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server exited")
	return nil
}

// purgeExpired deletes exchanges past their expiry once per purgeInterval
// until ctx is cancelled.
func purgeExpired(ctx context.Context, sessions *session.Service, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, err := sessions.PurgeExpired(ctx, now)
			if err != nil {
				logger.Warn("purging expired exchanges failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("purged expired exchanges", zap.Int64("count", n))
			}
		}
	}
}
