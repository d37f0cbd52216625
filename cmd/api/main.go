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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/smart-care-platform/cmd/mainconfig"
	"github.com/wolfman30/smart-care-platform/internal/api/router"
	"github.com/wolfman30/smart-care-platform/internal/app/bootstrap"
	"github.com/wolfman30/smart-care-platform/internal/appointments"
	"github.com/wolfman30/smart-care-platform/internal/audit"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	logger.Info("starting smart-care API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"store", cfg.StoreBackend,
	)
	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set; /api routes are disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	a.shutdown(logger)

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// app is everything the server owns and must drain on shutdown.
type app struct {
	handler http.Handler
	coord   *appointments.Coordinator
	worker  *notify.Worker
	closers []func()
}

// shutdown waits for in-flight side effects before releasing connections.
func (a *app) shutdown(logger *logging.Logger) {
	a.coord.Wait()
	if a.worker != nil {
		waitForInlineWorker(a.worker, logger)
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		for i := len(a.closers) - 1; i >= 0; i-- {
			a.closers[i]()
		}
		return nil, err
	}

	metricsHandler, appMetrics := setupMetrics()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("load AWS config: %w", err))
	}

	pool := connectPostgresPool(ctx, cfg, logger)
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
	}

	st, err := bootstrap.BuildStore(cfg, pool, awsCfg, logger)
	if err != nil {
		return fail(err)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
	}
	dir, err := bootstrap.BuildDirectory(cfg, st, redisClient, logger)
	if err != nil {
		return fail(err)
	}

	activity, auditService, auditDB, err := bootstrap.BuildActivity(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if auditDB != nil {
		a.closers = append(a.closers, func() { _ = auditDB.Close() })
	}

	dispatch, err := bootstrap.BuildDispatch(cfg, awsCfg, st, appMetrics, logger)
	if err != nil {
		return fail(err)
	}
	if dispatch.Worker != nil {
		dispatch.Worker.Start(ctx)
		a.worker = dispatch.Worker
		logger.Info("notification worker running in process", "workers", cfg.WorkerCount)
	}

	eventPublisher, closeEvents := bootstrap.BuildEvents(cfg, logger)
	a.closers = append(a.closers, func() { _ = closeEvents() })

	a.coord = bootstrap.BuildCoordinator(cfg, bootstrap.CoordinatorDeps{
		Store:      st,
		Directory:  dir,
		Dispatcher: dispatch.Dispatcher,
		Activity:   activity,
		Events:     eventPublisher,
		Archive:    bootstrap.BuildArchive(cfg, awsCfg, logger),
		Metrics:    appMetrics,
	}, logger)

	routerCfg := &router.Config{
		Logger:             logger,
		Appointments:       appointments.NewHandler(a.coord, cfg.CORSAllowedOrigins, logger),
		MetricsHandler:     metricsHandler,
		AuthSecret:         cfg.AuthJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitRPS:       cfg.RateLimitRPS,
		RateLimitBurst:     cfg.RateLimitBurst,
		HealthChecks:       map[string]router.HealthCheck{},
	}
	if auditService != nil {
		routerCfg.Activity = audit.NewHandler(auditService, logger)
	}
	if pool != nil {
		routerCfg.HealthChecks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		routerCfg.HealthChecks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	a.handler = router.New(routerCfg)
	return a, nil
}

func setupMetrics() (http.Handler, *metrics.AppointmentMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewAppointmentMetrics(reg)
}

// connectPostgresPool logs and returns nil when the database is absent or unreachable.
// BuildStore then reports the error if the postgres backend needed it.
func connectPostgresPool(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *pgxpool.Pool {
	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("postgres unavailable", "error", err)
		return nil
	}
	return pool
}

func waitForInlineWorker(worker *notify.Worker, logger *logging.Logger) {
	done := make(chan struct{})
	go func() {
		worker.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("notification worker stopped")
	case <-time.After(10 * time.Second):
		logger.Warn("notification worker did not stop within 10s")
	}
}
