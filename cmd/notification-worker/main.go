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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/smart-care-platform/cmd/mainconfig"
	"github.com/wolfman30/smart-care-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout).Component("notification-worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("notification worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("notification worker stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	if cfg.UseMemoryQueue {
		return errors.New("USE_MEMORY_QUEUE is set; the API consumes the memory queue in process")
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("load AWS config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.NewAppointmentMetrics(reg)

	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}
	st, err := bootstrap.BuildStore(cfg, pool, awsCfg, logger)
	if err != nil {
		return err
	}

	queue, _, err := bootstrap.BuildNotificationQueue(cfg, awsCfg)
	if err != nil {
		return err
	}
	service := bootstrap.BuildNotificationService(cfg, awsCfg, st, m, logger)
	worker := notify.NewWorker(service, queue, logger,
		notify.WithWorkerCount(cfg.WorkerCount),
		notify.WithJobTimeout(cfg.NotifyTimeout),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           metricsMux(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener stopped", "error", err)
		}
	}()

	logger.Info("consuming notification jobs", "queue", cfg.NotificationQueueURL, "workers", cfg.WorkerCount)
	worker.Start(ctx)
	<-ctx.Done()
	worker.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func metricsMux(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
