package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joho/godotenv"

	"github.com/wolfman30/smart-care-platform/cmd/mainconfig"
	"github.com/wolfman30/smart-care-platform/internal/app/bootstrap"
	"github.com/wolfman30/smart-care-platform/internal/appointments"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// sweepResult is returned to the scheduler invocation.
type sweepResult struct {
	Completed int `json:"completed"`
}

// sweeper is the part of the coordinator the handler drives.
type sweeper interface {
	SweepPastDue(ctx context.Context) (int, error)
	Wait()
}

type handler struct {
	coord  sweeper
	logger *logging.Logger
}

func (h *handler) handle(ctx context.Context, evt events.CloudWatchEvent) (sweepResult, error) {
	n, err := h.coord.SweepPastDue(ctx)
	// Notifications and activity for completed appointments run in the background;
	// the invocation must not return before they finish.
	h.coord.Wait()
	if err != nil {
		h.logger.Error("sweep failed", "error", err, "event_id", evt.ID, "completed", n)
		return sweepResult{Completed: n}, err
	}
	h.logger.Info("sweep finished", "event_id", evt.ID, "completed", n)
	return sweepResult{Completed: n}, nil
}

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.NewWithFormat(cfg.LogLevel, cfg.LogFormat, os.Stdout).Component("sweep-lambda")

	coord, err := buildCoordinator(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	h := &handler{coord: coord, logger: logger}
	lambda.Start(h.handle)
}

// buildCoordinator wires the coordinator without the HTTP surface. Lifecycle events are
// not published from the sweep; completion is recorded through activity and notifications.
func buildCoordinator(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*appointments.Coordinator, error) {
	if cfg.StoreBackend == "" || cfg.StoreBackend == bootstrap.StoreMemory {
		return nil, fmt.Errorf("sweep requires a persistent STORE_BACKEND")
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	pool, err := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, err
	}
	st, err := bootstrap.BuildStore(cfg, pool, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	dir, err := bootstrap.BuildDirectory(cfg, st, nil, logger)
	if err != nil {
		return nil, err
	}
	activity, _, _, err := bootstrap.BuildActivity(cfg, logger)
	if err != nil {
		return nil, err
	}
	dispatch, err := bootstrap.BuildDispatch(cfg, awsCfg, st, nil, logger)
	if err != nil {
		return nil, err
	}
	if dispatch.Worker != nil {
		return nil, fmt.Errorf("sweep cannot run an in-process notification worker; unset USE_MEMORY_QUEUE")
	}
	return bootstrap.BuildCoordinator(cfg, bootstrap.CoordinatorDeps{
		Store:      st,
		Directory:  dir,
		Dispatcher: dispatch.Dispatcher,
		Activity:   activity,
		Archive:    bootstrap.BuildArchive(cfg, awsCfg, logger),
	}, logger), nil
}
