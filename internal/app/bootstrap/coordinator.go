package bootstrap

import (
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/wolfman30/smart-care-platform/internal/appointments"
	"github.com/wolfman30/smart-care-platform/internal/archive"
	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/directory"
	"github.com/wolfman30/smart-care-platform/internal/events"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// BuildEvents dials RabbitMQ when AMQP_URL is set. A dial failure is logged and events
// fall back to the log publisher; the returned close func is never nil.
func BuildEvents(cfg *appconfig.Config, logger *logging.Logger) (events.Publisher, func() error) {
	if logger == nil {
		logger = logging.Default()
	}
	noop := func() error { return nil }
	if cfg == nil || strings.TrimSpace(cfg.AMQPURL) == "" {
		return events.NewLogPublisher(logger.Component("events")), noop
	}
	pub, closeFn, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger.Component("events"))
	if err != nil {
		logger.Warn("amqp unavailable; logging lifecycle events instead", "error", err)
		return events.NewLogPublisher(logger.Component("events")), noop
	}
	logger.Info("publishing lifecycle events", "exchange", cfg.AMQPExchange)
	return pub, closeFn
}

// BuildArchive returns the S3 summary archive. Without SUMMARY_ARCHIVE_BUCKET it is a
// disabled store whose writes are no-ops.
func BuildArchive(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) *archive.Store {
	if cfg == nil || strings.TrimSpace(cfg.SummaryArchiveBucket) == "" {
		return archive.NewStore(nil, "", logger)
	}
	return archive.NewStore(s3.NewFromConfig(awsCfg), cfg.SummaryArchiveBucket, logger)
}

// CoordinatorDeps are the collaborators BuildCoordinator wires together.
type CoordinatorDeps struct {
	Store      store.Store
	Directory  directory.Directory
	Dispatcher notify.Dispatcher
	Activity   appointments.ActivityRecorder
	Events     events.Publisher
	Archive    appointments.SummaryArchiver
	Metrics    *metrics.AppointmentMetrics
}

// BuildCoordinator applies the clock, zone, timeouts and links from config.
func BuildCoordinator(cfg *appconfig.Config, deps CoordinatorDeps, logger *logging.Logger) *appointments.Coordinator {
	opts := []appointments.Option{
		appointments.WithLocation(cfg.Location()),
		appointments.WithDispatchTimeout(cfg.NotifyTimeout),
		appointments.WithBaseURL(cfg.PublicBaseURL),
		appointments.WithMetrics(deps.Metrics),
	}
	if deps.Events != nil {
		opts = append(opts, appointments.WithEvents(deps.Events))
	}
	if deps.Archive != nil {
		opts = append(opts, appointments.WithArchive(deps.Archive))
	}
	return appointments.NewCoordinator(deps.Store, deps.Directory, deps.Dispatcher, deps.Activity, logger, opts...)
}
