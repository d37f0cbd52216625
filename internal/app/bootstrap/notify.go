package bootstrap

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	appconfig "github.com/wolfman30/smart-care-platform/internal/config"
	"github.com/wolfman30/smart-care-platform/internal/notify"
	"github.com/wolfman30/smart-care-platform/internal/observability/metrics"
	"github.com/wolfman30/smart-care-platform/internal/store"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// BuildEmailSender picks the provider named by EMAIL_PROVIDER. A provider missing its
// credentials falls back to the stub so dispatch still reports an outcome.
func BuildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.EmailProvider {
	case "sendgrid":
		if sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger); sender != nil {
			return sender
		}
		logger.Warn("EMAIL_PROVIDER=sendgrid but SENDGRID_API_KEY is empty; using stub sender")
	case "ses":
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.EmailFromAddress,
			FromName:  cfg.EmailFromName,
		}, logger)
	}
	return notify.NewStubEmailSender(logger)
}

// BuildPushSender returns the SNS sender when PUSH_ENABLED is set.
func BuildPushSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.PushSender {
	if !cfg.PushEnabled {
		return notify.NewStubPushSender(logger)
	}
	return notify.NewSNSPushSender(sns.NewFromConfig(awsCfg), logger)
}

// BuildNotificationService is the synchronous sender used by workers and by the API when
// NOTIFY_ASYNC is off.
func BuildNotificationService(cfg *appconfig.Config, awsCfg aws.Config, st store.Store, m *metrics.AppointmentMetrics, logger *logging.Logger) *notify.Service {
	if logger == nil {
		logger = logging.Default()
	}
	return notify.NewService(
		BuildEmailSender(cfg, awsCfg, logger),
		BuildPushSender(cfg, awsCfg, logger),
		notify.NewStoreInAppWriter(st, logger),
		logger.Component("notify"),
		notify.WithMetrics(m),
	)
}

// BuildNotificationQueue returns the SQS queue, or the in-process queue when
// USE_MEMORY_QUEUE is set. The second result reports whether the queue is in memory, in
// which case the caller must run the worker itself.
func BuildNotificationQueue(cfg *appconfig.Config, awsCfg aws.Config) (notify.Queue, bool, error) {
	if cfg.UseMemoryQueue {
		return notify.NewMemoryQueue(256), true, nil
	}
	if strings.TrimSpace(cfg.NotificationQueueURL) == "" {
		return nil, false, fmt.Errorf("bootstrap: NOTIFICATION_QUEUE_URL is required unless USE_MEMORY_QUEUE is set")
	}
	return notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL), false, nil
}

// Dispatch is the dispatcher handed to the coordinator plus an optional in-process
// worker that must be started and drained by the caller.
type Dispatch struct {
	Dispatcher notify.Dispatcher
	Worker     *notify.Worker
}

// BuildDispatch sends synchronously unless NOTIFY_ASYNC is set, in which case jobs go
// through the queue. With a memory queue the consuming worker runs in this process.
func BuildDispatch(cfg *appconfig.Config, awsCfg aws.Config, st store.Store, m *metrics.AppointmentMetrics, logger *logging.Logger) (Dispatch, error) {
	if logger == nil {
		logger = logging.Default()
	}
	service := BuildNotificationService(cfg, awsCfg, st, m, logger)
	if !cfg.NotifyAsync {
		return Dispatch{Dispatcher: service}, nil
	}

	queue, inProcess, err := BuildNotificationQueue(cfg, awsCfg)
	if err != nil {
		return Dispatch{}, err
	}
	out := Dispatch{Dispatcher: notify.NewPublisher(queue, m, logger.Component("notify"))}
	if inProcess {
		out.Worker = notify.NewWorker(service, queue, logger.Component("notification-worker"),
			notify.WithWorkerCount(cfg.WorkerCount),
			notify.WithJobTimeout(cfg.NotifyTimeout),
		)
	}
	return out, nil
}
