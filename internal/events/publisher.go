package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/wolfman30/smart-care-platform/pkg/logging"
)

// Publisher emits appointment lifecycle events.
type Publisher interface {
	PublishAppointmentChanged(ctx context.Context, evt AppointmentChangedV1) error
}

// amqpChannel is the subset of *amqp.Channel used for publishing.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes envelopes to a durable topic exchange.
type AMQPPublisher struct {
	channel  amqpChannel
	exchange string
	logger   *logging.Logger
}

// NewAMQPPublisher declares exchange on ch and returns a publisher for it.
func NewAMQPPublisher(ch amqpChannel, exchange string, logger *logging.Logger) (*AMQPPublisher, error) {
	if ch == nil {
		return nil, fmt.Errorf("events: amqp channel required")
	}
	if exchange == "" {
		return nil, fmt.Errorf("events: exchange required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("events: declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{channel: ch, exchange: exchange, logger: logger}, nil
}

// DialAMQP connects to url and returns a publisher plus a close func for the connection.
func DialAMQP(url, exchange string, logger *logging.Logger) (*AMQPPublisher, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("events: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("events: open amqp channel: %w", err)
	}
	pub, err := NewAMQPPublisher(ch, exchange, logger)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return pub, conn.Close, nil
}

func (p *AMQPPublisher) PublishAppointmentChanged(ctx context.Context, evt AppointmentChangedV1) error {
	env, err := Wrap(evt)
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, evt.RoutingKey(), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    env.ID.String(),
		Type:         env.Type,
		Timestamp:    evt.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("events: publish %s: %w", evt.RoutingKey(), err)
	}
	p.logger.Debug("appointment event published", "appointment_id", evt.AppointmentID, "routing_key", evt.RoutingKey())
	return nil
}

// LogPublisher writes events to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *logging.Logger
}

func NewLogPublisher(logger *logging.Logger) *LogPublisher {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishAppointmentChanged(_ context.Context, evt AppointmentChangedV1) error {
	p.logger.Debug("appointment event", "appointment_id", evt.AppointmentID, "action", evt.Action, "to_status", evt.ToStatus)
	return nil
}

var (
	_ Publisher = (*AMQPPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
