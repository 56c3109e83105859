// Package queue carries request events from the API to the worker over RabbitMQ.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/kidtube/kidtube/internal/config"
	"github.com/kidtube/kidtube/internal/logging"
	"github.com/kidtube/kidtube/pkg/models"
)

const (
	ExchangeName           = "kidtube.events"
	RequestEventsQueueName = "kidtube_request_events"
	RequestEventsBinding   = "request.*"
	DeadLetterExchangeName = "kidtube.events.dlx"
	DeadLetterQueueName    = "kidtube_request_events_dlq"
)

// Queue provides message queue operations
type Queue struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *logging.Logger
}

// URL builds the broker address from cfg
func URL(cfg config.QueueConfig) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Vhost)
}

// New creates a new queue client and declares the topology
func New(cfg config.QueueConfig, logger *logging.Logger) (*Queue, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	conn, err := amqp.Dial(URL(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	q := &Queue{conn: conn, channel: channel, logger: logger.WithComponent("queue")}
	if err := q.declare(); err != nil {
		q.Close()
		return nil, err
	}
	return q, nil
}

func (q *Queue) declare() error {
	// Dead letter exchange and queue receive events the worker could not handle
	if err := q.channel.ExchangeDeclare(DeadLetterExchangeName, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	if _, err := q.channel.QueueDeclare(DeadLetterQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ: %w", err)
	}
	if err := q.channel.QueueBind(DeadLetterQueueName, "", DeadLetterExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}

	err := q.channel.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = q.channel.QueueDeclare(
		RequestEventsQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-dead-letter-exchange": DeadLetterExchangeName},
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := q.channel.QueueBind(RequestEventsQueueName, RequestEventsBinding, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	return nil
}

// Close closes the queue connection
func (q *Queue) Close() error {
	if q.channel != nil {
		q.channel.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

// Publishing builds the persistent message for event
func Publishing(event *models.RequestEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	ts := event.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		ContentType:  "application/json",
		Type:         event.Event,
		Body:         body,
		Timestamp:    ts,
	}, nil
}

// PublishRequestEvent publishes event routed by its name
func (q *Queue) PublishRequestEvent(ctx context.Context, event *models.RequestEvent) error {
	msg, err := Publishing(event)
	if err != nil {
		return err
	}

	err = q.channel.PublishWithContext(ctx,
		ExchangeName,
		event.Event,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Handler processes one request event
type Handler func(ctx context.Context, event *models.RequestEvent) error

// ConsumeRequestEvents delivers events to handler until ctx is done.
// Events that fail to decode or to handle are dead-lettered.
func (q *Queue) ConsumeRequestEvents(ctx context.Context, handler Handler) error {
	// Set QoS to limit concurrent processing
	if err := q.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := q.channel.Consume(
		RequestEventsQueueName,
		"",    // consumer
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				Dispatch(ctx, msg, handler, q.logger)
			}
		}
	}()

	return nil
}

// Dispatch decodes msg, runs handler and settles the delivery
func Dispatch(ctx context.Context, msg amqp.Delivery, handler Handler, logger *logging.Logger) {
	var event models.RequestEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		logger.WithError(err).Warn("dropping malformed request event")
		msg.Nack(false, false)
		return
	}

	if err := handler(ctx, &event); err != nil {
		logger.WithError(err).WithField("event", event.Event).WithField("request_id", event.Request.ID).
			Error("failed to handle request event")
		msg.Nack(false, false)
		return
	}
	msg.Ack(false)
}

// GetQueueDepth returns the number of messages waiting for the worker
func (q *Queue) GetQueueDepth() (int, error) {
	info, err := q.channel.QueueInspect(RequestEventsQueueName)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}

	return info.Messages, nil
}
