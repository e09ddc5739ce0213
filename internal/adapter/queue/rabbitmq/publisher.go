package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// channel is the subset of *amqp.Channel the adapter uses
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// EventQueue publishes lifecycle events to a topic exchange, routed by event type, and
// consumes them back for monitoring.
type EventQueue struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
	log      *zap.Logger
}

var _ port.EventSink = (*EventQueue)(nil)

// Dial connects to RabbitMQ with incremental backoff and declares the event exchange.
func Dial(ctx context.Context, url, exchange string, log *zap.Logger) (*EventQueue, error) {
	var conn *amqp.Connection
	var err error

	// Retry connection up to 10 times with backoff
	maxRetries := 10
	for i := 1; i <= maxRetries; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			ch, chErr := conn.Channel()
			if chErr == nil {
				return newEventQueue(conn, ch, exchange, log)
			}
			err = chErr
			conn.Close()
		}

		log.Warn("Failed to connect to RabbitMQ, retrying...",
			zap.Int("attempt", i),
			zap.Int("max_retries", maxRetries),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i*2) * time.Second):
		}
	}

	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
}

func newEventQueue(conn *amqp.Connection, ch channel, exchange string, log *zap.Logger) (*EventQueue, error) {
	if err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	); err != nil {
		ch.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &EventQueue{conn: conn, ch: ch, exchange: exchange, log: log}, nil
}

// PublishEvent implements port.EventSink. Failed runs are published with a higher priority.
func (q *EventQueue) PublishEvent(ctx context.Context, event domain.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	var priority uint8
	if event.Type == domain.EventRunFailed || event.Type == domain.EventTaskFailed {
		priority = 5
	}

	err = q.ch.PublishWithContext(ctx,
		q.exchange, // Exchange
		event.Type, // Routing key
		false,      // Mandatory
		false,      // Immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    event.ID,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
			DeliveryMode: amqp.Persistent,
			Priority:     priority,
			Body:         body,
		})
	if err != nil {
		q.log.Error("Failed to publish event", zap.String("type", event.Type), zap.Error(err))
		return err
	}

	q.log.Debug("Published event to RabbitMQ", zap.String("id", event.ID), zap.String("key", event.Type))
	return nil
}

// Close closes the channel and the connection
func (q *EventQueue) Close() error {
	if err := q.ch.Close(); err != nil {
		return err
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
