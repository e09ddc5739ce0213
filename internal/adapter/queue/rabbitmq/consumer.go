package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ConsumeEvents binds queue to the exchange with bindingKey ("#" for everything) and hands
// each event to handler until ctx is done or the delivery channel closes.
func (q *EventQueue) ConsumeEvents(ctx context.Context, queue, bindingKey string, handler port.EventHandler) error {
	// 1. Declare Queue ensure it exists
	_, err := q.ch.QueueDeclare(
		queue, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := q.ch.QueueBind(queue, bindingKey, q.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}

	msgs, err := q.ch.Consume(
		queue, // queue
		"",    // consumer
		false, // auto-ack (We want to ack manually after handling)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return err
	}

	q.log.Info("Started consuming events", zap.String("queue", queue), zap.String("binding", bindingKey))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return nil
			}
			q.handle(ctx, d, handler)
		}
	}
}

func (q *EventQueue) handle(ctx context.Context, d amqp.Delivery, handler port.EventHandler) {
	var event domain.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		q.log.Error("Failed to unmarshal event", zap.Error(err))
		d.Nack(false, false) // discard invalid message
		return
	}

	if err := handler(ctx, event); err != nil {
		q.log.Error("Event handling failed", zap.String("id", event.ID), zap.Error(err))
		// events are best effort, a failing consumer must not loop on redelivery
		d.Nack(false, false)
		return
	}
	d.Ack(false)
}
