package eventbus

import (
	"context"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"go.uber.org/zap"
)

// Forward relays events to an external sink such as a message broker.
func Forward(sink port.EventSink) port.EventHandler {
	return func(ctx context.Context, ev domain.Event) error {
		return sink.PublishEvent(ctx, ev)
	}
}

// Log writes every event as a structured debug entry.
func Log(log *zap.Logger) port.EventHandler {
	return func(_ context.Context, ev domain.Event) error {
		log.Debug("Lifecycle event",
			zap.String("type", ev.Type),
			zap.String("event_id", ev.ID),
			zap.String("run_id", ev.Payload.RunID),
			zap.String("task_id", ev.Payload.TaskID),
			zap.String("status", ev.Payload.Status),
			zap.String("reason", ev.Payload.Reason))
		return nil
	}
}
