package service

import (
	"errors"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// newEvent stamps a lifecycle event with a sortable id.
func newEvent(eventType string, payload domain.EventPayload) domain.Event {
	return domain.Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// publish is best-effort: a refused event is logged and counted, never returned.
func publish(events port.EventPublisher, metrics port.MetricsRecorder, log *zap.Logger, event domain.Event) {
	if events == nil {
		return
	}
	if err := events.Publish(event); err != nil {
		metrics.EventDropped(dropReason(err))
		log.Warn("Dropped lifecycle event", zap.String("type", event.Type), zap.Error(err))
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrBusFull):
		return "bus_full"
	case errors.Is(err, domain.ErrBusStopped):
		return "bus_stopped"
	}
	return "publish_error"
}

type nopMetrics struct{}

func (nopMetrics) TaskSubmitted()                                      {}
func (nopMetrics) TaskDispatched(domain.SchedulePolicy)                {}
func (nopMetrics) TaskFinished(domain.TaskStatus, time.Duration)       {}
func (nopMetrics) AdmissionDeferred()                                  {}
func (nopMetrics) QueueDepth(int, int)                                 {}
func (nopMetrics) ResourceUsage(domain.ResourceType, float64, float64) {}
func (nopMetrics) RunFinished(domain.RunStatus, time.Duration)         {}
func (nopMetrics) EventDropped(string)                                 {}
