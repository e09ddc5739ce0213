// Package eventbus provides the in-process lifecycle event channel. Publishing never blocks and
// every subscription is served by its own goroutine.
package eventbus

import (
	"context"
	"fmt"
	"sync"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"go.uber.org/zap"
)

type subscription struct {
	eventType string
	handler   port.EventHandler
	queue     chan domain.Event
}

// Bus fans events out to subscribers. Create it with New, register subscribers, then Start.
type Bus struct {
	mu       sync.RWMutex
	subs     []*subscription
	inbound  chan domain.Event
	subBuf   int
	started  bool
	stopped  bool
	wg       sync.WaitGroup
	dispatch sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	metrics  port.MetricsRecorder
	log      *zap.Logger
}

var (
	_ port.EventPublisher  = (*Bus)(nil)
	_ port.EventSubscriber = (*Bus)(nil)
)

// New creates a bus with bounded inbound and per-subscriber queues.
func New(buffer, subscriberBuffer int, metrics port.MetricsRecorder, log *zap.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1
	}
	if subscriberBuffer <= 0 {
		subscriberBuffer = 1
	}
	return &Bus{
		inbound: make(chan domain.Event, buffer),
		subBuf:  subscriberBuffer,
		metrics: metrics,
		log:     log,
	}
}

// Subscribe registers handler for eventType, or for every type with domain.EventAll.
// Subscribing after Start starts the subscriber immediately.
func (b *Bus) Subscribe(eventType string, handler port.EventHandler) {
	s := &subscription{
		eventType: eventType,
		handler:   handler,
		queue:     make(chan domain.Event, b.subBuf),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
	if b.started && !b.stopped {
		b.serve(s)
	}
}

// Start launches the dispatcher and one goroutine per subscription.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	b.started = true
	b.ctx, b.cancel = context.WithCancel(ctx)
	for _, s := range b.subs {
		b.serve(s)
	}

	b.dispatch.Add(1)
	go func() {
		defer b.dispatch.Done()
		for ev := range b.inbound {
			b.fanOut(ev)
		}
	}()
	b.log.Info("Event bus started", zap.Int("subscribers", len(b.subs)))
}

// Publish queues an event without blocking.
func (b *Bus) Publish(event domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.stopped {
		return domain.ErrBusStopped
	}
	select {
	case b.inbound <- event:
		return nil
	default:
		return fmt.Errorf("%s: %w", event.Type, domain.ErrBusFull)
	}
}

// Stop refuses new events, delivers what is queued and waits for subscribers to finish.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	started := b.started
	close(b.inbound)
	b.mu.Unlock()

	if !started {
		return
	}
	b.dispatch.Wait()

	b.mu.RLock()
	for _, s := range b.subs {
		close(s.queue)
	}
	b.mu.RUnlock()
	b.wg.Wait()
	b.cancel()
	b.log.Info("Event bus stopped")
}

func (b *Bus) fanOut(ev domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.eventType != domain.EventAll && s.eventType != ev.Type {
			continue
		}
		select {
		case s.queue <- ev:
		default:
			b.dropped(ev, "subscriber_full")
		}
	}
}

// serve must be called with mu held.
func (b *Bus) serve(s *subscription) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range s.queue {
			b.deliver(s, ev)
		}
	}()
}

func (b *Bus) deliver(s *subscription, ev domain.Event) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error("Event handler panicked",
				zap.String("type", ev.Type),
				zap.String("event_id", ev.ID),
				zap.Any("panic", p))
		}
	}()
	if err := s.handler(b.ctx, ev); err != nil {
		b.log.Warn("Event handler failed",
			zap.String("type", ev.Type),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

func (b *Bus) dropped(ev domain.Event, reason string) {
	if b.metrics != nil {
		b.metrics.EventDropped(reason)
	}
	b.log.Warn("Dropped event", zap.String("type", ev.Type), zap.String("reason", reason))
}
