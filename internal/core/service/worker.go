package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"go.uber.org/zap"
)

// HandlerFunc performs the work of a task. It must return once ctx is done.
type HandlerFunc func(ctx context.Context, task domain.Task) error

// HandlerRegistry maps handler names to functions
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]HandlerFunc)}
}

// DefaultHandlers returns a registry with the built-in noop, sleep and fail handlers.
func DefaultHandlers() *HandlerRegistry {
	r := NewHandlerRegistry()
	r.Register("noop", func(context.Context, domain.Task) error { return nil })
	r.Register("sleep", sleepHandler)
	r.Register("fail", func(_ context.Context, task domain.Task) error {
		if msg, ok := task.Features["message"].(string); ok && msg != "" {
			return errors.New(msg)
		}
		return domain.ErrTaskFailed
	})
	return r
}

func (r *HandlerRegistry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

func (r *HandlerRegistry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered handler names in order.
func (r *HandlerRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// sleepHandler waits for the "duration" feature (a duration string or seconds).
func sleepHandler(ctx context.Context, task domain.Task) error {
	d, err := featureDuration(task.Features["duration"])
	if err != nil {
		return err
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func featureDuration(v any) (time.Duration, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case string:
		return time.ParseDuration(d)
	case float64:
		return time.Duration(d * float64(time.Second)), nil
	case int:
		return time.Duration(d) * time.Second, nil
	case int64:
		return time.Duration(d) * time.Second, nil
	case time.Duration:
		return d, nil
	}
	return 0, fmt.Errorf("unsupported duration feature %T", v)
}

// WorkerService is the in-process TaskRunner. Each task runs in its own goroutine under
// the task's timeout and reports back exactly once.
type WorkerService struct {
	handlers       *HandlerRegistry
	defaultHandler string
	log            *zap.Logger
	wg             sync.WaitGroup
}

func NewWorkerService(handlers *HandlerRegistry, log *zap.Logger) *WorkerService {
	return &WorkerService{
		handlers:       handlers,
		defaultHandler: "noop",
		log:            log,
	}
}

var _ port.TaskRunner = (*WorkerService)(nil)

// Run implements port.TaskRunner.
func (w *WorkerService) Run(ctx context.Context, task domain.Task, report port.CompletionReporter) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.process(ctx, task, report)
	}()
}

// Wait blocks until every started task has reported.
func (w *WorkerService) Wait() {
	w.wg.Wait()
}

func (w *WorkerService) process(ctx context.Context, task domain.Task, report port.CompletionReporter) {
	key := task.Key()
	name := task.Handler
	if name == "" {
		name = w.defaultHandler
	}
	log := w.log.With(zap.String("task_id", task.ID), zap.String("run_id", task.RunID), zap.String("handler", name))

	fn, ok := w.handlers.Lookup(name)
	if !ok {
		log.Error("Processing failed", zap.Error(domain.ErrUnknownHandler))
		w.report(log, report.OnCompletion(key, false))
		return
	}

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	log.Debug("Processing task")
	errCh := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				errCh <- fmt.Errorf("handler panic: %v", p)
			}
		}()
		errCh <- fn(ctx, task)
	}()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		err = ctx.Err()
	}

	switch {
	case err == nil:
		w.report(log, report.OnCompletion(key, true))
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		log.Warn("Task timed out", zap.Duration("timeout", task.Timeout))
		w.report(log, report.OnTimeout(key))
	case errors.Is(ctx.Err(), context.Canceled):
		log.Info("Task cancelled")
		w.report(log, report.OnCompletion(key, false))
	default:
		log.Warn("Handler returned error", zap.Error(err))
		w.report(log, report.OnCompletion(key, false))
	}
}

func (w *WorkerService) report(log *zap.Logger, err error) {
	if err != nil {
		log.Error("Failed to report task outcome", zap.Error(err))
	}
}
