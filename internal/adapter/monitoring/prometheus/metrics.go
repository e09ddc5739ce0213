// Package prometheus exposes scheduler and executor measurements as prometheus collectors.
package prometheus

import (
	"net/http"
	"time"

	"github.com/crabzie/workflow-scheduler/internal/core/domain"
	"github.com/crabzie/workflow-scheduler/internal/core/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements port.MetricsRecorder on its own registry
type Recorder struct {
	registry *prometheus.Registry

	submitted     prometheus.Counter
	dispatched    *prometheus.CounterVec
	finished      *prometheus.CounterVec
	taskDuration  *prometheus.HistogramVec
	deferred      prometheus.Counter
	queueDepth    *prometheus.GaugeVec
	allocated     *prometheus.GaugeVec
	capacity      *prometheus.GaugeVec
	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	eventsDropped *prometheus.CounterVec
}

var _ port.MetricsRecorder = (*Recorder)(nil)

func NewRecorder(namespace string) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Tasks accepted into the ready pool.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks handed to the execution collaborator.",
		}, []string{"policy"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_finished_total",
			Help:      "Tasks that reached a terminal state.",
		}, []string{"status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from dispatch to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"status"}),
		deferred: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_deferred_total",
			Help:      "Dispatch passes stopped because the selected task did not fit the resource pool.",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks",
			Help:      "Tasks currently held by the scheduler.",
		}, []string{"state"}),
		allocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_allocated",
			Help:      "Amount of each resource granted to running tasks.",
		}, []string{"resource"}),
		capacity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resource_capacity",
			Help:      "Configured capacity of each resource.",
		}, []string{"resource"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Workflow runs that reached a terminal state.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Workflow run wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 4, 10),
		}, []string{"status"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Lifecycle events that could not be delivered.",
		}, []string{"reason"}),
	}
	r.registry.MustRegister(
		r.submitted, r.dispatched, r.finished, r.taskDuration, r.deferred,
		r.queueDepth, r.allocated, r.capacity, r.runs, r.runDuration, r.eventsDropped,
		prometheus.NewGoCollector(),
	)
	return r
}

// Registry returns the registry holding every collector
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Recorder) TaskSubmitted() { r.submitted.Inc() }

func (r *Recorder) TaskDispatched(policy domain.SchedulePolicy) {
	r.dispatched.WithLabelValues(string(policy)).Inc()
}

func (r *Recorder) TaskFinished(status domain.TaskStatus, elapsed time.Duration) {
	r.finished.WithLabelValues(string(status)).Inc()
	r.taskDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (r *Recorder) AdmissionDeferred() { r.deferred.Inc() }

func (r *Recorder) QueueDepth(ready, running int) {
	r.queueDepth.WithLabelValues("ready").Set(float64(ready))
	r.queueDepth.WithLabelValues("running").Set(float64(running))
}

func (r *Recorder) ResourceUsage(resource domain.ResourceType, allocated, capacity float64) {
	r.allocated.WithLabelValues(string(resource)).Set(allocated)
	r.capacity.WithLabelValues(string(resource)).Set(capacity)
}

func (r *Recorder) RunFinished(status domain.RunStatus, elapsed time.Duration) {
	r.runs.WithLabelValues(string(status)).Inc()
	r.runDuration.WithLabelValues(string(status)).Observe(elapsed.Seconds())
}

func (r *Recorder) EventDropped(reason string) {
	r.eventsDropped.WithLabelValues(reason).Inc()
}
