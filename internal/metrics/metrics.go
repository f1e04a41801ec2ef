// Package metrics finishes what the teacher's otelinit.InitMetrics starts:
// that function registers instruments but only ever pushes them to an OTLP
// collector, and its promHandler return value is a permanently-nil stub
// (libs/go/core/otelinit/metrics.go). §6.5 calls for a pull-based Prometheus
// scrape endpoint, so this package registers real prometheus.Counter/
// Histogram/Gauge instruments on a private registry and serves them through
// promhttp.HandlerFor, naming every instrument after §6.5 with a
// "picoflow_" prefix.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every instrument the scheduler and the cron daemon update. It
// implements scheduler.Recorder without importing that package, so
// internal/scheduler can depend on internal/metrics's interface shape
// without a cyclic package dependency.
type Registry struct {
	workflowExecutions *prometheus.CounterVec
	taskExecutions     *prometheus.CounterVec
	taskDuration       *prometheus.HistogramVec
	taskRetries        *prometheus.CounterVec
	activeWorkflows    prometheus.Gauge
	activeTasks        prometheus.Gauge
}

// New registers every instrument on a fresh prometheus.Registry and returns
// both the Registry and an http.Handler for mounting on /metrics.
func New() (*Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	// process_resident_memory_bytes and friends, per §6.5's "process RSS"
	// line item; the default registry would have registered these for
	// free, but a private registry (needed so tests can build more than
	// one Registry per process) must opt in explicitly.
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	r := &Registry{
		workflowExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "picoflow_workflow_executions_total",
			Help: "Total workflow executions by terminal status.",
		}, []string{"status"}),
		taskExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "picoflow_task_executions_total",
			Help: "Total task attempts by task name and terminal status.",
		}, []string{"task", "status"}),
		taskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "picoflow_task_duration_seconds",
			Help:    "Task attempt duration in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"task"}),
		taskRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "picoflow_task_retries_total",
			Help: "Total retry attempts by task name.",
		}, []string{"task"}),
		activeWorkflows: factory.NewGauge(prometheus.GaugeOpts{
			Name: "picoflow_active_workflows",
			Help: "Workflow executions currently in progress.",
		}),
		activeTasks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "picoflow_active_tasks",
			Help: "Task attempts currently running.",
		}),
	}
	return r, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func (r *Registry) ObserveTaskDuration(taskName string, d time.Duration) {
	r.taskDuration.WithLabelValues(taskName).Observe(d.Seconds())
}

func (r *Registry) IncTaskExecutions(taskName, status string) {
	r.taskExecutions.WithLabelValues(taskName, status).Inc()
}

func (r *Registry) IncTaskRetries(taskName string) {
	r.taskRetries.WithLabelValues(taskName).Inc()
}

func (r *Registry) IncWorkflowExecutions(status string) {
	r.workflowExecutions.WithLabelValues(status).Inc()
}

func (r *Registry) SetActiveTasks(n int) {
	r.activeTasks.Set(float64(n))
}

// SetActiveWorkflows updates the active-workflow gauge; called by the cron
// daemon around each Scheduler.Run invocation.
func (r *Registry) SetActiveWorkflows(n int) {
	r.activeWorkflows.Set(float64(n))
}
