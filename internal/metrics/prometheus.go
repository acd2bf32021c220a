// Package metrics exposes supervisor, launcher and scheduler observations
// as Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fentz26/conductor/internal/launcher"
	"github.com/fentz26/conductor/internal/models"
)

// Collector implements supervisor.MetricsCollector and
// scheduler.MetricsCollector on a private registry.
type Collector struct {
	// Supervisor metrics
	registered *prometheus.CounterVec
	unhealthy  *prometheus.CounterVec
	restarts   *prometheus.CounterVec
	backoff    *prometheus.HistogramVec
	failed     *prometheus.CounterVec
	processes  *prometheus.GaugeVec

	// Launcher metrics
	launcherState *prometheus.GaugeVec

	// Scheduler metrics
	plans        *prometheus.CounterVec
	planSteps    prometheus.Histogram
	taskDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a collector. An empty namespace defaults to "conductor".
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "conductor"
	}

	c := &Collector{
		registry: prometheus.NewRegistry(),
	}

	c.registered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_registrations_total",
			Help:      "Total number of processes registered with the supervisor",
		},
		[]string{"kind"},
	)

	c.unhealthy = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_unhealthy_total",
			Help:      "Total number of failed health checks",
		},
		[]string{"process_id"},
	)

	c.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_restarts_total",
			Help:      "Total number of process restarts",
		},
		[]string{"process_id", "status"},
	)

	c.backoff = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_backoff_duration_seconds",
			Help:      "Delay applied before restarting an unhealthy process",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"process_id"},
	)

	c.failed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_failures_total",
			Help:      "Total number of processes that exhausted their restart attempts",
		},
		[]string{"process_id"},
	)

	c.processes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "processes",
			Help:      "Current number of supervised processes by state",
		},
		[]string{"state"},
	)

	c.launcherState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "launcher_state",
			Help:      "Current launcher lifecycle phase (1 for the active phase)",
		},
		[]string{"state"},
	)

	c.plans = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plans_total",
			Help:      "Total number of execution plans by outcome",
		},
		[]string{"status"},
	)

	c.planSteps = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "plan_steps",
			Help:      "Number of steps per built plan",
			Buckets:   []float64{1, 2, 3, 4, 6, 8, 12},
		},
	)

	c.taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of domain task executions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"domain", "status"},
	)

	c.registry.MustRegister(
		c.registered,
		c.unhealthy,
		c.restarts,
		c.backoff,
		c.failed,
		c.processes,
		c.launcherState,
		c.plans,
		c.planSteps,
		c.taskDuration,
	)

	return c
}

// ProcessRegistered records a registration.
func (c *Collector) ProcessRegistered(id string, kind models.Kind) {
	c.registered.WithLabelValues(string(kind)).Inc()
}

// ProcessUnhealthy records a failed health check.
func (c *Collector) ProcessUnhealthy(id string) {
	c.unhealthy.WithLabelValues(id).Inc()
}

// ProcessRestart records a restart attempt and its outcome.
func (c *Collector) ProcessRestart(id string, err error) {
	c.restarts.WithLabelValues(id, status(err)).Inc()
}

// ProcessBackoff records the delay before a restart.
func (c *Collector) ProcessBackoff(id string, delay time.Duration) {
	c.backoff.WithLabelValues(id).Observe(delay.Seconds())
}

// ProcessFailed records a process moving to the failed set.
func (c *Collector) ProcessFailed(id string) {
	c.failed.WithLabelValues(id).Inc()
}

// ProcessCounts sets the live and failed process gauges.
func (c *Collector) ProcessCounts(live, failed int) {
	c.processes.WithLabelValues("live").Set(float64(live))
	c.processes.WithLabelValues("failed").Set(float64(failed))
}

// LauncherState marks s as the active launcher phase. Use it with
// launcher.WithStateHook.
func (c *Collector) LauncherState(s launcher.State) {
	c.launcherState.Reset()
	c.launcherState.WithLabelValues(s.String()).Set(1)
}

// PlanBuilt records an accepted plan.
func (c *Collector) PlanBuilt(steps, tasks int) {
	c.plans.WithLabelValues("built").Inc()
	c.planSteps.Observe(float64(steps))
}

// PlanRejected records a discarded plan.
func (c *Collector) PlanRejected() {
	c.plans.WithLabelValues("rejected").Inc()
}

// TaskFinished records the duration and outcome of a domain task.
func (c *Collector) TaskFinished(domain string, duration time.Duration, err error) {
	c.taskDuration.WithLabelValues(domain, status(err)).Observe(duration.Seconds())
}

// Registry returns the Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
