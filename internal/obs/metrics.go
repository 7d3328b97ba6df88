package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the Prometheus collectors for the dispatch loop, using
// the teacher's "flux_"-style prefix convention adapted to this domain's
// "sched_" prefix.
type Metrics struct {
	TasksLaunched     prometheus.Counter
	TasksCompleted    prometheus.Counter
	TasksBlocked      prometheus.Counter
	TasksRetried      prometheus.Counter
	Escalations       prometheus.Counter
	QuotaCooldowns    prometheus.Counter
	QuotaWaitIters    prometheus.Counter
	ModelProbesOK     prometheus.Counter
	ModelProbesDrop   prometheus.Counter
	RunningGauge      prometheus.Gauge
	ReadyGauge        prometheus.Gauge
	IterationDuration prometheus.Histogram
	ValidationFailed  prometheus.Counter
	ScopeViolations   prometheus.Counter
}

// NewMetrics registers and returns the metric set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TasksLaunched: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_tasks_launched_total",
			Help: "Total worker launches across all tasks.",
		}),
		TasksCompleted: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_tasks_completed_total",
			Help: "Total tasks that reached status=completed.",
		}),
		TasksBlocked: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_tasks_blocked_total",
			Help: "Total tasks that reached status=blocked.",
		}),
		TasksRetried: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_tasks_retried_total",
			Help: "Total task_retry events emitted.",
		}),
		Escalations: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_escalations_total",
			Help: "Total profile escalations across all tasks.",
		}),
		QuotaCooldowns: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_quota_cooldowns_total",
			Help: "Total quota-triggered cooldown activations.",
		}),
		QuotaWaitIters: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_quota_wait_iterations_total",
			Help: "Dispatch iterations where capacity was forced to zero by cooldown.",
		}),
		ModelProbesOK: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_model_probes_ok_total",
			Help: "Startup --probe-models checks that found a model usable.",
		}),
		ModelProbesDrop: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_model_probes_dropped_total",
			Help: "Startup --probe-models checks that dropped a model from the ladder.",
		}),
		RunningGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "sched_running_tasks",
			Help: "Tasks currently in status=running.",
		}),
		ReadyGauge: f.NewGauge(prometheus.GaugeOpts{
			Name: "sched_ready_tasks",
			Help: "Tasks ready to launch at the start of the current iteration.",
		}),
		IterationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "sched_dispatch_iteration_seconds",
			Help:    "Wall-clock duration of one dispatch-loop iteration.",
			Buckets: prometheus.DefBuckets,
		}),
		ValidationFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_validation_failed_total",
			Help: "Validation command failures across all tasks.",
		}),
		ScopeViolations: f.NewCounter(prometheus.CounterOpts{
			Name: "sched_scope_violations_total",
			Help: "Scope gate violations across all tasks.",
		}),
	}
}
