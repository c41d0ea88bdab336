// Package metrics owns the Prometheus collectors. Every method is safe on a
// nil *Metrics so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contentpilot"

type Metrics struct {
	reg *prometheus.Registry

	dispatchOutcomes *prometheus.CounterVec
	tickDuration     prometheus.Histogram
	dueItems         prometheus.Gauge
	pollerJobs       *prometheus.CounterVec
	pollerWait       *prometheus.HistogramVec
	runnerTasks      *prometheus.CounterVec
	runnerDuration   prometheus.Histogram
	providerRequests *prometheus.CounterVec
	workflowRuns     *prometheus.CounterVec
	notifications    *prometheus.CounterVec
	buildInfo        *prometheus.GaugeVec
}

// New creates the collectors on a private registry, plus the Go and process collectors.
func New(version string) *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.dispatchOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "dispatch_outcomes_total",
		Help: "Scheduled item dispatch outcomes.",
	}, []string{"outcome"})
	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "dispatch_tick_duration_seconds",
		Help:    "Duration of one dispatch tick.",
		Buckets: prometheus.DefBuckets,
	})
	m.dueItems = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "dispatch_due_items",
		Help: "Due items selected by the last tick.",
	})
	m.pollerJobs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "poller_jobs_total",
		Help: "Polled external jobs by terminal outcome.",
	}, []string{"provider", "outcome"})
	m.pollerWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Name: "poller_wait_seconds",
		Help:    "Time from submit to terminal state of external jobs.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"provider"})
	m.runnerTasks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "runner_tasks_total",
		Help: "Parallel runner task results.",
	}, []string{"result"})
	m.runnerDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace, Name: "runner_task_duration_seconds",
		Help:    "Parallel runner task duration.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
	})
	m.providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "provider_requests_total",
		Help: "Outbound provider HTTP requests by status class.",
	}, []string{"provider", "status"})
	m.workflowRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "workflow_runs_total",
		Help: "Reel workflow runs by result.",
	}, []string{"result"})
	m.notifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Name: "notifications_total",
		Help: "Failure notifications by result.",
	}, []string{"result"})
	m.buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Name: "build_info",
		Help: "Build information.",
	}, []string{"version"})

	m.reg.MustRegister(
		m.dispatchOutcomes, m.tickDuration, m.dueItems,
		m.pollerJobs, m.pollerWait,
		m.runnerTasks, m.runnerDuration,
		m.providerRequests, m.workflowRuns, m.notifications, m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.buildInfo.WithLabelValues(version).Set(1)
	return m
}

// Registry exposes the registry for tests and custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) DispatchOutcome(outcome string) {
	if m == nil {
		return
	}
	m.dispatchOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Tick(took time.Duration, due int) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(took.Seconds())
	m.dueItems.Set(float64(due))
}

func (m *Metrics) PollerJob(provider, outcome string, waited time.Duration) {
	if m == nil {
		return
	}
	m.pollerJobs.WithLabelValues(provider, outcome).Inc()
	m.pollerWait.WithLabelValues(provider).Observe(waited.Seconds())
}

func (m *Metrics) RunnerTask(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.runnerTasks.WithLabelValues(result).Inc()
	m.runnerDuration.Observe(took.Seconds())
}

// ProviderRequest records one HTTP attempt; status 0 means a transport error.
func (m *Metrics) ProviderRequest(provider string, status int) {
	if m == nil {
		return
	}
	class := "error"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 200:
		class = "2xx"
	}
	m.providerRequests.WithLabelValues(provider, class).Inc()
}

func (m *Metrics) WorkflowRun(result string) {
	if m == nil {
		return
	}
	m.workflowRuns.WithLabelValues(result).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}
