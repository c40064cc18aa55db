// Package ops exposes operational surfaces: prometheus metrics and a small
// HTTP listener with /metrics, /healthz and the pprof endpoints.
package ops

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics bundles the collectors the services report into. All methods are
// safe on a nil receiver so instrumentation stays optional in tests.
type Metrics struct {
	registry *prometheus.Registry

	jobsClaimed      *prometheus.CounterVec
	jobsCompleted    *prometheus.CounterVec
	jobsFailed       *prometheus.CounterVec
	jobsDeadLettered *prometheus.CounterVec

	recomputeSeconds prometheus.Histogram
	cacheGeneration  *prometheus.GaugeVec

	messagesDeleted prometheus.Counter
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobsClaimed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primeboard_jobs_claimed_total",
			Help: "Jobs claimed from the store, by type.",
		}, []string{"type"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primeboard_jobs_completed_total",
			Help: "Jobs finished successfully, by type.",
		}, []string{"type"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primeboard_jobs_failed_total",
			Help: "Job attempts that failed and were scheduled for retry, by type.",
		}, []string{"type"}),
		jobsDeadLettered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "primeboard_jobs_dead_lettered_total",
			Help: "Jobs moved to the dead-letter state, by type.",
		}, []string{"type"}),
		recomputeSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "primeboard_leaderboard_recompute_seconds",
			Help:    "Wall time of leaderboard recomputes.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheGeneration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "primeboard_leaderboard_cache_generation",
			Help: "Latest snapshot generation per cache key.",
		}, []string{"metric", "span", "faction"}),
		messagesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "primeboard_messages_deleted_total",
			Help: "Ephemeral messages removed by the cleanup handler.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.jobsClaimed, m.jobsCompleted, m.jobsFailed, m.jobsDeadLettered,
		m.recomputeSeconds, m.cacheGeneration, m.messagesDeleted,
	)
	return m
}

func (m *Metrics) JobClaimed(typ string) {
	if m == nil {
		return
	}
	m.jobsClaimed.WithLabelValues(typ).Inc()
}

func (m *Metrics) JobCompleted(typ string) {
	if m == nil {
		return
	}
	m.jobsCompleted.WithLabelValues(typ).Inc()
}

func (m *Metrics) JobFailed(typ string) {
	if m == nil {
		return
	}
	m.jobsFailed.WithLabelValues(typ).Inc()
}

func (m *Metrics) JobDeadLettered(typ string) {
	if m == nil {
		return
	}
	m.jobsDeadLettered.WithLabelValues(typ).Inc()
}

func (m *Metrics) RecomputeObserved(d time.Duration) {
	if m == nil {
		return
	}
	m.recomputeSeconds.Observe(d.Seconds())
}

func (m *Metrics) CacheGeneration(metric, span, faction string, gen int64) {
	if m == nil {
		return
	}
	m.cacheGeneration.WithLabelValues(metric, span, faction).Set(float64(gen))
}

func (m *Metrics) MessageDeleted() {
	if m == nil {
		return
	}
	m.messagesDeleted.Inc()
}
