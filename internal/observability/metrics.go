package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the paper harvester.
// Metrics are organized by subsystem: papers, sources, proxy pool, scheduler
// and outputs. All collectors are registered via promauto with the default
// registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// RunsStarted counts harvest runs initiated.
	RunsStarted prometheus.Counter

	// RunsCompleted counts harvest runs that finished without error.
	RunsCompleted prometheus.Counter

	// RunsFailed counts harvest runs that ended in error or cancellation.
	RunsFailed prometheus.Counter

	// RunDuration observes end-to-end run duration in seconds.
	RunDuration prometheus.Histogram

	// PapersDiscovered counts papers returned by the metadata source.
	PapersDiscovered prometheus.Counter

	// PapersResolved counts papers whose abstract was found, labeled by source.
	PapersResolved *prometheus.CounterVec

	// PapersUnavailable counts papers no source could resolve.
	PapersUnavailable prometheus.Counter

	// PapersSkipped counts papers skipped, labeled by reason.
	PapersSkipped *prometheus.CounterVec

	// ResolveDuration observes per-paper resolution time in seconds.
	ResolveDuration prometheus.Histogram

	// SourceAttempts counts fetch attempts, labeled by source and outcome.
	SourceAttempts *prometheus.CounterVec

	// SourceDuration observes fetch duration in seconds, labeled by source.
	SourceDuration *prometheus.HistogramVec

	// RequestsTotal counts outbound requests, labeled by host and class.
	RequestsTotal *prometheus.CounterVec

	// ProxySwaps counts in-call proxy replacements after proxy-specific failures.
	ProxySwaps prometheus.Counter

	// ProxyPoolSize reports the current number of pooled proxies.
	ProxyPoolSize prometheus.Gauge

	// ProxyPoolDegraded is 1 while the pool is in degraded mode.
	ProxyPoolDegraded prometheus.Gauge

	// ProxyEvictions counts proxies removed from the pool, labeled by reason.
	ProxyEvictions *prometheus.CounterVec

	// ProxyReplenishRounds counts replenishment rounds, labeled by result.
	ProxyReplenishRounds *prometheus.CounterVec

	// SchedulerInFlight reports tasks currently being resolved.
	SchedulerInFlight prometheus.Gauge

	// SchedulerQueued reports tasks waiting for a slot.
	SchedulerQueued prometheus.Gauge

	// OutputWrites counts writer operations, labeled by writer and status.
	OutputWrites *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics under the given namespace.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		RunsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of harvest runs started",
		}),
		RunsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Total number of harvest runs completed successfully",
		}),
		RunsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Total number of harvest runs that failed",
		}),
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of harvest runs in seconds",
			Buckets:   []float64{10, 60, 300, 600, 1800, 3600, 7200, 14400, 43200},
		}),

		PapersDiscovered: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_discovered_total",
			Help:      "Total number of papers returned by the metadata source",
		}),
		PapersResolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_resolved_total",
			Help:      "Total number of papers resolved by source",
		}, []string{"source"}),
		PapersUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_unavailable_total",
			Help:      "Total number of papers no source could resolve",
		}),
		PapersSkipped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_skipped_total",
			Help:      "Total number of papers skipped by reason",
		}, []string{"reason"}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of per-paper abstract resolution in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),

		SourceAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Total number of source fetch attempts by outcome",
		}, []string{"source", "outcome"}),
		SourceDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_duration_seconds",
			Help:      "Duration of source fetches in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 120},
		}, []string{"source"}),

		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of outbound requests by host and result class",
		}, []string{"host", "class"}),
		ProxySwaps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_swaps_total",
			Help:      "Total number of in-call proxy swaps",
		}),
		ProxyPoolSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_size",
			Help:      "Current number of pooled proxies",
		}),
		ProxyPoolDegraded: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "proxy_pool_degraded",
			Help:      "Whether the proxy pool is in degraded mode",
		}),
		ProxyEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_evictions_total",
			Help:      "Total number of proxies evicted by reason",
		}, []string{"reason"}),
		ProxyReplenishRounds: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proxy_replenish_rounds_total",
			Help:      "Total number of proxy replenishment rounds by result",
		}, []string{"result"}),

		SchedulerInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_in_flight",
			Help:      "Number of paper tasks currently running",
		}),
		SchedulerQueued: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_queued",
			Help:      "Number of paper tasks waiting for a slot",
		}),

		OutputWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_writes_total",
			Help:      "Total number of output writes by writer and status",
		}, []string{"writer", "status"}),
	}
}

// RecordRunStarted records the start of a harvest run.
func (m *Metrics) RecordRunStarted() {
	if m == nil {
		return
	}
	m.RunsStarted.Inc()
}

// RecordRunFinished records the end of a run.
func (m *Metrics) RecordRunFinished(durationSeconds float64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.RunsFailed.Inc()
	} else {
		m.RunsCompleted.Inc()
	}
	m.RunDuration.Observe(durationSeconds)
}

// RecordPapersDiscovered adds papers returned by the metadata source.
func (m *Metrics) RecordPapersDiscovered(count int) {
	if m == nil {
		return
	}
	m.PapersDiscovered.Add(float64(count))
}

// RecordPaperResolved records a resolved paper.
func (m *Metrics) RecordPaperResolved(source string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PapersResolved.WithLabelValues(source).Inc()
	m.ResolveDuration.Observe(durationSeconds)
}

// RecordPaperUnavailable records a paper that exhausted all sources.
func (m *Metrics) RecordPaperUnavailable(durationSeconds float64) {
	if m == nil {
		return
	}
	m.PapersUnavailable.Inc()
	m.ResolveDuration.Observe(durationSeconds)
}

// RecordPaperSkipped records a paper skipped for the given reason.
func (m *Metrics) RecordPaperSkipped(reason string) {
	if m == nil {
		return
	}
	m.PapersSkipped.WithLabelValues(reason).Inc()
}

// RecordSourceAttempt records one adapter fetch.
func (m *Metrics) RecordSourceAttempt(source, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SourceAttempts.WithLabelValues(source, outcome).Inc()
	m.SourceDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordRequest records an outbound request classified as class.
func (m *Metrics) RecordRequest(host, class string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(host, class).Inc()
}

// RecordProxySwap records a fresh-proxy retry.
func (m *Metrics) RecordProxySwap() {
	if m == nil {
		return
	}
	m.ProxySwaps.Inc()
}

// RecordProxyPool records the pool size and degraded flag.
func (m *Metrics) RecordProxyPool(size int, degraded bool) {
	if m == nil {
		return
	}
	m.ProxyPoolSize.Set(float64(size))
	if degraded {
		m.ProxyPoolDegraded.Set(1)
	} else {
		m.ProxyPoolDegraded.Set(0)
	}
}

// RecordProxyEviction records a proxy removed from the pool.
func (m *Metrics) RecordProxyEviction(reason string) {
	if m == nil {
		return
	}
	m.ProxyEvictions.WithLabelValues(reason).Inc()
}

// RecordReplenishRound records a replenishment round result.
func (m *Metrics) RecordReplenishRound(result string) {
	if m == nil {
		return
	}
	m.ProxyReplenishRounds.WithLabelValues(result).Inc()
}

// RecordScheduler records the scheduler gauges.
func (m *Metrics) RecordScheduler(inFlight, queued int) {
	if m == nil {
		return
	}
	m.SchedulerInFlight.Set(float64(inFlight))
	m.SchedulerQueued.Set(float64(queued))
}

// RecordOutputWrite records a writer operation.
func (m *Metrics) RecordOutputWrite(writer string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OutputWrites.WithLabelValues(writer, status).Inc()
}
