package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "portfolio_feed"

// Recorder owns the Prometheus collectors of one process. A nil *Recorder is
// valid and records nothing, so components can be built without metrics.
type Recorder struct {
	registry *prometheus.Registry

	fetchAttempts *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec
	limiterWait   prometheus.Histogram
	retriesSpent  *prometheus.CounterVec
	historyChunks *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	staleServed   prometheus.Counter
	refreshRuns   *prometheus.CounterVec
	alertsSent    prometheus.Counter
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
}

// New creates a Recorder backed by its own registry, with the Go and process
// collectors registered alongside the application metrics.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		fetchAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "fetch_attempts_total",
				Help:      "Upstream fetch attempts by provider, operation and outcome.",
			},
			[]string{"provider", "op", "outcome"},
		),
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of single upstream fetch attempts.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"provider", "op"},
		),
		limiterWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "limiter_wait_seconds",
				Help:      "Time spent waiting for a rate limiter slot.",
				Buckets:   []float64{0, 0.1, 0.5, 1, 2, 3, 5, 10},
			},
		),
		retriesSpent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "retries_exhausted_total",
				Help:      "Fetches that stayed throttled for every allowed attempt.",
			},
			[]string{"provider", "op"},
		),
		historyChunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "upstream",
				Name:      "history_chunks_total",
				Help:      "Chunked history sub-period fetches by outcome.",
			},
			[]string{"outcome"},
		),
		staleServed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "stale_fallbacks_total",
				Help:      "Stale snapshots served after a failed refresh.",
			},
		),
		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Snapshot cache lookups by result (hit, miss, stale).",
			},
			[]string{"result"},
		),
		refreshRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "refreshes_total",
				Help:      "Scheduled watchlist refreshes by outcome.",
			},
			[]string{"outcome"},
		),
		alertsSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "alerts_sent_total",
				Help:      "Signal alerts delivered to the notifier.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
			},
			[]string{"method", "route"},
		),
	}

	r.registry.MustRegister(
		r.fetchAttempts,
		r.fetchDuration,
		r.limiterWait,
		r.retriesSpent,
		r.historyChunks,
		r.cacheLookups,
		r.staleServed,
		r.refreshRuns,
		r.alertsSent,
		r.httpRequests,
		r.httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
	return r
}

// Registry exposes the underlying registry, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// FetchAttempt records one upstream attempt. Outcome is "ok", "throttled" or "error".
func (r *Recorder) FetchAttempt(provider, op, outcome string, d time.Duration) {
	if r == nil {
		return
	}
	r.fetchAttempts.WithLabelValues(provider, op, outcome).Inc()
	r.fetchDuration.WithLabelValues(provider, op).Observe(d.Seconds())
}

func (r *Recorder) RetriesExhausted(provider, op string) {
	if r == nil {
		return
	}
	r.retriesSpent.WithLabelValues(provider, op).Inc()
}

// HistoryChunk records one sub-period of a chunked history fetch.
func (r *Recorder) HistoryChunk(ok bool) {
	if r == nil {
		return
	}
	outcome := "failed"
	if ok {
		outcome = "merged"
	}
	r.historyChunks.WithLabelValues(outcome).Inc()
}

func (r *Recorder) StaleFallback() {
	if r == nil {
		return
	}
	r.staleServed.Inc()
}

func (r *Recorder) LimiterWait(d time.Duration) {
	if r == nil {
		return
	}
	r.limiterWait.Observe(d.Seconds())
}

// CacheLookup records a snapshot lookup result: "hit", "miss" or "stale".
func (r *Recorder) CacheLookup(result string) {
	if r == nil {
		return
	}
	r.cacheLookups.WithLabelValues(result).Inc()
}

func (r *Recorder) Refresh(success bool) {
	if r == nil {
		return
	}
	outcome := "error"
	if success {
		outcome = "ok"
	}
	r.refreshRuns.WithLabelValues(outcome).Inc()
}

func (r *Recorder) AlertSent() {
	if r == nil {
		return
	}
	r.alertsSent.Inc()
}

// HTTPRequest records a served request. Route is the matched route template,
// not the raw path, to keep label cardinality bounded.
func (r *Recorder) HTTPRequest(method, route string, status int, d time.Duration) {
	if r == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
