package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Telemetry exposes pipeline counters both to Prometheus and to the
// streaming progress events (running per-request tallies are kept by the
// orchestrator; these are process-wide).
type Telemetry struct {
	hitsBySource  *prometheus.CounterVec
	pagesFetched  prometheus.Counter
	fetchFailures prometheus.Counter
	stageDuration *prometheus.HistogramVec
	verifyRetries prometheus.Counter
	requestsTotal *prometheus.CounterVec
}

// New creates pipeline telemetry registered against the given registerer
// (pass prometheus.DefaultRegisterer in production).
func New(namespace string, reg prometheus.Registerer) *Telemetry {
	if namespace == "" {
		namespace = "faro"
	}
	t := &Telemetry{}
	t.hitsBySource = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collector_hits_total",
		Help:      "Search hits collected, by source type.",
	}, []string{"source"})
	t.pagesFetched = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pages_fetched_total",
		Help:      "Pages successfully fetched and extracted.",
	})
	t.fetchFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fetch_failures_total",
		Help:      "Page fetches that degraded to empty results.",
	})
	t.stageDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of pipeline stages.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})
	t.verifyRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verification_retries_total",
		Help:      "Answers regenerated after a failed verification.",
	})
	t.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "requests_total",
		Help:      "Answer requests by outcome.",
	}, []string{"outcome"})
	if reg != nil {
		reg.MustRegister(t.hitsBySource, t.pagesFetched, t.fetchFailures, t.stageDuration, t.verifyRetries, t.requestsTotal)
	}
	return t
}

func (t *Telemetry) RecordHits(source string, n int) {
	if t == nil || n <= 0 {
		return
	}
	t.hitsBySource.WithLabelValues(source).Add(float64(n))
}

func (t *Telemetry) RecordPageFetched() {
	if t == nil {
		return
	}
	t.pagesFetched.Inc()
}

func (t *Telemetry) RecordFetchFailure() {
	if t == nil {
		return
	}
	t.fetchFailures.Inc()
}

func (t *Telemetry) ObserveStage(stage string, d time.Duration) {
	if t == nil {
		return
	}
	t.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (t *Telemetry) RecordVerifyRetry() {
	if t == nil {
		return
	}
	t.verifyRetries.Inc()
}

func (t *Telemetry) RecordRequest(outcome string) {
	if t == nil {
		return
	}
	t.requestsTotal.WithLabelValues(outcome).Inc()
}
