// Package metrics exposes Prometheus collectors for ingest, queries and the
// live feed. All methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fleetwatch"

type Metrics struct {
	registry *prometheus.Registry

	eventsIngested *prometheus.CounterVec
	ingestFailures prometheus.Counter
	queryDuration  *prometheus.HistogramVec
	queryFailures  *prometheus.CounterVec

	feedSubscribers prometheus.Gauge
	feedDelivered   prometheus.Counter
	feedDropped     prometheus.Counter
	feedLate        prometheus.Counter
	feedPolls       *prometheus.CounterVec
}

// New registers every collector on a fresh registry, so several instances can
// coexist in one process (tests, mostly).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		eventsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Events appended to the store, by kind.",
		}, []string{"kind"}),
		ingestFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_failures_total",
			Help:      "Appends rejected by validation or the store.",
		}),
		queryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Latency of connectivity and analytics queries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"query"}),
		queryFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Queries that returned an error, by query and class.",
		}, []string{"query", "class"}),
		feedSubscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "subscribers",
			Help:      "Open live feed subscriptions.",
		}),
		feedDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "delivered_total",
			Help:      "Events handed to subscribers.",
		}),
		feedDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "dropped_total",
			Help:      "Events discarded from full subscriber queues.",
		}),
		feedLate: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "late_total",
			Help:      "Events skipped because they were older than the subscriber position.",
		}),
		feedPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "polls_total",
			Help:      "Store tail polls, by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) EventIngested(kind string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(kind).Inc()
}

func (m *Metrics) IngestFailed() {
	if m == nil {
		return
	}
	m.ingestFailures.Inc()
}

// ObserveQuery records the latency of a named query, and counts it as a
// failure when class is non-empty.
func (m *Metrics) ObserveQuery(query string, started time.Time, class string) {
	if m == nil {
		return
	}
	m.queryDuration.WithLabelValues(query).Observe(time.Since(started).Seconds())
	if class != "" {
		m.queryFailures.WithLabelValues(query, class).Inc()
	}
}

func (m *Metrics) SubscriberOpened() {
	if m == nil {
		return
	}
	m.feedSubscribers.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.feedSubscribers.Dec()
}

func (m *Metrics) Delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.feedDelivered.Add(float64(n))
}

func (m *Metrics) Dropped(n int) {
	if m == nil || n == 0 {
		return
	}
	m.feedDropped.Add(float64(n))
}

func (m *Metrics) Late(n int) {
	if m == nil || n == 0 {
		return
	}
	m.feedLate.Add(float64(n))
}

func (m *Metrics) Polled(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.feedPolls.WithLabelValues(result).Inc()
}
