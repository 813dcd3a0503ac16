// Package metrics holds the Prometheus collectors for icenimbus: object
// store exchanges, table file fetches and decodes, and the read API.
//
// Every method is safe to call on a nil *Metrics, so libraries can take an
// optional collector without guarding each call site.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "icenimbus"

// Metrics owns a private registry and the collectors registered on it.
type Metrics struct {
	reg *prometheus.Registry

	exchanges        *prometheus.CounterVec
	exchangeLatency  *prometheus.HistogramVec
	exchangeInflight prometheus.Gauge
	queueDepth       prometheus.Gauge

	fetches    *prometheus.CounterVec
	fetchBytes *prometheus.CounterVec
	decodes    *prometheus.CounterVec

	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inflight prometheus.Gauge
}

// New creates a Metrics instance with a fresh registry.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "exchanges_total",
			Help:      "Object store HTTP exchanges, partitioned by method and status code.",
		}, []string{"method", "code"}),
		exchangeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "exchange_duration_seconds",
			Help:      "Latency of object store HTTP exchanges.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		exchangeInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "inflight_exchanges",
			Help:      "Exchanges currently on the wire.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "queue_depth",
			Help:      "Requests submitted but not yet dispatched.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "fetches_total",
			Help:      "Table files fetched, partitioned by file kind and result.",
		}, []string{"kind", "result"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "fetch_bytes_total",
			Help:      "Bytes of table files fetched, partitioned by file kind.",
		}, []string{"kind"}),
		decodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "table",
			Name:      "decodes_total",
			Help:      "Table file decodes, partitioned by file kind and result.",
		}, []string{"kind", "result"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Read API requests, partitioned by status code and method.",
		}, []string{"code", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency of read API requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Read API requests currently being served.",
		}),
	}

	m.reg.MustRegister(
		m.exchanges, m.exchangeLatency, m.exchangeInflight, m.queueDepth,
		m.fetches, m.fetchBytes, m.decodes,
		m.requests, m.latency, m.inflight,
	)
	return m
}

// Registry returns the underlying registry.
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
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// ExchangeStarted marks one exchange as in flight.
func (m *Metrics) ExchangeStarted() {
	if m == nil {
		return
	}
	m.exchangeInflight.Inc()
}

// ExchangeDone records a finished exchange. A status of 0 means the
// exchange failed before a response arrived.
func (m *Metrics) ExchangeDone(method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.exchangeInflight.Dec()
	code := "error"
	if status > 0 {
		code = strconv.Itoa(status)
	}
	m.exchanges.WithLabelValues(method, code).Inc()
	m.exchangeLatency.WithLabelValues(method).Observe(elapsed.Seconds())
}

// SetQueueDepth reports the number of queued requests.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// ObserveFetch records a table file fetch of the given kind.
func (m *Metrics) ObserveFetch(kind string, size int64, err error) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(kind, result(err)).Inc()
	if err == nil && size > 0 {
		m.fetchBytes.WithLabelValues(kind).Add(float64(size))
	}
}

// ObserveDecode records a decode attempt of the given kind.
func (m *Metrics) ObserveDecode(kind string, err error) {
	if m == nil {
		return
	}
	m.decodes.WithLabelValues(kind, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Middleware instruments an HTTP handler with request count, latency and
// in-flight metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.inflight.Inc()
		defer m.inflight.Dec()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		code := strconv.Itoa(rec.status)
		m.requests.WithLabelValues(code, r.Method).Inc()
		m.latency.WithLabelValues(code, r.Method).Observe(time.Since(start).Seconds())
	})
}
