package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cellxplore"

// Metrics records request and query outcomes. A nil *Metrics discards
// everything, so handlers can be built without a registry.
type Metrics struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	rows       *prometheus.HistogramVec
	storeOpen  prometheus.Gauge
	selections prometheus.Gauge
}

// NewMetrics registers the service collectors, plus the Go runtime and
// process collectors, on reg. A nil reg gets a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
		rows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "rows_returned",
			Help:      "Rows returned per query.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"query"}),
		storeOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "open",
			Help:      "1 when the array store is open, 0 otherwise.",
		}),
		selections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "selection",
			Name:      "stored",
			Help:      "Named selections currently held in memory.",
		}),
	}
	reg.MustRegister(
		m.requests, m.latency, m.rows, m.storeOpen, m.selections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest records one served request.
func (m *Metrics) ObserveRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(route, method, code).Inc()
	m.latency.WithLabelValues(route, code).Observe(d.Seconds())
}

// ObserveRows records the size of a query result.
func (m *Metrics) ObserveRows(query string, n int) {
	if m == nil {
		return
	}
	m.rows.WithLabelValues(query).Observe(float64(n))
}

// StoreOpened records the outcome of opening the store.
func (m *Metrics) StoreOpened(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.storeOpen.Set(0)
		return
	}
	m.storeOpen.Set(1)
}

// SetSelections records the number of stored selections.
func (m *Metrics) SetSelections(n int) {
	if m == nil {
		return
	}
	m.selections.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
