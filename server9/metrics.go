package server9

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// metrics bundles the process-wide Prometheus collectors (shared by
// every connection) with a connection-scoped HdrHistogram of request
// latency. Prometheus gives
// operators a scrape-able request-rate/error-rate view; HdrHistogram
// gives precise tail-latency percentiles (p99/p999) that a plain
// Prometheus histogram's fixed buckets would blur, which matters for a
// protocol where a slow Tread stalls a caller synchronously.
type metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
	activeRequests  prometheus.Gauge

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

var (
	registerOnce sync.Once

	defaultRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ninep",
		Subsystem: "server9",
		Name:      "requests_total",
		Help:      "Total 9P requests handled, by message type and result.",
	}, []string{"type", "result"})

	defaultRequestDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ninep",
		Subsystem: "server9",
		Name:      "request_duration_seconds",
		Help:      "9P request handling latency.",
		Buckets:   prometheus.DefBuckets,
	})

	defaultActiveRequests = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ninep",
		Subsystem: "server9",
		Name:      "active_requests",
		Help:      "In-flight 9P requests across all connections.",
	})
)

// MustRegisterDefaultMetrics registers this package's Prometheus
// collectors with reg. It is idempotent per process so a program can
// call it from multiple places (e.g. main and tests) without a
// duplicate-registration panic.
func MustRegisterDefaultMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(defaultRequestsTotal, defaultRequestDuration, defaultActiveRequests)
	})
}

func newMetrics() *metrics {
	hist := hdrhistogram.New(1, (10 * time.Second).Microseconds(), 3)
	return &metrics{
		requestsTotal:   defaultRequestsTotal,
		requestDuration: defaultRequestDuration,
		activeRequests:  defaultActiveRequests,
		hist:            hist,
	}
}

func (m *metrics) observe(msgType string, ok bool, d time.Duration) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.requestsTotal.WithLabelValues(msgType, result).Inc()
	m.requestDuration.Observe(d.Seconds())

	m.mu.Lock()
	m.hist.RecordValue(d.Microseconds())
	m.mu.Unlock()
}

func (m *metrics) inc() { m.activeRequests.Inc() }
func (m *metrics) dec() { m.activeRequests.Dec() }

// LatencyPercentiles returns the p50/p99/p999 request latency in
// microseconds observed on this connection so far.
func (m *metrics) LatencyPercentiles() (p50, p99, p999 int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hist.ValueAtQuantile(50), m.hist.ValueAtQuantile(99), m.hist.ValueAtQuantile(99.9)
}

// LatencyPercentiles returns the p50/p99/p999 request latency in
// microseconds observed on this connection so far, for logging at
// connection close or on an operator-triggered dump.
func (c *Connection) LatencyPercentiles() (p50, p99, p999 int64) {
	return c.metrics.LatencyPercentiles()
}
