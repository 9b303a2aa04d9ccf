package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce             sync.Once
	httpRequestsTotal        *prometheus.CounterVec
	httpLatencySeconds       *prometheus.HistogramVec
	httpErrorsTotal          *prometheus.CounterVec
	coverLetterTransitions   *prometheus.CounterVec
	coverLetterRoutedTotal   *prometheus.CounterVec
	coverLetterReceivedTotal *prometheus.CounterVec
	queueCacheLookups        *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		coverLetterTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_letter_transitions_total",
			Help: "Cover letter stage transition attempts by action and result.",
		}, []string{"action", "result"})

		coverLetterRoutedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_letter_routed_total",
			Help: "Cover letters forwarded to the queue of the next stage.",
		}, []string{"stage"})

		coverLetterReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_letter_routing_received_total",
			Help: "Routing events received from other nodes.",
		}, []string{"stage", "transport"})

		queueCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cover_letter_queue_cache_lookups_total",
			Help: "Queue cache lookups by outcome.",
		}, []string{"outcome"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			coverLetterTransitions,
			coverLetterRoutedTotal,
			coverLetterReceivedTotal,
			queueCacheLookups,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// CoverLetterTransitions counts sign/advance attempts.
func CoverLetterTransitions() *prometheus.CounterVec {
	RegisterMetrics()
	return coverLetterTransitions
}

// CoverLetterRouted counts routing events published per target stage.
func CoverLetterRouted() *prometheus.CounterVec {
	RegisterMetrics()
	return coverLetterRoutedTotal
}

// CoverLetterRoutingReceived counts routing events consumed from the brokers.
func CoverLetterRoutingReceived() *prometheus.CounterVec {
	RegisterMetrics()
	return coverLetterReceivedTotal
}

// QueueCacheLookups counts queue cache hits and misses.
func QueueCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return queueCacheLookups
}
