package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fileup"

// Metrics are the receiving server's Prometheus collectors
type Metrics struct {
	filesReceived   prometheus.Counter
	bytesReceived   prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration prometheus.Histogram
}

// NewMetrics registers the server collectors on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		filesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "files_received_total",
			Help:      "Total number of files stored",
		}),

		bytesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "bytes_received_total",
			Help:      "Total number of file bytes stored",
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "requests_total",
			Help:      "Total number of upload requests by status code",
		}, []string{"code"}),

		requestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "server",
			Name:      "request_duration_seconds",
			Help:      "Upload request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}
