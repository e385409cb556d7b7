// Package metrics records cloud transport request counts and latency and
// exposes them in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iotcloud"

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeTransport = "transport_error"
	OutcomeServer    = "server_error"
	OutcomeDecoding  = "decoding_error"
)

// Transport holds the request metrics for one registry.
type Transport struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTransport creates the transport metrics and registers them on a
// fresh registry.
func NewTransport() *Transport {
	t := &Transport{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Cloud API requests by HTTP method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Cloud API request latency by HTTP method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
	}

	t.registry.MustRegister(t.requests, t.duration)

	return t
}

// ObserveRequest records one completed request.
func (t *Transport) ObserveRequest(method, outcome string, elapsed time.Duration) {
	t.requests.WithLabelValues(method, outcome).Inc()
	t.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

// Handler serves the registry in Prometheus exposition format.
func (t *Transport) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the underlying registry.
func (t *Transport) Registry() *prometheus.Registry {
	return t.registry
}
