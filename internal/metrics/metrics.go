package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// EngineMetrics tracks the engine's request traffic plus per-operation
// business outcomes (checkout, callback, admin cancel).
type EngineMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
	Checkouts *prometheus.CounterVec
	Callbacks *prometheus.CounterVec
	Cancels   *prometheus.CounterVec
}

func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "engine",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "market",
		Subsystem: "engine",
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "engine",
		Name:      "checkouts_total",
		Help:      "Checkout attempts by outcome.",
	}, []string{"outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "engine",
		Name:      "payment_callbacks_total",
		Help:      "Provider callbacks by outcome, duplicates included.",
	}, []string{"outcome"})
	cancels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "market",
		Subsystem: "engine",
		Name:      "admin_cancels_total",
		Help:      "Admin cancellations by outcome.",
	}, []string{"outcome"})

	if registry == nil {
		prometheus.MustRegister(requests, latency, checkouts, callbacks, cancels)
	} else {
		registry.MustRegister(requests, latency, checkouts, callbacks, cancels)
	}

	return &EngineMetrics{
		Requests:  requests,
		LatencyMS: latency,
		Checkouts: checkouts,
		Callbacks: callbacks,
		Cancels:   cancels,
	}
}

// Middleware records request counts and latency per route template.
func (m *EngineMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		handler := c.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		m.Requests.WithLabelValues(handler, strconv.Itoa(c.Writer.Status())).Inc()
		m.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

// Handler exposes the metrics endpoint for the given registry; pass nil to
// serve the default registry.
func Handler(registry *prometheus.Registry) http.Handler {
	if registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
