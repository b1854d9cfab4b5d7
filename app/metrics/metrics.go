package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	authEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_events_total",
			Help: "Authentication operations by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	webhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Inbound webhook deliveries by outcome.",
		},
		[]string{"outcome"},
	)

	registerOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration, authEventsTotal, webhookEventsTotal)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestStarted and RequestFinished bracket one HTTP request. path should be
// the route template, not the raw URL, to keep label cardinality bounded.
func RequestStarted() {
	httpInFlight.Inc()
}

func RequestFinished(method, path string, status int, elapsed time.Duration) {
	code := strconv.Itoa(status)
	httpRequestDuration.WithLabelValues(method, path, code).Observe(elapsed.Seconds())
	httpRequestsTotal.WithLabelValues(method, path, code).Inc()
	httpInFlight.Dec()
}

func AuthEvent(action, outcome string) {
	authEventsTotal.WithLabelValues(action, outcome).Inc()
}

func WebhookEvent(outcome string) {
	webhookEventsTotal.WithLabelValues(outcome).Inc()
}
