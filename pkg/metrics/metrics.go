package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// WebhookEventsTotal counts processed provider webhook events by type and outcome
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_webhook_events_total",
			Help: "Total number of billing webhook events processed",
		},
		[]string{"type", "outcome"},
	)

	// TrialsStartedTotal counts trials started by plan code
	TrialsStartedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_trials_started_total",
			Help: "Total number of trials started",
		},
		[]string{"plan"},
	)

	// CheckoutSessionsTotal counts hosted checkout sessions created
	CheckoutSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "billing_checkout_sessions_total",
			Help: "Total number of checkout sessions created",
		},
	)

	// UsageReportsTotal counts usage report rows by outcome
	UsageReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "billing_usage_reports_total",
			Help: "Total number of usage report rows sent",
		},
		[]string{"outcome"},
	)
)

// Handler returns the Prometheus scrape handler wrapped for echo.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}

// Middleware records request counts and latency per route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}

			// route pattern, not raw URI, to bound label cardinality
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}

			HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
