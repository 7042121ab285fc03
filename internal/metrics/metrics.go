// Package metrics exposes Prometheus collectors for the backlink monitor.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	checksTotal                *prometheus.CounterVec
	fetchDurationSeconds       prometheus.Histogram
	ssrfBlocksTotal            *prometheus.CounterVec
	transitionsTotal           *prometheus.CounterVec
	alertsTotal                *prometheus.CounterVec
	webhookDeliveriesTotal     *prometheus.CounterVec
	taskAttemptsTotal          *prometheus.CounterVec
	tasksExhaustedTotal        *prometheus.CounterVec
	activeWorkers              *prometheus.GaugeVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_checks_total",
				Help: "Total number of backlink checks, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "backlink_fetch_duration_seconds",
				Help:    "Histogram of source page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		ssrfBlocksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_ssrf_blocks_total",
				Help: "Total number of URLs rejected by the URL safety policy, labeled by stage.",
			},
			[]string{"stage"},
		)

		transitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_status_transitions_total",
				Help: "Total number of backlink status transitions, labeled by previous and new status.",
			},
			[]string{"from", "to"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_alerts_total",
				Help: "Total number of alerts raised, labeled by type and severity.",
			},
			[]string{"type", "severity"},
		)

		webhookDeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_webhook_deliveries_total",
				Help: "Total number of webhook delivery attempts, labeled by result.",
			},
			[]string{"result"},
		)

		taskAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_task_attempts_total",
				Help: "Total number of task attempts, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)

		tasksExhaustedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backlink_tasks_exhausted_total",
				Help: "Total number of tasks that failed every attempt, labeled by kind.",
			},
			[]string{"kind"},
		)

		activeWorkers = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "backlink_active_workers",
				Help: "Number of workers currently processing a task, labeled by pool.",
			},
			[]string{"pool"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "backlink_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latencies keyed by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		ObserveHTTPRequest(r.Method, route, status, time.Since(start))
	})
}

// ObserveCheck increments the check outcome counter and records fetch latency when one happened.
func ObserveCheck(outcome string, fetchDuration time.Duration) {
	checksTotal.WithLabelValues(outcome).Inc()
	if fetchDuration > 0 {
		fetchDurationSeconds.Observe(fetchDuration.Seconds())
	}
}

// ObserveSSRFBlock counts a URL rejected at validation or dial time.
func ObserveSSRFBlock(stage string) {
	ssrfBlocksTotal.WithLabelValues(stage).Inc()
}

// ObserveTransition counts a status transition.
func ObserveTransition(from, to string) {
	transitionsTotal.WithLabelValues(from, to).Inc()
}

// ObserveAlert counts a raised alert.
func ObserveAlert(alertType, severity string) {
	alertsTotal.WithLabelValues(alertType, severity).Inc()
}

// ObserveWebhookDelivery counts a delivery attempt.
func ObserveWebhookDelivery(result string) {
	webhookDeliveriesTotal.WithLabelValues(result).Inc()
}

// ObserveTaskAttempt counts a task attempt.
func ObserveTaskAttempt(kind, result string) {
	taskAttemptsTotal.WithLabelValues(kind, result).Inc()
}

// ObserveTaskExhausted counts a task that ran out of attempts.
func ObserveTaskExhausted(kind string) {
	tasksExhaustedTotal.WithLabelValues(kind).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers(pool string) {
	activeWorkers.WithLabelValues(pool).Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
