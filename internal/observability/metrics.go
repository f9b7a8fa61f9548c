package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the dispatch and retry flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal        *prometheus.CounterVec
	httpRequestDuration      *prometheus.HistogramVec
	notificationsSentTotal   *prometheus.CounterVec
	notificationsFailedTotal *prometheus.CounterVec
	notificationSendDuration *prometheus.HistogramVec
	sendsInflight            *prometheus.GaugeVec
	retryScheduledTotal      *prometheus.CounterVec
	deadLettersTotal         *prometheus.CounterVec
	channelsSkippedTotal     *prometheus.CounterVec
	idempotentReplaysTotal   prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_dispatch",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		notificationsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "notifications_sent_total",
				Help:      "Total number of channel attempts delivered successfully.",
			},
			[]string{"channel"},
		),
		notificationsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "notifications_failed_total",
				Help:      "Total number of channel attempts that ended in failed state.",
			},
			[]string{"channel", "reason"},
		),
		notificationSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "notification_dispatch",
				Name:      "notification_send_duration_seconds",
				Help:      "Adapter send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		sendsInflight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "notification_dispatch",
				Name:      "sends_inflight",
				Help:      "Current number of in-flight adapter sends grouped by channel.",
			},
			[]string{"channel"},
		),
		retryScheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "retry_scheduled_total",
				Help:      "Total number of channel attempts scheduled for retry.",
			},
			[]string{"channel"},
		),
		deadLettersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "dead_letters_total",
				Help:      "Total number of attempts forwarded to the dead-letter queue.",
			},
			[]string{"channel"},
		),
		channelsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "channels_skipped_total",
				Help:      "Requested channels skipped for missing config or template content.",
			},
			[]string{"channel", "reason"},
		),
		idempotentReplaysTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "notification_dispatch",
				Name:      "idempotent_replays_total",
				Help:      "Requests answered from a recorded idempotency key.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.notificationsSentTotal,
		m.notificationsFailedTotal,
		m.notificationSendDuration,
		m.sendsInflight,
		m.retryScheduledTotal,
		m.deadLettersTotal,
		m.channelsSkippedTotal,
		m.idempotentReplaysTotal,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncNotificationSent(channel string) {
	if m == nil {
		return
	}
	m.notificationsSentTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncNotificationFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	m.notificationsFailedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveNotificationSendDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.notificationSendDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncSendsInFlight(channel string) {
	if m == nil {
		return
	}
	m.sendsInflight.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) DecSendsInFlight(channel string) {
	if m == nil {
		return
	}
	m.sendsInflight.WithLabelValues(normalizeChannel(channel)).Dec()
}

func (m *Metrics) IncDeadLetter(channel string) {
	if m == nil {
		return
	}
	m.deadLettersTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncChannelSkipped(channel string, reason string) {
	if m == nil {
		return
	}
	m.channelsSkippedTotal.WithLabelValues(normalizeChannel(channel), reason).Inc()
}

func (m *Metrics) IncIdempotentReplay() {
	if m == nil {
		return
	}
	m.idempotentReplaysTotal.Inc()
}

func (m *Metrics) IncRetryScheduled(channel string) {
	if m == nil {
		return
	}
	m.retryScheduledTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
