package observability

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsDeliveryCollectors(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()

	metrics.IncNotificationSent("Webhook")
	metrics.IncNotificationFailed("webhook", "permanent_error")
	metrics.ObserveNotificationSendDuration("webhook", 120*time.Millisecond)
	metrics.IncSendsInFlight("webhook")
	metrics.DecSendsInFlight("webhook")
	metrics.IncRetryScheduled("webhook")
	metrics.IncDeadLetter("webhook")
	metrics.IncChannelSkipped("telegram", "no_config")
	metrics.IncIdempotentReplay()

	if got := testutil.ToFloat64(metrics.deadLettersTotal.WithLabelValues("webhook")); got != 1 {
		t.Fatalf("dead_letters_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.channelsSkippedTotal.WithLabelValues("telegram", "no_config")); got != 1 {
		t.Fatalf("channels_skipped_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.idempotentReplaysTotal); got != 1 {
		t.Fatalf("idempotent_replays_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsSentTotal.WithLabelValues("webhook")); got != 1 {
		t.Fatalf("notifications_sent_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.notificationsFailedTotal.WithLabelValues("webhook", "permanent_error")); got != 1 {
		t.Fatalf("notifications_failed_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.retryScheduledTotal.WithLabelValues("webhook")); got != 1 {
		t.Fatalf("retry_scheduled_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.sendsInflight.WithLabelValues("webhook")); got != 0 {
		t.Fatalf("sends_inflight = %v, want 0", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsRequest(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	req := httptest.NewRequest("GET", "/livez", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/livez", "200")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}

func TestMetricsHTTPMiddlewareRecordsErrorStatus(t *testing.T) {
	t.Parallel()

	metrics := NewMetrics()
	app := fiber.New()
	app.Use(metrics.HTTPMiddleware())
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("boom")
	})

	req := httptest.NewRequest("GET", "/boom", nil)
	_, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.httpRequestsTotal.WithLabelValues("GET", "/boom", "500")); got != 1 {
		t.Fatalf("http_requests_total = %v, want 1", got)
	}
}
