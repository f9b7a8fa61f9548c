package provider

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const (
	HeaderSignature = "X-Notify-Signature"
	HeaderTimestamp = "X-Notify-Timestamp"
)

type webhookRequest struct {
	Subject *string `json:"subject,omitempty"`
	Content string  `json:"content"`
	SentAt  string  `json:"sentAt"`
}

// WebhookAdapter posts a JSON payload to the user's endpoint, signed when a
// secret is configured.
type WebhookAdapter struct {
	client *resty.Client
	now    func() time.Time
}

func NewWebhookAdapter(client *resty.Client) *WebhookAdapter {
	return &WebhookAdapter{client: client, now: time.Now}
}

func (a *WebhookAdapter) Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*AdapterResult, error) {
	if err := cfg.Settings.Validate(domain.ChannelWebhook); err != nil {
		return nil, &ProviderError{Message: "invalid webhook config", Retryable: false, Cause: err}
	}
	settings := cfg.Settings.Webhook
	now := a.now().UTC()

	payload, err := json.Marshal(webhookRequest{
		Subject: subject,
		Content: content,
		SentAt:  now.Format(time.RFC3339),
	})
	if err != nil {
		return nil, &ProviderError{Message: "encode webhook payload", Retryable: false, Cause: err}
	}

	headers := make(map[string]string, len(settings.Headers)+2)
	for k, v := range settings.Headers {
		headers[k] = v
	}
	if settings.Secret != "" {
		signature, ts := SignPayload(settings.Secret, payload, now)
		headers[HeaderSignature] = signature
		headers[HeaderTimestamp] = strconv.FormatInt(ts, 10)
	}

	result, _, err := postJSON(ctx, a.client, settings.URL, headers, payload)
	return result, err
}
