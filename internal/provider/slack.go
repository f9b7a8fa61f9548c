package provider

import (
	"context"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

type slackRequest struct {
	Text     string `json:"text"`
	Channel  string `json:"channel,omitempty"`
	Username string `json:"username,omitempty"`
}

// SlackAdapter delivers through a Slack incoming webhook.
type SlackAdapter struct {
	client *resty.Client
}

func NewSlackAdapter(client *resty.Client) *SlackAdapter {
	return &SlackAdapter{client: client}
}

func (a *SlackAdapter) Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*AdapterResult, error) {
	if err := cfg.Settings.Validate(domain.ChannelSlack); err != nil {
		return nil, &ProviderError{Message: "invalid slack config", Retryable: false, Cause: err}
	}
	settings := cfg.Settings.Slack

	result, _, err := postJSON(ctx, a.client, settings.WebhookURL, nil, slackRequest{
		Text:     withSubject(subject, content, "*%s*\n%s"),
		Channel:  settings.Channel,
		Username: settings.Username,
	})
	return result, err
}
