package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Channel represents a delivery mechanism.
type Channel string

const (
	ChannelWebhook  Channel = "webhook"
	ChannelTelegram Channel = "telegram"
	ChannelLark     Channel = "lark"
	ChannelSlack    Channel = "slack"
)

var supportedChannels = []Channel{
	ChannelWebhook,
	ChannelTelegram,
	ChannelLark,
	ChannelSlack,
}

func (c Channel) String() string { return string(c) }

func (c Channel) IsValid() bool {
	switch c {
	case ChannelWebhook, ChannelTelegram, ChannelLark, ChannelSlack:
		return true
	}
	return false
}

// SupportedChannels returns every channel the dispatcher knows about.
func SupportedChannels() []Channel {
	out := make([]Channel, len(supportedChannels))
	copy(out, supportedChannels)
	return out
}

func ParseChannelFromString(s string) (Channel, error) {
	ch := Channel(strings.ToLower(strings.TrimSpace(s)))
	if !ch.IsValid() {
		return "", fmt.Errorf("%w: unknown channel %q", ErrValidation, s)
	}
	return ch, nil
}

// WebhookSettings configures a generic JSON webhook destination.
type WebhookSettings struct {
	URL     string            `json:"url"`
	Secret  string            `json:"secret,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// TelegramSettings configures a Telegram bot destination.
type TelegramSettings struct {
	BotToken  string `json:"botToken"`
	ChatID    string `json:"chatId"`
	ParseMode string `json:"parseMode,omitempty"`
}

// LarkSettings configures a Lark custom bot webhook.
type LarkSettings struct {
	WebhookURL string `json:"webhookUrl"`
	Secret     string `json:"secret,omitempty"`
}

// SlackSettings configures a Slack incoming webhook.
type SlackSettings struct {
	WebhookURL string `json:"webhookUrl"`
	Channel    string `json:"channel,omitempty"`
	Username   string `json:"username,omitempty"`
}

// ChannelSettings holds exactly one channel-specific settings variant,
// selected by the channel the config belongs to.
type ChannelSettings struct {
	Webhook  *WebhookSettings
	Telegram *TelegramSettings
	Lark     *LarkSettings
	Slack    *SlackSettings
}

// DecodeChannelSettings parses the persisted JSON blob into the variant for channel.
func DecodeChannelSettings(channel Channel, raw []byte) (ChannelSettings, error) {
	var settings ChannelSettings
	if len(raw) == 0 {
		raw = []byte("{}")
	}

	var target any
	switch channel {
	case ChannelWebhook:
		settings.Webhook = &WebhookSettings{}
		target = settings.Webhook
	case ChannelTelegram:
		settings.Telegram = &TelegramSettings{}
		target = settings.Telegram
	case ChannelLark:
		settings.Lark = &LarkSettings{}
		target = settings.Lark
	case ChannelSlack:
		settings.Slack = &SlackSettings{}
		target = settings.Slack
	default:
		return ChannelSettings{}, fmt.Errorf("%w: unknown channel %q", ErrValidation, channel)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return ChannelSettings{}, fmt.Errorf("%w: malformed %s settings: %v", ErrValidation, channel, err)
	}
	return settings, nil
}

// EncodeChannelSettings serializes the variant matching channel.
func EncodeChannelSettings(channel Channel, settings ChannelSettings) ([]byte, error) {
	var source any
	switch channel {
	case ChannelWebhook:
		source = settings.Webhook
	case ChannelTelegram:
		source = settings.Telegram
	case ChannelLark:
		source = settings.Lark
	case ChannelSlack:
		source = settings.Slack
	default:
		return nil, fmt.Errorf("%w: unknown channel %q", ErrValidation, channel)
	}
	return json.Marshal(source)
}

// Validate checks that the variant for channel is present and usable.
func (s ChannelSettings) Validate(channel Channel) error {
	switch channel {
	case ChannelWebhook:
		if s.Webhook == nil {
			return fmt.Errorf("%w: webhook settings are required", ErrValidation)
		}
		return validateURL("webhook url", s.Webhook.URL)
	case ChannelTelegram:
		if s.Telegram == nil {
			return fmt.Errorf("%w: telegram settings are required", ErrValidation)
		}
		if strings.TrimSpace(s.Telegram.BotToken) == "" {
			return fmt.Errorf("%w: telegram bot token is required", ErrValidation)
		}
		if strings.TrimSpace(s.Telegram.ChatID) == "" {
			return fmt.Errorf("%w: telegram chat id is required", ErrValidation)
		}
		return nil
	case ChannelLark:
		if s.Lark == nil {
			return fmt.Errorf("%w: lark settings are required", ErrValidation)
		}
		return validateURL("lark webhook url", s.Lark.WebhookURL)
	case ChannelSlack:
		if s.Slack == nil {
			return fmt.Errorf("%w: slack settings are required", ErrValidation)
		}
		return validateURL("slack webhook url", s.Slack.WebhookURL)
	}
	return fmt.Errorf("%w: unknown channel %q", ErrValidation, channel)
}

func validateURL(field string, raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	parsed, err := url.ParseRequestURI(trimmed)
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: %s is invalid", ErrValidation, field)
	}
	return nil
}

// ChannelConfig is a user's configuration for one channel.
type ChannelConfig struct {
	ID        string
	UserID    string
	Channel   Channel
	Settings  ChannelSettings
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SystemSetting is a flat system-wide key/value pair.
type SystemSetting struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}
