package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

const defaultHTTPTimeout = 10 * time.Second

// Adapter is the outbound delivery port of one channel.
type Adapter interface {
	Send(ctx context.Context, cfg domain.ChannelConfig, content string, subject *string) (*AdapterResult, error)
}

// AdapterResult stores provider call metadata for logging.
type AdapterResult struct {
	StatusCode        int
	Body              string
	ProviderMessageID string
}

// Registry resolves the adapter for a channel.
type Registry struct {
	adapters map[domain.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[domain.Channel]Adapter)}
}

func (r *Registry) Register(channel domain.Channel, adapter Adapter) *Registry {
	r.adapters[channel] = adapter
	return r
}

func (r *Registry) Get(channel domain.Channel) (Adapter, error) {
	adapter, ok := r.adapters[channel]
	if !ok {
		return nil, Permanent("no adapter registered for channel %q", channel)
	}
	return adapter, nil
}

// NewDefaultRegistry wires the built-in HTTP adapters on one resty client.
func NewDefaultRegistry(client *resty.Client, telegramBaseURL string) *Registry {
	if client == nil {
		client = NewHTTPClient(defaultHTTPTimeout)
	}
	return NewRegistry().
		Register(domain.ChannelWebhook, NewWebhookAdapter(client)).
		Register(domain.ChannelSlack, NewSlackAdapter(client)).
		Register(domain.ChannelLark, NewLarkAdapter(client)).
		Register(domain.ChannelTelegram, NewTelegramAdapter(client, telegramBaseURL))
}

// NewHTTPClient returns a resty client with retries disabled; retries are
// owned by the retry scheduler.
func NewHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := resty.New()
	client.SetTimeout(timeout)
	client.SetRetryCount(0)
	return client
}

func withSubject(subject *string, content string, format string) string {
	if subject == nil || *subject == "" {
		return content
	}
	return fmt.Sprintf(format, *subject, content)
}
