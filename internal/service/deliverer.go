package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/provider"
	"github.com/kursadbilgin/notification-dispatch/internal/ratelimit"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"github.com/kursadbilgin/notification-dispatch/internal/resilience/circuitbreaker"
	"go.uber.org/zap"
)

const defaultSendTimeout = 10 * time.Second

// AdapterRegistry resolves the adapter for a channel.
type AdapterRegistry interface {
	Get(channel domain.Channel) (provider.Adapter, error)
}

// Deliverer performs one send of a persisted attempt and records the outcome.
// The dispatcher and the retry consumer share it.
type Deliverer struct {
	registry    AdapterRegistry
	limiter     ratelimit.RateLimiter
	breakers    *circuitbreaker.Set
	attempts    repository.AttemptRepository
	retries     RetryPlanner
	sendTimeout time.Duration
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

func NewDeliverer(
	registry AdapterRegistry,
	limiter ratelimit.RateLimiter,
	breakers *circuitbreaker.Set,
	attempts repository.AttemptRepository,
	retries RetryPlanner,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Deliverer, error) {
	if registry == nil {
		return nil, fmt.Errorf("adapter registry is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry planner is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if sendTimeout <= 0 {
		sendTimeout = defaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Deliverer{
		registry:    registry,
		limiter:     limiter,
		breakers:    breakers,
		attempts:    attempts,
		retries:     retries,
		sendTimeout: sendTimeout,
		logger:      logger,
		now:         time.Now,
	}, nil
}

func (d *Deliverer) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Deliver sends attempt through cfg and moves the row to sent, failed or retry.
// It runs detached from caller cancellation; only the send timeout bounds it.
func (d *Deliverer) Deliver(ctx context.Context, attempt domain.NotificationAttempt, cfg domain.ChannelConfig) domain.NotificationResult {
	ctx = context.WithoutCancel(ctx)
	channelName := attempt.Channel.String()
	logger := observability.AttemptLogger(d.logger, ctx, attempt.ID, attempt.UserID, channelName)

	sendErr := d.send(ctx, attempt, cfg, logger)
	if sendErr == nil {
		if _, err := d.attempts.MarkSent(ctx, attempt.ID, d.now().UTC()); err != nil {
			logger.Error("failed to record sent attempt", zap.Error(err))
		}
		d.metrics.IncNotificationSent(channelName)
		return resultFor(attempt, domain.ResultStatusSent, "")
	}

	errMsg := sendErr.Error()
	if !provider.IsRetryable(sendErr) {
		if _, err := d.attempts.MarkFailed(ctx, attempt.ID, errMsg); err != nil {
			logger.Error("failed to record failed attempt", zap.Error(err))
		}
		d.metrics.IncNotificationFailed(channelName, "permanent_error")
		logger.Warn("send failed permanently", zap.Error(sendErr))
		return resultFor(attempt, domain.ResultStatusFailed, errMsg)
	}

	scheduled, err := d.retries.ScheduleRetry(ctx, attempt, errMsg)
	if err != nil {
		logger.Warn("failed to schedule retry", zap.Error(err))
		return d.persistedResult(ctx, attempt, errMsg, logger)
	}
	if !scheduled {
		return resultFor(attempt, domain.ResultStatusFailed, errMsg)
	}
	return resultFor(attempt, domain.ResultStatusRetryScheduled, errMsg)
}

// persistedResult reports whatever state the row reached, for when this
// worker lost the transition to another one.
func (d *Deliverer) persistedResult(ctx context.Context, attempt domain.NotificationAttempt, errMsg string, logger *zap.Logger) domain.NotificationResult {
	current, err := d.attempts.GetByID(ctx, attempt.ID)
	if err != nil {
		logger.Error("failed to reload attempt", zap.Error(err))
		return resultFor(attempt, domain.ResultStatusFailed, errMsg)
	}
	result := domain.ResultFromAttempt(*current)
	if result.Status == domain.ResultStatusRetry {
		result.Status = domain.ResultStatusRetryScheduled
	}
	return result
}

func (d *Deliverer) send(ctx context.Context, attempt domain.NotificationAttempt, cfg domain.ChannelConfig, logger *zap.Logger) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	channelName := attempt.Channel.String()
	adapter, err := d.registry.Get(attempt.Channel)
	if err != nil {
		return err
	}

	if err := d.limiter.Wait(sendCtx, channelName); err != nil {
		return &provider.ProviderError{Message: "rate limiter wait failed", Retryable: true, Cause: err}
	}

	d.metrics.IncSendsInFlight(channelName)
	defer d.metrics.DecSendsInFlight(channelName)

	var result *provider.AdapterResult
	call := func() error {
		var sendErr error
		result, sendErr = adapter.Send(sendCtx, cfg, attempt.Content, attempt.Subject)
		return sendErr
	}

	start := d.now()
	if d.breakers != nil {
		err = d.breakers.Get(destinationKey(cfg)).Execute(call)
	} else {
		err = call()
	}
	d.metrics.ObserveNotificationSendDuration(channelName, d.now().Sub(start))

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return &provider.ProviderError{Message: "destination circuit open", Retryable: true, Cause: err}
	}
	if err == nil && result != nil && result.ProviderMessageID != "" {
		logger.Debug("provider accepted message", zap.String("providerMessageId", result.ProviderMessageID))
	}
	return err
}

// destinationKey names the breaker for cfg: channel plus endpoint host when
// the channel posts to a per-user URL.
func destinationKey(cfg domain.ChannelConfig) string {
	var raw string
	switch {
	case cfg.Settings.Webhook != nil:
		raw = cfg.Settings.Webhook.URL
	case cfg.Settings.Slack != nil:
		raw = cfg.Settings.Slack.WebhookURL
	case cfg.Settings.Lark != nil:
		raw = cfg.Settings.Lark.WebhookURL
	}

	if raw != "" {
		if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
			return cfg.Channel.String() + ":" + parsed.Host
		}
	}
	return cfg.Channel.String()
}

// IsBreakerFailure counts only retryable errors against a destination.
func IsBreakerFailure(err error) bool {
	return provider.IsRetryable(err)
}

func resultFor(attempt domain.NotificationAttempt, status domain.ResultStatus, errMsg string) domain.NotificationResult {
	result := domain.NotificationResult{
		MessageID:   attempt.ID,
		UserID:      attempt.UserID,
		ChannelType: attempt.Channel,
		Status:      status,
	}
	if errMsg != "" {
		result.Error = &errMsg
	}
	return result
}
