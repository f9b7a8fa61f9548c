package service

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/observability"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ConfigProvider reads active channel configs, usually through the config cache.
type ConfigProvider interface {
	GetChannelConfig(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error)
	GetActiveChannelConfigs(ctx context.Context, userID string, channels []domain.Channel) (map[domain.Channel]*domain.ChannelConfig, error)
}

// ContentRenderer renders a template for several channels at once.
type ContentRenderer interface {
	RenderForChannels(ctx context.Context, key string, channels []domain.Channel, vars map[string]string) (map[domain.Channel]domain.RenderedContent, error)
}

const (
	duplicatePollMin = 25 * time.Millisecond
	duplicatePollMax = 500 * time.Millisecond
	// duplicateWaitSlack covers persistence around the sends of the request
	// being waited on.
	duplicateWaitSlack = 5 * time.Second
)

// Dispatcher fans one request out to every configured channel of a user.
type Dispatcher struct {
	configs     ConfigProvider
	renderer    ContentRenderer
	idempotency *IdempotencyManager
	attempts    repository.AttemptRepository
	deliverer   *Deliverer
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
	newID       func() string

	duplicateWait time.Duration
}

func NewDispatcher(
	configs ConfigProvider,
	renderer ContentRenderer,
	idempotency *IdempotencyManager,
	attempts repository.AttemptRepository,
	deliverer *Deliverer,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if configs == nil {
		return nil, fmt.Errorf("config provider is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("content renderer is required")
	}
	if idempotency == nil {
		return nil, fmt.Errorf("idempotency manager is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if deliverer == nil {
		return nil, fmt.Errorf("deliverer is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		configs:     configs,
		renderer:    renderer,
		idempotency: idempotency,
		attempts:    attempts,
		deliverer:   deliverer,
		logger:      logger,
		now:         time.Now,
		newID:       domain.NewMessageID,

		duplicateWait: deliverer.sendTimeout + duplicateWaitSlack,
	}, nil
}

func (d *Dispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// SendNotification returns one result per channel that had an active config
// and renderable content, in request order. Other channels are skipped silently.
func (d *Dispatcher) SendNotification(ctx context.Context, req domain.DispatchRequest) ([]domain.NotificationResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := observability.Tracer().Start(ctx, "dispatcher.SendNotification")
	defer span.End()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(
		attribute.String("user.id", req.UserID),
		attribute.Int("channels.requested", len(req.Channels)),
	)

	if req.IdempotencyKey == nil {
		results, err := d.dispatch(ctx, req)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return results, err
	}

	key := *req.IdempotencyKey
	results, replayed, err := d.reserveOrReplay(ctx, key, req.UserID)
	if err != nil || replayed {
		return results, err
	}

	results, err = d.dispatch(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if releaseErr := d.idempotency.Release(context.WithoutCancel(ctx), key, req.UserID); releaseErr != nil {
			d.logger.Error("failed to release idempotency key",
				zap.String("userId", req.UserID),
				zap.Error(releaseErr),
			)
		}
		return nil, err
	}

	if err := d.idempotency.Record(context.WithoutCancel(ctx), key, req.UserID, messageIDs(results)); err != nil {
		d.logger.Error("failed to record idempotency key",
			zap.String("userId", req.UserID),
			zap.Error(err),
		)
	}
	return results, nil
}

// reserveOrReplay either claims key for this request or returns the results of
// the request that already completed it. While another request holds the key
// it polls until that request finishes, giving up with ErrConflict after
// duplicateWait.
func (d *Dispatcher) reserveOrReplay(ctx context.Context, key, userID string) ([]domain.NotificationResult, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, d.duplicateWait)
	defer cancel()

	backoff := duplicatePollMin
	for {
		check, err := d.idempotency.CheckDuplicate(ctx, key, userID)
		if err != nil {
			return nil, false, err
		}
		if check.Duplicate {
			d.metrics.IncIdempotentReplay()
			d.logger.Info("idempotent request replayed",
				zap.String("userId", userID),
				zap.Strings("messageIds", check.MessageIDs),
			)
			return check.Results, true, nil
		}

		if !check.InProgress {
			acquired, err := d.idempotency.Reserve(ctx, key, userID)
			if err != nil {
				return nil, false, err
			}
			if acquired {
				return nil, false, nil
			}
		}

		timer := time.NewTimer(backoff)
		select {
		case <-waitCtx.Done():
			timer.Stop()
			if err := ctx.Err(); err != nil {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("%w: a request with this idempotency key is in progress", domain.ErrConflict)
		case <-timer.C:
		}
		backoff = min(backoff*2, duplicatePollMax)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req domain.DispatchRequest) ([]domain.NotificationResult, error) {
	configs, err := d.configs.GetActiveChannelConfigs(ctx, req.UserID, req.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to load channel configs: %w", err)
	}

	configured := make([]domain.Channel, 0, len(req.Channels))
	for _, channel := range req.Channels {
		if cfg, ok := configs[channel]; ok && cfg != nil {
			configured = append(configured, channel)
			continue
		}
		d.metrics.IncChannelSkipped(channel.String(), "no_config")
		d.logger.Debug("channel skipped without active config",
			zap.String("userId", req.UserID),
			zap.String("channel", channel.String()),
		)
	}
	if len(configured) == 0 {
		return []domain.NotificationResult{}, nil
	}

	contents, err := d.contentFor(ctx, req, configured)
	if err != nil {
		return nil, err
	}

	targets := make([]domain.Channel, 0, len(configured))
	for _, channel := range configured {
		if _, ok := contents[channel]; ok {
			targets = append(targets, channel)
			continue
		}
		d.metrics.IncChannelSkipped(channel.String(), "no_content")
		d.logger.Debug("channel skipped without template content",
			zap.String("userId", req.UserID),
			zap.String("channel", channel.String()),
		)
	}

	results := make([]domain.NotificationResult, len(targets))
	var g errgroup.Group
	for i, channel := range targets {
		g.Go(func() error {
			results[i] = d.attemptChannel(ctx, req, *configs[channel], contents[channel])
			return nil
		})
	}
	_ = g.Wait()

	return results, nil
}

func (d *Dispatcher) contentFor(ctx context.Context, req domain.DispatchRequest, channels []domain.Channel) (map[domain.Channel]domain.RenderedContent, error) {
	if req.UsesTemplate() {
		rendered, err := d.renderer.RenderForChannels(ctx, *req.TemplateKey, channels, req.Variables)
		if err != nil {
			return nil, fmt.Errorf("failed to render template: %w", err)
		}
		return rendered, nil
	}

	out := make(map[domain.Channel]domain.RenderedContent, len(channels))
	for _, channel := range channels {
		out[channel] = domain.RenderedContent{
			Subject:     req.Subject,
			Content:     *req.Content,
			ContentType: domain.ContentTypeText,
		}
	}
	return out, nil
}

// attemptChannel persists the attempt row and hands it to the deliverer. A row
// that cannot be written fails only this channel.
func (d *Dispatcher) attemptChannel(ctx context.Context, req domain.DispatchRequest, cfg domain.ChannelConfig, content domain.RenderedContent) domain.NotificationResult {
	now := d.now().UTC()
	attempt := domain.NotificationAttempt{
		ID:          d.newID(),
		UserID:      req.UserID,
		Channel:     cfg.Channel,
		TemplateKey: req.TemplateKey,
		Subject:     content.Subject,
		Content:     content.Content,
		Status:      domain.AttemptStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := d.attempts.Create(ctx, &attempt); err != nil {
		d.logger.Error("failed to persist attempt",
			append(observability.AttemptFields(attempt.ID, attempt.UserID, attempt.Channel.String()), zap.Error(err))...,
		)
		// the id names no row, so it is neither returned nor recorded
		result := resultFor(attempt, domain.ResultStatusFailed, fmt.Sprintf("failed to persist attempt: %v", err))
		result.MessageID = ""
		return result
	}

	return d.deliverer.Deliver(ctx, attempt, cfg)
}

// GetAttempt returns the persisted attempt for messageID or domain.ErrNotFound.
func (d *Dispatcher) GetAttempt(ctx context.Context, messageID string) (*domain.NotificationAttempt, error) {
	return d.attempts.GetByID(ctx, messageID)
}

func (d *Dispatcher) GetResult(ctx context.Context, messageID string) (*domain.NotificationResult, error) {
	attempt, err := d.attempts.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	result := domain.ResultFromAttempt(*attempt)
	return &result, nil
}

func messageIDs(results []domain.NotificationResult) []string {
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if result.MessageID == "" {
			continue
		}
		ids = append(ids, result.MessageID)
	}
	return ids
}
