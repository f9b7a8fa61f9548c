package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/repository"
	"go.uber.org/zap"
)

// ConfigCacheWriter is the write side of the config cache.
type ConfigCacheWriter interface {
	SetChannelConfig(ctx context.Context, cfg *domain.ChannelConfig)
	InvalidateChannelConfig(ctx context.Context, userID string, channel domain.Channel) error
	SetSetting(ctx context.Context, key, value string)
	InvalidateSetting(ctx context.Context, key string) error
}

// TemplateInvalidator drops a cached template.
type TemplateInvalidator interface {
	Invalidate(ctx context.Context, key string) error
}

// AdminService writes channel configs and settings and keeps the cache in step.
type AdminService struct {
	configs   repository.ChannelConfigRepository
	settings  repository.SettingRepository
	cache     ConfigCacheWriter
	templates TemplateInvalidator
	logger    *zap.Logger
}

func NewAdminService(
	configs repository.ChannelConfigRepository,
	settings repository.SettingRepository,
	cache ConfigCacheWriter,
	templates TemplateInvalidator,
	logger *zap.Logger,
) (*AdminService, error) {
	if configs == nil {
		return nil, fmt.Errorf("channel config repository is required")
	}
	if settings == nil {
		return nil, fmt.Errorf("setting repository is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("config cache is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AdminService{
		configs:   configs,
		settings:  settings,
		cache:     cache,
		templates: templates,
		logger:    logger,
	}, nil
}

// UpsertChannelConfig validates raw settings for channel and stores them.
func (s *AdminService) UpsertChannelConfig(ctx context.Context, userID string, channel domain.Channel, raw []byte, active bool) (*domain.ChannelConfig, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if !channel.IsValid() {
		return nil, fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, channel)
	}

	settings, err := domain.DecodeChannelSettings(channel, raw)
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(channel); err != nil {
		return nil, err
	}

	cfg := &domain.ChannelConfig{
		UserID:   userID,
		Channel:  channel,
		Settings: settings,
		Active:   active,
	}
	if err := s.configs.Upsert(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to store channel config: %w", err)
	}

	s.cache.SetChannelConfig(ctx, cfg)
	s.logger.Info("channel config updated",
		zap.String("userId", userID),
		zap.String("channel", channel.String()),
		zap.Bool("active", active),
	)
	return cfg, nil
}

func (s *AdminService) InvalidateChannelConfig(ctx context.Context, userID string, channel domain.Channel) error {
	if !channel.IsValid() {
		return fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, channel)
	}
	return s.cache.InvalidateChannelConfig(ctx, userID, channel)
}

func (s *AdminService) UpsertSetting(ctx context.Context, key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%w: setting key is required", domain.ErrValidation)
	}
	if key == MaxRetryCountSetting {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s must be a non-negative integer", domain.ErrValidation, key)
		}
	}

	if err := s.settings.Upsert(ctx, key, value); err != nil {
		return fmt.Errorf("failed to store setting: %w", err)
	}
	s.cache.SetSetting(ctx, key, value)
	s.logger.Info("setting updated", zap.String("key", key))
	return nil
}

func (s *AdminService) InvalidateTemplate(ctx context.Context, key string) error {
	if s.templates == nil {
		return nil
	}
	return s.templates.Invalidate(ctx, key)
}
