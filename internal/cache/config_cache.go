package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultConfigTTL  = 10 * time.Minute
	DefaultSettingTTL = 10 * time.Minute
)

type ChannelConfigReader interface {
	GetActive(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error)
}

type SettingReader interface {
	Get(ctx context.Context, key string) (*domain.SystemSetting, error)
}

// ConfigCache is a read-through cache in front of channel configs and
// system settings. Only active configs are cached.
type ConfigCache struct {
	store    Store
	configs  ChannelConfigReader
	settings SettingReader
	ttl      time.Duration
	logger   *zap.Logger
}

func NewConfigCache(store Store, configs ChannelConfigReader, settings SettingReader, ttl time.Duration, logger *zap.Logger) *ConfigCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = DefaultConfigTTL
	}
	return &ConfigCache{
		store:    store,
		configs:  configs,
		settings: settings,
		ttl:      ttl,
		logger:   logger,
	}
}

type cachedChannelConfig struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	Channel   domain.Channel  `json:"channel"`
	Settings  json.RawMessage `json:"settings"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func channelConfigKey(userID string, channel domain.Channel) string {
	return fmt.Sprintf("channel_config:%s:%s", userID, channel)
}

func settingKey(key string) string {
	return "setting:" + key
}

// GetChannelConfig returns the active config for (user, channel), or nil
// when there is none.
func (c *ConfigCache) GetChannelConfig(ctx context.Context, userID string, channel domain.Channel) (*domain.ChannelConfig, error) {
	key := channelConfigKey(userID, channel)

	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		cfg, decodeErr := decodeChannelConfig(raw)
		if decodeErr == nil {
			return cfg, nil
		}
		c.logger.Warn("discarding undecodable cached channel config",
			zap.String("userId", userID),
			zap.String("channel", channel.String()),
			zap.Error(decodeErr),
		)
	case !errors.Is(err, ErrCacheMiss):
		c.logger.Warn("config cache read failed, falling back to store",
			zap.String("userId", userID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
	}

	cfg, err := c.configs.GetActive(ctx, userID, channel)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load channel config: %w", err)
	}
	if cfg == nil || !cfg.Active {
		return nil, nil
	}

	c.SetChannelConfig(ctx, cfg)
	return cfg, nil
}

// GetActiveChannelConfigs loads configs for channels in parallel. Channels
// without an active config are absent from the result.
func (c *ConfigCache) GetActiveChannelConfigs(ctx context.Context, userID string, channels []domain.Channel) (map[domain.Channel]*domain.ChannelConfig, error) {
	var (
		mu  sync.Mutex
		out = make(map[domain.Channel]*domain.ChannelConfig, len(channels))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, channel := range channels {
		channel := channel
		g.Go(func() error {
			cfg, err := c.GetChannelConfig(gctx, userID, channel)
			if err != nil {
				return err
			}
			if cfg == nil {
				return nil
			}
			mu.Lock()
			out[channel] = cfg
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// SetChannelConfig writes cfg into the cache. Inactive configs evict the entry instead.
func (c *ConfigCache) SetChannelConfig(ctx context.Context, cfg *domain.ChannelConfig) {
	if cfg == nil {
		return
	}
	if !cfg.Active {
		_ = c.InvalidateChannelConfig(ctx, cfg.UserID, cfg.Channel)
		return
	}

	raw, err := encodeChannelConfig(cfg)
	if err == nil {
		err = c.store.Set(ctx, channelConfigKey(cfg.UserID, cfg.Channel), raw, c.ttl)
	}
	if err != nil {
		c.logger.Warn("config cache write failed",
			zap.String("userId", cfg.UserID),
			zap.String("channel", cfg.Channel.String()),
			zap.Error(err),
		)
	}
}

func (c *ConfigCache) InvalidateChannelConfig(ctx context.Context, userID string, channel domain.Channel) error {
	if err := c.store.Delete(ctx, channelConfigKey(userID, channel)); err != nil {
		c.logger.Warn("config cache invalidation failed",
			zap.String("userId", userID),
			zap.String("channel", channel.String()),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// GetSetting returns the value of a system setting and whether it exists.
func (c *ConfigCache) GetSetting(ctx context.Context, key string) (string, bool, error) {
	raw, err := c.store.Get(ctx, settingKey(key))
	if err == nil {
		return string(raw), true, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("setting cache read failed, falling back to store", zap.String("key", key), zap.Error(err))
	}

	setting, err := c.settings.Get(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("load setting %s: %w", key, err)
	}

	c.SetSetting(ctx, key, setting.Value)
	return setting.Value, true, nil
}

func (c *ConfigCache) SetSetting(ctx context.Context, key, value string) {
	if err := c.store.Set(ctx, settingKey(key), []byte(value), DefaultSettingTTL); err != nil {
		c.logger.Warn("setting cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *ConfigCache) InvalidateSetting(ctx context.Context, key string) error {
	if err := c.store.Delete(ctx, settingKey(key)); err != nil {
		c.logger.Warn("setting cache invalidation failed", zap.String("key", key), zap.Error(err))
		return err
	}
	return nil
}

func encodeChannelConfig(cfg *domain.ChannelConfig) ([]byte, error) {
	settings, err := domain.EncodeChannelSettings(cfg.Channel, cfg.Settings)
	if err != nil {
		return nil, err
	}
	return json.Marshal(cachedChannelConfig{
		ID:        cfg.ID,
		UserID:    cfg.UserID,
		Channel:   cfg.Channel,
		Settings:  settings,
		CreatedAt: cfg.CreatedAt,
		UpdatedAt: cfg.UpdatedAt,
	})
}

func decodeChannelConfig(raw []byte) (*domain.ChannelConfig, error) {
	var cached cachedChannelConfig
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	settings, err := domain.DecodeChannelSettings(cached.Channel, cached.Settings)
	if err != nil {
		return nil, err
	}
	return &domain.ChannelConfig{
		ID:        cached.ID,
		UserID:    cached.UserID,
		Channel:   cached.Channel,
		Settings:  settings,
		Active:    true,
		CreatedAt: cached.CreatedAt,
		UpdatedAt: cached.UpdatedAt,
	}, nil
}
