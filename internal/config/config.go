package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	APIPort  int    `env:"API_PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	RateLimitPerSec   int           `env:"RATE_LIMIT_PER_SEC,default=100"`
	ChannelRateLimits string        `env:"CHANNEL_RATE_LIMITS"`
	WorkerConcurrency int           `env:"WORKER_CONCURRENCY,default=4"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT,default=10s"`

	RetryMaxCount int    `env:"RETRY_MAX_COUNT,default=3"`
	RetryDelays   string `env:"RETRY_DELAYS,default=5s|15s|45s"`

	IdempotencyTTL   time.Duration `env:"IDEMPOTENCY_TTL,default=24h"`
	TemplateCacheTTL time.Duration `env:"TEMPLATE_CACHE_TTL,default=5m"`
	ConfigCacheTTL   time.Duration `env:"CONFIG_CACHE_TTL,default=10m"`

	HousekeepingCron string        `env:"HOUSEKEEPING_CRON,default=@every 1h"`
	StaleRetryAfter  time.Duration `env:"STALE_RETRY_AFTER,default=5m"`

	KafkaBrokers         string `env:"KAFKA_BROKERS"`
	KafkaDeadLetterTopic string `env:"KAFKA_DEAD_LETTER_TOPIC,default=notification-dead-letters"`

	TelegramAPIURL string `env:"TELEGRAM_API_URL,default=https://api.telegram.org"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.RetryDelayList(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if _, err := cfg.ChannelRateLimitMap(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.RetryMaxCount < 0 {
		return nil, fmt.Errorf("failed to load config: RETRY_MAX_COUNT must not be negative")
	}
	return &cfg, nil
}

// RetryDelayList parses RETRY_DELAYS. Entries are separated by "|" or ",".
func (c *Config) RetryDelayList() ([]time.Duration, error) {
	fields := strings.FieldsFunc(c.RetryDelays, func(r rune) bool { return r == '|' || r == ',' })
	if len(fields) == 0 {
		return nil, fmt.Errorf("RETRY_DELAYS must contain at least one duration")
	}

	delays := make([]time.Duration, 0, len(fields))
	for _, f := range fields {
		d, err := time.ParseDuration(strings.TrimSpace(f))
		if err != nil {
			return nil, fmt.Errorf("invalid RETRY_DELAYS entry %q: %w", f, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("RETRY_DELAYS entry %q must be positive", f)
		}
		delays = append(delays, d)
	}
	return delays, nil
}

// KafkaBrokerList returns the configured brokers, or nil when Kafka mirroring is disabled.
func (c *Config) KafkaBrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// ChannelRateLimitMap parses CHANNEL_RATE_LIMITS, e.g. "telegram=30|slack=1".
func (c *Config) ChannelRateLimitMap() (map[string]int, error) {
	limits := make(map[string]int)
	for _, entry := range strings.FieldsFunc(c.ChannelRateLimits, func(r rune) bool { return r == '|' || r == ',' }) {
		name, raw, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("invalid CHANNEL_RATE_LIMITS entry %q", entry)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("CHANNEL_RATE_LIMITS entry %q must be a positive integer", entry)
		}
		limits[strings.ToLower(strings.TrimSpace(name))] = limit
	}
	return limits, nil
}
