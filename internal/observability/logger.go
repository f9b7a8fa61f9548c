package observability

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const serviceName = "notification-dispatch"

type correlationIDKey struct{}

// NewLogger builds the JSON process logger. Every line carries the service
// name and, when set, the role of the process (serve, worker, migrate ...).
func NewLogger(level, role string) (*zap.Logger, error) {
	atomicLevel, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomicLevel
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	cfg.InitialFields = map[string]any{"service": serviceName}
	if role = strings.TrimSpace(role); role != "" {
		cfg.InitialFields["role"] = role
	}

	logger, err := cfg.Build(zap.AddCaller())
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}

// parseLevel accepts zap level names case-insensitively; empty means info.
func parseLevel(level string) (zap.AtomicLevel, error) {
	normalized := strings.ToLower(strings.TrimSpace(level))
	if normalized == "" {
		return zap.NewAtomicLevelAt(zapcore.InfoLevel), nil
	}

	parsed, err := zap.ParseAtomicLevel(normalized)
	if err != nil {
		return zap.AtomicLevel{}, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return parsed, nil
}

// WithCorrelationID tags ctx with the request id that produced a dispatch, so
// every attempt logged on its behalf can be traced back to the API call.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}

func CorrelationIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	correlationID, ok := ctx.Value(correlationIDKey{}).(string)
	return correlationID, ok && correlationID != ""
}

// WithContextLogger adds the correlation id carried by ctx, if any.
func WithContextLogger(logger *zap.Logger, ctx context.Context) *zap.Logger {
	if logger == nil {
		return nil
	}
	if correlationID, ok := CorrelationIDFromContext(ctx); ok {
		return logger.With(zap.String("correlationId", correlationID))
	}
	return logger
}

// AttemptLogger scopes logger to one channel attempt of a dispatch.
func AttemptLogger(logger *zap.Logger, ctx context.Context, messageID, userID, channel string) *zap.Logger {
	logger = WithContextLogger(logger, ctx)
	if logger == nil {
		return nil
	}
	return logger.With(AttemptFields(messageID, userID, channel)...)
}

// AttemptFields identify a single channel attempt; empty values are omitted.
func AttemptFields(messageID, userID, channel string) []zap.Field {
	fields := make([]zap.Field, 0, 3)
	if messageID != "" {
		fields = append(fields, zap.String("messageId", messageID))
	}
	if userID != "" {
		fields = append(fields, zap.String("userId", userID))
	}
	if channel != "" {
		fields = append(fields, zap.String("channel", channel))
	}
	return fields
}
