package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level     string
		debug     bool
		warnOnly  bool
		wantError bool
	}{
		{level: "debug", debug: true},
		{level: " INFO ", debug: false},
		{level: "", debug: false},
		{level: "warn", warnOnly: true},
		{level: "verbose", wantError: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.level, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tt.level, "worker")
			if tt.wantError {
				if err == nil || logger != nil {
					t.Fatalf("NewLogger(%q) = %v, %v, want error", tt.level, logger, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewLogger(%q) error = %v", tt.level, err)
			}

			core := logger.Core()
			if got := core.Enabled(zapcore.DebugLevel); got != tt.debug {
				t.Fatalf("debug enabled = %v, want %v", got, tt.debug)
			}
			if got := core.Enabled(zapcore.InfoLevel); got == tt.warnOnly {
				t.Fatalf("info enabled = %v with level %q", got, tt.level)
			}
		})
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	t.Parallel()

	if _, ok := CorrelationIDFromContext(context.Background()); ok {
		t.Fatal("background context must carry no correlation id")
	}
	if _, ok := CorrelationIDFromContext(WithCorrelationID(context.Background(), "")); ok {
		t.Fatal("an empty request id must not count as a correlation id")
	}

	ctx := WithCorrelationID(nil, "req-42")
	id, ok := CorrelationIDFromContext(ctx)
	if !ok || id != "req-42" {
		t.Fatalf("CorrelationIDFromContext() = %q, %v, want req-42", id, ok)
	}
}

func TestAttemptLoggerFields(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := WithCorrelationID(context.Background(), "req-42")
	AttemptLogger(base, ctx, "msg_1", "user-1", "slack").Info("retry scheduled")
	AttemptLogger(base, context.Background(), "msg_2", "", "").Info("sent")

	entries := recorded.All()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	first := entries[0].ContextMap()
	want := map[string]string{"correlationId": "req-42", "messageId": "msg_1", "userId": "user-1", "channel": "slack"}
	for key, value := range want {
		if first[key] != value {
			t.Fatalf("%s = %v, want %q (fields %v)", key, first[key], value, first)
		}
	}

	second := entries[1].ContextMap()
	if second["messageId"] != "msg_2" {
		t.Fatalf("messageId = %v, want msg_2", second["messageId"])
	}
	for _, key := range []string{"correlationId", "userId", "channel"} {
		if _, ok := second[key]; ok {
			t.Fatalf("field %s must be omitted when empty (fields %v)", key, second)
		}
	}

	if AttemptLogger(nil, ctx, "msg_1", "", "") != nil {
		t.Fatal("AttemptLogger(nil) must stay nil")
	}
}
