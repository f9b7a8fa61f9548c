package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
	"github.com/kursadbilgin/notification-dispatch/internal/queue"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRetryPolicyDelayFor(t *testing.T) {
	t.Parallel()

	policy := DefaultRetryPolicy()
	tests := []struct {
		count int
		want  time.Duration
	}{
		{count: -1, want: 5 * time.Second},
		{count: 0, want: 5 * time.Second},
		{count: 1, want: 15 * time.Second},
		{count: 2, want: 45 * time.Second},
		{count: 7, want: 45 * time.Second},
	}

	for _, tt := range tests {
		if got := policy.DelayFor(tt.count); got != tt.want {
			t.Errorf("DelayFor(%d) = %s, want %s", tt.count, got, tt.want)
		}
	}
}

func TestNewRetrySchedulerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRetryScheduler(nil, &fakePublisher{}, nil, DefaultRetryPolicy(), nil); err == nil {
		t.Fatal("expected error when attempt repository is nil")
	}
	if _, err := NewRetryScheduler(newMemAttemptRepo(), nil, nil, DefaultRetryPolicy(), nil); err == nil {
		t.Fatal("expected error when publisher is nil")
	}

	s, err := NewRetryScheduler(newMemAttemptRepo(), &fakePublisher{}, nil, RetryPolicy{MaxRetries: 2}, nil)
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}
	if len(s.policy.Delays) != 3 {
		t.Fatalf("delays = %v, want defaults", s.policy.Delays)
	}
}

func TestRetrySchedulerMaxRetriesSettingOverride(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	settings := &fakeSettingProvider{values: map[string]string{MaxRetryCountSetting: "5"}}
	s, err := NewRetryScheduler(newMemAttemptRepo(), &fakePublisher{}, settings, DefaultRetryPolicy(), zap.New(core))
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	if got := s.MaxRetries(context.Background()); got != 5 {
		t.Fatalf("MaxRetries() = %d, want 5", got)
	}

	settings.values[MaxRetryCountSetting] = "many"
	if got := s.MaxRetries(context.Background()); got != 3 {
		t.Fatalf("MaxRetries() invalid = %d, want 3", got)
	}
	if logs.FilterMessage("invalid retry setting, using default").Len() != 1 {
		t.Fatal("expected a warning for the invalid setting")
	}

	settings.err = errors.New("redis down")
	if got := s.MaxRetries(context.Background()); got != 3 {
		t.Fatalf("MaxRetries() on error = %d, want 3", got)
	}
}

func TestRetrySchedulerZeroMaxFailsImmediately(t *testing.T) {
	t.Parallel()

	attempts := newMemAttemptRepo()
	attempts.put(domain.NotificationAttempt{ID: "msg_1", UserID: "u", Channel: domain.ChannelWebhook, Status: domain.AttemptStatusPending})
	publisher := &fakePublisher{}
	settings := &fakeSettingProvider{values: map[string]string{MaxRetryCountSetting: "0"}}

	s, err := NewRetryScheduler(attempts, publisher, settings, DefaultRetryPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	scheduled, err := s.ScheduleRetry(context.Background(), attempts.get("msg_1"), "timeout")
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if scheduled {
		t.Fatal("ScheduleRetry() = true, want false at the ceiling")
	}

	row := attempts.get("msg_1")
	if row.Status != domain.AttemptStatusFailed {
		t.Fatalf("status = %s, want failed", row.Status)
	}
	if publisher.deadLetterCount() != 1 {
		t.Fatalf("dead letters = %d, want 1", publisher.deadLetterCount())
	}
	dead := publisher.deadLetters[0]
	if dead.AttemptID != "msg_1" || dead.Channel != domain.ChannelWebhook || dead.UserID != "u" {
		t.Fatalf("dead letter = %+v", dead)
	}
}

func TestRetrySchedulerEnqueueFailureMarksFailed(t *testing.T) {
	t.Parallel()

	attempts := newMemAttemptRepo()
	attempts.put(domain.NotificationAttempt{ID: "msg_1", Channel: domain.ChannelSlack, Status: domain.AttemptStatusPending})
	publisher := &fakePublisher{
		publishRetryFn: func(ctx context.Context, msg queue.RetryMessage, delay time.Duration) error {
			return errors.New("channel closed")
		},
	}

	s, err := NewRetryScheduler(attempts, publisher, nil, DefaultRetryPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	scheduled, err := s.ScheduleRetry(context.Background(), attempts.get("msg_1"), "503")
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if scheduled {
		t.Fatal("ScheduleRetry() = true, want false when enqueue fails")
	}

	row := attempts.get("msg_1")
	if row.Status != domain.AttemptStatusFailed || row.RetryCount != 1 {
		t.Fatalf("row = %s/%d, want failed/1", row.Status, row.RetryCount)
	}
	if publisher.deadLetterCount() != 1 {
		t.Fatalf("dead letters = %d, want 1", publisher.deadLetterCount())
	}
	if publisher.deadLetters[0].RetryCount != 1 {
		t.Fatalf("dead letter retry count = %d, want 1", publisher.deadLetters[0].RetryCount)
	}
}

func TestRetrySchedulerStaleCountConflicts(t *testing.T) {
	t.Parallel()

	attempts := newMemAttemptRepo()
	attempts.put(domain.NotificationAttempt{ID: "msg_1", Channel: domain.ChannelLark, Status: domain.AttemptStatusPending, RetryCount: 2})
	publisher := &fakePublisher{}

	s, err := NewRetryScheduler(attempts, publisher, nil, DefaultRetryPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	stale := attempts.get("msg_1")
	stale.RetryCount = 1
	_, err = s.ScheduleRetry(context.Background(), stale, "503")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ScheduleRetry() error = %v, want ErrConflict", err)
	}
	if _, ok := publisher.lastRetry(); ok {
		t.Fatal("no retry may be published for a stale count")
	}
}

func TestRetrySchedulerMarkRetryErrorFailsAndDeadLetters(t *testing.T) {
	t.Parallel()

	attempts := newMemAttemptRepo()
	attempts.put(domain.NotificationAttempt{ID: "msg_1", UserID: "user-1", Channel: domain.ChannelWebhook, Status: domain.AttemptStatusPending})
	attempts.markRetryErr = errors.New("connection reset")
	publisher := &fakePublisher{}

	s, err := NewRetryScheduler(attempts, publisher, nil, DefaultRetryPolicy(), zap.NewNop())
	if err != nil {
		t.Fatalf("NewRetryScheduler() error = %v", err)
	}

	scheduled, err := s.ScheduleRetry(context.Background(), attempts.get("msg_1"), "503")
	if err != nil {
		t.Fatalf("ScheduleRetry() error = %v", err)
	}
	if scheduled {
		t.Fatal("ScheduleRetry() = true, want false when the retry cannot be persisted")
	}

	row := attempts.get("msg_1")
	if row.Status != domain.AttemptStatusFailed {
		t.Fatalf("status = %s, want failed", row.Status)
	}
	if _, ok := publisher.lastRetry(); ok {
		t.Fatal("no retry may be published when the row was not moved to retry")
	}
	if publisher.deadLetterCount() != 1 {
		t.Fatalf("dead letters = %d, want 1", publisher.deadLetterCount())
	}
}
