package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/notification-dispatch/internal/domain"
)

// RetryMessage asks the retry consumer to resend one attempt. RetryCount is
// the attempt's retry count at the time the retry was scheduled.
type RetryMessage struct {
	AttemptID   string    `json:"attemptId"`
	RetryCount  int       `json:"retryCount"`
	ScheduledAt time.Time `json:"scheduledAt"`
	ProcessAt   time.Time `json:"processAt"`
}

func (m RetryMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if m.RetryCount < 1 {
		return fmt.Errorf("retryCount must be positive, got %d", m.RetryCount)
	}
	return nil
}

// DeadLetterMessage records an attempt that exhausted its retries.
type DeadLetterMessage struct {
	AttemptID  string         `json:"attemptId"`
	UserID     string         `json:"userId"`
	Channel    domain.Channel `json:"channel"`
	RetryCount int            `json:"retryCount"`
	Error      string         `json:"error"`
	FailedAt   time.Time      `json:"failedAt"`
}

func (m DeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.AttemptID) == "" {
		return fmt.Errorf("attemptId is required")
	}
	if m.Channel != "" && !m.Channel.IsValid() {
		return fmt.Errorf("invalid channel %q", m.Channel)
	}
	return nil
}
