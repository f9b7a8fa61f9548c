package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// AttemptStatus is the lifecycle state of a single (notification, channel) send effort.
type AttemptStatus string

const (
	AttemptStatusPending AttemptStatus = "pending"
	AttemptStatusSent    AttemptStatus = "sent"
	AttemptStatusRetry   AttemptStatus = "retry"
	AttemptStatusFailed  AttemptStatus = "failed"
)

func (s AttemptStatus) String() string { return string(s) }

func (s AttemptStatus) IsValid() bool {
	switch s {
	case AttemptStatusPending, AttemptStatusSent, AttemptStatusRetry, AttemptStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSent || s == AttemptStatusFailed
}

// CanTransitionTo encodes the attempt state machine:
// pending -> sent|retry|failed, retry -> pending|sent|retry|failed.
// retry -> pending is the claim taken by a retry consumer before resending.
func (s AttemptStatus) CanTransitionTo(next AttemptStatus) bool {
	switch s {
	case AttemptStatusPending:
		return next == AttemptStatusSent || next == AttemptStatusRetry || next == AttemptStatusFailed
	case AttemptStatusRetry:
		return next == AttemptStatusPending || next == AttemptStatusSent || next == AttemptStatusRetry || next == AttemptStatusFailed
	}
	return false
}

func ParseAttemptStatusFromString(s string) (AttemptStatus, error) {
	st := AttemptStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// NotificationAttempt is the persisted audit row for one channel send.
type NotificationAttempt struct {
	ID          string
	UserID      string
	Channel     Channel
	TemplateKey *string
	Subject     *string
	Content     string
	Status      AttemptStatus
	RetryCount  int
	Error       *string
	NextRetryAt *time.Time
	CreatedAt   time.Time
	SentAt      *time.Time
	UpdatedAt   time.Time
}

// NewMessageID returns a sortable, prefixed message id.
func NewMessageID() string {
	id := ulid.MustNew(ulid.Now(), rand.Reader)
	return fmt.Sprintf("msg_%s", id.String())
}
