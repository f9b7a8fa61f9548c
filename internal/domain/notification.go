package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	MaxChannelsPerRequest = 16
	MaxRawContentLength   = 20000
	MaxSubjectLength      = 500
	MaxIdempotencyKeyLen  = 255
)

// DefaultIdempotencyTTL is how long a recorded idempotency key suppresses repeats.
const DefaultIdempotencyTTL = 24 * time.Hour

// DefaultIdempotencyLease bounds how long an uncompleted reservation blocks its key.
const DefaultIdempotencyLease = 5 * time.Minute

// DispatchRequest asks for one notification to be delivered to a user on several channels.
type DispatchRequest struct {
	UserID         string
	Channels       []Channel
	TemplateKey    *string
	Variables      map[string]string
	Subject        *string
	Content        *string
	IdempotencyKey *string
}

// UsesTemplate reports whether content comes from a template rather than raw input.
func (r *DispatchRequest) UsesTemplate() bool {
	return r.TemplateKey != nil && strings.TrimSpace(*r.TemplateKey) != ""
}

// Normalize trims inputs and drops duplicate channels, preserving first occurrence order.
func (r *DispatchRequest) Normalize() {
	r.UserID = strings.TrimSpace(r.UserID)
	r.TemplateKey = normalizeOptional(r.TemplateKey)
	r.IdempotencyKey = normalizeOptional(r.IdempotencyKey)
	r.Subject = normalizeOptional(r.Subject)

	if len(r.Channels) > 0 {
		seen := make(map[Channel]struct{}, len(r.Channels))
		unique := make([]Channel, 0, len(r.Channels))
		for _, ch := range r.Channels {
			if _, ok := seen[ch]; ok {
				continue
			}
			seen[ch] = struct{}{}
			unique = append(unique, ch)
		}
		r.Channels = unique
	}
}

func (r *DispatchRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrValidation)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("%w: at least one channel is required", ErrValidation)
	}
	if len(r.Channels) > MaxChannelsPerRequest {
		return fmt.Errorf("%w: at most %d channels are allowed", ErrValidation, MaxChannelsPerRequest)
	}
	for _, ch := range r.Channels {
		if !ch.IsValid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, ch)
		}
	}

	if r.UsesTemplate() {
		if r.Content != nil {
			return fmt.Errorf("%w: templateKey and content are mutually exclusive", ErrValidation)
		}
	} else {
		if r.Content == nil || strings.TrimSpace(*r.Content) == "" {
			return fmt.Errorf("%w: either templateKey or content is required", ErrValidation)
		}
		if n := len([]rune(*r.Content)); n > MaxRawContentLength {
			return fmt.Errorf("%w: content exceeds %d characters (got %d)", ErrValidation, MaxRawContentLength, n)
		}
	}

	if r.Subject != nil && len([]rune(*r.Subject)) > MaxSubjectLength {
		return fmt.Errorf("%w: subject exceeds %d characters", ErrValidation, MaxSubjectLength)
	}
	if r.IdempotencyKey != nil && len(*r.IdempotencyKey) > MaxIdempotencyKeyLen {
		return fmt.Errorf("%w: idempotency key exceeds %d characters", ErrValidation, MaxIdempotencyKeyLen)
	}

	return nil
}

// ResultStatus is the caller-visible outcome of one channel attempt.
type ResultStatus string

const (
	ResultStatusSent           ResultStatus = "sent"
	ResultStatusFailed         ResultStatus = "failed"
	ResultStatusRetry          ResultStatus = "retry"
	ResultStatusRetryScheduled ResultStatus = "retry_scheduled"
)

func (s ResultStatus) String() string { return string(s) }

// NotificationResult is returned once per channel actually attempted.
type NotificationResult struct {
	MessageID   string
	UserID      string
	ChannelType Channel
	Status      ResultStatus
	Error       *string
}

// ResultFromAttempt maps the persisted attempt state to a caller-facing result.
// A pending row has a send in flight and reports retry, the only non-terminal
// status callers know.
func ResultFromAttempt(a NotificationAttempt) NotificationResult {
	var status ResultStatus
	switch a.Status {
	case AttemptStatusSent:
		status = ResultStatusSent
	case AttemptStatusFailed:
		status = ResultStatusFailed
	case AttemptStatusRetry, AttemptStatusPending:
		status = ResultStatusRetry
	default:
		status = ResultStatusFailed
	}

	return NotificationResult{
		MessageID:   a.ID,
		UserID:      a.UserID,
		ChannelType: a.Channel,
		Status:      status,
		Error:       a.Error,
	}
}

// IdempotencyRecord binds an idempotency key of a user to the message ids it produced.
// A record with a nil CompletedAt is a reservation whose dispatch is still in flight.
type IdempotencyRecord struct {
	ID          string
	Key         string
	UserID      string
	MessageIDs  []string
	CompletedAt *time.Time
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

func (r *IdempotencyRecord) IsCompleted() bool {
	return r != nil && r.CompletedAt != nil
}

func normalizeOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
