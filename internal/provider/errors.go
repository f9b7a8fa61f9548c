package provider

import (
	"errors"
	"fmt"
	"strings"
)

// ProviderError classifies adapter failures as retryable or permanent.
type ProviderError struct {
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Permanent builds a non-retryable error, used for bad configuration and
// other failures that a resend cannot fix.
func Permanent(format string, args ...any) *ProviderError {
	return &ProviderError{Message: fmt.Sprintf(format, args...), Retryable: false}
}

// IsRetryable reports whether a failed send should be retried. Only errors
// explicitly classified as permanent are not; network failures, timeouts and
// unclassified errors are retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Retryable
	}

	return true
}
