package models

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// PlatformError is a structured error from a platform API call. It carries the
// platform's own error message when one was present in the response body, and
// a retryability classification so the retry policy can distinguish transient
// failures (network, 5xx, rate limits) from terminal ones (auth, validation).
type PlatformError struct {
	Platform   Platform
	StatusCode int // 0 for transport-level failures
	Message    string
	Retryable  bool
}

func (e *PlatformError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Platform, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Platform, e.Message)
}

// NewPlatformError builds a PlatformError classifying retryability from the
// HTTP status: 5xx and 429 are transient, everything else is terminal.
// statusCode 0 means the request never completed and is treated as transient.
func NewPlatformError(platform Platform, statusCode int, message string) *PlatformError {
	retryable := statusCode == 0 ||
		statusCode >= http.StatusInternalServerError ||
		statusCode == http.StatusTooManyRequests
	return &PlatformError{
		Platform:   platform,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  retryable,
	}
}

// TerminalPlatformError builds a PlatformError that must never be retried
// regardless of status, e.g. an aggregate multi-destination failure whose
// destinations were already retried individually.
func TerminalPlatformError(platform Platform, message string) *PlatformError {
	return &PlatformError{Platform: platform, Message: message}
}

// IsRetryable reports whether err is worth another attempt. Typed platform
// errors carry their own classification; context cancellation is never
// retryable; anything else (raw transport errors) is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return true
}
