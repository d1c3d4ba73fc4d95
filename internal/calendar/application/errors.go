package application

import (
	"context"
	"errors"
	"fmt"
)

// ProviderError carries the HTTP status returned by a calendar backend so
// callers can distinguish transient failures from permanent ones.
type ProviderError struct {
	Provider   string
	Operation  string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s failed with status %d: %s", e.Provider, e.Operation, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s %s failed: %s", e.Provider, e.Operation, e.Message)
}

// Retryable reports whether the failure is worth retrying. Rate limiting and
// server-side errors are transient; auth and validation failures are not.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsRetryable classifies an error from a calendar provider call. Cancelled
// contexts are never retried. Unknown errors are treated as transient network
// failures.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return provErr.Retryable()
	}
	return true
}
