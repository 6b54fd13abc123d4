package registry

import (
	"errors"
	"fmt"
	"time"
)

// RegistryError is a non-2xx response from the registry. 4xx responses are
// terminal and never retried; the server's message is preserved.
type RegistryError struct {
	StatusCode int
	Message    string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("registry error (%d): %s", e.StatusCode, e.Message)
}

// RateLimitError is a 429 response. It is terminal for the current call: the
// caller decides whether to come back after ResetAt, the client never burns
// retry attempts on it.
type RateLimitError struct {
	Message   string
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitError) Error() string {
	if e.ResetAt.IsZero() {
		return "registry rate limit exceeded"
	}
	wait := time.Until(e.ResetAt).Round(time.Second)
	if wait < 0 {
		wait = 0
	}
	return fmt.Sprintf("registry rate limit exceeded, retry in %s (resets at %s)",
		wait, e.ResetAt.Format(time.RFC3339))
}

// retryableError marks transport failures and 5xx responses for the retry
// loop.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// isRetryableError reports whether the retry loop should try again.
func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
