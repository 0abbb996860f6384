package domain

import (
	"errors"
	"fmt"
	"time"
)

// RateLimitError signals backpressure from the remote service.
// It is never surfaced past the delivery client.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// RemoteError is an unsuccessful, non rate-limit response from the remote service
type RemoteError struct {
	Status int    // HTTP status, 0 when unknown
	Code   int    // Platform error code
	Body   string // Platform error message or raw body
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: status=%d code=%d body=%s", e.Status, e.Code, e.Body)
}

// AsRateLimit extracts a RateLimitError from err
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
