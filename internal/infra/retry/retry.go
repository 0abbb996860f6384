package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy is a bounded exponential backoff with jitter.
// It is meant for transient failures with client-computed delays; rate limits
// with a server-dictated delay are handled by the delivery client instead.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	Jitter      float64 // 0..1, fraction of the delay randomised in both directions

	// Retryable decides whether err is worth another attempt; nil retries everything
	Retryable func(err error) bool
	// OnRetry is called before sleeping between attempts
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the startup connection policy: 5 attempts, 1s doubling up to 16s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    16 * time.Second,
		Factor:      2,
		Jitter:      0.5,
	}
}

// FixedPolicy retries attempts times with a constant delay and no jitter
func FixedPolicy(attempts int, delay time.Duration) Policy {
	return Policy{
		MaxAttempts: attempts,
		BaseDelay:   delay,
		MaxDelay:    delay,
		Factor:      1,
	}
}

// ExhaustedError is returned when every attempt failed
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// BackOff returns a fresh delay schedule for the policy
func (p Policy) BackOff() backoff.BackOff {
	if p.Factor <= 1 && p.Jitter <= 0 {
		return backoff.NewConstantBackOff(p.BaseDelay)
	}

	factor := p.Factor
	if factor < 1 {
		factor = 1
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = backoff.DefaultMaxInterval
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: jitter,
		Multiplier:          factor,
		MaxInterval:         maxDelay,
	}
}

// Do calls fn until it succeeds, the error is not retryable, ctx is done,
// or MaxAttempts is reached. The attempt number passed to fn is 1-based.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var (
		attempt   int
		permanent bool
	)
	operation := func() (struct{}, error) {
		attempt++
		err := fn(attempt)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			permanent = true
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, delay time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.BackOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(notify),
	)
	switch {
	case err == nil:
		return nil
	case permanent:
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return &ExhaustedError{Attempts: attempt, Err: err}
}

// Wait sleeps for d or until ctx is done
func Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
