// Package retry runs an operation repeatedly under a configurable policy.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	mrand "math/rand"
	"time"

	"github.com/bryonbaker/playerstats/internal/config"
)

// ErrExhausted is returned by Do when every attempt failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy decides how many attempts an operation gets and how long to wait
// after each failed attempt.
type Policy interface {
	// MaxAttempts returns the total number of attempts, including the first.
	MaxAttempts() int

	// Backoff returns the wait after the given failed attempt (0-based).
	Backoff(attempt int) time.Duration
}

// Backoff is an exponential backoff policy with optional jitter. The zero
// Initial value retries immediately.
type Backoff struct {
	Attempts   int
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Ensure Backoff satisfies the Policy interface at compile time.
var _ Policy = Backoff{}

// FromConfig builds a Backoff policy from the retry configuration block.
func FromConfig(cfg config.RetryConfig) Backoff {
	return Backoff{
		Attempts:   cfg.MaxAttempts,
		Initial:    cfg.InitialBackoff.Duration,
		Max:        cfg.MaxBackoff.Duration,
		Multiplier: cfg.BackoffMultiplier,
		Jitter:     cfg.Jitter,
	}
}

// MaxAttempts returns the configured attempt count, never less than one.
func (b Backoff) MaxAttempts() int {
	if b.Attempts < 1 {
		return 1
	}
	return b.Attempts
}

// Backoff computes min(Initial * Multiplier^attempt, Max) +/- Jitter%.
func (b Backoff) Backoff(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	backoff := float64(b.Initial) * math.Pow(b.Multiplier, float64(attempt))
	if b.Max > 0 && backoff > float64(b.Max) {
		backoff = float64(b.Max)
	}

	jitterRange := backoff * b.Jitter
	// nolint: gosec // jitter does not need cryptographic randomness.
	backoff = backoff + (mrand.Float64()*2-1)*jitterRange

	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// permanentError marks an error that must not be retried.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so that Do stops retrying and returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Notify is called after each failed attempt that will be retried.
type Notify func(attempt int, wait time.Duration, err error)

// Do calls fn until it succeeds, returns a Permanent error, the policy runs
// out of attempts, or ctx is done. notify may be nil.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error, notify Notify) error {
	attempts := p.MaxAttempts()
	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		if notify != nil {
			notify(attempt+1, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("retry interrupted after %d attempts: %w: %w", attempt+1, err, lastErr)
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
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
