// Package retry holds the backoff policy shared by the embedding and LLM call sites.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 200 * time.Millisecond
	DefaultMaxDelay    = 5 * time.Second
	DefaultMultiplier  = 2.0
	DefaultJitter      = 0.2
)

// Policy is a bounded exponential backoff with jitter.
// CallTimeout, when set, bounds every single attempt.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64
	CallTimeout time.Duration
}

// DefaultPolicy returns the policy used when nothing is configured
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Multiplier:  DefaultMultiplier,
		Jitter:      DefaultJitter,
	}
}

// permanent marks an error that must not be retried
type permanent struct{ err error }

func (p *permanent) Error() string { return p.err.Error() }
func (p *permanent) Unwrap() error { return p.err }

// Permanent wraps err so Do returns it immediately without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanent{err: err}
}

// Do runs fn until it succeeds, returns a permanent error, the attempts are
// exhausted or ctx is done. Each attempt gets its own timeout derived from ctx.
func Do[T any](ctx context.Context, p Policy, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := runAttempt(ctx, p.CallTimeout, fn)
		if err == nil {
			return result, nil
		}

		var perm *permanent
		if errors.As(err, &perm) {
			return zero, perm.err
		}
		lastErr = err

		// Don't retry once the caller has given up
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == attempts {
			break
		}

		wait := p.backoff(delay)
		log.Warn().Err(err).Str("op", op).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying call")
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay = p.next(delay)
	}

	return zero, lastErr
}

// runAttempt runs a single attempt under the per-call timeout
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}

func (p Policy) backoff(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter <= 0 {
		return d
	}
	// spread the delay by +/- Jitter
	spread := (rand.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(d) * (1 + spread))
}

func (p Policy) next(d time.Duration) time.Duration {
	m := p.Multiplier
	if m < 1 {
		m = 1
	}
	d = time.Duration(float64(d) * m)
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}
