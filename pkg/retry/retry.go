// Package retry re-runs failing operations with capped exponential backoff.
// Storage connects at startup and event handlers use it.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

// markedError tags an error as worth retrying or as final.
type markedError struct {
	err       error
	permanent bool
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as transient.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err}
}

// Permanent marks err as final. Do returns it unwrapped without retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, permanent: true}
}

// IsRetryable reports whether err was marked with Retryable.
func IsRetryable(err error) bool {
	var m *markedError
	return errors.As(err, &m) && !m.permanent
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var m *markedError
	return errors.As(err, &m) && m.permanent
}

// strip removes the outer marker, if any.
func strip(err error) error {
	var m *markedError
	if errors.As(err, &m) && m == err {
		return m.err
	}
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// POLICY
// ══════════════════════════════════════════════════════════════════════════════

// policy is the retry configuration of a Retrier.
type policy struct {
	attempts   int
	initial    time.Duration
	max        time.Duration
	multiplier float64
	jitter     float64

	// shouldRetry decides for unmarked errors. Nil retries only Retryable errors.
	shouldRetry func(error) bool
	onRetry     func(attempt int, err error, delay time.Duration)
}

// Option configures a Retrier.
type Option func(*policy)

// WithMaxAttempts sets the total number of attempts, the first included.
func WithMaxAttempts(n int) Option {
	return func(p *policy) {
		if n > 0 {
			p.attempts = n
		}
	}
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.initial = d
		}
	}
}

// WithMaxDelay caps the wait between attempts.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) {
		if d > 0 {
			p.max = d
		}
	}
}

// WithMultiplier sets the backoff growth factor. Values below 1 are ignored.
func WithMultiplier(m float64) Option {
	return func(p *policy) {
		if m >= 1 {
			p.multiplier = m
		}
	}
}

// WithJitter spreads each delay by up to ±j of itself. j must be in [0, 1].
func WithJitter(j float64) Option {
	return func(p *policy) {
		if j >= 0 && j <= 1 {
			p.jitter = j
		}
	}
}

// WithRetryIf retries unmarked errors for which fn returns true.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.shouldRetry = fn }
}

// WithOnRetry registers a callback run before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(p *policy) { p.onRetry = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under one policy. It is safe for concurrent use.
type Retrier struct {
	p policy
}

// New creates a Retrier. Without options it makes three attempts starting
// at 100ms with 10% jitter.
func New(opts ...Option) *Retrier {
	p := policy{
		attempts:   3,
		initial:    100 * time.Millisecond,
		max:        30 * time.Second,
		multiplier: 2,
		jitter:     0.1,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return &Retrier{p: p}
}

// Do runs operation until it succeeds, fails permanently, runs out of
// attempts or ctx ends. The returned error carries no retry marker.
func (r *Retrier) Do(ctx context.Context, operation func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return strip(last)
			}
			return err
		}

		err := operation(ctx)
		if err == nil {
			return nil
		}
		last = err

		if IsPermanent(err) || !r.retries(err) || attempt >= r.p.attempts {
			return strip(err)
		}

		delay := r.backoff(attempt)
		if r.p.onRetry != nil {
			r.p.onRetry(attempt, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return strip(last)
		case <-timer.C:
		}
	}
}

func (r *Retrier) retries(err error) bool {
	if IsRetryable(err) {
		return true
	}
	return r.p.shouldRetry != nil && r.p.shouldRetry(err)
}

// backoff returns the wait after the given attempt: initial·multiplier^(attempt-1),
// capped at max, then jittered.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := float64(r.p.initial) * math.Pow(r.p.multiplier, float64(attempt-1))
	d = math.Min(d, float64(r.p.max))

	if r.p.jitter > 0 {
		d += d * r.p.jitter * (2*rand.Float64() - 1)
	}
	return time.Duration(math.Max(d, 0))
}

// Do runs operation with a one-off Retrier.
func Do(ctx context.Context, operation func(ctx context.Context) error, opts ...Option) error {
	return New(opts...).Do(ctx, operation)
}

// DoWithData is Do for operations that produce a value.
func DoWithData[T any](ctx context.Context, operation func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	var out T
	err := New(opts...).Do(ctx, func(ctx context.Context) error {
		v, err := operation(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// ══════════════════════════════════════════════════════════════════════════════
// PRESETS
// ══════════════════════════════════════════════════════════════════════════════

// DatabaseRetrier retries the first database connect. Every error counts.
func DatabaseRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(5),
		WithInitialDelay(200*time.Millisecond),
		WithMaxDelay(5*time.Second),
		WithJitter(0.1),
		WithRetryIf(func(error) bool { return true }),
		WithOnRetry(onRetry),
	)
}

// RedisRetrier retries connecting to Redis and subscribing to the event channel.
func RedisRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(5),
		WithInitialDelay(100*time.Millisecond),
		WithMaxDelay(3*time.Second),
		WithMultiplier(1.5),
		WithJitter(0.1),
		WithRetryIf(func(error) bool { return true }),
		WithOnRetry(onRetry),
	)
}

// HandlerRetrier retries event handlers that return a Retryable error.
func HandlerRetrier(onRetry func(attempt int, err error, delay time.Duration)) *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0.05),
		WithOnRetry(onRetry),
	)
}
