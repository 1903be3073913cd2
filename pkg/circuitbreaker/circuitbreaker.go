// Package circuitbreaker stops calling a dependency after repeated failures
// and retries it after a cool-down. Request handlers use it so they do
// not wait on an unavailable Redis.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the dependency while the
// breaker is open or its half-open trial call is in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// Settings configure a breaker. Zero values take the defaults noted.
type Settings struct {
	Name string

	// Failures is how many consecutive failures open the breaker. Default 5.
	Failures int

	// CoolDown is how long the breaker stays open before a trial call. Default 30s.
	CoolDown time.Duration

	// Counts reports whether err is a dependency failure. Default: any error.
	Counts func(err error) bool

	OnStateChange func(name string, from, to State)

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// Breaker guards calls to one dependency. It is safe for concurrent use.
type Breaker struct {
	s Settings

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	inTrial   bool
	rejected  int64
	succeeded int64
}

// New creates a closed breaker.
func New(s Settings) *Breaker {
	if s.Failures <= 0 {
		s.Failures = 5
	}
	if s.CoolDown <= 0 {
		s.CoolDown = 30 * time.Second
	}
	if s.Counts == nil {
		s.Counts = func(err error) bool { return err != nil }
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{s: s}
}

// Execute calls fn unless the breaker rejects the call, and records the outcome.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	trial, err := b.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)
	b.record(trial, err != nil && b.s.Counts(err))
	return err
}

// admit decides whether a call may proceed. Once the cool-down has passed
// a single caller is let through as the half-open trial.
func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return false, nil
	case StateOpen:
		if b.s.Now().Sub(b.openedAt) < b.s.CoolDown {
			b.rejected++
			return false, ErrCircuitOpen
		}
		b.transition(StateHalfOpen)
		b.inTrial = true
		return true, nil
	default:
		if b.inTrial {
			b.rejected++
			return false, ErrCircuitOpen
		}
		b.inTrial = true
		return true, nil
	}
}

func (b *Breaker) record(trial, failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if trial {
		b.inTrial = false
	}

	if !failed {
		b.succeeded++
		b.failures = 0
		if b.state == StateHalfOpen {
			b.transition(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.s.Failures {
		b.openedAt = b.s.Now()
		b.transition(StateOpen)
	}
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if to != StateOpen {
		b.failures = 0
	}
	if b.s.OnStateChange != nil {
		b.s.OnStateChange(b.s.Name, from, to)
	}
}

// State returns the current state. An open breaker past its cool-down
// still reports open until the next call tries it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns how many calls were rejected and how many succeeded.
func (b *Breaker) Stats() (rejected, succeeded int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rejected, b.succeeded
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.s.Name
}

// RedisBreaker returns the breaker for the staged selection store. A
// cancelled request says nothing about Redis health and is not counted.
func RedisBreaker(onStateChange func(name string, from, to State)) *Breaker {
	return New(Settings{
		Name:     "redis-selection",
		Failures: 3,
		CoolDown: 15 * time.Second,
		Counts: func(err error) bool {
			return err != nil && !errors.Is(err, context.Canceled)
		},
		OnStateChange: onStateChange,
	})
}
