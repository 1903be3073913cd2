package http

import (
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter hands out one token bucket per client IP. A client may burst
// up to limit requests and then gets limit per window.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	every    rate.Limit
	burst    int
	idle     time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		every:    rate.Every(window / time.Duration(limit)),
		burst:    limit,
		idle:     window,
		stop:     make(chan struct{}),
	}
	go rl.evictLoop(window)
	return rl
}

// Allow takes a token for key.
func (rl *rateLimiter) Allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	c, ok := rl.visitors[key]
	if !ok {
		c = &visitor{limiter: rate.NewLimiter(rl.every, rl.burst)}
		rl.visitors[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// RetryAfter is the Retry-After value in seconds: the time one token takes
// to refill.
func (rl *rateLimiter) RetryAfter() string {
	secs := int(time.Duration(float64(time.Second) / float64(rl.every)).Seconds())
	return strconv.Itoa(max(secs, 1))
}

// Stop ends the eviction goroutine.
func (rl *rateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// evictLoop forgets clients idle for longer than a full window. A forgotten
// client comes back with a full bucket, which it would have had anyway.
func (rl *rateLimiter) evictLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case now := <-ticker.C:
			rl.evictIdle(now)
		}
	}
}

func (rl *rateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, c := range rl.visitors {
		if now.Sub(c.lastSeen) > rl.idle {
			delete(rl.visitors, key)
		}
	}
}
