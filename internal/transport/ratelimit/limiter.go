// Package ratelimit implements the per-mint token bucket described in
// §4.3: capacity C, continuous refill at r tokens/minute, FIFO queue for
// requests that arrive with an empty bucket, and bypass prefixes that skip
// the bucket entirely. No third-party limiter matches this exact
// continuous-refill + FIFO-queue + bypass-prefix shape (see DESIGN.md), so
// this is a small, deliberately bespoke implementation.
package ratelimit

import (
	"context"
	"math"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity and DefaultRefillPerMinute match the spec's suggested
// defaults (§4.3: "capacity C (default 20-25)").
const (
	DefaultCapacity        = 20
	DefaultRefillPerMinute = 20
)

// Limiter is a single mint's token bucket.
type Limiter struct {
	mu             sync.Mutex
	capacity       float64
	refillPerMs    float64
	tokens         float64
	lastRefill     time.Time
	waiters        []chan struct{}
	bypassPrefixes []string
	wakeTimer      *time.Timer
	now            func() time.Time // overridable for tests
}

// Option configures a Limiter at construction time.
type Option func(*Limiter)

// WithBypassPrefixes marks path prefixes (e.g. "/v1/info") that skip the
// bucket entirely.
func WithBypassPrefixes(prefixes ...string) Option {
	return func(l *Limiter) { l.bypassPrefixes = append(l.bypassPrefixes, prefixes...) }
}

// WithClock overrides the limiter's notion of "now", for deterministic
// tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New builds a Limiter with the given capacity and refill rate (tokens per
// minute). The bucket starts full.
func New(capacity float64, refillPerMinute float64, opts ...Option) *Limiter {
	l := &Limiter{
		capacity:    capacity,
		refillPerMs: refillPerMinute / 60000,
		tokens:      capacity,
		now:         time.Now,
	}

	for _, o := range opts {
		o(l)
	}

	l.lastRefill = l.now()

	return l
}

// Bypassed reports whether path skips the bucket.
func (l *Limiter) Bypassed(path string) bool {
	for _, p := range l.bypassPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}

// Acquire blocks until a token is available for path, or ctx is done.
// Bypassed paths return immediately without touching the bucket.
func (l *Limiter) Acquire(ctx context.Context, path string) error {
	if l.Bypassed(path) {
		return nil
	}

	l.mu.Lock()

	l.refillLocked()

	if len(l.waiters) == 0 && l.tokens >= 1 {
		l.tokens--
		l.mu.Unlock()

		return nil
	}

	ch := make(chan struct{}, 1)
	l.waiters = append(l.waiters, ch)
	l.scheduleWakeLocked()
	l.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		l.cancelWaiter(ch)
		return ctx.Err()
	}
}

func (l *Limiter) refillLocked() {
	now := l.now()

	elapsed := now.Sub(l.lastRefill)
	if elapsed <= 0 {
		return
	}

	l.tokens = math.Min(l.capacity, l.tokens+float64(elapsed.Milliseconds())*l.refillPerMs)
	l.lastRefill = now
}

func (l *Limiter) scheduleWakeLocked() {
	if len(l.waiters) == 0 {
		return
	}

	needed := 1 - l.tokens
	if needed < 0 {
		needed = 0
	}

	delayMs := math.Ceil(needed / l.refillPerMs)
	delay := time.Duration(delayMs) * time.Millisecond

	if l.wakeTimer != nil {
		l.wakeTimer.Stop()
	}

	l.wakeTimer = time.AfterFunc(delay, l.onWake)
}

func (l *Limiter) onWake() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refillLocked()

	for len(l.waiters) > 0 && l.tokens >= 1 {
		ch := l.waiters[0]
		l.waiters = l.waiters[1:]
		l.tokens--
		close(ch)
	}

	if len(l.waiters) > 0 {
		l.scheduleWakeLocked()
	}
}

func (l *Limiter) cancelWaiter(target chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.waiters {
		if ch == target {
			l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
			return
		}
	}
}
