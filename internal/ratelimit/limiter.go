// Package ratelimit implements the per-account token bucket with 429
// backoff tracking that gatekeeps request timing for one account.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bizradar/reddit-scanner/internal/scanner"
)

const defaultMaxBackoff = 5 * time.Minute

// Config holds token bucket parameters. The refill rate is derived from
// RequestsPerMinute, tightened by RequestsPerHour when that is the
// stricter limit.
type Config struct {
	RequestsPerMinute float64
	RequestsPerHour   float64
	BurstLimit        int
	Cooldown          time.Duration
	BackoffFactor     float64
	MaxBackoff        time.Duration
}

// SleepFunc suspends the caller for d, honoring ctx. Injectable for
// simulated-clock tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(clock scanner.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithSleep replaces the suspension primitive.
func WithSleep(sleep SleepFunc) Option {
	return func(l *Limiter) { l.sleep = sleep }
}

// Limiter is a token bucket plus backoff tracker for a single account.
// Acquire calls are serialized: no two callers interleave their token
// math. Record calls may run concurrently with a pending Acquire.
type Limiter struct {
	acquireMu sync.Mutex

	mu             sync.Mutex
	capacity       float64
	refillRate     float64 // tokens per second
	tokens         float64
	lastRefill     time.Time
	backoffUntil   time.Time
	consecutive429 int

	cooldown      time.Duration
	backoffFactor float64
	maxBackoff    time.Duration

	clock scanner.Clock
	sleep SleepFunc
}

// New builds a Limiter from cfg. The bucket starts full.
func New(cfg Config, opts ...Option) *Limiter {
	perSecond := cfg.RequestsPerMinute / 60
	if cfg.RequestsPerHour > 0 {
		hourly := cfg.RequestsPerHour / 3600
		if hourly < perSecond {
			perSecond = hourly
		}
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	burst := cfg.BurstLimit
	if burst <= 0 {
		burst = 1
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	l := &Limiter{
		capacity:      float64(burst),
		refillRate:    perSecond,
		tokens:        float64(burst),
		cooldown:      cfg.Cooldown,
		backoffFactor: factor,
		maxBackoff:    maxBackoff,
		clock:         systemClock{},
		sleep:         sleepContext,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastRefill = l.clock.Now()
	return l
}

// Acquire blocks until a token has been consumed. It returns an error
// only when ctx ends before a token becomes available.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.acquireMu.Lock()
	defer l.acquireMu.Unlock()

	l.mu.Lock()
	// A concurrent RecordRateLimited can extend the window while we sleep,
	// so the deadline is re-read after every wakeup.
	for {
		now := l.clock.Now()
		if !now.Before(l.backoffUntil) {
			break
		}
		wait := l.backoffUntil.Sub(now)
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("backoff wait: %w", err)
		}
		l.mu.Lock()
	}

	now := l.clock.Now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	l.tokens = math.Min(l.capacity, l.tokens+elapsed*l.refillRate)
	l.lastRefill = now

	if l.tokens < 1 {
		wait := time.Duration((1 - l.tokens) / l.refillRate * float64(time.Second))
		l.mu.Unlock()
		if err := l.sleep(ctx, wait); err != nil {
			return fmt.Errorf("token wait: %w", err)
		}
		l.mu.Lock()
		// The refill that would have accrued during the wait.
		l.tokens = 1
		l.lastRefill = l.clock.Now()
	}

	l.tokens--
	l.mu.Unlock()
	return nil
}

// RecordRateLimited notes an upstream 429. When the server provided a
// Retry-After, the backoff window honors it; otherwise the window grows
// exponentially with the consecutive 429 count, capped at MaxBackoff.
func (l *Limiter) RecordRateLimited(retryAfter *time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutive429++
	now := l.clock.Now()
	if retryAfter != nil {
		l.backoffUntil = now.Add(*retryAfter)
		return
	}
	backoff := time.Duration(float64(l.cooldown) * math.Pow(l.backoffFactor, float64(l.consecutive429)))
	if backoff > l.maxBackoff || backoff <= 0 {
		backoff = l.maxBackoff
	}
	l.backoffUntil = now.Add(backoff)
}

// RecordSuccess resets the consecutive 429 counter.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consecutive429 = 0
}

// Tokens returns the current token count without refilling.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens
}

// BackoffUntil returns the end of the current backoff window, or the zero
// time when the account is usable.
func (l *Limiter) BackoffUntil() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoffUntil
}

// InBackoff reports whether the account must not be used at the given
// instant.
func (l *Limiter) InBackoff(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return now.Before(l.backoffUntil)
}

func sleepContext(ctx context.Context, d time.Duration) error {
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

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
