// Package ratelimit implements the token bucket that paces every request the
// agent sends to the project-management API.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Limiter admits callers at an average of Rate tokens per Window.
//
// The bucket starts full. Refill, the admission decision and any wait happen
// inside one critical section, so callers sharing a Limiter are admitted one
// at a time. Fractional tokens carry over between calls.
//
// All exported methods are safe for concurrent use.
type Limiter struct {
	rate   float64
	window time.Duration

	// lock is a one-slot semaphore rather than a sync.Mutex so that callers
	// queued behind a sleeping holder can still observe cancellation.
	lock   chan struct{}
	tokens float64
	last   time.Time

	now   func() time.Time                              // injectable for deterministic tests
	sleep func(ctx context.Context, d time.Duration) error // injectable for deterministic tests
}

// New returns a Limiter that admits rate requests per window.
func New(rate int, window time.Duration) (*Limiter, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("ratelimit: rate must be positive, got %d", rate)
	}
	if window <= 0 {
		return nil, fmt.Errorf("ratelimit: window must be positive, got %v", window)
	}
	l := &Limiter{
		rate:   float64(rate),
		window: window,
		lock:   make(chan struct{}, 1),
		tokens: float64(rate),
		now:    time.Now,
		sleep:  Sleep,
	}
	l.last = l.now()
	return l, nil
}

// Acquire blocks until a token is available and consumes it.
//
// The only error is ctx's, returned when ctx is done before a token is
// granted. In that case no token is consumed.
func (l *Limiter) Acquire(ctx context.Context) error {
	select {
	case l.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-l.lock }()

	elapsed := l.refill()
	if l.tokens >= 1 {
		l.tokens--
		return nil
	}

	wait := time.Duration(float64(l.window)/l.rate) - elapsed
	if wait < 0 {
		wait = 0
	}
	slog.Debug("ratelimit: bucket empty, waiting", "wait", wait, "tokens", l.tokens)

	if err := l.sleep(ctx, wait); err != nil {
		return err
	}

	// The token accrued during the wait is the one handed to this caller.
	l.refill()
	l.tokens--
	if l.tokens < 0 {
		l.tokens = 0
	}
	return nil
}

// Tokens reports the current token count without refilling. Intended for
// diagnostics and tests.
func (l *Limiter) Tokens() float64 {
	l.lock <- struct{}{}
	defer func() { <-l.lock }()
	return l.tokens
}

// refill credits tokens for the time since the last refill and returns that
// elapsed time. Callers must hold l.lock.
func (l *Limiter) refill() time.Duration {
	now := l.now()
	elapsed := now.Sub(l.last)
	if elapsed < 0 {
		elapsed = 0 // clock stepped backwards
	}
	l.tokens += elapsed.Seconds() * l.rate / l.window.Seconds()
	if l.tokens > l.rate {
		l.tokens = l.rate
	}
	l.last = now
	return elapsed
}

// Sleep waits for d or until ctx is done, whichever comes first. It returns
// ctx.Err() if ctx ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
