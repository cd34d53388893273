package ratelimit

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeClock is a manual clock whose Sleep advances time instead of blocking.
type fakeClock struct {
	mu    sync.Mutex
	t     time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

func newTestLimiter(t *testing.T, rate int, window time.Duration, clk *fakeClock) *Limiter {
	t.Helper()
	l, err := New(rate, window)
	if err != nil {
		t.Fatalf("New(%d, %v): %v", rate, window, err)
	}
	l.now = clk.Now
	l.sleep = clk.Sleep
	l.last = clk.Now()
	return l
}

func TestNew_RejectsNonPositive(t *testing.T) {
	if _, err := New(0, time.Second); err == nil {
		t.Error("New(0, 1s): expected error")
	}
	if _, err := New(5, 0); err == nil {
		t.Error("New(5, 0): expected error")
	}
}

func TestAcquire_BurstThenPaced(t *testing.T) {
	tests := []struct {
		rate   int
		window time.Duration
	}{
		{1, time.Second},
		{5, 10 * time.Second},
		{40, time.Minute},
		{100, 500 * time.Millisecond},
	}

	for _, tc := range tests {
		clk := newFakeClock()
		l := newTestLimiter(t, tc.rate, tc.window, clk)

		var grants []time.Time
		for i := 0; i < tc.rate+1; i++ {
			if err := l.Acquire(context.Background()); err != nil {
				t.Fatalf("rate=%d Acquire #%d: %v", tc.rate, i+1, err)
			}
			grants = append(grants, clk.Now())
		}

		// The first R grants come from the initial bucket without waiting.
		if !grants[tc.rate-1].Equal(grants[0]) {
			t.Errorf("rate=%d: burst of %d should not wait, took %v",
				tc.rate, tc.rate, grants[tc.rate-1].Sub(grants[0]))
		}

		interval := time.Duration(float64(tc.window) / float64(tc.rate))
		gap := grants[tc.rate].Sub(grants[tc.rate-1])
		if gap < interval {
			t.Errorf("rate=%d window=%v: gap between grant %d and %d = %v, want >= %v",
				tc.rate, tc.window, tc.rate, tc.rate+1, gap, interval)
		}
	}
}

func TestAcquire_FractionalTokensCarryOver(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, 2, time.Second, clk)

	for i := 0; i < 2; i++ {
		if err := l.Acquire(context.Background()); err != nil {
			t.Fatalf("Acquire: %v", err)
		}
	}

	// 250ms at 2 tokens/s accrues half a token, which is not enough to admit.
	clk.Advance(250 * time.Millisecond)
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	if len(clk.slept) != 1 {
		t.Fatalf("sleeps: got %d, want 1", len(clk.slept))
	}
	// wait = W/R - elapsed = 500ms - 250ms
	if clk.slept[0] != 250*time.Millisecond {
		t.Errorf("sleep: got %v, want 250ms", clk.slept[0])
	}
	if got := l.Tokens(); math.Abs(got) > 1e-9 {
		t.Errorf("tokens after paced grant: got %v, want 0", got)
	}

	// Another 100ms leaves 0.2 of a token in the bucket, not floored to zero.
	clk.Advance(100 * time.Millisecond)
	l.lock <- struct{}{}
	l.refill()
	<-l.lock
	if got := l.Tokens(); math.Abs(got-0.2) > 1e-9 {
		t.Errorf("tokens after 100ms: got %v, want 0.2", got)
	}
}

func TestAcquire_RefillCappedAtCapacity(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, 3, time.Second, clk)

	for i := 0; i < 3; i++ {
		_ = l.Acquire(context.Background())
	}
	clk.Advance(time.Hour)

	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if got := l.Tokens(); got != 2 {
		t.Errorf("tokens: got %v, want 2 (capacity 3 minus one grant)", got)
	}
	if len(clk.slept) != 0 {
		t.Errorf("unexpected sleeps: %v", clk.slept)
	}
}

func TestAcquire_CancelledWhileWaiting(t *testing.T) {
	l, err := New(1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = l.Acquire(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire: got %v, want context.DeadlineExceeded", err)
	}
	if waited := time.Since(start); waited > time.Second {
		t.Errorf("Acquire returned after %v, want prompt return on cancel", waited)
	}
}

func TestAcquire_QueuedCallerObservesCancel(t *testing.T) {
	l, err := New(1, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	_ = l.Acquire(context.Background())

	// First waiter holds the critical section while sleeping.
	holderCtx, stopHolder := context.WithCancel(context.Background())
	holderDone := make(chan error, 1)
	go func() { holderDone <- l.Acquire(holderCtx) }()

	// Give the holder a moment to take the lock.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("queued Acquire: got %v, want context.DeadlineExceeded", err)
	}

	stopHolder()
	if err := <-holderDone; !errors.Is(err, context.Canceled) {
		t.Errorf("holder Acquire: got %v, want context.Canceled", err)
	}
}

func TestAcquire_ConcurrentCallersShareBudget(t *testing.T) {
	clk := newFakeClock()
	l := newTestLimiter(t, 50, time.Second, clk)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background())
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Acquire: %v", err)
		}
	}
	if got := l.Tokens(); got != 0 {
		t.Errorf("tokens after 50 concurrent grants: got %v, want 0", got)
	}
	if len(clk.slept) != 0 {
		t.Errorf("initial bucket should cover all callers, slept %v", clk.slept)
	}
}

func TestAcquire_RealClockSpacing(t *testing.T) {
	l, err := New(10, 100*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		_ = l.Acquire(context.Background())
	}
	start := time.Now()
	if err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	// W/R = 10ms; allow a little slack for the time spent before start.
	if waited := time.Since(start); waited < 9*time.Millisecond {
		t.Errorf("11th grant waited %v, want about 10ms", waited)
	}
}

func TestSleep_ZeroDurationHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep(cancelled, 0): got %v, want context.Canceled", err)
	}
	if err := Sleep(context.Background(), 0); err != nil {
		t.Errorf("Sleep(background, 0): got %v, want nil", err)
	}
}
