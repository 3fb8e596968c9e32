package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"grimm.is/aclsync/internal/clock"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *clock.Mock) {
	mc := clock.NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	l := NewLimiter(limit, window)
	l.SetClock(mc)
	return l, mc
}

func TestLimiter_Allow_Basic(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		if !l.Allow("10.0.0.1") {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}
	if l.Allow("10.0.0.1") {
		t.Error("4th request should be denied (over limit)")
	}
}

func TestLimiter_Allow_DifferentKeys(t *testing.T) {
	l, _ := newTestLimiter(2, time.Minute)

	for i := 0; i < 2; i++ {
		if !l.Allow("key1") {
			t.Errorf("key1 request %d should be allowed", i+1)
		}
		if !l.Allow("key2") {
			t.Errorf("key2 request %d should be allowed", i+1)
		}
	}
	if l.Allow("key1") || l.Allow("key2") {
		t.Error("both keys should be rate limited")
	}
}

func TestLimiter_WindowRollover(t *testing.T) {
	l, mc := newTestLimiter(2, time.Minute)

	l.Allow("k")
	l.Allow("k")
	if !l.Exhausted("k") {
		t.Fatal("key should be exhausted")
	}

	mc.Advance(59 * time.Second)
	if l.Allow("k") {
		t.Error("should still be limited inside the window")
	}

	mc.Advance(time.Second)
	if l.Exhausted("k") {
		t.Error("window ended, key should not be exhausted")
	}
	if !l.Allow("k") {
		t.Error("should be allowed in a new window")
	}
}

func TestLimiter_ExhaustedDoesNotCount(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	for i := 0; i < 5; i++ {
		if l.Exhausted("k") {
			t.Fatal("Exhausted must not record events")
		}
	}
	if !l.Allow("k") {
		t.Error("first event should be allowed")
	}
	if !l.Exhausted("k") {
		t.Error("key should now be exhausted")
	}
}

func TestLimiter_Reset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Allow("k")
	if l.Allow("k") {
		t.Error("should be rate limited")
	}
	l.Reset("k")
	if !l.Allow("k") {
		t.Error("should be allowed after Reset")
	}
}

func TestLimiter_CleanupExpired(t *testing.T) {
	l, mc := newTestLimiter(10, time.Minute)

	l.Allow("key1")
	mc.Advance(30 * time.Second)
	l.Allow("key2")

	l.CleanupExpired()
	if got := l.Len(); got != 2 {
		t.Errorf("Expected 2 keys after cleanup (entries are fresh), got %d", got)
	}

	mc.Advance(30 * time.Second)
	l.CleanupExpired()
	if got := l.Len(); got != 1 {
		t.Errorf("Expected key1 to expire, got %d keys", got)
	}
}

func TestLimiter_StartCleanup(t *testing.T) {
	l, mc := newTestLimiter(10, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l.Allow("k")
	l.StartCleanup(ctx, 10*time.Second)
	if mc.Tickers() != 1 {
		t.Fatalf("cleanup should run on the limiter's clock, got %d tickers", mc.Tickers())
	}

	mc.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for l.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired key not cleaned up after a tick")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	deadline = time.Now().Add(2 * time.Second)
	for mc.Tickers() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("ticker not stopped after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := NewLimiter(100, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if l.Allow("shared") {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 100 {
		t.Errorf("Expected exactly 100 allowed requests, got %d", allowed)
	}
}
