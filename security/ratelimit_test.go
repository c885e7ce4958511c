package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func newTestLimiter(t *testing.T, perSecond, burst, maxEntries int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiterWithConfig(perSecond, burst, maxEntries, slog.Default())
	t.Cleanup(rl.Stop)
	return rl
}

func TestNewRateLimiterDefaults(t *testing.T) {
	rl := NewRateLimiter(5, 10, nil)
	defer rl.Stop()

	if rl.rate != 5 || rl.burst != 10 {
		t.Errorf("rate/burst = %d/%d, want 5/10", rl.rate, rl.burst)
	}
	if rl.maxEntries != defaultMaxTrackedClients {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, defaultMaxTrackedClients)
	}
	if rl.logger == nil {
		t.Error("nil logger should fall back to slog.Default")
	}
}

func TestNewRateLimiterNegativeCapacity(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, -5)
	if rl.maxEntries != defaultMaxTrackedClients {
		t.Errorf("maxEntries = %d, want default after negative input", rl.maxEntries)
	}
}

func TestRateLimiterAllowBurst(t *testing.T) {
	rl := newTestLimiter(t, 1, 3, 0)

	for i := 0; i < 3; i++ {
		if !rl.Allow("10.0.0.1") {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}
	if rl.Allow("10.0.0.1") {
		t.Error("request beyond burst should be denied")
	}
}

func TestRateLimiterIdentifiersIndependent(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, 0)

	if !rl.Allow("a") {
		t.Fatal("first request for a should pass")
	}
	if rl.Allow("a") {
		t.Error("second request for a should be limited")
	}
	if !rl.Allow("b") {
		t.Error("b has its own bucket and should pass")
	}
}

func TestRateLimiterEviction(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, 2)

	rl.Allow("a")
	rl.Allow("b")
	// Touch a so b becomes the oldest, then force an eviction.
	rl.Allow("a")
	rl.Allow("c")

	rl.mu.RLock()
	_, hasA := rl.buckets["a"]
	_, hasB := rl.buckets["b"]
	_, hasC := rl.buckets["c"]
	rl.mu.RUnlock()

	if !hasA || !hasC {
		t.Error("most recently seen buckets should survive eviction")
	}
	if hasB {
		t.Error("least recently seen bucket should have been evicted")
	}
	if got := rl.GetStats().TotalEvictions; got != 1 {
		t.Errorf("TotalEvictions = %d, want 1", got)
	}
}

func TestRateLimiterUncapped(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, 0)

	for i := 0; i < 50; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	st := rl.GetStats()
	if st.CurrentEntries != 50 {
		t.Errorf("CurrentEntries = %d, want 50", st.CurrentEntries)
	}
	if st.TotalEvictions != 0 {
		t.Errorf("uncapped limiter should never evict, got %d", st.TotalEvictions)
	}
	if st.MemoryPressure != 0 {
		t.Errorf("MemoryPressure = %v, want 0 when uncapped", st.MemoryPressure)
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, 0)

	rl.Allow("stale")
	rl.Allow("fresh")

	// Age one bucket past the idle cutoff.
	rl.mu.Lock()
	rl.buckets["stale"].Value.(*clientBucket).lastSeen = time.Now().Add(-time.Hour)
	rl.mu.Unlock()

	rl.Cleanup(30 * time.Minute)

	rl.mu.RLock()
	_, hasStale := rl.buckets["stale"]
	_, hasFresh := rl.buckets["fresh"]
	listLen := rl.order.Len()
	rl.mu.RUnlock()

	if hasStale {
		t.Error("idle bucket should be removed")
	}
	if !hasFresh {
		t.Error("active bucket should survive cleanup")
	}
	if listLen != 1 {
		t.Errorf("order list length = %d, want 1", listLen)
	}
	if got := rl.GetStats().TotalCleanups; got != 1 {
		t.Errorf("TotalCleanups = %d, want 1", got)
	}
}

func TestRateLimiterStats(t *testing.T) {
	rl := newTestLimiter(t, 1, 1, 10)

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("client-%d", i))
	}

	st := rl.GetStats()
	if st.CurrentEntries != 5 {
		t.Errorf("CurrentEntries = %d, want 5", st.CurrentEntries)
	}
	if st.MaxEntries != 10 {
		t.Errorf("MaxEntries = %d, want 10", st.MaxEntries)
	}
	if st.MemoryPressure != 50 {
		t.Errorf("MemoryPressure = %v, want 50", st.MemoryPressure)
	}
}

func TestRateLimiterConcurrentAccess(t *testing.T) {
	rl := newTestLimiter(t, 100, 100, 100)

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				rl.Allow(fmt.Sprintf("client-%d", n))
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := rl.GetStats().CurrentEntries; got != 10 {
		t.Errorf("CurrentEntries = %d, want 10", got)
	}
}
