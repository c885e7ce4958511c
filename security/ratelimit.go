package security

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxTrackedClients = 10000
	bucketSweepInterval      = 5 * time.Minute
	bucketMaxIdle            = 30 * time.Minute
)

// clientBucket is one identifier's token bucket plus bookkeeping for
// idle-sweep and LRU eviction.
type clientBucket struct {
	id       string
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-identifier token bucket. The set of tracked
// identifiers is bounded: when it reaches capacity the least recently
// seen bucket is evicted, and a background sweep drops buckets that have
// been idle longer than bucketMaxIdle.
type RateLimiter struct {
	mu      sync.RWMutex
	buckets map[string]*list.Element
	order   *list.List // front = most recently seen clientBucket

	rate       int
	burst      int
	maxEntries int
	logger     *slog.Logger

	stopSweep chan struct{}

	evictions int64
	sweeps    int64
}

// NewRateLimiter returns a limiter tracking at most 10,000 identifiers.
func NewRateLimiter(requestsPerSecond, burst int, logger *slog.Logger) *RateLimiter {
	return NewRateLimiterWithConfig(requestsPerSecond, burst, defaultMaxTrackedClients, logger)
}

// NewRateLimiterWithConfig returns a limiter with an explicit cap on
// tracked identifiers. A cap of 0 disables eviction entirely, which is
// only safe when the identifier space is known to be small.
func NewRateLimiterWithConfig(requestsPerSecond, burst, maxEntries int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	if maxEntries < 0 {
		logger.Warn("Negative rate limiter capacity, using default", "max_entries", defaultMaxTrackedClients)
		maxEntries = defaultMaxTrackedClients
	}

	rl := &RateLimiter{
		buckets:    make(map[string]*list.Element),
		order:      list.New(),
		rate:       requestsPerSecond,
		burst:      burst,
		maxEntries: maxEntries,
		logger:     logger,
		stopSweep:  make(chan struct{}),
	}
	go rl.sweepLoop()
	return rl
}

// Allow reports whether a request attributed to identifier may proceed.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elem, ok := rl.buckets[identifier]; ok {
		rl.order.MoveToFront(elem)
		b := elem.Value.(*clientBucket)
		b.lastSeen = time.Now()
		return b.limiter.Allow()
	}

	if rl.maxEntries > 0 && len(rl.buckets) >= rl.maxEntries {
		rl.evictOldest()
	}

	b := &clientBucket{
		id:       identifier,
		limiter:  rate.NewLimiter(rate.Limit(rl.rate), rl.burst),
		lastSeen: time.Now(),
	}
	rl.buckets[identifier] = rl.order.PushFront(b)
	return b.limiter.Allow()
}

// evictOldest drops the least recently seen bucket. Caller holds mu.
func (rl *RateLimiter) evictOldest() {
	elem := rl.order.Back()
	if elem == nil {
		return
	}
	b := elem.Value.(*clientBucket)
	rl.order.Remove(elem)
	delete(rl.buckets, b.id)
	rl.evictions++

	rl.logger.Debug("Evicted rate limiter bucket",
		"identifier", b.id,
		"evictions", rl.evictions,
		"tracked", len(rl.buckets))
}

func (rl *RateLimiter) sweepLoop() {
	ticker := time.NewTicker(bucketSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup(bucketMaxIdle)
		case <-rl.stopSweep:
			return
		}
	}
}

// Cleanup drops every bucket that has been idle longer than maxIdleTime.
func (rl *RateLimiter) Cleanup(maxIdleTime time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-maxIdleTime)
	removed := 0

	var next *list.Element
	for elem := rl.order.Front(); elem != nil; elem = next {
		next = elem.Next()
		b := elem.Value.(*clientBucket)
		if b.lastSeen.Before(cutoff) {
			rl.order.Remove(elem)
			delete(rl.buckets, b.id)
			removed++
		}
	}

	if removed > 0 {
		rl.sweeps++
		rl.logger.Debug("Swept idle rate limiter buckets",
			"removed", removed,
			"tracked", len(rl.buckets),
			"sweeps", rl.sweeps)
	}
}

// Stop terminates the background sweep goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.stopSweep)
}

// Stats is a point-in-time snapshot of limiter occupancy.
type Stats struct {
	CurrentEntries int
	MaxEntries     int
	TotalEvictions int64
	TotalCleanups  int64
	// MemoryPressure is CurrentEntries as a percentage of MaxEntries,
	// 0 when the limiter is uncapped.
	MemoryPressure float64
}

// GetStats returns occupancy counters for monitoring.
func (rl *RateLimiter) GetStats() Stats {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	st := Stats{
		CurrentEntries: len(rl.buckets),
		MaxEntries:     rl.maxEntries,
		TotalEvictions: rl.evictions,
		TotalCleanups:  rl.sweeps,
	}
	if rl.maxEntries > 0 {
		st.MemoryPressure = float64(st.CurrentEntries) / float64(rl.maxEntries) * 100
	}
	return st
}
