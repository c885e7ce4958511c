// Package security bundles the cross-cutting protections used by the
// authorization server: per-identifier rate limiting, audit logging
// with hashed user IDs, client IP resolution behind reverse proxies,
// standard response security headers, request ID propagation, and
// clock-skew tolerant expiry checks.
//
// The rate limiter keeps a bounded token bucket per identifier and
// evicts the least recently seen entry at capacity, so a flood of
// unique source addresses cannot grow memory without bound:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//		w.WriteHeader(http.StatusTooManyRequests)
//		return
//	}
//
// GetStats exposes occupancy and eviction counters; sustained
// MemoryPressure or fast-growing TotalEvictions usually means the cap
// needs raising or an address flood is under way.
package security
