// Package security provides security-related functionality for the
// authorization server, including rate limiting, audit logging, client IP
// extraction, constant-time secret comparison, and response headers.
//
// # Rate Limiting
//
// The RateLimiter provides per-identifier rate limiting using a token bucket
// algorithm with automatic memory management through LRU eviction. To prevent
// unbounded memory growth under distributed attacks, the tracked-identifier
// set is capped; when the cap is reached, the least recently used entries are
// evicted first, so legitimate repeat callers tend to survive while one-shot
// attack IPs get dropped.
//
// Default configuration:
//   - MaxEntries: 10,000 unique identifiers
//   - CleanupInterval: 5 minutes
//   - IdleTimeout: 30 minutes
//
// Example:
//
//	limiter := security.NewRateLimiter(10, 20, logger)
//	defer limiter.Stop()
//
//	if !limiter.Allow(clientIP) {
//	    // Rate limit exceeded
//	    return http.StatusTooManyRequests
//	}
//
// # Audit Logging
//
// The Auditor logs security-relevant events (logins, code and token grants,
// auth failures, rate limit violations) through slog with user identifiers
// hashed before they reach the log stream.
package security
