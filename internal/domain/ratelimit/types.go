// Package ratelimit provides the request pacing types used against the portal.
package ratelimit

import (
	"fmt"
	"time"
)

// RateLimitConfig defines the pacing parameters.
type RateLimitConfig struct {
	// Rate is the number of allowed requests in the period.
	Rate int

	// Burst is the number of requests that may be sent back to back.
	Burst int

	// Period is the time window for Rate.
	Period time.Duration
}

// PerMinute returns a config allowing n requests per minute with a burst of
// n/10 (at least 1).
func PerMinute(n int) RateLimitConfig {
	burst := n / 10
	if burst < 1 {
		burst = 1
	}
	return RateLimitConfig{Rate: n, Burst: burst, Period: time.Minute}
}

// RateLimitResult contains the result of a pacing check.
type RateLimitResult struct {
	Allowed bool

	// Remaining is the number of requests that could still be sent immediately.
	Remaining int

	// RetryAfter is how long to wait before the next request is allowed.
	// Only meaningful when Allowed is false.
	RetryAfter time.Duration
}

// KeyType identifies what a pacing key is scoped to.
type KeyType string

const (
	// KeyTypeHost paces all requests to one host.
	KeyTypeHost KeyType = "host"

	// KeyTypeLogin paces login attempts of one account.
	KeyTypeLogin KeyType = "login"
)

const keyPrefix = "pace"

// FormatKey returns a structured pacing key.
// Format: "pace:{type}:{value}", e.g. "pace:host:www.bu.edu".
func FormatKey(keyType KeyType, value string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, keyType, value)
}
