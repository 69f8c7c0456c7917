// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Sentinel-Gate/seatswap/internal/domain/ratelimit"
)

// RateLimiter implements ratelimit.RateLimiter using GCRA in memory.
// Safe for concurrent use. A background sweep drops keys that have been idle
// longer than maxTTL.
type RateLimiter struct {
	cells           map[string]time.Time // theoretical arrival time per key
	mu              sync.Mutex
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
	maxTTL          time.Duration
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) RateLimiterOption {
	return func(r *RateLimiter) { r.now = now }
}

// WithCleanup sets the sweep interval and the idle TTL of keys.
func WithCleanup(interval, maxTTL time.Duration) RateLimiterOption {
	return func(r *RateLimiter) {
		r.cleanupInterval = interval
		r.maxTTL = maxTTL
	}
}

// NewRateLimiter creates an in-memory rate limiter.
// Defaults: sweep every 5 minutes, drop keys idle for an hour.
func NewRateLimiter(logger *slog.Logger, opts ...RateLimiterOption) *RateLimiter {
	r := &RateLimiter{
		cells:           make(map[string]time.Time),
		now:             time.Now,
		logger:          logger,
		stopChan:        make(chan struct{}),
		cleanupInterval: 5 * time.Minute,
		maxTTL:          time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Allow checks if a request is allowed under the given config.
func (r *RateLimiter) Allow(_ context.Context, key string, config ratelimit.RateLimitConfig) (ratelimit.RateLimitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if config.Rate <= 0 {
		config.Rate = 1
	}
	emission := config.Period / time.Duration(config.Rate)
	if config.Burst <= 0 {
		config.Burst = 1
	}
	burstOffset := time.Duration(config.Burst) * emission

	tat, exists := r.cells[key]
	if !exists || tat.Before(now) {
		tat = now
	}

	// A request is admitted once the TAT is within one burst of now.
	allowAt := tat.Add(emission - burstOffset)
	if now.Before(allowAt) {
		return ratelimit.RateLimitResult{
			Allowed:    false,
			RetryAfter: allowAt.Sub(now),
		}, nil
	}

	newTAT := tat.Add(emission)
	r.cells[key] = newTAT

	remaining := int((burstOffset - newTAT.Sub(now)) / emission)
	if remaining < 0 {
		remaining = 0
	}

	return ratelimit.RateLimitResult{
		Allowed:   true,
		Remaining: remaining,
	}, nil
}

// StartCleanup starts the background sweep.
// It stops when ctx is cancelled or Stop() is called.
func (r *RateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes keys whose TAT is older than maxTTL.
func (r *RateLimiter) cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.maxTTL)
	cleaned := 0
	for key, tat := range r.cells {
		if tat.Before(cutoff) {
			delete(r.cells, key)
			cleaned++
		}
	}

	if cleaned > 0 {
		r.logger.Debug("rate limiter cleanup completed",
			"cleaned_keys", cleaned,
			"remaining_keys", len(r.cells))
	}
}

// Stop stops the sweep and waits for it to exit. Safe to call multiple times.
func (r *RateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the number of tracked keys.
func (r *RateLimiter) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cells)
}

var _ ratelimit.RateLimiter = (*RateLimiter)(nil)
