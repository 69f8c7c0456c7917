package ratelimit

import (
	"context"
	"time"
)

// RateLimiter decides whether a request may be sent now.
//
// Implementations use GCRA (Generic Cell Rate Algorithm), which spreads
// requests evenly over the period instead of allowing a burst at each window
// boundary.
type RateLimiter interface {
	// Allow consumes one request for key if the config permits it. When it
	// does not, RetryAfter tells the caller how long to wait.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}

// Wait blocks until limiter admits one request for key or ctx is done.
func Wait(ctx context.Context, limiter RateLimiter, key string, config RateLimitConfig) error {
	for {
		res, err := limiter.Allow(ctx, key, config)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}

		timer := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
