package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"gpcp/gpcperr"
)

// RateLimitMiddleware creates a rate limiter using the token bucket algorithm.
//
// Token bucket: tokens are added at rate r per second, up to a burst size.
// Each call consumes one token. If the bucket is empty, the call is rejected.
// Unlike a leaky bucket (constant drain rate), token bucket allows short bursts
// of traffic — more suitable for command workloads with bursty patterns.
//
// The limiter is created in the outer closure, once per middleware
// construction, not in the inner handler function — a fresh limiter per call
// would defeat the point of rate limiting.
//
// Parameters:
//   - r: token refill rate (tokens per second)
//   - burst: maximum bucket size (allows this many calls in a burst)
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) *Result {
			if !limiter.Allow() {
				return &Result{Err: gpcperr.New(gpcperr.RateLimited, "middleware: rate limit", nil)}
			}
			return next(ctx, inv)
		}
	}
}
