package middleware

import (
	"context"
	"errors"
	"log"
	"time"

	"gpcp/gpcperr"
)

// RetryMiddleware retries a call up to maxRetries times, with exponential
// backoff starting at baseDelay, when the failure is a Timeout or PeerClosed
// — errors a retry can plausibly fix. Any other error returns immediately.
func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) *Result {
			result := next(ctx, inv)
			for i := 0; i < maxRetries; i++ {
				if result.Err == nil {
					return result
				}
				if errors.Is(result.Err, gpcperr.Sentinel(gpcperr.Timeout)) || errors.Is(result.Err, gpcperr.Sentinel(gpcperr.PeerClosed)) {
					log.Printf("Retry attempt %d for %s due to error: %s", i+1, inv.Name, result.Err)
					time.Sleep(baseDelay * time.Duration(int64(1)<<uint(i)))
					result = next(ctx, inv)
				} else {
					return result
				}
			}
			return result
		}
	}
}
