package middleware

import (
	"context"
	"time"

	"gpcp/gpcperr"
)

// TimeOutMiddleware enforces a maximum duration for each call. If the
// handler doesn't complete within the timeout, it returns an error
// immediately.
//
// Implementation:
//  1. Create a context with timeout (ctx.Done() fires when timeout expires)
//  2. Run the next handler in a goroutine, sending its result to a channel
//  3. Select between the result channel and ctx.Done()
//
// The handler goroutine is not cancelled when the timeout fires — it keeps
// running in the background. The timeout only controls when the caller
// gives up waiting; the handler must check ctx.Done() itself for true
// cancellation.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) *Result {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *Result, 1)
			go func() {
				done <- next(ctx, inv)
			}()

			select {
			case result := <-done:
				return result
			case <-ctx.Done():
				return &Result{Err: gpcperr.New(gpcperr.Timeout, "middleware: timeout", nil)}
			}
		}
	}
}
