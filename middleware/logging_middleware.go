package middleware

import (
	"context"
	"log"
	"time"
)

// LoggingMiddleware records the command name, duration, and any errors for
// each call. It captures the start time before calling next, and logs the
// elapsed time after next returns.
//
// Example output:
//
//	Command: echo, Duration: 42µs
//	Error: division by zero
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, inv *Invocation) *Result {
			start := time.Now()

			result := next(ctx, inv)

			duration := time.Since(start)
			log.Printf("Command: %s, Duration: %s", inv.Name, duration)
			if result.Err != nil {
				log.Printf("Error: %s", result.Err)
			}
			return result
		}
	}
}
