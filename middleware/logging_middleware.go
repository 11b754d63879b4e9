package middleware

import (
	"context"
	"log"
	"time"

	"rpcx/message"
)

// LoggingMiddleware records the service path/method, duration, and any
// error for each RPC call, captured before/after the call exactly as the
// teacher's LoggingMiddleware does.
//
// Example output:
//
//	ServiceMethod: Arith.Mul, Duration: 42μs
//	Error: division by zero
func LoggingMiddleware() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			start := time.Now()

			resp := next(ctx, req)

			duration := time.Since(start)
			log.Printf("ServiceMethod: %s.%s, Duration: %s", req.ServicePath, req.ServiceMethod, duration)
			if errMsg := replyError(resp); errMsg != "" {
				log.Printf("Error: %s", errMsg)
			}
			return resp
		}
	}
}
