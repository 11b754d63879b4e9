package middleware

import (
	"context"
	"log"
	"strings"
	"time"

	"rpcx/message"
)

func RetryMiddleware(maxRetries int, baseDelay time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Message) *message.Message {
			resp := next(ctx, req)
			for i := 0; i < maxRetries; i++ {
				errMsg := replyError(resp)
				if errMsg == "" {
					return resp // Success, return response
				}
				if strings.Contains(errMsg, "timeout") || strings.Contains(errMsg, "connection refused") {
					// Log the retry attempt
					log.Printf("Retry attempt %d for %s due to error: %s", i+1, req.ServiceMethod, errMsg)
					time.Sleep(baseDelay * time.Duration(1<<i)) // Exponential backoff
					resp = next(ctx, req)                       // Retry the request
				} else {
					return resp // Non-retryable error, return immediately
				}
			}
			return resp // Return last response after retries
		}
	}
}
