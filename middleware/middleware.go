// Package middleware implements the onion-model middleware chain used to
// wrap the server's dispatch handler with cross-cutting concerns (logging,
// timeout, rate limiting, retry) without touching the handler itself.
//
// Unchanged from the teacher's middleware/middleware.go except that
// HandlerFunc now carries *message.Message (the full rpcx envelope, with
// its metadata-keyed error reporting) instead of the teacher's
// *message.RPCMessage with a dedicated Error string field.
//
// Onion model execution order:
//
//	Chain(A, B, C)(handler)  →  A(B(C(handler)))
//
//	Request:   A.before → B.before → C.before → handler
//	Response:  handler → C.after → B.after → A.after
package middleware

import (
	"context"

	"rpcx/message"
)

// HandlerFunc is the function signature shared by the business handler and
// every middleware-wrapped handler.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

// Middleware takes a handler and returns a new handler wrapping it.
type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares into one, outermost-first.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// errorReply builds a response carrying msg in the reserved
// message.ErrorMetaKey, status Error — the spec.md §6 wire form for a
// failure any middleware needs to report (rate limit, timeout, ...).
func errorReply(req *message.Message, msg string) *message.Message {
	resp := message.ReplyOf(req)
	resp.StatusKind = message.StatusError
	resp.Metadata[message.ErrorMetaKey] = msg
	return resp
}

// replyError extracts the reserved error metadata, if any.
func replyError(resp *message.Message) string {
	if resp.StatusKind != message.StatusError {
		return ""
	}
	return resp.Metadata[message.ErrorMetaKey]
}
