// Package call implements the per-outstanding-request state and its
// suspend/notify primitive.
//
// It generalizes the teacher's ad hoc `chan *message.RPCMessage` (stored
// directly in transport.ClientTransport.pending) into a reusable type that
// also remembers whether a failure was a local ClientError (eligible for
// XClient retry) or a verbatim ServerError (never retried) — a distinction
// the teacher's transport layer didn't need because it had no XClient.
package call

import (
	"context"
	"errors"
)

// State is the lifecycle stage of a Call.
type State int

const (
	StatePending State = iota
	StateReady
	StateFailed
)

// Call is the record for one non-one-way, non-heartbeat request still
// awaiting (or having just received) its response. The session resolves it
// exactly once: whichever of the reader loop (on a response) or the
// send/drain path (on a failure) first removes the Call from the pending
// table calls exactly one of ResolveReply/ResolveServerError/
// ResolveClientError.
type Call struct {
	Seq           uint64
	done          chan struct{}
	state         State
	replyPayload  []byte
	err           error
	isClientError bool
}

// New creates a pending Call for seq.
func New(seq uint64) *Call {
	return &Call{Seq: seq, done: make(chan struct{})}
}

// ResolveReply marks the call ready with a successful reply payload.
func (c *Call) ResolveReply(payload []byte) {
	c.replyPayload = payload
	c.state = StateReady
	close(c.done)
}

// ResolveServerError marks the call ready with a server-reported error
// (StatusError in the response, surfaced from the __rpcx_error__ metadata
// key). ServerErrors are never retried by XClient's fail-mode policy.
func (c *Call) ResolveServerError(msg string) {
	c.err = &ServerError{Message: msg}
	c.state = StateReady
	close(c.done)
}

// ResolveClientError marks the call failed because of a local condition —
// a write failure, a connection abort, a decode error on the session. These
// are eligible for XClient's fail-mode retry.
func (c *Call) ResolveClientError(err error) {
	c.err = err
	c.isClientError = true
	c.state = StateFailed
	close(c.done)
}

// Wait blocks until the call resolves or ctx is done, then returns the
// reply payload or the error. Safe to call more than once and from more
// than one goroutine; every caller that arrives before resolution blocks
// on done until the call resolves or its own ctx ends.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.replyPayload, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// IsClientError reports whether the error (once resolved) originated
// locally rather than being reported by the remote handler.
func (c *Call) IsClientError() bool { return c.isClientError }

// ServerError is the error kind for StatusError responses: the remote
// executed the request and reported a failure. It is returned to the
// caller verbatim and is never eligible for fail-mode retry.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return e.Message }

// ClientError wraps a local failure (send/connection/codec) that never
// reached the remote, or reached it ambiguously. XClient's fail-mode policy
// is the only thing allowed to retry these.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string { return "client error: " + e.Err.Error() }
func (e *ClientError) Unwrap() error { return e.Err }

// NotFound specializes ServerError for a handler that could not be
// resolved by (service_path, service_method).
type NotFound struct {
	ServerError
}

// NetworkError marks a session-fatal I/O condition (connect/read/write/
// timeout). Every pending Call is drained with this on the way down.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// CallFuture is a lazy handle to a Call. A nil CallFuture (or one wrapping
// a nil *Call) represents a one-way or heartbeat send: Wait returns
// immediately with no error, matching spec.md §4.3's "empty handle".
type CallFuture struct {
	call *Call
}

// NewFuture wraps c. c may be nil for one-way/heartbeat sends.
func NewFuture(c *Call) *CallFuture { return &CallFuture{call: c} }

// Wait suspends until the wrapped Call resolves (or ctx ends), then returns
// its reply payload and error. For a one-way CallFuture it returns
// immediately with (nil, nil).
func (f *CallFuture) Wait(ctx context.Context) ([]byte, error) {
	if f == nil || f.call == nil {
		return nil, nil
	}
	return f.call.Wait(ctx)
}

// Call returns the wrapped Call, or nil for a one-way/heartbeat future.
func (f *CallFuture) Call() *Call {
	if f == nil {
		return nil
	}
	return f.call
}

var errCanceled = errors.New("call: future canceled before it resolved")

// ErrCanceled describes a pending Call whose entry was removed from the
// session's table before any response arrived (best-effort cancel —
// spec.md §4.3). The session's own cancellation paths return the
// context's error, not ErrCanceled.
var ErrCanceled = errCanceled
