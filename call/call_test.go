package call

import (
	"context"
	"testing"
	"time"
)

func TestResolveReplyWakesWaiter(t *testing.T) {
	c := New(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		c.ResolveReply([]byte("ok"))
	}()

	payload, err := c.Wait(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != "ok" {
		t.Fatalf("got %q", payload)
	}
}

func TestResolveServerErrorIsNotClientError(t *testing.T) {
	c := New(1)
	c.ResolveServerError("boom")

	_, err := c.Wait(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if c.IsClientError() {
		t.Fatal("server error must not be flagged as a client error")
	}
	var se *ServerError
	if !errorsAs(err, &se) {
		t.Fatalf("expected *ServerError, got %T", err)
	}
}

func TestResolveClientErrorIsFlagged(t *testing.T) {
	c := New(2)
	c.ResolveClientError(&NetworkError{Err: context.DeadlineExceeded})

	_, err := c.Wait(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}
	if !c.IsClientError() {
		t.Fatal("expected IsClientError to be true")
	}
}

func TestCallFutureOnewayReturnsImmediately(t *testing.T) {
	f := NewFuture(nil)
	payload, err := f.Wait(context.Background())
	if payload != nil || err != nil {
		t.Fatalf("expected (nil,nil) for a one-way future, got (%v,%v)", payload, err)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	c := New(3)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := c.Wait(ctx)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
}

func errorsAs(err error, target **ServerError) bool {
	if se, ok := err.(*ServerError); ok {
		*target = se
		return true
	}
	return false
}
