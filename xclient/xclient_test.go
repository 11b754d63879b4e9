package xclient

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"rpcx/call"
	"rpcx/discovery"
	"rpcx/message"
	"rpcx/selector"
	"rpcx/server"
)

type mulArgs struct{ A, B int }
type mulReply struct{ C int }

// startMulServer starts a real server exposing "Arith.Mul" and returns its
// address plus an invocation counter, so tests can assert exactly-once
// dispatch under retry.
func startMulServer(t *testing.T) (addr string, calls *atomic.Int64) {
	t.Helper()
	svr := server.NewServer(server.Options{})
	calls = &atomic.Int64{}
	svr.RegisterName("Arith", "Mul", func(payload []byte, kind message.SerializeKind) ([]byte, error) {
		calls.Add(1)
		var args mulArgs
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, err
		}
		return json.Marshal(&mulReply{C: args.A * args.B})
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go svr.ServeListener(ln)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return ln.Addr().String(), calls
}

// deadEndpoint returns an endpoint key that refuses every connection: a
// listener bound and immediately closed, so the port stays unreachable.
func deadEndpoint(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return "tcp@" + addr
}

func TestXClientFailfastOneAttempt(t *testing.T) {
	bad := deadEndpoint(t)
	d := discovery.NewStaticDiscovery(map[string]map[string]string{bad: {}})
	xc := New("Arith", d, selector.NewRandom(), Options{FailMode: Failfast})
	defer xc.Close()

	var r mulReply
	err := xc.Call(context.Background(), "Mul", false, nil, &mulArgs{A: 3, B: 4}, &r)
	if err == nil {
		t.Fatal("expected an error calling a dead endpoint under Failfast")
	}
}

func TestXClientFailoverEventualSuccess(t *testing.T) {
	addr, calls := startMulServer(t)
	bad := deadEndpoint(t)
	good := "tcp@" + addr

	d := discovery.NewStaticDiscovery(map[string]map[string]string{
		bad:  {},
		good: {},
	})
	xc := New("Arith", d, selector.NewRoundRobin(), Options{FailMode: Failover, Retry: 3})
	defer xc.Close()

	var r mulReply
	err := xc.Call(context.Background(), "Mul", false, nil, &mulArgs{A: 5, B: 6}, &r)
	if err != nil {
		t.Fatalf("expected eventual success with retry=3 and one working endpoint, got: %v", err)
	}
	if r.C != 30 {
		t.Fatalf("got C=%d, want 30", r.C)
	}
	if calls.Load() == 0 {
		t.Fatal("expected the working endpoint to have been invoked at least once")
	}
}

func TestXClientServerErrorNotRetried(t *testing.T) {
	svr := server.NewServer(server.Options{})
	var calls atomic.Int64
	svr.RegisterName("Arith", "Div", func(payload []byte, kind message.SerializeKind) ([]byte, error) {
		calls.Add(1)
		return nil, errors.New("division by zero")
	})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	go svr.ServeListener(ln)
	defer svr.Shutdown(time.Second)

	d := discovery.NewStaticDiscovery(map[string]map[string]string{
		"tcp@" + ln.Addr().String(): {},
	})
	xc := New("Arith", d, selector.NewRandom(), Options{FailMode: Failover, Retry: 3})
	defer xc.Close()

	var r mulReply
	err = xc.Call(context.Background(), "Div", false, nil, &mulArgs{A: 1, B: 0}, &r)
	if err == nil {
		t.Fatal("expected the handler's reported error to surface")
	}
	if !isServerError(err) {
		t.Fatalf("expected a ServerError, got %T: %v", err, err)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler invoked %d times, want exactly 1 (ServerError must not be retried)", calls.Load())
	}
}

func TestXClientServerNotFoundReturnsClientError(t *testing.T) {
	d := discovery.NewStaticDiscovery(map[string]map[string]string{})
	xc := New("Arith", d, selector.NewRandom(), Options{FailMode: Failfast})
	defer xc.Close()

	var r mulReply
	err := xc.Call(context.Background(), "Mul", false, nil, &mulArgs{A: 1, B: 2}, &r)
	if err == nil {
		t.Fatal("expected an error when no endpoints are known")
	}
	var ce *call.ClientError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a *call.ClientError, got %T: %v", err, err)
	}
}

func TestXClientFailbackupReturnsFirstSuccess(t *testing.T) {
	addr, calls := startMulServer(t)
	good := "tcp@" + addr

	d := discovery.NewStaticDiscovery(map[string]map[string]string{good: {}})
	xc := New("Arith", d, selector.NewRandom(), Options{
		FailMode:    Failbackup,
		BackupDelay: 10 * time.Millisecond,
	})
	defer xc.Close()

	var r mulReply
	err := xc.Call(context.Background(), "Mul", false, nil, &mulArgs{A: 7, B: 6}, &r)
	if err != nil {
		t.Fatalf("Failbackup call failed: %v", err)
	}
	if r.C != 42 {
		t.Fatalf("got C=%d, want 42", r.C)
	}
	if calls.Load() == 0 {
		t.Fatal("expected at least one invocation")
	}
}
