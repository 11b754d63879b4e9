// Package server implements the RPC server: service registration, a
// registry of "{service_path}.{service_method}" handlers, a bounded
// worker pool per connection, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → connection task (single goroutine decodes frames)
//	  → for each request: submit to worker pool (parallel, bounded)
//	    → Middleware Chain → registry lookup → business handler → encode reply → write (serialized)
//
// Generalizes the teacher's server/server.go, which dispatched every
// request on an unbounded goroutine-per-request (`go svr.handleRequest`)
// and looked services up through a name→*service map with no worker-pool
// back-pressure at all. Here a per-connection semaphore bounds concurrency
// (default 2×NumCPU, spec.md §4.5), and the registry is keyed directly by
// "path.method" so any Handler — reflection-derived or otherwise — can be
// registered, not just exported struct methods.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"rpcx/message"
	"rpcx/middleware"
	"rpcx/param"
)

// Options configures a Server. Zero value is usable: worker pool sized
// 2×NumCPU, no middleware.
type Options struct {
	// WorkerPoolSize bounds concurrent in-flight requests per connection.
	// Zero means max(2, 2*runtime.NumCPU()).
	WorkerPoolSize int
}

func (o Options) withDefaults() Options {
	if o.WorkerPoolSize <= 0 {
		o.WorkerPoolSize = 2 * runtime.NumCPU()
		if o.WorkerPoolSize < 2 {
			o.WorkerPoolSize = 2
		}
	}
	return o
}

// Server is the RPC server that registers services and dispatches
// incoming requests through the middleware chain to the registry.
type Server struct {
	opts        Options
	reg         *registry
	listener    net.Listener
	wg          sync.WaitGroup // in-flight connection tasks, for graceful shutdown
	shutdown    atomic.Bool
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once in Serve: Chain(middlewares...)(dispatch)
}

// NewServer creates a server with an empty registry.
func NewServer(opts Options) *Server {
	return &Server{
		opts: opts.withDefaults(),
		reg:  newRegistry(),
	}
}

// Use registers a middleware. Applied in the order added, outermost first
// (see middleware.Chain).
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Register registers a service receiver (e.g. &Arith{}); its exported
// methods matching func(*Args, *Reply) error become callable as
// "{TypeName}.{MethodName}".
func (svr *Server) Register(rcvr any) error {
	svc, err := newService(rcvr)
	if err != nil {
		return err
	}
	for name, mt := range svc.method {
		svr.reg.register(svc.name, name, handlerFor(svc, mt))
	}
	return nil
}

// RegisterName registers a raw Handler directly under servicePath.serviceMethod,
// bypassing reflection — used for handlers that aren't struct methods.
func (svr *Server) RegisterName(servicePath, serviceMethod string, h Handler) {
	svr.reg.register(servicePath, serviceMethod, h)
}

// Serve binds network/address and runs the accept loop, spawning one
// connection task per accepted connection. Blocks until Shutdown closes
// the listener.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener runs the accept loop on an already-bound listener, useful
// for tests and callers that need the ephemeral port Listen chose (e.g.
// "127.0.0.1:0") before Serve starts accepting. Blocks until Shutdown
// closes the listener.
func (svr *Server) ServeListener(listener net.Listener) error {
	svr.listener = listener

	svr.handler = middleware.Chain(svr.middlewares...)(svr.dispatch)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		svr.wg.Add(1)
		go svr.handleConn(conn)
	}
}

// handleConn is the connection task: a single reader decodes frames
// sequentially (decode order must match wire order), a bounded semaphore
// (spec.md §4.5's "worker pool") gates how many requests run concurrently,
// and a writer mutex serializes replies so concurrent invocations never
// interleave frames on the shared socket.
func (svr *Server) handleConn(conn net.Conn) {
	defer svr.wg.Done()
	defer conn.Close()

	sem := make(chan struct{}, svr.opts.WorkerPoolSize)
	writeMu := &sync.Mutex{}
	var inflight sync.WaitGroup

	for {
		msg, err := message.Decode(conn)
		if err != nil {
			break // decode error or peer closed; shut the socket down
		}

		if msg.Heartbeat {
			continue // one-way, elicits no reply, never dispatched
		}

		sem <- struct{}{} // blocks here when the pool is saturated — back-pressures the reader
		inflight.Add(1)
		go func(msg *message.Message) {
			defer inflight.Done()
			defer func() { <-sem }()
			svr.invoke(conn, writeMu, msg)
		}(msg)
	}

	inflight.Wait()
}

// invoke runs one request through the middleware chain and writes its
// reply. msg.Oneway requests are still dispatched (their handler may have
// side effects) but their reply is discarded rather than written.
func (svr *Server) invoke(conn net.Conn, writeMu *sync.Mutex, msg *message.Message) {
	resp := svr.handler(context.Background(), msg)
	if msg.Oneway {
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := resp.Encode(conn); err != nil {
		log.Printf("rpcx: failed to write reply for %s.%s: %v", msg.ServicePath, msg.ServiceMethod, err)
	}
}

// dispatch is the business handler at the bottom of the middleware chain:
// registry lookup, then Handler invocation under the request's declared
// SerializeKind (spec.md §4.5 steps 2-4).
func (svr *Server) dispatch(ctx context.Context, req *message.Message) *message.Message {
	resp := message.ReplyOf(req)

	h, ok := svr.reg.lookup(req.ServicePath, req.ServiceMethod)
	if !ok {
		resp.StatusKind = message.StatusError
		resp.Metadata[message.ErrorMetaKey] = notFoundError(req.ServicePath, req.ServiceMethod).Error()
		return resp
	}

	reqPayload := req.Payload
	if req.CompressKind != message.CompressNone {
		compressor, err := param.CompressorFor(req.CompressKind)
		if err != nil {
			resp.StatusKind = message.StatusError
			resp.Metadata[message.ErrorMetaKey] = err.Error()
			return resp
		}
		reqPayload, err = compressor.Decompress(reqPayload)
		if err != nil {
			resp.StatusKind = message.StatusError
			resp.Metadata[message.ErrorMetaKey] = err.Error()
			return resp
		}
	}

	replyPayload, err := h(reqPayload, req.SerializeKind)
	if err != nil {
		resp.StatusKind = message.StatusError
		resp.Metadata[message.ErrorMetaKey] = err.Error()
		return resp
	}

	if req.CompressKind != message.CompressNone {
		compressor, cerr := param.CompressorFor(req.CompressKind)
		if cerr != nil {
			resp.StatusKind = message.StatusError
			resp.Metadata[message.ErrorMetaKey] = cerr.Error()
			return resp
		}
		replyPayload, cerr = compressor.Compress(replyPayload)
		if cerr != nil {
			resp.StatusKind = message.StatusError
			resp.Metadata[message.ErrorMetaKey] = cerr.Error()
			return resp
		}
	}

	resp.Payload = replyPayload
	return resp
}

// Shutdown closes the listener (stopping new connections) and waits for
// in-flight connection tasks to finish, up to timeout.
func (svr *Server) Shutdown(timeout time.Duration) error {
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("rpcx: timeout waiting for connections to drain")
	}
}
