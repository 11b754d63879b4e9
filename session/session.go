// Package session implements the client-side multiplexed TCP session: one
// connection, a reader loop, a writer loop, and a pending-calls table
// correlating responses to outstanding calls by sequence number.
//
// It generalizes the teacher's transport.ClientTransport (which hardcoded
// JSON-wrapped RPCMessage framing) to the full rpcx message.Message wire
// format — any SerializeKind, optional gzip compression, one-way and
// heartbeat frames — while keeping the teacher's shape: a sending mutex
// became a writer goroutine fed by a channel (Send hands its frame to that
// goroutine and waits for it to report the write result),
// recvLoop/pending map became readLoop/pending sync.Map, and
// heartbeatLoop is unchanged in spirit.
package session

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"rpcx/call"
	"rpcx/message"
	"rpcx/param"
)

// Options configures a Session. Zero value is usable: no timeouts, JSON
// encoding, no compression, heartbeat disabled.
type Options struct {
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	TCPNoDelay        bool
	SerializeKind     message.SerializeKind
	CompressKind      message.CompressKind
	HeartbeatInterval time.Duration // 0 disables heartbeats
	WriteQueueSize    int           // outbound frame queue depth, default 64
}

func (o Options) withDefaults() Options {
	if o.WriteQueueSize == 0 {
		o.WriteQueueSize = 64
	}
	if o.SerializeKind == message.SerializeNone {
		o.SerializeKind = message.SerializeJSON
	}
	return o
}

// outboundFrame pairs an encoded message with the channel used to report a
// write failure back to Send, so a failed enqueue/send can fail the call
// that produced it without the writer loop knowing about calls at all.
type outboundFrame struct {
	msg    *message.Message
	result chan error // buffered(1); nil for fire-and-forget internal frames
}

// Session owns one live TCP connection plus its reader/writer/pending
// state (spec.md §3 "Session").
type Session struct {
	conn    net.Conn
	opts    Options
	seq     atomic.Uint64
	pending sync.Map // map[uint64]*call.Call
	outbox  chan outboundFrame
	closed  atomic.Bool
	closeCh chan struct{}
}

// Start dials addr (honoring opts.ConnectTimeout), applies TCP options, and
// spawns the reader and writer loops.
func Start(network, addr string, opts Options) (*Session, error) {
	opts = opts.withDefaults()

	dialer := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, &call.NetworkError{Err: err}
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(opts.TCPNoDelay)
	}

	s := &Session{
		conn:    conn,
		opts:    opts,
		outbox:  make(chan outboundFrame, opts.WriteQueueSize),
		closeCh: make(chan struct{}),
	}

	go s.readLoop()
	go s.writeLoop()
	if opts.HeartbeatInterval > 0 {
		go s.heartbeatLoop(opts.HeartbeatInterval)
	}
	return s, nil
}

// Conn returns the underlying connection.
func (s *Session) Conn() net.Conn { return s.conn }

// Send builds and enqueues a request, returning a CallFuture the caller can
// Wait on. For oneway or heartbeat sends, the returned future resolves
// immediately and no entry is added to the pending table.
func (s *Session) Send(ctx context.Context, servicePath, serviceMethod string, oneway, heartbeat bool, metadata map[string]string, arg any) (*call.CallFuture, error) {
	seq := s.seq.Add(1)

	codec, err := param.CodecFor(s.opts.SerializeKind)
	if err != nil {
		return nil, err
	}
	payload, err := codec.Marshal(arg)
	if err != nil {
		return nil, err
	}
	if s.opts.CompressKind != message.CompressNone {
		compressor, cerr := param.CompressorFor(s.opts.CompressKind)
		if cerr != nil {
			return nil, cerr
		}
		payload, cerr = compressor.Compress(payload)
		if cerr != nil {
			return nil, cerr
		}
	}

	msg := message.NewRequest(seq, servicePath, serviceMethod)
	msg.SerializeKind = s.opts.SerializeKind
	msg.CompressKind = s.opts.CompressKind
	msg.Oneway = oneway
	msg.Heartbeat = heartbeat
	for k, v := range metadata {
		msg.Metadata[k] = v
	}
	msg.Payload = payload

	var c *call.Call
	if !oneway && !heartbeat {
		c = call.New(seq)
		s.pending.Store(seq, c)
	}

	result := make(chan error, 1)
	select {
	case s.outbox <- outboundFrame{msg: msg, result: result}:
	case <-s.closeCh:
		if c != nil {
			if _, ok := s.pending.LoadAndDelete(seq); ok {
				c.ResolveClientError(&call.NetworkError{Err: fmt.Errorf("session closed")})
			}
		}
		return call.NewFuture(c), &call.NetworkError{Err: fmt.Errorf("session closed")}
	case <-ctx.Done():
		if c != nil {
			s.pending.Delete(seq)
		}
		return nil, ctx.Err()
	}

	select {
	case err := <-result:
		if err != nil {
			if c != nil {
				if _, ok := s.pending.LoadAndDelete(seq); ok {
					c.ResolveClientError(err)
				}
			}
			return call.NewFuture(c), err
		}
		return call.NewFuture(c), nil
	case <-s.closeCh:
		err := &call.NetworkError{Err: fmt.Errorf("session closed")}
		if c != nil {
			if _, ok := s.pending.LoadAndDelete(seq); ok {
				c.ResolveClientError(err)
			}
		}
		return call.NewFuture(c), err
	case <-ctx.Done():
		if c != nil {
			s.pending.Delete(seq)
		}
		return nil, ctx.Err()
	}
}

// Call issues a request and waits for its reply, decoding the payload into
// reply using the session's SerializeKind. oneway calls return as soon as
// the writer loop reports the frame written, with reply left untouched.
func (s *Session) Call(ctx context.Context, servicePath, serviceMethod string, oneway bool, metadata map[string]string, arg, reply any) error {
	future, err := s.Send(ctx, servicePath, serviceMethod, oneway, false, metadata, arg)
	if err != nil {
		return err
	}
	if oneway {
		return nil
	}

	payload, err := future.Wait(ctx)
	if err != nil {
		return err
	}

	codec, err := param.CodecFor(s.opts.SerializeKind)
	if err != nil {
		return err
	}
	if s.opts.CompressKind != message.CompressNone {
		compressor, cerr := param.CompressorFor(s.opts.CompressKind)
		if cerr != nil {
			return cerr
		}
		payload, cerr = compressor.Decompress(payload)
		if cerr != nil {
			return cerr
		}
	}
	return codec.Unmarshal(payload, reply)
}

// writeLoop serializes all outbound writes to the socket so concurrent
// Send calls never interleave frame bytes — the teacher's "sending mutex"
// generalized into a single-consumer goroutine.
func (s *Session) writeLoop() {
	for frame := range s.outbox {
		if s.opts.WriteTimeout > 0 {
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		err := frame.msg.Encode(s.conn)
		if frame.result != nil {
			frame.result <- err
		}
		if err != nil {
			s.fail(&call.NetworkError{Err: err})
			return
		}
	}
}

// readLoop continuously decodes frames and routes each to the pending Call
// matching its seq, dropping anything whose seq isn't (or is no longer) in
// the table — the at-most-once guarantee from spec.md §8.
func (s *Session) readLoop() {
	for {
		if s.opts.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		}
		msg, err := message.Decode(s.conn)
		if err != nil {
			s.fail(&call.NetworkError{Err: err})
			return
		}
		if msg.Heartbeat {
			continue
		}

		v, ok := s.pending.LoadAndDelete(msg.Seq)
		if !ok {
			continue // no waiter (canceled, or a duplicate/stray reply) — drop silently
		}
		c := v.(*call.Call)

		if msg.StatusKind == message.StatusError {
			c.ResolveServerError(msg.Metadata[message.ErrorMetaKey])
			continue
		}
		c.ResolveReply(msg.Payload)
	}
}

func (s *Session) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_, err := s.Send(context.Background(), "", "", true, true, nil, param.Bytes(nil))
			if err != nil {
				return
			}
		case <-s.closeCh:
			return
		}
	}
}

// fail drains every pending call with err, closes the connection, and
// stops the session — the broadcast behavior spec.md §7 requires for
// Codec/Network errors.
func (s *Session) fail(err error) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.closeCh)
	_ = s.conn.Close()
	s.pending.Range(func(key, _ any) bool {
		if v, ok := s.pending.LoadAndDelete(key); ok {
			v.(*call.Call).ResolveClientError(err)
		}
		return true
	})
}

// Close shuts the session down and drains any pending calls with a
// client-side cancellation error.
func (s *Session) Close() error {
	s.fail(&call.NetworkError{Err: fmt.Errorf("session closed by caller")})
	return nil
}

// Closed reports whether the session has already failed/closed.
func (s *Session) Closed() bool { return s.closed.Load() }

// ParseEndpoint splits an endpoint key of the form "<transport>@<host:port>"
// into its network and address, defaulting the network to "tcp" when the
// '@' is absent (spec.md §4.7/§6).
func ParseEndpoint(key string) (network, address string) {
	if i := strings.IndexByte(key, '@'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return "tcp", key
}
