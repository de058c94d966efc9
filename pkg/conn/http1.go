package conn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/bytebufferpool"

	"hpool/pkg/errors"
	"hpool/pkg/logger"
	"hpool/pkg/protocol"
)

// HTTP1 is a single-stream connection: one request/response exchange at a
// time, reusable only when IDLE. The socket is dialed lazily by the first
// request, so constructing an HTTP1 performs no I/O.
type HTTP1 struct {
	origin protocol.Origin
	tls    *tls.Config
	log    *logger.Logger

	state atomic.Int32

	mu   sync.Mutex // guards dial and the write/read-header phase
	sock net.Conn
	br   *bufio.Reader
	busy bool
}

// NewHTTP1 creates an HTTP/1.1 connection for the origin. It starts ACTIVE:
// it exists to serve the request that caused the pool miss.
func NewHTTP1(origin protocol.Origin, base *tls.Config, log *logger.Logger) *HTTP1 {
	if log == nil {
		log = logger.Get()
	}
	c := &HTTP1{origin: origin, tls: base, log: log}
	c.state.Store(int32(protocol.StateActive))
	return c
}

// Origin returns the endpoint the connection is bound to.
func (c *HTTP1) Origin() protocol.Origin { return c.origin }

// State returns the current lifecycle state.
func (c *HTTP1) State() protocol.ConnectionState {
	return protocol.ConnectionState(c.state.Load())
}

// SetState transitions the lifecycle state.
func (c *HTTP1) SetState(s protocol.ConnectionState) {
	c.state.Store(int32(s))
}

// Version reports HTTP/1.1.
func (c *HTTP1) Version() protocol.HTTPVersion { return protocol.HTTP11 }

// IsDropped probes the socket for a peer close without blocking. A socket
// with unsolicited bytes counts as dropped too: nothing should arrive on an
// idle connection. An undialed connection cannot have been dropped.
func (c *HTTP1) IsDropped() bool {
	if c.State() == protocol.StateClosed {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return false
	}
	if c.br.Buffered() > 0 {
		return true
	}
	return sockDropped(c.sock)
}

// Do sends one request over the connection. The returned response owns the
// socket until its body is closed; only then can the connection go back to
// IDLE, and only if the exchange completed cleanly and the peer allows
// keep-alive.
func (c *HTTP1) Do(req *http.Request, t protocol.Timeouts) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == protocol.StateClosed {
		return nil, errors.ErrConnectionClosed
	}
	if c.busy {
		return nil, errors.ErrConnectionBusy
	}

	if c.sock == nil {
		sock, err := dialOrigin(req.Context(), c.origin, c.tls, t, "http/1.1")
		if err != nil {
			c.closeLocked()
			return nil, err
		}
		c.sock = sock
		c.br = bufio.NewReader(sock)
		c.log.Debug("dialed", "origin", c.origin.String(), "proto", "http/1.1")
	}

	finished := make(chan struct{})
	done := make(chan struct{})
	go watchContext(req.Context(), c.sock, finished, done)

	if t.Write > 0 {
		c.sock.SetWriteDeadline(time.Now().Add(t.Write))
	}
	if err := c.writeRequest(req); err != nil {
		stopWatch(finished, done)
		c.closeLocked()
		return nil, fmt.Errorf("write request: %w", err)
	}

	if t.Read > 0 {
		c.sock.SetReadDeadline(time.Now().Add(t.Read))
	}
	resp, err := http.ReadResponse(c.br, req)
	if err != nil {
		stopWatch(finished, done)
		c.closeLocked()
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.busy = true
	resp.Body = &http1Body{
		conn:      c,
		inner:     resp.Body,
		keepalive: !resp.Close,
		noBody:    req.Method == http.MethodHead || noBodyStatus(resp.StatusCode),
		length:    resp.ContentLength,
		readTO:    t.Read,
		finished:  finished,
		done:      done,
	}
	return resp, nil
}

// writeRequest sends the request. Bodyless requests are assembled in a
// pooled buffer and hit the socket in a single write; requests with a body
// stream through req.Write so uploads are never held in memory.
func (c *HTTP1) writeRequest(req *http.Request) error {
	if req.Body != nil && req.Body != http.NoBody {
		return req.Write(c.sock)
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := req.Write(buf); err != nil {
		return err
	}
	_, err := c.sock.Write(buf.B)
	return err
}

// Close tears down the socket and marks the connection CLOSED. Idempotent.
func (c *HTTP1) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// closeLocked is Close with c.mu already held.
func (c *HTTP1) closeLocked() error {
	if c.State() == protocol.StateClosed {
		return nil
	}
	c.state.Store(int32(protocol.StateClosed))
	if c.sock != nil {
		return c.sock.Close()
	}
	return nil
}

// park returns the connection to IDLE after a clean exchange.
func (c *HTTP1) park() {
	c.mu.Lock()
	c.busy = false
	c.sock.SetDeadline(time.Time{})
	c.mu.Unlock()
	c.state.Store(int32(protocol.StateIdle))
}

// watchContext pokes the socket deadline when ctx ends so blocked socket I/O
// returns instead of hanging. finished stops the watch; done is closed when
// it has fully exited, after which deadlines may be reset safely.
func watchContext(ctx context.Context, sock net.Conn, finished, done chan struct{}) {
	defer close(done)
	select {
	case <-ctx.Done():
		sock.SetDeadline(time.Now())
	case <-finished:
	}
}

func stopWatch(finished, done chan struct{}) {
	close(finished)
	<-done
}

// noBodyStatus reports status codes whose responses never carry a body.
func noBodyStatus(code int) bool {
	return code == http.StatusNoContent || code == http.StatusNotModified ||
		(code >= 100 && code < 200)
}

// http1Body tracks how much of the response was consumed; that bookkeeping,
// not a speculative read, decides whether the socket is clean enough to keep.
type http1Body struct {
	conn      *HTTP1
	inner     io.ReadCloser
	keepalive bool
	noBody    bool
	length    int64 // ContentLength, -1 when unknown
	readTO    time.Duration

	finished chan struct{}
	done     chan struct{}

	mu       sync.Mutex
	consumed int64
	sawEOF   bool
	closed   bool
}

func (b *http1Body) Read(p []byte) (int, error) {
	if b.readTO > 0 {
		b.conn.sock.SetReadDeadline(time.Now().Add(b.readTO))
	}
	n, err := b.inner.Read(p)
	b.mu.Lock()
	b.consumed += int64(n)
	if err == io.EOF {
		b.sawEOF = true
	}
	b.mu.Unlock()
	return n, err
}

// complete reports whether the full response message was consumed, leaving
// the socket positioned at a message boundary.
func (b *http1Body) complete() bool {
	if b.noBody || b.sawEOF {
		return true
	}
	return b.length >= 0 && b.consumed == b.length
}

// Close ends the exchange. A completed keep-alive exchange parks the
// connection IDLE; anything else closes it, since the socket is no longer at
// a message boundary.
func (b *http1Body) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	reusable := b.complete() && b.keepalive
	b.mu.Unlock()

	stopWatch(b.finished, b.done)

	err := b.inner.Close()
	if reusable && b.conn.State() == protocol.StateActive {
		b.conn.park()
		return err
	}
	cerr := b.conn.Close()
	if err != nil {
		return err
	}
	return cerr
}
