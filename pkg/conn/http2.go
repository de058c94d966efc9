package conn

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"golang.org/x/net/http2"

	"hpool/pkg/errors"
	"hpool/pkg/logger"
	"hpool/pkg/protocol"
)

// HTTP2 is a multiplexed connection: concurrent requests share one socket as
// independent streams, so it stays reusable while ACTIVE and parks IDLE when
// the last stream finishes. The socket is dialed lazily under the first
// request; requests arriving mid-dial block on the same handshake.
type HTTP2 struct {
	origin protocol.Origin
	tls    *tls.Config
	log    *logger.Logger

	state   atomic.Int32
	streams int32

	// mu serializes the dial and guards stream accounting. cc is published
	// atomically: the liveness probe runs with the pool's registry lock
	// held and must never wait on an in-flight handshake.
	mu sync.Mutex
	cc atomic.Pointer[http2.ClientConn]
}

// NewHTTP2 creates an HTTP/2 connection for the origin. https origins
// negotiate h2 over ALPN; http origins speak the cleartext variant directly
// (prior knowledge). Constructing an HTTP2 performs no I/O.
func NewHTTP2(origin protocol.Origin, base *tls.Config, log *logger.Logger) *HTTP2 {
	if log == nil {
		log = logger.Get()
	}
	c := &HTTP2{origin: origin, tls: base, log: log}
	c.state.Store(int32(protocol.StateActive))
	return c
}

// Origin returns the endpoint the connection is bound to.
func (c *HTTP2) Origin() protocol.Origin { return c.origin }

// State returns the current lifecycle state.
func (c *HTTP2) State() protocol.ConnectionState {
	return protocol.ConnectionState(c.state.Load())
}

// SetState transitions the lifecycle state.
func (c *HTTP2) SetState(s protocol.ConnectionState) {
	c.state.Store(int32(s))
}

// Version reports HTTP/2.
func (c *HTTP2) Version() protocol.HTTPVersion { return protocol.HTTP2 }

// IsDropped reports whether the underlying session is gone. The framer layer
// tracks GOAWAY and socket errors, so this is a state inspection, not I/O.
// It reads the published session pointer instead of taking c.mu: a dial in
// flight holds that mutex, and the probe must not block behind it. A session
// still mid-handshake reports not dropped.
func (c *HTTP2) IsDropped() bool {
	if c.State() == protocol.StateClosed {
		return true
	}
	cc := c.cc.Load()
	if cc == nil {
		return false
	}
	st := cc.State()
	return st.Closed || st.Closing
}

// begin dials the session if needed and registers one stream.
func (c *HTTP2) begin(req *http.Request, t protocol.Timeouts) (*http2.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == protocol.StateClosed {
		return nil, errors.ErrConnectionClosed
	}

	cc := c.cc.Load()
	if cc == nil {
		var sock net.Conn
		var err error
		if c.origin.Scheme == "https" {
			sock, err = dialOrigin(req.Context(), c.origin, c.tls, t, http2.NextProtoTLS)
			if err == nil {
				if tc, ok := sock.(*tls.Conn); ok {
					if proto := tc.ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
						sock.Close()
						err = fmt.Errorf("%w: server negotiated %q", errors.ErrProtocolMismatch, proto)
					}
				}
			}
		} else {
			sock, err = dialOrigin(req.Context(), c.origin, nil, t)
		}
		if err != nil {
			c.state.Store(int32(protocol.StateClosed))
			return nil, err
		}

		tr := &http2.Transport{
			AllowHTTP:          c.origin.Scheme == "http",
			DisableCompression: true,
			ReadIdleTimeout:    t.Read,
			WriteByteTimeout:   t.Write,
		}
		cc, err = tr.NewClientConn(sock)
		if err != nil {
			sock.Close()
			c.state.Store(int32(protocol.StateClosed))
			return nil, fmt.Errorf("http2 setup %s: %w", c.origin, err)
		}
		c.cc.Store(cc)
		c.log.Debug("session established", "origin", c.origin.String(), "proto", "h2")
	}

	c.streams++
	c.state.Store(int32(protocol.StateActive))
	return cc, nil
}

// streamDone retires one stream; the connection parks IDLE when the last one
// finishes, unless it has been closed meanwhile.
func (c *HTTP2) streamDone() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.streams--
	if c.streams == 0 && c.State() == protocol.StateActive {
		c.state.Store(int32(protocol.StateIdle))
	}
}

// Do sends one request as a stream over the shared session. Cancellation and
// deadlines ride on the request context.
func (c *HTTP2) Do(req *http.Request, t protocol.Timeouts) (*http.Response, error) {
	cc, err := c.begin(req, t)
	if err != nil {
		return nil, err
	}

	resp, err := cc.RoundTrip(req)
	if err != nil {
		c.streamDone()
		if !cc.CanTakeNewRequest() {
			c.Close()
		}
		return nil, fmt.Errorf("http2 roundtrip: %w", err)
	}
	resp.Body = &http2Body{conn: c, inner: resp.Body}
	return resp, nil
}

// Close shuts the session down and marks the connection CLOSED. Idempotent.
func (c *HTTP2) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State() == protocol.StateClosed {
		return nil
	}
	c.state.Store(int32(protocol.StateClosed))
	if cc := c.cc.Load(); cc != nil {
		return cc.Close()
	}
	return nil
}

// http2Body retires its stream once closed.
type http2Body struct {
	conn  *HTTP2
	inner io.ReadCloser
	once  sync.Once
}

func (b *http2Body) Read(p []byte) (int, error) { return b.inner.Read(p) }

func (b *http2Body) Close() error {
	err := b.inner.Close()
	b.once.Do(b.conn.streamDone)
	return err
}
