package pool

import (
	"net/http"

	"hpool/pkg/protocol"
)

// Connection is the capability set the pool requires from a pooled
// connection. pkg/conn provides the HTTP/1.1 and HTTP/2 implementations; the
// pool treats the handle as opaque and compares handles by identity only.
type Connection interface {
	// Origin returns the endpoint the connection is bound to.
	Origin() protocol.Origin

	// State returns the current lifecycle state.
	State() protocol.ConnectionState

	// SetState transitions the lifecycle state. The pool calls this only
	// while holding its registry lock, to reserve a reusable connection
	// before any other goroutine can observe it.
	SetState(protocol.ConnectionState)

	// Version reports the wire protocol, which decides whether the
	// connection may be handed out again while ACTIVE.
	Version() protocol.HTTPVersion

	// IsDropped reports whether the peer closed the transport socket while
	// the connection sat idle. It must not block: the pool calls it with
	// the registry lock held.
	IsDropped() bool

	// Do sends the request and returns the response with its body unread.
	// The connection owns the socket until that body is closed.
	Do(req *http.Request, t protocol.Timeouts) (*http.Response, error)

	// Close releases the transport resources and marks the connection
	// CLOSED. It is idempotent.
	Close() error
}

// Factory constructs a connection for an origin. It must not perform I/O:
// connections dial lazily inside their first request, which lets the pool
// invoke the factory while holding its registry lock.
type Factory func(origin protocol.Origin) Connection
