package protocol

import "time"

// ConnectionState describes where a connection is in its lifecycle.
//
// A connection serving a request (or, for multiplexed protocols, at least one
// stream) is ACTIVE. A live connection with no request in flight is IDLE.
// CLOSED is terminal: a closed connection never leaves that state and is
// never handed out again.
type ConnectionState int32

const (
	StateIdle ConnectionState = iota
	StateActive
	StateClosed
)

// String returns the state name for logging.
func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// HTTPVersion selects the wire protocol a connection speaks.
type HTTPVersion int

const (
	HTTP11 HTTPVersion = iota
	HTTP2
)

// String returns the protocol name as it appears in a status line.
func (v HTTPVersion) String() string {
	switch v {
	case HTTP2:
		return "HTTP/2"
	default:
		return "HTTP/1.1"
	}
}

// Multiplexed reports whether the protocol carries concurrent streams over a
// single connection. A multiplexed connection may be handed out again while
// ACTIVE; a single-stream connection is reusable only when IDLE.
func (v HTTPVersion) Multiplexed() bool {
	return v == HTTP2
}

// Timeouts bounds the blocking phases of a request. A zero field means no
// limit for that phase.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}
