package errors

import "errors"

// Pool lifecycle errors
var (
	// ErrPoolClosed is returned when a request is issued on a closed pool
	ErrPoolClosed = errors.New("connection pool is closed")

	// ErrTooManyConnections is returned when the per-origin connection limit
	// is reached and the wait for a free slot is abandoned
	ErrTooManyConnections = errors.New("too many connections for origin")
)

// Connection lifecycle errors
var (
	// ErrConnectionClosed is returned when a request is issued on a connection
	// that has already been closed
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrConnectionBusy is returned when a single-stream connection receives a
	// request while another is still in flight
	ErrConnectionBusy = errors.New("connection is busy")

	// ErrProtocolMismatch is returned when TLS negotiates a protocol other
	// than the one the connection was created for
	ErrProtocolMismatch = errors.New("negotiated protocol mismatch")
)

// Request validation errors
var (
	// ErrUnsupportedScheme is returned for request URL schemes other than
	// http and https
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")

	// ErrMissingHost is returned when the request URL has no host
	ErrMissingHost = errors.New("request URL has no host")
)

// Configuration errors
var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool { return errors.Is(err, target) }

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool { return errors.As(err, target) }

// Join wraps the given errors into a single error, discarding nils.
func Join(errs ...error) error { return errors.Join(errs...) }

// New returns an error with the given text.
func New(text string) error { return errors.New(text) }
