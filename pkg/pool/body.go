package pool

import (
	"io"
	"sync"
)

// ResponseBodyStream wraps a response body so the pool learns, exactly once,
// when the caller is done with it. Every response served by the pool carries
// one as its Body; connection reuse stalls until it is closed.
type ResponseBodyStream struct {
	body   io.ReadCloser
	conn   Connection
	notify func(Connection)
	once   sync.Once
}

// NewResponseBodyStream binds a response body to the connection that produced
// it. notify is invoked after the body has been closed.
func NewResponseBodyStream(body io.ReadCloser, conn Connection, notify func(Connection)) *ResponseBodyStream {
	return &ResponseBodyStream{body: body, conn: conn, notify: notify}
}

// Read forwards to the underlying body.
func (s *ResponseBodyStream) Read(b []byte) (int, error) {
	return s.body.Read(b)
}

// Close closes the underlying body first, then delivers the release
// notification. The notification fires exactly once across any number of
// Close calls, and it fires even if closing the body panics. A close error
// from the body is returned only after the notification has run.
func (s *ResponseBodyStream) Close() error {
	var err error
	s.once.Do(func() {
		defer s.notify(s.conn)
		err = s.body.Close()
	})
	return err
}
