package conn

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"hpool/pkg/errors"
	"hpool/pkg/protocol"
)

func newH2Server(handler http.Handler) (*httptest.Server, *atomic.Int32) {
	var accepted atomic.Int32
	srv := httptest.NewUnstartedServer(handler)
	srv.EnableHTTP2 = true
	srv.Config.ConnState = func(_ net.Conn, s http.ConnState) {
		if s == http.StateNew {
			accepted.Add(1)
		}
	}
	srv.StartTLS()
	return srv, &accepted
}

func TestHTTP2Exchange(t *testing.T) {
	srv, _ := newH2Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("over h2"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.ProtoMajor != 2 {
		t.Errorf("proto = %s, want HTTP/2", resp.Proto)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "over h2" {
		t.Errorf("body = %q", body)
	}
	resp.Body.Close()

	if got := c.State(); got != protocol.StateIdle {
		t.Errorf("state = %v, want IDLE after last stream closed", got)
	}
}

func TestHTTP2StreamAccounting(t *testing.T) {
	srv, accepted := newH2Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	defer c.Close()

	resp1, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("first stream: %v", err)
	}
	resp2, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("second stream: %v", err)
	}

	if got := c.State(); got != protocol.StateActive {
		t.Errorf("state with two open streams = %v, want ACTIVE", got)
	}

	io.Copy(io.Discard, resp1.Body)
	resp1.Body.Close()
	if got := c.State(); got != protocol.StateActive {
		t.Errorf("state with one open stream = %v, want ACTIVE", got)
	}

	io.Copy(io.Discard, resp2.Body)
	resp2.Body.Close()
	if got := c.State(); got != protocol.StateIdle {
		t.Errorf("state with no open streams = %v, want IDLE", got)
	}

	if got := accepted.Load(); got != 1 {
		t.Errorf("server accepted %d connections, want 1: streams share the socket", got)
	}
}

func TestHTTP2ConcurrentStreams(t *testing.T) {
	srv, accepted := newH2Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	defer c.Close()

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		g.Go(func() error {
			req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, srv.URL, nil)
			if err != nil {
				return err
			}
			resp, err := c.Do(req, protocol.Timeouts{})
			if err != nil {
				return err
			}
			io.Copy(io.Discard, resp.Body)
			return resp.Body.Close()
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent stream failed: %v", err)
	}

	if got := accepted.Load(); got != 1 {
		t.Errorf("server accepted %d connections, want 1", got)
	}
	if got := c.State(); got != protocol.StateIdle {
		t.Errorf("state = %v, want IDLE after all streams closed", got)
	}
}

func TestHTTP2IsDroppedDuringDial(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer lis.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		sock, err := lis.Accept()
		if err != nil {
			return
		}
		accepted <- sock // parked: the TLS handshake never gets an answer
	}()

	u, err := url.Parse("https://" + lis.Addr().String() + "/")
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	origin, err := protocol.OriginOf(u)
	if err != nil {
		t.Fatalf("derive origin: %v", err)
	}

	c := NewHTTP2(origin, &tls.Config{InsecureSkipVerify: true}, testLog)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dialDone := make(chan struct{})
	go func() {
		defer close(dialDone)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return
		}
		c.Do(req, protocol.Timeouts{})
	}()

	var sock net.Conn
	select {
	case sock = <-accepted:
		defer sock.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("dial never reached the listener")
	}

	// The probe runs while the dial still holds the connection's mutex in
	// the TLS handshake; it must answer without waiting for it.
	probed := make(chan bool, 1)
	go func() { probed <- c.IsDropped() }()
	select {
	case dropped := <-probed:
		if dropped {
			t.Error("session mid-handshake reported dropped")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("IsDropped blocked behind the in-flight handshake")
	}

	cancel()
	<-dialDone
}

func TestHTTP2IsDroppedAfterPeerClose(t *testing.T) {
	srv, _ := newH2Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if c.IsDropped() {
		t.Fatal("live idle session reported dropped")
	}

	srv.CloseClientConnections()

	deadline := time.Now().Add(2 * time.Second)
	for !c.IsDropped() {
		if time.Now().After(deadline) {
			t.Fatal("peer close never detected")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHTTP2Cleartext(t *testing.T) {
	srv := httptest.NewServer(h2c.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("h2c"))
	}), &http2.Server{}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), nil, testLog)
	defer c.Close()

	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("Do over cleartext: %v", err)
	}
	if resp.ProtoMajor != 2 {
		t.Errorf("proto = %s, want HTTP/2", resp.Proto)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "h2c" {
		t.Errorf("body = %q", body)
	}
}

func TestHTTP2RefusedByPeerALPN(t *testing.T) {
	// Server speaks HTTP/1.1 only; the h2 handshake must not be forced.
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("nope"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	_, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err == nil {
		t.Fatal("expected negotiation failure")
	}
	if got := c.State(); got != protocol.StateClosed {
		t.Errorf("state = %v, want CLOSED", got)
	}
}

func TestHTTP2CloseIdempotent(t *testing.T) {
	srv, _ := newH2Server(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()

	c := NewHTTP2(originOf(t, srv), serverTLS(t, srv), testLog)
	resp, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if !c.IsDropped() {
		t.Error("closed session must report dropped")
	}

	if _, err := c.Do(mustRequest(t, context.Background(), http.MethodGet, srv.URL), protocol.Timeouts{}); !errors.Is(err, errors.ErrConnectionClosed) {
		t.Errorf("Do after Close = %v, want ErrConnectionClosed", err)
	}
}
