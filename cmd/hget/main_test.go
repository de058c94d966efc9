package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"hpool/pkg/client"
	"hpool/pkg/errors"
	"hpool/pkg/pool"
)

func TestErrLabel(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"context deadline", context.DeadlineExceeded, "TIMEOUT"},
		{"wrapped io timeout", fmt.Errorf("read response: %w", os.ErrDeadlineExceeded), "TIMEOUT"},
		{"plain failure", errors.New("connection refused"), "ERR"},
		{"canceled", context.Canceled, "ERR"},
	}
	for _, tc := range cases {
		if got := errLabel(tc.err); got != tc.want {
			t.Errorf("%s: errLabel = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	p := pool.NewPool(pool.Config{})
	defer p.Close()
	c := client.New(p, client.Options{})

	r := fetch(context.Background(), c, srv.URL, time.Second, true)
	if r.err != nil {
		t.Fatalf("fetch: %v", r.err)
	}
	if r.status != http.StatusOK || r.size != 5 || string(r.body) != "hello" {
		t.Errorf("result = %d %q (%d bytes)", r.status, r.body, r.size)
	}
	if r.proto != "HTTP/1.1" {
		t.Errorf("proto = %q", r.proto)
	}
}

func TestFetchTimeoutLabel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	p := pool.NewPool(pool.Config{})
	defer p.Close()
	c := client.New(p, client.Options{})

	r := fetch(context.Background(), c, srv.URL, 50*time.Millisecond, false)
	if r.err == nil {
		t.Fatal("expected a deadline failure")
	}
	if got := errLabel(r.err); got != "TIMEOUT" {
		t.Errorf("errLabel = %q, want TIMEOUT", got)
	}
}
