package protocol

import (
	"net/url"
	"testing"

	"hpool/pkg/errors"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestOriginOfDefaultPorts(t *testing.T) {
	tests := []struct {
		raw  string
		want Origin
	}{
		{"http://example.com/path", Origin{"http", "example.com", 80}},
		{"https://example.com/path", Origin{"https", "example.com", 443}},
		{"http://example.com:8080/", Origin{"http", "example.com", 8080}},
		{"https://example.com:80/", Origin{"https", "example.com", 80}},
		{"http://127.0.0.1:9000/x?q=1", Origin{"http", "127.0.0.1", 9000}},
	}
	for _, tt := range tests {
		got, err := OriginOf(mustParse(t, tt.raw))
		if err != nil {
			t.Fatalf("OriginOf(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Errorf("OriginOf(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestOriginOfKeepsHostCase(t *testing.T) {
	got, err := OriginOf(mustParse(t, "http://EXAMPLE.com/"))
	if err != nil {
		t.Fatalf("OriginOf: %v", err)
	}
	if got.Host != "EXAMPLE.com" {
		t.Errorf("host was canonicalized: %q", got.Host)
	}
	lower, _ := OriginOf(mustParse(t, "http://example.com/"))
	if got == lower {
		t.Error("differently-cased hosts should be distinct origins")
	}
}

func TestOriginOfIPv6(t *testing.T) {
	got, err := OriginOf(mustParse(t, "http://[::1]:8080/"))
	if err != nil {
		t.Fatalf("OriginOf: %v", err)
	}
	if got.Host != "::1" || got.Port != 8080 {
		t.Errorf("got %+v", got)
	}
	if got.Addr() != "[::1]:8080" {
		t.Errorf("Addr() = %q, want bracketed form", got.Addr())
	}
}

func TestOriginOfRejectsScheme(t *testing.T) {
	_, err := OriginOf(mustParse(t, "ftp://example.com/"))
	if !errors.Is(err, errors.ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

func TestOriginOfRejectsMissingHost(t *testing.T) {
	_, err := OriginOf(&url.URL{Scheme: "http"})
	if !errors.Is(err, errors.ErrMissingHost) {
		t.Errorf("expected ErrMissingHost, got %v", err)
	}
}

func TestOriginString(t *testing.T) {
	o := Origin{"https", "example.com", 443}
	if s := o.String(); s != "https://example.com:443" {
		t.Errorf("String() = %q", s)
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := map[ConnectionState]string{
		StateIdle:           "IDLE",
		StateActive:         "ACTIVE",
		StateClosed:         "CLOSED",
		ConnectionState(42): "UNKNOWN",
	}
	for st, want := range tests {
		if got := st.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", st, got, want)
		}
	}
}

func TestHTTPVersion(t *testing.T) {
	if HTTP11.Multiplexed() {
		t.Error("HTTP/1.1 must not report multiplexed")
	}
	if !HTTP2.Multiplexed() {
		t.Error("HTTP/2 must report multiplexed")
	}
	if HTTP11.String() != "HTTP/1.1" || HTTP2.String() != "HTTP/2" {
		t.Errorf("version strings: %q, %q", HTTP11, HTTP2)
	}
}
