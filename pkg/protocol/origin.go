package protocol

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"hpool/pkg/errors"
)

// Origin identifies the endpoint a pooled connection is bound to: the
// (scheme, host, port) triple of the request URL. Two requests may share a
// connection only if all three components are equal. The host is kept exactly
// as it appears in the URL; no case folding or other canonicalization is
// applied, so "example.com" and "EXAMPLE.com" are distinct origins.
type Origin struct {
	Scheme string
	Host   string
	Port   int
}

// OriginOf derives the origin for a request URL. A URL without an explicit
// port gets the scheme default (80 for http, 443 for https). Schemes other
// than http and https are rejected.
func OriginOf(u *url.URL) (Origin, error) {
	var port int
	switch u.Scheme {
	case "http":
		port = 80
	case "https":
		port = 443
	default:
		return Origin{}, fmt.Errorf("%w: %q", errors.ErrUnsupportedScheme, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Origin{}, errors.ErrMissingHost
	}

	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Origin{}, fmt.Errorf("origin port %q: %w", p, err)
		}
		port = n
	}

	return Origin{Scheme: u.Scheme, Host: host, Port: port}, nil
}

// String returns the origin in scheme://host:port form.
func (o Origin) String() string {
	return o.Scheme + "://" + o.Addr()
}

// Addr returns the host:port dial address for the origin.
func (o Origin) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}
