package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	"hpool/pkg/protocol"
)

// dialOrigin opens the transport socket for an origin: plain TCP for http,
// TLS with the given ALPN protocols for https. t.Connect bounds both the TCP
// dial and the TLS handshake.
func dialOrigin(ctx context.Context, origin protocol.Origin, base *tls.Config, t protocol.Timeouts, alpn ...string) (net.Conn, error) {
	d := net.Dialer{Timeout: t.Connect}
	raw, err := d.DialContext(ctx, "tcp", origin.Addr())
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", origin, err)
	}
	if origin.Scheme != "https" {
		return raw, nil
	}

	tc := tls.Client(raw, clientTLS(base, origin.Host, alpn))
	hctx := ctx
	if t.Connect > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, t.Connect)
		defer cancel()
	}
	if err := tc.HandshakeContext(hctx); err != nil {
		raw.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", origin, err)
	}
	return tc, nil
}

// clientTLS clones the base configuration, filling in SNI and ALPN.
func clientTLS(base *tls.Config, host string, alpn []string) *tls.Config {
	cfg := &tls.Config{}
	if base != nil {
		cfg = base.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	if len(alpn) > 0 {
		cfg.NextProtos = alpn
	}
	return cfg
}
