//go:build unix

package conn

import (
	"crypto/tls"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// sockDropped peeks at the socket without blocking or consuming data. Go
// sockets are non-blocking at the fd level, so an empty, healthy socket
// reports EAGAIN. A clean EOF, any other error, or stray bytes on a
// connection that should be quiet all mean the peer is gone or the socket is
// unusable for another exchange.
func sockDropped(c net.Conn) bool {
	if tc, ok := c.(*tls.Conn); ok {
		c = tc.NetConn()
	}
	sc, ok := c.(syscall.Conn)
	if !ok {
		return false
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return true
	}

	dropped := false
	rerr := raw.Read(func(fd uintptr) bool {
		var buf [1]byte
		n, _, err := unix.Recvfrom(int(fd), buf[:], unix.MSG_PEEK)
		switch {
		case n == 0 && err == nil:
			dropped = true
		case err == unix.EAGAIN || err == unix.EWOULDBLOCK:
			dropped = false
		case err != nil:
			dropped = true
		default:
			dropped = true
		}
		return true
	})
	if rerr != nil {
		return true
	}
	return dropped
}
