// Package conn provides the connection implementations used by the pool: a
// single-stream HTTP/1.1 connection and a multiplexed HTTP/2 connection, plus
// the socket liveness probe that detects peers which vanished while a
// connection sat idle.
package conn
