// Package pool provides the connection-pooling core of the hpool transport.
// It keeps an origin-keyed registry of connections, reuses them according to
// their protocol's multiplexing rules, evicts connections that dropped while
// idle, and ties connection release to response body closure.
package pool
