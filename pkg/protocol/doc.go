// Package protocol provides the shared wire-level types for the hpool
// transport. It defines connection origins, connection lifecycle states,
// protocol versions, and the timeout settings passed to connections.
package protocol
