// Package client provides a thin convenience layer over the pooled
// transport: default headers, content-encoding negotiation, transparent
// decompression, and optional charset transcoding. Connection lifecycle stays
// with the transport underneath; every wrapper installed here closes the
// transport's body so release notifications keep firing.
package client
