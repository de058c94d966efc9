package client

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"hpool/pkg/errors"
)

// acceptEncoding lists the codings decodeContent can undo.
const acceptEncoding = "gzip, deflate, br, zstd"

// decodeContent swaps resp.Body for a decoding reader when the response
// declares a supported Content-Encoding. Headers describing the encoded form
// are dropped so metadata and body stay consistent. Unknown codings pass
// through untouched.
func decodeContent(resp *http.Response) error {
	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" {
		return nil
	}
	if resp.Request != nil && resp.Request.Method == http.MethodHead {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotModified {
		return nil
	}

	inner := resp.Body
	var (
		r      io.Reader
		closer func() error
	)
	switch enc {
	case "gzip":
		gz, err := gzip.NewReader(inner)
		if err != nil {
			return fmt.Errorf("decode gzip: %w", err)
		}
		r, closer = gz, gz.Close
	case "deflate":
		zr, err := zlib.NewReader(inner)
		if err != nil {
			return fmt.Errorf("decode deflate: %w", err)
		}
		r, closer = zr, zr.Close
	case "br":
		r = brotli.NewReader(inner)
	case "zstd":
		zr, err := zstd.NewReader(inner)
		if err != nil {
			return fmt.Errorf("decode zstd: %w", err)
		}
		r = zr
		closer = func() error {
			zr.Close()
			return nil
		}
	default:
		return nil
	}

	resp.Body = &decodedBody{r: r, closer: closer, inner: inner}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}

// decodedBody layers a decoder over the transport body. Close tears the
// decoder down first and closes the transport body regardless, so the
// connection release underneath always happens.
type decodedBody struct {
	r      io.Reader
	closer func() error
	inner  io.ReadCloser
}

func (b *decodedBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *decodedBody) Close() error {
	var derr error
	if b.closer != nil {
		derr = b.closer()
	}
	ierr := b.inner.Close()
	return errors.Join(derr, ierr)
}
