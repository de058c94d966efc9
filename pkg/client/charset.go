package client

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// decodeCharset transcodes text responses declared in a non-UTF-8 charset to
// UTF-8 and rewrites the Content-Type parameter to match. Responses without a
// charset label, non-text media types, and labels htmlindex does not know
// pass through untouched.
func decodeCharset(resp *http.Response) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "text/") {
		return
	}
	label, ok := params["charset"]
	if !ok {
		return
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return
	}
	if name, err := htmlindex.Name(enc); err == nil && name == "utf-8" {
		return
	}

	inner := resp.Body
	resp.Body = &charsetBody{
		r:     transform.NewReader(inner, enc.NewDecoder()),
		inner: inner,
	}
	params["charset"] = "utf-8"
	resp.Header.Set("Content-Type", mime.FormatMediaType(mediaType, params))
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
}

// charsetBody reads through the transcoder while Close still lands on the
// transport body, so the connection release underneath always happens.
type charsetBody struct {
	r     io.Reader
	inner io.ReadCloser
}

func (b *charsetBody) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *charsetBody) Close() error { return b.inner.Close() }
