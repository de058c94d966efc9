package client

import (
	"context"
	"io"
	"net/http"
	"time"

	"hpool/pkg/logger"
)

const defaultUserAgent = "hpool/1.0"

// Options tunes the client layer.
type Options struct {
	// DecodeContent negotiates compressed transfer and transparently
	// decodes gzip, deflate, brotli, and zstd response bodies.
	DecodeContent bool

	// DecodeCharset transcodes text bodies declared in a non-UTF-8 charset
	// to UTF-8.
	DecodeCharset bool

	// UserAgent overrides the default User-Agent header.
	UserAgent string

	// Log receives client events. Nil uses the global logger.
	Log *logger.Logger
}

// Client issues requests through any http.RoundTripper, normally a
// *pool.Pool.
type Client struct {
	rt   http.RoundTripper
	opts Options
	log  *logger.Logger
}

// New creates a client over the given transport.
func New(rt http.RoundTripper, opts Options) *Client {
	log := opts.Log
	if log == nil {
		log = logger.Get()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	return &Client{rt: rt, opts: opts, log: log.Component("client")}
}

// Do sends one request. The caller must close the response body; closing the
// outermost body releases the pooled connection no matter how many decoding
// layers sit in between.
func (c *Client) Do(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if headers != nil {
		req.Header = headers.Clone()
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}
	if c.opts.DecodeContent && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	start := time.Now()
	resp, err := c.rt.RoundTrip(req)
	if err != nil {
		c.log.Debug("request failed", "method", method, "url", rawURL, "error", err)
		return nil, err
	}
	c.log.Debug("request completed",
		"method", method,
		"url", rawURL,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if c.opts.DecodeContent {
		if err := decodeContent(resp); err != nil {
			resp.Body.Close()
			return nil, err
		}
	}
	if c.opts.DecodeCharset {
		decodeCharset(resp)
	}
	return resp, nil
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, url, nil, nil)
}

// Post issues a POST request with the given body.
func (c *Client) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	h := http.Header{}
	h.Set("Content-Type", contentType)
	return c.Do(ctx, http.MethodPost, url, h, body)
}
