package pool

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"hpool/pkg/conn"
	"hpool/pkg/errors"
	"hpool/pkg/logger"
	"hpool/pkg/protocol"
)

// Config controls pool behavior. The zero value is usable: HTTP/1.1
// connections, no per-origin limit, no timeouts.
type Config struct {
	// Factory constructs connections. Nil selects the built-in HTTP/1.1 or
	// HTTP/2 factory depending on EnableHTTP2.
	Factory Factory

	// TLS is the base TLS configuration for https origins, cloned per dial.
	// Nil means a default configuration with system roots.
	TLS *tls.Config

	// EnableHTTP2 makes the built-in factory produce multiplexed
	// connections instead of single-stream ones.
	EnableHTTP2 bool

	// MaxPerOrigin caps registered connections per origin. Requests beyond
	// the cap wait for a slot or a reusable connection. Zero means no limit.
	MaxPerOrigin int

	// Timeouts bounds the connect/read/write phases of every request.
	Timeouts protocol.Timeouts

	// Log receives pool lifecycle events. Nil uses the global logger.
	Log *logger.Logger
}

// Pool is an origin-keyed connection pool. It implements http.RoundTripper.
//
// Callers must close every response body they receive: a connection is not
// considered for reuse (or, once closed, removed from the registry) until the
// body's Close has run.
type Pool struct {
	cfg     Config
	factory Factory
	log     *logger.Logger

	mu      sync.Mutex
	conns   map[protocol.Origin][]*entry
	waiters map[protocol.Origin][]chan struct{}
	closed  bool
	seq     uint64

	created atomic.Uint64
	reused  atomic.Uint64
	evicted atomic.Uint64
}

// entry is the pool's bookkeeping around one connection handle. seq and
// idledAt exist so candidate selection is deterministic; map iteration order
// never decides reuse.
type entry struct {
	conn    Connection
	seq     uint64    // registration order
	idledAt time.Time // last time release saw the connection IDLE
}

var _ http.RoundTripper = (*Pool)(nil)

// NewPool creates a connection pool.
func NewPool(cfg Config) *Pool {
	log := cfg.Log
	if log == nil {
		log = logger.Get()
	}
	p := &Pool{
		cfg:     cfg,
		log:     log.Component("pool"),
		conns:   make(map[protocol.Origin][]*entry),
		waiters: make(map[protocol.Origin][]chan struct{}),
	}
	p.factory = cfg.Factory
	if p.factory == nil {
		connLog := log.Component("conn")
		if cfg.EnableHTTP2 {
			p.factory = func(o protocol.Origin) Connection {
				return conn.NewHTTP2(o, cfg.TLS, connLog)
			}
		} else {
			p.factory = func(o protocol.Origin) Connection {
				return conn.NewHTTP1(o, cfg.TLS, connLog)
			}
		}
	}
	return p
}

// Do sends a single request and returns the response. The request is built
// from the arguments; ctx bounds the whole exchange including reading the
// body. The caller must close the response body.
func (p *Pool) Do(ctx context.Context, method, rawURL string, headers http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if headers != nil {
		req.Header = headers.Clone()
	}
	return p.RoundTrip(req)
}

// RoundTrip implements http.RoundTripper over the pool, so a *Pool can serve
// as the Transport of an http.Client.
func (p *Pool) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil {
		return nil, errors.ErrMissingHost
	}
	origin, err := protocol.OriginOf(req.URL)
	if err != nil {
		return nil, err
	}

	c, err := p.acquire(req.Context(), origin)
	if err != nil {
		return nil, err
	}

	resp, err := c.Do(req, p.cfg.Timeouts)
	if err != nil {
		p.discardDead(origin, c)
		return nil, err
	}
	if resp.Body == nil {
		resp.Body = http.NoBody
	}
	resp.Body = NewResponseBodyStream(resp.Body, c, p.responseClosed)
	return resp, nil
}

// acquire returns a connection for the origin: a reusable registered one if
// the scan finds a candidate, otherwise a freshly registered one. With a
// per-origin limit in place it blocks until a slot or candidate appears, or
// ctx ends.
func (p *Pool) acquire(ctx context.Context, origin protocol.Origin) (Connection, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, errors.ErrPoolClosed
		}

		reuse, dropped := p.scanLocked(origin)
		if reuse != nil {
			// Reserve before releasing the lock so no other goroutine can
			// grab a single-stream connection in the gap.
			reuse.conn.SetState(protocol.StateActive)
			p.mu.Unlock()
			p.closeDropped(origin, dropped)
			p.reused.Add(1)
			p.log.Debug("reusing connection", "origin", origin.String(), "proto", reuse.conn.Version().String())
			return reuse.conn, nil
		}

		if p.cfg.MaxPerOrigin <= 0 || len(p.conns[origin]) < p.cfg.MaxPerOrigin {
			c := p.factory(origin)
			// Reserved for the request that caused the miss, before the
			// registry unlocks.
			c.SetState(protocol.StateActive)
			p.seq++
			p.conns[origin] = append(p.conns[origin], &entry{conn: c, seq: p.seq})
			if c.Version().Multiplexed() {
				// A multiplexed connection can serve queued requests too.
				p.wakeLocked(origin)
			}
			p.mu.Unlock()
			p.closeDropped(origin, dropped)
			p.created.Add(1)
			p.log.Debug("opening connection", "origin", origin.String(), "proto", c.Version().String())
			return c, nil
		}

		// At the per-origin limit: wait for a slot or a reusable connection.
		w := make(chan struct{})
		p.waiters[origin] = append(p.waiters[origin], w)
		p.mu.Unlock()
		p.closeDropped(origin, dropped)

		select {
		case <-w:
		case <-ctx.Done():
			p.dropWaiter(origin, w)
			return nil, errors.Join(errors.ErrTooManyConnections, ctx.Err())
		}
	}
}

// scanLocked walks the origin's entries, unregistering connections whose
// sockets dropped while idle and selecting the reuse candidate. The caller
// holds p.mu and must close the returned dropped connections after releasing
// it.
func (p *Pool) scanLocked(origin protocol.Origin) (*entry, []Connection) {
	entries := p.conns[origin]
	if len(entries) == 0 {
		return nil, nil
	}

	var (
		reuse   *entry
		dropped []Connection
	)
	kept := entries[:0]
	for _, e := range entries {
		state := e.conn.State()
		switch {
		case state == protocol.StateIdle:
			if e.conn.IsDropped() {
				dropped = append(dropped, e.conn)
				continue
			}
			if betterCandidate(e, reuse) {
				reuse = e
			}
		case state == protocol.StateActive && e.conn.Version().Multiplexed():
			if !e.conn.IsDropped() && betterCandidate(e, reuse) {
				reuse = e
			}
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(entries); i++ {
		entries[i] = nil
	}
	if len(kept) == 0 {
		delete(p.conns, origin)
	} else {
		p.conns[origin] = kept
	}
	if len(dropped) > 0 {
		p.wakeLocked(origin)
	}
	return reuse, dropped
}

// betterCandidate prefers the most recently idled entry, falling back to the
// most recently registered among never-idled ones.
func betterCandidate(e, cur *entry) bool {
	if cur == nil {
		return true
	}
	if !e.idledAt.Equal(cur.idledAt) {
		return e.idledAt.After(cur.idledAt)
	}
	return e.seq > cur.seq
}

// closeDropped closes evicted connections outside the registry lock. Close
// failures on an already-dropped socket cannot affect the request being
// served, so they are only logged.
func (p *Pool) closeDropped(origin protocol.Origin, dropped []Connection) {
	for _, c := range dropped {
		p.evicted.Add(1)
		p.log.Debug("evicting dropped connection", "origin", origin.String())
		if err := c.Close(); err != nil {
			p.log.Err("closing evicted connection", err, "origin", origin.String())
		}
	}
}

// responseClosed is the release notification delivered by ResponseBodyStream
// once a response body has been closed.
func (p *Pool) responseClosed(c Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()

	origin := c.Origin()
	switch c.State() {
	case protocol.StateClosed:
		if p.removeLocked(origin, c) {
			p.wakeLocked(origin)
		}
	case protocol.StateIdle:
		if e := p.findLocked(origin, c); e != nil {
			e.idledAt = time.Now()
		}
		p.wakeLocked(origin)
	}
}

// discardDead reaps a connection its implementation left CLOSED after a
// failed request. This only runs when a per-origin limit is set: without a
// limit the entry lingers harmlessly until shutdown, but with one it would
// pin a slot forever.
func (p *Pool) discardDead(origin protocol.Origin, c Connection) {
	if p.cfg.MaxPerOrigin <= 0 || c.State() != protocol.StateClosed {
		return
	}
	p.mu.Lock()
	if p.removeLocked(origin, c) {
		p.evicted.Add(1)
		p.wakeLocked(origin)
	}
	p.mu.Unlock()
}

func (p *Pool) findLocked(origin protocol.Origin, c Connection) *entry {
	for _, e := range p.conns[origin] {
		if e.conn == c {
			return e
		}
	}
	return nil
}

func (p *Pool) removeLocked(origin protocol.Origin, c Connection) bool {
	entries := p.conns[origin]
	for i, e := range entries {
		if e.conn == c {
			copy(entries[i:], entries[i+1:])
			entries[len(entries)-1] = nil
			entries = entries[:len(entries)-1]
			if len(entries) == 0 {
				delete(p.conns, origin)
			} else {
				p.conns[origin] = entries
			}
			return true
		}
	}
	return false
}

// wakeLocked releases every waiter parked on the origin. Woken waiters
// re-enter the acquire loop and re-evaluate the registry.
func (p *Pool) wakeLocked(origin protocol.Origin) {
	ws := p.waiters[origin]
	if len(ws) == 0 {
		return
	}
	delete(p.waiters, origin)
	for _, w := range ws {
		close(w)
	}
}

// dropWaiter removes a waiter that gave up before being woken.
func (p *Pool) dropWaiter(origin protocol.Origin, w chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ws := p.waiters[origin]
	for i, x := range ws {
		if x == w {
			ws = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(ws) == 0 {
		delete(p.waiters, origin)
	} else {
		p.waiters[origin] = ws
	}
}

// Close shuts the pool down: every registered connection, active ones
// included, has its Close invoked exactly once. Individual teardown failures
// do not stop the sweep; they are aggregated into the returned error. The
// pool rejects requests afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var conns []Connection
	for _, entries := range p.conns {
		for _, e := range entries {
			conns = append(conns, e.conn)
		}
	}
	p.conns = make(map[protocol.Origin][]*entry)
	for origin := range p.waiters {
		p.wakeLocked(origin)
	}
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.Origin(), err))
			p.log.Err("closing pooled connection", err, "origin", c.Origin().String())
		}
	}
	p.log.Debug("pool closed", "connections", len(conns))
	return errors.Join(errs...)
}

// Stats is a point-in-time snapshot of the registry plus lifetime counters.
type Stats struct {
	Origins int
	Idle    int
	Active  int
	Closed  int
	Created uint64
	Reused  uint64
	Evicted uint64
}

// Stats returns a snapshot of pool state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		Origins: len(p.conns),
		Created: p.created.Load(),
		Reused:  p.reused.Load(),
		Evicted: p.evicted.Load(),
	}
	for _, entries := range p.conns {
		for _, e := range entries {
			switch e.conn.State() {
			case protocol.StateIdle:
				s.Idle++
			case protocol.StateActive:
				s.Active++
			case protocol.StateClosed:
				s.Closed++
			}
		}
	}
	return s
}
