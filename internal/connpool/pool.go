// Package connpool implements the keyed idle-connection pool of spec.md
// section 4.5: a bounded per-upstream list of pooled connections with
// max-idle eviction on acquire and hit/miss counters.
package connpool

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// PooledConnection wraps a net.Conn with the bookkeeping the pool needs to
// decide whether it is still eligible for reuse.
type PooledConnection struct {
	Conn     net.Conn
	Key      string
	lastUsed time.Time
	healthy  bool
}

// Healthy reports whether the connection may still be handed out. A
// connection dropped after a transport error (see Drop) is never healthy
// again.
func (c *PooledConnection) Healthy() bool { return c.healthy }

type entry struct {
	conn     net.Conn
	lastUsed time.Time
}

// Pool is a keyed idle-connection pool. The key is the upstream's
// host:port address; the value is a bounded list of idle connections.
type Pool struct {
	mu       sync.Mutex
	idle     map[string][]entry
	maxIdle  int
	idleTTL  time.Duration
	now      func() time.Time
	hits     atomic.Uint64
	misses   atomic.Uint64
}

// New builds a Pool. maxIdle bounds the number of idle connections kept
// per key; idleTTL is spec.md's max_idle.
func New(maxIdle int, idleTTL time.Duration, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	if maxIdle < 1 {
		maxIdle = 1
	}
	return &Pool{
		idle:    make(map[string][]entry),
		maxIdle: maxIdle,
		idleTTL: idleTTL,
		now:     now,
	}
}

// Dialer opens a fresh connection to address when the pool has no eligible
// idle entry.
type Dialer func(address string) (net.Conn, error)

// Acquire returns a pooled idle connection for key whose age is within
// idleTTL, evicting stale entries along the way. If none is eligible, it
// dials a fresh connection via dial and counts a miss.
func (p *Pool) Acquire(key string, dial Dialer) (*PooledConnection, error) {
	p.mu.Lock()
	list := p.idle[key]
	now := p.now()

	for len(list) > 0 {
		last := len(list) - 1
		e := list[last]
		list = list[:last]
		if p.idleTTL > 0 && now.Sub(e.lastUsed) > p.idleTTL {
			e.conn.Close()
			continue
		}
		p.idle[key] = list
		p.mu.Unlock()
		p.hits.Add(1)
		return &PooledConnection{Conn: e.conn, Key: key, lastUsed: e.lastUsed, healthy: true}, nil
	}
	p.idle[key] = list
	p.mu.Unlock()

	p.misses.Add(1)
	conn, err := dial(key)
	if err != nil {
		return nil, err
	}
	return &PooledConnection{Conn: conn, Key: key, lastUsed: now, healthy: true}, nil
}

// Release returns a connection to the pool, stamping its last-use time. If
// the per-key list is already at capacity, the connection is closed and
// discarded instead. Callers must never call Release after a transport
// error; call Drop instead so the connection does not re-enter the pool.
func (p *Pool) Release(c *PooledConnection) {
	if !c.healthy {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.idle[c.Key]
	if len(list) >= p.maxIdle {
		c.Conn.Close()
		return
	}
	p.idle[c.Key] = append(list, entry{conn: c.Conn, lastUsed: p.now()})
}

// Drop closes a connection without returning it to the pool, for use after
// a transport error observed while the connection was checked out.
func (p *Pool) Drop(c *PooledConnection) {
	c.healthy = false
	c.Conn.Close()
}

// Hits returns the lifetime count of acquires served from the idle list.
func (p *Pool) Hits() uint64 { return p.hits.Load() }

// Misses returns the lifetime count of acquires that dialed fresh.
func (p *Pool) Misses() uint64 { return p.misses.Load() }

// LiveConnections returns the number of idle connections currently pooled
// for key, for the "never exceeds the configured ceiling" property.
func (p *Pool) LiveConnections(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Sweep evicts idle-expired entries across all keys without requiring an
// acquire. Optional per spec.md section 4.5; useful for bounding memory
// held by cold upstreams.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.idleTTL <= 0 {
		return
	}
	now := p.now()
	for key, list := range p.idle {
		kept := list[:0]
		for _, e := range list {
			if now.Sub(e.lastUsed) > p.idleTTL {
				e.conn.Close()
				continue
			}
			kept = append(kept, e)
		}
		p.idle[key] = kept
	}
}
