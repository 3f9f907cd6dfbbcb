package upstream

import (
	"sync"
	"time"
)

// Pool owns a named set of Upstream members. Readers take a snapshot (a
// copy of the member-pointer list); the pool never mutates the list during
// a snapshot — member mutation is a brief internal lock around the slice
// itself, while Upstream runtime state is independently synchronized.
type Pool struct {
	mu      sync.RWMutex
	members []*Upstream
	byID    map[string]*Upstream

	now func() time.Time
}

// NewPool builds a Pool from members.
func NewPool(members []*Upstream, now func() time.Time) *Pool {
	if now == nil {
		now = time.Now
	}
	byID := make(map[string]*Upstream, len(members))
	for _, m := range members {
		byID[m.ID] = m
	}
	return &Pool{members: members, byID: byID, now: now}
}

// Members returns a snapshot copy of every pool member, healthy or not.
func (p *Pool) Members() []*Upstream {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Upstream, len(p.members))
	copy(out, p.members)
	return out
}

// ByID looks up a member by its stable id.
func (p *Pool) ByID(id string) (*Upstream, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[id]
	return u, ok
}

// HealthySnapshot returns every healthy, non-backup member; if none exist,
// it falls back to healthy backup members, per spec.md section 4.3:
// "Backup upstreams are included in healthy_set() only when every
// non-backup healthy upstream is absent."
func (p *Pool) HealthySnapshot() []*Upstream {
	members := p.Members()

	var primary, backup []*Upstream
	for _, m := range members {
		if !m.Healthy() {
			continue
		}
		if m.Backup {
			backup = append(backup, m)
		} else {
			primary = append(primary, m)
		}
	}
	if len(primary) > 0 {
		return primary
	}
	return backup
}

// ReportFailure applies a probe or forward-path failure to upstream.
func (p *Pool) ReportFailure(u *Upstream) {
	u.reportFailure(p.now())
}

// ReportSuccess applies a probe or forward-path success to upstream.
func (p *Pool) ReportSuccess(u *Upstream) {
	u.reportSuccess(p.now())
}

// Merge replaces the pool's membership with next, preserving the runtime
// health state of any upstream whose ID is unchanged (spec.md section 5:
// "Upstream pools are merged by name where possible to preserve health
// state across reloads.").
func (p *Pool) Merge(next []*Upstream) {
	p.mu.Lock()
	defer p.mu.Unlock()

	merged := make([]*Upstream, 0, len(next))
	byID := make(map[string]*Upstream, len(next))
	for _, n := range next {
		if existing, ok := p.byID[n.ID]; ok {
			existing.Weight = n.Weight
			existing.MaxFails = n.MaxFails
			existing.FailTimeout = n.FailTimeout
			existing.Backup = n.Backup
			existing.Address = n.Address
			merged = append(merged, existing)
			byID[n.ID] = existing
			continue
		}
		merged = append(merged, n)
		byID[n.ID] = n
	}

	p.members = merged
	p.byID = byID
}
