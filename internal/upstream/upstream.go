// Package upstream implements the upstream pool and health state machine
// of spec.md section 4.3: membership, per-upstream counters, and the
// Healthy/Unhealthy transition table driven by both the active health
// checker and forwarder success/failure callbacks.
package upstream

import (
	"sync"
	"sync/atomic"
	"time"
)

// Upstream is a mutable pool member. Runtime fields are accessed via
// atomics (ActiveConnections, TotalRequests) or under the upstream's own
// mutex (CurrentFails, LastFailTime, Healthy), per spec.md section 5's
// Acquire/Release ordering requirement.
type Upstream struct {
	ID          string
	Address     string // host:port
	Weight      int
	MaxFails    int
	FailTimeout time.Duration
	Backup      bool

	// activeConnections and totalRequests are updated by the forwarder
	// around every dispatch; decremented exactly once per acquire.
	activeConnections atomic.Uint32
	totalRequests      atomic.Uint64

	mu            sync.Mutex
	currentFails  int
	lastFailTime  time.Time
	healthy       bool
}

// NewUpstream returns an Upstream starting in the Healthy state.
func NewUpstream(id, address string, weight, maxFails int, failTimeout time.Duration, backup bool) *Upstream {
	if weight < 1 {
		weight = 1
	}
	return &Upstream{
		ID:          id,
		Address:     address,
		Weight:      weight,
		MaxFails:    maxFails,
		FailTimeout: failTimeout,
		Backup:      backup,
		healthy:     true,
	}
}

// ActiveConnections reads the current in-flight count with acquire
// ordering.
func (u *Upstream) ActiveConnections() uint32 { return u.activeConnections.Load() }

// TotalRequests reads the lifetime dispatch count.
func (u *Upstream) TotalRequests() uint64 { return u.totalRequests.Load() }

// IncrActive increments the in-flight counter before dispatch.
func (u *Upstream) IncrActive() { u.activeConnections.Add(1) }

// DecrActive decrements the in-flight counter on any terminal outcome.
// Callers must call this exactly once per IncrActive.
func (u *Upstream) DecrActive() { u.activeConnections.Add(^uint32(0)) }

// IncrTotal increments the lifetime dispatch counter before dispatch.
func (u *Upstream) IncrTotal() { u.totalRequests.Add(1) }

// Healthy reports the upstream's current health state, read under the
// upstream's mutex so it observes either the pre- or post-transition value
// consistently (spec.md section 5).
func (u *Upstream) Healthy() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.healthy
}

// reportFailure applies the Healthy/Unhealthy failure transitions of
// spec.md section 4.3's state table. Must be called with the pool's
// per-upstream discipline (u.mu held internally here).
func (u *Upstream) reportFailure(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.healthy {
		u.currentFails++
		if u.MaxFails > 0 && u.currentFails >= u.MaxFails {
			u.healthy = false
			u.lastFailTime = now
		}
		return
	}
	// Already unhealthy: remain unhealthy, refresh last-fail time.
	u.lastFailTime = now
}

// reportSuccess applies the Healthy/Unhealthy success transitions.
// A success while Unhealthy only transitions to Healthy once fail-timeout
// has elapsed since lastFailTime (the active health checker is expected to
// gate probe delivery the same way; forwarder-reported successes against
// an Unhealthy upstream that hasn't cleared fail-timeout are a no-op, since
// the load balancer should not have selected it in the first place).
func (u *Upstream) reportSuccess(now time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.healthy {
		u.currentFails = 0
		return
	}
	if now.Sub(u.lastFailTime) >= u.FailTimeout {
		u.healthy = true
		u.currentFails = 0
	}
}

// CurrentFails returns the consecutive-failure count for diagnostics.
func (u *Upstream) CurrentFails() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.currentFails
}
