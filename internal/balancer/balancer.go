// Package balancer implements Wraith's load-balancer policies: spec.md
// section 4.4. Each policy is total over any non-empty snapshot; the
// pipeline is responsible for handling the empty-snapshot 502 case before
// calling Select.
package balancer

import (
	"math/rand"
	"net"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/GhostKellz/wraith/internal/upstream"
)

// Policy names a load-balancing algorithm, matching spec.md section 6's
// proxy.load_balancing values.
type Policy string

const (
	PolicyRoundRobin       Policy = "round_robin"
	PolicyLeastConnections Policy = "least_connections"
	PolicyIPHash           Policy = "ip_hash"
	PolicyRandom           Policy = "random"
	PolicyWeighted         Policy = "weighted"
)

// Balancer selects an upstream from a healthy snapshot.
type Balancer interface {
	Policy() Policy
	Select(snapshot []*upstream.Upstream, clientAddr string) *upstream.Upstream
}

// New builds the Balancer for the named policy, defaulting to round-robin
// for an unrecognized name.
func New(policy Policy) Balancer {
	switch policy {
	case PolicyLeastConnections:
		return &leastConnections{}
	case PolicyIPHash:
		return &ipHash{}
	case PolicyRandom:
		return &random{}
	case PolicyWeighted:
		return &weighted{}
	default:
		return &roundRobin{}
	}
}

// roundRobin uses a single atomic counter incremented with wrap-around;
// the emitted index may skip one upstream when the snapshot shrinks
// concurrently, which spec.md section 5 calls tolerable. A uint64 counter
// sidesteps the u32-wraparound risk spec.md section 9 flags.
type roundRobin struct {
	counter atomic.Uint64
}

func (r *roundRobin) Policy() Policy { return PolicyRoundRobin }

func (r *roundRobin) Select(snapshot []*upstream.Upstream, _ string) *upstream.Upstream {
	if len(snapshot) == 0 {
		return nil
	}
	idx := r.counter.Add(1) - 1
	return snapshot[idx%uint64(len(snapshot))]
}

// leastConnections picks the member with the smallest ActiveConnections,
// breaking ties by lowest id. Both reads are taken from the same snapshot
// the caller passed in, satisfying the "same snapshot" requirement of
// spec.md section 4.4.
type leastConnections struct{}

func (leastConnections) Policy() Policy { return PolicyLeastConnections }

func (leastConnections) Select(snapshot []*upstream.Upstream, _ string) *upstream.Upstream {
	if len(snapshot) == 0 {
		return nil
	}
	best := snapshot[0]
	for _, u := range snapshot[1:] {
		if u.ActiveConnections() < best.ActiveConnections() ||
			(u.ActiveConnections() == best.ActiveConnections() && u.ID < best.ID) {
			best = u
		}
	}
	return best
}

// ipHash is a stable, non-cryptographic hash of the client address modulo
// len(snapshot): the same client always maps to the same upstream for a
// fixed snapshot.
type ipHash struct{}

func (ipHash) Policy() Policy { return PolicyIPHash }

func (ipHash) Select(snapshot []*upstream.Upstream, clientAddr string) *upstream.Upstream {
	if len(snapshot) == 0 {
		return nil
	}
	host := clientAddr
	if h, _, err := net.SplitHostPort(clientAddr); err == nil {
		host = h
	}
	sum := xxhash.Sum64String(host)
	return snapshot[sum%uint64(len(snapshot))]
}

// random selects uniformly at random.
type random struct{}

func (random) Policy() Policy { return PolicyRandom }

func (random) Select(snapshot []*upstream.Upstream, _ string) *upstream.Upstream {
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot[rand.Intn(len(snapshot))] //nolint:gosec // non-cryptographic selection
}

// weighted performs cumulative-weight random selection: the probability of
// choosing u is weight(u) / sum(weights).
type weighted struct{}

func (weighted) Policy() Policy { return PolicyWeighted }

func (weighted) Select(snapshot []*upstream.Upstream, _ string) *upstream.Upstream {
	if len(snapshot) == 0 {
		return nil
	}
	total := 0
	for _, u := range snapshot {
		w := u.Weight
		if w < 1 {
			w = 1
		}
		total += w
	}
	if total <= 0 {
		return snapshot[0]
	}
	target := rand.Intn(total) //nolint:gosec // non-cryptographic selection
	cumulative := 0
	for _, u := range snapshot {
		w := u.Weight
		if w < 1 {
			w = 1
		}
		cumulative += w
		if target < cumulative {
			return u
		}
	}
	return snapshot[len(snapshot)-1]
}
