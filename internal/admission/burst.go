package admission

import (
	"sync"
	"time"
)

// slidingCounter is a fixed-window approximation of a sliding window:
// it counts events in the current window and resets lazily when the
// window rolls over, per spec.md section 4.2's burst tracker.
type slidingCounter struct {
	windowStart  time.Time
	count        int
	lastActivity time.Time
}

// burstState holds a client's two independent windows: a 60-second
// connection-rate window and a 1-second packet-rate window.
type burstState struct {
	mu          sync.Mutex
	connections slidingCounter
	packets     slidingCounter
}

// BurstTracker enforces spec.md section 4.2's DDoS burst ceilings,
// independent of and evaluated before the token-bucket rate limiter.
type BurstTracker struct {
	entries sync.Map // string -> *burstState

	connectionWindow time.Duration
	connectionCeil   int
	packetWindow     time.Duration
	packetCeil       int
}

// NewBurstTracker builds a tracker with a 60s connection-rate window and a
// 1s packet-rate window, per spec.md section 4.2.
func NewBurstTracker(connectionCeil, packetCeil int) *BurstTracker {
	return &BurstTracker{
		connectionWindow: 60 * time.Second,
		connectionCeil:   connectionCeil,
		packetWindow:     1 * time.Second,
		packetCeil:       packetCeil,
	}
}

func (t *BurstTracker) stateFor(clientKey string) *burstState {
	v, _ := t.entries.LoadOrStore(clientKey, &burstState{})
	return v.(*burstState)
}

// tick increments both windows for clientKey at now and reports whether
// either ceiling was exceeded.
func (t *BurstTracker) tick(clientKey string, now time.Time) (exceeded bool) {
	if t.connectionCeil <= 0 && t.packetCeil <= 0 {
		return false
	}
	st := t.stateFor(clientKey)
	st.mu.Lock()
	defer st.mu.Unlock()

	if t.connectionCeil > 0 {
		if now.Sub(st.connections.windowStart) >= t.connectionWindow {
			st.connections.windowStart = now
			st.connections.count = 0
		}
		st.connections.count++
		st.connections.lastActivity = now
		if st.connections.count > t.connectionCeil {
			exceeded = true
		}
	}

	if t.packetCeil > 0 {
		if now.Sub(st.packets.windowStart) >= t.packetWindow {
			st.packets.windowStart = now
			st.packets.count = 0
		}
		st.packets.count++
		st.packets.lastActivity = now
		if st.packets.count > t.packetCeil {
			exceeded = true
		}
	}

	return exceeded
}

// sweep evicts entries whose last activity is older than 10x the larger
// configured window, per spec.md section 4.2.
func (t *BurstTracker) sweep(now time.Time) {
	staleAfter := 10 * t.connectionWindow
	if t.packetWindow*10 > staleAfter {
		staleAfter = 10 * t.packetWindow
	}
	t.entries.Range(func(key, value any) bool {
		st := value.(*burstState)
		st.mu.Lock()
		last := st.connections.lastActivity
		if st.packets.lastActivity.After(last) {
			last = st.packets.lastActivity
		}
		st.mu.Unlock()
		if !last.IsZero() && now.Sub(last) > staleAfter {
			t.entries.Delete(key)
		}
		return true
	})
}
