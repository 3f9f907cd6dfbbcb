package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clock(start time.Time) func() time.Time {
	current := start
	return func() time.Time { return current }
}

func TestAllowlistBypassesBuckets(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerMinute: 1, Burst: 1, Whitelist: []string{"scraper"}}
	c := NewController(cfg, clock(time.Now()))

	for i := 0; i < 50; i++ {
		d := c.Check("scraper", 0)
		require.True(t, d.Allowed)
	}
}

func TestBlacklistDeniesWithoutConsumingBuckets(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerMinute: 100, Burst: 100, Blacklist: []string{"evil"}}
	c := NewController(cfg, clock(time.Now()))

	d := c.Check("evil", 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlacklisted, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestRequestTooLarge(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerMinute: 100, Burst: 100, MaxRequestSize: 1024}
	c := NewController(cfg, clock(time.Now()))

	d := c.Check("client", 2048)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRequestTooLarge, d.Reason)
	assert.Equal(t, time.Duration(0), d.RetryAfter)
}

// scenario 3: rate-limit trip. requests_per_minute=60, burst=10: the first
// 10 requests within 100ms succeed, the 11th and 12th are rate limited.
func TestRateLimitTripWithinBurstWindow(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerMinute: 60, Burst: 10, AutoBlockEnabled: false}
	c := NewController(cfg, clock(time.Now()))

	allowed := 0
	var lastDecision Decision
	for i := 0; i < 12; i++ {
		d := c.Check("1.2.3.4", 0)
		if d.Allowed {
			allowed++
		} else {
			lastDecision = d
		}
	}

	assert.Equal(t, 10, allowed)
	assert.Contains(t, []Reason{ReasonRateLimited, ReasonGlobalLimit}, lastDecision.Reason)
	assert.GreaterOrEqual(t, lastDecision.RetryAfter, time.Second)
}

// scenario 4: auto-block. After tripping the limiter with auto_block
// enabled, the client is denied as "blocked" for block_duration seconds.
func TestAutoBlockAfterThreshold(t *testing.T) {
	start := time.Now()
	now := start
	clockFn := func() time.Time { return now }

	cfg := Config{
		Enabled:               true,
		RequestsPerMinute:     1,
		Burst:                 1000,
		AutoBlockEnabled:      true,
		BlockDuration:         5 * time.Second,
		ViolationsBeforeBlock: 3,
	}
	c := NewController(cfg, clockFn)

	// First request consumes the only token.
	require.True(t, c.Check("1.2.3.4", 0).Allowed)

	// Next three requests are violations; the third should trip auto-block.
	var last Decision
	for i := 0; i < 3; i++ {
		last = c.Check("1.2.3.4", 0)
	}
	assert.Equal(t, ReasonBlocked, last.Reason)
	assert.LessOrEqual(t, last.RetryAfter, 5*time.Second)

	// Still blocked immediately after.
	d := c.Check("1.2.3.4", 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBlocked, d.Reason)

	// After the block window elapses, admission is consulted again; at one
	// token per minute the client's bucket also needs a full minute to
	// refill before the request can be allowed.
	now = now.Add(61 * time.Second)
	d = c.Check("1.2.3.4", 0)
	assert.True(t, d.Allowed)
}

// Token-bucket testable property: for a bucket refilling r tokens/minute
// with capacity c, the number of allowed requests in a window of duration
// t (after full refill) is <= c + ceil(r*t/60).
func TestTokenBucketRefillCeiling(t *testing.T) {
	start := time.Now()
	bucket := NewTokenBucket(10, 60, start) // 60 tokens/min = 1/sec

	allowed := 0
	now := start
	for i := 0; i < 100; i++ {
		if ok, _, _ := bucket.TryConsume(now); ok {
			allowed++
		}
		now = now.Add(100 * time.Millisecond)
	}
	// window = 10s -> ceil(60*10/60) = 10 refilled, plus initial capacity 10.
	assert.LessOrEqual(t, allowed, 20)
}

func TestBlockedMapLazyEviction(t *testing.T) {
	now := time.Now()
	bl := &blockList{}
	bl.block("k", "rate_limited", now, time.Second)

	_, ok := bl.lookup("k", now)
	assert.True(t, ok)

	_, ok = bl.lookup("k", now.Add(2*time.Second))
	assert.False(t, ok)
}

func TestBurstTrackerDeniesBeforeBuckets(t *testing.T) {
	cfg := Config{Enabled: true, RequestsPerMinute: 1000, Burst: 1000, MaxConnectionsPerIP: 2}
	c := NewController(cfg, clock(time.Now()))

	assert.True(t, c.Check("client", 0).Allowed)
	assert.True(t, c.Check("client", 0).Allowed)
	d := c.Check("client", 0)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
}
