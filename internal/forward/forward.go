// Package forward implements the forwarder of spec.md section 4.6: it
// streams a client request to a chosen upstream over a pooled connection
// and relays the response, applying the hop-by-hop header policy and
// failure classification table.
package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/GhostKellz/wraith/internal/build"
	"github.com/GhostKellz/wraith/internal/connpool"
	"github.com/GhostKellz/wraith/internal/metrics"
	"github.com/GhostKellz/wraith/internal/upstream"
	"github.com/GhostKellz/wraith/internal/wraitherr"
)

var hopByHop = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailers",
	"Transfer-Encoding",
	"Upgrade",
}

// stripHopByHop removes the fixed hop-by-hop set and any header the
// Connection header itself names, per spec.md section 4.6. Applied to both
// the outbound request and the relayed response (design notes open
// question, resolved in DESIGN.md: the filter is bidirectional).
func stripHopByHop(h http.Header) {
	if conn := h.Get("Connection"); conn != "" {
		for _, name := range strings.Split(conn, ",") {
			h.Del(strings.TrimSpace(name))
		}
	}
	for _, name := range hopByHop {
		h.Del(name)
	}
}

type captureKey struct{}

type capture struct {
	conn *connpool.PooledConnection
}

// Forwarder dispatches requests to upstreams through a connpool.Pool. Each
// request gets its own connection (the pool, not http.Transport's built-in
// keep-alive set, owns idle-connection reuse), so DisableKeepAlives is set
// and DialContext is routed through Acquire/Release/Drop.
type Forwarder struct {
	pool        *connpool.Pool
	metrics     *metrics.Metrics
	dialTimeout time.Duration
	client      *http.Client
}

// New builds a Forwarder. dialTimeout bounds connection establishment;
// requestTimeout bounds the full round trip including response headers.
func New(pool *connpool.Pool, m *metrics.Metrics, dialTimeout, requestTimeout time.Duration) *Forwarder {
	f := &Forwarder{pool: pool, metrics: m, dialTimeout: dialTimeout}
	f.client = &http.Client{
		Timeout: requestTimeout,
		Transport: &http.Transport{
			DisableKeepAlives: true,
			DialContext:       f.dial,
		},
	}
	return f
}

func (f *Forwarder) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	cap, _ := ctx.Value(captureKey{}).(*capture)
	pc, err := f.pool.Acquire(addr, func(address string) (net.Conn, error) {
		d := net.Dialer{Timeout: f.dialTimeout}
		return d.DialContext(ctx, network, address)
	})
	if err != nil {
		return nil, err
	}
	if cap != nil {
		cap.conn = pc
	}
	return &releasingConn{Conn: pc.Conn, pool: f.pool, pc: pc}, nil
}

// releasingConn returns itself to the pool on a clean Close and drops
// itself if any read or write on it ever failed, so a connection that
// misbehaved mid-stream never re-enters the pool.
type releasingConn struct {
	net.Conn
	pool   *connpool.Pool
	pc     *connpool.PooledConnection
	failed bool
}

func (c *releasingConn) Read(p []byte) (int, error) {
	n, err := c.Conn.Read(p)
	if err != nil && err != io.EOF {
		c.failed = true
	}
	return n, err
}

func (c *releasingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	if err != nil {
		c.failed = true
	}
	return n, err
}

func (c *releasingConn) Close() error {
	if c.failed {
		f := c.pool
		f.Drop(c.pc)
		return nil
	}
	c.pool.Release(c.pc)
	return nil
}

// Forward streams req to u and returns the relayed response. The caller
// must close the returned response's Body exactly once; doing so
// decrements u's active-connection counter.
func (f *Forwarder) Forward(req *http.Request, u *upstream.Upstream, pool *upstream.Pool) (*http.Response, error) {
	outbound := req.Clone(req.Context())
	outbound.RequestURI = ""
	outbound.URL.Scheme = "http"
	outbound.URL.Host = u.Address
	outbound.Host = u.Address
	stripHopByHop(outbound.Header)
	outbound.Header.Set("X-Proxied-By", build.ProxiedBy())

	cp := &capture{}
	outbound = outbound.WithContext(context.WithValue(outbound.Context(), captureKey{}, cp))

	u.IncrTotal()
	u.IncrActive()
	var released bool
	release := func() {
		if !released {
			released = true
			u.DecrActive()
		}
	}

	resp, err := f.client.Do(outbound)
	if err != nil {
		release()
		if cp.conn != nil {
			f.pool.Drop(cp.conn)
		}
		pool.ReportFailure(u)
		if f.metrics != nil {
			f.metrics.UpstreamFailures.WithLabelValues(u.ID).Inc()
		}
		return nil, classifyError(err)
	}

	pool.ReportSuccess(u) // the upstream answered, even with a 5xx status
	stripHopByHop(resp.Header)
	resp.Header.Set("X-Proxied-By", build.ProxiedBy())
	resp.Body = &releasingBody{ReadCloser: resp.Body, release: release}
	if f.metrics != nil {
		f.metrics.ForwardOutcomes.WithLabelValues(statusClass(resp.StatusCode)).Inc()
	}
	return resp, nil
}

type releasingBody struct {
	io.ReadCloser
	release func()
}

func (b *releasingBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

func classifyError(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return wraitherr.Timeout(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return wraitherr.Timeout(err)
	}
	if strings.Contains(err.Error(), "connection reset by peer") {
		return wraitherr.PeerReset(err)
	}
	return wraitherr.ConnectFailure(err)
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
