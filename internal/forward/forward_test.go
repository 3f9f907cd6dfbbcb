package forward

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GhostKellz/wraith/internal/connpool"
	"github.com/GhostKellz/wraith/internal/metrics"
	"github.com/GhostKellz/wraith/internal/upstream"
)

func TestStripHopByHopRemovesFixedSetAndConnectionList(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "X-Custom, Keep-Alive")
	h.Set("X-Custom", "drop-me")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Real", "keep-me")

	stripHopByHop(h)

	assert.Empty(t, h.Get("Connection"))
	assert.Empty(t, h.Get("X-Custom"))
	assert.Empty(t, h.Get("Transfer-Encoding"))
	assert.Equal(t, "keep-me", h.Get("X-Real"))
}

func newForwarder(t *testing.T) *Forwarder {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	pool := connpool.New(4, time.Minute, nil)
	return New(pool, m, time.Second, 5*time.Second)
}

func TestForwardStripsHopByHopAndSetsProxiedByHeader(t *testing.T) {
	var gotConnection, gotProxiedBy string
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Proxy-Authorization")
		gotProxiedBy = r.Header.Get("X-Proxied-By")
		w.Header().Set("Transfer-Encoding", "chunked")
		w.Header().Set("X-Upstream", "yes")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	f := newForwarder(t)
	pool := upstream.NewPool(nil, func() time.Time { return time.Now() })
	u := upstream.NewUpstream("a", upstreamSrv.Listener.Addr().String(), 1, 1, time.Second, false)

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/path", nil)
	req.Header.Set("Proxy-Authorization", "secret")

	resp, err := f.Forward(req, u, pool)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Empty(t, gotConnection, "hop-by-hop header must not reach the upstream")
	assert.Equal(t, "Wraith/devel", gotProxiedBy)
	assert.Equal(t, "yes", resp.Header.Get("X-Upstream"))
	assert.Empty(t, resp.Header.Get("Transfer-Encoding"), "hop-by-hop must be stripped from the response too")
	assert.Equal(t, "Wraith/devel", resp.Header.Get("X-Proxied-By"))
}

func TestForwardReportsSuccessEvenOnUpstream5xx(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstreamSrv.Close()

	f := newForwarder(t)
	pool := upstream.NewPool(nil, func() time.Time { return time.Now() })
	u := upstream.NewUpstream("a", upstreamSrv.Listener.Addr().String(), 1, 1, time.Second, false)

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	resp, err := f.Forward(req, u, pool)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.True(t, u.Healthy(), "the upstream answered, so it must remain healthy even on 5xx")
}

func TestForwardConnectFailureReportsFailureAndMarksUnhealthy(t *testing.T) {
	// Bind and immediately close a listener to get a port nothing is
	// listening on.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	f := newForwarder(t)
	pool := upstream.NewPool(nil, func() time.Time { return time.Now() })
	u := upstream.NewUpstream("a", addr, 1, 1, time.Second, false)

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	_, err = f.Forward(req, u, pool)
	require.Error(t, err)
	assert.False(t, u.Healthy(), "max_fails=1 connect failure must mark the upstream unhealthy")
}

func TestForwardDecrementsActiveConnectionsExactlyOnceOnBodyClose(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("body"))
	}))
	defer upstreamSrv.Close()

	f := newForwarder(t)
	pool := upstream.NewPool(nil, func() time.Time { return time.Now() })
	u := upstream.NewUpstream("a", upstreamSrv.Listener.Addr().String(), 1, 1, time.Second, false)

	req := httptest.NewRequest(http.MethodGet, "http://placeholder/", nil)
	resp, err := f.Forward(req, u, pool)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), u.ActiveConnections())

	resp.Body.Close()
	assert.Equal(t, uint32(0), u.ActiveConnections())
}
