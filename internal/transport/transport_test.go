package transport

import (
	"context"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestTimeoutsOrDefaultsFillsZeroFields(t *testing.T) {
	got := Timeouts{}.orDefaults()
	assert.Equal(t, 10*time.Second, got.ReadHeader)
	assert.Equal(t, 30*time.Second, got.Read)
	assert.Equal(t, 30*time.Second, got.Write)
	assert.Equal(t, 120*time.Second, got.Idle)
}

func TestTimeoutsOrDefaultsPreservesExplicitValues(t *testing.T) {
	want := Timeouts{ReadHeader: time.Second, Read: 2 * time.Second, Write: 3 * time.Second, Idle: 4 * time.Second}
	assert.Equal(t, want, want.orDefaults())
}

func TestServeHTTP1StartsAndShutsDownCleanly(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	l, err := ServeHTTP1("127.0.0.1:0", handler, Timeouts{}, nil)
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- l.Serve() }()

	// Give the listener goroutine a chance to start before asking it to stop;
	// nothing dials the listener here, this just exercises the Shutdown path
	// itself.
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, l.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
}

func TestRateLimitedReturnsUnchangedListenerWhenLimiterNil(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	assert.Same(t, raw, RateLimited(raw, nil))
}

func TestRateLimitedAcceptReturnsConnectionWhenLimiterAdmits(t *testing.T) {
	raw, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer raw.Close()

	limiter := rate.NewLimiter(rate.Inf, 1)
	limited := RateLimited(raw, limiter)
	require.NotSame(t, raw, limited)

	go func() {
		conn, err := net.Dial("tcp", raw.Addr().String())
		if err == nil {
			conn.Close()
		}
	}()

	conn, err := limited.Accept()
	require.NoError(t, err)
	conn.Close()
}

func TestServeHTTP3BuildsServerWithHandlerAndTLSConfig(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	l, err := ServeHTTP3("127.0.0.1:0", handler, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, l.srv)
	assert.Equal(t, "127.0.0.1:0", l.srv.Addr)
}
