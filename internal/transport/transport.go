// Package transport adapts the three protocols spec.md section 6 makes
// available (server.enable_http1 / http2 / http3) onto one shared
// http.Handler. Design notes (spec.md section 9) call the data plane
// protocol-agnostic: every listener here hands requests to the same
// pipeline.Services regardless of which transport accepted them.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
)

// rateLimitedListener gates Accept behind a token bucket, implementing
// server.max_connections as an accept-rate ceiling ahead of the admission
// controller's per-client limits: a connection-storm is throttled here
// before it ever reaches a request the admission controller could reason
// about.
type rateLimitedListener struct {
	net.Listener
	limiter *rate.Limiter
}

// RateLimited wraps l so Accept blocks until limiter admits the next
// connection. A nil limiter returns l unchanged.
func RateLimited(l net.Listener, limiter *rate.Limiter) net.Listener {
	if limiter == nil {
		return l
	}
	return &rateLimitedListener{Listener: l, limiter: limiter}
}

func (l *rateLimitedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if err := l.limiter.Wait(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Timeouts bounds the listener-level read/write/idle timeouts, independent
// of the forwarder's upstream timeouts.
type Timeouts struct {
	ReadHeader time.Duration
	Read       time.Duration
	Write      time.Duration
	Idle       time.Duration
}

func (t Timeouts) orDefaults() Timeouts {
	if t.ReadHeader == 0 {
		t.ReadHeader = 10 * time.Second
	}
	if t.Read == 0 {
		t.Read = 30 * time.Second
	}
	if t.Write == 0 {
		t.Write = 30 * time.Second
	}
	if t.Idle == 0 {
		t.Idle = 120 * time.Second
	}
	return t
}

// Listener is a running protocol listener that can be asked to shut down.
type Listener interface {
	Shutdown(ctx context.Context) error
}

// HTTP1 serves plain HTTP/1.1, with h2c upgrade support so an HTTP/2
// client can still be served in cleartext (e.g. behind a trusted LB).
type HTTP1 struct {
	ln  net.Listener
	srv *http.Server
}

// ServeHTTP1 binds a cleartext HTTP/1.1 (with h2c) listener on addr and
// returns without serving; call Serve to serve it and Shutdown from another
// goroutine to stop it gracefully. limiter may be nil to accept without an
// accept-rate ceiling.
func ServeHTTP1(addr string, handler http.Handler, timeouts Timeouts, limiter *rate.Limiter) (*HTTP1, error) {
	timeouts = timeouts.orDefaults()
	h := h2c.NewHandler(handler, &http2.Server{})
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	l := &HTTP1{
		ln: RateLimited(raw, limiter),
		srv: &http.Server{
			Handler:           h,
			ReadHeaderTimeout: timeouts.ReadHeader,
			ReadTimeout:       timeouts.Read,
			WriteTimeout:      timeouts.Write,
			IdleTimeout:       timeouts.Idle,
		},
	}
	return l, nil
}

// Serve blocks serving HTTP1 until Shutdown is called or an error occurs.
func (l *HTTP1) Serve() error {
	err := l.srv.Serve(l.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (l *HTTP1) Shutdown(ctx context.Context) error { return l.srv.Shutdown(ctx) }

// HTTP2TLS serves HTTP/2 (and HTTP/1.1 as a fallback) over TLS; ALPN
// negotiation is handled by the stdlib's TLS-aware server once http2 is
// configured on it.
type HTTP2TLS struct {
	ln  net.Listener
	srv *http.Server
}

// ServeHTTP2TLS starts a TLS listener with HTTP/2 configured, serving
// handler. certFile/keyFile are PEM paths; tlsConfig may be nil to use the
// stdlib defaults. limiter may be nil to accept without an accept-rate
// ceiling.
func ServeHTTP2TLS(addr, certFile, keyFile string, handler http.Handler, tlsConfig *tls.Config, timeouts Timeouts, limiter *rate.Limiter) (*HTTP2TLS, error) {
	timeouts = timeouts.orDefaults()
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{
		Handler:           handler,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: timeouts.ReadHeader,
		ReadTimeout:       timeouts.Read,
		WriteTimeout:      timeouts.Write,
		IdleTimeout:       timeouts.Idle,
	}
	if err := http2.ConfigureServer(srv, &http2.Server{}); err != nil {
		raw.Close()
		return nil, fmt.Errorf("configuring http2: %w", err)
	}
	return &HTTP2TLS{ln: RateLimited(raw, limiter), srv: srv}, nil
}

// Serve blocks serving HTTP2TLS until Shutdown is called or an error
// occurs. certFile/keyFile are re-passed here since ServeTLS loads them
// when it starts serving.
func (l *HTTP2TLS) Serve(certFile, keyFile string) error {
	err := l.srv.ServeTLS(l.ln, certFile, keyFile)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (l *HTTP2TLS) Shutdown(ctx context.Context) error { return l.srv.Shutdown(ctx) }

// HTTP3 serves HTTP/3 over QUIC.
type HTTP3 struct {
	srv *http3.Server
}

// ServeHTTP3 starts a QUIC/HTTP3 listener on addr.
func ServeHTTP3(addr string, handler http.Handler, tlsConfig *tls.Config, quicConfig *quic.Config) (*HTTP3, error) {
	return &HTTP3{srv: &http3.Server{
		Addr:       addr,
		Handler:    handler,
		TLSConfig:  tlsConfig,
		QUICConfig: quicConfig,
	}}, nil
}

// Serve blocks serving HTTP3 until Shutdown is called or an error occurs.
func (l *HTTP3) Serve() error {
	err := l.srv.ListenAndServe()
	if err == http.ErrServerClosed || err == quic.ErrServerClosed {
		return nil
	}
	return err
}

func (l *HTTP3) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- l.srv.Close() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// listenUDP opens a UDP packet listener on addr without a TLS handshake.
// Nothing in the package or its tests calls it.
func listenUDP(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp", addr)
}
