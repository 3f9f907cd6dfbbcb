// Package wraitherr implements the WraithError sum type described in the
// design notes: a single error type carrying enough context for any
// pipeline boundary to map a failure to a client-visible HTTP status
// without leaking internals.
package wraitherr

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies where in the pipeline an error originated.
type Kind string

const (
	KindAdmission Kind = "admission"
	KindRouting   Kind = "routing"
	KindStatic    Kind = "static"
	KindUpstream  Kind = "upstream"
	KindInternal  Kind = "internal"
)

// Reason is a short machine-readable admission/upstream failure reason,
// e.g. "rate_limited", "blocked", "no_healthy_upstreams".
type Reason string

// WraithError is the sum type every fallible pipeline boundary returns.
type WraithError struct {
	Kind       Kind
	Reason     Reason
	Status     int
	RetryAfter int // seconds; -1 means "no Retry-After header"
	cause      error
}

func (e *WraithError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *WraithError) Unwrap() error { return e.cause }

// New builds a WraithError with no retry-after hint.
func New(kind Kind, reason Reason, status int) *WraithError {
	return &WraithError{Kind: kind, Reason: reason, Status: status, RetryAfter: -1}
}

// WithRetryAfter attaches a Retry-After seconds value.
func (e *WraithError) WithRetryAfter(seconds int) *WraithError {
	e.RetryAfter = seconds
	return e
}

// Wrap captures cause with a stack trace via pkg/errors and classifies it
// as an internal error, collapsed to a generic 500 at the transport edge.
func Wrap(cause error, context string) *WraithError {
	return &WraithError{
		Kind:       KindInternal,
		Reason:     Reason(context),
		Status:     http.StatusInternalServerError,
		RetryAfter: -1,
		cause:      errors.Wrap(cause, context),
	}
}

// NoHealthyUpstreams is the canonical 502 for an empty healthy snapshot.
func NoHealthyUpstreams() *WraithError {
	return New(KindUpstream, "no_healthy_upstreams", http.StatusBadGateway)
}

// ConnectFailure is the canonical 502 for a dial/connect failure.
func ConnectFailure(cause error) *WraithError {
	e := New(KindUpstream, "connect_failure", http.StatusBadGateway)
	e.cause = cause
	return e
}

// Timeout is the canonical 504 for handshake/idle/read timeouts.
func Timeout(cause error) *WraithError {
	e := New(KindUpstream, "timeout", http.StatusGatewayTimeout)
	e.cause = cause
	return e
}

// PeerReset is a 502 used when the upstream dropped the connection after
// writing a partial response but before any bytes reached the client.
func PeerReset(cause error) *WraithError {
	e := New(KindUpstream, "peer_reset", http.StatusBadGateway)
	e.cause = cause
	return e
}
