// Package pipeline composes the request-handling stages of spec.md
// section 4.8: admission, routing, and then either the static handler or
// upstream selection, connection acquisition, forwarding, and release.
//
// Design notes (spec.md section 9) call for explicitly-constructed service
// objects instead of process-wide singletons; Services is that record,
// passed by reference so tests can substitute fakes for any collaborator.
package pipeline

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/GhostKellz/wraith/internal/admission"
	"github.com/GhostKellz/wraith/internal/balancer"
	"github.com/GhostKellz/wraith/internal/build"
	"github.com/GhostKellz/wraith/internal/forward"
	"github.com/GhostKellz/wraith/internal/metrics"
	"github.com/GhostKellz/wraith/internal/routing"
	"github.com/GhostKellz/wraith/internal/static"
	"github.com/GhostKellz/wraith/internal/upstream"
	"github.com/GhostKellz/wraith/internal/wraithlog"
	"github.com/GhostKellz/wraith/internal/wraitherr"
)

// Services bundles every collaborator the data plane needs for one
// request. Pools and Balancers are keyed by the upstream group name a
// route names (route.UpstreamName); an empty name maps to "default".
type Services struct {
	Admission   *admission.Controller
	Router      *routing.Table
	Pools       map[string]*upstream.Pool
	Balancers   map[string]balancer.Balancer
	Forwarder   *forward.Forwarder
	Static      *static.Server
	Metrics     *metrics.Metrics
	Log         wraithlog.Sink

	StartedAt  time.Time
	Protocol   string // "HTTP/1.1", "HTTP/2", or "HTTP/3"
	Transport  string // "TCP" or "QUIC"
	TLSEnabled bool
}

const defaultUpstreamGroup = "default"

// ServeHTTP implements the full pipeline ordering of spec.md section 4.8.
// Every branch, including every short-circuit, emits exactly one response.
func (s *Services) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	switch r.URL.Path {
	case "/health":
		s.serveHealth(w)
		return
	case "/status":
		s.serveStatus(w)
		return
	}

	decision := s.Admission.Check(clientKey(r), r.ContentLength)
	s.recordAdmission(decision)
	if !decision.Allowed {
		s.writeAdmissionDenied(w, decision)
		return
	}

	reqView := &routing.RoutingRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Host:       r.Host,
		Headers:    headersFromHTTP(r.Header),
		ClientAddr: r.RemoteAddr,
	}
	routeDecision, matched := s.Router.Match(reqView)
	if !matched {
		s.Metrics.RouteMisses.Inc()
		s.writeJSONError(w, http.StatusNotFound, "route_not_found")
		return
	}
	route := routeDecision.Route
	s.Metrics.RouteMatches.WithLabelValues(string(route.Kind)).Inc()

	switch route.Kind {
	case routing.KindStatic:
		s.Static.Serve(w, r)
	case routing.KindRedirect:
		http.Redirect(w, r, route.RedirectLocation, route.RedirectCode)
	default: // Proxy, API, WebSocket all flow through upstream selection
		s.proxy(w, r, route)
	}
}

func (s *Services) proxy(w http.ResponseWriter, r *http.Request, route *routing.Route) {
	group := route.UpstreamName
	if group == "" {
		group = defaultUpstreamGroup
	}

	pool, ok := s.Pools[group]
	if !ok {
		s.writeError(w, wraitherr.NoHealthyUpstreams())
		return
	}
	bal, ok := s.Balancers[group]
	if !ok {
		bal = balancer.New(balancer.PolicyRoundRobin)
	}

	snapshot := pool.HealthySnapshot()
	if len(snapshot) == 0 {
		s.writeError(w, wraitherr.NoHealthyUpstreams())
		return
	}
	u := bal.Select(snapshot, r.RemoteAddr)
	if u == nil {
		s.writeError(w, wraitherr.NoHealthyUpstreams())
		return
	}
	s.Metrics.BalancerSelections.WithLabelValues(u.ID, string(bal.Policy())).Inc()
	s.Metrics.UpstreamActiveConns.WithLabelValues(u.ID).Set(float64(u.ActiveConnections()))
	s.Metrics.UpstreamHealthy.WithLabelValues(u.ID).Set(healthyValue(u))

	resp, err := s.Forwarder.Forward(r, u, pool)
	if err != nil {
		if s.Log != nil {
			s.Log.Event(logrus.Fields{"upstream": u.ID, "path": r.URL.Path}, "forward failed")
		}
		s.writeError(w, err)
		return
	}
	defer resp.Body.Close()

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}

func (s *Services) recordAdmission(d admission.Decision) {
	outcome := "allow"
	if !d.Allowed {
		outcome = "deny"
	}
	s.Metrics.AdmissionDecisions.WithLabelValues(outcome, string(d.Reason)).Inc()
}

// writeJSONError writes a {"error": reason} body, per spec.md section 7:
// error responses carry content-type text/html or application/json
// depending on the responding component — the pipeline itself always
// speaks JSON.
func (s *Services) writeJSONError(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": reason})
}

func (s *Services) writeAdmissionDenied(w http.ResponseWriter, d admission.Decision) {
	if d.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
	}
	s.writeJSONError(w, http.StatusTooManyRequests, string(d.Reason))
}

func (s *Services) writeError(w http.ResponseWriter, err error) {
	var we *wraitherr.WraithError
	if errors.As(err, &we) {
		if we.RetryAfter >= 0 {
			w.Header().Set("Retry-After", strconv.Itoa(we.RetryAfter))
		}
		s.writeJSONError(w, we.Status, string(we.Reason))
		return
	}
	if s.Log != nil {
		s.Log.Errorf(nil, err, "internal error")
	}
	s.writeJSONError(w, http.StatusInternalServerError, "internal_error")
}

func (s *Services) serveHealth(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":    "ok",
		"protocol":  s.protocol(),
		"transport": s.transport(),
	})
}

func (s *Services) serveStatus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"server":    "wraith",
		"version":   build.Version,
		"protocol":  s.protocol(),
		"transport": s.transport(),
		"tls":       s.TLSEnabled,
		"uptime":    time.Since(s.StartedAt).String(),
	})
}

func (s *Services) protocol() string {
	if s.Protocol == "" {
		return "HTTP/1.1"
	}
	return s.Protocol
}

func (s *Services) transport() string {
	if s.Transport == "" {
		return "TCP"
	}
	return s.Transport
}

func healthyValue(u *upstream.Upstream) float64 {
	if u.Healthy() {
		return 1
	}
	return 0
}

// clientKey derives the admission-bucket identity for a request. It must
// be the bare IP, not host:port: the port changes on every new TCP
// connection from the same client, which would otherwise churn the
// per-client bucket, auto-block, and blocklist keys on every request.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func headersFromHTTP(h http.Header) routing.Header {
	out := routing.NewHeader()
	for name, values := range h {
		for _, v := range values {
			out.Add(name, v)
		}
	}
	return out
}
