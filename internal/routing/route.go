// Package routing implements Wraith's declarative routing table and match
// engine: spec.md section 4.1. The table is an immutable, priority-ordered
// sequence of Route values; match() is a deterministic linear scan that
// returns the first Route whose pattern, method, and host filters accept
// the request.
package routing

import "strings"

// Kind is the tagged sum over route handler kinds (spec.md section 9:
// "Dynamic dispatch on route handlers ... Represented as a tagged sum").
type Kind string

const (
	KindStatic    Kind = "static"
	KindProxy     Kind = "proxy"
	KindRedirect  Kind = "redirect"
	KindAPI       Kind = "api"
	KindWebSocket Kind = "websocket"
)

// PatternKind classifies how a Route's Path is matched.
type PatternKind int

const (
	// PatternLiteral requires exact equality with the request path.
	PatternLiteral PatternKind = iota
	// PatternPrefix matches a pattern ending in "/*" against any path with
	// that prefix. The remainder is never captured.
	PatternPrefix
	// PatternParameterized matches ":name" segments against equal-length
	// paths, capturing each named segment.
	PatternParameterized
)

// MethodAny matches every HTTP method.
const MethodAny = "ANY"

// Route is immutable once placed in a Table.
type Route struct {
	Pattern     string
	PatternKind PatternKind
	// prefixLiteral is Pattern with the trailing "/*" stripped, precomputed
	// for PatternPrefix routes.
	prefixLiteral string
	// segments is the "/"-split pattern, precomputed for PatternParameterized
	// routes.
	segments []string

	Host     string // empty means "match any host"
	Method   string // MethodAny or a single HTTP method
	Priority uint8  // higher matches first
	Kind     Kind

	// UpstreamName names the upstream pool for KindProxy routes.
	UpstreamName string
	// RedirectLocation and RedirectCode apply to KindRedirect routes.
	RedirectLocation string
	RedirectCode     int
	// HandlerID names the handler for KindAPI routes.
	HandlerID string
}

// NewRoute classifies pattern and returns a ready-to-match Route. Callers
// build a Table from a slice of these with NewTable, which sorts them.
func NewRoute(pattern, host, method string, priority uint8, kind Kind) *Route {
	r := &Route{
		Pattern:  pattern,
		Host:     host,
		Method:   method,
		Priority: priority,
		Kind:     kind,
	}
	switch {
	case strings.HasSuffix(pattern, "/*"):
		r.PatternKind = PatternPrefix
		r.prefixLiteral = strings.TrimSuffix(pattern, "/*")
	case strings.Contains(pattern, ":"):
		r.PatternKind = PatternParameterized
		r.segments = strings.Split(pattern, "/")
	default:
		r.PatternKind = PatternLiteral
	}
	return r
}

// matches reports whether the route accepts req, returning captured
// parameters for parameterized patterns.
func (r *Route) matches(req *RoutingRequest) (map[string]string, bool) {
	if r.Method != MethodAny && !strings.EqualFold(r.Method, req.Method) {
		return nil, false
	}
	if r.Host != "" && !strings.EqualFold(r.Host, req.Host) {
		return nil, false
	}

	switch r.PatternKind {
	case PatternLiteral:
		if req.Path != r.Pattern {
			return nil, false
		}
		return nil, true

	case PatternPrefix:
		if !strings.HasPrefix(req.Path, r.prefixLiteral) {
			return nil, false
		}
		return nil, true

	case PatternParameterized:
		reqSegments := strings.Split(req.Path, "/")
		if len(reqSegments) != len(r.segments) {
			return nil, false
		}
		var params map[string]string
		for i, seg := range r.segments {
			if strings.HasPrefix(seg, ":") {
				name := seg[1:]
				if reqSegments[i] == "" {
					return nil, false
				}
				if params == nil {
					params = make(map[string]string, len(r.segments))
				}
				params[name] = reqSegments[i]
				continue
			}
			if seg != reqSegments[i] {
				return nil, false
			}
		}
		return params, true
	}
	return nil, false
}
