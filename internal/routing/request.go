package routing

import "strings"

// Header is a case-insensitive, single-valued multi-map. Per spec.md
// section 3, duplicate header names are joined with a comma at ingress, so
// by the time a RoutingRequest exists every name maps to exactly one value.
type Header map[string]string

// NewHeader returns an empty Header. Add joins duplicate
// (case-insensitively equal) names with a comma in the order added.
func NewHeader() Header {
	return make(Header)
}

func canonical(name string) string {
	return strings.ToLower(name)
}

// Add appends value to name, comma-joining if name is already present.
func (h Header) Add(name, value string) {
	key := canonical(name)
	if existing, ok := h[key]; ok {
		h[key] = existing + "," + value
		return
	}
	h[key] = value
}

// Set overwrites any existing value for name.
func (h Header) Set(name, value string) {
	h[canonical(name)] = value
}

// Get returns the value for name, case-insensitively, or "".
func (h Header) Get(name string) string {
	return h[canonical(name)]
}

// RoutingRequest is the immutable per-request snapshot the router matches
// against. Created per-request, discarded when the pipeline completes.
type RoutingRequest struct {
	Method     string
	Path       string
	Host       string
	Headers    Header
	ClientAddr string
}

// RouteDecision is returned by Table.Match on success.
type RouteDecision struct {
	Route  *Route
	Params map[string]string
}
