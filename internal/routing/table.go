package routing

import "sort"

// Table is an immutable, priority-ordered sequence of routes. Reload swaps
// the whole table via an atomic pointer held by the caller (spec.md
// section 5); Table itself never mutates after NewTable returns it.
type Table struct {
	routes []*Route
}

// NewTable builds a Table from routes, sorted by descending priority with
// ties broken by the order routes were supplied in (stable sort).
func NewTable(routes []*Route) *Table {
	sorted := make([]*Route, len(routes))
	copy(sorted, routes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return &Table{routes: sorted}
}

// Routes returns the ordered route list. Callers must not mutate it.
func (t *Table) Routes() []*Route {
	return t.routes
}

// Match performs a linear scan over the priority-ordered table and returns
// the first Route that accepts req. The router never fails: absence of a
// match is reported via the second return value, not an error.
func (t *Table) Match(req *RoutingRequest) (*RouteDecision, bool) {
	for _, r := range t.routes {
		if params, ok := r.matches(req); ok {
			return &RouteDecision{Route: r, Params: params}, true
		}
	}
	return nil, false
}
