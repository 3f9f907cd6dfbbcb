// Copyright Project Contour Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metrics provides Prometheus metrics for Wraith's data plane:
// admission decisions, upstream health, load-balancer selections,
// connection-pool hit/miss counters, and forwarder outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GhostKellz/wraith/internal/build"
)

// Metrics holds every Prometheus collector the data plane updates.
type Metrics struct {
	buildInfoGauge *prometheus.GaugeVec

	AdmissionDecisions *prometheus.CounterVec // labels: decision, reason
	RouteMatches       *prometheus.CounterVec // labels: kind
	RouteMisses        prometheus.Counter

	UpstreamHealthy       *prometheus.GaugeVec // labels: upstream
	UpstreamActiveConns   *prometheus.GaugeVec // labels: upstream
	UpstreamTotalRequests *prometheus.CounterVec
	UpstreamFailures      *prometheus.CounterVec
	BalancerSelections    *prometheus.CounterVec // labels: upstream, policy

	ConnPoolHits   prometheus.Counter
	ConnPoolMisses prometheus.Counter

	ForwardOutcomes *prometheus.CounterVec // labels: status_class

	StaticCacheHits   prometheus.Counter
	StaticCacheMisses prometheus.Counter
}

// NewMetrics creates a new Metrics and registers it with registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		buildInfoGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wraith_build_info",
			Help: "Build information for Wraith.",
		}, []string{"version", "branch", "revision"}),

		AdmissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_admission_decisions_total",
			Help: "Total admission decisions by outcome and reason.",
		}, []string{"decision", "reason"}),

		RouteMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_route_matches_total",
			Help: "Total requests matched to a route, by route kind.",
		}, []string{"kind"}),

		RouteMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wraith_route_misses_total",
			Help: "Total requests with no matching route.",
		}),

		UpstreamHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wraith_upstream_healthy",
			Help: "1 if the upstream is currently healthy, else 0.",
		}, []string{"upstream"}),

		UpstreamActiveConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "wraith_upstream_active_connections",
			Help: "Current in-flight requests to the upstream.",
		}, []string{"upstream"}),

		UpstreamTotalRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_upstream_requests_total",
			Help: "Total requests dispatched to the upstream.",
		}, []string{"upstream"}),

		UpstreamFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_upstream_failures_total",
			Help: "Total failures reported against the upstream.",
		}, []string{"upstream"}),

		BalancerSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_balancer_selections_total",
			Help: "Total upstream selections, by upstream and policy.",
		}, []string{"upstream", "policy"}),

		ConnPoolHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wraith_connpool_hits_total",
			Help: "Total connection pool acquisitions served from an idle connection.",
		}),

		ConnPoolMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wraith_connpool_misses_total",
			Help: "Total connection pool acquisitions that created a new connection.",
		}),

		ForwardOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wraith_forward_outcomes_total",
			Help: "Total forwarded requests by response status class.",
		}, []string{"status_class"}),

		StaticCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wraith_static_cache_hits_total",
			Help: "Total static cache lookups served without a disk read.",
		}),

		StaticCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wraith_static_cache_misses_total",
			Help: "Total static cache lookups that required a disk read.",
		}),
	}

	registry.MustRegister(
		m.buildInfoGauge,
		m.AdmissionDecisions,
		m.RouteMatches,
		m.RouteMisses,
		m.UpstreamHealthy,
		m.UpstreamActiveConns,
		m.UpstreamTotalRequests,
		m.UpstreamFailures,
		m.BalancerSelections,
		m.ConnPoolHits,
		m.ConnPoolMisses,
		m.ForwardOutcomes,
		m.StaticCacheHits,
		m.StaticCacheMisses,
	)

	m.buildInfoGauge.WithLabelValues(build.Version, build.Branch, build.Sha).Set(1)

	return m
}

// Handler returns the /metrics HTTP handler for registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
