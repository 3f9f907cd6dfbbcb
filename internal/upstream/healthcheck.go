package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/GhostKellz/wraith/internal/wraithlog"
	"github.com/sirupsen/logrus"
)

// HealthCheckConfig configures the periodic probe loop, per spec.md
// section 6's proxy.health_check table.
type HealthCheckConfig struct {
	Enabled        bool
	Interval       time.Duration
	Timeout        time.Duration
	Path           string
	ExpectedStatus int
}

// HealthChecker periodically probes every pool member. Probes are isolated
// per-upstream so one slow probe never blocks others, and each probe's
// timeout is strictly less than the overall interval.
type HealthChecker struct {
	pool   *Pool
	cfg    HealthCheckConfig
	client *http.Client
	sink   wraithlog.Sink
}

// NewHealthChecker builds a checker. If cfg.Timeout is zero or not smaller
// than cfg.Interval, it is clamped to half the interval.
func NewHealthChecker(pool *Pool, cfg HealthCheckConfig, sink wraithlog.Sink) *HealthChecker {
	if cfg.Timeout <= 0 || cfg.Timeout >= cfg.Interval {
		cfg.Timeout = cfg.Interval / 2
	}
	if cfg.ExpectedStatus == 0 {
		cfg.ExpectedStatus = http.StatusOK
	}
	if sink == nil {
		sink = wraithlog.Discard{}
	}
	return &HealthChecker{
		pool:   pool,
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		sink:   sink,
	}
}

// Run blocks, probing every member on cfg.Interval until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) {
	if !h.cfg.Enabled {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(h.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.probeAll(ctx)
		}
	}
}

func (h *HealthChecker) probeAll(ctx context.Context) {
	for _, u := range h.pool.Members() {
		go h.probeOne(ctx, u)
	}
}

func (h *HealthChecker) probeOne(ctx context.Context, u *Upstream) {
	reqCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	url := "http://" + u.Address + h.cfg.Path
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		h.pool.ReportFailure(u)
		return
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.pool.ReportFailure(u)
		h.sink.Event(logrus.Fields{"upstream": u.ID, "address": u.Address}, "health probe failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != h.cfg.ExpectedStatus {
		h.pool.ReportFailure(u)
		h.sink.Event(logrus.Fields{
			"upstream": u.ID,
			"status":   resp.StatusCode,
			"expected": h.cfg.ExpectedStatus,
		}, "health probe unexpected status")
		return
	}

	wasHealthy := u.Healthy()
	h.pool.ReportSuccess(u)
	if !wasHealthy && u.Healthy() {
		h.sink.Event(logrus.Fields{"upstream": u.ID}, "upstream transitioned to healthy")
	}
}
