package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/GhostKellz/wraith/internal/admission"
	"github.com/GhostKellz/wraith/internal/balancer"
	"github.com/GhostKellz/wraith/internal/connpool"
	"github.com/GhostKellz/wraith/internal/forward"
	"github.com/GhostKellz/wraith/internal/httpsvc"
	"github.com/GhostKellz/wraith/internal/metrics"
	"github.com/GhostKellz/wraith/internal/pipeline"
	"github.com/GhostKellz/wraith/internal/routing"
	"github.com/GhostKellz/wraith/internal/static"
	"github.com/GhostKellz/wraith/internal/transport"
	"github.com/GhostKellz/wraith/internal/upstream"
	"github.com/GhostKellz/wraith/internal/workgroup"
	"github.com/GhostKellz/wraith/internal/wraithconfig"
	"github.com/GhostKellz/wraith/internal/wraithlog"
)

const defaultPIDFile = "/var/run/wraith.pid"

// Connection-pool defaults: spec.md section 6 names no config keys for the
// connection pool, so these follow the forwarder's own documented
// idle-connection discipline (spec.md section 4.5) rather than a
// configurable knob.
const (
	connPoolMaxIdle     = 100
	connPoolIdleTTL     = 90 * time.Second
	forwardDialTimeout  = 5 * time.Second
	forwardReqTimeout   = 30 * time.Second
	admissionSweepEvery = 60 * time.Second
)

// errShutdownRequested signals doServe's caller that the process stopped
// in response to a signal, not an error, per spec.md section 6's exit
// code 130.
var errShutdownRequested = errors.New("shutdown requested by signal")

// configError and bindError classify doServe's return value for exit code
// selection in main, per spec.md section 6: 2 for a bad config, 3 for a
// listener bind failure.
type configError struct{ error }
type bindError struct{ error }

func exitCodeFor(err error) int {
	var ce configError
	var be bindError
	switch {
	case errors.As(err, &ce):
		return 2
	case errors.As(err, &be):
		return 3
	case errors.Is(err, errShutdownRequested):
		return 130
	default:
		return 1
	}
}

type serveContext struct {
	configPath string
	pidFile    string
	port       int
	dev        bool
}

func registerServe(app *kingpin.Application) (*kingpin.CmdClause, *serveContext) {
	ctx := &serveContext{}
	cmd := app.Command("serve", "Run the wraith data plane.")
	cmd.Flag("config-path", "Path to the wraith TOML configuration file.").
		Short('c').Default("/etc/wraith/wraith.toml").StringVar(&ctx.configPath)
	cmd.Flag("port", "Override server.port from the config file.").
		Short('p').IntVar(&ctx.port)
	cmd.Flag("dev", "Run at debug log verbosity.").
		Short('d').BoolVar(&ctx.dev)
	cmd.Flag("pid-file", "Where to write this process's pid, for reload/stop.").
		Default(defaultPIDFile).StringVar(&ctx.pidFile)
	return cmd, ctx
}

// handlerSwitch lets a signal-driven reload swap the live pipeline.Services
// without the transport listeners ever needing to stop accepting
// connections, per spec.md section 5's reload contract: in-flight requests
// finish against whichever *Services they captured.
type handlerSwitch struct {
	current atomic.Pointer[pipeline.Services]
}

func (h *handlerSwitch) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.current.Load().ServeHTTP(w, r)
}

func (h *handlerSwitch) Swap(s *pipeline.Services) { h.current.Store(s) }

func doServe(ctx *serveContext, log *logrus.Logger) error {
	if ctx.dev {
		log.SetLevel(logrus.DebugLevel)
	}
	sink := wraithlog.NewLogrus(log)

	cfg, err := wraithconfig.Load(ctx.configPath)
	if err != nil {
		return configError{fmt.Errorf("loading configuration: %w", err)}
	}
	if ctx.port != 0 {
		cfg.Server.Port = ctx.port
	}

	if err := writePIDFile(ctx.pidFile); err != nil {
		log.WithError(err).Warn("could not write pid file")
	}
	defer removePIDFile(ctx.pidFile)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	svc, pools, err := buildServices(cfg, m, sink)
	if err != nil {
		return configError{err}
	}
	handler := &handlerSwitch{}
	handler.Swap(svc)

	var currentCfg atomic.Pointer[wraithconfig.Config]
	currentCfg.Store(cfg)

	var g workgroup.Group

	if cfg.Proxy.Enabled && cfg.Proxy.HealthCheck.Enabled {
		for _, pool := range pools {
			checker := upstream.NewHealthChecker(pool, upstream.HealthCheckConfig{
				Enabled:        cfg.Proxy.HealthCheck.Enabled,
				Interval:       cfg.Proxy.HealthCheck.Interval.AsDuration(),
				Timeout:        cfg.Proxy.HealthCheck.Timeout.AsDuration(),
				Path:           cfg.Proxy.HealthCheck.Path,
				ExpectedStatus: cfg.Proxy.HealthCheck.ExpectedStatus,
			}, sink)
			g.AddContext(func(ctx context.Context) error {
				checker.Run(ctx)
				return nil
			})
		}
	}

	g.AddContext(func(ctx context.Context) error {
		ticker := time.NewTicker(admissionSweepEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				svc.Admission.Sweep()
			}
		}
	})

	bindErr := addListeners(&g, cfg, handler, log)
	if bindErr != nil {
		return bindError{bindErr}
	}

	admin := &httpsvc.Service{
		Addr:        cfg.Server.BindAddress,
		Port:        9090,
		FieldLogger: log.WithField("context", "admin"),
	}
	admin.ServeMux.Handle("/metrics", metrics.Handler(registry))
	g.AddContext(admin.Start)

	g.AddContext(func(gctx context.Context) error {
		sigc := make(chan os.Signal, 1)
		signal.Notify(sigc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigc)
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig := <-sigc:
				if sig == syscall.SIGHUP {
					log.Info("received SIGHUP, reloading configuration")
					if err := doConfigReload(ctx.configPath, &currentCfg, handler, m, sink); err != nil {
						log.WithError(err).Error("reload failed, prior configuration remains in force")
					}
					continue
				}
				log.WithField("signal", sig.String()).Info("received shutdown signal")
				return errShutdownRequested
			}
		}
	})

	return g.Run(context.Background())
}

// doConfigReload implements spec.md section 5's reload contract: the
// candidate TOML is merged onto the running configuration via
// wraithconfig.Reload (fields the file leaves unset fall back to whatever
// is already running, rather than resetting to zero values), and any
// error leaves both the config and the live handler untouched.
func doConfigReload(configPath string, currentCfg *atomic.Pointer[wraithconfig.Config], handler *handlerSwitch, m *metrics.Metrics, sink wraithlog.Sink) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("reading config for reload: %w", err)
	}
	merged, err := wraithconfig.Reload(currentCfg.Load(), data)
	if err != nil {
		return err
	}
	svc, pools, err := buildServices(merged, m, sink)
	if err != nil {
		return err
	}
	// Preserve health state across reload: an upstream already marked
	// unhealthy should not come back up simply because the config file
	// was touched.
	prev := handler.current.Load().Pools
	for name, pool := range pools {
		if old, ok := prev[name]; ok {
			old.Merge(pool.Members())
			pools[name] = old
		}
	}
	svc.Pools = pools
	handler.Swap(svc)
	currentCfg.Store(merged)
	return nil
}

// buildServices derives the router, upstream pools, balancers, admission
// controller, static server, and forwarder from cfg, per spec.md section
// 6's configuration surface. The static subsystem is mounted at /static/*
// when proxying is also enabled, and at the catch-all otherwise, since the
// config has no explicit per-route mount point (an Open Question resolved
// in DESIGN.md).
func buildServices(cfg *wraithconfig.Config, m *metrics.Metrics, sink wraithlog.Sink) (*pipeline.Services, map[string]*upstream.Pool, error) {
	routes := buildRoutes(cfg)

	pools := map[string]*upstream.Pool{}
	balancers := map[string]balancer.Balancer{}
	if cfg.Proxy.Enabled {
		members := make([]*upstream.Upstream, 0, len(cfg.Proxy.Upstreams))
		for _, u := range cfg.Proxy.Upstreams {
			addr := net.JoinHostPort(u.Address, strconv.Itoa(u.Port))
			members = append(members, upstream.NewUpstream(u.Name, addr, u.Weight, u.MaxFails, u.FailTimeout.AsDuration(), u.Backup))
		}
		pool := upstream.NewPool(members, nil)
		pools["default"] = pool
		balancers["default"] = balancer.New(balancer.Policy(cfg.Proxy.LoadBalancing))
	}

	admissionCtl := admission.NewController(admission.Config{
		Enabled:             cfg.Security.RateLimiting.Enabled,
		RequestsPerMinute:   cfg.Security.RateLimiting.RequestsPerMinute,
		Burst:               cfg.Security.RateLimiting.Burst,
		MaxRequestSize:      cfg.Security.RateLimiting.MaxRequestSize,
		AutoBlockEnabled:    cfg.Security.RateLimiting.AutoBlockEnabled,
		BlockDuration:       cfg.Security.RateLimiting.BlockDuration.AsDuration(),
		Whitelist:           cfg.Security.RateLimiting.Whitelist,
		Blacklist:           cfg.Security.RateLimiting.Blacklist,
		MaxConnectionsPerIP: cfg.Security.DDoSProtection.MaxConnectionsPerIP,
		PacketRateLimit:     cfg.Security.DDoSProtection.PacketRateLimit,
	}, nil)

	staticSrv := static.New(static.Config{
		Root:         cfg.StaticFiles.Root,
		Enabled:      cfg.StaticFiles.Enabled,
		Compression:  cfg.StaticFiles.Compression,
		CacheControl: cfg.StaticFiles.CacheControl,
		ETag:         cfg.StaticFiles.ETag,
		Autoindex:    cfg.StaticFiles.Autoindex,
		HSTS:         cfg.Security.Headers.HSTS,
		CSP:          cfg.Security.Headers.CSP,
	}, m)

	fwd := forward.New(connpool.New(connPoolMaxIdle, connPoolIdleTTL, nil), m, forwardDialTimeout, forwardReqTimeout)

	svc := &pipeline.Services{
		Admission:  admissionCtl,
		Router:     routing.NewTable(routes),
		Pools:      pools,
		Balancers:  balancers,
		Forwarder:  fwd,
		Static:     staticSrv,
		Metrics:    m,
		Log:        sink,
		StartedAt:  time.Now(),
		Protocol:   protocolFor(cfg),
		Transport:  transportFor(cfg),
		TLSEnabled: cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "",
	}
	return svc, pools, nil
}

func buildRoutes(cfg *wraithconfig.Config) []*routing.Route {
	var routes []*routing.Route
	if cfg.StaticFiles.Enabled && cfg.Proxy.Enabled {
		routes = append(routes, routing.NewRoute("/static/*", "", routing.MethodAny, 100, routing.KindStatic))
	}
	if cfg.Proxy.Enabled {
		r := routing.NewRoute("/*", "", routing.MethodAny, 50, routing.KindProxy)
		r.UpstreamName = "default"
		routes = append(routes, r)
	} else if cfg.StaticFiles.Enabled {
		routes = append(routes, routing.NewRoute("/*", "", routing.MethodAny, 10, routing.KindStatic))
	}
	return routes
}

func protocolFor(cfg *wraithconfig.Config) string {
	switch {
	case cfg.Server.EnableHTTP3:
		return "HTTP/3"
	case cfg.Server.EnableHTTP2:
		return "HTTP/2"
	default:
		return "HTTP/1.1"
	}
}

func transportFor(cfg *wraithconfig.Config) string {
	if cfg.Server.EnableHTTP3 {
		return "QUIC"
	}
	return "TCP"
}

// addListeners starts every transport enabled in cfg, registering each as
// a group member so a stop signal or the first listener error brings the
// whole server down together.
func addListeners(g *workgroup.Group, cfg *wraithconfig.Config, handler http.Handler, log *logrus.Logger) error {
	addr := net.JoinHostPort(cfg.Server.BindAddress, strconv.Itoa(cfg.Server.Port))

	var limiter *rate.Limiter
	if cfg.Server.MaxConnections > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Server.MaxConnections), cfg.Server.MaxConnections)
	}

	tlsEnabled := cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != ""

	if cfg.Server.EnableHTTP1 && !tlsEnabled {
		l, err := transport.ServeHTTP1(addr, handler, transport.Timeouts{}, limiter)
		if err != nil {
			return fmt.Errorf("binding http/1.1 listener on %s: %w", addr, err)
		}
		g.AddContext(func(ctx context.Context) error {
			go func() { <-ctx.Done(); _ = l.Shutdown(context.Background()) }()
			log.WithField("addr", addr).Info("serving http/1.1")
			return l.Serve()
		})
	}

	if tlsEnabled {
		tlsConfig := &tls.Config{MinVersion: tlsVersion(cfg.TLS.MinVersion, tls.VersionTLS12)}
		if cfg.Server.EnableHTTP2 {
			l, err := transport.ServeHTTP2TLS(addr, cfg.TLS.CertFile, cfg.TLS.KeyFile, handler, tlsConfig, transport.Timeouts{}, limiter)
			if err != nil {
				return fmt.Errorf("binding https/h2 listener on %s: %w", addr, err)
			}
			g.AddContext(func(ctx context.Context) error {
				go func() { <-ctx.Done(); _ = l.Shutdown(context.Background()) }()
				log.WithField("addr", addr).Info("serving https/h2")
				return l.Serve(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			})
		}
		if cfg.Server.EnableHTTP3 {
			cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
			if err != nil {
				return fmt.Errorf("loading tls keypair for http/3: %w", err)
			}
			h3Config := &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h3"}}
			l, err := transport.ServeHTTP3(addr, handler, h3Config, nil)
			if err != nil {
				return fmt.Errorf("binding http/3 listener on %s: %w", addr, err)
			}
			g.AddContext(func(ctx context.Context) error {
				go func() { <-ctx.Done(); _ = l.Shutdown(context.Background()) }()
				log.WithField("addr", addr).Info("serving http/3")
				return l.Serve()
			})
		}
	}

	return nil
}

func tlsVersion(name string, fallback uint16) uint16 {
	switch name {
	case "tls12":
		return tls.VersionTLS12
	case "tls13":
		return tls.VersionTLS13
	default:
		return fallback
	}
}
