// Package wraithconfig decodes and validates the structured configuration
// tree of spec.md section 6, and implements the reload-merge behavior of
// section 5: build the new tree off-thread, validate it, then let the
// caller swap it in atomically.
package wraithconfig

import (
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/GhostKellz/wraith/internal/slice"
)

// supportedALPNProtocols lists the protocol IDs wraith's transport
// listeners can actually negotiate.
var supportedALPNProtocols = []string{"h3", "h2", "http/1.1"}

// Config is the root of the structured value tree described in spec.md
// section 6.
type Config struct {
	Server      Server      `toml:"server"`
	TLS         TLS         `toml:"tls"`
	StaticFiles StaticFiles `toml:"static_files"`
	Security    Security    `toml:"security"`
	Proxy       Proxy       `toml:"proxy"`
}

type Server struct {
	BindAddress    string `toml:"bind_address"`
	Port           int    `toml:"port"`
	MaxConnections int    `toml:"max_connections"`
	EnableHTTP3    bool   `toml:"enable_http3"`
	EnableHTTP2    bool   `toml:"enable_http2"`
	EnableHTTP1    bool   `toml:"enable_http1"`
}

type TLS struct {
	AutoCert   bool     `toml:"auto_cert"`
	MinVersion string   `toml:"min_version"`
	MaxVersion string   `toml:"max_version"`
	ALPN       []string `toml:"alpn"`
	CertFile   string   `toml:"cert_file"`
	KeyFile    string   `toml:"key_file"`
}

type StaticFiles struct {
	Enabled      bool   `toml:"enabled"`
	Root         string `toml:"root"`
	Compression  bool   `toml:"compression"`
	CacheControl string `toml:"cache_control"`
	ETag         bool   `toml:"etag"`
	Autoindex    bool   `toml:"autoindex"`
}

type Security struct {
	RateLimiting   RateLimiting   `toml:"rate_limiting"`
	DDoSProtection DDoSProtection `toml:"ddos_protection"`
	Headers        Headers        `toml:"headers"`
}

type RateLimiting struct {
	Enabled           bool     `toml:"enabled"`
	RequestsPerMinute float64  `toml:"requests_per_minute"`
	Burst             float64  `toml:"burst"`
	MaxRequestSize    int64    `toml:"max_request_size"`
	AutoBlockEnabled  bool     `toml:"auto_block_enabled"`
	BlockDuration     Duration `toml:"block_duration"`
	Whitelist         []string `toml:"whitelist"`
	Blacklist         []string `toml:"blacklist"`
}

type DDoSProtection struct {
	MaxConnectionsPerIP int      `toml:"max_connections_per_ip"`
	ConnectionRateLimit int      `toml:"connection_rate_limit"`
	PacketRateLimit     int      `toml:"packet_rate_limit"`
	WindowSize          Duration `toml:"window_size"`
}

type Headers struct {
	HSTS string `toml:"hsts"`
	CSP  string `toml:"csp"`
}

type Proxy struct {
	Enabled       bool            `toml:"enabled"`
	LoadBalancing string          `toml:"load_balancing"`
	Upstreams     []UpstreamEntry `toml:"upstreams"`
	HealthCheck   HealthCheck     `toml:"health_check"`
}

type UpstreamEntry struct {
	Name        string   `toml:"name"`
	Address     string   `toml:"address"`
	Port        int      `toml:"port"`
	Weight      int      `toml:"weight"`
	MaxFails    int      `toml:"max_fails"`
	FailTimeout Duration `toml:"fail_timeout"`
	Backup      bool     `toml:"backup"`
}

type HealthCheck struct {
	Enabled        bool     `toml:"enabled"`
	Interval       Duration `toml:"interval"`
	Timeout        Duration `toml:"timeout"`
	Path           string   `toml:"path"`
	ExpectedStatus int      `toml:"expected_status"`
}

// Duration decodes a TOML string like "5s" or "1m" into a time.Duration,
// since go-toml/v2 has no native duration type.
type Duration time.Duration

func (d Duration) AsDuration() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", text)
	}
	*d = Duration(parsed)
	return nil
}

// Load reads and decodes a TOML config file, then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	cfg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode parses raw TOML bytes into a Config without validating it.
func Decode(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return &cfg, nil
}

// Validate checks the invariants spec.md section 6 implies: a bindable
// port, a resolvable static root if static serving is enabled, and at
// least one upstream if proxying is enabled.
func Validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.StaticFiles.Enabled && cfg.StaticFiles.Root == "" {
		return fmt.Errorf("static_files.root is required when static_files.enabled is true")
	}
	if cfg.Proxy.Enabled && len(cfg.Proxy.Upstreams) == 0 {
		return fmt.Errorf("proxy.upstreams must be non-empty when proxy.enabled is true")
	}
	switch cfg.TLS.MinVersion {
	case "", "tls12", "tls13":
	default:
		return fmt.Errorf("tls.min_version must be tls12 or tls13, got %q", cfg.TLS.MinVersion)
	}
	switch cfg.TLS.MaxVersion {
	case "", "tls12", "tls13":
	default:
		return fmt.Errorf("tls.max_version must be tls12 or tls13, got %q", cfg.TLS.MaxVersion)
	}
	for _, proto := range cfg.TLS.ALPN {
		if !slice.ContainsString(supportedALPNProtocols, proto) {
			return fmt.Errorf("tls.alpn: unsupported protocol %q, must be one of %v", proto, supportedALPNProtocols)
		}
	}
	return nil
}

// Reload decodes and validates candidate, then merges it onto a copy of
// current via dario.cat/mergo, so that fields the candidate leaves zero
// fall back to the running configuration rather than resetting to the
// type's zero value. On any error the caller's existing *Config is left
// untouched, per spec.md section 7: "a fatal configuration error during
// reload must leave the prior configuration in force unchanged."
func Reload(current *Config, candidateTOML []byte) (*Config, error) {
	candidate, err := Decode(candidateTOML)
	if err != nil {
		return nil, err
	}
	if err := Validate(candidate); err != nil {
		return nil, err
	}

	merged := *current
	if err := mergo.Merge(&merged, *candidate, mergo.WithOverride); err != nil {
		return nil, errors.Wrap(err, "merging reloaded configuration")
	}
	if err := Validate(&merged); err != nil {
		return nil, err
	}
	return &merged, nil
}
