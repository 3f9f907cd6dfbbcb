package wraithconfig

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalTOML = `
[server]
bind_address = "0.0.0.0"
port = 8443

[static_files]
enabled = true
root = "./public"
`

func TestDecodeParsesNestedSections(t *testing.T) {
	cfg, err := Decode([]byte(minimalTOML))
	require.NoError(t, err)
	assert.Equal(t, 8443, cfg.Server.Port)
	assert.Equal(t, "./public", cfg.StaticFiles.Root)
}

func TestDurationUnmarshalsFromTOMLString(t *testing.T) {
	raw := `
[proxy.health_check]
enabled = true
interval = "10s"
timeout = "2s"
`
	cfg, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Proxy.HealthCheck.Interval.AsDuration())
	assert.Equal(t, 2*time.Second, cfg.Proxy.HealthCheck.Timeout.AsDuration())
}

func TestValidateRejectsOutOfRangePort(t *testing.T) {
	cfg := &Config{Server: Server{Port: 99999}}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsStaticEnabledWithoutRoot(t *testing.T) {
	cfg := &Config{Server: Server{Port: 8080}, StaticFiles: StaticFiles{Enabled: true}}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsProxyEnabledWithoutUpstreams(t *testing.T) {
	cfg := &Config{Server: Server{Port: 8080}, Proxy: Proxy{Enabled: true}}
	err := Validate(cfg)
	assert.Error(t, err)
}

func TestValidateRejectsUnsupportedALPNProtocol(t *testing.T) {
	cfg := &Config{Server: Server{Port: 8080}, TLS: TLS{ALPN: []string{"spdy/1"}}}
	assert.Error(t, Validate(cfg))
}

func TestValidateAcceptsKnownALPNProtocols(t *testing.T) {
	cfg := &Config{Server: Server{Port: 8080}, TLS: TLS{ALPN: []string{"h3", "h2", "http/1.1"}}}
	assert.NoError(t, Validate(cfg))
}

func TestValidateAcceptsMinimalValidConfig(t *testing.T) {
	cfg, err := Decode([]byte(minimalTOML))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
}

func TestReloadMergesOntoRunningConfigPreservingUnsetFields(t *testing.T) {
	current, err := Decode([]byte(minimalTOML))
	require.NoError(t, err)
	current.Security.RateLimiting.RequestsPerMinute = 120

	candidateTOML := `
[server]
port = 9443

[static_files]
enabled = true
root = "./public"
`
	merged, err := Reload(current, []byte(candidateTOML))
	require.NoError(t, err)
	assert.Equal(t, 9443, merged.Server.Port, "candidate value must win")
	assert.Equal(t, float64(120), merged.Security.RateLimiting.RequestsPerMinute, "fields absent from the candidate must survive from the running config")
}

func TestReloadRejectsInvalidCandidateWithoutMutatingCurrent(t *testing.T) {
	current, err := Decode([]byte(minimalTOML))
	require.NoError(t, err)
	originalPort := current.Server.Port

	badTOML := `
[server]
port = 0
`
	_, err = Reload(current, []byte(badTOML))
	assert.Error(t, err)
	assert.Equal(t, originalPort, current.Server.Port, "a fatal reload error must leave the prior configuration unchanged")
}
