package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, BackendSQLite, cfg.SessionBackend)
	assert.Equal(t, "/api/check", cfg.Endpoints.Search)
	assert.Equal(t, "/api/emails", cfg.Endpoints.Accounts)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inboxwatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
upstream_url: https://mailcheck.example.com
request_timeout: 5s
max_inflight: 4
endpoints:
  search: /v2/check
`), 0o600))

	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("SESSION_BACKEND", "BLOB")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://mailcheck.example.com", cfg.UpstreamURL)
	assert.Equal(t, 5*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 4, cfg.MaxInFlight)
	assert.Equal(t, "/v2/check", cfg.Endpoints.Search)
	assert.Equal(t, "/api/login", cfg.Endpoints.Login)
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, BackendBlob, cfg.SessionBackend)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsBrokenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen_addr: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no upstream", func(c *Config) { c.UpstreamURL = "" }},
		{"bad scheme", func(c *Config) { c.UpstreamURL = "ftp://x" }},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }},
		{"negative inflight", func(c *Config) { c.MaxInFlight = -1 }},
		{"unknown backend", func(c *Config) { c.SessionBackend = "redis" }},
		{"unknown level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestYAMLDump(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)

	var back map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &back))
	assert.Equal(t, ":8090", back["listen_addr"])
	assert.Contains(t, back, "endpoints")
}
