// Package config loads the server configuration from an optional YAML file
// and the environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/eslider/inboxwatch/internal/upstream"
)

// Session backends.
const (
	BackendSQLite = "sqlite"
	BackendBlob   = "blob"
)

// Config is the effective server configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// DataDir holds the session database or session blobs.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// UpstreamURL is the base URL of the mail-check service.
	UpstreamURL string             `mapstructure:"upstream_url" yaml:"upstream_url"`
	Endpoints   upstream.Endpoints `mapstructure:"endpoints" yaml:"endpoints"`

	// RequestTimeout settles an account search that has not answered.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// MaxInFlight caps concurrent searches per round; 0 means unbounded.
	MaxInFlight int `mapstructure:"max_inflight" yaml:"max_inflight"`

	// SessionBackend is "sqlite" or "blob" (filesystem, or S3 when S3_* is set).
	SessionBackend string `mapstructure:"session_backend" yaml:"session_backend"`

	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`
	LokiURL     string `mapstructure:"loki_url" yaml:"loki_url"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	StaticDir   string `mapstructure:"static_dir" yaml:"static_dir"`
	TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
}

var keys = []string{
	"listen_addr", "data_dir", "upstream_url", "request_timeout", "max_inflight",
	"session_backend", "log_level", "loki_url", "service_name", "static_dir", "template_dir",
	"endpoints.accounts", "endpoints.search", "endpoints.login", "endpoints.logout",
}

func setDefaults(v *viper.Viper) {
	ep := upstream.DefaultEndpoints()
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("upstream_url", "http://localhost:5000")
	v.SetDefault("request_timeout", "30s")
	v.SetDefault("max_inflight", 0)
	v.SetDefault("session_backend", BackendSQLite)
	v.SetDefault("log_level", "info")
	v.SetDefault("loki_url", "")
	v.SetDefault("service_name", "inboxwatch")
	v.SetDefault("static_dir", "./web/static")
	v.SetDefault("template_dir", "")
	v.SetDefault("endpoints.accounts", ep.Accounts)
	v.SetDefault("endpoints.search", ep.Search)
	v.SetDefault("endpoints.login", ep.Login)
	v.SetDefault("endpoints.logout", ep.Logout)
}

// Load reads path (may be empty or missing) and overlays environment
// variables such as UPSTREAM_URL or ENDPOINTS_SEARCH.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, eris.Wrapf(err, "bind %s", k)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			_, missing := err.(*os.PathError)
			if _, ok := err.(viper.ConfigFileNotFoundError); ok {
				missing = true
			}
			if !missing {
				return nil, eris.Wrapf(err, "reading config %s", path)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, eris.Wrapf(err, "parsing config %s", path)
	}
	cfg.SessionBackend = strings.ToLower(strings.TrimSpace(cfg.SessionBackend))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	return cfg, nil
}

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	switch {
	case c.ListenAddr == "":
		return eris.New("listen_addr is required")
	case c.UpstreamURL == "":
		return eris.New("upstream_url is required")
	case !strings.HasPrefix(c.UpstreamURL, "http://") && !strings.HasPrefix(c.UpstreamURL, "https://"):
		return eris.Errorf("upstream_url %q must start with http:// or https://", c.UpstreamURL)
	case c.RequestTimeout <= 0:
		return eris.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	case c.MaxInFlight < 0:
		return eris.Errorf("max_inflight must not be negative, got %d", c.MaxInFlight)
	case c.SessionBackend != BackendSQLite && c.SessionBackend != BackendBlob:
		return eris.Errorf("session_backend must be %q or %q, got %q", BackendSQLite, BackendBlob, c.SessionBackend)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return eris.Errorf("log_level %q is not one of debug, info, warn, error", c.LogLevel)
	}
	return nil
}

// YAML renders the configuration the way it would be written to a file.
func (c *Config) YAML() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	return string(data), nil
}
