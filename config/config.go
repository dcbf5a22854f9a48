// Package config defines the conduit application configuration.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the top-level conduit configuration.
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Backend   BackendConfig   `json:"backend" yaml:"backend"`
	Auth      AuthConfig      `json:"auth" yaml:"auth"`
	Dashboard DashboardConfig `json:"dashboard" yaml:"dashboard"`
	Emulator  EmulatorConfig  `json:"emulator" yaml:"emulator"`
	Log       LogConfig       `json:"log" yaml:"log"`
}

// ServerConfig controls the dashboard HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// BackendConfig locates the external task service. URL is the only place
// the service address is configured.
type BackendConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Timeout Duration `json:"timeout" yaml:"timeout"` // zero means no timeout
}

// AuthConfig controls dashboard authentication.
type AuthConfig struct {
	JWTSecret     string   `json:"jwt_secret" yaml:"jwt_secret"`
	AdminUser     string   `json:"admin_user" yaml:"admin_user"`
	AdminPass     string   `json:"admin_pass" yaml:"admin_pass"` // plain or bcrypt hash
	TokenTTL      Duration `json:"token_ttl" yaml:"token_ttl"`
	EnforceExpiry bool     `json:"enforce_expiry" yaml:"enforce_expiry"`
	LoginRate     float64  `json:"login_rate" yaml:"login_rate"` // attempts per second per client
	LoginBurst    int      `json:"login_burst" yaml:"login_burst"`
}

// DashboardConfig tunes the web views.
type DashboardConfig struct {
	DismissDelay    Duration `json:"dismiss_delay" yaml:"dismiss_delay"`
	NotificationTTL Duration `json:"notification_ttl" yaml:"notification_ttl"`
}

// EmulatorConfig controls the local stand-in for the task service.
type EmulatorConfig struct {
	Addr        string   `json:"addr" yaml:"addr"`
	DSN         string   `json:"dsn" yaml:"dsn"`
	DeleteDelay Duration `json:"delete_delay" yaml:"delete_delay"`
	Seed        bool     `json:"seed" yaml:"seed"`
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json or console
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":9090",
		},
		Backend: BackendConfig{
			URL: "http://localhost:8080",
		},
		Auth: AuthConfig{
			AdminUser:  "admin",
			AdminPass:  "password",
			TokenTTL:   Duration(24 * time.Hour),
			LoginRate:  1,
			LoginBurst: 5,
		},
		Dashboard: DashboardConfig{
			DismissDelay:    Duration(1500 * time.Millisecond),
			NotificationTTL: Duration(3 * time.Second),
		},
		Emulator: EmulatorConfig{
			Addr:        ":8080",
			DSN:         ":memory:",
			DeleteDelay: Duration(800 * time.Millisecond),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads a YAML config file and overlays it on the defaults. An empty
// path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", path)
	}
	return cfg, nil
}

// Validate rejects configurations the daemons cannot run with.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return errors.Errorf("backend.url must be an http(s) URL, got %q", c.Backend.URL)
	}
	if c.Auth.AdminUser == "" {
		return errors.New("auth.admin_user is required")
	}
	for name, d := range map[string]Duration{
		"backend.timeout":            c.Backend.Timeout,
		"auth.token_ttl":             c.Auth.TokenTTL,
		"dashboard.dismiss_delay":    c.Dashboard.DismissDelay,
		"dashboard.notification_ttl": c.Dashboard.NotificationTTL,
		"emulator.delete_delay":      c.Emulator.DeleteDelay,
	} {
		if d < 0 {
			return errors.Errorf("%s must not be negative", name)
		}
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// Duration is a time.Duration written as a string such as "800ms" in YAML.
type Duration time.Duration

// D returns d as a time.Duration.
func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return errors.Wrapf(err, "line %d", node.Line)
	}
	*d = Duration(v)
	return nil
}
