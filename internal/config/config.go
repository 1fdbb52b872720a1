package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "VIEWBRIDGE"

// Config holds the application configuration
type Config struct {
	// Database connection string (DSN). sqlite DSNs ("file:...", ":memory:") are accepted for development.
	DatabaseURL string `mapstructure:"database_url"`

	// Server bind address (host:port)
	ServerAddr string `mapstructure:"server_addr"`

	// Public base URL of the server
	ServerURL string `mapstructure:"server_url"`

	// Maximum database connection pool size
	MaxDBConnections int `mapstructure:"max_db_connections"`

	// Enable debug logging
	Debug bool `mapstructure:"debug"`

	// Realm announced in WWW-Authenticate challenges
	Realm string `mapstructure:"realm"`

	// Viewer component name; the viewer is mounted under /plugins/<name>/ unless PluginURL overrides it
	PluginName string `mapstructure:"plugin_name"`

	// Canonical URL of the viewer. Its path becomes the viewer mount point and cookie path.
	PluginURL string `mapstructure:"plugin_url"`

	Host          HostConfig          `mapstructure:"host"`
	Auth          AuthConfig          `mapstructure:"auth"`
	Session       SessionConfig       `mapstructure:"session"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// HostConfig configures the host application's session layer.
type HostConfig struct {
	// CanonicalURL of the host web UI; logout redirects go to <CanonicalURL>/logout
	CanonicalURL string `mapstructure:"canonical_url"`

	// LogoutURL is used when no canonical URL is known
	LogoutURL string `mapstructure:"logout_url"`

	// SessionTTL bounds the lifetime of a host sign-in
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	// CookieName carries the host session token
	CookieName string `mapstructure:"cookie_name"`

	// PolicyRefresh reloads access rules from the database; 0 disables it
	PolicyRefresh time.Duration `mapstructure:"policy_refresh"`
}

// AuthConfig configures the authentication bridge.
type AuthConfig struct {
	// BasicTimeout bounds credential verification; expiry fails closed
	BasicTimeout time.Duration `mapstructure:"basic_timeout"`

	// AllowCookieAuth enables the viewer's remember-me cookie
	AllowCookieAuth bool `mapstructure:"allow_cookie_auth"`

	// CookieMaxAge is the remember-me cookie lifetime
	CookieMaxAge time.Duration `mapstructure:"cookie_max_age"`

	// CookieName of the remember-me cookie
	CookieName string `mapstructure:"cookie_name"`

	// AnonymousBrowsing lets requests without credentials browse as the host's anonymous user
	AnonymousBrowsing bool `mapstructure:"anonymous_browsing"`
}

// SessionConfig configures the HTTP session container shared with the viewer.
type SessionConfig struct {
	CookieName  string        `mapstructure:"cookie_name"`
	TTL         time.Duration `mapstructure:"ttl"`
	MaxSessions int           `mapstructure:"max_sessions"`
}

// ObservabilityConfig holds OpenTelemetry settings.
// Tracing is disabled when OTLPEndpoint is empty.
type ObservabilityConfig struct {
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
	OTLPProtocol   string `mapstructure:"otlp_protocol"`
	OTLPInsecure   bool   `mapstructure:"otlp_insecure"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database_url", "file:viewbridge.db?cache=shared&_pragma=foreign_keys(1)")
	v.SetDefault("server_addr", "localhost:8080")
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("max_db_connections", 25)
	v.SetDefault("debug", false)
	v.SetDefault("realm", "Viewbridge")
	v.SetDefault("plugin_name", "viewer")
	v.SetDefault("plugin_url", "")

	v.SetDefault("host.canonical_url", "")
	v.SetDefault("host.logout_url", "/")
	v.SetDefault("host.session_ttl", 12*time.Hour)
	v.SetDefault("host.cookie_name", "VBHOST")
	v.SetDefault("host.policy_refresh", 30*time.Second)

	v.SetDefault("auth.basic_timeout", 10*time.Second)
	v.SetDefault("auth.allow_cookie_auth", true)
	v.SetDefault("auth.cookie_max_age", 7*24*time.Hour)
	v.SetDefault("auth.cookie_name", "VBVIEWER")
	v.SetDefault("auth.anonymous_browsing", false)

	v.SetDefault("session.cookie_name", "VBSESSION")
	v.SetDefault("session.ttl", 30*time.Minute)
	v.SetDefault("session.max_sessions", 10000)

	v.SetDefault("observability.otlp_endpoint", "")
	v.SetDefault("observability.otlp_protocol", "http/protobuf")
	v.SetDefault("observability.otlp_insecure", false)
	v.SetDefault("observability.service_name", "viewbridge")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
}

// Load reads configuration from the global viper instance: an optional config
// file, VIEWBRIDGE_ prefixed environment variables, bound flags and defaults.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server_url is required")
	}
	if c.Realm == "" {
		return fmt.Errorf("realm must not be empty")
	}
	if c.Auth.BasicTimeout <= 0 {
		return fmt.Errorf("auth.basic_timeout must be positive, got %s", c.Auth.BasicTimeout)
	}
	if c.Host.PolicyRefresh < 0 {
		return fmt.Errorf("host.policy_refresh must not be negative, got %s", c.Host.PolicyRefresh)
	}
	if c.Session.MaxSessions <= 0 {
		return fmt.Errorf("session.max_sessions must be positive, got %d", c.Session.MaxSessions)
	}
	if c.PluginURL != "" {
		if _, err := url.Parse(c.PluginURL); err != nil {
			return fmt.Errorf("plugin_url: %w", err)
		}
	}
	return nil
}

// CanonicalPluginURL is the absolute URL of the viewer mount point.
func (c *Config) CanonicalPluginURL() string {
	if c.PluginURL != "" {
		return c.PluginURL
	}
	return strings.TrimSuffix(c.ServerURL, "/") + "/plugins/" + c.PluginName + "/"
}
