package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberpulse/cyberpulse/pkg/detect"
	"github.com/cyberpulse/cyberpulse/pkg/logging"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort          = 8080
	DefaultEventRetention    = 30 * time.Minute
	DefaultDetectionInterval = 15 * time.Second
	DefaultStorageRetention  = 24 * time.Hour
	DefaultIntelEndpoint     = "https://api.abuseipdb.com/api/v2/check"
	DefaultIntelMaxAgeDays   = 90
	DefaultIntelTimeout      = 10 * time.Second
	DefaultHighRiskScore     = 50
	DefaultIntelConcurrency  = 4
	DefaultIntelCacheTTL     = 6 * time.Hour
	DefaultWSInterval        = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// CORSOrigins lists the origins allowed to call the REST API from a
	// browser. Default ["*"].
	CORSOrigins []string `yaml:"cors_origins"`

	// Auth configures how ingestion clients authenticate.
	Auth AuthConfig `yaml:"auth"`

	// Events controls the in-memory event window.
	Events EventsConfig `yaml:"events"`

	// Detection holds the detector thresholds and run interval.
	Detection DetectionConfig `yaml:"detection"`

	// Alerts holds webhook delivery targets for newly detected alerts.
	Alerts AlertsConfig `yaml:"alerts"`

	// Storage configures the optional event archive.
	Storage StorageConfig `yaml:"storage"`

	// Intel configures IP reputation enrichment.
	Intel IntelConfig `yaml:"intel"`

	// Logging configures the slog output.
	Logging logging.Config `yaml:"logging"`

	// WS configures the WebSocket broadcast.
	WS WSConfig `yaml:"ws"`
}

// AuthConfig controls client authentication on the ingestion endpoints.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	// Used when Mode == "apikey".
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header name to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// EventsConfig controls in-memory event retention.
type EventsConfig struct {
	// Retention is how long an event stays in the detection window after it
	// was received. Default: 30m.
	Retention time.Duration `yaml:"retention"`
}

// DetectionConfig holds the detector thresholds.
type DetectionConfig struct {
	// Interval between scheduled detection runs. Ingestion also triggers a run.
	Interval time.Duration `yaml:"interval"`

	// Window is the fixed bucket size for the windowed rules. Default 2m.
	Window time.Duration `yaml:"window"`

	// BruteForceThreshold is the failed-login count per source per window
	// that raises a brute force alert. Default 6.
	BruteForceThreshold int `yaml:"brute_force_threshold"`

	// PortScanThreshold is the distinct-port count per source per window
	// that raises a port scan alert. Default 12.
	PortScanThreshold int `yaml:"port_scan_threshold"`
}

// Rules converts the thresholds to detector rules.
func (d DetectionConfig) Rules() detect.Rules {
	return detect.Rules{
		Window:              d.Window,
		BruteForceThreshold: d.BruteForceThreshold,
		PortScanThreshold:   d.PortScanThreshold,
	}
}

// AlertsConfig holds webhook delivery targets.
type AlertsConfig struct {
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// StorageConfig configures the event archive.
type StorageConfig struct {
	// Backend selects the archive implementation: "" (disabled) | sqlite.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// Retention is how long archived events are kept. Default 24h.
	Retention time.Duration `yaml:"retention"`
}

// IntelConfig configures IP reputation lookups.
type IntelConfig struct {
	// Endpoint is the reputation check URL (AbuseIPDB v2 compatible).
	Endpoint string `yaml:"endpoint"`

	// APIKeyEnv names the environment variable holding the API key.
	// Enrichment is disabled when the key is empty.
	APIKeyEnv string `yaml:"api_key_env"`

	// MaxAgeDays limits the report window the reputation service considers.
	MaxAgeDays int `yaml:"max_age_days"`

	// Timeout bounds a single lookup.
	Timeout time.Duration `yaml:"timeout"`

	// HighRiskScore is the score above which an IP is HIGH risk.
	HighRiskScore int `yaml:"high_risk_score"`

	// Concurrency bounds parallel lookups when enriching a report.
	Concurrency int `yaml:"concurrency"`

	// Cache configures the optional Redis lookup cache.
	Cache CacheConfig `yaml:"cache"`
}

// APIKey returns the reputation API key resolved from the environment.
func (i IntelConfig) APIKey() string {
	if i.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(i.APIKeyEnv)
}

// CacheConfig configures the Redis reputation cache.
type CacheConfig struct {
	// RedisAddr is host:port; empty disables caching.
	RedisAddr string `yaml:"redis_addr"`

	// PasswordEnv names the environment variable holding the Redis password.
	PasswordEnv string `yaml:"password_env"`

	// DB selects the Redis logical database.
	DB int `yaml:"db"`

	// TTL is how long a cached reputation stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// Password returns the Redis password resolved from the environment.
func (c CacheConfig) Password() string {
	if c.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(c.PasswordEnv)
}

// WSConfig configures the WebSocket hub.
type WSConfig struct {
	// Interval between alert broadcasts. Default 5s.
	Interval time.Duration `yaml:"interval"`
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    DefaultHTTPPort,
			CORSOrigins: []string{"*"},
			Events:      EventsConfig{Retention: DefaultEventRetention},
			Detection: DetectionConfig{
				Interval:            DefaultDetectionInterval,
				Window:              detect.DefaultWindow,
				BruteForceThreshold: detect.DefaultBruteForceThreshold,
				PortScanThreshold:   detect.DefaultPortScanThreshold,
			},
			Storage: StorageConfig{Retention: DefaultStorageRetention},
			Intel: IntelConfig{
				Endpoint:      DefaultIntelEndpoint,
				MaxAgeDays:    DefaultIntelMaxAgeDays,
				Timeout:       DefaultIntelTimeout,
				HighRiskScore: DefaultHighRiskScore,
				Concurrency:   DefaultIntelConcurrency,
				Cache:         CacheConfig{TTL: DefaultIntelCacheTTL},
			},
			Logging: logging.Config{Level: "info", MaxSizeMB: 100, MaxBackups: 3},
			WS:      WSConfig{Interval: DefaultWSInterval},
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if s.Events.Retention <= 0 {
		return fmt.Errorf("server.events.retention must be positive")
	}
	if s.Detection.Interval <= 0 {
		return fmt.Errorf("server.detection.interval must be positive")
	}
	if s.Detection.Window <= 0 {
		return fmt.Errorf("server.detection.window must be positive")
	}
	if s.Detection.BruteForceThreshold <= 0 || s.Detection.PortScanThreshold <= 0 {
		return fmt.Errorf("server.detection thresholds must be positive")
	}
	for i, wh := range s.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	switch s.Storage.Backend {
	case "":
	case "sqlite":
		if s.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for the sqlite backend")
		}
	default:
		return fmt.Errorf("server.storage.backend %q unknown: want sqlite", s.Storage.Backend)
	}
	if s.Storage.Retention < 0 {
		return fmt.Errorf("server.storage.retention must not be negative")
	}
	if s.Intel.Concurrency <= 0 {
		return fmt.Errorf("server.intel.concurrency must be positive")
	}
	if s.WS.Interval <= 0 {
		return fmt.Errorf("server.ws.interval must be positive")
	}
	return nil
}
