package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cyberpulse/cyberpulse/pkg/ingest"
	"github.com/cyberpulse/cyberpulse/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultShipInterval = 5 * time.Second
	DefaultPollInterval = 10 * time.Second
	DefaultBufferSize   = 100
	DefaultBatchSize    = 500
	DefaultAPIKeyHeader = "x-api-key"
)

// Source types.
const (
	SourceCSV   = "csv"
	SourceDemo  = "demo"
	SourceKafka = "kafka"
)

// Config is the agent configuration parsed from the `agent:` section of
// config.yaml. The `server:` key in the same file is ignored.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerEndpoint is the base URL of cyberpulse-server, e.g.
	// http://localhost:8080. Batches are posted to {endpoint}/api/v1/events.
	ServerEndpoint string `yaml:"server_endpoint"`

	// ShipInterval controls how often pending events are cut into batches
	// and queued for delivery.
	ShipInterval time.Duration `yaml:"ship_interval"`

	// BufferSize is the maximum number of batches held in memory while the
	// server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// BatchSize is the maximum number of events per posted batch.
	BatchSize int `yaml:"batch_size"`

	// Sources is the list of event sources to poll.
	Sources []Source `yaml:"sources"`

	// ServerAuth configures how the agent authenticates to cyberpulse-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	// TLS holds optional client TLS options for https endpoints.
	TLS TLSConfig `yaml:"tls"`

	// Logging selects the log level and optional rotating log file.
	Logging logging.Config `yaml:"logging"`
}

// Source describes one event source.
type Source struct {
	// ID is a unique, human-readable identifier for this source.
	ID string `yaml:"id"`

	// Type is one of: csv | demo | kafka.
	Type string `yaml:"type"`

	// Path is the CSV file to tail. Required for csv sources.
	Path string `yaml:"path"`

	// PollInterval controls how often the source is collected. Default 10s.
	PollInterval time.Duration `yaml:"poll_interval"`

	Demo  DemoConfig  `yaml:"demo"`
	Kafka KafkaConfig `yaml:"kafka"`
}

// DemoConfig tunes the synthetic event generator.
type DemoConfig struct {
	// Minutes of history emitted on the first collection. Zero emits none.
	Minutes int `yaml:"minutes"`

	// Step between generator ticks. Default 30s.
	Step time.Duration `yaml:"step"`

	// Seed for the generator. Default 42.
	Seed uint64 `yaml:"seed"`
}

// KafkaConfig selects the topic a kafka source consumes JSON events from.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	GroupID string   `yaml:"group_id"`

	// MaxBatch caps the messages read per collection. Default batch_size.
	MaxBatch int `yaml:"max_batch"`
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in. Default x-api-key.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv names the environment variable holding the bearer token,
	// used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// TLSConfig holds client TLS options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applySourceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ShipInterval: DefaultShipInterval,
			BufferSize:   DefaultBufferSize,
			BatchSize:    DefaultBatchSize,
			ServerAuth:   AuthConfig{Mode: "none"},
			Logging:      logging.Config{Level: "info"},
		},
	}
}

// applySourceDefaults fills per-source fields that yaml leaves zero inside
// list items.
func applySourceDefaults(cfg *Config) {
	a := &cfg.Agent
	if a.ServerAuth.Mode == "" {
		a.ServerAuth.Mode = "none"
	}
	if a.ServerAuth.Mode == "apikey" && a.ServerAuth.Header == "" {
		a.ServerAuth.Header = DefaultAPIKeyHeader
	}
	for i := range a.Sources {
		src := &a.Sources[i]
		if src.PollInterval == 0 {
			src.PollInterval = DefaultPollInterval
		}
		if src.Demo.Step == 0 {
			src.Demo.Step = ingest.DefaultDemoStep
		}
		if src.Demo.Seed == 0 {
			src.Demo.Seed = ingest.DefaultDemoSeed
		}
		if src.Kafka.MaxBatch == 0 {
			src.Kafka.MaxBatch = a.BatchSize
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	u, err := url.Parse(a.ServerEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("agent.server_endpoint must be an http(s) URL, got %q", a.ServerEndpoint)
	}
	if a.ShipInterval <= 0 {
		return fmt.Errorf("agent.ship_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.BatchSize <= 0 {
		return fmt.Errorf("agent.batch_size must be positive")
	}

	switch a.ServerAuth.Mode {
	case "none", "bearer":
	case "apikey":
		if a.ServerAuth.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth.key_env is required for apikey mode")
		}
	case "mtls":
		if a.ServerAuth.CertFile == "" || a.ServerAuth.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: cert_file and key_file are required for mtls mode")
		}
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Sources))
	for i, src := range a.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, src.ID)
		}
		seen[src.ID] = true
		if src.PollInterval < 0 {
			return fmt.Errorf("sources[%d] %q: poll_interval must be positive", i, src.ID)
		}
		switch src.Type {
		case SourceCSV:
			if src.Path == "" {
				return fmt.Errorf("sources[%d] %q: path is required", i, src.ID)
			}
		case SourceDemo:
			if src.Demo.Minutes < 0 || src.Demo.Step < 0 {
				return fmt.Errorf("sources[%d] %q: demo minutes and step must not be negative", i, src.ID)
			}
		case SourceKafka:
			if len(src.Kafka.Brokers) == 0 || src.Kafka.Topic == "" {
				return fmt.Errorf("sources[%d] %q: kafka brokers and topic are required", i, src.ID)
			}
		default:
			return fmt.Errorf("sources[%d] %q: unknown type %q", i, src.ID, src.Type)
		}
	}
	return nil
}
