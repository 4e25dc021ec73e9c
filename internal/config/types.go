package config

import (
	"time"

	"github.com/mattjoyce/reroute/internal/auth"
)

// Config represents the complete reroute configuration.
type Config struct {
	Service   ServiceConfig          `yaml:"service"`
	State     StateConfig            `yaml:"state"`
	Rerouting ReroutingConfig        `yaml:"rerouting"`
	Dispatch  DispatchConfig         `yaml:"dispatch"`
	Retry     RetryConfig            `yaml:"retry"`
	API       APIConfig              `yaml:"api,omitempty"`
	JobTypes  map[string]JobTypeConf `yaml:"job_types"`
	Webhooks  []WebhookConf          `yaml:"webhooks,omitempty"`

	// SourcePath is the absolute path the config was loaded from.
	SourcePath string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StateConfig defines the SQLite database holding queues (and the sqlite routing table).
type StateConfig struct {
	Path string `yaml:"path"`
}

const (
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendNATS   = "nats"
)

// ReroutingConfig selects where the routing table lives.
//
// sqlite and redis read both candidate markers of a job in one operation.
// nats reads them one key at a time, so a lookup racing a marker change can
// see a mix of old and new values.
type ReroutingConfig struct {
	Backend string      `yaml:"backend"`
	Table   string      `yaml:"table"`
	Redis   RedisConfig `yaml:"redis,omitempty"`
	NATS    NATSConfig  `yaml:"nats,omitempty"`
}

// RedisConfig defines the Redis connection for the redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// NATSConfig defines the NATS connection for the nats backend. Lookups on
// this backend are not batched; see ReroutingConfig.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// DispatchConfig defines which queues this process works and how.
type DispatchConfig struct {
	Queues       []string      `yaml:"queues"`
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RetryConfig defines retry behavior for failed jobs.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	APIKey  string `yaml:"api_key"`
	// Tokens are additional bearer tokens restricted to the listed scopes.
	Tokens []auth.TokenConfig `yaml:"tokens,omitempty"`
}

// JobTypeConf defines per-type submission and execution options.
type JobTypeConf struct {
	Queue string `yaml:"queue"`
	// Reroutable defaults to true when omitted.
	Reroutable  *bool         `yaml:"reroutable,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	Exec        string        `yaml:"exec,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
}

// WebhookConf binds POST /webhooks/{name} to a job type. Served by the API.
type WebhookConf struct {
	Name            string `yaml:"name"`
	JobType         string `yaml:"job_type"`
	Queue           string `yaml:"queue,omitempty"`
	Secret          string `yaml:"secret"`
	SignatureHeader string `yaml:"signature_header,omitempty"`
	MaxBodySize     string `yaml:"max_body_size,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "reroute",
			LogLevel:  "info",
			LogFormat: "json",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Rerouting: ReroutingConfig{
			Backend: BackendSQLite,
			Table:   "rerouting:targets",
			Redis: RedisConfig{
				Addr: "127.0.0.1:6379",
			},
			NATS: NATSConfig{
				URL: "nats://127.0.0.1:4222",
			},
		},
		Dispatch: DispatchConfig{
			Queues:       []string{"default"},
			Workers:      1,
			PollInterval: time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
			BackoffBase: 30 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
		JobTypes: make(map[string]JobTypeConf),
	}
}
