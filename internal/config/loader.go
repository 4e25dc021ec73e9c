package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/reroute/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file, or from config.yaml inside a directory.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath

	// Relative state paths are anchored to the config file's directory.
	if !filepath.IsAbs(cfg.State.Path) {
		cfg.State.Path = filepath.Join(filepath.Dir(absPath), cfg.State.Path)
	}
	return cfg, nil
}

// Parse interpolates ${ENV} references, decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Discover finds the config file by checking standard locations.
// Priority order: $REROUTE_CONFIG, ~/.config/reroute/config.yaml, /etc/reroute/config.yaml, ./config.yaml
func Discover() (string, error) {
	if p := os.Getenv("REROUTE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	candidates := make([]string, 0, 3)
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "reroute", "config.yaml"))
	}
	candidates = append(candidates, "/etc/reroute/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $REROUTE_CONFIG, ~/.config/reroute, /etc/reroute, ./config.yaml)")
}

func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.State.Path == "" {
		cfg.State.Path = defaults.State.Path
	}

	if cfg.Rerouting.Backend == "" {
		cfg.Rerouting.Backend = defaults.Rerouting.Backend
	}
	if cfg.Rerouting.Table == "" {
		cfg.Rerouting.Table = defaults.Rerouting.Table
	}
	if cfg.Rerouting.Redis.Addr == "" {
		cfg.Rerouting.Redis.Addr = defaults.Rerouting.Redis.Addr
	}
	if cfg.Rerouting.NATS.URL == "" {
		cfg.Rerouting.NATS.URL = defaults.Rerouting.NATS.URL
	}

	if len(cfg.Dispatch.Queues) == 0 {
		cfg.Dispatch.Queues = defaults.Dispatch.Queues
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = defaults.Dispatch.Workers
	}
	if cfg.Dispatch.PollInterval == 0 {
		cfg.Dispatch.PollInterval = defaults.Dispatch.PollInterval
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = defaults.Retry.MaxAttempts
	}
	if cfg.Retry.BackoffBase == 0 {
		cfg.Retry.BackoffBase = defaults.Retry.BackoffBase
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.JobTypes == nil {
		cfg.JobTypes = make(map[string]JobTypeConf)
	}
	for name, jt := range cfg.JobTypes {
		if jt.Queue == "" {
			jt.Queue = cfg.Dispatch.Queues[0]
		}
		if jt.MaxAttempts == 0 {
			jt.MaxAttempts = cfg.Retry.MaxAttempts
		}
		cfg.JobTypes[name] = jt
	}
}

// interpolateEnv replaces ${VAR} with its environment value, leaving unknown
// variables in place so validation can report them.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

func unresolvedEnv(field, value string) error {
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return nil
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	switch cfg.Rerouting.Backend {
	case BackendSQLite, BackendRedis, BackendNATS:
	default:
		return fmt.Errorf("rerouting.backend must be one of: sqlite, redis, nats (got %q)", cfg.Rerouting.Backend)
	}
	if err := unresolvedEnv("rerouting.redis.password", cfg.Rerouting.Redis.Password); err != nil {
		return err
	}

	if cfg.Dispatch.Workers < 0 {
		return fmt.Errorf("dispatch.workers must not be negative")
	}
	if cfg.Dispatch.PollInterval < 0 {
		return fmt.Errorf("dispatch.poll_interval must not be negative")
	}
	for i, q := range cfg.Dispatch.Queues {
		if q == "" {
			return fmt.Errorf("dispatch.queues[%d] is empty", i)
		}
		if slices.Index(cfg.Dispatch.Queues, q) != i {
			return fmt.Errorf("dispatch.queues: duplicate queue %q", q)
		}
	}

	if cfg.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}

	if cfg.API.Enabled {
		if err := unresolvedEnv("api.api_key", cfg.API.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Tokens {
			field := fmt.Sprintf("api.tokens[%d]", i)
			if tok.Token == "" {
				return fmt.Errorf("%s: token is empty", field)
			}
			if err := unresolvedEnv(field, tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("%s: at least one scope is required", field)
			}
			for _, scope := range tok.Scopes {
				if !auth.KnownScope(scope) {
					return fmt.Errorf("%s: unknown scope %q", field, scope)
				}
			}
		}
	}

	seen := make(map[string]bool, len(cfg.Webhooks))
	for i, wh := range cfg.Webhooks {
		field := fmt.Sprintf("webhooks[%d]", i)
		if wh.Name == "" {
			return fmt.Errorf("%s: name is empty", field)
		}
		if seen[wh.Name] {
			return fmt.Errorf("%s: duplicate webhook %q", field, wh.Name)
		}
		seen[wh.Name] = true
		if wh.JobType == "" {
			return fmt.Errorf("%s: job_type is empty", field)
		}
		if wh.Secret == "" {
			return fmt.Errorf("%s: secret is empty", field)
		}
		if err := unresolvedEnv(field+".secret", wh.Secret); err != nil {
			return err
		}
	}

	for name, jt := range cfg.JobTypes {
		if name == "" {
			return fmt.Errorf("job_types: empty type name")
		}
		if jt.MaxAttempts < 0 {
			return fmt.Errorf("job type %q: max_attempts must not be negative", name)
		}
		if jt.Timeout < 0 {
			return fmt.Errorf("job type %q: timeout must not be negative", name)
		}
	}
	return nil
}
