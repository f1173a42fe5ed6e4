package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for logwatch.
type Config struct {
	RPC     RPCConfig     `yaml:"rpc"`
	Watcher WatcherConfig `yaml:"watcher"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// RPCConfig holds RPC client configuration.
type RPCConfig struct {
	// Endpoints are JSON-RPC endpoint URLs, tried in rotation on failure.
	Endpoints []string `yaml:"endpoints"`

	// Timeout bounds a single RPC request.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retry rounds after the first attempt.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base backoff delay, scaled linearly per attempt.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// WatcherConfig holds filter manager configuration.
type WatcherConfig struct {
	// FilterTimeout is the absolute age after which a tracked filter is
	// reaped, measured from creation.
	FilterTimeout time.Duration `yaml:"filter_timeout"`

	// CleanupInterval is the cadence of the stale filter reaper.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// PollingInterval is the cadence of listener poll loops.
	PollingInterval time.Duration `yaml:"polling_interval"`

	// MaxBlockRange caps the blocks covered by one eth_getLogs request.
	MaxBlockRange uint64 `yaml:"max_block_range"`

	// LookbackBlocks is how far behind the head a listener's first poll
	// starts.
	LookbackBlocks uint64 `yaml:"lookback_blocks"`

	// ChunkDelay paces consecutive chunk requests within one fetch.
	ChunkDelay time.Duration `yaml:"chunk_delay"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds the Prometheus endpoint configuration.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in zero-valued fields.
func (c *Config) SetDefaults() {
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = 30 * time.Second
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = 3
	}
	if c.RPC.RetryDelay == 0 {
		c.RPC.RetryDelay = time.Second
	}
	if c.Watcher.FilterTimeout == 0 {
		c.Watcher.FilterTimeout = 5 * time.Minute
	}
	if c.Watcher.CleanupInterval == 0 {
		c.Watcher.CleanupInterval = time.Minute
	}
	if c.Watcher.PollingInterval == 0 {
		c.Watcher.PollingInterval = 4 * time.Second
	}
	if c.Watcher.MaxBlockRange == 0 {
		c.Watcher.MaxBlockRange = 2000
	}
	if c.Watcher.LookbackBlocks == 0 {
		c.Watcher.LookbackBlocks = 10
	}
	if c.Watcher.ChunkDelay == 0 {
		c.Watcher.ChunkDelay = 100 * time.Millisecond
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates the result. An empty path skips the file step.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies LOGWATCH_* environment variable overrides.
func (c *Config) LoadFromEnv() error {
	if endpoints := os.Getenv("LOGWATCH_RPC_ENDPOINTS"); endpoints != "" {
		c.RPC.Endpoints = splitAndTrim(endpoints)
	}
	if timeout := os.Getenv("LOGWATCH_RPC_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = d
	}
	if retries := os.Getenv("LOGWATCH_RPC_MAX_RETRIES"); retries != "" {
		n, err := strconv.Atoi(retries)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_RPC_MAX_RETRIES: %w", err)
		}
		c.RPC.MaxRetries = n
	}
	if delay := os.Getenv("LOGWATCH_RPC_RETRY_DELAY"); delay != "" {
		d, err := time.ParseDuration(delay)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_RPC_RETRY_DELAY: %w", err)
		}
		c.RPC.RetryDelay = d
	}
	if timeout := os.Getenv("LOGWATCH_FILTER_TIMEOUT"); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_FILTER_TIMEOUT: %w", err)
		}
		c.Watcher.FilterTimeout = d
	}
	if interval := os.Getenv("LOGWATCH_POLLING_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_POLLING_INTERVAL: %w", err)
		}
		c.Watcher.PollingInterval = d
	}
	if maxRange := os.Getenv("LOGWATCH_MAX_BLOCK_RANGE"); maxRange != "" {
		n, err := strconv.ParseUint(maxRange, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_MAX_BLOCK_RANGE: %w", err)
		}
		c.Watcher.MaxBlockRange = n
	}
	if level := os.Getenv("LOGWATCH_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("LOGWATCH_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}
	if enabled := os.Getenv("LOGWATCH_METRICS_ENABLED"); enabled != "" {
		b, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid LOGWATCH_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = b
	}
	if addr := os.Getenv("LOGWATCH_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	for _, e := range c.RPC.Endpoints {
		if e == "" {
			return fmt.Errorf("RPC endpoint cannot be empty")
		}
	}
	if c.RPC.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RPC.RetryDelay <= 0 {
		return fmt.Errorf("retry delay must be positive")
	}
	if c.Watcher.FilterTimeout <= 0 {
		return fmt.Errorf("filter timeout must be positive")
	}
	if c.Watcher.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}
	if c.Watcher.PollingInterval <= 0 {
		return fmt.Errorf("polling interval must be positive")
	}
	if c.Watcher.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	return nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
