// Package config loads the moisson configuration from a YAML file.
// Every component section has its own defaults; an empty file is a valid
// configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/moisson/fetchtier"
	"github.com/hazyhaar/moisson/health"
	"github.com/hazyhaar/moisson/netpool"
	"github.com/hazyhaar/moisson/orchestrate"
	"github.com/hazyhaar/moisson/pace"
)

// FetchConfig configures the tiered fetch chain.
type FetchConfig struct {
	// MinContentLength is the acceptance threshold for visible text.
	MinContentLength int `yaml:"min_content_length"`
	// UserAgent for the direct tier.
	UserAgent string `yaml:"user_agent"`
	// TierWorkers are the per-tier concurrency ceilings in escalation
	// order (direct, headless, stealth, unlock...). Defaults: 16,8,3,2,1.
	TierWorkers []int `yaml:"tier_workers"`

	Browser fetchtier.BrowserConfig  `yaml:"browser"`
	Unlock  []fetchtier.UnlockConfig `yaml:"unlock"`
}

// CheckpointConfig configures job persistence.
type CheckpointConfig struct {
	// Dir is where checkpoint files live. Default: "checkpoints".
	Dir string `yaml:"dir"`
}

// SinkConfig configures result delivery.
type SinkConfig struct {
	// SQLitePath enables the SQLite sink when non-empty.
	SQLitePath string `yaml:"sqlite_path"`
	// Stdout enables the JSONL stdout sink.
	Stdout bool `yaml:"stdout"`
	// QueueCapacity bounds the async dispatch queue. Default: 64.
	QueueCapacity int `yaml:"queue_capacity"`
}

// AdminConfig configures the status endpoint.
type AdminConfig struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Config is the top-level configuration.
type Config struct {
	Pace        pace.Config          `yaml:"pace"`
	Pool        netpool.Config       `yaml:"pool"`
	Breaker     health.BreakerConfig `yaml:"breaker"`
	Orchestrate orchestrate.Config   `yaml:"orchestrate"`
	Fetch       FetchConfig          `yaml:"fetch"`
	Checkpoint  CheckpointConfig     `yaml:"checkpoint"`
	Sink        SinkConfig           `yaml:"sink"`
	Admin       AdminConfig          `yaml:"admin"`
}

func (c *Config) defaults() {
	if len(c.Fetch.TierWorkers) == 0 {
		c.Fetch.TierWorkers = []int{16, 8, 3, 2, 1}
	}
	if c.Fetch.Browser.NavTimeout <= 0 {
		c.Fetch.Browser.NavTimeout = 30 * time.Second
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = "checkpoints"
	}
	if c.Sink.QueueCapacity <= 0 {
		c.Sink.QueueCapacity = 64
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	c := &Config{}
	c.defaults()
	return c
}

// LoadFile reads a YAML configuration file and applies defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.defaults()
	return &c, nil
}
