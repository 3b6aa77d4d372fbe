package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file, expanding environment
// variables first (teacher's convention: os.ExpandEnv over the raw file
// contents before unmarshalling, so `${SYNC_BASE_URL}`-style references
// resolve from the process environment).
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.ChainCount == 0 {
		cfg.ChainCount = 20
	}
	if cfg.Node.MaxConcurrency == 0 {
		cfg.Node.MaxConcurrency = 50
	}
	if cfg.Node.RateLimitPerSecond == 0 {
		cfg.Node.RateLimitPerSecond = 50
	}
	if cfg.Archive.MaxKeys == 0 {
		cfg.Archive.MaxKeys = 20
	}
	if cfg.Archive.Concurrency == 0 {
		cfg.Archive.Concurrency = 20
	}
	if cfg.GapFiller.TickInterval == 0 {
		cfg.GapFiller.TickInterval = 5 * time.Second
	}
	if cfg.GapFiller.FetchIntervalBlocks == 0 {
		cfg.GapFiller.FetchIntervalBlocks = 50
	}
	if cfg.GapFiller.RangesPerTick == 0 {
		cfg.GapFiller.RangesPerTick = 5
	}
	if cfg.Guards.Interval == 0 {
		cfg.Guards.Interval = time.Hour
	}
	if cfg.Guards.BatchSize == 0 {
		cfg.Guards.BatchSize = 1000
	}
	if cfg.Guards.Concurrency == 0 {
		cfg.Guards.Concurrency = 50
	}
}
