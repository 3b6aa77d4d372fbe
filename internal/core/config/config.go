package config

import (
	"time"

	"github.com/vietddude/watcher/internal/core/domain"
	redisx "github.com/vietddude/watcher/internal/infra/redisx"
	"github.com/vietddude/watcher/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration (spec §6: SYNC_* env
// vars plus the database/object-store/node settings the core needs).
type AppConfig struct {
	Network    domain.Network  `yaml:"network"     mapstructure:"network"`
	ChainCount int             `yaml:"chain_count"  mapstructure:"chain_count"`
	MinHeight  uint64          `yaml:"min_height"   mapstructure:"min_height"`
	Node       NodeConfig      `yaml:"node"`
	Store      ObjectStoreConfig `yaml:"object_store"`
	Database   postgres.Config `yaml:"database"`
	Redis      redisx.Config   `yaml:"redis"`
	Logging    LoggingConfig   `yaml:"logging"`
	Archive    ArchiveConfig   `yaml:"archive"`
	GapFiller  GapFillerConfig `yaml:"gap_filler"`
	Guards     GuardsConfig    `yaml:"guards"`
}

// NodeConfig points at the Chainweb node HTTP/SSE endpoints (spec §6).
type NodeConfig struct {
	BaseURL            string `yaml:"base_url"             mapstructure:"base_url"`
	MaxConcurrency     int    `yaml:"max_concurrency"      mapstructure:"max_concurrency"`      // global cap, default 50 (spec §5)
	RateLimitPerSecond int    `yaml:"rate_limit_per_second" mapstructure:"rate_limit_per_second"`
}

// ObjectStoreConfig points at the archive bucket (spec §4.2, §6).
type ObjectStoreConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`   // e.g. "headers/"
	Endpoint string `yaml:"endpoint"` // non-empty for S3-compatible stores
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ArchiveConfig configures the Archive Backfiller (spec §4.2).
type ArchiveConfig struct {
	MaxKeys       int `yaml:"max_keys"        mapstructure:"max_keys"`        // default 20
	Concurrency   int `yaml:"concurrency"     mapstructure:"concurrency"`     // per-page semaphore, default 20
	MaxIterations int `yaml:"max_iterations"  mapstructure:"max_iterations"`  // 0 = unbounded
}

// GapFillerConfig configures the Gap Filler (spec §4.4).
type GapFillerConfig struct {
	TickInterval        time.Duration `yaml:"tick_interval"          mapstructure:"tick_interval"` // SLEEP_INTERVAL_MS
	FetchIntervalBlocks  uint64        `yaml:"fetch_interval_blocks"  mapstructure:"fetch_interval_blocks"`
	RangesPerTick        int           `yaml:"ranges_per_tick"        mapstructure:"ranges_per_tick"`
}

// GuardsConfig configures the Guards Reconciler (spec §4.6).
type GuardsConfig struct {
	Interval    time.Duration `yaml:"interval"`     // default 1h, spec §4.3
	BatchSize   int           `yaml:"batch_size"`   // default 1000
	Concurrency int           `yaml:"concurrency"`  // default 50
}
