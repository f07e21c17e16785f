// Package config handles loading and validating the store's configuration.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultMaxSegmentBytes is the active segment size that triggers a rollover.
	DefaultMaxSegmentBytes int64 = 1024 * 1024
	// DefaultCompactionThreshold is the number of stale bytes that triggers compaction.
	DefaultCompactionThreshold int64 = 1024 * 1024
)

// Config holds all tunables of the storage engine and the CLI around it.
type Config struct {
	MaxSegmentBytes     int64  `toml:"max_segment_bytes"`    // Rollover threshold for the active segment
	CompactionThreshold int64  `toml:"compaction_threshold"` // Stale bytes tolerated before compaction
	SyncWrites          bool   `toml:"sync_writes"`          // fsync after every append
	LogLevel            string `toml:"log_level"`
	MetricsAddr         string `toml:"metrics_addr"`    // Optional address for the shell's metrics endpoint
	JaegerEndpoint      string `toml:"jaeger_endpoint"` // Optional collector endpoint for traces
}

// New returns a new Config with default values.
func New() *Config {
	return &Config{
		MaxSegmentBytes:     DefaultMaxSegmentBytes,
		CompactionThreshold: DefaultCompactionThreshold,
		SyncWrites:          false,
		LogLevel:            "warn",
	}
}

// Load reads a configuration file from the given path and populates the Config struct.
// Keys absent from the file keep their current values.
func (c *Config) Load(path string) error {
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	return c.Validate()
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.MaxSegmentBytes <= 0 {
		return fmt.Errorf("max_segment_bytes must be positive, got %d", c.MaxSegmentBytes)
	}
	if c.CompactionThreshold <= 0 {
		return fmt.Errorf("compaction_threshold must be positive, got %d", c.CompactionThreshold)
	}
	return nil
}
