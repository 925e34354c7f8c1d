// Package config loads the loopstats runtime configuration from JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/loopstats/internal/stats"
)

// Config is the root configuration. Every field is optional; the Get*
// methods supply defaults for fields the file omits, so partial configs
// are safe.
type Config struct {
	// Capture
	ExtendedMode *bool `json:"extended_mode,omitempty"`

	// Synthetic producer
	CycleInterval *string `json:"cycle_interval,omitempty"` // duration string like "100ms"
	Cycles        *int    `json:"cycles,omitempty"`         // 0 runs until interrupted
	Seed          *int64  `json:"seed,omitempty"`

	// Consumers
	DBPath     *string `json:"db_path,omitempty"`
	ListenAddr *string `json:"listen_addr,omitempty"`
	StreamAddr *string `json:"stream_addr,omitempty"` // gRPC snapshot stream, empty disables
	PlotDir    *string `json:"plot_dir,omitempty"`
	LogEvery   *int    `json:"log_every,omitempty"`
	Verbose    *bool   `json:"verbose,omitempty"`

	// ExtraMetrics are registered in the catalog after the built-in
	// declarations. Keys must have the Group/Name/Unit form.
	ExtraMetrics []stats.Declaration `json:"extra_metrics,omitempty"`
}

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrInt64(v int64) *int64    { return &v }

// Empty returns a Config with all fields unset.
func Empty() *Config {
	return &Config{}
}

// Defaults returns a Config with every field set to its default value.
func Defaults() *Config {
	return &Config{
		ExtendedMode:  ptrBool(false),
		CycleInterval: ptrString("100ms"),
		Cycles:        ptrInt(0),
		Seed:          ptrInt64(1),
		DBPath:        ptrString("loopstats.db"),
		ListenAddr:    ptrString(":8082"),
		StreamAddr:    ptrString(""),
		PlotDir:       ptrString(""),
		LogEvery:      ptrInt(10),
		Verbose:       ptrBool(false),
	}
}

// Load reads a Config from a JSON file.
// The file must have a .json extension and be under 1MB.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.CycleInterval != nil && *c.CycleInterval != "" {
		d, err := time.ParseDuration(*c.CycleInterval)
		if err != nil {
			return fmt.Errorf("invalid cycle_interval '%s': %w", *c.CycleInterval, err)
		}
		if d < 0 {
			return fmt.Errorf("cycle_interval must be non-negative, got %s", d)
		}
	}

	if c.Cycles != nil && *c.Cycles < 0 {
		return fmt.Errorf("cycles must be non-negative, got %d", *c.Cycles)
	}

	if c.LogEvery != nil && *c.LogEvery < 0 {
		return fmt.Errorf("log_every must be non-negative, got %d", *c.LogEvery)
	}

	seen := make(map[stats.MetricKey]bool, len(c.ExtraMetrics))
	for i, d := range c.ExtraMetrics {
		if !d.Key.WellFormed() {
			return fmt.Errorf("extra_metrics[%d]: key %q is not Group/Name/Unit", i, d.Key)
		}
		if seen[d.Key] {
			return fmt.Errorf("extra_metrics[%d]: duplicate key %q", i, d.Key)
		}
		seen[d.Key] = true
	}

	return nil
}

// GetExtendedMode returns the extended_mode value or the default.
func (c *Config) GetExtendedMode() bool {
	if c.ExtendedMode == nil {
		return false
	}
	return *c.ExtendedMode
}

// GetCycleInterval parses and returns the CycleInterval as a time.Duration.
func (c *Config) GetCycleInterval() time.Duration {
	if c.CycleInterval == nil || *c.CycleInterval == "" {
		return 100 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.CycleInterval)
	if err != nil {
		return 100 * time.Millisecond // default on parse error
	}
	return d
}

// GetCycles returns the cycles value or the default.
func (c *Config) GetCycles() int {
	if c.Cycles == nil {
		return 0
	}
	return *c.Cycles
}

// GetSeed returns the seed value or the default.
func (c *Config) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetDBPath returns the db_path value or the default. An explicit empty
// string disables persistence.
func (c *Config) GetDBPath() string {
	if c.DBPath == nil {
		return "loopstats.db"
	}
	return *c.DBPath
}

// GetListenAddr returns the listen_addr value or the default.
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8082"
	}
	return *c.ListenAddr
}

// GetStreamAddr returns the stream_addr value; empty disables the gRPC
// snapshot stream.
func (c *Config) GetStreamAddr() string {
	if c.StreamAddr == nil {
		return ""
	}
	return *c.StreamAddr
}

// GetPlotDir returns the plot_dir value; empty disables PNG plots.
func (c *Config) GetPlotDir() string {
	if c.PlotDir == nil {
		return ""
	}
	return *c.PlotDir
}

// GetLogEvery returns the log_every value or the default. Zero disables
// the log consumer.
func (c *Config) GetLogEvery() int {
	if c.LogEvery == nil {
		return 10
	}
	return *c.LogEvery
}

// GetVerbose returns the verbose value or the default.
func (c *Config) GetVerbose() bool {
	if c.Verbose == nil {
		return false
	}
	return *c.Verbose
}
