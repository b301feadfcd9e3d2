package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtrade platform.
type Config struct {
	Storage    Storage          `yaml:"storage"`
	Server     Server           `yaml:"server"`
	Logging    Logging          `yaml:"logging"`
	Simulation SimulationConfig `yaml:"simulation"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SimulationConfig holds defaults applied to new simulations.
type SimulationConfig struct {
	// SnapshotInterval is the market time between chain snapshots; it is
	// also the replay delay at playback speed 1.
	SnapshotInterval      string  `yaml:"snapshot_interval"`
	DefaultPlaybackSpeed  float64 `yaml:"default_playback_speed"`
	DefaultInitialCapital float64 `yaml:"default_initial_capital"`
}

// Interval parses SnapshotInterval, falling back to one minute when unset.
func (s SimulationConfig) Interval() (time.Duration, error) {
	if s.SnapshotInterval == "" {
		return time.Minute, nil
	}
	d, err := time.ParseDuration(s.SnapshotInterval)
	if err != nil {
		return 0, fmt.Errorf("parsing snapshot_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("snapshot_interval must be positive, got %s", d)
	}
	return d, nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Default returns the configuration used when no file and no environment
// overrides are present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/backtrade.db",
		},
		Server: Server{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Simulation: SimulationConfig{
			SnapshotInterval:      "60s",
			DefaultPlaybackSpeed:  1,
			DefaultInitialCapital: 100_000,
		},
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
