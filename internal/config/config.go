// Package config loads the two configuration surfaces of the pipeline: the
// YAML runtime config (directories, worker counts, thresholds, logging) and
// the JSON client config that names the devices, parameters, and date window
// to extract and analyze.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level runtime configuration for the pipeline binaries.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Dexcell  Dexcell        `yaml:"dexcell"`
	Extract  ExtractConfig  `yaml:"extract"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  Logging        `yaml:"logging"`
}

// Storage holds the input and output directories. All components receive
// explicit paths from here; nothing is resolved relative to the binary.
type Storage struct {
	ConfigDir  string `yaml:"config_dir"`  // client config JSON files
	OutputDir  string `yaml:"output_dir"`  // extract CSVs and reports
	DataDir    string `yaml:"data_dir"`    // parquet archive root
	SQLitePath string `yaml:"sqlite_path"` // optional readings mirror, empty disables
}

// Dexcell holds endpoint configuration for the Dexcell API.
type Dexcell struct {
	BaseURL string `yaml:"base_url"`
}

// ExtractConfig controls the extraction worker pool.
type ExtractConfig struct {
	MaxWorkers      int `yaml:"max_workers"`
	RateLimitPerMin int `yaml:"rate_limit_per_min"` // 0 disables rate limiting
}

// AnalysisConfig holds the flagging thresholds for the analysis modules.
type AnalysisConfig struct {
	TrendThreshold      float64 `yaml:"trend_threshold"`
	OutOfHoursThreshold float64 `yaml:"out_of_hours_threshold"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns the configuration used when no YAML file is present.
func Default() *Config {
	return &Config{
		Storage: Storage{
			ConfigDir: "client_configs",
			OutputDir: "outputs",
			DataDir:   "data",
		},
		Dexcell: Dexcell{BaseURL: "https://api.dexcell.com"},
		Extract: ExtractConfig{MaxWorkers: 5},
		Analysis: AnalysisConfig{
			TrendThreshold:      10.0,
			OutOfHoursThreshold: 30.0,
		},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, fills unset fields with defaults, applies environment
// variable overrides, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but treats a missing file as "use the
// defaults": environment overrides still apply, so the binaries run without
// a YAML file present.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	cfg = Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks threshold ranges. Out-of-range thresholds are a fatal
// configuration error raised before any work begins.
func (c *Config) Validate() error {
	if c.Analysis.TrendThreshold < 0 || c.Analysis.TrendThreshold > 100 {
		return fmt.Errorf("trend_threshold must be between 0 and 100, got %v", c.Analysis.TrendThreshold)
	}
	if c.Analysis.OutOfHoursThreshold < 0 || c.Analysis.OutOfHoursThreshold > 100 {
		return fmt.Errorf("out_of_hours_threshold must be between 0 and 100, got %v", c.Analysis.OutOfHoursThreshold)
	}
	if c.Extract.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be at least 1, got %d", c.Extract.MaxWorkers)
	}
	return nil
}

// applyDefaults fills zero-valued fields so a partial YAML file behaves like
// Default() for whatever it omits.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Storage.ConfigDir == "" {
		cfg.Storage.ConfigDir = def.Storage.ConfigDir
	}
	if cfg.Storage.OutputDir == "" {
		cfg.Storage.OutputDir = def.Storage.OutputDir
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = def.Storage.DataDir
	}
	if cfg.Dexcell.BaseURL == "" {
		cfg.Dexcell.BaseURL = def.Dexcell.BaseURL
	}
	if cfg.Extract.MaxWorkers == 0 {
		cfg.Extract.MaxWorkers = def.Extract.MaxWorkers
	}
	if cfg.Analysis.TrendThreshold == 0 {
		cfg.Analysis.TrendThreshold = def.Analysis.TrendThreshold
	}
	if cfg.Analysis.OutOfHoursThreshold == 0 {
		cfg.Analysis.OutOfHoursThreshold = def.Analysis.OutOfHoursThreshold
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = def.Logging.Format
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ENERMON_CONFIG_DIR"); v != "" {
		cfg.Storage.ConfigDir = v
	}
	if v := os.Getenv("ENERMON_OUTPUT_DIR"); v != "" {
		cfg.Storage.OutputDir = v
	}
	if v := os.Getenv("ENERMON_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ENERMON_SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("DEXCELL_BASE_URL"); v != "" {
		cfg.Dexcell.BaseURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
