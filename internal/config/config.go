package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/rulstack/rulstack/internal/dataset"
	"github.com/rulstack/rulstack/internal/engine"
	"github.com/rulstack/rulstack/internal/features"
	"github.com/rulstack/rulstack/internal/healthindex"
	"github.com/rulstack/rulstack/internal/loader"
	"github.com/rulstack/rulstack/internal/sensors"
	"github.com/rulstack/rulstack/pkg/types"
)

// Default output locations, relative to output.dir.
const (
	DefaultOutputDir     = "out"
	DefaultTransformPath = "transform.json"
	DefaultSQLitePath    = "artifacts.db"
	DefaultMetricsPath   = "rulprep.prom"
)

// Config is the top-level pipeline configuration.
// Fields map 1:1 to rulprep.example.yaml.
type Config struct {
	Loader      LoaderConfig      `yaml:"loader"`
	Sensors     SensorsConfig     `yaml:"sensors"`
	Features    FeaturesConfig    `yaml:"features"`
	HealthIndex HealthIndexConfig `yaml:"health_index"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	Output      OutputConfig      `yaml:"output"`
}

// LoaderConfig controls input parsing and labelling.
type LoaderConfig struct {
	// SensorCount is the number of sensor channels per row; 0 infers it
	// from the first row.
	SensorCount int `yaml:"sensor_count"`

	// RULCap is the upper bound applied to the RUL label.
	RULCap float64 `yaml:"rul_cap"`
}

// SensorsConfig controls the variance filter.
type SensorsConfig struct {
	VarianceThreshold float64 `yaml:"variance_threshold"`
}

// FeaturesConfig controls the degradation featurizer.
type FeaturesConfig struct {
	ShortWindow    int     `yaml:"short_window"`
	LongWindow     int     `yaml:"long_window"`
	BaselineCycles int     `yaml:"baseline_cycles"`
	Epsilon        float64 `yaml:"epsilon"`
	Workers        int     `yaml:"workers"`

	// FreshBaselines makes apply runs compute drift baselines from the
	// input rather than reuse those of matching reference units.
	FreshBaselines bool `yaml:"fresh_baselines"`
}

// HealthIndexConfig controls the health-index estimator.
type HealthIndexConfig struct {
	SmoothWindow int `yaml:"smooth_window"`
}

// DatasetConfig controls sample generation.
type DatasetConfig struct {
	Window int `yaml:"window"`

	// MaxSamples caps the number of sequence samples; 0 means unlimited.
	MaxSamples int `yaml:"max_samples"`
}

// OutputConfig names the artifact locations. Relative paths are resolved
// against Dir; an empty SQLitePath or MetricsPath disables that output.
type OutputConfig struct {
	Dir           string `yaml:"dir"`
	TransformPath string `yaml:"transform_path"`
	SQLitePath    string `yaml:"sqlite_path"`
	MetricsPath   string `yaml:"metrics_path"`
}

// Resolve returns p relative to Dir. Empty and absolute paths are returned
// unchanged.
func (o OutputConfig) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(o.Dir, p)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return defaults()
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Loader: LoaderConfig{
			SensorCount: loader.DefaultSensorCount,
			RULCap:      loader.DefaultRULCap,
		},
		Sensors: SensorsConfig{
			VarianceThreshold: sensors.DefaultVarianceThreshold,
		},
		Features: FeaturesConfig{
			ShortWindow:    features.DefaultShortWindow,
			LongWindow:     features.DefaultLongWindow,
			BaselineCycles: features.DefaultBaselineCycles,
			Epsilon:        features.DefaultEpsilon,
			Workers:        features.DefaultWorkers,
		},
		HealthIndex: HealthIndexConfig{
			SmoothWindow: healthindex.DefaultSmoothWindow,
		},
		Dataset: DatasetConfig{
			Window: dataset.DefaultWindow,
		},
		Output: OutputConfig{
			Dir:           DefaultOutputDir,
			TransformPath: DefaultTransformPath,
			SQLitePath:    DefaultSQLitePath,
			MetricsPath:   DefaultMetricsPath,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	f := cfg.Features
	switch {
	case cfg.Loader.SensorCount < 0:
		return fmt.Errorf("loader.sensor_count must not be negative")
	case cfg.Loader.RULCap <= 0:
		return fmt.Errorf("loader.rul_cap must be positive")
	case cfg.Sensors.VarianceThreshold < 0:
		return fmt.Errorf("sensors.variance_threshold must not be negative")
	case f.ShortWindow < 2:
		return fmt.Errorf("features.short_window must be at least 2")
	case f.LongWindow < 2:
		return fmt.Errorf("features.long_window must be at least 2")
	case f.ShortWindow == f.LongWindow:
		return fmt.Errorf("features.short_window and features.long_window must differ")
	case f.BaselineCycles < 1:
		return fmt.Errorf("features.baseline_cycles must be positive")
	case f.Epsilon <= 0:
		return fmt.Errorf("features.epsilon must be positive")
	case f.Workers < 1:
		return fmt.Errorf("features.workers must be positive")
	case cfg.HealthIndex.SmoothWindow < 1:
		return fmt.Errorf("health_index.smooth_window must be positive")
	case cfg.Dataset.Window < 1:
		return fmt.Errorf("dataset.window must be positive")
	case cfg.Dataset.MaxSamples < 0:
		return fmt.Errorf("dataset.max_samples must not be negative")
	case cfg.Output.Dir == "":
		return fmt.Errorf("output.dir is required")
	case cfg.Output.TransformPath == "":
		return fmt.Errorf("output.transform_path is required")
	}
	return nil
}

// LoaderOptions returns the loader settings.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{SensorCount: c.Loader.SensorCount, RULCap: c.Loader.RULCap}
}

// FeatureParams returns the featurizer parameters.
func (c *Config) FeatureParams() types.FeatureParams {
	return types.FeatureParams{
		ShortWindow:    c.Features.ShortWindow,
		LongWindow:     c.Features.LongWindow,
		BaselineCycles: c.Features.BaselineCycles,
		Epsilon:        c.Features.Epsilon,
	}
}

// EngineOptions returns the pipeline run settings.
func (c *Config) EngineOptions() engine.Options {
	opts := engine.DefaultOptions()
	opts.VarianceThreshold = c.Sensors.VarianceThreshold
	opts.Features = c.FeatureParams()
	opts.SmoothWindow = c.HealthIndex.SmoothWindow
	opts.Workers = c.Features.Workers
	opts.FreshBaselines = c.Features.FreshBaselines
	return opts
}

// DatasetOptions returns the sample generation settings.
func (c *Config) DatasetOptions() dataset.Options {
	return dataset.Options{
		Window:     c.Dataset.Window,
		MaxSamples: c.Dataset.MaxSamples,
		Workers:    c.Features.Workers,
	}
}
