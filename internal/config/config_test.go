package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rulstack/rulstack/internal/dataset"
	"github.com/rulstack/rulstack/internal/features"
	"github.com/rulstack/rulstack/internal/loader"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
loader:
  sensor_count: 14
  rul_cap: 130
sensors:
  variance_threshold: 0.001
features:
  short_window: 3
  long_window: 15
  baseline_cycles: 25
  epsilon: 0.000001
  workers: 8
  fresh_baselines: true
health_index:
  smooth_window: 7
dataset:
  window: 50
  max_samples: 10000
output:
  dir: /var/lib/rulprep
  sqlite_path: ""
`
	cfg := loadFromString(t, yaml)

	if cfg.Loader.SensorCount != 14 || cfg.Loader.RULCap != 130 {
		t.Errorf("loader: got %+v", cfg.Loader)
	}
	if cfg.Sensors.VarianceThreshold != 0.001 {
		t.Errorf("variance_threshold: got %v", cfg.Sensors.VarianceThreshold)
	}
	p := cfg.FeatureParams()
	if p.ShortWindow != 3 || p.LongWindow != 15 || p.BaselineCycles != 25 || p.Epsilon != 1e-6 {
		t.Errorf("feature params: got %+v", p)
	}
	opts := cfg.EngineOptions()
	if opts.Workers != 8 || !opts.FreshBaselines || opts.SmoothWindow != 7 {
		t.Errorf("engine options: got workers %d fresh %v smooth %d", opts.Workers, opts.FreshBaselines, opts.SmoothWindow)
	}
	if d := cfg.DatasetOptions(); d.Window != 50 || d.MaxSamples != 10000 {
		t.Errorf("dataset options: got %+v", d)
	}
	if cfg.Output.SQLitePath != "" {
		t.Errorf("sqlite_path: got %q, want disabled", cfg.Output.SQLitePath)
	}
	if got := cfg.Output.Resolve(cfg.Output.TransformPath); got != "/var/lib/rulprep/transform.json" {
		t.Errorf("transform path: got %q", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadFromString(t, "loader:\n  rul_cap: 125\n")

	if cfg.Loader.SensorCount != loader.DefaultSensorCount {
		t.Errorf("default sensor_count: got %d, want %d", cfg.Loader.SensorCount, loader.DefaultSensorCount)
	}
	if cfg.Features.ShortWindow != features.DefaultShortWindow || cfg.Features.LongWindow != features.DefaultLongWindow {
		t.Errorf("default windows: got %d/%d", cfg.Features.ShortWindow, cfg.Features.LongWindow)
	}
	if cfg.Features.BaselineCycles != features.DefaultBaselineCycles {
		t.Errorf("default baseline_cycles: got %d", cfg.Features.BaselineCycles)
	}
	if cfg.Dataset.Window != dataset.DefaultWindow {
		t.Errorf("default dataset.window: got %d, want %d", cfg.Dataset.Window, dataset.DefaultWindow)
	}
	if cfg.Output.Resolve(cfg.Output.MetricsPath) != filepath.Join(DefaultOutputDir, DefaultMetricsPath) {
		t.Errorf("default metrics path: got %q", cfg.Output.Resolve(cfg.Output.MetricsPath))
	}
	if cfg.Features.FreshBaselines {
		t.Error("default fresh_baselines: got true, want false")
	}
}

func TestDefault_MatchesEmptyFile(t *testing.T) {
	fromFile := loadFromString(t, "{}\n")
	if *fromFile != *Default() {
		t.Errorf("empty file config %+v differs from Default() %+v", *fromFile, *Default())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"negative sensor count", "loader:\n  sensor_count: -1\n", "loader.sensor_count"},
		{"zero rul cap", "loader:\n  rul_cap: 0\n", "loader.rul_cap"},
		{"negative threshold", "sensors:\n  variance_threshold: -0.5\n", "sensors.variance_threshold"},
		{"short window 1", "features:\n  short_window: 1\n", "features.short_window"},
		{"equal windows", "features:\n  short_window: 10\n", "must differ"},
		{"zero baseline", "features:\n  baseline_cycles: 0\n", "features.baseline_cycles"},
		{"zero epsilon", "features:\n  epsilon: 0\n", "features.epsilon"},
		{"zero workers", "features:\n  workers: 0\n", "features.workers"},
		{"zero smoothing", "health_index:\n  smooth_window: 0\n", "health_index.smooth_window"},
		{"zero window", "dataset:\n  window: 0\n", "dataset.window"},
		{"negative cap", "dataset:\n  max_samples: -3\n", "dataset.max_samples"},
		{"empty output dir", "output:\n  dir: \"\"\n", "output.dir"},
		{"bad yaml", "features: [unterminated\n", "parse yaml"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, tc.yaml)
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tc.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() on a missing file: expected error")
	}
}

func TestResolve(t *testing.T) {
	o := OutputConfig{Dir: "out"}
	cases := map[string]string{
		"":                "",
		"/abs/x.db":       "/abs/x.db",
		"artifacts.db":    filepath.Join("out", "artifacts.db"),
		"sub/metric.prom": filepath.Join("out", "sub", "metric.prom"),
	}
	for in, want := range cases {
		if got := o.Resolve(in); got != want {
			t.Errorf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatch_ReloadsAndSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rulprep.yaml")
	if err := os.WriteFile(path, []byte("dataset:\n  window: 20\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() { done <- Watch(ctx, path, func(c *Config) { got <- c }) }()
	defer func() {
		cancel()
		<-done
	}()
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is ignored.
	if err := os.WriteFile(path, []byte("dataset:\n  window: 0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("onChange called with invalid config %+v", c.Dataset)
	case <-time.After(600 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("dataset:\n  window: 40\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.Dataset.Window != 40 {
			t.Errorf("reloaded window = %d, want 40", c.Dataset.Window)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("onChange not called after a valid edit")
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
