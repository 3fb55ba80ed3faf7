// Package config loads and watches the pipeline configuration file
// (rulprep.yaml).
//
// Top-level sections:
//   - loader: sensor_count (0 = infer), rul_cap
//   - sensors: variance_threshold
//   - features: short_window, long_window, baseline_cycles, epsilon, workers,
//     fresh_baselines
//   - health_index: smooth_window
//   - dataset: window, max_samples
//   - output: dir, transform_path, sqlite_path, metrics_path
//
// Load(path) reads the YAML file, applies defaults (21 sensors, RUL cap 125,
// windows 5/10, 20 baseline cycles, sequence window 30), then validates.
// The accessor methods translate a Config into the option structs of the
// pipeline packages.
//
// Watch(ctx, path, onChange) reloads the file on every write and hands the
// new Config to onChange; invalid edits are logged and ignored.
package config
