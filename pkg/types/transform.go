package types

import "time"

// TransformVersion is bumped whenever the FittedTransform layout changes.
const TransformVersion = 1

// FittedTransform holds every learned parameter of one training build.
// It is produced once by a fit and must not be mutated afterwards; any number
// of apply calls may read it concurrently.
type FittedTransform struct {
	Version   int       `json:"version"`
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	// SensorCount is the number of raw sensor channels the input must carry.
	SensorCount int `json:"sensor_count"`

	// KeptSensors are the sensor channels that survived the variance filter,
	// in input order.
	KeptSensors []string `json:"kept_sensors"`

	// Scaler standardizes settings and kept sensors.
	Scaler ScalerParams `json:"scaler"`

	// Features holds the featurizer window sizes and baseline policy.
	Features FeatureParams `json:"features"`

	// Baselines are the per-unit early-life sensor statistics of the
	// reference data, keyed by unit id.
	Baselines map[int][]Baseline `json:"baselines"`

	// Health is the health-index projection.
	Health HealthParams `json:"health"`

	// MaxRUL is the largest label of the reference data, used to express a
	// RUL as a health percentage.
	MaxRUL float64 `json:"max_rul"`

	// Schema is the ordered column list every build from this transform
	// must reproduce exactly.
	Schema []string `json:"schema"`
}

// ScalerParams are per-column location/scale parameters.
type ScalerParams struct {
	Columns []string  `json:"columns"`
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
}

// FeatureParams configures the degradation featurizer.
type FeatureParams struct {
	ShortWindow    int     `json:"short_window"`
	LongWindow     int     `json:"long_window"`
	BaselineCycles int     `json:"baseline_cycles"`
	Epsilon        float64 `json:"epsilon"`
}

// Baseline is one sensor's early-life statistics for one unit. Count is the
// number of baseline rows; with fewer than two rows the drift is zero.
type Baseline struct {
	Sensor string  `json:"sensor"`
	Mean   float64 `json:"mean"`
	Std    float64 `json:"std"`
	Count  int     `json:"count"`
}

// HealthParams is the fitted single-component projection plus the scaling
// and polarity that turn it into a health index.
type HealthParams struct {
	Columns      []string  `json:"columns"`
	Mean         []float64 `json:"mean"`
	Component    []float64 `json:"component"`
	SmoothWindow int       `json:"smooth_window"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`

	// Inverted is true when the scaled score rose with cycle on the
	// reference data and is therefore flipped (1 - score).
	Inverted bool `json:"inverted"`
}
