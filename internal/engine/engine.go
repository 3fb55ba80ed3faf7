package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"gonum.org/v1/gonum/floats"

	"github.com/rulstack/rulstack/internal/features"
	"github.com/rulstack/rulstack/internal/healthindex"
	"github.com/rulstack/rulstack/internal/normalize"
	"github.com/rulstack/rulstack/internal/sensors"
	"github.com/rulstack/rulstack/pkg/types"
)

// Options configures a pipeline run.
type Options struct {
	// VarianceThreshold is the minimum sample variance a sensor needs to be
	// kept. Fit only.
	VarianceThreshold float64

	// Features configures the degradation featurizer. Fit only; Apply uses
	// the parameters stored in the transform.
	Features types.FeatureParams

	// SmoothWindow is the health-index smoothing window. Fit only.
	SmoothWindow int

	// Workers bounds the featurizer fan-out.
	Workers int

	// FreshBaselines makes Apply compute drift baselines from the input
	// instead of reusing the stored per-unit baselines.
	FreshBaselines bool

	// Now returns the wall clock used to stamp transforms. Defaults to
	// time.Now.
	Now func() time.Time
}

// DefaultOptions returns the standard pipeline settings.
func DefaultOptions() Options {
	return Options{
		VarianceThreshold: sensors.DefaultVarianceThreshold,
		Features:          features.DefaultParams(),
		SmoothWindow:      healthindex.DefaultSmoothWindow,
		Workers:           features.DefaultWorkers,
		Now:               time.Now,
	}
}

// Report summarizes one run.
type Report struct {
	Mode     string
	Rows     int
	Units    int
	Columns  int
	Kept     []string
	Dropped  []string
	Features features.Report
	Elapsed  time.Duration
}

// Result is the output of Fit or Apply.
type Result struct {
	Table     *types.Table
	Transform *types.FittedTransform
	Report    Report
}

// Fit learns a FittedTransform from the reference table raw and returns it
// together with the fully featurized reference table. Every global parameter
// (sensor variance, scaler, projection, min-max bounds, polarity) is computed
// in a single pass over the whole table.
func Fit(ctx context.Context, raw *types.Table, opts Options) (*Result, error) {
	now := opts.clock()
	start := now()
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	kept, dropped, err := sensors.Fit(raw, opts.VarianceThreshold)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	filtered, err := sensors.Apply(raw, kept)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	scaler, err := normalize.Fit(filtered, filtered.Names(types.RoleSetting, types.RoleSensor))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	normed, err := normalize.Apply(filtered, scaler)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	baselines, err := features.FitBaselines(normed, kept, opts.Features)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	feat, frep, err := features.Apply(ctx, normed, kept, opts.Features, baselines, features.Options{Workers: opts.Workers})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	hp, err := healthindex.Fit(feat, opts.SmoothWindow)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	out, err := healthindex.Apply(feat, hp)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	labels, err := out.Column(types.ColumnRUL)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	var maxRUL float64
	if len(labels) > 0 {
		maxRUL = floats.Max(labels)
	}

	tr := &types.FittedTransform{
		Version:     types.TransformVersion,
		RunID:       ulid.MustNew(ulid.Timestamp(start), ulid.DefaultEntropy()).String(),
		CreatedAt:   start.UTC(),
		SensorCount: len(raw.Names(types.RoleSensor)),
		KeptSensors: kept,
		Scaler:      scaler,
		Features:    opts.Features,
		Baselines:   baselines,
		Health:      hp,
		MaxRUL:      maxRUL,
		Schema:      out.Schema(),
	}

	rep := report("fit", out, kept, dropped, frep, now().Sub(start))
	slog.Info("engine: fit complete",
		"run_id", tr.RunID,
		"rows", rep.Rows,
		"units", rep.Units,
		"columns", rep.Columns,
		"dropped", dropped,
		"elapsed", rep.Elapsed,
	)
	return &Result{Table: out, Transform: tr, Report: rep}, nil
}

// Apply featurizes raw using only the parameters in tr. The output schema must
// match tr.Schema exactly; any difference is an ErrSchema error.
func Apply(ctx context.Context, tr *types.FittedTransform, raw *types.Table, opts Options) (*Result, error) {
	now := opts.clock()
	start := now()
	if tr.Version != types.TransformVersion {
		return nil, fmt.Errorf("engine: transform version %d, want %d: %w", tr.Version, types.TransformVersion, types.ErrSchema)
	}
	if err := raw.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if n := len(raw.Names(types.RoleSensor)); n != tr.SensorCount {
		return nil, fmt.Errorf("engine: input has %d sensors, transform expects %d: %w", n, tr.SensorCount, types.ErrSchema)
	}

	filtered, err := sensors.Apply(raw, tr.KeptSensors)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	normed, err := normalize.Apply(filtered, tr.Scaler)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	baselines := tr.Baselines
	if opts.FreshBaselines {
		baselines = nil
	}
	feat, frep, err := features.Apply(ctx, normed, tr.KeptSensors, tr.Features, baselines, features.Options{Workers: opts.Workers})
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	out, err := healthindex.Apply(feat, tr.Health)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	if got := out.Schema(); !slices.Equal(got, tr.Schema) {
		return nil, fmt.Errorf("engine: output schema %v differs from fitted schema %v: %w", got, tr.Schema, types.ErrSchema)
	}

	rep := report("apply", out, tr.KeptSensors, nil, frep, now().Sub(start))
	slog.Info("engine: apply complete",
		"run_id", tr.RunID,
		"rows", rep.Rows,
		"units", rep.Units,
		"fresh_baselines", frep.FreshBaselines,
		"elapsed", rep.Elapsed,
	)
	return &Result{Table: out, Transform: tr, Report: rep}, nil
}

func (o Options) clock() func() time.Time {
	if o.Now != nil {
		return o.Now
	}
	return time.Now
}

func report(mode string, t *types.Table, kept, dropped []string, frep features.Report, elapsed time.Duration) Report {
	return Report{
		Mode:     mode,
		Rows:     t.Len(),
		Units:    len(t.UnitRanges()),
		Columns:  len(t.Columns),
		Kept:     kept,
		Dropped:  dropped,
		Features: frep,
		Elapsed:  elapsed,
	}
}
