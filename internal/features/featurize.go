package features

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/rulstack/rulstack/pkg/types"
)

// Default featurizer parameters.
const (
	DefaultShortWindow    = 5
	DefaultLongWindow     = 10
	DefaultBaselineCycles = 20
	DefaultEpsilon        = 1e-9
	DefaultWorkers        = 4
)

// DefaultParams returns the featurizer defaults.
func DefaultParams() types.FeatureParams {
	return types.FeatureParams{
		ShortWindow:    DefaultShortWindow,
		LongWindow:     DefaultLongWindow,
		BaselineCycles: DefaultBaselineCycles,
		Epsilon:        DefaultEpsilon,
	}
}

// Report counts the recoverable conditions met while featurizing.
type Report struct {
	// Masked is the number of values zeroed by the unit-boundary mask.
	Masked int
	// Sanitized is the number of NaN/Inf values replaced with zero.
	Sanitized int
	// DegenerateBaselines counts (unit, sensor) baselines with fewer than two
	// rows or zero deviation.
	DegenerateBaselines int
	// FreshBaselines counts units whose baseline was computed from the input
	// because the supplied baselines did not cover them.
	FreshBaselines int
}

// Options controls Apply.
type Options struct {
	// Workers bounds the number of sensors processed concurrently.
	Workers int
}

// derivedSet is the window-based columns of one sensor, in schema order.
type derivedSet struct {
	cols   []types.Column
	values [][]float64
}

// Apply derives degradation features for each sensor and returns a new table
// laid out as: input feature columns, per-sensor rolling/delta/trend columns,
// all drift columns, then label columns.
//
// baselines supplies per-unit drift baselines; units it does not cover get a
// baseline computed from their own first p.BaselineCycles cycles.
func Apply(ctx context.Context, t *types.Table, sensors []string, p types.FeatureParams,
	baselines map[int][]types.Baseline, opts Options) (*types.Table, Report, error) {
	var rep Report
	if err := validateParams(p); err != nil {
		return nil, rep, err
	}
	idx, err := t.Indices(sensors)
	if err != nil {
		return nil, rep, fmt.Errorf("features: %w", err)
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	sets := make([]derivedSet, len(sensors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, name := range sensors {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			sets[k] = windowed(name, t.Values[idx[k]], p)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rep, fmt.Errorf("features: %w", err)
	}

	out := &types.Table{
		Units:  append([]int(nil), t.Units...),
		Cycles: append([]int(nil), t.Cycles...),
	}
	var labels []int
	for c, col := range t.Columns {
		if col.Role == types.RoleLabel {
			labels = append(labels, c)
			continue
		}
		out.Columns = append(out.Columns, col)
		out.Values = append(out.Values, append([]float64(nil), t.Values[c]...))
	}
	for _, s := range sets {
		out.Columns = append(out.Columns, s.cols...)
		out.Values = append(out.Values, s.values...)
	}

	units := out.UnitRanges()
	rep.Masked = mask(out, units)

	unitBase := make([][]types.Baseline, len(units))
	for i, u := range units {
		b, ok := baselines[u.Unit]
		if !ok {
			b = unitBaseline(t, u, sensors, idx, p.BaselineCycles)
			rep.FreshBaselines++
		} else if b, err = alignBaseline(b, sensors); err != nil {
			return nil, rep, fmt.Errorf("features: unit %d: %w", u.Unit, err)
		}
		for _, sb := range b {
			if degenerate(sb) {
				rep.DegenerateBaselines++
			}
		}
		unitBase[i] = b
	}
	for k, name := range sensors {
		x := t.Values[idx[k]]
		d := make([]float64, len(x))
		for i, u := range units {
			b := unitBase[i][k]
			for r := u.Start; r < u.End; r++ {
				d[r] = drift(x[r], b, p.Epsilon)
			}
		}
		out.Columns = append(out.Columns, types.Column{Name: name + "_drift", Role: types.RoleDrift, Source: name})
		out.Values = append(out.Values, d)
	}

	for _, c := range labels {
		out.Columns = append(out.Columns, t.Columns[c])
		out.Values = append(out.Values, append([]float64(nil), t.Values[c]...))
	}

	rep.Sanitized = out.Sanitize()
	if err := VerifyMasked(out); err != nil {
		return nil, rep, err
	}

	if rep.Sanitized > 0 {
		slog.Warn("features: non-finite values replaced with zero", "count", rep.Sanitized)
	}
	if rep.DegenerateBaselines > 0 {
		slog.Warn("features: degenerate drift baselines", "count", rep.DegenerateBaselines,
			"baseline_cycles", p.BaselineCycles)
	}
	slog.Debug("features: derived", "sensors", len(sensors), "columns", len(out.Columns),
		"masked", rep.Masked, "fresh_baselines", rep.FreshBaselines)
	return out, rep, nil
}

// windowed computes the rolling, delta and trend columns of one sensor over
// the whole column.
func windowed(name string, x []float64, p types.FeatureParams) derivedSet {
	short, long := strconv.Itoa(p.ShortWindow), strconv.Itoa(p.LongWindow)
	return derivedSet{
		cols: []types.Column{
			{Name: name + "_rm" + short, Role: types.RoleRollingMean, Source: name, Window: p.ShortWindow},
			{Name: name + "_rm" + long, Role: types.RoleRollingMean, Source: name, Window: p.LongWindow},
			{Name: name + "_rs" + short, Role: types.RoleRollingStd, Source: name, Window: p.ShortWindow},
			{Name: name + "_rs" + long, Role: types.RoleRollingStd, Source: name, Window: p.LongWindow},
			{Name: name + "_delta", Role: types.RoleDelta, Source: name, Window: 2},
			{Name: name + "_trend", Role: types.RoleTrend, Source: name, Window: p.LongWindow},
		},
		values: [][]float64{
			rollingMean(x, p.ShortWindow),
			rollingMean(x, p.LongWindow),
			rollingStd(x, p.ShortWindow),
			rollingStd(x, p.LongWindow),
			delta(x),
			trend(x, p.LongWindow),
		},
	}
}

// alignBaseline orders b to match sensors.
func alignBaseline(b []types.Baseline, sensors []string) ([]types.Baseline, error) {
	byName := make(map[string]types.Baseline, len(b))
	for _, sb := range b {
		byName[sb.Sensor] = sb
	}
	out := make([]types.Baseline, len(sensors))
	for k, name := range sensors {
		sb, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("no baseline for sensor %q: %w", name, types.ErrSchema)
		}
		out[k] = sb
	}
	return out, nil
}

func validateParams(p types.FeatureParams) error {
	switch {
	case p.ShortWindow < 2:
		return fmt.Errorf("features: short window %d must be at least 2: %w", p.ShortWindow, types.ErrSchema)
	case p.LongWindow < 2:
		return fmt.Errorf("features: long window %d must be at least 2: %w", p.LongWindow, types.ErrSchema)
	case p.ShortWindow == p.LongWindow:
		return fmt.Errorf("features: short and long windows are both %d: %w", p.ShortWindow, types.ErrSchema)
	case p.BaselineCycles < 1:
		return fmt.Errorf("features: baseline cycles %d must be positive: %w", p.BaselineCycles, types.ErrSchema)
	case p.Epsilon <= 0:
		return fmt.Errorf("features: epsilon %v must be positive: %w", p.Epsilon, types.ErrSchema)
	}
	return nil
}
