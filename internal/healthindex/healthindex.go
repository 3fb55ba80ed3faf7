package healthindex

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rulstack/rulstack/pkg/types"
)

// DefaultSmoothWindow is the per-unit rolling-mean window applied to the raw
// projection.
const DefaultSmoothWindow = 5

// selectedRoles are the column kinds the projection is fitted on.
var selectedRoles = []types.Role{types.RoleSensor, types.RoleRollingMean, types.RoleTrend}

// Select returns the columns the health index is built from: raw sensors,
// rolling means and trends, in table order. Settings, deltas, rolling stds
// and drifts are never selected.
func Select(t *types.Table) []string {
	return t.Names(selectedRoles...)
}

// Fit learns the single-component projection of the selected columns, the
// min-max bounds of the smoothed projection and its polarity.
func Fit(t *types.Table, smoothWindow int) (types.HealthParams, error) {
	var p types.HealthParams
	if smoothWindow < 1 {
		return p, fmt.Errorf("healthindex: smooth window %d must be positive: %w", smoothWindow, types.ErrSchema)
	}
	cols := Select(t)
	if len(cols) == 0 {
		return p, fmt.Errorf("healthindex: no sensor, rolling-mean or trend columns to fit on: %w", types.ErrSchema)
	}
	if t.Len() < 2 {
		return p, fmt.Errorf("healthindex: need at least 2 rows to fit, have %d: %w", t.Len(), types.ErrSchema)
	}
	idx, err := t.Indices(cols)
	if err != nil {
		return p, fmt.Errorf("healthindex: fit: %w", err)
	}

	x := design(t, idx)
	mean := make([]float64, len(idx))
	for k := range idx {
		mean[k] = stat.Mean(mat.Col(nil, k, x), nil)
	}
	component, err := principalComponent(x)
	if err != nil {
		return p, err
	}

	p = types.HealthParams{
		Columns:      cols,
		Mean:         mean,
		Component:    component,
		SmoothWindow: smoothWindow,
	}
	smoothed := smooth(project(t, idx, p), t.UnitRanges(), smoothWindow)
	p.Min, p.Max = floats.Min(smoothed), floats.Max(smoothed)

	scaled := make([]float64, len(smoothed))
	for i, v := range smoothed {
		scaled[i] = scale(v, p.Min, p.Max)
	}
	p.Inverted = Polarity(scaled, t.Cycles)

	slog.Info("healthindex: fitted",
		"columns", len(cols),
		"min", p.Min,
		"max", p.Max,
		"inverted", p.Inverted,
	)
	return p, nil
}

// Apply returns a copy of t with a health_index column appended, computed with
// the fitted parameters only. Values outside the fitted range are clamped to
// [0, 1].
func Apply(t *types.Table, p types.HealthParams) (*types.Table, error) {
	if len(p.Mean) != len(p.Columns) || len(p.Component) != len(p.Columns) {
		return nil, fmt.Errorf("healthindex: params have %d columns, %d means, %d loadings: %w",
			len(p.Columns), len(p.Mean), len(p.Component), types.ErrSchema)
	}
	if p.SmoothWindow < 1 {
		return nil, fmt.Errorf("healthindex: smooth window %d must be positive: %w", p.SmoothWindow, types.ErrSchema)
	}
	idx, err := t.Indices(p.Columns)
	if err != nil {
		return nil, fmt.Errorf("healthindex: apply: %w", err)
	}

	smoothed := smooth(project(t, idx, p), t.UnitRanges(), p.SmoothWindow)
	hi := make([]float64, len(smoothed))
	clamped := 0
	for i, v := range smoothed {
		s := scale(v, p.Min, p.Max)
		if p.Inverted {
			s = 1 - s
		}
		if c := clamp01(s); c != s {
			clamped++
			s = c
		}
		hi[i] = s
	}
	if clamped > 0 {
		slog.Debug("healthindex: values outside the fitted range clamped", "count", clamped)
	}

	out := t.Clone()
	if err := out.Add(types.Column{Name: types.ColumnHealthIndex, Role: types.RoleHealthIndex}, hi); err != nil {
		return nil, fmt.Errorf("healthindex: %w", err)
	}
	return out, nil
}

// Polarity reports whether scores rise with cycle (positive correlation), in
// which case the index must be inverted so that 1 means healthy. A constant
// series has no direction and is not inverted.
func Polarity(scores []float64, cycles []int) bool {
	if len(scores) < 2 || len(scores) != len(cycles) {
		return false
	}
	c := make([]float64, len(cycles))
	for i, v := range cycles {
		c[i] = float64(v)
	}
	r := stat.Correlation(scores, c, nil)
	return !math.IsNaN(r) && r > 0
}

// design gathers the selected columns into a rows x len(idx) matrix.
func design(t *types.Table, idx []int) *mat.Dense {
	x := mat.NewDense(t.Len(), len(idx), nil)
	for k, c := range idx {
		x.SetCol(k, t.Values[c])
	}
	return x
}

// principalComponent returns the unit eigenvector of the covariance of x with
// the largest eigenvalue. The sign is fixed so that the loading with the
// largest magnitude is positive.
func principalComponent(x *mat.Dense) ([]float64, error) {
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, x, nil)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return nil, fmt.Errorf("healthindex: covariance eigendecomposition did not converge: %w", types.ErrSchema)
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	_, n := vecs.Dims()

	// Eigenvalues come back in ascending order.
	component := mat.Col(nil, n-1, &vecs)
	lead := 0
	for k, v := range component {
		if math.Abs(v) > math.Abs(component[lead]) {
			lead = k
		}
	}
	if component[lead] < 0 {
		floats.Scale(-1, component)
	}
	return component, nil
}

// project returns (row - mean) . component for every row.
func project(t *types.Table, idx []int, p types.HealthParams) []float64 {
	out := make([]float64, t.Len())
	for k, c := range idx {
		m, w := p.Mean[k], p.Component[k]
		for i, v := range t.Values[c] {
			out[i] += (v - m) * w
		}
	}
	return out
}

// smooth applies a trailing rolling mean within each unit. Early rows average
// over however many rows the unit has so far.
func smooth(x []float64, units []types.UnitRange, window int) []float64 {
	out := make([]float64, len(x))
	for _, u := range units {
		var sum float64
		for i := u.Start; i < u.End; i++ {
			sum += x[i]
			if drop := i - window; drop >= u.Start {
				sum -= x[drop]
			}
			n := min(i-u.Start+1, window)
			out[i] = sum / float64(n)
		}
	}
	return out
}

// scale maps v onto [0, 1] given the fitted bounds. A degenerate range maps
// everything to 0.
func scale(v, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	return (v - lo) / (hi - lo)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
