// Package normalize standardizes feature columns with fitted parameters.
//
// The contract is two-phase: Fit(reference, cols) captures per-column mean and
// scale once; Apply(t, params) reuses them verbatim on any table. Inference
// paths only ever call Apply.
package normalize

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rulstack/rulstack/pkg/types"
)

// Fit computes mean and population standard deviation for each named column.
// A zero deviation is stored as scale 1 so constant columns map to 0.
func Fit(t *types.Table, cols []string) (types.ScalerParams, error) {
	p := types.ScalerParams{
		Columns: append([]string(nil), cols...),
		Mean:    make([]float64, len(cols)),
		Scale:   make([]float64, len(cols)),
	}
	if t.Len() == 0 {
		return p, fmt.Errorf("normalize: cannot fit on an empty table: %w", types.ErrSchema)
	}
	for k, name := range cols {
		v, err := t.Column(name)
		if err != nil {
			return p, fmt.Errorf("normalize: fit: %w", err)
		}
		mean, variance := stat.PopMeanVariance(v, nil)
		std := math.Sqrt(variance)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		p.Mean[k] = mean
		p.Scale[k] = std
	}
	return p, nil
}

// Apply returns a copy of t with every column in p standardized as
// (x - mean) / scale. A column named in p but missing from t is an ErrSchema
// error.
func Apply(t *types.Table, p types.ScalerParams) (*types.Table, error) {
	if len(p.Mean) != len(p.Columns) || len(p.Scale) != len(p.Columns) {
		return nil, fmt.Errorf("normalize: params have %d columns, %d means, %d scales: %w",
			len(p.Columns), len(p.Mean), len(p.Scale), types.ErrSchema)
	}
	idx, err := t.Indices(p.Columns)
	if err != nil {
		return nil, fmt.Errorf("normalize: apply: %w", err)
	}
	out := t.Clone()
	for k, c := range idx {
		mean, scale := p.Mean[k], p.Scale[k]
		col := out.Values[c]
		for i, v := range col {
			col[i] = (v - mean) / scale
		}
	}
	return out, nil
}
