package dataset

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/rulstack/rulstack/pkg/types"
)

// Default windowing parameters.
const (
	DefaultWindow  = 30
	DefaultWorkers = 4
)

// Options controls Windows.
type Options struct {
	// Window is the number of consecutive rows per sample.
	Window int
	// MaxSamples caps the total number of windows; 0 means unlimited.
	MaxSamples int
	// Workers bounds the number of units sliced concurrently.
	Workers int
}

// Report summarizes a Windows call.
type Report struct {
	Samples int
	// Skipped lists the units shorter than the window.
	Skipped []int
	// Truncated is true when MaxSamples stopped generation early.
	Truncated bool
}

// Columns returns the model input columns of t: every column except the
// label, in table order.
func Columns(t *types.Table) []string {
	return t.FeatureNames()
}

// Windows slices every unit into overlapping windows of opts.Window rows over
// cols. A unit of length L yields max(0, L-W+1) windows whose target is the
// label of the last row. Units are processed concurrently and merged back in
// table order. When MaxSamples is set, earlier units are kept in full before
// later ones, and units past the cap are never sliced.
func Windows(ctx context.Context, t *types.Table, cols []string, opts Options) ([]types.Window, Report, error) {
	var rep Report
	if opts.Window < 1 {
		return nil, rep, fmt.Errorf("dataset: window %d must be positive: %w", opts.Window, types.ErrSchema)
	}
	idx, label, err := resolve(t, cols)
	if err != nil {
		return nil, rep, err
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	units := t.UnitRanges()
	perUnit := make([][]types.Window, len(units))
	budget := opts.MaxSamples
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for k, u := range units {
		n := u.Len() - opts.Window + 1
		if n <= 0 {
			rep.Skipped = append(rep.Skipped, u.Unit)
			continue
		}
		if opts.MaxSamples > 0 {
			if budget == 0 {
				rep.Truncated = true
				continue
			}
			if n > budget {
				n = budget
				rep.Truncated = true
			}
			budget -= n
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			perUnit[k] = sliceUnit(t, u, idx, label, opts.Window, n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, rep, fmt.Errorf("dataset: %w", err)
	}

	var out []types.Window
	for _, ws := range perUnit {
		out = append(out, ws...)
	}
	rep.Samples = len(out)

	if len(rep.Skipped) > 0 {
		slog.Warn("dataset: units shorter than the window skipped",
			"window", opts.Window,
			"units", rep.Skipped,
		)
	}
	if rep.Truncated {
		slog.Info("dataset: sample cap reached", "max_samples", opts.MaxSamples)
	}
	return out, rep, nil
}

// Tabular returns exactly one sample per unit: its most recent row.
func Tabular(t *types.Table, cols []string) ([]types.TabularSample, error) {
	idx, label, err := resolve(t, cols)
	if err != nil {
		return nil, err
	}
	units := t.UnitRanges()
	out := make([]types.TabularSample, 0, len(units))
	for _, u := range units {
		last := u.End - 1
		out = append(out, types.TabularSample{
			Unit:   u.Unit,
			Cycle:  t.Cycles[last],
			Row:    t.Row(last, idx),
			Target: t.Values[label][last],
		})
	}
	return out, nil
}

// UnitWindow returns the single window of unit ending at cycle. A cycle of 0
// selects the unit's last row. It returns false when the unit is unknown, the
// cycle is absent, or fewer than window rows precede it.
func UnitWindow(t *types.Table, cols []string, unit, cycle, window int) (types.Window, bool, error) {
	idx, label, err := resolve(t, cols)
	if err != nil {
		return types.Window{}, false, err
	}
	u, end, ok := locate(t, unit, cycle)
	if !ok || window < 1 || end-u.Start+1 < window {
		return types.Window{}, false, nil
	}
	return sliceWindow(t, end-window+1, window, idx, label), true, nil
}

// UnitRow returns the tabular sample of unit at cycle (0 selects the last row).
func UnitRow(t *types.Table, cols []string, unit, cycle int) (types.TabularSample, bool, error) {
	idx, label, err := resolve(t, cols)
	if err != nil {
		return types.TabularSample{}, false, err
	}
	_, row, ok := locate(t, unit, cycle)
	if !ok {
		return types.TabularSample{}, false, nil
	}
	return types.TabularSample{
		Unit:   unit,
		Cycle:  t.Cycles[row],
		Row:    t.Row(row, idx),
		Target: t.Values[label][row],
	}, true, nil
}

// sliceUnit builds the windows of one unit; tests replace it to observe calls.
var sliceUnit = unitWindows

// unitWindows returns the first n windows of u.
func unitWindows(t *types.Table, u types.UnitRange, idx []int, label, window, n int) []types.Window {
	out := make([]types.Window, 0, n)
	for start := u.Start; start+window <= u.End && len(out) < n; start++ {
		out = append(out, sliceWindow(t, start, window, idx, label))
	}
	return out
}

func sliceWindow(t *types.Table, start, window int, idx []int, label int) types.Window {
	end := start + window - 1
	w := types.Window{
		Unit:     t.Units[start],
		EndCycle: t.Cycles[end],
		Rows:     make([][]float64, window),
		Target:   t.Values[label][end],
	}
	for k := range w.Rows {
		w.Rows[k] = t.Row(start+k, idx)
	}
	return w
}

// resolve finds the feature columns and the label column.
func resolve(t *types.Table, cols []string) ([]int, int, error) {
	idx, err := t.Indices(cols)
	if err != nil {
		return nil, 0, fmt.Errorf("dataset: %w", err)
	}
	label, ok := t.Index(types.ColumnRUL)
	if !ok {
		return nil, 0, fmt.Errorf("dataset: label column %q not found: %w", types.ColumnRUL, types.ErrSchema)
	}
	return idx, label, nil
}

// locate returns the unit range and row of (unit, cycle).
func locate(t *types.Table, unit, cycle int) (types.UnitRange, int, bool) {
	for _, u := range t.UnitRanges() {
		if u.Unit != unit {
			continue
		}
		if cycle == 0 {
			return u, u.End - 1, true
		}
		for i := u.Start; i < u.End; i++ {
			if t.Cycles[i] == cycle {
				return u, i, true
			}
		}
		return u, 0, false
	}
	return types.UnitRange{}, 0, false
}
