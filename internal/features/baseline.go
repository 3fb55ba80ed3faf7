package features

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/rulstack/rulstack/pkg/types"
)

// FitBaselines computes, for every unit and sensor, the mean and sample
// standard deviation over rows with cycle <= p.BaselineCycles.
func FitBaselines(t *types.Table, sensors []string, p types.FeatureParams) (map[int][]types.Baseline, error) {
	idx, err := t.Indices(sensors)
	if err != nil {
		return nil, fmt.Errorf("features: baselines: %w", err)
	}
	out := make(map[int][]types.Baseline)
	for _, u := range t.UnitRanges() {
		out[u.Unit] = unitBaseline(t, u, sensors, idx, p.BaselineCycles)
	}
	return out, nil
}

func unitBaseline(t *types.Table, u types.UnitRange, sensors []string, idx []int, cycles int) []types.Baseline {
	end := u.Start
	for end < u.End && t.Cycles[end] <= cycles {
		end++
	}
	out := make([]types.Baseline, len(sensors))
	for k, c := range idx {
		b := types.Baseline{Sensor: sensors[k], Count: end - u.Start}
		window := t.Values[c][u.Start:end]
		if b.Count > 0 {
			b.Mean = stat.Mean(window, nil)
		}
		if b.Count > 1 {
			b.Std = stat.StdDev(window, nil)
		}
		out[k] = b
	}
	return out
}

// drift returns the z-score of x against b. Baselines with fewer than two
// rows have no deviation estimate and yield 0.
func drift(x float64, b types.Baseline, epsilon float64) float64 {
	if b.Count < 2 {
		return 0
	}
	return (x - b.Mean) / (b.Std + epsilon)
}

// degenerate reports whether b cannot support a meaningful z-score.
func degenerate(b types.Baseline) bool {
	return b.Count < 2 || b.Std == 0
}
