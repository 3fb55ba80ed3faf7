// Package sensors removes near-constant sensor channels.
//
// Fit runs once on reference data and returns the kept-channel list; Apply
// reuses that list on any other table. Recomputing variances on inference
// data would let the schema drift between builds, so Apply never does.
package sensors

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"

	"github.com/rulstack/rulstack/pkg/types"
)

// DefaultVarianceThreshold is the sample variance below which a channel is
// considered constant.
const DefaultVarianceThreshold = 1e-6

// Fit computes the sample variance of every sensor column and splits them into
// kept and dropped channels. Channels with variance < threshold are dropped.
func Fit(t *types.Table, threshold float64) (kept, dropped []string, err error) {
	names := t.Names(types.RoleSensor)
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("sensors: table has no sensor columns: %w", types.ErrSchema)
	}
	for _, name := range names {
		v, _ := t.Column(name)
		// Sample variance; a single row has none and counts as constant.
		variance := 0.0
		if len(v) > 1 {
			variance = stat.Variance(v, nil)
		}
		if variance < threshold {
			dropped = append(dropped, name)
			continue
		}
		kept = append(kept, name)
	}
	slog.Info("sensors: variance filter fitted",
		"sensors", len(names), "kept", len(kept), "dropped", dropped)
	return kept, dropped, nil
}

// Apply returns a copy of t that holds exactly the kept sensor channels plus
// every non-sensor column. A kept channel missing from t is an ErrSchema error.
func Apply(t *types.Table, kept []string) (*types.Table, error) {
	keep := make(map[string]bool, len(kept))
	for _, name := range kept {
		if _, ok := t.Index(name); !ok {
			return nil, fmt.Errorf("sensors: kept sensor %q missing from input: %w", name, types.ErrSchema)
		}
		keep[name] = true
	}
	return t.Keep(func(c types.Column) bool {
		return c.Role != types.RoleSensor || keep[c.Name]
	}), nil
}
