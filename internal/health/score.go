package health

import (
	"fmt"

	"github.com/rulstack/rulstack/pkg/types"
)

// State constants returned by Compute.
const (
	StateNominal  = "nominal"
	StateWarning  = "warning"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Thresholds that map a health percentage to a state.
const (
	ThresholdNominal = 70.0
	ThresholdWarning = 40.0
)

// Input holds the values a health assessment is derived from.
type Input struct {
	// RUL is the remaining useful life in cycles, observed or predicted.
	RUL float64

	// MaxRUL is the largest label of the reference data. A non-positive
	// MaxRUL yields StateUnknown.
	MaxRUL float64

	// HealthIndex is the row's degradation score in [0, 1], passed through
	// for display.
	HealthIndex float64
}

// Output is the result of Compute.
type Output struct {
	// Percent is 100 * RUL / MaxRUL clamped to [0, 100].
	Percent float64

	// State is one of "nominal", "warning", "critical", "unknown".
	State string

	HealthIndex float64
}

// Compute converts a RUL into a health percentage and state.
//
//	percent = clamp(100 * rul / max_rul, 0, 100)
func Compute(in Input) Output {
	if in.MaxRUL <= 0 {
		return Output{State: StateUnknown, HealthIndex: in.HealthIndex}
	}
	pct := clamp01(in.RUL/in.MaxRUL) * 100
	return Output{
		Percent:     pct,
		State:       stateFromPercent(pct),
		HealthIndex: in.HealthIndex,
	}
}

// UnitSummary is the latest health picture of one unit.
type UnitSummary struct {
	Unit       int
	FirstCycle int
	LastCycle  int
	Cycles     int

	// RUL and HealthIndex are taken from the unit's last row.
	RUL         float64
	HealthIndex float64

	// MeanHealthIndex averages the health index over every row of the unit.
	MeanHealthIndex float64

	Percent float64
	State   string
}

// Summarize returns one UnitSummary per unit of t, in table order. t must
// carry both the rul and health_index columns.
func Summarize(t *types.Table, maxRUL float64) ([]UnitSummary, error) {
	rul, err := t.Column(types.ColumnRUL)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	hi, err := t.Column(types.ColumnHealthIndex)
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	units := t.UnitRanges()
	out := make([]UnitSummary, 0, len(units))
	for _, u := range units {
		last := u.End - 1
		var sum float64
		for _, v := range hi[u.Start:u.End] {
			sum += v
		}
		o := Compute(Input{RUL: rul[last], MaxRUL: maxRUL, HealthIndex: hi[last]})
		out = append(out, UnitSummary{
			Unit:            u.Unit,
			FirstCycle:      t.Cycles[u.Start],
			LastCycle:       t.Cycles[last],
			Cycles:          u.Len(),
			RUL:             rul[last],
			HealthIndex:     hi[last],
			MeanHealthIndex: sum / float64(u.Len()),
			Percent:         o.Percent,
			State:           o.State,
		})
	}
	return out, nil
}

// stateFromPercent maps a health percentage to a named state.
func stateFromPercent(pct float64) string {
	switch {
	case pct >= ThresholdNominal:
		return StateNominal
	case pct >= ThresholdWarning:
		return StateWarning
	default:
		return StateCritical
	}
}

// clamp01 restricts v to the range [0, 1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
