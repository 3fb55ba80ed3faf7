package features

import (
	"fmt"

	"github.com/rulstack/rulstack/pkg/types"
)

// maskedRows returns the half-open row range of unit u that a column with the
// given window must zero: the first window-1 rows, bounded by the unit's end.
func maskedRows(u types.UnitRange, window int) (start, end int) {
	end = u.Start + window - 1
	if end > u.End {
		end = u.End
	}
	return u.Start, end
}

// mask zeroes, for every unit, the leading rows of every column whose Window
// is greater than one. The columns to mask come from the Window tag, so no
// window-keyed column can be missed. It returns the number of values zeroed.
func mask(t *types.Table, units []types.UnitRange) int {
	n := 0
	for c, col := range t.Columns {
		if col.Window < 2 {
			continue
		}
		values := t.Values[c]
		for _, u := range units {
			start, end := maskedRows(u, col.Window)
			for i := start; i < end; i++ {
				values[i] = 0
				n++
			}
		}
	}
	return n
}

// VerifyMasked checks, unit by unit, that every window-keyed column is zero
// over the unit's first Window-1 rows. A violation means a value may carry
// data from the preceding unit and is reported as an ErrSchema error.
func VerifyMasked(t *types.Table) error {
	units := t.UnitRanges()
	for c, col := range t.Columns {
		if col.Window < 2 {
			continue
		}
		values := t.Values[c]
		for _, u := range units {
			start, end := maskedRows(u, col.Window)
			for i := start; i < end; i++ {
				if values[i] != 0 {
					return fmt.Errorf("features: %s at unit %d cycle %d = %v inside the %d-row boundary mask: %w",
						col.Name, u.Unit, t.Cycles[i], values[i], col.Window-1, types.ErrSchema)
				}
			}
		}
	}
	return nil
}
