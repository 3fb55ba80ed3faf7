package types

import (
	"fmt"
	"math"
)

// SettingCount is the number of operating-setting channels per record.
const SettingCount = 3

// Column names shared across stages.
const (
	ColumnRUL         = "rul"
	ColumnHealthIndex = "health_index"
)

// Record is one raw telemetry row.
type Record struct {
	Unit     int
	Cycle    int
	Settings [SettingCount]float64
	Sensors  []float64
}

// Role tags what a column holds. Downstream selection uses the role, never the
// column name.
type Role int

const (
	RoleSetting Role = iota
	RoleSensor
	RoleRollingMean
	RoleRollingStd
	RoleDelta
	RoleTrend
	RoleDrift
	RoleLabel
	RoleHealthIndex
)

var roleNames = [...]string{
	RoleSetting:     "setting",
	RoleSensor:      "sensor",
	RoleRollingMean: "rolling_mean",
	RoleRollingStd:  "rolling_std",
	RoleDelta:       "delta",
	RoleTrend:       "trend",
	RoleDrift:       "drift",
	RoleLabel:       "label",
	RoleHealthIndex: "health_index",
}

func (r Role) String() string {
	if r >= 0 && int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", int(r))
}

// Column describes one named column of a Table.
type Column struct {
	Name string
	Role Role

	// Source is the raw sensor a derived column was computed from.
	// Empty for raw columns.
	Source string

	// Window is the number of consecutive rows of one unit that a value
	// depends on. Rows 0..Window-2 of every unit are masked to zero.
	// Zero for columns that do not depend on preceding rows.
	Window int
}

// UnitRange is the half-open row range [Start, End) of one unit.
type UnitRange struct {
	Unit  int
	Start int
	End   int
}

// Len returns the number of rows in the range.
func (u UnitRange) Len() int { return u.End - u.Start }

// Table is a column-major feature table. Units and Cycles identify each row;
// Values[c][i] is column c at row i. Rows are sorted by (unit, cycle).
type Table struct {
	Units   []int
	Cycles  []int
	Columns []Column
	Values  [][]float64
}

// NewTable returns an empty table with capacity for n rows.
func NewTable(n int) *Table {
	return &Table{
		Units:  make([]int, 0, n),
		Cycles: make([]int, 0, n),
	}
}

// Len returns the row count.
func (t *Table) Len() int { return len(t.Units) }

// Index returns the position of the named column.
func (t *Table) Index(name string) (int, bool) {
	for i, c := range t.Columns {
		if c.Name == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns the values of the named column, or an ErrSchema error.
func (t *Table) Column(name string) ([]float64, error) {
	i, ok := t.Index(name)
	if !ok {
		return nil, fmt.Errorf("column %q not found: %w", name, ErrSchema)
	}
	return t.Values[i], nil
}

// Indices resolves names to column positions. Any missing name is an
// ErrSchema error.
func (t *Table) Indices(names []string) ([]int, error) {
	out := make([]int, len(names))
	for k, name := range names {
		i, ok := t.Index(name)
		if !ok {
			return nil, fmt.Errorf("column %q not found: %w", name, ErrSchema)
		}
		out[k] = i
	}
	return out, nil
}

// Add appends a column. values must have one entry per row.
func (t *Table) Add(col Column, values []float64) error {
	if len(values) != t.Len() {
		return fmt.Errorf("column %q has %d values, table has %d rows: %w",
			col.Name, len(values), t.Len(), ErrSchema)
	}
	if _, exists := t.Index(col.Name); exists {
		return fmt.Errorf("column %q already present: %w", col.Name, ErrSchema)
	}
	t.Columns = append(t.Columns, col)
	t.Values = append(t.Values, values)
	return nil
}

// Schema returns the ordered column names.
func (t *Table) Schema() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Names returns the names of columns with any of the given roles, in table order.
func (t *Table) Names(roles ...Role) []string {
	var out []string
	for _, c := range t.Columns {
		for _, r := range roles {
			if c.Role == r {
				out = append(out, c.Name)
				break
			}
		}
	}
	return out
}

// FeatureNames returns every column name except the label.
func (t *Table) FeatureNames() []string {
	var out []string
	for _, c := range t.Columns {
		if c.Role != RoleLabel {
			out = append(out, c.Name)
		}
	}
	return out
}

// Clone returns a deep copy of t.
func (t *Table) Clone() *Table {
	out := &Table{
		Units:   append([]int(nil), t.Units...),
		Cycles:  append([]int(nil), t.Cycles...),
		Columns: append([]Column(nil), t.Columns...),
		Values:  make([][]float64, len(t.Values)),
	}
	for i, v := range t.Values {
		out.Values[i] = append([]float64(nil), v...)
	}
	return out
}

// Keep returns a copy of t holding only the columns for which keep returns
// true. Column order is preserved.
func (t *Table) Keep(keep func(Column) bool) *Table {
	out := &Table{
		Units:  append([]int(nil), t.Units...),
		Cycles: append([]int(nil), t.Cycles...),
	}
	for i, c := range t.Columns {
		if keep(c) {
			out.Columns = append(out.Columns, c)
			out.Values = append(out.Values, append([]float64(nil), t.Values[i]...))
		}
	}
	return out
}

// UnitRanges returns the contiguous row range of every unit in row order.
// Rows must already be sorted by unit.
func (t *Table) UnitRanges() []UnitRange {
	var out []UnitRange
	for i := 0; i < t.Len(); {
		j := i + 1
		for j < t.Len() && t.Units[j] == t.Units[i] {
			j++
		}
		out = append(out, UnitRange{Unit: t.Units[i], Start: i, End: j})
		i = j
	}
	return out
}

// Row gathers the values of the given column positions at row i.
func (t *Table) Row(i int, cols []int) []float64 {
	out := make([]float64, len(cols))
	for k, c := range cols {
		out[k] = t.Values[c][i]
	}
	return out
}

// Validate checks the structural invariants: equal column lengths, rows
// sorted by (unit, cycle) with strictly increasing cycles per unit, and
// finite values.
func (t *Table) Validate() error {
	if len(t.Cycles) != len(t.Units) {
		return fmt.Errorf("table has %d units but %d cycles: %w", len(t.Units), len(t.Cycles), ErrSchema)
	}
	if len(t.Values) != len(t.Columns) {
		return fmt.Errorf("table has %d columns but %d value slices: %w", len(t.Columns), len(t.Values), ErrSchema)
	}
	for i, v := range t.Values {
		if len(v) != t.Len() {
			return fmt.Errorf("column %q has %d values, want %d: %w", t.Columns[i].Name, len(v), t.Len(), ErrSchema)
		}
	}
	for i := 1; i < t.Len(); i++ {
		pu, u := t.Units[i-1], t.Units[i]
		if u < pu || (u == pu && t.Cycles[i] <= t.Cycles[i-1]) {
			return fmt.Errorf("row %d (unit %d, cycle %d) out of order after (unit %d, cycle %d): %w",
				i, u, t.Cycles[i], pu, t.Cycles[i-1], ErrFormat)
		}
	}
	for c, col := range t.Values {
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("column %q: non-finite value at unit %d, cycle %d: %w",
					t.Columns[c].Name, t.Units[i], t.Cycles[i], ErrFormat)
			}
		}
	}
	return nil
}

// Sanitize replaces NaN and ±Inf in every column with zero and returns the
// number of values replaced.
func (t *Table) Sanitize() int {
	n := 0
	for _, col := range t.Values {
		for i, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				col[i] = 0
				n++
			}
		}
	}
	return n
}
