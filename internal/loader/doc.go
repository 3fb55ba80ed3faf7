// Package loader parses raw header-less telemetry files into a labelled
// feature table.
//
// Each row is "unit cycle op1 op2 op3 s1 ... sN". Parse rejects the whole
// input on the first malformed row (ErrFormat): wrong column count, non-integer
// unit or cycle, unparsable float, or a duplicate (unit, cycle). Rows are
// sorted by (unit, cycle) before labelling.
//
// Label appends the "rul" column: max_cycle(unit) - cycle, capped at RULCap
// (default 125), so every unit's final row is 0.
package loader
