package types

import (
	"errors"
	"math"
	"testing"
)

func sampleTable() *Table {
	t := &Table{
		Units:  []int{1, 1, 1, 2, 2, 3},
		Cycles: []int{1, 2, 3, 1, 2, 1},
	}
	_ = t.Add(Column{Name: "s2", Role: RoleSensor}, []float64{1, 2, 3, 4, 5, 6})
	_ = t.Add(Column{Name: "s2_delta", Role: RoleDelta, Source: "s2", Window: 2}, []float64{0, 1, 1, 0, 1, 0})
	_ = t.Add(Column{Name: ColumnRUL, Role: RoleLabel}, []float64{2, 1, 0, 1, 0, 0})
	return t
}

func TestUnitRanges(t *testing.T) {
	got := sampleTable().UnitRanges()
	want := []UnitRange{{1, 0, 3}, {2, 3, 5}, {3, 5, 6}}
	if len(got) != len(want) {
		t.Fatalf("UnitRanges len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("UnitRanges[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if got[0].Len() != 3 {
		t.Errorf("Len() = %d, want 3", got[0].Len())
	}
}

func TestUnitRanges_Empty(t *testing.T) {
	if got := (&Table{}).UnitRanges(); len(got) != 0 {
		t.Errorf("UnitRanges on empty table = %v, want none", got)
	}
}

func TestAdd_RejectsLengthMismatch(t *testing.T) {
	tbl := sampleTable()
	err := tbl.Add(Column{Name: "bad"}, []float64{1})
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("Add() err = %v, want ErrSchema", err)
	}
}

func TestAdd_RejectsDuplicate(t *testing.T) {
	tbl := sampleTable()
	err := tbl.Add(Column{Name: "s2"}, make([]float64, tbl.Len()))
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("Add() err = %v, want ErrSchema", err)
	}
}

func TestIndices_Missing(t *testing.T) {
	_, err := sampleTable().Indices([]string{"s2", "s9"})
	if !errors.Is(err, ErrSchema) {
		t.Fatalf("Indices() err = %v, want ErrSchema", err)
	}
}

func TestNamesAndFeatureNames(t *testing.T) {
	tbl := sampleTable()
	if got := tbl.Names(RoleDelta); len(got) != 1 || got[0] != "s2_delta" {
		t.Errorf("Names(RoleDelta) = %v", got)
	}
	got := tbl.FeatureNames()
	if len(got) != 2 || got[0] != "s2" || got[1] != "s2_delta" {
		t.Errorf("FeatureNames() = %v, want [s2 s2_delta]", got)
	}
}

func TestKeep_DoesNotAlias(t *testing.T) {
	tbl := sampleTable()
	out := tbl.Keep(func(c Column) bool { return c.Role == RoleSensor })
	if len(out.Columns) != 1 {
		t.Fatalf("Keep() columns = %d, want 1", len(out.Columns))
	}
	out.Values[0][0] = 99
	if tbl.Values[0][0] != 1 {
		t.Error("Keep() result aliases the source table")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		units  []int
		cycles []int
		want   error
	}{
		{"sorted", []int{1, 1, 2}, []int{1, 2, 1}, nil},
		{"duplicate cycle", []int{1, 1}, []int{3, 3}, ErrFormat},
		{"decreasing cycle", []int{1, 1}, []int{3, 2}, ErrFormat},
		{"unit order", []int{2, 1}, []int{1, 1}, ErrFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tbl := &Table{Units: tc.units, Cycles: tc.cycles}
			err := tbl.Validate()
			if tc.want == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("Validate() err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestValidate_NonFinite(t *testing.T) {
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		tbl := sampleTable()
		tbl.Values[0][4] = v
		if err := tbl.Validate(); !errors.Is(err, ErrFormat) {
			t.Errorf("Validate() with %v: err = %v, want ErrFormat", v, err)
		}
	}
}

func TestSanitize(t *testing.T) {
	tbl := &Table{Units: []int{1, 1, 1}, Cycles: []int{1, 2, 3}}
	_ = tbl.Add(Column{Name: "x"}, []float64{math.NaN(), 1, math.Inf(1)})
	if n := tbl.Sanitize(); n != 2 {
		t.Errorf("Sanitize() = %d, want 2", n)
	}
	for i, v := range tbl.Values[0] {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Errorf("row %d still non-finite: %v", i, v)
		}
	}
}

func TestRoleString(t *testing.T) {
	if RoleTrend.String() != "trend" {
		t.Errorf("RoleTrend.String() = %q", RoleTrend.String())
	}
	if Role(42).String() != "role(42)" {
		t.Errorf("unknown role String() = %q", Role(42).String())
	}
}
