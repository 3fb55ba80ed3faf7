package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rulstack/rulstack/internal/health"
	"github.com/rulstack/rulstack/pkg/types"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func testTransform() *types.FittedTransform {
	return &types.FittedTransform{
		Version: types.TransformVersion,
		Schema:  []string{"f1", types.ColumnRUL, types.ColumnHealthIndex},
		MaxRUL:  10,
	}
}

// table builds units 1 (10 cycles) and 2 (4 cycles) with f1 = unit*100 + cycle.
func table(t *testing.T) *types.Table {
	t.Helper()
	tab := types.NewTable(14)
	var f1, rul, hi []float64
	for _, u := range []struct{ id, n int }{{1, 10}, {2, 4}} {
		for c := 1; c <= u.n; c++ {
			tab.Units = append(tab.Units, u.id)
			tab.Cycles = append(tab.Cycles, c)
			f1 = append(f1, float64(u.id*100+c))
			rul = append(rul, float64(u.n-c))
			hi = append(hi, 1-float64(c)/float64(u.n))
		}
	}
	for _, col := range []struct {
		c types.Column
		v []float64
	}{
		{types.Column{Name: "f1", Role: types.RoleSensor}, f1},
		{types.Column{Name: types.ColumnRUL, Role: types.RoleLabel}, rul},
		{types.Column{Name: types.ColumnHealthIndex, Role: types.RoleHealthIndex}, hi},
	} {
		if err := tab.Add(col.c, col.v); err != nil {
			t.Fatalf("Add(%s): %v", col.c.Name, err)
		}
	}
	return tab
}

func TestPutAndGet(t *testing.T) {
	st := New(testTransform(), 5)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.now = fixedClock(base)
	if err := st.Put("test", table(t)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e, ok := st.Get("test")
	if !ok {
		t.Fatal("Get: expected entry, got none")
	}
	if !e.UpdatedAt.Equal(base) {
		t.Errorf("UpdatedAt: got %v, want %v", e.UpdatedAt, base)
	}
	if len(e.Columns) != 2 || e.Columns[0] != "f1" || e.Columns[1] != types.ColumnHealthIndex {
		t.Errorf("Columns: got %v, want [f1 health_index]", e.Columns)
	}
}

func TestGet_Missing(t *testing.T) {
	st := New(testTransform(), 5)
	if _, ok := st.Get("unknown"); ok {
		t.Fatal("Get on empty store: expected false, got true")
	}
}

func TestPut_RejectsSchemaMismatch(t *testing.T) {
	st := New(testTransform(), 5)
	tab := table(t).Keep(func(c types.Column) bool { return c.Name != "f1" })
	if err := st.Put("bad", tab); !errors.Is(err, types.ErrSchema) {
		t.Errorf("Put: got %v, want ErrSchema", err)
	}
	if st.Count() != 0 {
		t.Errorf("Count: got %d, want 0", st.Count())
	}
}

func TestPut_Overwrites(t *testing.T) {
	st := New(testTransform(), 5)
	first := table(t)
	second := table(t)
	if err := st.Put("x", first); err != nil {
		t.Fatal(err)
	}
	if err := st.Put("x", second); err != nil {
		t.Fatal(err)
	}
	e, _ := st.Get("x")
	if e.Table != second {
		t.Error("Get after two Puts: got the first table, want the second")
	}
	if st.Count() != 1 {
		t.Errorf("Count: got %d, want 1", st.Count())
	}
}

func TestList_SortedByName(t *testing.T) {
	st := New(testTransform(), 5)
	for _, name := range []string{"test", "train", "latest"} {
		if err := st.Put(name, table(t)); err != nil {
			t.Fatal(err)
		}
	}
	entries := st.List()
	want := []string{"latest", "test", "train"}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, e.Name, want[i])
		}
	}
}

func TestLookups(t *testing.T) {
	st := New(testTransform(), 5)
	if st.Window() != 5 {
		t.Errorf("Window() = %d, want 5", st.Window())
	}
	if err := st.Put("test", table(t)); err != nil {
		t.Fatal(err)
	}

	units, err := st.Units("test")
	if err != nil || len(units) != 2 || units[0] != 1 || units[1] != 2 {
		t.Errorf("Units: got %v %v, want [1 2]", units, err)
	}

	w, err := st.Sequence("test", 1, 0)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	if w.EndCycle != 10 || len(w.Rows) != 5 || w.Rows[0][0] != 106 {
		t.Errorf("Sequence: got end %d rows %d first %v, want end 10 rows 5 first 106", w.EndCycle, len(w.Rows), w.Rows[0][0])
	}

	// Unit 2 has only 4 cycles: no 5-cycle window.
	if _, err := st.Sequence("test", 2, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Sequence short unit: got %v, want ErrNotFound", err)
	}

	r, err := st.Row("test", 2, 3)
	if err != nil {
		t.Fatalf("Row: %v", err)
	}
	if r.Row[0] != 203 || r.Target != 1 {
		t.Errorf("Row: got %+v, want f1 203 target 1", r)
	}

	sum, err := st.Summary("test", 1)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.State != health.StateCritical || sum.LastCycle != 10 {
		t.Errorf("Summary: got %+v, want critical at cycle 10", sum)
	}

	if _, err := st.Summary("test", 42); !errors.Is(err, ErrNotFound) {
		t.Errorf("Summary unknown unit: got %v, want ErrNotFound", err)
	}
	if _, err := st.Row("nope", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Errorf("Row unknown table: got %v, want ErrNotFound", err)
	}
}

func TestParseUnitID(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"7", 7, false},
		{"engine-7", 7, false},
		{"unit-12", 12, false},
		{"Engine-3", 3, false},
		{" 42 ", 42, false},
		{"engine-", 0, true},
		{"pump-7", 0, true},
		{"-1", 0, true},
		{"", 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseUnitID(tc.in)
			if (err != nil) != tc.wantErr {
				t.Fatalf("ParseUnitID(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("ParseUnitID(%q) = %d, want %d", tc.in, got, tc.want)
			}
		})
	}
}

func TestConcurrentMixedOps(t *testing.T) {
	st := New(testTransform(), 5)
	tab := table(t)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			_ = st.Put("live", tab)
		}()
		go func() {
			defer wg.Done()
			st.List()
		}()
		go func() {
			defer wg.Done()
			_, _ = st.Row("live", 1, 0)
		}()
	}
	wg.Wait()

	if st.Count() != 1 {
		t.Errorf("Count after concurrent puts: got %d, want 1", st.Count())
	}
}
