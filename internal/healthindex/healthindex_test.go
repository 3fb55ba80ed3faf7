package healthindex

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/rulstack/rulstack/pkg/types"
)

func almostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) < epsilon
}

// degradingTable builds units whose s1 rises and s2 falls with cycle, plus
// rolling-mean, delta and drift columns so that selection has something to
// exclude. sign flips the direction of both sensors.
func degradingTable(t *testing.T, units, cycles int, sign float64) *types.Table {
	t.Helper()
	tab := types.NewTable(units * cycles)
	cols := map[string][]float64{}
	order := []types.Column{
		{Name: "op1", Role: types.RoleSetting},
		{Name: "s1", Role: types.RoleSensor},
		{Name: "s2", Role: types.RoleSensor},
		{Name: "s1_rm5", Role: types.RoleRollingMean, Source: "s1", Window: 5},
		{Name: "s1_delta", Role: types.RoleDelta, Source: "s1", Window: 2},
		{Name: "s1_rs5", Role: types.RoleRollingStd, Source: "s1", Window: 5},
		{Name: "s1_drift", Role: types.RoleDrift, Source: "s1"},
		{Name: types.ColumnRUL, Role: types.RoleLabel},
	}
	for u := 1; u <= units; u++ {
		for c := 1; c <= cycles; c++ {
			tab.Units = append(tab.Units, u)
			tab.Cycles = append(tab.Cycles, c)
			wobble := 0.05 * math.Sin(float64(c*u))
			s1 := sign * (0.1*float64(c) + wobble)
			s2 := sign * (-0.08*float64(c) - wobble)
			cols["op1"] = append(cols["op1"], math.Cos(float64(c)))
			cols["s1"] = append(cols["s1"], s1)
			cols["s2"] = append(cols["s2"], s2)
			cols["s1_rm5"] = append(cols["s1_rm5"], s1*0.9)
			cols["s1_delta"] = append(cols["s1_delta"], 100*math.Sin(float64(c)))
			cols["s1_rs5"] = append(cols["s1_rs5"], 50*math.Cos(float64(3*c)))
			cols["s1_drift"] = append(cols["s1_drift"], -1000*float64(c))
			cols[types.ColumnRUL] = append(cols[types.ColumnRUL], float64(cycles-c))
		}
	}
	for _, col := range order {
		if err := tab.Add(col, cols[col.Name]); err != nil {
			t.Fatalf("Add(%s): %v", col.Name, err)
		}
	}
	return tab
}

func fitApply(t *testing.T, tab *types.Table) (types.HealthParams, []float64) {
	t.Helper()
	p, err := Fit(tab, DefaultSmoothWindow)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	out, err := Apply(tab, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	hi, err := out.Column(types.ColumnHealthIndex)
	if err != nil {
		t.Fatalf("health_index column: %v", err)
	}
	return p, hi
}

func mean(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}

func TestSelect_ByRole(t *testing.T) {
	tab := degradingTable(t, 1, 5, 1)
	if got := strings.Join(Select(tab), ","); got != "s1,s2,s1_rm5" {
		t.Errorf("Select = %s, want s1,s2,s1_rm5", got)
	}
}

func TestFit_EmptySelection(t *testing.T) {
	tab := degradingTable(t, 1, 5, 1)
	only := tab.Keep(func(c types.Column) bool {
		return c.Role == types.RoleSetting || c.Role == types.RoleDelta || c.Role == types.RoleDrift
	})
	if _, err := Fit(only, DefaultSmoothWindow); !errors.Is(err, types.ErrSchema) {
		t.Errorf("Fit err = %v, want ErrSchema", err)
	}
}

func TestFit_InvalidSmoothWindow(t *testing.T) {
	tab := degradingTable(t, 1, 5, 1)
	if _, err := Fit(tab, 0); !errors.Is(err, types.ErrSchema) {
		t.Errorf("Fit err = %v, want ErrSchema", err)
	}
}

func TestHealthIndex_OrientedAndBounded(t *testing.T) {
	for _, sign := range []float64{1, -1} {
		tab := degradingTable(t, 2, 40, sign)
		_, hi := fitApply(t, tab)

		lo, hiMax := math.Inf(1), math.Inf(-1)
		for i, v := range hi {
			if v < 0 || v > 1 {
				t.Fatalf("sign %v: health_index[%d] = %v, want within [0, 1]", sign, i, v)
			}
			lo, hiMax = math.Min(lo, v), math.Max(hiMax, v)
		}
		if !almostEqual(lo, 0, 1e-12) || !almostEqual(hiMax, 1, 1e-12) {
			t.Errorf("sign %v: range = [%v, %v], want [0, 1] on the reference data", sign, lo, hiMax)
		}
		for _, u := range tab.UnitRanges() {
			early, late := mean(hi[u.Start:u.Start+10]), mean(hi[u.End-10:u.End])
			if early <= late {
				t.Errorf("sign %v unit %d: early mean %v <= late mean %v, want healthier early", sign, u.Unit, early, late)
			}
		}
	}
}

func TestApply_ReusesFittedParameters(t *testing.T) {
	ref := degradingTable(t, 2, 40, 1)
	p, full := fitApply(t, ref)

	// A truncated inference set: unit 1 only, first 20 cycles. With reused
	// parameters each row scores exactly as it did on the reference data.
	sub := ref.Clone()
	for c := range sub.Values {
		sub.Values[c] = sub.Values[c][:20]
	}
	sub.Units, sub.Cycles = sub.Units[:20], sub.Cycles[:20]

	out, err := Apply(sub, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	got, _ := out.Column(types.ColumnHealthIndex)
	for i := range got {
		if !almostEqual(got[i], full[i], 1e-12) {
			t.Fatalf("health_index[%d] = %v on subset, %v on reference", i, got[i], full[i])
		}
	}
}

func TestApply_ClampsOutOfRange(t *testing.T) {
	ref := degradingTable(t, 1, 40, 1)
	p, _ := fitApply(t, ref)

	far := degradingTable(t, 1, 40, 1)
	for _, name := range []string{"s1", "s2", "s1_rm5"} {
		v, _ := far.Column(name)
		for i := range v {
			v[i] *= 50
		}
	}
	out, err := Apply(far, p)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	hi, _ := out.Column(types.ColumnHealthIndex)
	for i, v := range hi {
		if v < 0 || v > 1 {
			t.Fatalf("health_index[%d] = %v, want clamped to [0, 1]", i, v)
		}
	}
}

func TestApply_SchemaErrors(t *testing.T) {
	ref := degradingTable(t, 1, 20, 1)
	p, err := Fit(ref, DefaultSmoothWindow)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	t.Run("missing column", func(t *testing.T) {
		missing := ref.Keep(func(c types.Column) bool { return c.Name != "s2" })
		if _, err := Apply(missing, p); !errors.Is(err, types.ErrSchema) {
			t.Errorf("err = %v, want ErrSchema", err)
		}
	})
	t.Run("already applied", func(t *testing.T) {
		once, err := Apply(ref, p)
		if err != nil {
			t.Fatalf("Apply: %v", err)
		}
		if _, err := Apply(once, p); !errors.Is(err, types.ErrSchema) {
			t.Errorf("err = %v, want ErrSchema", err)
		}
	})
	t.Run("mismatched params", func(t *testing.T) {
		bad := p
		bad.Component = bad.Component[:1]
		if _, err := Apply(ref, bad); !errors.Is(err, types.ErrSchema) {
			t.Errorf("err = %v, want ErrSchema", err)
		}
	})
}

func TestPolarity(t *testing.T) {
	cycles := []int{1, 2, 3, 4, 5}
	tests := []struct {
		name   string
		scores []float64
		want   bool
	}{
		{"rising", []float64{0, 0.2, 0.5, 0.7, 1}, true},
		{"falling", []float64{1, 0.8, 0.4, 0.3, 0}, false},
		{"constant", []float64{0.5, 0.5, 0.5, 0.5, 0.5}, false},
		{"length mismatch", []float64{0, 1}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Polarity(tc.scores, cycles); got != tc.want {
				t.Errorf("Polarity = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSmooth_MinPeriodsPerUnit(t *testing.T) {
	x := []float64{1, 2, 3, 4, 100, 200}
	units := []types.UnitRange{{Unit: 1, Start: 0, End: 4}, {Unit: 2, Start: 4, End: 6}}
	got := smooth(x, units, 2)
	want := []float64{1, 1.5, 2.5, 3.5, 100, 150}
	for i := range want {
		if !almostEqual(got[i], want[i], 1e-12) {
			t.Errorf("smooth[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestPrincipalComponent_SignConvention(t *testing.T) {
	tab := degradingTable(t, 1, 30, -1)
	p, err := Fit(tab, DefaultSmoothWindow)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	var norm float64
	lead := 0
	for k, v := range p.Component {
		norm += v * v
		if math.Abs(v) > math.Abs(p.Component[lead]) {
			lead = k
		}
	}
	if !almostEqual(norm, 1, 1e-9) {
		t.Errorf("|component|^2 = %v, want 1", norm)
	}
	if p.Component[lead] <= 0 {
		t.Errorf("largest loading %v, want positive", p.Component[lead])
	}
}
