package loader

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rulstack/rulstack/pkg/types"
)

// Default values used when Options fields are zero.
const (
	DefaultSensorCount = 21
	DefaultRULCap      = 125.0
)

// leadingColumns is unit id + cycle + operating settings.
const leadingColumns = 2 + types.SettingCount

// Options controls parsing and labelling.
type Options struct {
	// SensorCount is the number of sensor channels per row. Zero infers it
	// from the first row; every later row must match.
	SensorCount int

	// RULCap is the upper bound applied to the RUL label.
	RULCap float64
}

// Load reads the telemetry file at path and returns the labelled table.
func Load(path string, opts Options) (*types.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %q: %w", path, err)
	}
	defer f.Close()

	recs, err := Parse(f, opts)
	if err != nil {
		return nil, fmt.Errorf("loader: %q: %w", path, err)
	}
	t := Label(recs, opts)
	slog.Info("loader: telemetry loaded",
		"path", path, "rows", t.Len(), "units", len(t.UnitRanges()))
	return t, nil
}

// Parse decodes whitespace-delimited rows of
// "unit cycle op1 op2 op3 s1 ... sN". Blank lines are ignored; any other
// malformed row fails the whole parse with an ErrFormat error.
// The returned records are sorted by (unit, cycle).
func Parse(r io.Reader, opts Options) ([]types.Record, error) {
	want := 0
	if opts.SensorCount > 0 {
		want = leadingColumns + opts.SensorCount
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var recs []types.Record
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if want == 0 {
			if len(fields) <= leadingColumns {
				return nil, fmt.Errorf("line %d: %d columns leaves no sensors: %w",
					line, len(fields), types.ErrFormat)
			}
			want = len(fields)
		}
		if len(fields) != want {
			return nil, fmt.Errorf("line %d: got %d columns, want %d: %w",
				line, len(fields), want, types.ErrFormat)
		}
		rec, err := parseRecord(fields)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no telemetry rows: %w", types.ErrFormat)
	}

	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Unit != recs[j].Unit {
			return recs[i].Unit < recs[j].Unit
		}
		return recs[i].Cycle < recs[j].Cycle
	})
	for i := 1; i < len(recs); i++ {
		if recs[i].Unit == recs[i-1].Unit && recs[i].Cycle == recs[i-1].Cycle {
			return nil, fmt.Errorf("unit %d: duplicate cycle %d: %w",
				recs[i].Unit, recs[i].Cycle, types.ErrFormat)
		}
	}
	return recs, nil
}

func parseRecord(fields []string) (types.Record, error) {
	var rec types.Record
	var err error
	if rec.Unit, err = strconv.Atoi(fields[0]); err != nil {
		return rec, fmt.Errorf("unit id %q: %w", fields[0], types.ErrFormat)
	}
	if rec.Cycle, err = strconv.Atoi(fields[1]); err != nil {
		return rec, fmt.Errorf("cycle %q: %w", fields[1], types.ErrFormat)
	}
	for k := 0; k < types.SettingCount; k++ {
		if rec.Settings[k], err = parseFinite(fields[2+k]); err != nil {
			return rec, fmt.Errorf("op%d %q: %w", k+1, fields[2+k], types.ErrFormat)
		}
	}
	rec.Sensors = make([]float64, len(fields)-leadingColumns)
	for k := range rec.Sensors {
		v := fields[leadingColumns+k]
		if rec.Sensors[k], err = parseFinite(v); err != nil {
			return rec, fmt.Errorf("s%d %q: %w", k+1, v, types.ErrFormat)
		}
	}
	return rec, nil
}

// parseFinite parses a reading. NaN and infinities are rejected like any other
// malformed token.
func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite reading %q", s)
	}
	return v, nil
}

// SettingName returns the column name of the k-th (0-based) operating setting.
func SettingName(k int) string { return "op" + strconv.Itoa(k+1) }

// SensorName returns the column name of the k-th (0-based) sensor.
func SensorName(k int) string { return "s" + strconv.Itoa(k+1) }

// Label builds the table from sorted records and appends the RUL label:
// max cycle of the unit minus the row's cycle, capped at opts.RULCap.
func Label(recs []types.Record, opts Options) *types.Table {
	rulCap := opts.RULCap
	if rulCap <= 0 {
		rulCap = DefaultRULCap
	}

	t := types.NewTable(len(recs))
	nSensors := 0
	if len(recs) > 0 {
		nSensors = len(recs[0].Sensors)
	}
	settings := make([][]float64, types.SettingCount)
	sensors := make([][]float64, nSensors)
	for k := range settings {
		settings[k] = make([]float64, 0, len(recs))
	}
	for k := range sensors {
		sensors[k] = make([]float64, 0, len(recs))
	}
	for _, r := range recs {
		t.Units = append(t.Units, r.Unit)
		t.Cycles = append(t.Cycles, r.Cycle)
		for k, v := range r.Settings {
			settings[k] = append(settings[k], v)
		}
		for k, v := range r.Sensors {
			sensors[k] = append(sensors[k], v)
		}
	}
	for k, v := range settings {
		t.Columns = append(t.Columns, types.Column{Name: SettingName(k), Role: types.RoleSetting})
		t.Values = append(t.Values, v)
	}
	for k, v := range sensors {
		t.Columns = append(t.Columns, types.Column{Name: SensorName(k), Role: types.RoleSensor})
		t.Values = append(t.Values, v)
	}

	rul := make([]float64, t.Len())
	for _, u := range t.UnitRanges() {
		maxCycle := t.Cycles[u.End-1]
		for i := u.Start; i < u.End; i++ {
			v := float64(maxCycle - t.Cycles[i])
			if v > rulCap {
				v = rulCap
			}
			rul[i] = v
		}
	}
	t.Columns = append(t.Columns, types.Column{Name: types.ColumnRUL, Role: types.RoleLabel})
	t.Values = append(t.Values, rul)
	return t
}
