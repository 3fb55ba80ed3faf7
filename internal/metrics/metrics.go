package metrics

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/rulstack/rulstack/internal/atomicfile"
	"github.com/rulstack/rulstack/internal/dataset"
	"github.com/rulstack/rulstack/internal/engine"
)

// Metric family names.
const (
	RunsTotal            = "rulprep_runs_total"
	RunFailuresTotal     = "rulprep_run_failures_total"
	MaskedValuesTotal    = "rulprep_masked_values_total"
	SanitizedValuesTotal = "rulprep_sanitized_values_total"
	Rows                 = "rulprep_rows"
	Units                = "rulprep_units"
	Columns              = "rulprep_columns"
	DroppedSensors       = "rulprep_dropped_sensors"
	DegenerateBaselines  = "rulprep_degenerate_baselines"
	FreshBaselines       = "rulprep_fresh_baselines"
	WindowSamples        = "rulprep_window_samples"
	TabularSamples       = "rulprep_tabular_samples"
	SkippedUnits         = "rulprep_skipped_units"
	LastRunDuration      = "rulprep_last_run_duration_seconds"
	LastRunTimestamp     = "rulprep_last_run_timestamp_seconds"
)

// modeLabel distinguishes fit runs from apply runs.
const modeLabel = "mode"

type desc struct {
	help string
	typ  dto.MetricType
}

var descs = map[string]desc{
	RunsTotal:            {"Completed pipeline runs.", dto.MetricType_COUNTER},
	RunFailuresTotal:     {"Pipeline runs aborted by an error.", dto.MetricType_COUNTER},
	MaskedValuesTotal:    {"Values zeroed by the unit-boundary mask.", dto.MetricType_COUNTER},
	SanitizedValuesTotal: {"Non-finite values replaced with zero.", dto.MetricType_COUNTER},
	Rows:                 {"Rows in the last feature table.", dto.MetricType_GAUGE},
	Units:                {"Units in the last feature table.", dto.MetricType_GAUGE},
	Columns:              {"Columns in the last feature table.", dto.MetricType_GAUGE},
	DroppedSensors:       {"Sensors removed by the variance filter in the last fit.", dto.MetricType_GAUGE},
	DegenerateBaselines:  {"Unit/sensor drift baselines with fewer than two rows or zero deviation.", dto.MetricType_GAUGE},
	FreshBaselines:       {"Units whose drift baseline was computed from the input.", dto.MetricType_GAUGE},
	WindowSamples:        {"Sequence samples produced by the last run.", dto.MetricType_GAUGE},
	TabularSamples:       {"Tabular samples produced by the last run.", dto.MetricType_GAUGE},
	SkippedUnits:         {"Units shorter than the sequence window in the last run.", dto.MetricType_GAUGE},
	LastRunDuration:      {"Wall time of the last run.", dto.MetricType_GAUGE},
	LastRunTimestamp:     {"Unix time the last run finished.", dto.MetricType_GAUGE},
}

// Recorder accumulates pipeline run metrics and renders them in the
// Prometheus text exposition format. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	values map[string]map[string]float64 // family -> mode -> value
	now    func() time.Time
}

// New returns an empty Recorder.
func New() *Recorder {
	return &Recorder{
		values: make(map[string]map[string]float64),
		now:    time.Now,
	}
}

// Observe records a completed engine run.
func (r *Recorder) Observe(rep engine.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := rep.Mode
	r.add(RunsTotal, m, 1)
	r.add(MaskedValuesTotal, m, float64(rep.Features.Masked))
	r.add(SanitizedValuesTotal, m, float64(rep.Features.Sanitized))
	r.set(Rows, m, float64(rep.Rows))
	r.set(Units, m, float64(rep.Units))
	r.set(Columns, m, float64(rep.Columns))
	r.set(DegenerateBaselines, m, float64(rep.Features.DegenerateBaselines))
	r.set(FreshBaselines, m, float64(rep.Features.FreshBaselines))
	if m == "fit" {
		r.set(DroppedSensors, m, float64(len(rep.Dropped)))
	}
	r.set(LastRunDuration, m, rep.Elapsed.Seconds())
	r.set(LastRunTimestamp, m, float64(r.now().Unix()))
}

// ObserveSamples records the dataset sizes of a run.
func (r *Recorder) ObserveSamples(mode string, rep dataset.Report, tabular int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set(WindowSamples, mode, float64(rep.Samples))
	r.set(SkippedUnits, mode, float64(len(rep.Skipped)))
	r.set(TabularSamples, mode, float64(tabular))
}

// ObserveFailure counts an aborted run.
func (r *Recorder) ObserveFailure(mode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.add(RunFailuresTotal, mode, 1)
}

// Value returns the current value of a family for mode.
func (r *Recorder) Value(name, mode string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[name][mode]
}

// Restore seeds the counters from a textfile previously written by WriteFile,
// so totals keep growing across process restarts. A missing file is not an
// error. Gauges are not restored.
func (r *Recorder) Restore(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("metrics: restore: %w", err)
	}
	defer f.Close()

	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(f)
	if err != nil {
		return fmt.Errorf("metrics: restore %q: %w", path, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for name, mf := range mfs {
		if d, ok := descs[name]; !ok || d.typ != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			mode := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == modeLabel {
					mode = lp.GetValue()
				}
			}
			r.add(name, mode, m.GetCounter().GetValue())
		}
	}
	return nil
}

// Write renders every recorded family to w, sorted by name.
func (r *Recorder) Write(w io.Writer) error {
	for _, mf := range r.families() {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("metrics: write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// WriteFile writes the exposition to path atomically, for collection by a
// node-exporter textfile collector.
func (r *Recorder) WriteFile(path string) error {
	var buf bytes.Buffer
	if err := r.Write(&buf); err != nil {
		return err
	}
	if err := atomicfile.Write(path, buf.Bytes()); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	return nil
}

func (r *Recorder) families() []*dto.MetricFamily {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.values))
	for name := range r.values {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*dto.MetricFamily, 0, len(names))
	for _, name := range names {
		d := descs[name]
		mf := &dto.MetricFamily{
			Name: proto.String(name),
			Help: proto.String(d.help),
			Type: d.typ.Enum(),
		}
		modes := make([]string, 0, len(r.values[name]))
		for mode := range r.values[name] {
			modes = append(modes, mode)
		}
		sort.Strings(modes)
		for _, mode := range modes {
			v := r.values[name][mode]
			m := &dto.Metric{
				Label: []*dto.LabelPair{{Name: proto.String(modeLabel), Value: proto.String(mode)}},
			}
			if d.typ == dto.MetricType_COUNTER {
				m.Counter = &dto.Counter{Value: proto.Float64(v)}
			} else {
				m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
			}
			mf.Metric = append(mf.Metric, m)
		}
		out = append(out, mf)
	}
	return out
}

func (r *Recorder) add(name, mode string, v float64) {
	r.series(name)[mode] += v
}

func (r *Recorder) set(name, mode string, v float64) {
	r.series(name)[mode] = v
}

func (r *Recorder) series(name string) map[string]float64 {
	s, ok := r.values[name]
	if !ok {
		s = make(map[string]float64)
		r.values[name] = s
	}
	return s
}
