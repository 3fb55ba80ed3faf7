package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/rulstack/rulstack/internal/artifact"
	"github.com/rulstack/rulstack/internal/config"
	"github.com/rulstack/rulstack/internal/dataset"
	"github.com/rulstack/rulstack/internal/engine"
	"github.com/rulstack/rulstack/internal/health"
	"github.com/rulstack/rulstack/internal/loader"
	"github.com/rulstack/rulstack/internal/metrics"
	"github.com/rulstack/rulstack/internal/store"
	"github.com/rulstack/rulstack/internal/watch"
	"github.com/rulstack/rulstack/pkg/types"
)

// runner executes pipeline runs against the current configuration and
// publishes their artifacts.
type runner struct {
	cfg atomic.Pointer[config.Config]
	rec *metrics.Recorder

	// mu serializes runs so concurrent triggers never interleave writes to
	// the same artifact files.
	mu sync.Mutex

	// tables is the runtime context: the transform in use and the feature
	// tables built from it. It lives for the whole process and is replaced
	// only when a run brings a different transform or sequence window.
	tables atomic.Pointer[store.Store]

	// unit and cycle select a unit sample logged after every run.
	unit  string
	cycle int
}

func newRunner(cfg *config.Config) *runner {
	r := &runner{rec: metrics.New()}
	r.cfg.Store(cfg)
	return r
}

func (r *runner) config() *config.Config { return r.cfg.Load() }

func (r *runner) restoreMetrics() error {
	cfg := r.config()
	if cfg.Output.MetricsPath == "" {
		return nil
	}
	return r.rec.Restore(cfg.Output.Resolve(cfg.Output.MetricsPath))
}

// fit learns a transform from the reference file at input and writes it
// alongside the featurized reference table.
func (r *runner) fit(ctx context.Context, input, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.config()

	raw, err := loader.Load(input, cfg.LoaderOptions())
	if err != nil {
		return r.fail("fit", err)
	}
	res, err := engine.Fit(ctx, raw, cfg.EngineOptions())
	if err != nil {
		return r.fail("fit", err)
	}
	return r.publish(ctx, cfg, name, res)
}

// apply featurizes input with a previously fitted transform.
func (r *runner) apply(ctx context.Context, input, name, transformPath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg := r.config()

	tr, err := r.loadTransform(ctx, cfg, transformPath)
	if err != nil {
		return r.fail("apply", err)
	}
	raw, err := loader.Load(input, cfg.LoaderOptions())
	if err != nil {
		return r.fail("apply", err)
	}
	res, err := engine.Apply(ctx, tr, raw, cfg.EngineOptions())
	if err != nil {
		return r.fail("apply", err)
	}
	return r.publish(ctx, cfg, name, res)
}

// watchApply runs apply once and again after every change to input or to the
// config file, until ctx is cancelled. A failed re-run is logged and the
// previous artifacts stay in place.
func (r *runner) watchApply(ctx context.Context, input, name, transformPath, configPath string) error {
	if err := r.apply(ctx, input, name, transformPath); err != nil {
		return err
	}

	rerun := func() {
		if err := r.apply(ctx, input, name, transformPath); err != nil {
			slog.Error("apply failed, keeping previous artifacts", "err", err)
		}
	}

	var wg sync.WaitGroup
	if configPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := config.Watch(ctx, configPath, func(cfg *config.Config) {
				r.cfg.Store(cfg)
				slog.Info("config reloaded")
				rerun()
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	err := watch.File(ctx, input, watch.DefaultDebounce, rerun)
	wg.Wait()
	slog.Info("shutdown signal received, exiting")
	return err
}

// loadTransform reads the transform file, falling back to the most recent
// transform in the artifact database when the file is absent.
func (r *runner) loadTransform(ctx context.Context, cfg *config.Config, override string) (*types.FittedTransform, error) {
	path := override
	if path == "" {
		path = cfg.Output.Resolve(cfg.Output.TransformPath)
	}
	tr, err := artifact.ReadTransform(path)
	if err == nil || !errors.Is(err, fs.ErrNotExist) || cfg.Output.SQLitePath == "" {
		return tr, err
	}

	db, derr := artifact.Open(ctx, cfg.Output.Resolve(cfg.Output.SQLitePath))
	if derr != nil {
		return nil, err
	}
	defer db.Close()
	tr, derr = db.LoadTransform(ctx, "")
	if derr != nil {
		return nil, fmt.Errorf("%w (database: %v)", err, derr)
	}
	slog.Info("transform loaded from database", "run_id", tr.RunID)
	return tr, nil
}

// publish builds the model datasets for res and writes every artifact. A fit
// run writes its transform last, so a failed run never leaves a transform
// without the feature table it was fitted on.
func (r *runner) publish(ctx context.Context, cfg *config.Config, name string, res *engine.Result) error {
	mode := res.Report.Mode
	t := res.Table

	cols := dataset.Columns(t)
	windows, drep, err := dataset.Windows(ctx, t, cols, cfg.DatasetOptions())
	if err != nil {
		return r.fail(mode, err)
	}
	tab, err := dataset.Tabular(t, cols)
	if err != nil {
		return r.fail(mode, err)
	}
	slog.Info("datasets built", "dataset", name, "windows", len(windows),
		"tabular", len(tab), "skipped_units", drep.Skipped, "truncated", drep.Truncated)

	sums, err := health.Summarize(t, res.Transform.MaxRUL)
	if err != nil {
		return r.fail(mode, err)
	}

	csvPath := cfg.Output.Resolve(fmt.Sprintf("features_%s.csv", name))
	if err := artifact.WriteCSVFile(csvPath, t); err != nil {
		return r.fail(mode, err)
	}
	if cfg.Output.SQLitePath != "" {
		if err := saveRun(ctx, cfg.Output.Resolve(cfg.Output.SQLitePath), name, res, sums); err != nil {
			return r.fail(mode, err)
		}
	}
	if mode == "fit" {
		path := cfg.Output.Resolve(cfg.Output.TransformPath)
		if err := artifact.WriteTransform(path, res.Transform); err != nil {
			return r.fail(mode, err)
		}
		slog.Info("transform written", "path", path, "run_id", res.Transform.RunID,
			"kept", res.Report.Kept, "dropped", res.Report.Dropped)
	}

	st := r.storeFor(res.Transform, cfg.Dataset.Window)
	if err := st.Put(name, t); err != nil {
		return r.fail(mode, err)
	}
	r.tables.Store(st)

	r.rec.Observe(res.Report)
	r.rec.ObserveSamples(mode, drep, len(tab))
	r.writeMetrics()

	if err := logSummaries(st, name); err != nil {
		slog.Warn("unit health summary unavailable", "dataset", name, "err", err)
	}
	slog.Info("run complete", "mode", mode, "dataset", name, "rows", t.Len(),
		"features", csvPath, "elapsed", res.Report.Elapsed)
	if r.unit != "" {
		if err := r.inspect(name, r.unit, r.cycle); err != nil {
			slog.Warn("unit sample unavailable", "unit", r.unit, "cycle", r.cycle, "err", err)
		}
	}
	return nil
}

// storeFor returns the current store when it serves tr with the given window,
// and a fresh one otherwise.
func (r *runner) storeFor(tr *types.FittedTransform, window int) *store.Store {
	if cur := r.tables.Load(); cur != nil && cur.Transform().RunID == tr.RunID && cur.Window() == window {
		return cur
	}
	return store.New(tr, window)
}

// inspect logs the samples a model collaborator would receive for unit in the
// named table: its health summary, its tabular row at cycle and the sequence
// window ending there. A cycle of 0 selects the unit's latest cycle.
func (r *runner) inspect(name, unitID string, cycle int) error {
	st := r.tables.Load()
	if st == nil {
		return fmt.Errorf("no feature table loaded")
	}
	unit, err := store.ParseUnitID(unitID)
	if err != nil {
		return err
	}
	sum, err := st.Summary(name, unit)
	if err != nil {
		return err
	}
	row, err := st.Row(name, unit, cycle)
	if err != nil {
		return err
	}
	attrs := []any{
		"dataset", name, "unit", unit, "cycle", row.Cycle, "rul", row.Target,
		"percent", sum.Percent, "state", sum.State, "features", len(row.Row),
	}
	w, err := st.Sequence(name, unit, row.Cycle)
	switch {
	case err == nil:
		attrs = append(attrs, "window_rows", len(w.Rows), "window_end", w.EndCycle)
	case errors.Is(err, store.ErrNotFound):
		attrs = append(attrs, "window_rows", 0)
	default:
		return err
	}
	slog.Info("unit sample", attrs...)
	return nil
}

func saveRun(ctx context.Context, path, name string, res *engine.Result, sums []health.UnitSummary) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("artifact dir: %w", err)
	}
	db, err := artifact.Open(ctx, path)
	if err != nil {
		return err
	}
	defer db.Close()
	_, err = db.SaveRun(ctx, name, res, sums)
	return err
}

// fail counts the failed run and returns err unchanged.
func (r *runner) fail(mode string, err error) error {
	r.rec.ObserveFailure(mode)
	r.writeMetrics()
	return err
}

func (r *runner) writeMetrics() {
	cfg := r.config()
	if cfg.Output.MetricsPath == "" {
		return
	}
	path := cfg.Output.Resolve(cfg.Output.MetricsPath)
	if err := r.rec.WriteFile(path); err != nil {
		slog.Warn("metrics not written", "path", path, "err", err)
	}
}

// logSummaries logs the health state counts of the named table, read back
// from the store as collaborators see them.
func logSummaries(st *store.Store, name string) error {
	units, err := st.Units(name)
	if err != nil {
		return err
	}
	counts := map[string]int{}
	for _, u := range units {
		s, err := st.Summary(name, u)
		if err != nil {
			return err
		}
		counts[s.State]++
		slog.Debug("unit health", "dataset", name, "unit", s.Unit, "last_cycle", s.LastCycle,
			"rul", s.RUL, "health_index", s.HealthIndex, "percent", s.Percent, "state", s.State)
	}
	slog.Info("unit health summary", "dataset", name, "units", len(units),
		health.StateNominal, counts[health.StateNominal],
		health.StateWarning, counts[health.StateWarning],
		health.StateCritical, counts[health.StateCritical],
		health.StateUnknown, counts[health.StateUnknown],
	)
	return nil
}
