package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/rulstack/rulstack/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (defaults apply when empty)")
	mode := flag.String("mode", "fit", "fit: learn a transform from reference data; apply: featurize with a stored transform")
	input := flag.String("input", "", "whitespace-delimited telemetry file")
	name := flag.String("name", "", "dataset name for artifacts (defaults to the mode: train or test)")
	transformPath := flag.String("transform", "", "transform file to read in apply mode (overrides output.transform_path)")
	watchInput := flag.Bool("watch", false, "apply mode: re-run whenever the input or config file changes")
	unit := flag.String("unit", "", "log the model samples of this unit after each run (engine-7, unit-7 or 7)")
	cycle := flag.Int("cycle", 0, "cycle for -unit (0 = latest)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("rulprep starting", "mode", *mode, "input", *input, "config", *configPath)

	if *input == "" {
		slog.Error("missing -input")
		os.Exit(2)
	}
	if *mode != "fit" && *mode != "apply" {
		slog.Error("unknown -mode", "mode", *mode)
		os.Exit(2)
	}
	if *watchInput && *mode != "apply" {
		slog.Error("-watch is only supported in apply mode")
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}
	slog.Info("config loaded",
		"sensor_count", cfg.Loader.SensorCount,
		"windows", []int{cfg.Features.ShortWindow, cfg.Features.LongWindow},
		"sequence_window", cfg.Dataset.Window,
		"output_dir", cfg.Output.Dir,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	r := newRunner(cfg)
	r.unit, r.cycle = *unit, *cycle
	if err := r.restoreMetrics(); err != nil {
		slog.Warn("metrics not restored", "err", err)
	}

	ds := *name
	if ds == "" {
		ds = map[string]string{"fit": "train", "apply": "test"}[*mode]
	}

	var err error
	switch *mode {
	case "fit":
		err = r.fit(ctx, *input, ds)
	case "apply":
		if *watchInput {
			err = r.watchApply(ctx, *input, ds, *transformPath, *configPath)
		} else {
			err = r.apply(ctx, *input, ds, *transformPath)
		}
	}
	if err != nil {
		slog.Error("rulprep failed", "mode", *mode, "err", err)
		os.Exit(1)
	}
	slog.Info("rulprep finished", "mode", *mode)
}
