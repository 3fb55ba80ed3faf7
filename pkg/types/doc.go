// Package types defines the shared data model of the preprocessing pipeline.
// These are the canonical in-memory representations handed between stages and
// to downstream model collaborators.
//
//   - Record — one raw telemetry row (unit, cycle, 3 settings, N sensors)
//   - Table — column-major feature table, one row per record, sorted by
//     (unit, cycle); every column carries a Role tag, its Source sensor and the
//     Window it was computed over, so selection and masking never parse names
//   - FittedTransform — every learned parameter (kept sensors, scaler, unit
//     baselines, PCA basis, min-max bounds, polarity). Captured once at fit
//     time, read-only afterwards.
//   - Window / TabularSample — model-ready samples keyed by unit
//
// ErrFormat and ErrSchema classify fatal failures; callers use errors.Is.
package types
