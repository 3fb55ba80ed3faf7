// Package features derives degradation features per retained sensor.
//
// For each sensor s, Apply adds (in this order):
//
//	s_rm<short>, s_rm<long>   trailing rolling mean
//	s_rs<short>, s_rs<long>   trailing rolling sample std
//	s_delta                   first difference
//	s_trend                   causal least-squares slope over <long> rows
//
// followed by one s_drift column per sensor: the z-score of the reading against
// the unit's own baseline (cycles <= BaselineCycles), with Epsilon added to the
// deviation.
//
// The rolling kernels run over the whole table at once. Every derived column
// carries its Window in the column metadata, and mask zeroes rows
// 0..Window-2 of every unit for every such column, so no value depends on a
// different unit. VerifyMasked re-checks this unit by unit before Apply
// returns. Remaining NaN/Inf values (from the kernels' warm-up or from bad
// input) are replaced with zero and counted in Report; this can hide genuine
// data-quality problems, so the count is logged.
//
// Sensors are processed concurrently (errgroup, bounded by Options.Workers);
// each worker writes its own slot so the output order is fixed.
package features
