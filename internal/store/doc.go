// Package store holds the runtime context of a pipeline process: the fitted
// transform and the feature tables built from it, safe for one writer and
// many concurrent readers. Lookups by unit and cycle serve the sequence and
// tabular samples that model-serving collaborators request; rulprep keeps one
// Store per transform for the life of the process and reads unit samples
// from it with -unit.
package store
