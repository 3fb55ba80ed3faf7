// Package artifact persists what a pipeline run produces.
//
// transform.go reads and writes the FittedTransform as JSON. csv.go exports a
// feature table as CSV. db.go keeps every run in a SQLite database (pure Go
// driver): the transform and its column schema, each feature row, and one
// health summary per unit. Files are written to a temporary name and renamed,
// and database writes happen in one transaction per run, so a failed run
// leaves no partial artifact behind.
package artifact
