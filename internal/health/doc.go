// Package health expresses a unit's remaining useful life as a percentage of
// the reference maximum and maps it to a named state.
//
// Compute is pure. Summarize reduces a featurized table to one UnitSummary
// per unit for collaborators that report fleet status.
//
// States: Nominal ≥70, Warning 40–70, Critical <40, Unknown when no
// reference maximum is known.
package health
