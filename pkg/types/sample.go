package types

// Window is one sequence-model sample: Rows[k] holds the feature values of
// the k-th cycle of the slice. Target is the label of the final row.
type Window struct {
	Unit     int
	EndCycle int
	Rows     [][]float64
	Target   float64
}

// TabularSample is one tabular-model sample: the most recent row of a unit.
type TabularSample struct {
	Unit   int
	Cycle  int
	Row    []float64
	Target float64
}
