package features

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// The kernels below run over a whole column regardless of unit boundaries.
// Rows whose window reaches back into a preceding unit are zeroed afterwards
// by mask, so each kernel only has to be correct for complete windows.

// rollingMean returns the trailing mean over w rows; rows with fewer than w
// predecessors are NaN.
func rollingMean(x []float64, w int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < w-1 {
			out[i] = math.NaN()
			continue
		}
		var sum float64
		for _, v := range x[i-w+1 : i+1] {
			sum += v
		}
		out[i] = sum / float64(w)
	}
	return out
}

// rollingStd returns the trailing sample standard deviation over w rows.
func rollingStd(x []float64, w int) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i < w-1 || w < 2 {
			out[i] = math.NaN()
			continue
		}
		out[i] = stat.StdDev(x[i-w+1:i+1], nil)
	}
	return out
}

// delta returns the first difference; row 0 has none and is NaN.
func delta(x []float64) []float64 {
	out := make([]float64, len(x))
	for i := range x {
		if i == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i] - x[i-1]
	}
	return out
}

// slopeWeights returns the least-squares slope kernel for a window of w
// evenly spaced rows: weights[k] = k - mean(k) and their sum of squares.
func slopeWeights(w int) (weights []float64, denom float64) {
	weights = make([]float64, w)
	mid := float64(w-1) / 2
	for k := range weights {
		weights[k] = float64(k) - mid
		denom += weights[k] * weights[k]
	}
	return weights, denom
}

// trend returns the causal least-squares slope over the trailing w rows:
// sum((t - mean t) * y(t)) / sum((t - mean t)^2).
func trend(x []float64, w int) []float64 {
	weights, denom := slopeWeights(w)
	out := make([]float64, len(x))
	for i := range x {
		if i < w-1 || denom == 0 {
			out[i] = math.NaN()
			continue
		}
		var num float64
		base := i - w + 1
		for k, wk := range weights {
			num += wk * x[base+k]
		}
		out[i] = num / denom
	}
	return out
}
