package strategy

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MovingSum returns the trailing sums over n samples. Only full windows are
// emitted, so the result is n-1 shorter than the input.
func MovingSum(series []float64, n int) []float64 {
	if n <= 0 || len(series) < n {
		return nil
	}
	out := make([]float64, len(series)-n+1)
	sum := floats.Sum(series[:n])
	out[0] = sum
	for i := n; i < len(series); i++ {
		sum += series[i] - series[i-n]
		out[i-n+1] = sum
	}
	return out
}

// SimpleMovingAverage returns the trailing arithmetic means over n samples,
// trimmed like MovingSum.
func SimpleMovingAverage(series []float64, n int) []float64 {
	out := MovingSum(series, n)
	floats.Scale(1/float64(n), out)
	return out
}

// Percentile interpolates linearly between the two closest ranks, p in [0, 100].
func Percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (rank-float64(lo))*(sorted[hi]-sorted[lo])
}

func toFloats(values []int) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}
