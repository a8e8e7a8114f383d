package reduce

import (
	"math"
	"sort"

	"github.com/schlafly/bayestar/internal/model"
)

// EBVPercentile is the percentile used to summarise a pixel's reddening.
const EBVPercentile = 95

// Percentile returns the q-th percentile (0..100) of values using linear
// interpolation between the two closest ranks. It returns NaN for an empty
// input or when any value is NaN. values is not modified.
func Percentile(values []float64, q float64) float64 {
	n := len(values)
	if n == 0 || math.IsNaN(q) {
		return math.NaN()
	}
	sorted := make([]float64, n)
	copy(sorted, values)
	for _, v := range sorted {
		if math.IsNaN(v) {
			return math.NaN()
		}
	}
	sort.Float64s(sorted)

	q = math.Max(0, math.Min(100, q))
	rank := q / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	frac := rank - float64(lo)
	if lo == hi || frac == 0 {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// EBV summarises the reddening of a group as its 95th percentile.
func EBV(g model.PixelGroup) float64 {
	return Percentile(g.EBV(), EBVPercentile)
}
