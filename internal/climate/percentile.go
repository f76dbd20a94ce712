package climate

import "math"

// Percentile places value against quantile breakpoints by piecewise-linear
// interpolation. Below the lowest breakpoint the percentile scales with
// value/breakpoint; above the highest it is a fixed half step into the tail.
// It returns false when there are no usable breakpoints or value is NaN.
func Percentile(value float64, bp Breakpoints) (float64, bool) {
	if math.IsNaN(value) {
		return 0, false
	}

	type pair struct{ p, v float64 }
	pairs := make([]pair, 0, len(bp))
	for i, v := range bp {
		if !math.IsNaN(v) {
			pairs = append(pairs, pair{p: PercentileLabels[i], v: v})
		}
	}
	if len(pairs) == 0 {
		return 0, false
	}

	lowest := pairs[0]
	if value <= lowest.v {
		if lowest.v == 0 {
			return 0, true
		}
		return lowest.p * (value / lowest.v), true
	}

	highest := pairs[len(pairs)-1]
	if value >= highest.v {
		return highest.p + (100-highest.p)*0.5, true
	}

	for i := 0; i+1 < len(pairs); i++ {
		lo, hi := pairs[i], pairs[i+1]
		if lo.v <= value && value <= hi.v {
			if hi.v == lo.v {
				return (lo.p + hi.p) / 2, true
			}
			frac := (value - lo.v) / (hi.v - lo.v)
			return lo.p + frac*(hi.p-lo.p), true
		}
	}
	return 50, true
}
