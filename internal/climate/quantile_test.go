package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestQuantiles_LinearInterpolation(t *testing.T) {
	values := []float64{11, 3, 7, 1, 9, 5, 2, 10, 4, 8, 6}

	bp, ok := Quantiles(values)
	require.True(t, ok)
	assert.Equal(t, Breakpoints{1.2, 2, 3.5, 6, 8.5, 10, 10.8}, bp)
}

func TestQuantiles_BelowMinimumSamples(t *testing.T) {
	_, ok := Quantiles([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9})
	assert.False(t, ok)
}

func TestQuantiles_RoundsToFourPlaces(t *testing.T) {
	values := []float64{0.123456, 0.223456, 0.323456, 0.423456, 0.523456, 0.623456, 0.723456, 0.823456, 0.923456, 1.023456}
	bp, ok := Quantiles(values)
	require.True(t, ok)
	assert.Equal(t, 0.5735, bp[P50])
}

func TestEstimateAll_OrderedBreakpoints(t *testing.T) {
	obs := synthetic(2000, 2009, constAmplitude(15), distuv.Normal{Mu: 0, Sigma: 3})
	s := NewSeries(obs, MetricTavg)

	for _, window := range []int{1, 7, 30} {
		estimates := EstimateAll(s, window, DefaultHalfwidth)
		require.Len(t, estimates, DaysInCycle, "window %d", window)
		for _, e := range estimates {
			for i := 1; i < len(e.Breakpoints); i++ {
				assert.LessOrEqual(t, e.Breakpoints[i-1], e.Breakpoints[i], "window %d doy %d", window, e.DOY)
			}
			assert.Equal(t, 2000, e.FirstYear)
			assert.Equal(t, 2009, e.LastYear)
			assert.GreaterOrEqual(t, e.NSamples, MinSamples)
		}
	}
}

func TestEstimateAll_SkipsSparseDays(t *testing.T) {
	// One non-leap year: a zero halfwidth leaves one sample per day, while a
	// halfwidth of five gathers at least ten, DOY 366 included.
	obs := synthetic(2023, 2023, constAmplitude(15), distuv.Normal{Mu: 0, Sigma: 1})
	s := NewSeries(obs, MetricTavg)

	estimates := EstimateAll(s, 1, 0)
	assert.Empty(t, estimates, "a single sample per day is below the minimum")

	estimates = EstimateAll(s, 1, 5)
	assert.Len(t, estimates, DaysInCycle)
}

func TestEstimateDOY_SeasonalCycle(t *testing.T) {
	obs := synthetic(1990, 2019, constAmplitude(15), distuv.Normal{Mu: 0, Sigma: 3})
	s := NewSeries(obs, MetricTavg)

	jan, ok := EstimateDOY(s, 7, 15, DefaultHalfwidth)
	require.True(t, ok)
	jul, ok := EstimateDOY(s, 7, 196, DefaultHalfwidth)
	require.True(t, ok)

	assert.Less(t, jan.Breakpoints[P50], jul.Breakpoints[P50])
	assert.Equal(t, 30*(2*DefaultHalfwidth+1), jan.NSamples)
}

func TestEstimateDOYs_MatchesSingleEstimates(t *testing.T) {
	obs := synthetic(2000, 2014, constAmplitude(15), distuv.Normal{Mu: 0, Sigma: 3})
	s := NewSeries(obs, MetricTavg).Since(2005)

	batch := EstimateDOYs(s, 3, []int{1, 100, 100, 366}, DefaultHalfwidth)
	require.Len(t, batch, 3)
	for doy, e := range batch {
		single, ok := EstimateDOY(s, 3, doy, DefaultHalfwidth)
		require.True(t, ok)
		assert.Equal(t, single, e)
		assert.Equal(t, 2005, e.FirstYear)
	}
}

func TestEstimateRow(t *testing.T) {
	e := Estimate{DOY: 42, Breakpoints: Breakpoints{1, 2, 3, 4, 5, 6, 7}, NSamples: 150, FirstYear: 1990, LastYear: 2020}
	row := e.Row("TEST001", MetricTmax, 7, DefaultHalfwidth)

	assert.Equal(t, "tmax_c", row.Metric)
	assert.Equal(t, 42, row.EndDOY)
	assert.Equal(t, 4.0, row.P50.Float64)
	assert.Equal(t, e.Breakpoints, BreakpointsFromRow(row))
}
