package climate

import (
	"database/sql"
	"math"
	"slices"

	"github.com/lox/extremetemps/internal/models"
)

// MinSamples is the fewest window samples that yield a climatology.
const MinSamples = 10

// Probabilities are the quantile levels kept for every climatology row.
var Probabilities = [...]float64{0.02, 0.10, 0.25, 0.50, 0.75, 0.90, 0.98}

// PercentileLabels are Probabilities expressed as percentiles.
var PercentileLabels = [...]float64{2, 10, 25, 50, 75, 90, 98}

// Breakpoints holds quantile values aligned with Probabilities. NaN marks a
// missing breakpoint.
type Breakpoints [len(Probabilities)]float64

// Index positions into Breakpoints.
const (
	P02 = iota
	P10
	P25
	P50
	P75
	P90
	P98
)

// BreakpointsFromRow converts a stored climatology row.
func BreakpointsFromRow(r models.QuantileRow) Breakpoints {
	cols := [...]sql.NullFloat64{r.P02, r.P10, r.P25, r.P50, r.P75, r.P90, r.P98}
	var bp Breakpoints
	for i, c := range cols {
		bp[i] = math.NaN()
		if c.Valid {
			bp[i] = c.Float64
		}
	}
	return bp
}

// Get returns breakpoint i, or false if it is missing.
func (bp Breakpoints) Get(i int) (float64, bool) {
	v := bp[i]
	return v, !math.IsNaN(v)
}

// Quantiles computes the standard breakpoints over values using linear
// interpolation between closest ranks, rounded to 4 decimal places.
// It returns false for fewer than MinSamples values.
func Quantiles(values []float64) (Breakpoints, bool) {
	var bp Breakpoints
	if len(values) < MinSamples {
		return bp, false
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	for i, p := range Probabilities {
		bp[i] = round(linearQuantile(sorted, p), 4)
	}
	return bp, true
}

func linearQuantile(sorted []float64, p float64) float64 {
	h := float64(len(sorted)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i >= len(sorted)-1 {
		return sorted[len(sorted)-1]
	}
	return sorted[i] + (h-lo)*(sorted[i+1]-sorted[i])
}

// Estimate is the climatology for one target day-of-year.
type Estimate struct {
	DOY         int
	Breakpoints Breakpoints
	NSamples    int
	FirstYear   int
	LastYear    int
}

// Row converts e into a storable climatology row.
func (e Estimate) Row(stationID string, m Metric, windowDays, halfwidth int) models.QuantileRow {
	nf := func(i int) sql.NullFloat64 {
		v, ok := e.Breakpoints.Get(i)
		return sql.NullFloat64{Float64: v, Valid: ok}
	}
	return models.QuantileRow{
		StationID:  stationID,
		Metric:     string(m),
		WindowDays: windowDays,
		EndDOY:     e.DOY,
		Halfwidth:  halfwidth,
		P02:        nf(P02),
		P10:        nf(P10),
		P25:        nf(P25),
		P50:        nf(P50),
		P75:        nf(P75),
		P90:        nf(P90),
		P98:        nf(P98),
		NSamples:   e.NSamples,
		FirstYear:  e.FirstYear,
		LastYear:   e.LastYear,
	}
}

// Sampler holds a rolled series so that many day-of-year targets can be
// estimated from one pass over the history.
type Sampler struct {
	rolled    Series
	doys      []int
	firstYear int
	lastYear  int
}

// NewSampler rolls s over windowDays and indexes each point's day-of-year.
func NewSampler(s Series, windowDays int) *Sampler {
	rolled := s.Rolling(windowDays)
	sp := &Sampler{rolled: rolled, doys: make([]int, len(rolled))}
	for i, p := range rolled {
		sp.doys[i] = DayOfYear(p.Date)
	}
	sp.firstYear, sp.lastYear, _ = rolled.YearSpan()
	return sp
}

// Len returns the number of rolled samples available.
func (sp *Sampler) Len() int {
	return len(sp.rolled)
}

// Estimate computes the climatology for doy, or false when fewer than
// MinSamples values fall inside the circular window.
func (sp *Sampler) Estimate(doy, halfwidth int) (Estimate, bool) {
	var subset []float64
	for i, d := range sp.doys {
		if WithinWindow(d, doy, halfwidth) {
			subset = append(subset, sp.rolled[i].Value)
		}
	}
	bp, ok := Quantiles(subset)
	if !ok {
		return Estimate{}, false
	}
	return Estimate{
		DOY:         doy,
		Breakpoints: bp,
		NSamples:    len(subset),
		FirstYear:   sp.firstYear,
		LastYear:    sp.lastYear,
	}, true
}

// EstimateDOY computes the climatology of s for a single day-of-year.
func EstimateDOY(s Series, windowDays, doy, halfwidth int) (Estimate, bool) {
	return NewSampler(s, windowDays).Estimate(doy, halfwidth)
}

// EstimateAll computes the climatology for every day-of-year, skipping days
// with too few samples.
func EstimateAll(s Series, windowDays, halfwidth int) []Estimate {
	sp := NewSampler(s, windowDays)
	if sp.Len() == 0 {
		return nil
	}
	var out []Estimate
	for doy := 1; doy <= DaysInCycle; doy++ {
		if e, ok := sp.Estimate(doy, halfwidth); ok {
			out = append(out, e)
		}
	}
	return out
}

// EstimateDOYs computes the climatology for each requested day-of-year.
// Days with too few samples are absent from the result.
func EstimateDOYs(s Series, windowDays int, doys []int, halfwidth int) map[int]Estimate {
	sp := NewSampler(s, windowDays)
	out := make(map[int]Estimate, len(doys))
	for _, doy := range doys {
		if _, done := out[doy]; done {
			continue
		}
		if e, ok := sp.Estimate(doy, halfwidth); ok {
			out[doy] = e
		}
	}
	return out
}
