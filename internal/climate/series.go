package climate

import (
	"math"
	"slices"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/lox/extremetemps/internal/models"
)

// Point is one dated value of a daily series.
type Point struct {
	Date  time.Time
	Value float64
}

// Series is a date-ordered daily series with at most one point per day.
// Missing days are absent rather than represented as NaN.
type Series []Point

// NewSeries extracts metric m from observations. Null and NaN values are
// dropped; when a date repeats, the later observation wins.
func NewSeries(obs []models.DailyObservation, m Metric) Series {
	s := make(Series, 0, len(obs))
	for _, o := range obs {
		v := m.Value(o)
		if !v.Valid || math.IsNaN(v.Float64) {
			continue
		}
		s = append(s, Point{Date: Day(o.Date), Value: v.Float64})
	}
	slices.SortStableFunc(s, func(a, b Point) int { return a.Date.Compare(b.Date) })

	out := s[:0]
	for _, p := range s {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// DaysBetween returns the whole number of days from a to b.
func DaysBetween(a, b time.Time) int {
	return int(math.Round(Day(b).Sub(Day(a)).Hours() / 24))
}

// Since returns the points from year onwards.
func (s Series) Since(year int) Series {
	i, _ := slices.BinarySearchFunc(s, year, func(p Point, y int) int {
		return p.Date.Year() - y
	})
	return s[i:]
}

// Between returns points with start <= date <= end.
func (s Series) Between(start, end time.Time) Series {
	start, end = Day(start), Day(end)
	lo, _ := slices.BinarySearchFunc(s, start, func(p Point, t time.Time) int { return p.Date.Compare(t) })
	hi, found := slices.BinarySearchFunc(s, end, func(p Point, t time.Time) int { return p.Date.Compare(t) })
	if found {
		hi++
	}
	if lo > hi {
		return nil
	}
	return s[lo:hi]
}

// Values returns the raw values in date order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Value
	}
	return out
}

// YearSpan returns the first and last calendar years present.
func (s Series) YearSpan() (first, last int, ok bool) {
	if len(s) == 0 {
		return 0, 0, false
	}
	return s[0].Date.Year(), s[len(s)-1].Date.Year(), true
}

// Rolling returns the trailing mean over window days. A date is kept only when
// every calendar day of its trailing window has a value.
func (s Series) Rolling(window int) Series {
	if window <= 1 {
		return s
	}
	if len(s) < window {
		return nil
	}
	cum := floats.CumSum(make([]float64, len(s)), s.Values())
	out := make(Series, 0, len(s)-window+1)
	for i := window - 1; i < len(s); i++ {
		start := i - window + 1
		if DaysBetween(s[start].Date, s[i].Date) != window-1 {
			continue
		}
		sum := cum[i]
		if start > 0 {
			sum -= cum[start-1]
		}
		out = append(out, Point{Date: s[i].Date, Value: sum / float64(window)})
	}
	return out
}

func round(x float64, places int) float64 {
	pow := math.Pow(10, float64(places))
	return math.Round(x*pow) / pow
}
