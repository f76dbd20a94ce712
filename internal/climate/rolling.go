package climate

import (
	"database/sql"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/lox/extremetemps/internal/models"
)

// WindowValue is the trailing mean of one metric ending on a date.
type WindowValue struct {
	StartDate     time.Time
	EndDate       time.Time
	Value         float64
	CoverageRatio float64
	NValid        int
}

// WindowStart returns the first day of the window of windowDays ending on end.
func WindowStart(end time.Time, windowDays int) time.Time {
	return Day(end).AddDate(0, 0, -(windowDays - 1))
}

// RollingValue averages metric m over [end-windowDays+1, end]. It returns
// false when no observation in that range has a value.
func RollingValue(obs []models.DailyObservation, end time.Time, windowDays int, m Metric) (WindowValue, bool) {
	end = Day(end)
	start := WindowStart(end, windowDays)
	values := NewSeries(obs, m).Between(start, end).Values()
	if len(values) == 0 {
		return WindowValue{}, false
	}
	return WindowValue{
		StartDate:     start,
		EndDate:       end,
		Value:         round(stat.Mean(values, nil), 4),
		CoverageRatio: round(float64(len(values))/float64(windowDays), 4),
		NValid:        len(values),
	}, true
}

// RecentAggregate summarises every metric over the window ending on end.
// Means and the precipitation sum tolerate gaps; coverage counts days with tavg.
func RecentAggregate(stationID string, obs []models.DailyObservation, end time.Time, windowDays int) (models.WindowAggregate, bool) {
	end = Day(end)
	start := WindowStart(end, windowDays)
	agg := models.WindowAggregate{
		StationID:  stationID,
		WindowDays: windowDays,
		StartDate:  start,
		EndDate:    end,
	}

	tavg := NewSeries(obs, MetricTavg).Between(start, end).Values()
	tmin := NewSeries(obs, MetricTmin).Between(start, end).Values()
	tmax := NewSeries(obs, MetricTmax).Between(start, end).Values()
	prcp := NewSeries(obs, MetricPrcp).Between(start, end).Values()
	if len(tavg)+len(tmin)+len(tmax)+len(prcp) == 0 {
		return agg, false
	}

	agg.TavgMean = nullMean(tavg)
	agg.TminMean = nullMean(tmin)
	agg.TmaxMean = nullMean(tmax)
	if len(prcp) > 0 {
		var sum float64
		for _, v := range prcp {
			sum += v
		}
		agg.PrcpSum.Float64, agg.PrcpSum.Valid = round(sum, 4), true
	}
	agg.CoverageRatio = round(float64(len(tavg))/float64(windowDays), 4)
	return agg, true
}

func nullMean(values []float64) (n sql.NullFloat64) {
	if len(values) == 0 {
		return n
	}
	m := stat.Mean(values, nil)
	if math.IsNaN(m) {
		return n
	}
	n.Float64, n.Valid = round(m, 4), true
	return n
}
