package insight

import (
	"context"
	"fmt"
	"time"

	"github.com/lox/extremetemps/internal/climate"
)

// RankingRequest identifies the period to rank against every other year.
type RankingRequest struct {
	StationID  string
	EndDate    time.Time
	WindowDays int
	Metric     climate.Metric
	Halfwidth  *int // nil means climate.DefaultHalfwidth; 0 is the exact day
	SinceYear  *int
	Mode       climate.RankingMode
	Direction  climate.Direction // extremes mode only
}

func (s *Service) Ranking(ctx context.Context, req RankingRequest) (*climate.Ranking, error) {
	if _, err := s.station(req.StationID); err != nil {
		return nil, err
	}
	obs, err := s.repo.GetDailyObservations(req.StationID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	halfwidth := climate.DefaultHalfwidth
	if req.Halfwidth != nil {
		if *req.Halfwidth < 0 {
			return nil, fmt.Errorf("halfwidth %d must not be negative", *req.Halfwidth)
		}
		halfwidth = *req.Halfwidth
	}
	params := climate.RankingParams{
		EndDate:    req.EndDate,
		WindowDays: req.WindowDays,
		Halfwidth:  halfwidth,
		SinceYear:  req.SinceYear,
	}
	series := climate.NewSeries(obs, req.Metric)

	switch req.Mode {
	case climate.RankingExtremes:
		return climate.ExtremesRanking(series, params, req.Direction)
	case climate.RankingSeasonal, "":
		return climate.SeasonalRanking(series, params)
	}
	return nil, fmt.Errorf("unknown ranking mode %q", req.Mode)
}

// SeriesRequest asks for a rolling series with climatology bands.
type SeriesRequest struct {
	StationID  string
	WindowDays int
	Metric     climate.Metric
	Start      time.Time
	End        time.Time
	SinceYear  *int
}

// SeriesPoint is one rolling value with its percentile and normal bands.
type SeriesPoint struct {
	EndDate    time.Time
	Value      float64
	Percentile *float64
	P10        *float64
	P25        *float64
	P50        *float64
	P75        *float64
	P90        *float64
}

type SeriesResult struct {
	StationID  string
	WindowDays int
	Metric     climate.Metric
	SinceYear  *int
	Points     []SeriesPoint
}

// Series returns the complete rolling windows ending within [Start, End].
func (s *Service) Series(ctx context.Context, req SeriesRequest) (*SeriesResult, error) {
	start, end := climate.Day(req.Start), climate.Day(req.End)
	lookback := climate.WindowStart(start, req.WindowDays)
	obs, err := s.repo.GetDailyObservations(req.StationID, &lookback, &end)
	if err != nil {
		return nil, fmt.Errorf("load range: %w", err)
	}
	if len(obs) == 0 {
		return nil, ErrNoData
	}

	rolled := climate.NewSeries(obs, req.Metric).Rolling(req.WindowDays).Between(start, end)

	doys := make([]int, 0, len(rolled))
	for _, p := range rolled {
		doys = append(doys, climate.DayOfYear(p.Date))
	}
	quantiles, err := s.sourceFor(req.SinceYear).QuantilesForDOYs(ctx, req.StationID, req.Metric, req.WindowDays, doys)
	if err != nil {
		return nil, err
	}

	result := &SeriesResult{
		StationID:  req.StationID,
		WindowDays: req.WindowDays,
		Metric:     req.Metric,
		SinceYear:  req.SinceYear,
		Points:     make([]SeriesPoint, 0, len(rolled)),
	}
	for i, p := range rolled {
		pt := SeriesPoint{EndDate: p.Date, Value: round(p.Value, 2)}
		if q, ok := quantiles[doys[i]]; ok {
			if pct, ok := climate.Percentile(p.Value, climate.BreakpointsFromRow(q)); ok {
				v := round(pct, 1)
				pt.Percentile = &v
			}
			pt.P10 = nullable(q.P10.Float64, q.P10.Valid)
			pt.P25 = nullable(q.P25.Float64, q.P25.Valid)
			pt.P50 = nullable(q.P50.Float64, q.P50.Valid)
			pt.P75 = nullable(q.P75.Float64, q.P75.Valid)
			pt.P90 = nullable(q.P90.Float64, q.P90.Valid)
		}
		result.Points = append(result.Points, pt)
	}
	return result, nil
}

