package insight

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/metrics"
	"github.com/lox/extremetemps/internal/models"
)

// recentLookbackDays is how far back from the latest observation window
// aggregates are materialized.
const recentLookbackDays = 400

// ComputeSummary counts what a batch computation wrote. Failures of individual
// metrics and windows are collected rather than aborting the batch.
type ComputeSummary struct {
	StationID    string
	QuantileRows int
	Records      int
	Aggregates   int
	Errors       []error
	Duration     time.Duration
}

func (s *Service) history(stationID string) ([]models.DailyObservation, error) {
	obs, err := s.repo.GetDailyObservations(stationID, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("load history %s: %w", stationID, err)
	}
	return obs, nil
}

// ComputeClimatology rebuilds the quantile rows for one metric and window.
func (s *Service) ComputeClimatology(ctx context.Context, stationID string, m climate.Metric, windowDays, halfwidth int) (int, error) {
	obs, err := s.history(stationID)
	if err != nil {
		return 0, err
	}
	return s.computeClimatology(ctx, stationID, climate.NewSeries(obs, m), m, windowDays, halfwidth)
}

func (s *Service) computeClimatology(ctx context.Context, stationID string, series climate.Series, m climate.Metric, windowDays, halfwidth int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if halfwidth < 0 {
		return 0, fmt.Errorf("halfwidth %d must not be negative", halfwidth)
	}
	estimates := climate.EstimateAll(series, windowDays, halfwidth)
	rows := make([]models.QuantileRow, len(estimates))
	for i, e := range estimates {
		rows[i] = e.Row(stationID, m, windowDays, halfwidth)
	}
	if err := s.repo.ReplaceClimatologyQuantiles(stationID, string(m), windowDays, halfwidth, rows); err != nil {
		return 0, fmt.Errorf("store climatology %s/%d halfwidth %d: %w", m, windowDays, halfwidth, err)
	}
	metrics.ClimatologyRowsComputed.Add(float64(len(rows)))
	s.logger.Debug("compute: climatology", "station", stationID, "metric", m, "window_days", windowDays, "rows", len(rows))
	return len(rows), nil
}

// ComputeRecords rebuilds the all-time records for every temperature metric.
func (s *Service) ComputeRecords(ctx context.Context, stationID string) (int, error) {
	obs, err := s.history(stationID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range climate.TemperatureMetrics {
		n, err := s.computeRecords(ctx, stationID, obs, m)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (s *Service) computeRecords(ctx context.Context, stationID string, obs []models.DailyObservation, m climate.Metric) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	records := climate.FindAllTimeExtremes(stationID, climate.NewSeries(obs, m), m, climate.WindowSizes)
	if err := s.repo.ReplaceStationRecords(stationID, string(m), records); err != nil {
		return 0, fmt.Errorf("store records %s: %w", m, err)
	}
	return len(records), nil
}

// ComputeRecentWindows materializes trailing aggregates for every observed
// end date in the last recentLookbackDays.
func (s *Service) ComputeRecentWindows(ctx context.Context, stationID string, windows []int) (int, error) {
	if len(windows) == 0 {
		windows = climate.WindowSizes
	}
	latest, err := s.repo.LatestObservationDate(stationID)
	if err != nil {
		return 0, fmt.Errorf("latest observation: %w", err)
	}
	if latest == nil {
		return 0, nil
	}

	earliest := latest.AddDate(0, 0, -recentLookbackDays)
	longest := 0
	for _, w := range windows {
		longest = max(longest, w)
	}
	from := earliest.AddDate(0, 0, -longest)
	obs, err := s.repo.GetDailyObservations(stationID, &from, latest)
	if err != nil {
		return 0, fmt.Errorf("load recent history: %w", err)
	}

	var aggs []models.WindowAggregate
	for _, w := range windows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		for i, o := range obs {
			if o.Date.Before(earliest) {
				continue
			}
			start := climate.WindowStart(o.Date, w)
			lo := sort.Search(i+1, func(j int) bool { return !obs[j].Date.Before(start) })
			if agg, ok := climate.RecentAggregate(stationID, obs[lo:i+1], o.Date, w); ok {
				aggs = append(aggs, agg)
			}
		}
	}
	if len(aggs) == 0 {
		return 0, nil
	}
	if err := s.repo.UpsertWindowAggregates(aggs); err != nil {
		return 0, fmt.Errorf("store window aggregates: %w", err)
	}
	return len(aggs), nil
}

// ComputeAll rebuilds climatology for every metric and window, the all-time
// records and the recent window aggregates for one station.
func (s *Service) ComputeAll(ctx context.Context, stationID string, windows []int) (*ComputeSummary, error) {
	if _, err := s.station(stationID); err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		windows = climate.WindowSizes
	}
	began := s.clock.Now()
	summary := &ComputeSummary{StationID: stationID}

	obs, err := s.history(stationID)
	if err != nil {
		return nil, err
	}

	for _, m := range climate.Metrics {
		series := climate.NewSeries(obs, m)
		for _, w := range windows {
			n, err := s.computeClimatology(ctx, stationID, series, m, w, climate.DefaultHalfwidth)
			if err != nil {
				if ctx.Err() != nil {
					return summary, ctx.Err()
				}
				summary.Errors = append(summary.Errors, err)
				continue
			}
			summary.QuantileRows += n
		}
	}

	for _, m := range climate.TemperatureMetrics {
		n, err := s.computeRecords(ctx, stationID, obs, m)
		if err != nil {
			if ctx.Err() != nil {
				return summary, ctx.Err()
			}
			summary.Errors = append(summary.Errors, err)
			continue
		}
		summary.Records += n
	}

	n, err := s.ComputeRecentWindows(ctx, stationID, windows)
	if err != nil {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Errors = append(summary.Errors, err)
	}
	summary.Aggregates = n
	summary.Duration = s.clock.Since(began)

	s.logger.Info("compute: station complete",
		"station", stationID,
		"quantile_rows", summary.QuantileRows,
		"records", summary.Records,
		"aggregates", summary.Aggregates,
		"errors", len(summary.Errors),
		"duration", summary.Duration)
	return summary, nil
}
