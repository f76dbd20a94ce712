package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/metrics"
	"github.com/lox/extremetemps/internal/models"
)

const (
	// latestHorizonYears is the comparison base for latest insights when no
	// since-year is given: the current year and the 24 before it.
	latestHorizonYears = 25
	// latestAttempts covers upstream reporting lag.
	latestAttempts = 8
	// fallbackFirstYear is reported when neither the climatology nor the
	// station knows where its history starts.
	fallbackFirstYear = 2000
)

// DefaultLatestWindows are the window sizes precomputed for each station.
var DefaultLatestWindows = []int{1, 7, 14, 30}

type Service struct {
	repo        Repository
	clock       clockwork.Clock
	logger      *slog.Logger
	precomputed *PrecomputedSource
}

func NewService(repo Repository, clock clockwork.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		clock:       clock,
		logger:      logger,
		precomputed: NewPrecomputedSource(repo, climate.DefaultHalfwidth),
	}
}

// Request identifies one insight.
type Request struct {
	StationID  string
	EndDate    time.Time
	WindowDays int
	Metric     climate.Metric
	SinceYear  *int
}

func (s *Service) sourceFor(sinceYear *int) QuantileSource {
	if sinceYear != nil {
		return NewOnTheFlySource(s.repo, *sinceYear)
	}
	return s.precomputed
}

func (s *Service) station(stationID string) (*models.Station, error) {
	st, err := s.repo.GetStation(stationID)
	if err != nil {
		return nil, fmt.Errorf("load station %s: %w", stationID, err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	return st, nil
}

// Insight computes how unusual the window ending on req.EndDate is.
func (s *Service) Insight(ctx context.Context, req Request) (*models.Insight, error) {
	st, err := s.station(req.StationID)
	if err != nil {
		return nil, err
	}
	return s.compute(ctx, st, req, s.sourceFor(req.SinceYear))
}

func (s *Service) compute(ctx context.Context, st *models.Station, req Request, src QuantileSource) (*models.Insight, error) {
	end := climate.Day(req.EndDate)
	start := climate.WindowStart(end, req.WindowDays)
	obs, err := s.repo.GetDailyObservations(st.StationID, &start, &end)
	if err != nil {
		return nil, fmt.Errorf("load window: %w", err)
	}
	wv, ok := climate.RollingValue(obs, end, req.WindowDays, req.Metric)
	if !ok {
		return nil, ErrNoData
	}

	doy := climate.DayOfYear(end)
	q, err := src.Quantiles(ctx, st.StationID, req.Metric, req.WindowDays, doy)
	if err != nil {
		return nil, err
	}

	var percentile *float64
	if q != nil {
		if p, ok := climate.Percentile(wv.Value, climate.BreakpointsFromRow(*q)); ok {
			percentile = &p
		}
	}

	coverageYears, firstYear, err := s.coverage(st, req, q)
	if err != nil {
		return nil, err
	}

	// An explicit comparison horizon suppresses the short-history downgrade.
	severityYears := &coverageYears
	if req.SinceYear != nil {
		severityYears = nil
	}
	ratio := wv.CoverageRatio
	severity := climate.ClassifySeverity(percentile, severityYears, &ratio)
	direction := climate.DirectionNeutral
	if percentile != nil {
		direction = climate.ClassifyDirection(*percentile, req.Metric)
	}

	records, err := s.repo.GetStationRecords(st.StationID, string(req.Metric))
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	record := climate.CheckRecordProximity(wv.Value, req.WindowDays, records)

	statementPct := 50.0
	if percentile != nil {
		statementPct = *percentile
	}
	primary, supporting := climate.GenerateStatements(climate.StatementInput{
		WindowDays:    req.WindowDays,
		Value:         wv.Value,
		Percentile:    statementPct,
		Severity:      severity,
		Direction:     direction,
		CoverageYears: coverageYears,
		FirstYear:     firstYear,
		SinceYear:     req.SinceYear,
		CurrentYear:   s.clock.Now().Year(),
		Record:        record,
	})

	in := &models.Insight{
		StationID:        st.StationID,
		EndDate:          end,
		WindowDays:       req.WindowDays,
		Metric:           string(req.Metric),
		Value:            round(wv.Value, 2),
		Severity:         severity.String(),
		Direction:        direction.String(),
		PrimaryStatement: primary,
		SupportingLine:   supporting,
		Record:           record,
		SinceYear:        req.SinceYear,
		DataQuality: models.DataQuality{
			CoverageYears: coverageYears,
			FirstYear:     firstYear,
			CoverageRatio: wv.CoverageRatio,
			SinceYear:     req.SinceYear,
		},
		ComputedAt: s.clock.Now().UTC().Truncate(time.Second),
	}
	if percentile != nil {
		p := round(*percentile, 1)
		in.Percentile = &p
	}
	if q != nil {
		in.NormalValue = nullable(q.P50.Float64, q.P50.Valid)
		in.NormalBand = models.NormalBand{
			P25: nullable(q.P25.Float64, q.P25.Valid),
			P75: nullable(q.P75.Float64, q.P75.Valid),
		}
		n := q.NSamples
		in.DataQuality.NSamples = &n
	}
	return in, nil
}

// coverage returns the years of history and first year to report.
func (s *Service) coverage(st *models.Station, req Request, q *models.QuantileRow) (int, int, error) {
	if req.SinceYear != nil {
		years, first, err := s.repo.CountDistinctYearsSince(st.StationID, req.Metric, *req.SinceYear)
		if err != nil {
			return 0, 0, fmt.Errorf("count years since %d: %w", *req.SinceYear, err)
		}
		if years == 0 {
			return 0, *req.SinceYear, nil
		}
		return years, first, nil
	}

	years := 0
	if st.CoverageYears.Valid {
		years = int(st.CoverageYears.Int64)
	}
	first := fallbackFirstYear
	if st.FirstObsDate.Valid {
		first = st.FirstObsDate.Time.Year()
	}
	if q != nil && q.FirstYear != 0 {
		first = q.FirstYear
	}
	return years, first, nil
}

// Latest computes and stores the most recent insight for each window size.
// The end date starts at the latest observation, capped at yesterday, and
// steps back a day at a time when a window has no data.
func (s *Service) Latest(ctx context.Context, stationID string, windows []int, sinceYear *int) ([]models.Insight, error) {
	st, err := s.station(stationID)
	if err != nil {
		return nil, err
	}
	if len(windows) == 0 {
		windows = DefaultLatestWindows
	}

	latest, err := s.repo.LatestObservationDate(stationID)
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	if latest == nil {
		return nil, ErrNoData
	}
	now := s.clock.Now()
	yesterday := climate.Day(now).AddDate(0, 0, -1)
	if latest.After(yesterday) {
		latest = &yesterday
	}

	if sinceYear == nil {
		since := now.Year() - (latestHorizonYears - 1)
		sinceYear = &since
	}
	src := NewOnTheFlySource(s.repo, *sinceYear)

	var insights []models.Insight
	for _, w := range windows {
		in, err := s.latestWindow(ctx, st, *latest, w, *sinceYear, src)
		if err != nil {
			return insights, err
		}
		if in == nil {
			s.logger.Warn("insight: no valid window", "station", stationID, "window_days", w)
			continue
		}
		if err := s.repo.UpsertLatestInsight(*in); err != nil {
			return insights, fmt.Errorf("store latest insight: %w", err)
		}
		metrics.InsightsComputed.WithLabelValues(in.Severity).Inc()
		s.logger.Info("insight: latest",
			"station", stationID,
			"window_days", w,
			"end_date", in.EndDate.Format(models.DateLayout),
			"severity", in.Severity,
			"direction", in.Direction)
		insights = append(insights, *in)
	}

	if len(insights) == 0 {
		return nil, ErrNoData
	}
	return insights, nil
}

func (s *Service) latestWindow(ctx context.Context, st *models.Station, latest time.Time, windowDays, sinceYear int, src QuantileSource) (*models.Insight, error) {
	for i := range latestAttempts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req := Request{
			StationID:  st.StationID,
			EndDate:    latest.AddDate(0, 0, -i),
			WindowDays: windowDays,
			Metric:     climate.MetricTavg,
			SinceYear:  &sinceYear,
		}
		in, err := s.compute(ctx, st, req, src)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return in, nil
	}
	return nil, nil
}

// Records returns the stored all-time records for a station and metric.
func (s *Service) Records(ctx context.Context, stationID string, m climate.Metric) ([]models.StationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := s.repo.GetStationRecords(stationID, string(m))
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	return records, nil
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}

func nullable(v float64, ok bool) *float64 {
	if !ok {
		return nil
	}
	return &v
}
