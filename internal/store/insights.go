package store

import (
	"database/sql"
	"time"

	"github.com/lox/extremetemps/internal/models"
)

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

// UpsertLatestInsight keeps one insight per station and window.
func (s *Store) UpsertLatestInsight(in models.Insight) error {
	_, err := s.db.Exec(`
		INSERT INTO latest_insights (station_id, window_days, end_date, metric, value,
			normal_value, normal_p25, normal_p75, percentile, severity, direction,
			primary_statement, supporting_line, coverage_years, coverage_ratio, first_year,
			n_samples, since_year, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, window_days) DO UPDATE SET
			end_date = excluded.end_date,
			metric = excluded.metric,
			value = excluded.value,
			normal_value = excluded.normal_value,
			normal_p25 = excluded.normal_p25,
			normal_p75 = excluded.normal_p75,
			percentile = excluded.percentile,
			severity = excluded.severity,
			direction = excluded.direction,
			primary_statement = excluded.primary_statement,
			supporting_line = excluded.supporting_line,
			coverage_years = excluded.coverage_years,
			coverage_ratio = excluded.coverage_ratio,
			first_year = excluded.first_year,
			n_samples = excluded.n_samples,
			since_year = excluded.since_year,
			computed_at = excluded.computed_at
	`, in.StationID, in.WindowDays, formatDate(in.EndDate), in.Metric, in.Value,
		in.NormalValue, in.NormalBand.P25, in.NormalBand.P75, in.Percentile, in.Severity, in.Direction,
		in.PrimaryStatement, in.SupportingLine, in.DataQuality.CoverageYears, in.DataQuality.CoverageRatio,
		in.DataQuality.FirstYear, in.DataQuality.NSamples, in.SinceYear, formatTimestamp(in.ComputedAt))
	return err
}

// GetLatestInsights returns the stored insights, optionally for one window size.
func (s *Store) GetLatestInsights(windowDays *int) ([]models.Insight, error) {
	query := `SELECT station_id, window_days, end_date, metric, value,
			normal_value, normal_p25, normal_p75, percentile, severity, direction,
			primary_statement, supporting_line, coverage_years, coverage_ratio, first_year,
			n_samples, since_year, computed_at
		FROM latest_insights`
	var args []any
	if windowDays != nil {
		query += ` WHERE window_days = ?`
		args = append(args, *windowDays)
	}
	query += ` ORDER BY station_id, window_days`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []models.Insight
	for rows.Next() {
		var in models.Insight
		var endDate, computedAt string
		var normal, p25, p75, pct sql.NullFloat64
		var nSamples, sinceYear sql.NullInt64
		if err := rows.Scan(&in.StationID, &in.WindowDays, &endDate, &in.Metric, &in.Value,
			&normal, &p25, &p75, &pct, &in.Severity, &in.Direction,
			&in.PrimaryStatement, &in.SupportingLine, &in.DataQuality.CoverageYears,
			&in.DataQuality.CoverageRatio, &in.DataQuality.FirstYear,
			&nSamples, &sinceYear, &computedAt); err != nil {
			return nil, err
		}
		if in.EndDate, err = parseDate(endDate); err != nil {
			return nil, err
		}
		if in.ComputedAt, err = parseTimestamp(computedAt); err != nil {
			return nil, err
		}
		in.NormalValue = floatPtr(normal)
		in.NormalBand = models.NormalBand{P25: floatPtr(p25), P75: floatPtr(p75)}
		in.Percentile = floatPtr(pct)
		in.DataQuality.NSamples = intPtr(nSamples)
		in.SinceYear = intPtr(sinceYear)
		in.DataQuality.SinceYear = in.SinceYear
		insights = append(insights, in)
	}
	return insights, rows.Err()
}

// LastInsightComputedAt returns nil before any insight has been stored.
func (s *Store) LastInsightComputedAt() (*time.Time, error) {
	var v sql.NullString
	if err := s.db.QueryRow(`SELECT MAX(computed_at) FROM latest_insights`).Scan(&v); err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, nil
	}
	t, err := parseTimestamp(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
