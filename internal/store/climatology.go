package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/extremetemps/internal/models"
)

// ReplaceClimatologyQuantiles swaps every row for the station, metric,
// window and halfwidth in one transaction. Rows built with another halfwidth
// are left alone.
func (s *Store) ReplaceClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int, rows []models.QuantileRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		DELETE FROM climatology_quantiles
		WHERE station_id = ? AND metric = ? AND window_days = ? AND halfwidth = ?
	`, stationID, metric, windowDays, halfwidth); err != nil {
		return fmt.Errorf("delete quantiles: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO climatology_quantiles (station_id, metric, window_days, end_doy, halfwidth,
			p02, p10, p25, p50, p75, p90, p98, n_samples, first_year, last_year, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := formatTimestamp(time.Now())
	for _, r := range rows {
		if _, err := stmt.Exec(stationID, metric, windowDays, r.EndDOY, halfwidth,
			r.P02, r.P10, r.P25, r.P50, r.P75, r.P90, r.P98,
			r.NSamples, r.FirstYear, r.LastYear, now); err != nil {
			return fmt.Errorf("insert quantiles doy %d: %w", r.EndDOY, err)
		}
	}

	return tx.Commit()
}

const quantileColumns = `station_id, metric, window_days, end_doy, halfwidth,
	p02, p10, p25, p50, p75, p90, p98, n_samples, first_year, last_year`

func scanQuantileRow(row rowScanner) (models.QuantileRow, error) {
	var r models.QuantileRow
	err := row.Scan(&r.StationID, &r.Metric, &r.WindowDays, &r.EndDOY, &r.Halfwidth,
		&r.P02, &r.P10, &r.P25, &r.P50, &r.P75, &r.P90, &r.P98,
		&r.NSamples, &r.FirstYear, &r.LastYear)
	return r, err
}

// GetClimatologyQuantiles returns nil when no row exists for the day-of-year.
func (s *Store) GetClimatologyQuantiles(stationID, metric string, windowDays, halfwidth, doy int) (*models.QuantileRow, error) {
	row := s.db.QueryRow(`SELECT `+quantileColumns+` FROM climatology_quantiles
		WHERE station_id = ? AND metric = ? AND window_days = ? AND halfwidth = ? AND end_doy = ?`,
		stationID, metric, windowDays, halfwidth, doy)
	r, err := scanQuantileRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListClimatologyQuantiles returns every stored day-of-year row, keyed by DOY.
func (s *Store) ListClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int) (map[int]models.QuantileRow, error) {
	rows, err := s.db.Query(`SELECT `+quantileColumns+` FROM climatology_quantiles
		WHERE station_id = ? AND metric = ? AND window_days = ? AND halfwidth = ?
		ORDER BY end_doy`, stationID, metric, windowDays, halfwidth)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int]models.QuantileRow)
	for rows.Next() {
		r, err := scanQuantileRow(rows)
		if err != nil {
			return nil, err
		}
		out[r.EndDOY] = r
	}
	return out, rows.Err()
}

// ReplaceStationRecords swaps the station's records for one metric.
func (s *Store) ReplaceStationRecords(stationID, metric string, records []models.StationRecord) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM station_records WHERE station_id = ? AND metric = ?`,
		stationID, metric); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}

	now := formatTimestamp(time.Now())
	for _, r := range records {
		if _, err := tx.Exec(`
			INSERT INTO station_records (station_id, metric, window_days, record_type, value,
				start_date, end_date, n_years, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, stationID, metric, r.WindowDays, r.RecordType, r.Value,
			formatDate(r.StartDate), formatDate(r.EndDate), r.NYears, now); err != nil {
			return fmt.Errorf("insert record %s %d: %w", r.RecordType, r.WindowDays, err)
		}
	}

	return tx.Commit()
}

func (s *Store) GetStationRecords(stationID, metric string) ([]models.StationRecord, error) {
	rows, err := s.db.Query(`
		SELECT station_id, metric, window_days, record_type, value, start_date, end_date, n_years
		FROM station_records
		WHERE station_id = ? AND metric = ?
		ORDER BY window_days, record_type
	`, stationID, metric)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.StationRecord
	for rows.Next() {
		var r models.StationRecord
		var start, end string
		if err := rows.Scan(&r.StationID, &r.Metric, &r.WindowDays, &r.RecordType, &r.Value,
			&start, &end, &r.NYears); err != nil {
			return nil, err
		}
		if r.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if r.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *Store) UpsertWindowAggregates(aggs []models.WindowAggregate) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := formatTimestamp(time.Now())
	for _, a := range aggs {
		if _, err := tx.Exec(`
			INSERT INTO window_aggregates (station_id, window_days, end_date, start_date,
				tavg_mean, tmin_mean, tmax_mean, prcp_sum, coverage_ratio, computed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_id, window_days, end_date) DO UPDATE SET
				start_date = excluded.start_date,
				tavg_mean = excluded.tavg_mean,
				tmin_mean = excluded.tmin_mean,
				tmax_mean = excluded.tmax_mean,
				prcp_sum = excluded.prcp_sum,
				coverage_ratio = excluded.coverage_ratio,
				computed_at = excluded.computed_at
		`, a.StationID, a.WindowDays, formatDate(a.EndDate), formatDate(a.StartDate),
			a.TavgMean, a.TminMean, a.TmaxMean, a.PrcpSum, a.CoverageRatio, now); err != nil {
			return fmt.Errorf("upsert aggregate %s %d: %w", a.StationID, a.WindowDays, err)
		}
	}

	return tx.Commit()
}

// GetWindowAggregates returns the station's aggregates, newest end date first.
func (s *Store) GetWindowAggregates(stationID string, windowDays int) ([]models.WindowAggregate, error) {
	rows, err := s.db.Query(`
		SELECT station_id, window_days, start_date, end_date, tavg_mean, tmin_mean, tmax_mean, prcp_sum, coverage_ratio
		FROM window_aggregates
		WHERE station_id = ? AND window_days = ?
		ORDER BY end_date DESC
	`, stationID, windowDays)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var aggs []models.WindowAggregate
	for rows.Next() {
		var a models.WindowAggregate
		var start, end string
		if err := rows.Scan(&a.StationID, &a.WindowDays, &start, &end,
			&a.TavgMean, &a.TminMean, &a.TmaxMean, &a.PrcpSum, &a.CoverageRatio); err != nil {
			return nil, err
		}
		if a.StartDate, err = parseDate(start); err != nil {
			return nil, err
		}
		if a.EndDate, err = parseDate(end); err != nil {
			return nil, err
		}
		aggs = append(aggs, a)
	}
	return aggs, rows.Err()
}
