package store

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/models"
)

// DateRange is the span of stored observations for a station.
type DateRange struct {
	First time.Time
	Last  time.Time
}

// UpsertDailyObservations writes a batch of daily rows from one source. A
// stored row is only replaced by the same source, by GHCN, or when the stored
// row came from Open-Meteo. Returns the number of rows written.
func (s *Store) UpsertDailyObservations(stationID, source string, obs []models.DailyObservation) (int64, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO daily_observations (station_id, obs_date, tmin_c, tmax_c, tavg_c, prcp_mm, source, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id, obs_date) DO UPDATE SET
			tmin_c = excluded.tmin_c,
			tmax_c = excluded.tmax_c,
			tavg_c = excluded.tavg_c,
			prcp_mm = excluded.prcp_mm,
			source = excluded.source,
			ingested_at = excluded.ingested_at
		WHERE daily_observations.source = excluded.source
			OR excluded.source = '` + models.SourceGHCN + `'
			OR daily_observations.source = '` + models.SourceOpenMeteo + `'
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := formatTimestamp(time.Now())
	var written int64
	for _, o := range obs {
		res, err := stmt.Exec(stationID, formatDate(o.Date), o.TminC, o.TmaxC, o.TavgC, o.PrcpMM, source, now)
		if err != nil {
			return written, fmt.Errorf("upsert %s %s: %w", stationID, formatDate(o.Date), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return written, err
		}
		written += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// GetDailyObservations returns a station's rows ordered by date. Nil bounds
// are open.
func (s *Store) GetDailyObservations(stationID string, start, end *time.Time) ([]models.DailyObservation, error) {
	query := `SELECT station_id, obs_date, tmin_c, tmax_c, tavg_c, prcp_mm, source
		FROM daily_observations WHERE station_id = ?`
	args := []any{stationID}
	if start != nil {
		query += ` AND obs_date >= ?`
		args = append(args, formatDate(*start))
	}
	if end != nil {
		query += ` AND obs_date <= ?`
		args = append(args, formatDate(*end))
	}
	query += ` ORDER BY obs_date`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []models.DailyObservation
	for rows.Next() {
		var o models.DailyObservation
		var date string
		if err := rows.Scan(&o.StationID, &date, &o.TminC, &o.TmaxC, &o.TavgC, &o.PrcpMM, &o.Source); err != nil {
			return nil, err
		}
		if o.Date, err = parseDate(date); err != nil {
			return nil, err
		}
		obs = append(obs, o)
	}
	return obs, rows.Err()
}

// GetDailyDates returns the set of dates stored for a station, optionally
// restricted to the given sources.
func (s *Store) GetDailyDates(stationID string, sources ...string) (map[time.Time]bool, error) {
	query := `SELECT obs_date FROM daily_observations WHERE station_id = ?`
	args := []any{stationID}
	if len(sources) > 0 {
		query += ` AND source IN (?` + strings.Repeat(", ?", len(sources)-1) + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dates := make(map[time.Time]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		d, err := parseDate(v)
		if err != nil {
			return nil, err
		}
		dates[d] = true
	}
	return dates, rows.Err()
}

// GetStationDateRange returns nil when the station has no observations.
func (s *Store) GetStationDateRange(stationID string) (*DateRange, error) {
	var first, last sql.NullString
	err := s.db.QueryRow(`
		SELECT MIN(obs_date), MAX(obs_date) FROM daily_observations WHERE station_id = ?
	`, stationID).Scan(&first, &last)
	if err != nil {
		return nil, err
	}
	if !first.Valid || !last.Valid {
		return nil, nil
	}
	r := &DateRange{}
	if r.First, err = parseDate(first.String); err != nil {
		return nil, err
	}
	if r.Last, err = parseDate(last.String); err != nil {
		return nil, err
	}
	return r, nil
}

// LatestObservationDate returns nil when the station has no observations.
func (s *Store) LatestObservationDate(stationID string) (*time.Time, error) {
	return s.maxDate(`SELECT MAX(obs_date) FROM daily_observations WHERE station_id = ?`, stationID)
}

// LastAuthoritativeDate is the latest date backed by GHCN or GSOD rather than
// the Open-Meteo fill.
func (s *Store) LastAuthoritativeDate(stationID string) (*time.Time, error) {
	return s.maxDate(`SELECT MAX(obs_date) FROM daily_observations
		WHERE station_id = ? AND source IN (?, ?)`, stationID, models.SourceGHCN, models.SourceGSOD)
}

func (s *Store) maxDate(query string, args ...any) (*time.Time, error) {
	var v sql.NullString
	if err := s.db.QueryRow(query, args...).Scan(&v); err != nil {
		return nil, err
	}
	if !v.Valid {
		return nil, nil
	}
	t, err := parseDate(v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CountDistinctYearsSince counts the years from since onward that have at
// least one non-null value for metric, and the earliest such year.
func (s *Store) CountDistinctYearsSince(stationID string, metric climate.Metric, since int) (years, firstYear int, err error) {
	col, ok := metric.Column()
	if !ok {
		return 0, 0, fmt.Errorf("unknown metric %q", metric)
	}

	var minYear sql.NullString
	err = s.db.QueryRow(`
		SELECT COUNT(DISTINCT substr(obs_date, 1, 4)), MIN(substr(obs_date, 1, 4))
		FROM daily_observations
		WHERE station_id = ? AND obs_date >= ? AND `+col+` IS NOT NULL
	`, stationID, fmt.Sprintf("%04d-01-01", since)).Scan(&years, &minYear)
	if err != nil {
		return 0, 0, err
	}
	if minYear.Valid {
		if firstYear, err = strconv.Atoi(minYear.String); err != nil {
			return 0, 0, fmt.Errorf("parse year %q: %w", minYear.String, err)
		}
	}
	return years, firstYear, nil
}
