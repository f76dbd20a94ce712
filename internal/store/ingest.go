package store

import (
	"database/sql"
	"time"
)

// IngestRun audits one upstream fetch for one station: what came back, how
// much of it parsed, how much validation rejected and how much was stored.
type IngestRun struct {
	ID                int64
	StartedAt         time.Time
	FinishedAt        sql.NullTime
	Source            string // models.Source* or "ghcnd_catalog"
	Endpoint          string
	StationID         sql.NullString
	HTTPStatus        sql.NullInt64
	ResponseSizeBytes sql.NullInt64
	RecordsParsed     sql.NullInt64
	RecordsRejected   sql.NullInt64
	RecordsStored     sql.NullInt64
	ParseErrors       sql.NullInt64
	Success           bool
	ErrorMessage      sql.NullString
}

// Fail marks the run unsuccessful with err's message.
func (r *IngestRun) Fail(err error) {
	if r == nil || err == nil {
		return
	}
	r.Success = false
	r.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
}

const ingestRunColumns = `id, started_at, finished_at, source, endpoint, station_id,
	http_status, response_size_bytes, records_parsed, records_rejected,
	records_stored, parse_errors, success, error_message`

func scanIngestRun(sc interface{ Scan(...any) error }) (IngestRun, error) {
	var (
		r        IngestRun
		started  string
		finished sql.NullString
	)
	err := sc.Scan(&r.ID, &started, &finished, &r.Source, &r.Endpoint, &r.StationID,
		&r.HTTPStatus, &r.ResponseSizeBytes, &r.RecordsParsed, &r.RecordsRejected,
		&r.RecordsStored, &r.ParseErrors, &r.Success, &r.ErrorMessage)
	if err != nil {
		return r, err
	}
	if r.StartedAt, err = parseTimestamp(started); err != nil {
		return r, err
	}
	r.FinishedAt, err = nullTimestamp(finished)
	return r, err
}

// StartIngestRun records an open run. It stays unsuccessful until completed.
func (s *Store) StartIngestRun(source, endpoint string, stationID *string) (*IngestRun, error) {
	run := &IngestRun{StartedAt: time.Now().UTC(), Source: source, Endpoint: endpoint}
	if stationID != nil {
		run.StationID = sql.NullString{String: *stationID, Valid: true}
	}

	res, err := s.db.Exec(`INSERT INTO ingest_runs (started_at, source, endpoint, station_id)
		VALUES (?, ?, ?, ?)`, formatTimestamp(run.StartedAt), source, endpoint, run.StationID)
	if err != nil {
		return nil, err
	}
	if run.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return run, nil
}

// CompleteIngestRun stamps the finish time and writes the run's outcome.
func (s *Store) CompleteIngestRun(run *IngestRun) error {
	if run == nil {
		return nil
	}
	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.Exec(`UPDATE ingest_runs SET
			finished_at = ?, http_status = ?, response_size_bytes = ?,
			records_parsed = ?, records_rejected = ?, records_stored = ?,
			parse_errors = ?, success = ?, error_message = ?
		WHERE id = ?`,
		formatTimestamp(run.FinishedAt.Time), run.HTTPStatus, run.ResponseSizeBytes,
		run.RecordsParsed, run.RecordsRejected, run.RecordsStored,
		run.ParseErrors, run.Success, run.ErrorMessage, run.ID)
	return err
}

// IngestHealthSummary totals one day of runs for a source and station.
// StationID is empty for runs not tied to a station, such as catalog lookups.
type IngestHealthSummary struct {
	Date          string
	Source        string
	StationID     string
	Runs          int
	Failures      int
	RowsStored    int64
	RowsRejected  int64
	ParseErrors   int64
	LastHTTPError sql.NullInt64
}

// GetIngestHealth summarizes runs started in the days before now, newest
// day first.
func (s *Store) GetIngestHealth(days int, now time.Time) ([]IngestHealthSummary, error) {
	rows, err := s.db.Query(`
		SELECT substr(started_at, 1, 10) AS day, source, COALESCE(station_id, ''),
			COUNT(*),
			SUM(CASE WHEN success THEN 0 ELSE 1 END),
			COALESCE(SUM(records_stored), 0),
			COALESCE(SUM(records_rejected), 0),
			COALESCE(SUM(parse_errors), 0),
			MAX(CASE WHEN http_status >= 400 THEN http_status END)
		FROM ingest_runs
		WHERE started_at > ? AND finished_at IS NOT NULL
		GROUP BY day, source, station_id
		ORDER BY day DESC, source, station_id
	`, formatTimestamp(now.AddDate(0, 0, -days)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IngestHealthSummary
	for rows.Next() {
		var h IngestHealthSummary
		if err := rows.Scan(&h.Date, &h.Source, &h.StationID, &h.Runs, &h.Failures,
			&h.RowsStored, &h.RowsRejected, &h.ParseErrors, &h.LastHTTPError); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// GetRecentIngestErrors returns the latest finished runs that failed.
func (s *Store) GetRecentIngestErrors(limit int) ([]IngestRun, error) {
	rows, err := s.db.Query(`SELECT `+ingestRunColumns+` FROM ingest_runs
		WHERE NOT success AND finished_at IS NOT NULL
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IngestRun
	for rows.Next() {
		r, err := scanIngestRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
