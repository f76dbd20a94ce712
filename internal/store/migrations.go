package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Stations and daily observations",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    station_id TEXT PRIMARY KEY,
    wban TEXT,
    name TEXT NOT NULL,
    latitude REAL NOT NULL,
    longitude REAL NOT NULL,
    elevation_m REAL,
    first_obs_date TEXT,
    last_obs_date TEXT,
    completeness_temp_pct REAL,
    completeness_prcp_pct REAL,
    coverage_years INTEGER,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    last_ingest_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_stations_lat_lon ON stations(latitude, longitude);

CREATE TABLE IF NOT EXISTS daily_observations (
    station_id TEXT NOT NULL,
    obs_date TEXT NOT NULL,
    tmin_c REAL,
    tmax_c REAL,
    tavg_c REAL,
    prcp_mm REAL,
    source TEXT NOT NULL,
    ingested_at TEXT NOT NULL,
    PRIMARY KEY (station_id, obs_date)
);

CREATE INDEX IF NOT EXISTS idx_daily_obs_source ON daily_observations(station_id, source, obs_date);
`,
	},
	{
		Version:     2,
		Description: "Climatology quantiles and all-time records",
		SQL: `
CREATE TABLE IF NOT EXISTS climatology_quantiles (
    station_id TEXT NOT NULL,
    metric TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    end_doy INTEGER NOT NULL,
    halfwidth INTEGER NOT NULL,
    p02 REAL,
    p10 REAL,
    p25 REAL,
    p50 REAL,
    p75 REAL,
    p90 REAL,
    p98 REAL,
    n_samples INTEGER NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL,
    computed_at TEXT NOT NULL,
    PRIMARY KEY (station_id, metric, window_days, end_doy)
);

CREATE TABLE IF NOT EXISTS station_records (
    station_id TEXT NOT NULL,
    metric TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    record_type TEXT NOT NULL,
    value REAL NOT NULL,
    start_date TEXT NOT NULL,
    end_date TEXT NOT NULL,
    n_years INTEGER NOT NULL,
    computed_at TEXT NOT NULL,
    PRIMARY KEY (station_id, metric, window_days, record_type)
);
`,
	},
	{
		Version:     3,
		Description: "Latest insights and recent window aggregates",
		SQL: `
CREATE TABLE IF NOT EXISTS latest_insights (
    station_id TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    end_date TEXT NOT NULL,
    metric TEXT NOT NULL,
    value REAL NOT NULL,
    normal_value REAL,
    normal_p25 REAL,
    normal_p75 REAL,
    percentile REAL,
    severity TEXT NOT NULL,
    direction TEXT NOT NULL,
    primary_statement TEXT NOT NULL,
    supporting_line TEXT NOT NULL,
    coverage_years INTEGER NOT NULL,
    coverage_ratio REAL NOT NULL,
    first_year INTEGER NOT NULL,
    n_samples INTEGER,
    since_year INTEGER,
    computed_at TEXT NOT NULL,
    PRIMARY KEY (station_id, window_days)
);

CREATE TABLE IF NOT EXISTS window_aggregates (
    station_id TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    end_date TEXT NOT NULL,
    start_date TEXT NOT NULL,
    tavg_mean REAL,
    tmin_mean REAL,
    tmax_mean REAL,
    prcp_sum REAL,
    coverage_ratio REAL NOT NULL,
    computed_at TEXT NOT NULL,
    PRIMARY KEY (station_id, window_days, end_date)
);
`,
	},
	{
		Version:     4,
		Description: "Ingest audit and raw source payloads",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    station_id TEXT,
    http_status INTEGER,
    response_size_bytes INTEGER,
    records_parsed INTEGER,
    records_rejected INTEGER,
    records_stored INTEGER,
    parse_errors INTEGER,
    success BOOLEAN NOT NULL DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_failed ON ingest_runs(success, started_at);

CREATE TABLE IF NOT EXISTS raw_payloads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ingest_run_id INTEGER REFERENCES ingest_runs(id),
    fetched_at TEXT NOT NULL,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    station_id TEXT,
    payload_compressed BLOB NOT NULL,
    payload_hash TEXT NOT NULL UNIQUE,
    schema_version INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_raw_payloads_fetched ON raw_payloads(fetched_at);
`,
	},
	{
		Version:     5,
		Description: "Key climatology quantiles by halfwidth",
		SQL: `
CREATE TABLE climatology_quantiles_v5 (
    station_id TEXT NOT NULL,
    metric TEXT NOT NULL,
    window_days INTEGER NOT NULL,
    halfwidth INTEGER NOT NULL,
    end_doy INTEGER NOT NULL,
    p02 REAL,
    p10 REAL,
    p25 REAL,
    p50 REAL,
    p75 REAL,
    p90 REAL,
    p98 REAL,
    n_samples INTEGER NOT NULL,
    first_year INTEGER NOT NULL,
    last_year INTEGER NOT NULL,
    computed_at TEXT NOT NULL,
    PRIMARY KEY (station_id, metric, window_days, halfwidth, end_doy)
);

INSERT INTO climatology_quantiles_v5
    (station_id, metric, window_days, halfwidth, end_doy,
     p02, p10, p25, p50, p75, p90, p98, n_samples, first_year, last_year, computed_at)
SELECT station_id, metric, window_days, halfwidth, end_doy,
     p02, p10, p25, p50, p75, p90, p98, n_samples, first_year, last_year, computed_at
FROM climatology_quantiles;

DROP TABLE climatology_quantiles;
ALTER TABLE climatology_quantiles_v5 RENAME TO climatology_quantiles;
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		slog.Info("migrations: applying", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC().Format(timestampLayout),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		slog.Info("migrations: completed", "version", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TEXT
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
