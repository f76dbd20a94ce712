package store

import (
	"database/sql"
	"fmt"
	"math"
	"net/url"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lox/extremetemps/internal/models"
)

// timestampLayout is fixed-width so stored timestamps sort lexically.
const timestampLayout = "2006-01-02T15:04:05Z"

const earthRadiusKm = 6371.0

// busyTimeoutMs is how long a connection waits on another writer's lock
// before failing with SQLITE_BUSY.
const busyTimeoutMs = 5000

type Store struct {
	db *sql.DB
}

// DSN builds a modernc sqlite data source for a database file. Pragmas are
// carried in the DSN so every pooled connection gets them, not just the
// first. Write transactions take the lock up front so concurrent writers
// queue on busy_timeout instead of failing on lock upgrade.
func DSN(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMs))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database file at path with the pragmas from DSN.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return db, nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB {
	return s.db
}

func formatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseDate(v string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", v, err)
	}
	return t, nil
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t, nil
}

func nullDate(v sql.NullString) (sql.NullTime, error) {
	if !v.Valid {
		return sql.NullTime{}, nil
	}
	t, err := parseDate(v.String)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

func nullTimestamp(v sql.NullString) (sql.NullTime, error) {
	if !v.Valid {
		return sql.NullTime{}, nil
	}
	t, err := parseTimestamp(v.String)
	if err != nil {
		return sql.NullTime{}, err
	}
	return sql.NullTime{Time: t, Valid: true}, nil
}

func (s *Store) UpsertStation(st models.Station) error {
	_, err := s.db.Exec(`
		INSERT INTO stations (station_id, wban, name, latitude, longitude, elevation_m, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_id) DO UPDATE SET
			wban = excluded.wban,
			name = excluded.name,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			elevation_m = excluded.elevation_m,
			is_active = excluded.is_active
	`, st.StationID, st.WBAN, st.Name, st.Latitude, st.Longitude, st.ElevationM, st.Active)
	return err
}

const stationColumns = `station_id, wban, name, latitude, longitude, elevation_m,
	first_obs_date, last_obs_date, completeness_temp_pct, completeness_prcp_pct,
	coverage_years, is_active, last_ingest_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (models.Station, error) {
	var st models.Station
	var first, last, ingested sql.NullString
	if err := row.Scan(&st.StationID, &st.WBAN, &st.Name, &st.Latitude, &st.Longitude, &st.ElevationM,
		&first, &last, &st.CompletenessTempPct, &st.CompletenessPrcpPct,
		&st.CoverageYears, &st.Active, &ingested); err != nil {
		return st, err
	}
	var err error
	if st.FirstObsDate, err = nullDate(first); err != nil {
		return st, err
	}
	if st.LastObsDate, err = nullDate(last); err != nil {
		return st, err
	}
	if st.LastIngestAt, err = nullTimestamp(ingested); err != nil {
		return st, err
	}
	return st, nil
}

// GetStation returns nil when the station does not exist.
func (s *Store) GetStation(stationID string) (*models.Station, error) {
	row := s.db.QueryRow(`SELECT `+stationColumns+` FROM stations WHERE station_id = ?`, stationID)
	st, err := scanStation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *Store) GetActiveStations() ([]models.Station, error) {
	rows, err := s.db.Query(`SELECT ` + stationColumns + ` FROM stations WHERE is_active = TRUE ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []models.Station
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, st)
	}
	return stations, rows.Err()
}

// FindNearbyStations returns active stations within radiusKm of the point,
// nearest first. A bounding box narrows the candidates before the exact
// great-circle distance is applied.
func (s *Store) FindNearbyStations(lat, lon, radiusKm float64, limit int) ([]models.NearbyStation, error) {
	latDelta := radiusKm / 111.0
	lonDelta := radiusKm / (111.0 * math.Max(math.Cos(lat*math.Pi/180), 0.01))

	rows, err := s.db.Query(`SELECT `+stationColumns+` FROM stations
		WHERE is_active = TRUE
			AND latitude BETWEEN ? AND ?
			AND longitude BETWEEN ? AND ?`,
		lat-latDelta, lat+latDelta, lon-lonDelta, lon+lonDelta)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nearby []models.NearbyStation
	for rows.Next() {
		st, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		d := haversineKm(lat, lon, st.Latitude, st.Longitude)
		if d <= radiusKm {
			nearby = append(nearby, models.NearbyStation{Station: st, DistanceKm: d})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(nearby, func(i, j int) bool {
		return nearby[i].DistanceKm < nearby[j].DistanceKm
	})
	if limit > 0 && len(nearby) > limit {
		nearby = nearby[:limit]
	}
	return nearby, nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

// UpdateStationCoverage recomputes the observation span and completeness of a
// station from its stored daily rows.
func (s *Store) UpdateStationCoverage(stationID string, now time.Time) error {
	var first, last sql.NullString
	var total, tempCount, prcpCount int
	err := s.db.QueryRow(`
		SELECT MIN(obs_date), MAX(obs_date), COUNT(*), COUNT(tavg_c), COUNT(prcp_mm)
		FROM daily_observations
		WHERE station_id = ?
	`, stationID).Scan(&first, &last, &total, &tempCount, &prcpCount)
	if err != nil {
		return fmt.Errorf("coverage stats: %w", err)
	}
	if total == 0 {
		_, err := s.db.Exec(`UPDATE stations SET last_ingest_at = ? WHERE station_id = ?`,
			formatTimestamp(now), stationID)
		return err
	}

	firstDate, err := parseDate(first.String)
	if err != nil {
		return err
	}
	lastDate, err := parseDate(last.String)
	if err != nil {
		return err
	}

	years := lastDate.Year() - firstDate.Year() + 1
	tempPct := math.Round(1000*float64(tempCount)/float64(total)) / 10
	prcpPct := math.Round(1000*float64(prcpCount)/float64(total)) / 10

	_, err = s.db.Exec(`
		UPDATE stations SET
			first_obs_date = ?,
			last_obs_date = ?,
			coverage_years = ?,
			completeness_temp_pct = ?,
			completeness_prcp_pct = ?,
			last_ingest_at = ?
		WHERE station_id = ?
	`, first.String, last.String, years, tempPct, prcpPct, formatTimestamp(now), stationID)
	return err
}
