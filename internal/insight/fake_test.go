package insight

import (
	"database/sql"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/models"
)

type quantileKey struct {
	stationID  string
	metric     string
	windowDays int
	halfwidth  int
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu         sync.Mutex
	stations   map[string]models.Station
	obs        map[string][]models.DailyObservation
	quantiles  map[quantileKey]map[int]models.QuantileRow
	records    map[string][]models.StationRecord
	latest     map[string]models.Insight
	aggregates []models.WindowAggregate
	obsLoads   int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		stations:  make(map[string]models.Station),
		obs:       make(map[string][]models.DailyObservation),
		quantiles: make(map[quantileKey]map[int]models.QuantileRow),
		records:   make(map[string][]models.StationRecord),
		latest:    make(map[string]models.Insight),
	}
}

func (f *fakeRepo) addStation(st models.Station, obs []models.DailyObservation) {
	f.stations[st.StationID] = st
	sorted := append([]models.DailyObservation(nil), obs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })
	f.obs[st.StationID] = sorted
}

func (f *fakeRepo) GetStation(stationID string) (*models.Station, error) {
	st, ok := f.stations[stationID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeRepo) GetDailyObservations(stationID string, start, end *time.Time) ([]models.DailyObservation, error) {
	f.mu.Lock()
	f.obsLoads++
	f.mu.Unlock()
	var out []models.DailyObservation
	for _, o := range f.obs[stationID] {
		if start != nil && o.Date.Before(*start) {
			continue
		}
		if end != nil && o.Date.After(*end) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (f *fakeRepo) LatestObservationDate(stationID string) (*time.Time, error) {
	obs := f.obs[stationID]
	if len(obs) == 0 {
		return nil, nil
	}
	d := obs[len(obs)-1].Date
	return &d, nil
}

func (f *fakeRepo) CountDistinctYearsSince(stationID string, m climate.Metric, since int) (int, int, error) {
	years := map[int]bool{}
	first := 0
	for _, o := range f.obs[stationID] {
		if o.Date.Year() < since || !m.Value(o).Valid {
			continue
		}
		years[o.Date.Year()] = true
		if first == 0 || o.Date.Year() < first {
			first = o.Date.Year()
		}
	}
	return len(years), first, nil
}

func (f *fakeRepo) GetClimatologyQuantiles(stationID, metric string, windowDays, halfwidth, doy int) (*models.QuantileRow, error) {
	row, ok := f.quantiles[quantileKey{stationID, metric, windowDays, halfwidth}][doy]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (f *fakeRepo) ListClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int) (map[int]models.QuantileRow, error) {
	return f.quantiles[quantileKey{stationID, metric, windowDays, halfwidth}], nil
}

func (f *fakeRepo) ReplaceClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int, rows []models.QuantileRow) error {
	byDOY := make(map[int]models.QuantileRow, len(rows))
	for _, r := range rows {
		byDOY[r.EndDOY] = r
	}
	f.quantiles[quantileKey{stationID, metric, windowDays, halfwidth}] = byDOY
	return nil
}

func (f *fakeRepo) GetStationRecords(stationID, metric string) ([]models.StationRecord, error) {
	return f.records[stationID+"/"+metric], nil
}

func (f *fakeRepo) ReplaceStationRecords(stationID, metric string, records []models.StationRecord) error {
	f.records[stationID+"/"+metric] = records
	return nil
}

func (f *fakeRepo) UpsertLatestInsight(in models.Insight) error {
	f.latest[in.StationID+"/"+strconv.Itoa(in.WindowDays)] = in
	return nil
}

func (f *fakeRepo) UpsertWindowAggregates(aggs []models.WindowAggregate) error {
	f.aggregates = append(f.aggregates, aggs...)
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func obsOf(stationID string, d time.Time, tavg float64) models.DailyObservation {
	return models.DailyObservation{
		StationID: stationID,
		Date:      d,
		TavgC:     nf(tavg),
		TminC:     nf(tavg - 5),
		TmaxC:     nf(tavg + 5),
		Source:    models.SourceGHCN,
	}
}

// januaryStation has quiet Januaries for 2000-2023 (values cycling 0..4) and
// a hot first half of January 2024 (a constant 20).
func januaryStation(coverageYears int64) (models.Station, []models.DailyObservation) {
	var obs []models.DailyObservation
	for y := 2000; y <= 2023; y++ {
		for d := 1; d <= 31; d++ {
			obs = append(obs, obsOf("TEST001", day(y, time.January, d), float64(d%5)))
		}
	}
	for d := 1; d <= 15; d++ {
		obs = append(obs, obsOf("TEST001", day(2024, time.January, d), 20))
	}
	st := models.Station{
		StationID:     "TEST001",
		Name:          "Test Station",
		FirstObsDate:  sql.NullTime{Time: day(2000, 1, 1), Valid: true},
		LastObsDate:   sql.NullTime{Time: day(2024, 1, 15), Valid: true},
		CoverageYears: sql.NullInt64{Int64: coverageYears, Valid: true},
		Active:        true,
	}
	return st, obs
}

