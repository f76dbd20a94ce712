package api_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/extremetemps/internal/api"
	"github.com/lox/extremetemps/internal/imagegen"
	"github.com/lox/extremetemps/internal/ingest"
	"github.com/lox/extremetemps/internal/insight"
	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db)
	require.NoError(t, s.Migrate())
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// seedStation stores quiet Januaries for 2000-2023 and a hot first half of
// January 2024.
func seedStation(t *testing.T, s *store.Store, now time.Time) {
	t.Helper()
	st := models.Station{
		StationID: "TEST001",
		Name:      "Test Station",
		Latitude:  -36.79,
		Longitude: 146.98,
		Active:    true,
	}
	require.NoError(t, s.UpsertStation(st))

	var obs []models.DailyObservation
	add := func(d time.Time, tavg float64) {
		obs = append(obs, models.DailyObservation{
			StationID: "TEST001",
			Date:      d,
			TavgC:     nf(tavg),
			TminC:     nf(tavg - 5),
			TmaxC:     nf(tavg + 5),
		})
	}
	for y := 2000; y <= 2023; y++ {
		for d := 1; d <= 31; d++ {
			add(day(y, time.January, d), float64(d%5))
		}
	}
	for d := 1; d <= 15; d++ {
		add(day(2024, time.January, d), 20)
	}
	_, err := s.UpsertDailyObservations("TEST001", models.SourceGHCN, obs)
	require.NoError(t, err)
	require.NoError(t, s.UpdateStationCoverage("TEST001", now))
}

type fakeIngester struct {
	release chan struct{}
}

func (f *fakeIngester) IngestAllIncremental(ctx context.Context) ([]*ingest.Result, error) {
	select {
	case <-f.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return []*ingest.Result{{StationID: "TEST001", RowsInserted: 3}}, nil
}

type testEnv struct {
	store    *store.Store
	handler  http.Handler
	refresh  *ingest.RefreshManager
	ingester *fakeIngester
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s := setupTestStore(t)
	seedStation(t, s, now)

	insights := insight.NewService(s, clock, logger)
	ing := &fakeIngester{release: make(chan struct{})}
	refresh := ingest.NewRefreshManager(ing, insights, clock, logger)
	srv := api.NewServer(s, insights, refresh, api.Options{
		Cards:  imagegen.NewCache(t.TempDir(), logger),
		Clock:  clock,
		Logger: logger,
	})
	return &testEnv{store: s, handler: srv.Handler(), refresh: refresh, ingester: ing}
}

func (e *testEnv) do(t *testing.T, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), "decode %q", w.Body.String())
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, w.Code, w.Body.String())
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/health")
	expectStatus(t, w, http.StatusOK)

	body := decode[map[string]any](t, w)
	assert.Equal(t, "degraded", body["status"], "station last seen in January")
	stations := body["stations"].([]any)
	require.Len(t, stations, 1)
	assert.Equal(t, "2024-01-15", stations[0].(map[string]any)["last_obs_date"])
}

func TestStationEndpoints(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/stations/TEST001")
	expectStatus(t, w, http.StatusOK)
	st := decode[map[string]any](t, w)
	assert.Equal(t, "Test Station", st["name"])
	assert.Equal(t, float64(25), st["coverage_years"])

	expectStatus(t, env.do(t, "GET", "/api/stations/NOPE"), http.StatusNotFound)

	w = env.do(t, "GET", "/api/stations/nearby?lat=-36.8&lon=147.0&radius_km=25")
	expectStatus(t, w, http.StatusOK)
	nearby := decode[[]map[string]any](t, w)
	require.Len(t, nearby, 1)
	d, ok := nearby[0]["distance_km"].(float64)
	assert.True(t, ok)
	assert.LessOrEqual(t, d, 5.0)

	w = env.do(t, "GET", "/api/stations/nearby?lat=95&limit=100")
	expectStatus(t, w, http.StatusUnprocessableEntity)
	fields := decode[map[string]any](t, w)["fields"].(map[string]any)
	for _, name := range []string{"lat", "lon", "limit"} {
		assert.Contains(t, fields, name)
	}
}

func TestWindowInsight(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/insights/window?station_id=TEST001&end_date=2024-01-15&window_days=7&since_year=2000")
	expectStatus(t, w, http.StatusOK)
	in := decode[map[string]any](t, w)
	assert.Equal(t, "extreme", in["severity"])
	assert.Equal(t, "warm", in["direction"])
	assert.Equal(t, float64(20), in["value"])
	assert.Contains(t, in["primary_statement"], "week")
	dq := in["data_quality"].(map[string]any)
	assert.Equal(t, float64(2000), dq["since_year"])
	assert.Equal(t, float64(25), dq["coverage_years"])
}

func TestWindowInsight_Errors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	tests := []struct {
		name   string
		query  string
		status int
		field  string
	}{
		{"missing station", "end_date=2024-01-15", http.StatusUnprocessableEntity, "station_id"},
		{"bad date", "station_id=TEST001&end_date=15/01/2024", http.StatusUnprocessableEntity, "end_date"},
		{"window too small", "station_id=TEST001&end_date=2024-01-15&window_days=0", http.StatusUnprocessableEntity, "window_days"},
		{"window too large", "station_id=TEST001&end_date=2024-01-15&window_days=366", http.StatusUnprocessableEntity, "window_days"},
		{"unknown metric", "station_id=TEST001&end_date=2024-01-15&metric=snow", http.StatusUnprocessableEntity, "metric"},
		{"since year too early", "station_id=TEST001&end_date=2024-01-15&since_year=1700", http.StatusUnprocessableEntity, "since_year"},
		{"unknown station", "station_id=NOPE&end_date=2024-01-15", http.StatusNotFound, ""},
		{"no data", "station_id=TEST001&end_date=1990-01-15", http.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "GET", "/api/insights/window?"+tt.query)
			expectStatus(t, w, tt.status)
			if tt.field == "" {
				return
			}
			fields, _ := decode[map[string]any](t, w)["fields"].(map[string]any)
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestRankings(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	base := "station_id=TEST001&end_date=2024-01-15&window_days=7"

	w := env.do(t, "GET", "/api/rankings/seasonal?"+base)
	expectStatus(t, w, http.StatusOK)
	rk := decode[map[string]any](t, w)
	assert.Equal(t, float64(1), rk["current_rank"])
	assert.Equal(t, float64(25), rk["total_years"])
	assert.Equal(t, "warm", rk["direction"])

	w = env.do(t, "GET", "/api/rankings/extremes?"+base)
	expectStatus(t, w, http.StatusOK)
	rk = decode[map[string]any](t, w)
	assert.Equal(t, float64(25), rk["current_rank"])
	assert.Equal(t, "cold", rk["direction"])
	first := rk["rankings"].([]any)[0].(map[string]any)
	assert.Contains(t, first, "start_date", "extremes entries carry their period")
	assert.Equal(t, 1.57, first["value_c"])

	// A zero halfwidth ranks only the windows ending on the requested day.
	w = env.do(t, "GET", "/api/rankings/extremes?"+base+"&halfwidth=0")
	expectStatus(t, w, http.StatusOK)
	rk = decode[map[string]any](t, w)
	for _, e := range rk["rankings"].([]any) {
		entry := e.(map[string]any)
		assert.Equal(t, fmt.Sprintf("%v-01-15", entry["year"]), entry["end_date"])
	}
	assert.Equal(t, 2.0, rk["rankings"].([]any)[0].(map[string]any)["value_c"])

	expectStatus(t, env.do(t, "GET", "/api/rankings/extremes?"+base+"&halfwidth=-1"), http.StatusUnprocessableEntity)
	expectStatus(t, env.do(t, "GET", "/api/rankings/extremes?"+base+"&direction=wet"), http.StatusUnprocessableEntity)
	expectStatus(t, env.do(t, "GET", "/api/rankings/seasonal?station_id=TEST001&end_date=2024-07-01"), http.StatusNotFound)
}

func TestSeriesAndRecords(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/series/window?station_id=TEST001&window_days=7&start_date=2024-01-10&end_date=2024-01-15")
	expectStatus(t, w, http.StatusOK)
	series := decode[map[string]any](t, w)["series"].([]any)
	assert.Len(t, series, 6)

	expectStatus(t, env.do(t, "GET", "/api/series/window?station_id=TEST001&start_date=2024-01-15&end_date=2024-01-10"), http.StatusUnprocessableEntity)

	w = env.do(t, "GET", "/api/records?station_id=TEST001")
	expectStatus(t, w, http.StatusOK)
	assert.JSONEq(t, "[]", w.Body.String(), "no records before compute")
}

func TestLatestInsights(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "GET", "/api/manage/last-updated")
	expectStatus(t, w, http.StatusOK)
	assert.Nil(t, decode[map[string]any](t, w)["last_updated"], "null before any compute")

	for _, window := range []int{7, 30} {
		require.NoError(t, env.store.UpsertLatestInsight(models.Insight{
			StationID: "TEST001", EndDate: day(2024, 1, 15), WindowDays: window, Metric: "tavg_c",
			Value: 20, Severity: "extreme", Direction: "warm", ComputedAt: time.Now().UTC(),
		}))
	}

	w = env.do(t, "GET", "/api/insights/latest")
	expectStatus(t, w, http.StatusOK)
	assert.Len(t, decode[[]map[string]any](t, w), 2)

	w = env.do(t, "GET", "/api/insights/latest?window_days=30")
	expectStatus(t, w, http.StatusOK)
	got := decode[[]map[string]any](t, w)
	require.Len(t, got, 1)
	assert.Equal(t, float64(30), got[0]["window_days"])

	w = env.do(t, "GET", "/api/manage/last-updated")
	assert.NotNil(t, decode[map[string]any](t, w)["last_updated"])
}

func TestInsightCard(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	target := "/api/insights/card.png?station_id=TEST001&end_date=2024-01-15&since_year=2000"

	w := env.do(t, "GET", target)
	expectStatus(t, w, http.StatusOK)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), "\x89PNG"), "PNG body")
	assert.Equal(t, "miss", w.Header().Get("X-Cache"))

	w = env.do(t, "GET", target)
	expectStatus(t, w, http.StatusOK)
	assert.Equal(t, "hit", w.Header().Get("X-Cache"))

	expectStatus(t, env.do(t, "GET", "/api/insights/card.png?station_id=NOPE&end_date=2024-01-15"), http.StatusNotFound)
}

func TestManageRefresh(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/manage/refresh")
	expectStatus(t, w, http.StatusAccepted)
	started := decode[map[string]any](t, w)
	require.Equal(t, "started", started["status"])
	require.NotEmpty(t, started["job_id"])

	w = env.do(t, "POST", "/api/manage/refresh")
	expectStatus(t, w, http.StatusConflict)
	running := decode[map[string]any](t, w)
	assert.Equal(t, "already_running", running["status"])
	assert.Equal(t, started["job_id"], running["job_id"])

	w = env.do(t, "GET", "/api/manage/refresh-status")
	assert.Equal(t, true, decode[map[string]any](t, w)["running"])

	close(env.ingester.release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, env.refresh.Wait(ctx))

	w = env.do(t, "GET", "/api/manage/refresh-status")
	expectStatus(t, w, http.StatusOK)
	status := decode[map[string]any](t, w)
	require.Equal(t, "completed", status["state"], "final status: %v", status)
	assert.Equal(t, false, status["running"])
	summary := status["ingest"].(map[string]any)
	assert.Equal(t, float64(3), summary["rows_inserted"])
}

func TestIngestHealth(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	id := "TEST001"
	run, err := env.store.StartIngestRun(models.SourceGHCN, "TEST001.csv", &id)
	require.NoError(t, err)
	run.HTTPStatus = sql.NullInt64{Int64: 503, Valid: true}
	run.Fail(io.ErrUnexpectedEOF)
	require.NoError(t, env.store.CompleteIngestRun(run))

	// Runs are stamped with wall-clock time, which is after the fake clock.
	w := env.do(t, "GET", "/api/manage/ingest-health?days=90")
	expectStatus(t, w, http.StatusOK)
	body := decode[map[string]any](t, w)
	failures := body["recent_errors"].([]any)
	require.Len(t, failures, 1)
	f := failures[0].(map[string]any)
	assert.Equal(t, float64(503), f["http_status"])
	assert.Equal(t, "TEST001", f["station_id"])

	expectStatus(t, env.do(t, "GET", "/api/manage/ingest-health?days=0"), http.StatusUnprocessableEntity)
}

func TestMetricsAndUnknownRoutes(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	expectStatus(t, env.do(t, "GET", "/api/nope"), http.StatusNotFound)
	expectStatus(t, env.do(t, "POST", "/api/stations/TEST001"), http.StatusMethodNotAllowed)

	w := env.do(t, "GET", "/metrics")
	expectStatus(t, w, http.StatusOK)
	assert.Contains(t, w.Body.String(), "extremetemps_http_requests_total")
}
