package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/lox/extremetemps/internal/httputil"
	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"
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

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() httputil.Option {
	return httputil.WithRetry(time.Millisecond, 50*time.Millisecond)
}

// ghcnCSV renders GHCN rows for consecutive days, tmax in whole degrees.
func ghcnCSV(stationID string, start time.Time, tmax ...float64) string {
	var b strings.Builder
	b.WriteString(`"STATION","DATE","PRCP","TMAX","TMIN"` + "\n")
	for i, v := range tmax {
		d := start.AddDate(0, 0, i)
		fmt.Fprintf(&b, "%q,%q,\"0\",\"%d\",\"%d\"\n", stationID, d.Format(models.DateLayout), int(v*10), int((v-10)*10))
	}
	return b.String()
}

func gsodCSV(start time.Time, tmaxF ...float64) string {
	var b strings.Builder
	b.WriteString(`"STATION","DATE","TEMP","MAX","MIN","PRCP"` + "\n")
	for i, v := range tmaxF {
		d := start.AddDate(0, 0, i)
		fmt.Fprintf(&b, "\"x\",%q,\"%.1f\",\"%.1f\",\"%.1f\",\"0.00\"\n", d.Format(models.DateLayout), v-9, v, v-18)
	}
	return b.String()
}

type openMeteoDays struct {
	start time.Time
	tmax  []float64
}

func (d openMeteoDays) body() []byte {
	resp := map[string]any{}
	var times []string
	var mins []float64
	for i, v := range d.tmax {
		times = append(times, d.start.AddDate(0, 0, i).Format(models.DateLayout))
		mins = append(mins, v-6)
	}
	resp["daily"] = map[string]any{
		"time":                times,
		"temperature_2m_max":  d.tmax,
		"temperature_2m_min":  mins,
		"temperature_2m_mean": make([]*float64, len(d.tmax)),
		"precipitation_sum":   make([]float64, len(d.tmax)),
	}
	b, _ := json.Marshal(resp)
	return b
}

type upstream struct {
	srv       *httptest.Server
	ghcn      map[string]string
	gsod      map[string]string
	openMeteo openMeteoDays
	omQueries atomic.Int32
	lastOM    atomic.Value
}

func newUpstream(t *testing.T) *upstream {
	u := &upstream{ghcn: map[string]string{}, gsod: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/ghcn/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/ghcn/"), ".csv")
		body, ok := u.ghcn[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/gsod/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := u.gsod[strings.TrimPrefix(r.URL.Path, "/gsod/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		u.omQueries.Add(1)
		u.lastOM.Store(r.URL.Query())
		_, _ = w.Write(u.openMeteo.body())
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) orchestrator(s *store.Store, now time.Time) *Orchestrator {
	return NewOrchestrator(s,
		NewGHCNClient(u.srv.URL+"/ghcn", fastRetry()),
		NewGSODClient(u.srv.URL+"/gsod", fastRetry()),
		NewOpenMeteoClient(u.srv.URL+"/forecast", fastRetry()),
		clockwork.NewFakeClockAt(now),
		quietLogger())
}

func addStation(t *testing.T, s *store.Store, id, wban string) {
	t.Helper()
	st := models.Station{StationID: id, Name: id, Latitude: 40.78, Longitude: -73.97, Active: true}
	if wban != "" {
		st.WBAN = sql.NullString{String: wban, Valid: true}
	}
	require.NoError(t, s.UpsertStation(st))
}

func sourcesByDate(t *testing.T, s *store.Store, id string) map[string]string {
	t.Helper()
	obs, err := s.GetDailyObservations(id, nil, nil)
	require.NoError(t, err)
	out := map[string]string{}
	for _, o := range obs {
		out[o.Date.Format(models.DateLayout)] = o.Source
	}
	return out
}

func TestIngestFull(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00094728", "94728")

	u.ghcn["USW00094728"] = ghcnCSV("USW00094728", day(2024, 1, 1), 5, 6, 7, 8, 9)
	u.gsod["2024/99999994728.csv"] = gsodCSV(day(2024, 1, 3), 40, 41, 42, 43, 44)
	u.openMeteo = openMeteoDays{start: day(2024, 1, 8), tmax: []float64{3, 4, 5}}

	o := u.orchestrator(s, time.Date(2024, 1, 11, 9, 0, 0, 0, time.UTC))
	res, err := o.IngestFull(context.Background(), "USW00094728")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(10), res.RowsInserted)
	assert.Equal(t, "ghcn_daily+gsod+open_meteo", res.Source())

	q := u.lastOM.Load().(url.Values)
	assert.Equal(t, "2024-01-08", q.Get("start_date"))
	assert.Equal(t, "2024-01-10", q.Get("end_date"), "capped at yesterday")

	sources := sourcesByDate(t, s, "USW00094728")
	assert.Len(t, sources, 10)
	assert.Equal(t, models.SourceGHCN, sources["2024-01-03"], "GSOD never replaces GHCN")
	assert.Equal(t, models.SourceGSOD, sources["2024-01-07"])
	assert.Equal(t, models.SourceOpenMeteo, sources["2024-01-10"])

	st, err := s.GetStation("USW00094728")
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.CoverageYears.Int64)
	assert.Equal(t, day(2024, 1, 10), st.LastObsDate.Time)
	assert.True(t, st.LastIngestAt.Valid)

	health, err := s.GetIngestHealth(1, time.Now())
	require.NoError(t, err)
	runs := 0
	for _, h := range health {
		runs += h.Runs
		assert.Zero(t, h.Failures, "source %s", h.Source)
		assert.Equal(t, "USW00094728", h.StationID)
	}
	assert.Equal(t, 3, runs)
}

func TestIngestFull_SkipsOpenMeteoWhenCurrent(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00094728", "")
	u.ghcn["USW00094728"] = ghcnCSV("USW00094728", day(2024, 1, 1), 5, 6, 7)

	o := u.orchestrator(s, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC))
	res, err := o.IngestFull(context.Background(), "USW00094728")
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.RowsInserted)
	assert.Equal(t, int32(0), u.omQueries.Load())
}

func TestIngestFull_MissingGHCN(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00000001", "")

	o := u.orchestrator(s, day(2024, 1, 4))
	res, err := o.IngestFull(context.Background(), "USW00000001")
	require.NoError(t, err)
	require.Len(t, res.Errors, 1)
	assert.True(t, httputil.IsNotFound(res.Errors[0]))
	assert.Zero(t, res.RowsInserted)

	errs, err := s.GetRecentIngestErrors(10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, models.SourceGHCN, errs[0].Source)
}

func TestIngestFull_UnknownStation(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	_, err := u.orchestrator(s, day(2024, 1, 4)).IngestFull(context.Background(), "NOPE")
	assert.ErrorIs(t, err, ErrStationNotFound)
}

func TestIngestIncremental_ReplacesProvisionalRows(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00094728", "")

	ghcn := []models.DailyObservation{}
	for i := range 5 {
		ghcn = append(ghcn, models.DailyObservation{Date: day(2024, 1, 1+i), TmaxC: nf(5), TminC: nf(0)})
	}
	_, err := s.UpsertDailyObservations("USW00094728", models.SourceGHCN, ghcn)
	require.NoError(t, err)
	om := []models.DailyObservation{}
	for i := range 3 {
		om = append(om, models.DailyObservation{Date: day(2024, 1, 6+i), TmaxC: nf(1), TminC: nf(0)})
	}
	_, err = s.UpsertDailyObservations("USW00094728", models.SourceOpenMeteo, om)
	require.NoError(t, err)

	u.ghcn["USW00094728"] = ghcnCSV("USW00094728", day(2024, 1, 1), 5, 5, 5, 5, 5, 6, 7)
	u.openMeteo = openMeteoDays{start: day(2024, 1, 8), tmax: []float64{2, 3}}

	o := u.orchestrator(s, time.Date(2024, 1, 10, 9, 0, 0, 0, time.UTC))
	res, err := o.IngestIncremental(context.Background(), "USW00094728")
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, int64(5), res.RowsInserted, "3 GHCN rows from the overlap day, 2 Open-Meteo rows")

	sources := sourcesByDate(t, s, "USW00094728")
	assert.Equal(t, models.SourceGHCN, sources["2024-01-06"])
	assert.Equal(t, models.SourceGHCN, sources["2024-01-07"])
	assert.Equal(t, models.SourceOpenMeteo, sources["2024-01-08"])
	assert.Equal(t, models.SourceOpenMeteo, sources["2024-01-09"])

	q := u.lastOM.Load().(url.Values)
	assert.Equal(t, "2024-01-08", q.Get("start_date"))
}

func TestIngestAllIncremental_IsolatesFailures(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00000001", "")
	addStation(t, s, "USW00094728", "")
	require.NoError(t, s.UpsertStation(models.Station{StationID: "USW00099999", Name: "inactive", Active: false}))

	u.ghcn["USW00094728"] = ghcnCSV("USW00094728", day(2024, 1, 1), 5, 6, 7)

	o := u.orchestrator(s, time.Date(2024, 1, 4, 9, 0, 0, 0, time.UTC))
	o.SetConcurrency(2)
	results, err := o.IngestAllIncremental(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)

	byID := map[string]*Result{}
	for _, r := range results {
		byID[r.StationID] = r
	}
	assert.NotEmpty(t, byID["USW00000001"].Errors)
	assert.Empty(t, byID["USW00094728"].Errors)
	assert.Equal(t, int64(3), byID["USW00094728"].RowsInserted)
}

func TestIngest_StoresRawPayloads(t *testing.T) {
	s := setupTestStore(t)
	u := newUpstream(t)
	addStation(t, s, "USW00094728", "")
	body := ghcnCSV("USW00094728", day(2024, 1, 1), 5)
	u.ghcn["USW00094728"] = body

	_, err := u.orchestrator(s, day(2024, 1, 2)).IngestFull(context.Background(), "USW00094728")
	require.NoError(t, err)

	var id int64
	require.NoError(t, s.DB().QueryRow(`SELECT id FROM raw_payloads WHERE source = ?`, models.SourceGHCN).Scan(&id))
	raw, err := s.GetRawPayload(id)
	require.NoError(t, err)
	assert.Equal(t, body, string(raw))
}
