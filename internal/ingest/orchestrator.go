package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/metrics"
	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"
)

var ErrStationNotFound = errors.New("station not found")

// DefaultConcurrency bounds parallel station ingests.
const DefaultConcurrency = 4

// Result summarizes one station's ingest. Source failures are collected in
// Errors; they do not abort the remaining steps.
type Result struct {
	StationID    string
	RowsInserted int64
	Sources      []string
	Errors       []error
	Duration     time.Duration
}

// Source joins the sources that wrote rows, e.g. "ghcn_daily+open_meteo".
func (r *Result) Source() string {
	return strings.Join(r.Sources, "+")
}

func (r *Result) add(source string, n int64) {
	r.RowsInserted += n
	if n > 0 {
		r.Sources = append(r.Sources, source)
	}
}

type Orchestrator struct {
	store       *store.Store
	ghcn        *GHCNClient
	gsod        *GSODClient
	openMeteo   *OpenMeteoClient
	clock       clockwork.Clock
	logger      *slog.Logger
	concurrency int
}

func NewOrchestrator(st *store.Store, ghcn *GHCNClient, gsod *GSODClient, om *OpenMeteoClient, clock clockwork.Clock, logger *slog.Logger) *Orchestrator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:       st,
		ghcn:        ghcn,
		gsod:        gsod,
		openMeteo:   om,
		clock:       clock,
		logger:      logger,
		concurrency: DefaultConcurrency,
	}
}

// SetConcurrency sets how many stations IngestAllIncremental runs at once.
func (o *Orchestrator) SetConcurrency(n int) {
	if n > 0 {
		o.concurrency = n
	}
}

type fetchFunc func() ([]models.DailyObservation, *FetchResult, error)

// fetch runs one source fetch inside an audited ingest run. The returned run
// is still open; persist completes it.
func (o *Orchestrator) fetch(source, endpoint, stationID string, fn fetchFunc) ([]models.DailyObservation, *store.IngestRun, error) {
	run, err := o.store.StartIngestRun(source, endpoint, &stationID)
	if err != nil {
		o.logger.Warn("ingest: start run", "source", source, "station", stationID, "error", err)
	}

	obs, fr, fetchErr := fn()

	if run != nil {
		run.Success = fetchErr == nil
		if fr != nil {
			run.HTTPStatus = sql.NullInt64{Int64: int64(fr.HTTPStatus), Valid: fr.HTTPStatus > 0}
			run.ResponseSizeBytes = sql.NullInt64{Int64: int64(fr.ResponseSize), Valid: fr.ResponseSize > 0}
			run.RecordsParsed = sql.NullInt64{Int64: int64(fr.RecordCount), Valid: true}
			if fr.ParseErrors > 0 {
				run.ParseErrors = sql.NullInt64{Int64: int64(fr.ParseErrors), Valid: true}
				run.ErrorMessage = sql.NullString{String: fr.ParseError, Valid: true}
				o.logger.Warn("ingest: parse errors", "source", source, "station", stationID, "count", fr.ParseErrors, "first", fr.ParseError)
			}
		}
		run.Fail(fetchErr)
	}

	if run != nil && fr != nil {
		for _, p := range fr.Payloads {
			if _, err := o.store.StoreRawPayload(&run.ID, source, p.Endpoint, &stationID, p.Body); err != nil {
				o.logger.Warn("ingest: store raw payload", "source", source, "station", stationID, "error", err)
			}
		}
	}

	if fetchErr != nil && run != nil {
		o.complete(run)
	}
	return obs, run, fetchErr
}

// persist validates and upserts obs, then completes the run.
func (o *Orchestrator) persist(run *store.IngestRun, source, stationID string, obs []models.DailyObservation) (int64, error) {
	kept, rejected, flags := filterValid(obs)
	if run != nil {
		run.RecordsRejected = sql.NullInt64{Int64: int64(rejected), Valid: true}
	}
	if rejected > 0 {
		metrics.ObservationsRejected.WithLabelValues(source).Add(float64(rejected))
		o.logger.Warn("ingest: rejected rows", "source", source, "station", stationID, "count", rejected, "flags", QualityFlagsToJSON(flags))
	}

	n, err := o.store.UpsertDailyObservations(stationID, source, kept)
	if run != nil {
		if err != nil {
			run.Fail(fmt.Errorf("upsert: %w", err))
		} else {
			run.RecordsStored = sql.NullInt64{Int64: n, Valid: true}
		}
		o.complete(run)
	}
	if err != nil {
		return 0, fmt.Errorf("upsert %s rows: %w", source, err)
	}
	metrics.ObservationsIngested.WithLabelValues(source).Add(float64(n))
	return n, nil
}

func (o *Orchestrator) complete(run *store.IngestRun) {
	if err := o.store.CompleteIngestRun(run); err != nil {
		o.logger.Warn("ingest: complete run", "run", run.ID, "error", err)
	}
}

func (o *Orchestrator) station(stationID string) (*models.Station, error) {
	st, err := o.store.GetStation(stationID)
	if err != nil {
		return nil, fmt.Errorf("load station %s: %w", stationID, err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: %s", ErrStationNotFound, stationID)
	}
	return st, nil
}

// IngestFull loads a station's whole history: GHCN Daily first, GSOD for
// dates GHCN lacks, then Open-Meteo for the days since the last
// authoritative observation.
func (o *Orchestrator) IngestFull(ctx context.Context, stationID string) (*Result, error) {
	st, err := o.station(stationID)
	if err != nil {
		return nil, err
	}
	began := o.clock.Now()
	res := &Result{StationID: stationID}

	o.ingestGHCN(ctx, st, nil, res)
	if st.WBAN.Valid && st.WBAN.String != "" && o.gsod != nil {
		o.fillGapsFromGSOD(ctx, st, res)
	}
	o.fillRecent(ctx, st, res)

	if err := o.store.UpdateStationCoverage(stationID, o.clock.Now()); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("update coverage: %w", err))
	}
	res.Duration = o.clock.Since(began)
	o.logger.Info("ingest: full complete", "station", stationID, "rows", res.RowsInserted, "source", res.Source(), "errors", len(res.Errors), "duration", res.Duration)
	return res, ctx.Err()
}

// IngestIncremental refetches GHCN from the last stored date, overlapping it
// by one day to pick up late corrections, then fills the recent lag.
func (o *Orchestrator) IngestIncremental(ctx context.Context, stationID string) (*Result, error) {
	st, err := o.station(stationID)
	if err != nil {
		return nil, err
	}
	began := o.clock.Now()
	res := &Result{StationID: stationID}

	// Open-Meteo rows past the last GHCN/GSOD date are provisional, so the
	// refetch starts from the last authoritative date.
	start, err := o.store.LastAuthoritativeDate(stationID)
	if err != nil {
		return nil, fmt.Errorf("last authoritative date: %w", err)
	}
	if start == nil {
		rng, err := o.store.GetStationDateRange(stationID)
		if err != nil {
			return nil, fmt.Errorf("date range: %w", err)
		}
		if rng != nil {
			start = &rng.Last
		}
	}

	o.ingestGHCN(ctx, st, start, res)
	o.fillRecent(ctx, st, res)

	if err := o.store.UpdateStationCoverage(stationID, o.clock.Now()); err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("update coverage: %w", err))
	}
	res.Duration = o.clock.Since(began)
	o.logger.Info("ingest: incremental complete", "station", stationID, "rows", res.RowsInserted, "source", res.Source(), "errors", len(res.Errors), "duration", res.Duration)
	return res, ctx.Err()
}

// IngestAllIncremental runs IngestIncremental for every active station. A
// failing station only marks its own Result.
func (o *Orchestrator) IngestAllIncremental(ctx context.Context) ([]*Result, error) {
	stations, err := o.store.GetActiveStations()
	if err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	results := make([]*Result, len(stations))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, st := range stations {
		g.Go(func() error {
			if ctx.Err() != nil {
				results[i] = &Result{StationID: st.StationID, Errors: []error{ctx.Err()}}
				return nil
			}
			res, err := o.IngestIncremental(ctx, st.StationID)
			if res == nil {
				res = &Result{StationID: st.StationID}
			}
			if err != nil {
				o.logger.Error("ingest: station failed", "station", st.StationID, "error", err)
				res.Errors = append(res.Errors, err)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}

func (o *Orchestrator) ingestGHCN(ctx context.Context, st *models.Station, start *time.Time, res *Result) {
	if o.ghcn == nil {
		return
	}
	obs, run, err := o.fetch(models.SourceGHCN, o.ghcn.URL(st.StationID), st.StationID, func() ([]models.DailyObservation, *FetchResult, error) {
		return o.ghcn.Fetch(ctx, st.StationID, start, nil)
	})
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	if len(obs) == 0 {
		o.complete(run)
		o.logger.Info("ingest: no new ghcn data", "station", st.StationID)
		if start == nil {
			res.Errors = append(res.Errors, fmt.Errorf("no GHCN Daily data returned for %s", st.StationID))
		}
		return
	}
	n, err := o.persist(run, models.SourceGHCN, st.StationID, obs)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	res.add(models.SourceGHCN, n)
}

func (o *Orchestrator) fillGapsFromGSOD(ctx context.Context, st *models.Station, res *Result) {
	rng, err := o.store.GetStationDateRange(st.StationID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("date range: %w", err))
		return
	}
	if rng == nil {
		return
	}
	wban := st.WBAN.String
	endpoint := fmt.Sprintf("%d-%d/%s", rng.First.Year(), rng.Last.Year(), gsodFileID(wban))
	obs, run, err := o.fetch(models.SourceGSOD, endpoint, st.StationID, func() ([]models.DailyObservation, *FetchResult, error) {
		return o.gsod.Fetch(ctx, st.StationID, wban, rng.First.Year(), rng.Last.Year())
	})
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}

	existing, err := o.store.GetDailyDates(st.StationID)
	if err != nil {
		o.complete(run)
		res.Errors = append(res.Errors, fmt.Errorf("existing dates: %w", err))
		return
	}
	obs = missingFrom(obs, existing)
	if len(obs) == 0 {
		o.complete(run)
		return
	}
	n, err := o.persist(run, models.SourceGSOD, st.StationID, obs)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	res.add(models.SourceGSOD, n)
	o.logger.Info("ingest: gsod gap fill", "station", st.StationID, "rows", n)
}

// fillRecent fetches Open-Meteo from the day after the last GHCN/GSOD date
// through yesterday. Today is partial and is never requested.
func (o *Orchestrator) fillRecent(ctx context.Context, st *models.Station, res *Result) {
	if o.openMeteo == nil {
		return
	}
	last, err := o.store.LastAuthoritativeDate(st.StationID)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Errorf("last authoritative date: %w", err))
		return
	}
	if last == nil {
		return
	}
	yesterday := climate.Day(o.clock.Now()).AddDate(0, 0, -1)
	start := last.AddDate(0, 0, 1)
	if start.After(yesterday) {
		return
	}

	obs, run, err := o.fetch(models.SourceOpenMeteo, o.openMeteo.URL(st.Latitude, st.Longitude, start, yesterday), st.StationID, func() ([]models.DailyObservation, *FetchResult, error) {
		return o.openMeteo.Fetch(ctx, st.StationID, st.Latitude, st.Longitude, start, yesterday)
	})
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}

	authoritative, err := o.store.GetDailyDates(st.StationID, models.SourceGHCN, models.SourceGSOD)
	if err != nil {
		o.complete(run)
		res.Errors = append(res.Errors, fmt.Errorf("authoritative dates: %w", err))
		return
	}
	obs = missingFrom(obs, authoritative)
	if len(obs) == 0 {
		o.complete(run)
		return
	}
	n, err := o.persist(run, models.SourceOpenMeteo, st.StationID, obs)
	if err != nil {
		res.Errors = append(res.Errors, err)
		return
	}
	res.add(models.SourceOpenMeteo, n)
	o.logger.Info("ingest: open-meteo fill", "station", st.StationID, "rows", n, "from", start.Format(models.DateLayout), "to", yesterday.Format(models.DateLayout))
}

func missingFrom(obs []models.DailyObservation, existing map[time.Time]bool) []models.DailyObservation {
	var out []models.DailyObservation
	for _, o := range obs {
		if !existing[o.Date] {
			out = append(out, o)
		}
	}
	return out
}
