package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/insight"
	"github.com/lox/extremetemps/internal/models"
	"github.com/lox/extremetemps/internal/store"
)

type errorResponse struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())}
	var fields fieldErrors
	switch {
	case errors.As(err, &fields):
		resp.Error = "invalid query parameters"
		resp.Fields = fields
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, insight.ErrInvalidDirection):
		writeJSON(w, http.StatusUnprocessableEntity, resp)
	case errors.Is(err, insight.ErrStationNotFound),
		errors.Is(err, insight.ErrNoData),
		errors.Is(err, insight.ErrInsufficientRankingYears):
		writeJSON(w, http.StatusNotFound, resp)
	case errors.Is(err, context.Canceled):
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		s.logger.Error("http: handler failed", "path", r.URL.Path, "request_id", resp.RequestID, "error", err)
		resp.Error = "internal error"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

func dateString(t time.Time) string {
	return t.Format(models.DateLayout)
}

func nullDateString(t sql.NullTime) *string {
	if !t.Valid {
		return nil
	}
	s := dateString(t.Time)
	return &s
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	return &v.Float64
}

type stationResponse struct {
	StationID           string     `json:"station_id"`
	Name                string     `json:"name"`
	Lat                 float64    `json:"lat"`
	Lon                 float64    `json:"lon"`
	ElevationM          *float64   `json:"elevation_m"`
	DistanceKm          *float64   `json:"distance_km,omitempty"`
	WBAN                *string    `json:"wban,omitempty"`
	CoverageYears       *int       `json:"coverage_years"`
	CompletenessTempPct *float64   `json:"completeness_temp_pct"`
	CompletenessPrcpPct *float64   `json:"completeness_prcp_pct"`
	IsActive            bool       `json:"is_active"`
	FirstObsDate        *string    `json:"first_obs_date"`
	LastObsDate         *string    `json:"last_obs_date"`
	LastIngestAt        *time.Time `json:"last_ingest_at,omitempty"`
}

func newStationResponse(st models.Station) stationResponse {
	resp := stationResponse{
		StationID:           st.StationID,
		Name:                st.Name,
		Lat:                 st.Latitude,
		Lon:                 st.Longitude,
		ElevationM:          nullFloat(st.ElevationM),
		CompletenessTempPct: nullFloat(st.CompletenessTempPct),
		CompletenessPrcpPct: nullFloat(st.CompletenessPrcpPct),
		IsActive:            st.Active,
		FirstObsDate:        nullDateString(st.FirstObsDate),
		LastObsDate:         nullDateString(st.LastObsDate),
	}
	if st.WBAN.Valid {
		resp.WBAN = &st.WBAN.String
	}
	if st.CoverageYears.Valid {
		n := int(st.CoverageYears.Int64)
		resp.CoverageYears = &n
	}
	if st.LastIngestAt.Valid {
		resp.LastIngestAt = &st.LastIngestAt.Time
	}
	return resp
}

type normalBand struct {
	P25 *float64 `json:"p25"`
	P75 *float64 `json:"p75"`
}

type dataQuality struct {
	CoverageYears int     `json:"coverage_years"`
	FirstYear     int     `json:"first_year"`
	CoverageRatio float64 `json:"coverage_ratio"`
	NSamples      *int    `json:"n_samples"`
	SinceYear     *int    `json:"since_year"`
}

type recordInfo struct {
	RecordType  string  `json:"record_type"`
	RecordValue float64 `json:"record_value"`
	RecordStart string  `json:"record_start"`
	RecordEnd   string  `json:"record_end"`
	IsNewRecord bool    `json:"is_new_record"`
}

type insightResponse struct {
	StationID        string      `json:"station_id"`
	EndDate          string      `json:"end_date"`
	WindowDays       int         `json:"window_days"`
	Metric           string      `json:"metric"`
	PrimaryStatement string      `json:"primary_statement"`
	SupportingLine   string      `json:"supporting_line"`
	Value            float64     `json:"value"`
	NormalValue      *float64    `json:"normal_value"`
	Severity         string      `json:"severity"`
	Direction        string      `json:"direction"`
	Percentile       *float64    `json:"percentile"`
	NormalBand       *normalBand `json:"normal_band"`
	DataQuality      dataQuality `json:"data_quality"`
	RecordInfo       *recordInfo `json:"record_info"`
	SinceYear        *int        `json:"since_year"`
}

func newInsightResponse(in models.Insight) insightResponse {
	resp := insightResponse{
		StationID:        in.StationID,
		EndDate:          dateString(in.EndDate),
		WindowDays:       in.WindowDays,
		Metric:           in.Metric,
		PrimaryStatement: in.PrimaryStatement,
		SupportingLine:   in.SupportingLine,
		Value:            in.Value,
		NormalValue:      in.NormalValue,
		Severity:         in.Severity,
		Direction:        in.Direction,
		Percentile:       in.Percentile,
		DataQuality: dataQuality{
			CoverageYears: in.DataQuality.CoverageYears,
			FirstYear:     in.DataQuality.FirstYear,
			CoverageRatio: in.DataQuality.CoverageRatio,
			NSamples:      in.DataQuality.NSamples,
			SinceYear:     in.DataQuality.SinceYear,
		},
		SinceYear: in.SinceYear,
	}
	if in.NormalBand.P25 != nil && in.NormalBand.P75 != nil {
		resp.NormalBand = &normalBand{P25: in.NormalBand.P25, P75: in.NormalBand.P75}
	}
	if rec := in.Record; rec != nil {
		resp.RecordInfo = &recordInfo{
			RecordType:  rec.RecordType,
			RecordValue: rec.RecordValue,
			RecordStart: dateString(rec.RecordStart),
			RecordEnd:   dateString(rec.RecordEnd),
			IsNewRecord: rec.IsNewRecord,
		}
	}
	return resp
}

type latestInsightItem struct {
	StationID        string    `json:"station_id"`
	EndDate          string    `json:"end_date"`
	WindowDays       int       `json:"window_days"`
	Metric           string    `json:"metric"`
	Value            float64   `json:"value"`
	Percentile       *float64  `json:"percentile"`
	Severity         string    `json:"severity"`
	Direction        string    `json:"direction"`
	PrimaryStatement string    `json:"primary_statement"`
	SupportingLine   string    `json:"supporting_line"`
	CoverageYears    int       `json:"coverage_years"`
	FirstYear        int       `json:"first_year"`
	SinceYear        *int      `json:"since_year"`
	ComputedAt       time.Time `json:"computed_at"`
}

func newLatestInsightItem(in models.Insight) latestInsightItem {
	return latestInsightItem{
		StationID:        in.StationID,
		EndDate:          dateString(in.EndDate),
		WindowDays:       in.WindowDays,
		Metric:           in.Metric,
		Value:            in.Value,
		Percentile:       in.Percentile,
		Severity:         in.Severity,
		Direction:        in.Direction,
		PrimaryStatement: in.PrimaryStatement,
		SupportingLine:   in.SupportingLine,
		CoverageYears:    in.DataQuality.CoverageYears,
		FirstYear:        in.DataQuality.FirstYear,
		SinceYear:        in.SinceYear,
		ComputedAt:       in.ComputedAt,
	}
}

type seriesPoint struct {
	EndDate    string   `json:"end_date"`
	Value      float64  `json:"value"`
	Percentile *float64 `json:"percentile"`
	P10        *float64 `json:"p10"`
	P25        *float64 `json:"p25"`
	P50        *float64 `json:"p50"`
	P75        *float64 `json:"p75"`
	P90        *float64 `json:"p90"`
}

type seriesResponse struct {
	StationID  string        `json:"station_id"`
	WindowDays int           `json:"window_days"`
	Metric     string        `json:"metric"`
	Series     []seriesPoint `json:"series"`
	SinceYear  *int          `json:"since_year"`
}

func newSeriesResponse(res *insight.SeriesResult) seriesResponse {
	resp := seriesResponse{
		StationID:  res.StationID,
		WindowDays: res.WindowDays,
		Metric:     string(res.Metric),
		Series:     make([]seriesPoint, 0, len(res.Points)),
		SinceYear:  res.SinceYear,
	}
	for _, p := range res.Points {
		resp.Series = append(resp.Series, seriesPoint{
			EndDate:    dateString(p.EndDate),
			Value:      p.Value,
			Percentile: p.Percentile,
			P10:        p.P10,
			P25:        p.P25,
			P50:        p.P50,
			P75:        p.P75,
			P90:        p.P90,
		})
	}
	return resp
}

type recordResponse struct {
	StationID  string  `json:"station_id"`
	Metric     string  `json:"metric"`
	WindowDays int     `json:"window_days"`
	RecordType string  `json:"record_type"`
	Value      float64 `json:"value"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	NYears     int     `json:"n_years"`
}

func newRecordResponse(rec models.StationRecord) recordResponse {
	return recordResponse{
		StationID:  rec.StationID,
		Metric:     rec.Metric,
		WindowDays: rec.WindowDays,
		RecordType: rec.RecordType,
		Value:      rec.Value,
		StartDate:  dateString(rec.StartDate),
		EndDate:    dateString(rec.EndDate),
		NYears:     rec.NYears,
	}
}

type rankingEntry struct {
	Rank      int     `json:"rank"`
	Year      int     `json:"year"`
	ValueC    float64 `json:"value_c"`
	ValueF    float64 `json:"value_f"`
	DeltaF    float64 `json:"delta_f"`
	StartDate *string `json:"start_date,omitempty"`
	EndDate   *string `json:"end_date,omitempty"`
	IsCurrent bool    `json:"is_current"`
}

type rankingResponse struct {
	Mode        string         `json:"mode"`
	Rankings    []rankingEntry `json:"rankings"`
	CurrentRank int            `json:"current_rank"`
	TotalYears  int            `json:"total_years"`
	Direction   string         `json:"direction"`
}

func newRankingResponse(rk *climate.Ranking) rankingResponse {
	resp := rankingResponse{
		Mode:        string(rk.Mode),
		Rankings:    make([]rankingEntry, 0, len(rk.Entries)),
		CurrentRank: rk.CurrentRank,
		TotalYears:  rk.TotalYears,
		Direction:   rk.Direction.String(),
	}
	for _, e := range rk.Entries {
		entry := rankingEntry{
			Rank:      e.Rank,
			Year:      e.Year,
			ValueC:    e.ValueC,
			ValueF:    e.ValueF,
			DeltaF:    e.DeltaF,
			IsCurrent: e.IsCurrent,
		}
		if rk.Mode == climate.RankingExtremes {
			start, end := dateString(e.StartDate), dateString(e.EndDate)
			entry.StartDate, entry.EndDate = &start, &end
		}
		resp.Rankings = append(resp.Rankings, entry)
	}
	return resp
}

type ingestHealthDay struct {
	Date          string `json:"date"`
	Source        string `json:"source"`
	StationID     string `json:"station_id,omitempty"`
	Runs          int    `json:"runs"`
	Failures      int    `json:"failures"`
	RowsStored    int64  `json:"rows_stored"`
	RowsRejected  int64  `json:"rows_rejected"`
	ParseErrors   int64  `json:"parse_errors"`
	LastHTTPError *int64 `json:"last_http_error,omitempty"`
}

type ingestFailure struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	Source     string    `json:"source"`
	Endpoint   string    `json:"endpoint"`
	StationID  *string   `json:"station_id"`
	HTTPStatus *int64    `json:"http_status"`
	Error      string    `json:"error"`
}

type ingestHealthResponse struct {
	Days         int               `json:"days"`
	Summary      []ingestHealthDay `json:"summary"`
	RecentErrors []ingestFailure   `json:"recent_errors"`
}

func newIngestHealthResponse(days int, summary []store.IngestHealthSummary, failures []store.IngestRun) ingestHealthResponse {
	resp := ingestHealthResponse{
		Days:         days,
		Summary:      make([]ingestHealthDay, 0, len(summary)),
		RecentErrors: make([]ingestFailure, 0, len(failures)),
	}
	for _, h := range summary {
		day := ingestHealthDay{
			Date:         h.Date,
			Source:       h.Source,
			StationID:    h.StationID,
			Runs:         h.Runs,
			Failures:     h.Failures,
			RowsStored:   h.RowsStored,
			RowsRejected: h.RowsRejected,
			ParseErrors:  h.ParseErrors,
		}
		if h.LastHTTPError.Valid {
			day.LastHTTPError = &h.LastHTTPError.Int64
		}
		resp.Summary = append(resp.Summary, day)
	}
	for _, run := range failures {
		f := ingestFailure{
			ID:        run.ID,
			StartedAt: run.StartedAt,
			Source:    run.Source,
			Endpoint:  run.Endpoint,
			Error:     run.ErrorMessage.String,
		}
		if run.StationID.Valid {
			f.StationID = &run.StationID.String
		}
		if run.HTTPStatus.Valid {
			f.HTTPStatus = &run.HTTPStatus.Int64
		}
		resp.RecentErrors = append(resp.RecentErrors, f)
	}
	return resp
}
