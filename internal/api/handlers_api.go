package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/insight"
)

// staleAfter is how old a station's last observation may be before /health
// reports it as stale. Upstream daily data lags by a few days.
const staleAfter = 7 * 24 * time.Hour

type stationHealth struct {
	StationID   string  `json:"station_id"`
	LastObsDate *string `json:"last_obs_date"`
	AgeDays     int     `json:"age_days"`
	Stale       bool    `json:"stale"`
}

type healthStatus struct {
	Status   string          `json:"status"`
	Stations []stationHealth `json:"stations"`
	Errors   []string        `json:"errors,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stations, err := s.store.GetActiveStations()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, healthStatus{Status: "error", Errors: []string{err.Error()}})
		return
	}

	health := healthStatus{Status: "ok", Stations: make([]stationHealth, 0, len(stations))}
	today := climate.Day(s.clock.Now())
	for _, st := range stations {
		sh := stationHealth{StationID: st.StationID, AgeDays: -1, Stale: true}
		if st.LastObsDate.Valid {
			age := today.Sub(climate.Day(st.LastObsDate.Time))
			sh.LastObsDate = nullDateString(st.LastObsDate)
			sh.AgeDays = int(age.Hours() / 24)
			sh.Stale = age > staleAfter
		}
		if sh.Stale {
			health.Status = "degraded"
		}
		health.Stations = append(health.Stations, sh)
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleNearbyStations(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := readNearby(q)
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	nearby, err := s.store.FindNearbyStations(*p.Lat, *p.Lon, p.RadiusKm, p.Limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]stationResponse, 0, len(nearby))
	for _, n := range nearby {
		sr := newStationResponse(n.Station)
		d := n.DistanceKm
		sr.DistanceKm = &d
		resp = append(resp, sr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	st, err := s.store.GetStation(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if st == nil {
		s.writeError(w, r, insight.ErrStationNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newStationResponse(*st))
}

func (p windowParams) request() insight.Request {
	return insight.Request{
		StationID:  p.StationID,
		EndDate:    *p.EndDate,
		WindowDays: p.WindowDays,
		Metric:     climate.Metric(p.Metric),
		SinceYear:  p.SinceYear,
	}
}

func (s *Server) handleWindowInsight(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := readWindow(q)
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	in, err := s.insights.Insight(r.Context(), p.request())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newInsightResponse(*in))
}

type latestParams struct {
	WindowDays *int `query:"window_days" validate:"omitempty,min=1,max=365"`
}

func (s *Server) handleLatestInsights(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := latestParams{WindowDays: q.intPtr("window_days")}
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	insights, err := s.store.GetLatestInsights(p.WindowDays)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]latestInsightItem, 0, len(insights))
	for _, in := range insights {
		resp = append(resp, newLatestInsightItem(in))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := readSeries(q)
	err := s.bind(q, &p)
	if err == nil && p.EndDate.Before(*p.StartDate) {
		err = fieldErrors{"end_date": "must not be before start_date"}
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.insights.Series(r.Context(), insight.SeriesRequest{
		StationID:  p.StationID,
		WindowDays: p.WindowDays,
		Metric:     climate.Metric(p.Metric),
		Start:      *p.StartDate,
		End:        *p.EndDate,
		SinceYear:  p.SinceYear,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSeriesResponse(res))
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := recordsParams{
		StationID: q.str("station_id", ""),
		Metric:    q.str("metric", string(climate.MetricTavg)),
	}
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	records, err := s.insights.Records(r.Context(), p.StationID, climate.Metric(p.Metric))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, newRecordResponse(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSeasonalRanking(w http.ResponseWriter, r *http.Request) {
	s.serveRanking(w, r, climate.RankingSeasonal)
}

func (s *Server) handleExtremesRanking(w http.ResponseWriter, r *http.Request) {
	s.serveRanking(w, r, climate.RankingExtremes)
}

func (s *Server) serveRanking(w http.ResponseWriter, r *http.Request, mode climate.RankingMode) {
	q := newQuery(r)
	p := readRanking(q)
	if mode == climate.RankingExtremes && p.Direction == "" {
		p.Direction = climate.DirectionCold.String()
	}
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	req := insight.RankingRequest{
		StationID:  p.StationID,
		EndDate:    *p.EndDate,
		WindowDays: p.WindowDays,
		Metric:     climate.Metric(p.Metric),
		Halfwidth:  p.Halfwidth,
		SinceYear:  p.SinceYear,
		Mode:       mode,
	}
	if mode == climate.RankingExtremes {
		dir, err := climate.ParseDirection(p.Direction)
		if err != nil {
			s.writeError(w, r, insight.ErrInvalidDirection)
			return
		}
		req.Direction = dir
	}

	rk, err := s.insights.Ranking(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRankingResponse(rk))
}

// lastUpdated reports when insights were last recomputed.
type lastUpdated struct {
	LastUpdated *time.Time `json:"last_updated"`
}

func (s *Server) handleLastUpdated(w http.ResponseWriter, r *http.Request) {
	t, err := s.store.LastInsightComputedAt()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lastUpdated{LastUpdated: t})
}
