package api

import (
	"errors"
	"net/http"

	"github.com/lox/extremetemps/internal/ingest"
)

const recentIngestErrors = 20

type refreshResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	job, err := s.refresh.Start(r.Context())
	if errors.Is(err, ingest.ErrRefreshRunning) {
		resp := refreshResponse{Status: "already_running"}
		if st := s.refresh.Status(); st.Job != nil {
			resp.JobID = st.Job.ID
		}
		writeJSON(w, http.StatusConflict, resp)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("manage: refresh started", "job", job.ID)
	writeJSON(w, http.StatusAccepted, refreshResponse{Status: "started", JobID: job.ID})
}

type refreshStatusResponse struct {
	Running bool `json:"running"`
	ingest.RefreshStatus
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, r *http.Request) {
	st := s.refresh.Status()
	writeJSON(w, http.StatusOK, refreshStatusResponse{Running: st.Running(), RefreshStatus: st})
}

type ingestHealthParams struct {
	Days int `query:"days" validate:"min=1,max=90"`
}

func (s *Server) handleIngestHealth(w http.ResponseWriter, r *http.Request) {
	q := newQuery(r)
	p := ingestHealthParams{Days: q.intOr("days", 7)}
	if err := s.bind(q, &p); err != nil {
		s.writeError(w, r, err)
		return
	}

	summary, err := s.store.GetIngestHealth(p.Days, s.clock.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	failures, err := s.store.GetRecentIngestErrors(recentIngestErrors)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newIngestHealthResponse(p.Days, summary, failures))
}
