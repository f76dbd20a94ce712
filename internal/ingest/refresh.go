package ingest

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/lox/extremetemps/internal/metrics"
	"github.com/lox/extremetemps/internal/models"
)

var ErrRefreshRunning = errors.New("refresh already running")

type JobState string

const (
	JobIdle      JobState = "idle"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// StationIngester is the ingest step of a refresh.
type StationIngester interface {
	IngestAllIncremental(ctx context.Context) ([]*Result, error)
}

// LatestComputer is the compute step of a refresh.
type LatestComputer interface {
	Latest(ctx context.Context, stationID string, windows []int, sinceYear *int) ([]models.Insight, error)
}

type StationError struct {
	StationID string   `json:"station_id"`
	Errors    []string `json:"errors"`
}

type IngestSummary struct {
	Stations     int            `json:"stations"`
	RowsInserted int64          `json:"rows_inserted"`
	Errors       []StationError `json:"errors"`
	Duration     time.Duration  `json:"-"`
	DurationS    float64        `json:"duration_s"`
}

type ComputeSummary struct {
	InsightsComputed int            `json:"insights_computed"`
	Errors           []StationError `json:"errors"`
	Duration         time.Duration  `json:"-"`
	DurationS        float64        `json:"duration_s"`
}

// Job identifies one refresh run.
type Job struct {
	ID        string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
}

// RefreshStatus is a point-in-time copy of the refresh state.
type RefreshStatus struct {
	State      JobState        `json:"state"`
	Job        *Job            `json:"job,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Ingest     *IngestSummary  `json:"ingest,omitempty"`
	Compute    *ComputeSummary `json:"compute,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// Running reports whether a job is in progress.
func (s RefreshStatus) Running() bool {
	return s.State == JobRunning
}

// RefreshManager runs at most one ingest+recompute job at a time.
type RefreshManager struct {
	ingester StationIngester
	computer LatestComputer
	clock    clockwork.Clock
	logger   *slog.Logger

	mu     sync.Mutex
	status RefreshStatus
	done   chan struct{}
}

func NewRefreshManager(ingester StationIngester, computer LatestComputer, clock clockwork.Clock, logger *slog.Logger) *RefreshManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RefreshManager{
		ingester: ingester,
		computer: computer,
		clock:    clock,
		logger:   logger,
		status:   RefreshStatus{State: JobIdle},
	}
}

func (m *RefreshManager) begin() (Job, chan struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status.State == JobRunning {
		return Job{}, nil, ErrRefreshRunning
	}
	job := Job{ID: uuid.NewString(), StartedAt: m.clock.Now().UTC()}
	m.status = RefreshStatus{State: JobRunning, Job: &job}
	m.done = make(chan struct{})
	return job, m.done, nil
}

// Start launches a refresh in the background. The job outlives ctx's
// cancellation but keeps its values.
func (m *RefreshManager) Start(ctx context.Context) (Job, error) {
	job, done, err := m.begin()
	if err != nil {
		return Job{}, err
	}
	go func() {
		defer close(done)
		m.run(context.WithoutCancel(ctx), job)
	}()
	return job, nil
}

// Run performs a refresh synchronously and returns its final status.
func (m *RefreshManager) Run(ctx context.Context) (RefreshStatus, error) {
	job, done, err := m.begin()
	if err != nil {
		return RefreshStatus{}, err
	}
	defer close(done)
	m.run(ctx, job)
	st := m.Status()
	if st.State == JobFailed {
		return st, errors.New(st.Error)
	}
	return st, nil
}

// Wait blocks until the current job, if any, finishes.
func (m *RefreshManager) Wait(ctx context.Context) error {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a copy of the current state.
func (m *RefreshManager) Status() RefreshStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.clone()
}

func (s RefreshStatus) clone() RefreshStatus {
	out := s
	if s.Job != nil {
		j := *s.Job
		out.Job = &j
	}
	if s.FinishedAt != nil {
		t := *s.FinishedAt
		out.FinishedAt = &t
	}
	if s.Ingest != nil {
		in := *s.Ingest
		in.Errors = append([]StationError(nil), s.Ingest.Errors...)
		out.Ingest = &in
	}
	if s.Compute != nil {
		c := *s.Compute
		c.Errors = append([]StationError(nil), s.Compute.Errors...)
		out.Compute = &c
	}
	return out
}

func errorStrings(errs []error) []string {
	out := make([]string, len(errs))
	for i, err := range errs {
		out[i] = err.Error()
	}
	return out
}

func (m *RefreshManager) finish(state JobState, ingest *IngestSummary, compute *ComputeSummary, errMsg string, began time.Time) {
	now := m.clock.Now().UTC()
	m.mu.Lock()
	m.status.State = state
	m.status.FinishedAt = &now
	m.status.Ingest = ingest
	m.status.Compute = compute
	m.status.Error = errMsg
	m.mu.Unlock()

	metrics.RefreshRunsTotal.WithLabelValues(string(state)).Inc()
	metrics.RefreshDuration.Observe(now.Sub(began).Seconds())
}

func (m *RefreshManager) run(ctx context.Context, job Job) {
	began := m.clock.Now()
	m.logger.Info("refresh: started", "job", job.ID)

	results, err := m.ingester.IngestAllIncremental(ctx)
	ingestDone := m.clock.Now()
	ingest := &IngestSummary{Stations: len(results), Duration: ingestDone.Sub(began)}
	ingest.DurationS = round1(ingest.Duration.Seconds())
	for _, r := range results {
		ingest.RowsInserted += r.RowsInserted
		if len(r.Errors) > 0 {
			ingest.Errors = append(ingest.Errors, StationError{StationID: r.StationID, Errors: errorStrings(r.Errors)})
		}
	}
	if err != nil {
		m.logger.Error("refresh: ingest failed", "job", job.ID, "error", err)
		m.finish(JobFailed, ingest, nil, err.Error(), began)
		return
	}
	m.logger.Info("refresh: ingest complete", "job", job.ID, "stations", ingest.Stations, "rows", ingest.RowsInserted, "errors", len(ingest.Errors), "duration", ingest.Duration)

	compute := &ComputeSummary{}
	for _, r := range results {
		if ctx.Err() != nil {
			break
		}
		insights, err := m.computer.Latest(ctx, r.StationID, nil, nil)
		if err != nil {
			m.logger.Warn("refresh: latest insights", "job", job.ID, "station", r.StationID, "error", err)
			compute.Errors = append(compute.Errors, StationError{StationID: r.StationID, Errors: []string{err.Error()}})
		}
		compute.InsightsComputed += len(insights)
	}
	compute.Duration = m.clock.Since(ingestDone)
	compute.DurationS = round1(compute.Duration.Seconds())

	if err := ctx.Err(); err != nil {
		m.logger.Error("refresh: cancelled", "job", job.ID, "error", err)
		m.finish(JobFailed, ingest, compute, err.Error(), began)
		return
	}
	m.logger.Info("refresh: compute complete", "job", job.ID, "insights", compute.InsightsComputed, "errors", len(compute.Errors), "duration", compute.Duration)
	m.finish(JobCompleted, ingest, compute, "", began)
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
