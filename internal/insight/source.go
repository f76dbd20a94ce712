package insight

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/models"
)

// QuantileSource supplies the climatology for a station, metric, window and
// end day-of-year. A nil row with a nil error means there is too little
// history to estimate one.
type QuantileSource interface {
	Quantiles(ctx context.Context, stationID string, m climate.Metric, windowDays, doy int) (*models.QuantileRow, error)
	QuantilesForDOYs(ctx context.Context, stationID string, m climate.Metric, windowDays int, doys []int) (map[int]models.QuantileRow, error)
}

// PrecomputedSource reads climatology materialized by ComputeClimatology at
// one halfwidth.
type PrecomputedSource struct {
	repo      QuantileReader
	halfwidth int
}

func NewPrecomputedSource(repo QuantileReader, halfwidth int) *PrecomputedSource {
	return &PrecomputedSource{repo: repo, halfwidth: halfwidth}
}

func (p *PrecomputedSource) Quantiles(ctx context.Context, stationID string, m climate.Metric, windowDays, doy int) (*models.QuantileRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	row, err := p.repo.GetClimatologyQuantiles(stationID, string(m), windowDays, p.halfwidth, doy)
	if err != nil {
		return nil, fmt.Errorf("read climatology: %w", err)
	}
	return row, nil
}

func (p *PrecomputedSource) QuantilesForDOYs(ctx context.Context, stationID string, m climate.Metric, windowDays int, doys []int) (map[int]models.QuantileRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	all, err := p.repo.ListClimatologyQuantiles(stationID, string(m), windowDays, p.halfwidth)
	if err != nil {
		return nil, fmt.Errorf("read climatology: %w", err)
	}
	out := make(map[int]models.QuantileRow, len(doys))
	for _, doy := range doys {
		if row, ok := all[doy]; ok {
			out[doy] = row
		}
	}
	return out, nil
}

type seriesKey struct {
	stationID string
	metric    climate.Metric
}

type samplerKey struct {
	seriesKey
	windowDays int
}

// OnTheFlySource estimates climatology from history restricted to sinceYear
// onward. Each station and metric is loaded once per source.
type OnTheFlySource struct {
	repo      ObservationReader
	sinceYear int
	halfwidth int

	mu       sync.Mutex
	series   map[seriesKey]climate.Series
	samplers map[samplerKey]*climate.Sampler
}

func NewOnTheFlySource(repo ObservationReader, sinceYear int) *OnTheFlySource {
	return &OnTheFlySource{
		repo:      repo,
		sinceYear: sinceYear,
		halfwidth: climate.DefaultHalfwidth,
		series:    make(map[seriesKey]climate.Series),
		samplers:  make(map[samplerKey]*climate.Sampler),
	}
}

func (o *OnTheFlySource) sampler(stationID string, m climate.Metric, windowDays int) (*climate.Sampler, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sk := seriesKey{stationID: stationID, metric: m}
	key := samplerKey{seriesKey: sk, windowDays: windowDays}
	if sp, ok := o.samplers[key]; ok {
		return sp, nil
	}

	s, ok := o.series[sk]
	if !ok {
		start := time.Date(o.sinceYear, 1, 1, 0, 0, 0, 0, time.UTC)
		obs, err := o.repo.GetDailyObservations(stationID, &start, nil)
		if err != nil {
			return nil, fmt.Errorf("load history since %d: %w", o.sinceYear, err)
		}
		s = climate.NewSeries(obs, m)
		o.series[sk] = s
	}

	sp := climate.NewSampler(s, windowDays)
	o.samplers[key] = sp
	return sp, nil
}

func (o *OnTheFlySource) Quantiles(ctx context.Context, stationID string, m climate.Metric, windowDays, doy int) (*models.QuantileRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sp, err := o.sampler(stationID, m, windowDays)
	if err != nil {
		return nil, err
	}
	e, ok := sp.Estimate(doy, o.halfwidth)
	if !ok {
		return nil, nil
	}
	row := e.Row(stationID, m, windowDays, o.halfwidth)
	return &row, nil
}

func (o *OnTheFlySource) QuantilesForDOYs(ctx context.Context, stationID string, m climate.Metric, windowDays int, doys []int) (map[int]models.QuantileRow, error) {
	sp, err := o.sampler(stationID, m, windowDays)
	if err != nil {
		return nil, err
	}
	out := make(map[int]models.QuantileRow, len(doys))
	for _, doy := range doys {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, done := out[doy]; done {
			continue
		}
		if e, ok := sp.Estimate(doy, o.halfwidth); ok {
			out[doy] = e.Row(stationID, m, windowDays, o.halfwidth)
		}
	}
	return out, nil
}
