package insight

import (
	"errors"
	"time"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/models"
)

var (
	ErrStationNotFound = errors.New("station not found")
	ErrNoData          = errors.New("no data available for this window")

	ErrInsufficientRankingYears = climate.ErrInsufficientRankingYears
	ErrInvalidDirection         = climate.ErrInvalidDirection
)

// ObservationReader loads daily history.
type ObservationReader interface {
	GetDailyObservations(stationID string, start, end *time.Time) ([]models.DailyObservation, error)
}

// QuantileReader loads precomputed climatology rows.
type QuantileReader interface {
	GetClimatologyQuantiles(stationID, metric string, windowDays, halfwidth, doy int) (*models.QuantileRow, error)
	ListClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int) (map[int]models.QuantileRow, error)
}

// Repository is the storage the insight pipeline reads and writes.
type Repository interface {
	ObservationReader
	QuantileReader

	GetStation(stationID string) (*models.Station, error)
	LatestObservationDate(stationID string) (*time.Time, error)
	CountDistinctYearsSince(stationID string, metric climate.Metric, since int) (years, firstYear int, err error)
	ReplaceClimatologyQuantiles(stationID, metric string, windowDays, halfwidth int, rows []models.QuantileRow) error
	GetStationRecords(stationID, metric string) ([]models.StationRecord, error)
	ReplaceStationRecords(stationID, metric string, records []models.StationRecord) error
	UpsertLatestInsight(in models.Insight) error
	UpsertWindowAggregates(aggs []models.WindowAggregate) error
}
