package models

import (
	"database/sql"
	"time"
)

// DateLayout is how calendar dates are stored and exchanged.
const DateLayout = "2006-01-02"

type Station struct {
	StationID           string
	WBAN                sql.NullString // GSOD identifier, "USAF+WBAN" or bare WBAN
	Name                string
	Latitude            float64
	Longitude           float64
	ElevationM          sql.NullFloat64
	FirstObsDate        sql.NullTime
	LastObsDate         sql.NullTime
	CompletenessTempPct sql.NullFloat64
	CompletenessPrcpPct sql.NullFloat64
	CoverageYears       sql.NullInt64
	Active              bool
	LastIngestAt        sql.NullTime
}

// NearbyStation is a station annotated with its great-circle distance from a query point.
type NearbyStation struct {
	Station
	DistanceKm float64
}

// Observation sources, in decreasing order of authority.
const (
	SourceGHCN      = "ghcn_daily"
	SourceGSOD      = "gsod"
	SourceOpenMeteo = "open_meteo"
)

type DailyObservation struct {
	StationID string
	Date      time.Time
	TminC     sql.NullFloat64
	TmaxC     sql.NullFloat64
	TavgC     sql.NullFloat64
	PrcpMM    sql.NullFloat64
	Source    string
}

// QuantileRow is one climatology row for a station, metric, window and end day-of-year.
type QuantileRow struct {
	StationID  string
	Metric     string
	WindowDays int
	EndDOY     int
	Halfwidth  int
	P02        sql.NullFloat64
	P10        sql.NullFloat64
	P25        sql.NullFloat64
	P50        sql.NullFloat64
	P75        sql.NullFloat64
	P90        sql.NullFloat64
	P98        sql.NullFloat64
	NSamples   int
	FirstYear  int
	LastYear   int
}

const (
	RecordHighest = "highest"
	RecordLowest  = "lowest"
)

type StationRecord struct {
	StationID  string
	Metric     string
	WindowDays int
	RecordType string // "highest" or "lowest"
	Value      float64
	StartDate  time.Time
	EndDate    time.Time
	NYears     int
}

// RecordProximity reports that a value reached a stored all-time record.
type RecordProximity struct {
	RecordType  string
	RecordValue float64
	RecordStart time.Time
	RecordEnd   time.Time
	IsNewRecord bool
}

// WindowAggregate is a recent trailing-window summary of every metric.
type WindowAggregate struct {
	StationID     string
	WindowDays    int
	StartDate     time.Time
	EndDate       time.Time
	TavgMean      sql.NullFloat64
	TminMean      sql.NullFloat64
	TmaxMean      sql.NullFloat64
	PrcpSum       sql.NullFloat64
	CoverageRatio float64
}

// DataQuality describes how much history backs an insight.
type DataQuality struct {
	CoverageYears int
	FirstYear     int
	CoverageRatio float64
	NSamples      *int
	SinceYear     *int
}

// NormalBand is the interquartile range of the climatology.
type NormalBand struct {
	P25 *float64
	P75 *float64
}

type Insight struct {
	StationID        string
	EndDate          time.Time
	WindowDays       int
	Metric           string
	Value            float64
	NormalValue      *float64
	Percentile       *float64
	Severity         string
	Direction        string
	PrimaryStatement string
	SupportingLine   string
	NormalBand       NormalBand
	DataQuality      DataQuality
	Record           *RecordProximity
	SinceYear        *int
	ComputedAt       time.Time
}
