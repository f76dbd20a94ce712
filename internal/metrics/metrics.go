package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SourceAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_source_api_calls_total",
			Help: "Total calls to upstream observation sources",
		},
		[]string{"source", "status"},
	)

	SourceAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extremetemps_source_api_latency_seconds",
			Help:    "Upstream source call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)

	ObservationsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_observations_ingested_total",
			Help: "Total daily observations written, by source",
		},
		[]string{"source"},
	)

	ObservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_observations_rejected_total",
			Help: "Daily observations dropped by validation, by source",
		},
		[]string{"source"},
	)

	InsightsComputed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_insights_computed_total",
			Help: "Total latest insights computed, by severity",
		},
		[]string{"severity"},
	)

	ClimatologyRowsComputed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "extremetemps_climatology_rows_computed_total",
			Help: "Total climatology quantile rows written",
		},
	)

	RefreshRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_refresh_runs_total",
			Help: "Total refresh jobs, by final status",
		},
		[]string{"status"},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "extremetemps_refresh_duration_seconds",
			Help:    "Refresh job duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	CardRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_card_requests_total",
			Help: "Insight card requests, by cache result",
		},
		[]string{"cache"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "extremetemps_http_requests_total",
			Help: "Total HTTP requests, by route pattern and status code",
		},
		[]string{"route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "extremetemps_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)
