package climate

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/lox/extremetemps/internal/models"
)

// Metric names a daily observation column.
type Metric string

const (
	MetricTavg Metric = "tavg_c"
	MetricTmax Metric = "tmax_c"
	MetricTmin Metric = "tmin_c"
	MetricPrcp Metric = "prcp_mm"
)

// Metrics lists every supported metric.
var Metrics = []Metric{MetricTavg, MetricTmax, MetricTmin, MetricPrcp}

// TemperatureMetrics are the metrics that all-time records are tracked for.
var TemperatureMetrics = []Metric{MetricTavg, MetricTmax, MetricTmin}

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	for _, m := range Metrics {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// IsPrecipitation reports whether anomalies in m read as wet/dry rather than warm/cold.
func (m Metric) IsPrecipitation() bool {
	return strings.HasPrefix(string(m), "prcp")
}

// Column returns the storage column for m. Only whitelisted metrics map to a column.
func (m Metric) Column() (string, bool) {
	switch m {
	case MetricTavg, MetricTmax, MetricTmin, MetricPrcp:
		return string(m), true
	}
	return "", false
}

// Value extracts m from an observation.
func (m Metric) Value(o models.DailyObservation) sql.NullFloat64 {
	switch m {
	case MetricTavg:
		return o.TavgC
	case MetricTmax:
		return o.TmaxC
	case MetricTmin:
		return o.TminC
	case MetricPrcp:
		return o.PrcpMM
	}
	return sql.NullFloat64{}
}
