package climate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifySeverity_Thresholds(t *testing.T) {
	tests := []struct {
		percentile float64
		want       Severity
	}{
		{0, SeverityExtreme},
		{5, SeverityExtreme},
		{5.1, SeverityUnusual},
		{15, SeverityUnusual},
		{15.1, SeverityABit},
		{35, SeverityABit},
		{35.1, SeverityNormal},
		{50, SeverityNormal},
		{64.9, SeverityNormal},
		{65, SeverityABit},
		{84.9, SeverityABit},
		{85, SeverityUnusual},
		{94.9, SeverityUnusual},
		{95, SeverityExtreme},
		{99, SeverityExtreme},
	}
	for _, tt := range tests {
		got := ClassifySeverity(ptr(tt.percentile), nil, nil)
		assert.Equal(t, tt.want, got, "percentile %v", tt.percentile)
	}
}

func TestClassifySeverity_Downgrades(t *testing.T) {
	tests := []struct {
		name     string
		pct      float64
		years    *int
		coverage *float64
		want     Severity
	}{
		{"full history", 2, ptr(50), ptr(1.0), SeverityExtreme},
		{"short history", 2, ptr(20), ptr(1.0), SeverityUnusual},
		{"sparse window", 2, ptr(50), ptr(0.3), SeverityUnusual},
		{"both compound", 2, ptr(20), ptr(0.3), SeverityABit},
		{"exactly at minimums", 2, ptr(MinCoverageYears), ptr(MinCoverageRatio), SeverityExtreme},
		{"nil years skips history check", 2, nil, ptr(1.0), SeverityExtreme},
		{"a bit falls to normal", 30, ptr(10), ptr(0.2), SeverityNormal},
		{"normal is fixed", 50, ptr(1), ptr(0.0), SeverityNormal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySeverity(ptr(tt.pct), tt.years, tt.coverage))
		})
	}
}

func TestClassifySeverity_NoPercentile(t *testing.T) {
	assert.Equal(t, SeverityInsufficientData, ClassifySeverity(nil, ptr(5), ptr(0.1)))
}

func TestClassifyDirection(t *testing.T) {
	tests := []struct {
		pct    float64
		metric Metric
		want   Direction
	}{
		{80, MetricTavg, DirectionWarm},
		{20, MetricTmax, DirectionCold},
		{50, MetricTmin, DirectionNeutral},
		{80, MetricPrcp, DirectionWet},
		{20, MetricPrcp, DirectionDry},
		{50, MetricPrcp, DirectionNeutral},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyDirection(tt.pct, tt.metric), "%v %s", tt.pct, tt.metric)
	}
}

func TestSeverityText(t *testing.T) {
	for s := SeverityInsufficientData; s <= SeverityExtreme; s++ {
		parsed, err := ParseSeverity(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseSeverity("very_unusual")
	assert.Error(t, err)

	_, err = ParseDirection("sideways")
	assert.Error(t, err)
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("prcp_mm")
	require.NoError(t, err)
	assert.True(t, m.IsPrecipitation())

	_, err = ParseMetric("tavg_c; DROP TABLE stations")
	assert.Error(t, err)
}
