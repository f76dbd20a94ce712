package climate

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/extremetemps/internal/models"
)

func TestRollingValue(t *testing.T) {
	obs := tavgRun(day(2024, 1, 1), -1.5, 0.5, 1.5, 3.5, 4.5, 2.5, -0.5, -2.5, 0.5, 2.5)

	w, ok := RollingValue(obs, day(2024, 1, 7), 7, MetricTavg)
	require.True(t, ok)
	assert.Equal(t, day(2024, 1, 1), w.StartDate)
	assert.InDelta(t, 1.5, w.Value, 1e-9)
	assert.Equal(t, 1.0, w.CoverageRatio)
}

func TestRollingValue_PartialCoverage(t *testing.T) {
	obs := tavgRun(day(2024, 1, 1), 1, 2, 3, 4)
	obs[1].TavgC = sql.NullFloat64{}

	w, ok := RollingValue(obs, day(2024, 1, 7), 7, MetricTavg)
	require.True(t, ok)
	assert.InDelta(t, 8.0/3, w.Value, 1e-4)
	assert.Equal(t, 0.4286, w.CoverageRatio)
	assert.Equal(t, 3, w.NValid)
}

func TestRollingValue_NoData(t *testing.T) {
	obs := tavgRun(day(2024, 1, 1), 1, 2, 3)
	_, ok := RollingValue(obs, day(2024, 3, 1), 7, MetricTavg)
	assert.False(t, ok)
}

func TestRecentAggregate(t *testing.T) {
	obs := []models.DailyObservation{
		{Date: day(2024, 1, 1), TavgC: nf(1), TminC: nf(-2), TmaxC: nf(4), PrcpMM: nf(2.5)},
		{Date: day(2024, 1, 2), TavgC: nf(3), TminC: nf(0), TmaxC: nf(6)},
		{Date: day(2024, 1, 3), PrcpMM: nf(1)},
	}

	agg, ok := RecentAggregate("TEST001", obs, day(2024, 1, 3), 3)
	require.True(t, ok)
	assert.Equal(t, 2.0, agg.TavgMean.Float64)
	assert.Equal(t, -1.0, agg.TminMean.Float64)
	assert.Equal(t, 5.0, agg.TmaxMean.Float64)
	assert.Equal(t, 3.5, agg.PrcpSum.Float64)
	assert.Equal(t, 0.6667, agg.CoverageRatio)

	_, ok = RecentAggregate("TEST001", obs, day(2025, 1, 1), 3)
	assert.False(t, ok)
}

func TestFindAllTimeExtremes(t *testing.T) {
	obs := tavgRun(day(2020, 12, 28), 5, 9, 1, 9, 3, 1, 7)
	s := NewSeries(obs, MetricTavg)

	records := FindAllTimeExtremes("TEST001", s, MetricTavg, []int{1, 2, 10})
	require.Len(t, records, 4, "the 10-day window is longer than the history")

	byKey := map[string]models.StationRecord{}
	for _, r := range records {
		byKey[r.RecordType+WindowLabel(r.WindowDays)] = r
	}

	hi := byKey["highestday"]
	assert.Equal(t, 9.0, hi.Value)
	assert.Equal(t, day(2020, 12, 29), hi.EndDate, "earliest of tied maxima")
	assert.Equal(t, 2, hi.NYears)

	lo := byKey["lowestday"]
	assert.Equal(t, 1.0, lo.Value)
	assert.Equal(t, day(2020, 12, 30), lo.EndDate, "earliest of tied minima")

	hi2 := byKey["highest2-day period"]
	assert.Equal(t, 7.0, hi2.Value)
	assert.Equal(t, day(2020, 12, 28), hi2.StartDate)
	assert.Equal(t, day(2020, 12, 29), hi2.EndDate)
}

func TestCheckRecordProximity(t *testing.T) {
	records := []models.StationRecord{
		{WindowDays: 7, RecordType: models.RecordHighest, Value: 30, EndDate: day(1995, 7, 20)},
		{WindowDays: 7, RecordType: models.RecordLowest, Value: -10, EndDate: day(1977, 1, 18)},
		{WindowDays: 1, RecordType: models.RecordHighest, Value: 20},
	}

	tests := []struct {
		name  string
		value float64
		want  string
	}{
		{"equal to highest", 30, models.RecordHighest},
		{"above highest", 31, models.RecordHighest},
		{"equal to lowest", -10, models.RecordLowest},
		{"below lowest", -12, models.RecordLowest},
		{"inside range", 25, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CheckRecordProximity(tt.value, 7, records)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.RecordType)
			assert.True(t, got.IsNewRecord)
		})
	}

	assert.Nil(t, CheckRecordProximity(25, 14, records), "no records for window")
}
