package climate

import (
	"math"

	"github.com/lox/extremetemps/internal/models"
)

// WindowSizes are the window lengths, in days, that records are tracked for.
var WindowSizes = []int{1, 3, 5, 7, 10, 14, 21, 28, 30, 45, 60, 75, 90, 180, 365}

// FindAllTimeExtremes returns the highest and lowest complete-window mean for
// each window size. On ties the earliest window wins.
func FindAllTimeExtremes(stationID string, s Series, m Metric, windowSizes []int) []models.StationRecord {
	first, last, ok := s.YearSpan()
	if !ok {
		return nil
	}
	nYears := last - first + 1

	var records []models.StationRecord
	for _, w := range windowSizes {
		if len(s) < w {
			continue
		}
		rolled := s.Rolling(w)
		if len(rolled) == 0 {
			continue
		}

		hi, lo := 0, 0
		for i, p := range rolled {
			if p.Value > rolled[hi].Value {
				hi = i
			}
			if p.Value < rolled[lo].Value {
				lo = i
			}
		}

		for _, pick := range []struct {
			kind string
			idx  int
		}{{models.RecordHighest, hi}, {models.RecordLowest, lo}} {
			p := rolled[pick.idx]
			records = append(records, models.StationRecord{
				StationID:  stationID,
				Metric:     string(m),
				WindowDays: w,
				RecordType: pick.kind,
				Value:      round(p.Value, 4),
				StartDate:  WindowStart(p.Date, w),
				EndDate:    p.Date,
				NYears:     nYears,
			})
		}
	}
	return records
}

// CheckRecordProximity reports whether value ties or beats one of the stored
// records for windowDays. Records are checked in the order given.
func CheckRecordProximity(value float64, windowDays int, records []models.StationRecord) *models.RecordProximity {
	if math.IsNaN(value) {
		return nil
	}
	for _, r := range records {
		if r.WindowDays != windowDays {
			continue
		}
		hit := (r.RecordType == models.RecordHighest && value >= r.Value) ||
			(r.RecordType == models.RecordLowest && value <= r.Value)
		if hit {
			return &models.RecordProximity{
				RecordType:  r.RecordType,
				RecordValue: r.Value,
				RecordStart: r.StartDate,
				RecordEnd:   r.EndDate,
				IsNewRecord: true,
			}
		}
	}
	return nil
}
