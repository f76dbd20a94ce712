package climate

import (
	"database/sql"
	"math"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/lox/extremetemps/internal/models"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func nf(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// tavgRun builds consecutive daily observations starting at start.
func tavgRun(start time.Time, values ...float64) []models.DailyObservation {
	obs := make([]models.DailyObservation, len(values))
	for i, v := range values {
		obs[i] = models.DailyObservation{
			StationID: "TEST001",
			Date:      start.AddDate(0, 0, i),
			TavgC:     nf(v),
		}
	}
	return obs
}

// seasonal returns the synthetic mean temperature for a day-of-year: cold in
// January, warm in July.
func seasonal(doy int, amplitude float64) float64 {
	return 10 + amplitude*math.Sin(float64(doy-80)*2*math.Pi/365)
}

// synthetic builds daily tavg for every day of [firstYear, lastYear] with
// Gaussian noise. amplitude sets the seasonal swing per year.
func synthetic(firstYear, lastYear int, amplitude func(year int) float64, noise distuv.Normal) []models.DailyObservation {
	var obs []models.DailyObservation
	for d := day(firstYear, 1, 1); d.Year() <= lastYear; d = d.AddDate(0, 0, 1) {
		v := seasonal(d.YearDay(), amplitude(d.Year())) + noise.Rand()
		obs = append(obs, models.DailyObservation{
			StationID: "TEST001",
			Date:      d,
			TavgC:     nf(v),
			TminC:     nf(v - 5),
			TmaxC:     nf(v + 5),
		})
	}
	return obs
}

func constAmplitude(a float64) func(int) float64 {
	return func(int) float64 { return a }
}

func ptr[T any](v T) *T {
	return &v
}
