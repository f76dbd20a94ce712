package api

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/lox/extremetemps/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := f.Tag.Get("query"); name != "" {
			return name
		}
		return f.Name
	})
	return v
}

// fieldErrors maps query parameter names to what is wrong with them.
type fieldErrors map[string]string

func (f fieldErrors) Error() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+" "+v)
	}
	return "invalid query: " + strings.Join(parts, "; ")
}

// query reads typed values from a URL query, collecting parse failures.
type query struct {
	values url.Values
	errs   fieldErrors
}

func newQuery(r *http.Request) *query {
	return &query{values: r.URL.Query(), errs: fieldErrors{}}
}

func (q *query) str(name, def string) string {
	if v := strings.TrimSpace(q.values.Get(name)); v != "" {
		return v
	}
	return def
}

func (q *query) intPtr(name string) *int {
	v := q.values.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		q.errs[name] = "must be an integer"
		return nil
	}
	return &n
}

func (q *query) intOr(name string, def int) int {
	if p := q.intPtr(name); p != nil {
		return *p
	}
	return def
}

func (q *query) floatPtr(name string) *float64 {
	v := q.values.Get(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		q.errs[name] = "must be a number"
		return nil
	}
	return &f
}

func (q *query) floatOr(name string, def float64) float64 {
	if p := q.floatPtr(name); p != nil {
		return *p
	}
	return def
}

func (q *query) date(name string) *time.Time {
	v := q.values.Get(name)
	if v == "" {
		return nil
	}
	t, err := time.Parse(models.DateLayout, v)
	if err != nil {
		q.errs[name] = "must be a date (YYYY-MM-DD)"
		return nil
	}
	return &t
}

// bind validates dst after the query has been read into it. Parse failures
// take precedence over validation rules for the same parameter.
func (s *Server) bind(q *query, dst any) error {
	errs := fieldErrors{}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs[fe.Field()] = describe(fe)
		}
	}
	for k, v := range q.errs {
		errs[k] = v
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "latitude", "longitude":
		return "must be a valid " + fe.Tag()
	case "gt":
		return "must be greater than " + fe.Param()
	}
	return fmt.Sprintf("failed %q validation", fe.Tag())
}

type nearbyParams struct {
	Lat      *float64 `query:"lat" validate:"required,latitude"`
	Lon      *float64 `query:"lon" validate:"required,longitude"`
	RadiusKm float64  `query:"radius_km" validate:"gt=0,lte=2000"`
	Limit    int      `query:"limit" validate:"min=1,max=50"`
}

func readNearby(q *query) nearbyParams {
	return nearbyParams{
		Lat:      q.floatPtr("lat"),
		Lon:      q.floatPtr("lon"),
		RadiusKm: q.floatOr("radius_km", 50),
		Limit:    q.intOr("limit", 10),
	}
}

type windowParams struct {
	StationID  string     `query:"station_id" validate:"required"`
	EndDate    *time.Time `query:"end_date" validate:"required"`
	WindowDays int        `query:"window_days" validate:"min=1,max=365"`
	Metric     string     `query:"metric" validate:"required,oneof=tavg_c tmax_c tmin_c prcp_mm"`
	SinceYear  *int       `query:"since_year" validate:"omitempty,min=1850,max=2100"`
}

func readWindow(q *query) windowParams {
	return windowParams{
		StationID:  q.str("station_id", ""),
		EndDate:    q.date("end_date"),
		WindowDays: q.intOr("window_days", 7),
		Metric:     q.str("metric", "tavg_c"),
		SinceYear:  q.intPtr("since_year"),
	}
}

type seriesParams struct {
	StationID  string     `query:"station_id" validate:"required"`
	WindowDays int        `query:"window_days" validate:"min=1,max=365"`
	Metric     string     `query:"metric" validate:"required,oneof=tavg_c tmax_c tmin_c prcp_mm"`
	StartDate  *time.Time `query:"start_date" validate:"required"`
	EndDate    *time.Time `query:"end_date" validate:"required"`
	SinceYear  *int       `query:"since_year" validate:"omitempty,min=1850,max=2100"`
}

func readSeries(q *query) seriesParams {
	return seriesParams{
		StationID:  q.str("station_id", ""),
		WindowDays: q.intOr("window_days", 7),
		Metric:     q.str("metric", "tavg_c"),
		StartDate:  q.date("start_date"),
		EndDate:    q.date("end_date"),
		SinceYear:  q.intPtr("since_year"),
	}
}

type recordsParams struct {
	StationID string `query:"station_id" validate:"required"`
	Metric    string `query:"metric" validate:"required,oneof=tavg_c tmax_c tmin_c prcp_mm"`
}

type rankingParams struct {
	windowParams
	Halfwidth *int   `query:"halfwidth" validate:"omitempty,min=0,max=90"`
	Direction string `query:"direction" validate:"omitempty,oneof=cold warm"`
}

func readRanking(q *query) rankingParams {
	return rankingParams{
		windowParams: readWindow(q),
		Halfwidth:    q.intPtr("halfwidth"),
		Direction:    q.str("direction", ""),
	}
}
