package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/lox/extremetemps/internal/climate"
	"github.com/lox/extremetemps/internal/httputil"
	"github.com/lox/extremetemps/internal/models"
)

const DefaultGSODBaseURL = "https://www.ncei.noaa.gov/data/global-summary-of-the-day/access/"

// GSOD sentinels are 9999.9 for temperature and 99.99 for precipitation.
const (
	gsodMissingTemp = 900.0
	gsodMissingPrcp = 90.0
)

// GSODClient downloads per-year Global Summary of the Day CSVs.
type GSODClient struct {
	client  *httputil.Client
	baseURL string
}

func NewGSODClient(baseURL string, opts ...httputil.Option) *GSODClient {
	if baseURL == "" {
		baseURL = DefaultGSODBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &GSODClient{
		client:  httputil.New(models.SourceGSOD, opts...),
		baseURL: baseURL,
	}
}

// gsodFileID turns a "USAF-WBAN", "USAFWBAN" or bare WBAN identifier into
// the 11 digit file name used by the access directory.
func gsodFileID(wban string) string {
	id := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, wban)
	if len(id) == 5 {
		return "999999" + id
	}
	return id
}

func (g *GSODClient) URL(wban string, year int) string {
	return fmt.Sprintf("%s%d/%s.csv", g.baseURL, year, gsodFileID(wban))
}

// Fetch returns every year's observations in [startYear, endYear]. Years the
// archive has no file for are skipped.
func (g *GSODClient) Fetch(ctx context.Context, stationID, wban string, startYear, endYear int) ([]models.DailyObservation, *FetchResult, error) {
	result := &FetchResult{}
	var obs []models.DailyObservation
	for year := startYear; year <= endYear; year++ {
		url := g.URL(wban, year)
		resp, err := g.client.Get(ctx, url)
		if httputil.IsNotFound(err) {
			continue
		}
		if err != nil {
			return obs, result, fmt.Errorf("fetch gsod %s/%d: %w", wban, year, err)
		}
		yr := &FetchResult{
			HTTPStatus:   resp.StatusCode,
			ResponseSize: len(resp.Body),
			Payloads:     []Payload{{Endpoint: url, Body: resp.Body}},
		}
		var rows []models.DailyObservation
		body, err := decodeBody(resp.Body)
		if err == nil {
			rows, err = ParseGSODCSV(body, stationID, yr)
		}
		if err != nil {
			yr.addParseError(fmt.Errorf("%d: %w", year, err))
		}
		yr.RecordCount = len(rows)
		result.merge(yr)
		obs = append(obs, rows...)
	}
	return obs, result, nil
}

func gsodTemp(s string) (float64, bool) {
	v, ok := number(s)
	if !ok || v > gsodMissingTemp {
		return 0, false
	}
	return climate.FahrenheitToCelsius(v), true
}

func gsodPrcp(s string) (float64, bool) {
	v, ok := number(s)
	if !ok || v > gsodMissingPrcp {
		return 0, false
	}
	return climate.InchesToMM(v), true
}

// ParseGSODCSV parses one station-year file. Values are in °F and inches.
func ParseGSODCSV(r io.Reader, stationID string, result *FetchResult) ([]models.DailyObservation, error) {
	if result == nil {
		result = &FetchResult{}
	}
	t, err := newCSVTable(r)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !t.has("DATE") {
		return nil, fmt.Errorf("missing DATE column")
	}

	var obs []models.DailyObservation
	for {
		rec, err := t.r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.addParseError(err)
			continue
		}
		d, err := parseDay(t.field(rec, "DATE"))
		if err != nil {
			result.addParseError(fmt.Errorf("date %q: %w", t.field(rec, "DATE"), err))
			continue
		}
		o := models.DailyObservation{
			StationID: stationID,
			Date:      d,
			TminC:     nullFloat(gsodTemp(t.field(rec, "MIN"))),
			TmaxC:     nullFloat(gsodTemp(t.field(rec, "MAX"))),
			TavgC:     nullFloat(gsodTemp(t.field(rec, "TEMP"))),
			PrcpMM:    nullFloat(gsodPrcp(t.field(rec, "PRCP"))),
			Source:    models.SourceGSOD,
		}
		if !hasTemperature(o) {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}
