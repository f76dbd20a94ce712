package ingest

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lox/extremetemps/internal/httputil"
	"github.com/lox/extremetemps/internal/models"
)

const DefaultGHCNBaseURL = "https://www.ncei.noaa.gov/data/global-historical-climatology-network-daily/access/"

// GHCNClient downloads per-station GHCN Daily CSVs from NCEI.
type GHCNClient struct {
	client  *httputil.Client
	baseURL string
}

func NewGHCNClient(baseURL string, opts ...httputil.Option) *GHCNClient {
	if baseURL == "" {
		baseURL = DefaultGHCNBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &GHCNClient{
		client:  httputil.New(models.SourceGHCN, opts...),
		baseURL: baseURL,
	}
}

func (g *GHCNClient) URL(stationID string) string {
	return g.baseURL + stationID + ".csv"
}

// Fetch returns the station's observations within the optional inclusive
// date bounds.
func (g *GHCNClient) Fetch(ctx context.Context, stationID string, start, end *time.Time) ([]models.DailyObservation, *FetchResult, error) {
	url := g.URL(stationID)
	result := &FetchResult{}

	resp, err := g.client.Get(ctx, url)
	if err != nil {
		return nil, result, fmt.Errorf("fetch ghcn %s: %w", stationID, err)
	}
	result.HTTPStatus = resp.StatusCode
	result.ResponseSize = len(resp.Body)
	result.Payloads = []Payload{{Endpoint: url, Body: resp.Body}}

	r, err := decodeBody(resp.Body)
	if err != nil {
		return nil, result, err
	}
	obs, err := ParseGHCNCSV(r, stationID, start, end, result)
	if err != nil {
		return nil, result, fmt.Errorf("parse ghcn %s: %w", stationID, err)
	}
	result.RecordCount = len(obs)
	return obs, result, nil
}

// ParseGHCNCSV parses the NCEI access CSV. Temperatures and precipitation
// are in tenths of a unit.
func ParseGHCNCSV(r io.Reader, stationID string, start, end *time.Time, result *FetchResult) ([]models.DailyObservation, error) {
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

	tenths := func(rec []string, col string) (float64, bool) {
		v, ok := number(t.field(rec, col))
		return v / 10, ok
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
		if !inRange(d, start, end) {
			continue
		}

		o := models.DailyObservation{
			StationID: stationID,
			Date:      d,
			TminC:     nullFloat(tenths(rec, "TMIN")),
			TmaxC:     nullFloat(tenths(rec, "TMAX")),
			TavgC:     nullFloat(tenths(rec, "TAVG")),
			PrcpMM:    nullFloat(tenths(rec, "PRCP")),
			Source:    models.SourceGHCN,
		}
		fillMidpoint(&o)
		if !hasTemperature(o) {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}
