package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/lox/extremetemps/internal/httputil"
	"github.com/lox/extremetemps/internal/models"
)

const DefaultOpenMeteoURL = "https://api.open-meteo.com/v1/forecast"

// OpenMeteoClient fills the few days GHCN has not published yet.
type OpenMeteoClient struct {
	client  *httputil.Client
	baseURL string
}

func NewOpenMeteoClient(baseURL string, opts ...httputil.Option) *OpenMeteoClient {
	if baseURL == "" {
		baseURL = DefaultOpenMeteoURL
	}
	return &OpenMeteoClient{
		client:  httputil.New(models.SourceOpenMeteo, opts...),
		baseURL: baseURL,
	}
}

type openMeteoResponse struct {
	Daily struct {
		Time    []string   `json:"time"`
		TempMax []*float64 `json:"temperature_2m_max"`
		TempMin []*float64 `json:"temperature_2m_min"`
		TempAvg []*float64 `json:"temperature_2m_mean"`
		Precip  []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

func (c *OpenMeteoClient) URL(lat, lon float64, start, end time.Time) string {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', 4, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', 4, 64))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,temperature_2m_mean,precipitation_sum")
	q.Set("temperature_unit", "celsius")
	q.Set("precipitation_unit", "mm")
	q.Set("timezone", "auto")
	q.Set("start_date", start.Format(models.DateLayout))
	q.Set("end_date", end.Format(models.DateLayout))
	return c.baseURL + "?" + q.Encode()
}

// Fetch returns daily observations for the inclusive date range.
func (c *OpenMeteoClient) Fetch(ctx context.Context, stationID string, lat, lon float64, start, end time.Time) ([]models.DailyObservation, *FetchResult, error) {
	endpoint := c.URL(lat, lon, start, end)
	result := &FetchResult{}

	resp, err := c.client.Get(ctx, endpoint)
	if err != nil {
		return nil, result, fmt.Errorf("fetch open-meteo %s: %w", stationID, err)
	}
	result.HTTPStatus = resp.StatusCode
	result.ResponseSize = len(resp.Body)
	result.Payloads = []Payload{{Endpoint: endpoint, Body: resp.Body}}

	obs, err := ParseOpenMeteo(resp.Body, stationID, result)
	if err != nil {
		return nil, result, err
	}
	result.RecordCount = len(obs)
	return obs, result, nil
}

func at(vals []*float64, i int) (float64, bool) {
	if i >= len(vals) || vals[i] == nil {
		return 0, false
	}
	return *vals[i], true
}

// ParseOpenMeteo converts the daily arrays into observations.
func ParseOpenMeteo(body []byte, stationID string, result *FetchResult) ([]models.DailyObservation, error) {
	if result == nil {
		result = &FetchResult{}
	}
	var data openMeteoResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("unmarshal open-meteo: %w", err)
	}

	daily := data.Daily
	var obs []models.DailyObservation
	for i, ts := range daily.Time {
		d, err := parseDay(ts)
		if err != nil {
			result.addParseError(fmt.Errorf("time %q: %w", ts, err))
			continue
		}
		o := models.DailyObservation{
			StationID: stationID,
			Date:      d,
			TminC:     nullFloat(at(daily.TempMin, i)),
			TmaxC:     nullFloat(at(daily.TempMax, i)),
			TavgC:     nullFloat(at(daily.TempAvg, i)),
			PrcpMM:    nullFloat(at(daily.Precip, i)),
			Source:    models.SourceOpenMeteo,
		}
		fillMidpoint(&o)
		if !hasTemperature(o) {
			continue
		}
		obs = append(obs, o)
	}
	return obs, nil
}
