package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	pipeerr "mdetl/internal/errors"
)

// SourceOpenWeather identifies the OpenWeather observations API.
const SourceOpenWeather = "openweather"

// OpenWeatherExtractor pulls current weather observations, one page per
// location.
type OpenWeatherExtractor struct {
	client *Client
	apiKey string
	// units is the request-side unit system ("metric", "imperial",
	// "standard"); the standardizer converts to canonical units either way.
	units string
}

// NewOpenWeather creates the weather extractor. Empty units defaults to
// metric.
func NewOpenWeather(apiKey, units string, client *Client) *OpenWeatherExtractor {
	if units == "" {
		units = "metric"
	}
	return &OpenWeatherExtractor{client: client, apiKey: apiKey, units: units}
}

func (e *OpenWeatherExtractor) Source() string { return SourceOpenWeather }

func (e *OpenWeatherExtractor) EntityType() EntityType { return EntityWeather }

func (e *OpenWeatherExtractor) Extract(ctx context.Context, p Params) (*Iterator, error) {
	if err := p.Validate(EntityWeather); err != nil {
		return nil, pipeerr.NewPermanent(SourceOpenWeather, "invalid extraction parameters", err)
	}

	idx := 0
	return NewIterator(func(ctx context.Context) ([]RawRecord, bool, error) {
		if idx >= len(p.Locations) {
			return nil, false, nil
		}
		loc := p.Locations[idx]
		idx++

		record, err := e.fetchCurrent(ctx, loc)
		if err != nil {
			return nil, false, err
		}
		return []RawRecord{record}, idx < len(p.Locations), nil
	}), nil
}

type owmCurrentResponse struct {
	Coord struct {
		Lon float64 `json:"lon"`
		Lat float64 `json:"lat"`
	} `json:"coord"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity float64 `json:"humidity"`
		Pressure float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
	} `json:"weather"`
	Dt   int64  `json:"dt"`
	Name string `json:"name"`
}

func (e *OpenWeatherExtractor) fetchCurrent(ctx context.Context, loc Location) (RawRecord, error) {
	query := url.Values{}
	query.Set("appid", e.apiKey)
	query.Set("units", e.units)
	if loc.Name != "" {
		query.Set("q", loc.Name)
	} else {
		query.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
		query.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	}

	var resp owmCurrentResponse
	if err := e.client.GetJSON(ctx, "/weather", query, &resp); err != nil {
		return RawRecord{}, err
	}

	name := loc.Name
	if name == "" {
		name = resp.Name
	}
	condition := ""
	if len(resp.Weather) > 0 {
		condition = resp.Weather[0].Main
	}

	return RawRecord{
		Source: SourceOpenWeather,
		Fields: map[string]interface{}{
			"location":          name,
			"latitude":          resp.Coord.Lat,
			"longitude":         resp.Coord.Lon,
			"timestamp":         resp.Dt, // unix seconds, UTC
			"temperature":       resp.Main.Temp,
			"humidity":          resp.Main.Humidity,
			"pressure":          resp.Main.Pressure,
			"wind_speed":        resp.Wind.Speed,
			"weather_condition": condition,
			"units":             e.units,
		},
		ExtractedAt: time.Now().UTC(),
	}, nil
}

// openWeatherBodyCheck maps the error envelope OpenWeather returns with
// a 200 on some plan/endpoint combinations. cod is a number on success
// and often a string on errors.
func openWeatherBodyCheck(body []byte) error {
	var envelope struct {
		Cod     json.Number `json:"cod"`
		Message string      `json:"message"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	code, err := envelope.Cod.Int64()
	if err != nil || code == 0 || code == 200 {
		return nil
	}
	switch code {
	case 429:
		return pipeerr.NewTransient(SourceOpenWeather, "rate limit exceeded: "+envelope.Message, nil)
	case 401, 403:
		return pipeerr.NewAuth(SourceOpenWeather, envelope.Message)
	default:
		return pipeerr.NewExtraction(SourceOpenWeather, fmt.Sprintf("API error %d: %s", code, envelope.Message), nil)
	}
}
