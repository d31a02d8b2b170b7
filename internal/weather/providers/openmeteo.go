package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// OpenMeteoProvider implements the weather.Provider interface for Open-Meteo.
// Open-Meteo is keyed by coordinates, so each fetch geocodes the city first.
type OpenMeteoProvider struct {
	geocodeURL  string
	forecastURL string
	httpCfg     HTTPClientConfig
	circuit     *gobreaker.CircuitBreaker
}

func NewOpenMeteoProvider(client *http.Client, backoff BackoffConfig) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		geocodeURL:  "https://geocoding-api.open-meteo.com/v1/search",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: newCircuitBreaker(weather.ProviderOpenMeteo),
	}
}

func (p *OpenMeteoProvider) ID() weather.ProviderID {
	return weather.ProviderOpenMeteo
}

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (p *OpenMeteoProvider) geocode(ctx context.Context, city string) (*coordinates, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("name", strings.TrimSpace(city))
		values.Set("count", "1")
		values.Set("format", "json")
		return http.NewRequest(http.MethodGet, p.geocodeURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainAndClose(resp)
		return nil, nil
	}

	var payload struct {
		Results []coordinates `json:"results"`
	}
	if _, err := decodeJSON(resp, &payload); err != nil {
		return nil, fmt.Errorf("openmeteo geocoding: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, nil
	}
	return &payload.Results[0], nil
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, city string) (*weather.ProviderReading, error) {
	loc, err := p.geocode(ctx, city)
	if err != nil || loc == nil {
		return nil, err
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
		values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
		values.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m,wind_direction_10m,surface_pressure")
		values.Set("wind_speed_unit", "kmh")
		return http.NewRequest(http.MethodGet, p.forecastURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Current struct {
			Temperature   float64  `json:"temperature_2m"`
			Humidity      *float64 `json:"relative_humidity_2m"`
			WeatherCode   int      `json:"weather_code"`
			WindSpeed     float64  `json:"wind_speed_10m"`
			WindDirection *float64 `json:"wind_direction_10m"`
			Pressure      *float64 `json:"surface_pressure"`
		} `json:"current"`
	}
	raw, err := decodeJSON(resp, &payload)
	if err != nil {
		return nil, fmt.Errorf("openmeteo forecast: %w", err)
	}
	cur := payload.Current

	reading := &weather.ProviderReading{
		Provider:    weather.ProviderOpenMeteo,
		Temperature: cur.Temperature,
		Condition:   mapOpenMeteoCondition(cur.WeatherCode),
		WindSpeed:   kmhToMS(cur.WindSpeed),
		Pressure:    cur.Pressure,
		Raw:         raw,
	}
	if cur.Humidity != nil {
		reading.Humidity = int64Ptr(int64(math.Round(*cur.Humidity)))
	}
	if cur.WindDirection != nil {
		reading.WindDirection = compassFromDegrees(*cur.WindDirection)
	}
	return reading, nil
}

// mapOpenMeteoCondition maps WMO weather interpretation codes.
func mapOpenMeteoCondition(code int) weather.Condition {
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 2:
		return weather.ConditionPartlyCloudy
	case code == 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionFog
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return weather.ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return weather.ConditionSnow
	case code >= 95 && code <= 99:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
