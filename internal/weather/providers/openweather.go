package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, backoff BackoffConfig) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5/weather",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: newCircuitBreaker(weather.ProviderOpenWeather),
	}
}

func (p *OpenWeatherProvider) ID() weather.ProviderID {
	return weather.ProviderOpenWeather
}

type openWeatherCondition struct {
	Main        string `json:"main"`
	Description string `json:"description"`
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, city string) (*weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("openweathermap: %w", errMissingAPIKey)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")
		values.Set("q", strings.TrimSpace(city))
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
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
		Main struct {
			Temp     float64  `json:"temp"`
			Humidity *float64 `json:"humidity"`
			Pressure *float64 `json:"pressure"`
		} `json:"main"`
		Visibility *float64 `json:"visibility"`
		Wind       struct {
			Speed float64  `json:"speed"`
			Deg   *float64 `json:"deg"`
		} `json:"wind"`
		Weather []openWeatherCondition `json:"weather"`
	}
	raw, err := decodeJSON(resp, &payload)
	if err != nil {
		return nil, fmt.Errorf("openweathermap: %w", err)
	}

	reading := &weather.ProviderReading{
		Provider:    weather.ProviderOpenWeather,
		Temperature: payload.Main.Temp,
		Condition:   mapOpenWeatherCondition(payload.Weather),
		WindSpeed:   payload.Wind.Speed,
		Pressure:    payload.Main.Pressure,
		Raw:         raw,
	}
	if payload.Main.Humidity != nil {
		reading.Humidity = int64Ptr(int64(math.Round(*payload.Main.Humidity)))
	}
	if payload.Wind.Deg != nil {
		reading.WindDirection = compassFromDegrees(*payload.Wind.Deg)
	}
	if payload.Visibility != nil {
		// metres upstream, kilometres in the reading
		reading.Visibility = float64Ptr(*payload.Visibility / 1000)
	}
	return reading, nil
}

func mapOpenWeatherCondition(items []openWeatherCondition) weather.Condition {
	if len(items) == 0 {
		return weather.ConditionUnknown
	}
	switch items[0].Main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		if items[0].Description == "few clouds" || items[0].Description == "scattered clouds" {
			return weather.ConditionPartlyCloudy
		}
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke":
		return weather.ConditionFog
	default:
		return conditionFromText(items[0].Description)
	}
}
