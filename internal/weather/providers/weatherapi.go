package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// WeatherAPI answers an unmatched location with 400 and this error code.
const weatherAPINoLocationFound = 1006

// WeatherAPIProvider implements the weather.Provider interface for WeatherAPI.com.
type WeatherAPIProvider struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string, backoff BackoffConfig) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1/current.json",
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: backoff,
		},
		circuit: newCircuitBreaker(weather.ProviderWeatherAPI),
	}
}

func (p *WeatherAPIProvider) ID() weather.ProviderID {
	return weather.ProviderWeatherAPI
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, city string) (*weather.ProviderReading, error) {
	if p.apiKey == "" {
		return nil, fmt.Errorf("weatherapi: %w", errMissingAPIKey)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("key", p.apiKey)
		values.Set("q", strings.TrimSpace(city))
		return http.NewRequest(http.MethodGet, p.baseURL+"?"+values.Encode(), nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusBadRequest {
		if isWeatherAPINoMatch(resp) {
			return nil, nil
		}
		return nil, fmt.Errorf("weatherapi: %w: %d", errUnexpected, http.StatusBadRequest)
	}

	var payload struct {
		Current struct {
			TempC      float64  `json:"temp_c"`
			Humidity   *float64 `json:"humidity"`
			WindKph    float64  `json:"wind_kph"`
			WindDir    string   `json:"wind_dir"`
			PressureMb *float64 `json:"pressure_mb"`
			VisKm      *float64 `json:"vis_km"`
			Condition  struct {
				Text string `json:"text"`
			} `json:"condition"`
		} `json:"current"`
	}
	raw, err := decodeJSON(resp, &payload)
	if err != nil {
		return nil, fmt.Errorf("weatherapi: %w", err)
	}
	cur := payload.Current

	reading := &weather.ProviderReading{
		Provider:      weather.ProviderWeatherAPI,
		Temperature:   cur.TempC,
		Condition:     conditionFromText(cur.Condition.Text),
		WindSpeed:     kmhToMS(cur.WindKph),
		WindDirection: cur.WindDir,
		Pressure:      cur.PressureMb,
		Visibility:    cur.VisKm,
		Raw:           raw,
	}
	if cur.Humidity != nil {
		reading.Humidity = int64Ptr(int64(math.Round(*cur.Humidity)))
	}
	return reading, nil
}

// isWeatherAPINoMatch reports whether a 400 body carries the "no matching
// location" error code. It closes the body.
func isWeatherAPINoMatch(resp *http.Response) bool {
	defer resp.Body.Close()

	var body struct {
		Error struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return false
	}
	return body.Error.Code == weatherAPINoLocationFound
}
