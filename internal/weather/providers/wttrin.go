package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/common"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// wttr.in rejects requests without a browser-like user agent.
const wttrInUserAgent = "Mozilla/5.0 (compatible; weather-service)"

// WttrInProvider implements the weather.Provider interface for wttr.in.
type WttrInProvider struct {
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWttrInProvider(client *http.Client, backoff BackoffConfig) *WttrInProvider {
	return &WttrInProvider{
		baseURL: "https://wttr.in",
		httpCfg: HTTPClientConfig{
			Client:    client,
			Backoff:   backoff,
			UserAgent: wttrInUserAgent,
		},
		circuit: newCircuitBreaker(weather.ProviderWttrIn),
	}
}

func (p *WttrInProvider) ID() weather.ProviderID {
	return weather.ProviderWttrIn
}

type wttrInValue struct {
	Value string `json:"value"`
}

type wttrInResponse struct {
	CurrentCondition []struct {
		TempC         string        `json:"temp_C"`
		Humidity      string        `json:"humidity"`
		WindSpeedKmph string        `json:"windspeedKmph"`
		WindDir16     string        `json:"winddir16Point"`
		Pressure      string        `json:"pressure"`
		Visibility    string        `json:"visibility"`
		WeatherDesc   []wttrInValue `json:"weatherDesc"`
	} `json:"current_condition"`
}

func (p *WttrInProvider) Fetch(ctx context.Context, city string) (*weather.ProviderReading, error) {
	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s/%s?format=j1", p.baseURL, url.PathEscape(strings.TrimSpace(city)))
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		drainAndClose(resp)
		return nil, nil
	}

	var payload wttrInResponse
	raw, err := decodeJSON(resp, &payload)
	if err != nil {
		return nil, err
	}
	if len(payload.CurrentCondition) == 0 {
		return nil, nil
	}
	cur := payload.CurrentCondition[0]

	temp, ok := common.ParseNumber(cur.TempC)
	if !ok {
		return nil, fmt.Errorf("wttrin: invalid temperature %q", cur.TempC)
	}

	reading := &weather.ProviderReading{
		Provider:      weather.ProviderWttrIn,
		Temperature:   temp,
		Condition:     weather.ConditionUnknown,
		WindDirection: cur.WindDir16,
		Raw:           raw,
	}
	if len(cur.WeatherDesc) > 0 {
		reading.Condition = conditionFromText(cur.WeatherDesc[0].Value)
	}
	if h, ok := common.ParseNumber(cur.Humidity); ok {
		reading.Humidity = int64Ptr(int64(math.Round(h)))
	}
	if w, ok := common.ParseNumber(cur.WindSpeedKmph); ok {
		reading.WindSpeed = kmhToMS(w)
	}
	if v, ok := common.ParseNumber(cur.Pressure); ok {
		reading.Pressure = float64Ptr(v)
	}
	if v, ok := common.ParseNumber(cur.Visibility); ok {
		reading.Visibility = float64Ptr(v)
	}
	return reading, nil
}
