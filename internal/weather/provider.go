package weather

import (
	"context"
	"encoding/json"
)

// ProviderReading represents a single provider's normalized reading.
// Temperatures are in degrees Celsius and wind speeds in metres per second.
type ProviderReading struct {
	Provider      ProviderID `json:"provider"`
	Temperature   float64    `json:"temperature"`
	Condition     Condition  `json:"condition"`
	Humidity      *int64     `json:"humidity,omitempty"`
	WindSpeed     float64    `json:"wind_speed"`
	WindDirection string     `json:"wind_direction,omitempty"`
	Pressure      *float64   `json:"pressure,omitempty"`
	Visibility    *float64   `json:"visibility,omitempty"`
	// Raw is the upstream body the reading was decoded from.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Provider abstracts a weather data source (wttr.in, Open-Meteo, OpenWeatherMap, WeatherAPI).
//
// Fetch returns a reading when the provider has data for the city, a nil
// reading and nil error when the provider does not recognize the city, and a
// non-nil error for transport, decoding or upstream status failures.
type Provider interface {
	ID() ProviderID
	Fetch(ctx context.Context, city string) (*ProviderReading, error)
}

// RateLimiter gates calls to each provider.
type RateLimiter interface {
	Wait(ctx context.Context, provider string) error
	CanMakeRequest(provider string) bool
}

// Cache is the lookup cache consulted by Service.
type Cache interface {
	Get(key string) (AggregatedWeather, bool)
	Set(key string, value AggregatedWeather)
}
