package weather

import (
	"fmt"
	"strings"
	"time"
)

// Condition represents a normalized, human-readable weather condition.
// Every provider adapter maps its own vocabulary onto these values so that
// readings from different sources can be counted against each other.
type Condition string

const (
	ConditionUnknown      Condition = "Unknown"
	ConditionClear        Condition = "Clear sky"
	ConditionPartlyCloudy Condition = "Partly cloudy"
	ConditionCloudy       Condition = "Cloudy"
	ConditionFog          Condition = "Foggy"
	ConditionRain         Condition = "Rainy"
	ConditionSnow         Condition = "Snowy"
	ConditionStorm        Condition = "Thunderstorm"
)

// ProviderID identifies one upstream weather source.
type ProviderID string

const (
	ProviderWttrIn      ProviderID = "wttrin"
	ProviderOpenMeteo   ProviderID = "openmeteo"
	ProviderOpenWeather ProviderID = "openweathermap"
	ProviderWeatherAPI  ProviderID = "weatherapi"
)

// KnownProviders lists every supported provider in default priority order.
var KnownProviders = []ProviderID{
	ProviderWttrIn,
	ProviderOpenMeteo,
	ProviderOpenWeather,
	ProviderWeatherAPI,
}

// ParseProviderID maps a configuration string onto a known provider.
func ParseProviderID(s string) (ProviderID, error) {
	id := ProviderID(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range KnownProviders {
		if id == known {
			return id, nil
		}
	}
	return "", fmt.Errorf("unknown weather provider %q", s)
}

// AggregatedData is the consensus reading computed from all contributing providers.
type AggregatedData struct {
	Temperature float64   `json:"temperature"`
	Condition   Condition `json:"condition"`
	Humidity    *int64    `json:"humidity"` // null when no provider reports humidity
	WindSpeed   float64   `json:"wind_speed"`
}

// AggregatedWeather is the result of one aggregation for a city.
// Sources is never empty: a lookup that yields no readings is an error.
type AggregatedWeather struct {
	City       string            `json:"city"`
	Timestamp  time.Time         `json:"timestamp"` // always UTC
	Aggregated AggregatedData    `json:"aggregated"`
	Sources    []ProviderReading `json:"sources"`
}

// ProviderStatus reports whether a provider could be called right now
// without waiting on the rate limiter.
type ProviderStatus struct {
	Provider       ProviderID `json:"provider"`
	CanMakeRequest bool       `json:"can_make_request"`
}

// CacheKey returns the canonical cache key for a city lookup.
func CacheKey(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
