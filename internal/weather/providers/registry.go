package providers

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// Settings holds what the adapters need beyond their provider ID.
type Settings struct {
	Client            *http.Client
	Backoff           BackoffConfig
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	// Limiter, when set, also gates retries so that every upstream call
	// respects the provider's minimum spacing.
	Limiter weather.RateLimiter
}

// Build constructs adapters for ids, preserving their order as priority.
// Providers that need an API key are skipped when none is configured.
func Build(ids []weather.ProviderID, s Settings, logger *zap.Logger) ([]weather.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if s.Client == nil {
		s.Client = http.DefaultClient
	}

	seen := make(map[weather.ProviderID]bool, len(ids))
	out := make([]weather.Provider, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		retryGate := gateRetries(s.Limiter, id)

		switch id {
		case weather.ProviderWttrIn:
			p := NewWttrInProvider(s.Client, s.Backoff)
			p.httpCfg.BeforeRetry = retryGate
			out = append(out, p)
		case weather.ProviderOpenMeteo:
			p := NewOpenMeteoProvider(s.Client, s.Backoff)
			p.httpCfg.BeforeRetry = retryGate
			out = append(out, p)
		case weather.ProviderOpenWeather:
			if s.OpenWeatherAPIKey == "" {
				logger.Info("skipping provider without api key", zap.String("provider", string(id)))
				continue
			}
			p := NewOpenWeatherProvider(s.Client, s.OpenWeatherAPIKey, s.Backoff)
			p.httpCfg.BeforeRetry = retryGate
			out = append(out, p)
		case weather.ProviderWeatherAPI:
			if s.WeatherAPIKey == "" {
				logger.Info("skipping provider without api key", zap.String("provider", string(id)))
				continue
			}
			p := NewWeatherAPIProvider(s.Client, s.WeatherAPIKey, s.Backoff)
			p.httpCfg.BeforeRetry = retryGate
			out = append(out, p)
		default:
			return nil, fmt.Errorf("unknown weather provider %q", id)
		}
	}
	return out, nil
}

func gateRetries(limiter weather.RateLimiter, id weather.ProviderID) func(context.Context) error {
	if limiter == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return limiter.Wait(ctx, string(id))
	}
}
