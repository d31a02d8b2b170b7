package weather

import (
	"context"

	"go.uber.org/zap"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/metrics"
)

// Engine is the aggregation pipeline behind Service.
type Engine interface {
	Aggregate(ctx context.Context, city string) (AggregatedWeather, error)
	Sources(ctx context.Context, city string) ([]ProviderReading, error)
	Status() []ProviderStatus
}

// Service answers weather lookups from the cache, falling back to the
// aggregation engine on a miss and writing the result back.
type Service struct {
	cache  Cache
	engine Engine
	logger *zap.Logger
}

// NewService creates a new Service.
func NewService(cache Cache, engine Engine, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:  cache,
		engine: engine,
		logger: logger,
	}
}

// GetWeather returns the aggregated weather for a city. A fresh cached result
// is returned unchanged unless forceRefresh is set; a successful aggregation
// always overwrites the cache entry. Failed aggregations are never cached.
func (s *Service) GetWeather(ctx context.Context, city string, forceRefresh bool) (AggregatedWeather, error) {
	key := CacheKey(city)

	if forceRefresh {
		metrics.RecordCacheLookup("bypass")
	} else {
		if cached, ok := s.cache.Get(key); ok {
			metrics.RecordCacheLookup("hit")
			s.logger.Debug("weather cache hit", zap.String("key", key))
			return cached, nil
		}
		metrics.RecordCacheLookup("miss")
	}

	result, err := s.engine.Aggregate(ctx, city)
	if err != nil {
		return AggregatedWeather{}, err
	}

	s.cache.Set(key, result)
	return result, nil
}

// GetSources returns the individual provider readings for a city, bypassing the cache.
func (s *Service) GetSources(ctx context.Context, city string) ([]ProviderReading, error) {
	return s.engine.Sources(ctx, city)
}

// ProviderStatus reports, per provider, whether a request could be made now.
func (s *Service) ProviderStatus() []ProviderStatus {
	return s.engine.Status()
}
