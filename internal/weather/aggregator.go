package weather

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/metrics"
)

// DefaultProviderTimeout bounds a single provider fetch.
const DefaultProviderTimeout = 10 * time.Second

const (
	outcomeOK      = "ok"
	outcomeNoData  = "no_data"
	outcomeError   = "error"
	outcomeTimeout = "timeout"
)

// Aggregator fetches readings from every configured provider concurrently and
// reduces them into one consensus result.
type Aggregator struct {
	providers []Provider
	limiter   RateLimiter
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithProviderTimeout overrides the per-provider fetch bound.
func WithProviderTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger sets the logger used for per-provider outcomes.
func WithLogger(l *zap.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock overrides the clock used for result timestamps.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAggregator creates an Aggregator. The order of providers is their
// priority, used to break condition ties and to order sources.
// A nil limiter disables rate limiting.
func NewAggregator(providers []Provider, limiter RateLimiter, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		providers: providers,
		limiter:   limiter,
		timeout:   DefaultProviderTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Providers returns the configured provider IDs in priority order.
func (a *Aggregator) Providers() []ProviderID {
	ids := make([]ProviderID, 0, len(a.providers))
	for _, p := range a.providers {
		ids = append(ids, p.ID())
	}
	return ids
}

// Aggregate fetches the city's weather from all providers and reduces the
// readings. It fails with ErrNoDataAvailable only when no provider contributed.
func (a *Aggregator) Aggregate(ctx context.Context, city string) (AggregatedWeather, error) {
	start := time.Now()
	defer func() { metrics.RecordAggregation(time.Since(start)) }()

	readings := a.collect(ctx, city)

	result, err := AggregateReadings(city, readings, a.now())
	if err != nil {
		a.logger.Warn("no provider returned weather data",
			zap.String("city", city),
			zap.Int("providers", len(a.providers)))
		return AggregatedWeather{}, err
	}

	a.logger.Debug("aggregated weather",
		zap.String("city", city),
		zap.Int("sources", len(result.Sources)),
		zap.Duration("took", time.Since(start)))
	return result, nil
}

// Sources returns the raw contributing readings without reducing them.
func (a *Aggregator) Sources(ctx context.Context, city string) ([]ProviderReading, error) {
	readings := a.collect(ctx, city)
	if len(readings) == 0 {
		return nil, ErrNoDataAvailable
	}
	return readings, nil
}

// Status checks the rate limiter for every provider without consuming a slot.
func (a *Aggregator) Status() []ProviderStatus {
	statuses := make([]ProviderStatus, 0, len(a.providers))
	for _, p := range a.providers {
		can := true
		if a.limiter != nil {
			can = a.limiter.CanMakeRequest(string(p.ID()))
		}
		statuses = append(statuses, ProviderStatus{Provider: p.ID(), CanMakeRequest: can})
	}
	return statuses
}

type fetchResult struct {
	reading  *ProviderReading
	err      error
	duration time.Duration
}

// collect runs one rate-limited, time-bounded fetch per provider and joins
// them all. Contributing readings are returned in provider priority order.
func (a *Aggregator) collect(ctx context.Context, city string) []ProviderReading {
	if len(a.providers) == 0 {
		a.logger.Error("no weather providers configured", zap.String("city", city))
		return nil
	}

	results := make([]fetchResult, len(a.providers))

	var wg sync.WaitGroup
	for i, p := range a.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			results[i] = a.fetchOne(ctx, p, city)
		}(i, p)
	}
	wg.Wait()

	readings := make([]ProviderReading, 0, len(results))
	for i, res := range results {
		id := a.providers[i].ID()
		log := a.logger.With(zap.String("provider", string(id)), zap.String("city", city))

		switch {
		case errors.Is(res.err, ErrProviderTimeout):
			log.Warn("provider timed out", zap.Duration("timeout", a.timeout))
			metrics.RecordProviderFetch(string(id), outcomeTimeout, res.duration)
		case res.err != nil:
			log.Warn("provider fetch failed", zap.Error(res.err))
			metrics.RecordProviderFetch(string(id), outcomeError, res.duration)
		case res.reading == nil:
			log.Debug("provider returned no data")
			metrics.RecordProviderFetch(string(id), outcomeNoData, res.duration)
		default:
			reading := *res.reading
			if reading.Provider == "" {
				reading.Provider = id
			}
			readings = append(readings, reading)
			metrics.RecordProviderFetch(string(id), outcomeOK, res.duration)
		}
	}
	return readings
}

// fetchOne waits for the provider's rate limiter and then fetches under its
// own timeout. A provider that ignores its context is abandoned once the
// timeout fires; its late reply lands in a buffered channel.
func (a *Aggregator) fetchOne(ctx context.Context, p Provider, city string) fetchResult {
	id := p.ID()

	if a.limiter != nil {
		waitStart := time.Now()
		if err := a.limiter.Wait(ctx, string(id)); err != nil {
			return fetchResult{err: &ProviderError{Provider: id, Err: fmt.Errorf("rate limiter: %w", err)}}
		}
		metrics.RecordRateLimitWait(string(id), time.Since(waitStart))
	}

	fetchCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type reply struct {
		reading *ProviderReading
		err     error
	}
	ch := make(chan reply, 1)

	start := time.Now()
	go func() {
		r, err := p.Fetch(fetchCtx, city)
		ch <- reply{reading: r, err: err}
	}()

	select {
	case rep := <-ch:
		elapsed := time.Since(start)
		if rep.err != nil {
			if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
				return fetchResult{err: &ProviderError{Provider: id, Err: ErrProviderTimeout}, duration: elapsed}
			}
			return fetchResult{err: &ProviderError{Provider: id, Err: rep.err}, duration: elapsed}
		}
		return fetchResult{reading: rep.reading, duration: elapsed}
	case <-fetchCtx.Done():
		elapsed := time.Since(start)
		if ctx.Err() != nil {
			return fetchResult{err: &ProviderError{Provider: id, Err: ctx.Err()}, duration: elapsed}
		}
		return fetchResult{err: &ProviderError{Provider: id, Err: ErrProviderTimeout}, duration: elapsed}
	}
}
