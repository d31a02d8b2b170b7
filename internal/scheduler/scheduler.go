package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

// Sweeper drops expired entries from an in-process store.
type Sweeper interface {
	CleanupExpired() int
}

// Warmer refreshes a city's cached weather.
type Warmer interface {
	GetWeather(ctx context.Context, city string, forceRefresh bool) (weather.AggregatedWeather, error)
}

// Config controls which background jobs run and how often.
type Config struct {
	// CleanupInterval is the sweep period; zero or no sweepers disables the sweep.
	CleanupInterval time.Duration
	// WarmCities are force-refreshed every WarmInterval.
	WarmCities   []string
	WarmInterval time.Duration
	// WarmTimeout bounds one city's refresh.
	WarmTimeout time.Duration
}

// Scheduler runs periodic cache maintenance.
type Scheduler struct {
	scheduler *gocron.Scheduler
	sweepers  []Sweeper
	warmer    Warmer
	cfg       Config
	logger    *zap.Logger
}

// New creates a new Scheduler.
// Nil sweepers are ignored.
func New(cfg Config, warmer Warmer, logger *zap.Logger, sweepers ...Sweeper) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 30 * time.Second
	}
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		sweepers:  nonNil(sweepers),
		warmer:    warmer,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the enabled jobs and starts the underlying scheduler.
// Each job also runs once immediately.
func (s *Scheduler) Start() error {
	jobs := 0

	if len(s.sweepers) > 0 && s.cfg.CleanupInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.CleanupInterval).Do(s.Sweep); err != nil {
			return err
		}
		jobs++
	}

	if s.warmer != nil && len(s.cfg.WarmCities) > 0 && s.cfg.WarmInterval > 0 {
		if _, err := s.scheduler.Every(s.cfg.WarmInterval).Do(s.Warm); err != nil {
			return err
		}
		jobs++
	}

	if jobs == 0 {
		s.logger.Info("no background jobs configured")
		return nil
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.Int("jobs", jobs))
	return nil
}

// Sweep runs every sweeper once.
func (s *Scheduler) Sweep() {
	removed := 0
	for _, sw := range s.sweepers {
		removed += sw.CleanupExpired()
	}
	if removed > 0 {
		s.logger.Debug("swept expired entries", zap.Int("removed", removed))
	}
}

func nonNil(sweepers []Sweeper) []Sweeper {
	out := make([]Sweeper, 0, len(sweepers))
	for _, sw := range sweepers {
		if sw != nil {
			out = append(out, sw)
		}
	}
	return out
}

// Warm force-refreshes every configured city concurrently.
func (s *Scheduler) Warm() {
	s.logger.Debug("running cache warm-up", zap.Strings("cities", s.cfg.WarmCities))

	var wg sync.WaitGroup
	for _, city := range s.cfg.WarmCities {
		city := city
		wg.Add(1)
		go func() {
			defer wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WarmTimeout)
			defer cancel()

			if _, err := s.warmer.GetWeather(ctx, city, true); err != nil {
				s.logger.Warn("warm-up failed", zap.String("city", city), zap.Error(err))
			}
		}()
	}
	wg.Wait()
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
