package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	redisv9 "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	httpapi "github.com/Nomad-Free-Talent/karl-systems-challenge/internal/api/http"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/config"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/logging"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/metrics"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/ratelimit"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/scheduler"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/store"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather/providers"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	metrics.Register()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	backoff := providers.DefaultBackoff()
	backoff.MaxRetries = cfg.ProviderMaxRetries

	// One limiter gates both first attempts and retries.
	limiter := ratelimit.New(cfg.RateLimitMinDelay)

	// Providers with resilience (backoff + circuit breaker), in priority order.
	provs, err := providers.Build(cfg.Providers, providers.Settings{
		Client:            httpClient,
		Backoff:           backoff,
		OpenWeatherAPIKey: cfg.OpenWeatherAPIKey,
		WeatherAPIKey:     cfg.WeatherAPIKey,
		Limiter:           limiter,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build providers", zap.Error(err))
	}
	if len(provs) == 0 {
		logger.Fatal("no weather providers enabled")
	}

	aggregator := weather.NewAggregator(provs, limiter,
		weather.WithProviderTimeout(cfg.ProviderTimeout),
		weather.WithLogger(logger.Named("aggregator")),
	)

	cache, cacheSweeper := buildCache(cfg, logger)

	var clientLimiter *httpapi.ClientLimiter
	sweepers := []scheduler.Sweeper{cacheSweeper}
	if cfg.APIRateLimit > 0 {
		clientLimiter = httpapi.NewClientLimiter(cfg.APIRateLimit, cfg.APIRateBurst, 10*time.Minute)
		sweepers = append(sweepers, clientLimiter)
	}

	// Core service orchestrating cache and aggregation.
	service := weather.NewService(cache, aggregator, logger.Named("service"))

	sched := scheduler.New(scheduler.Config{
		CleanupInterval: cfg.CacheCleanupInterval,
		WarmCities:      cfg.WarmCities,
		WarmInterval:    cfg.WarmInterval,
		WarmTimeout:     cfg.ProviderTimeout + cfg.RateLimitMinDelay*time.Duration(len(provs)),
	}, service, logger, sweepers...)
	if err := sched.Start(); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-service",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          cfg.ProviderTimeout + 10*time.Second,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "ok",
			"service":   "weather-service",
			"providers": aggregator.Providers(),
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	if clientLimiter != nil {
		app.Use("/api", clientLimiter.Middleware())
	}
	httpapi.RegisterRoutes(app, service, logger.Named("http"))

	go func() {
		logger.Info("starting weather service",
			zap.String("addr", cfg.Addr()),
			zap.String("cache_backend", cfg.CacheBackend),
			zap.Int("providers", len(provs)))
		if err := app.Listen(cfg.Addr()); err != nil {
			logger.Error("fiber server stopped", zap.Error(err))
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}

// buildCache returns the configured cache and, for the memory backend, the
// sweeper that drops its expired entries. Redis expires keys itself.
func buildCache(cfg *config.AppConfig, logger *zap.Logger) (weather.Cache, scheduler.Sweeper) {
	if cfg.CacheBackend == config.BackendRedis {
		client := redisv9.NewClient(&redisv9.Options{Addr: cfg.RedisAddr})
		rs := store.NewRedisStore[weather.AggregatedWeather](client, cfg.RedisPrefix, cfg.CacheTTL, logger.Named("cache"))

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rs.Ping(ctx); err != nil {
			logger.Fatal("redis unavailable", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		return rs, nil
	}

	ms := store.NewMemoryStore[weather.AggregatedWeather](cfg.CacheTTL)
	return ms, ms
}
