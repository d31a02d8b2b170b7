package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/common"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type AppConfig struct {
	Port string `validate:"required,numeric"`

	LogLevel  string `validate:"required"`
	LogFormat string `validate:"oneof=json console"`

	// Cache backend and freshness window.
	CacheBackend         string        `validate:"oneof=memory redis"`
	CacheTTL             time.Duration `validate:"gt=0"`
	CacheCleanupInterval time.Duration `validate:"gt=0"`
	RedisAddr            string        `validate:"required_if=CacheBackend redis"`
	RedisPrefix          string

	// Upstream call shaping.
	RateLimitMinDelay  time.Duration `validate:"gte=0"`
	ProviderTimeout    time.Duration `validate:"gt=0"`
	HTTPTimeout        time.Duration `validate:"gt=0"`
	ProviderMaxRetries int           `validate:"gte=0,lte=5"`

	// Per-client limit on the /api routes, in requests per minute; zero disables it.
	APIRateLimit int `validate:"gte=0"`
	APIRateBurst int `validate:"gte=1"`

	// Providers in priority order.
	Providers []weather.ProviderID `validate:"min=1"`

	OpenWeatherAPIKey string
	WeatherAPIKey     string

	// Cities kept warm in the cache by the scheduler.
	WarmCities   []string
	WarmInterval time.Duration `validate:"gt=0"`
}

var defaults = map[string]any{
	"port":                   "8001",
	"log_level":              "info",
	"log_format":             "json",
	"cache_backend":          BackendMemory,
	"cache_ttl":              "30m",
	"cache_cleanup_interval": "5m",
	"redis_addr":             "localhost:6379",
	"redis_prefix":           "weather",
	"rate_limit_min_delay":   "1s",
	"provider_timeout":       "10s",
	"http_timeout":           "15s",
	"provider_max_retries":   1,
	"api_rate_limit":         60,
	"api_rate_burst":         10,
	"providers":              "wttrin,openmeteo,openweathermap,weatherapi",
	"openweather_api_key":    "",
	"weatherapi_api_key":     "",
	"warm_cities":            "",
	"warm_interval":          "15m",
}

var validate = validator.New()

// Load reads configuration from .env, an optional config.yaml and the
// environment, in increasing order of precedence.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return FromViper(v)
}

// FromViper builds an AppConfig from v, applying defaults and environment
// overrides.
func FromViper(v *viper.Viper) (*AppConfig, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	cfg := &AppConfig{
		Port:               v.GetString("port"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          strings.ToLower(v.GetString("log_format")),
		CacheBackend:       strings.ToLower(v.GetString("cache_backend")),
		RedisAddr:          v.GetString("redis_addr"),
		RedisPrefix:        v.GetString("redis_prefix"),
		ProviderMaxRetries: v.GetInt("provider_max_retries"),
		APIRateLimit:       v.GetInt("api_rate_limit"),
		APIRateBurst:       v.GetInt("api_rate_burst"),
		OpenWeatherAPIKey:  v.GetString("openweather_api_key"),
		WeatherAPIKey:      v.GetString("weatherapi_api_key"),
		WarmCities:         common.SplitList(v.GetString("warm_cities")),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"cache_ttl", &cfg.CacheTTL},
		{"cache_cleanup_interval", &cfg.CacheCleanupInterval},
		{"rate_limit_min_delay", &cfg.RateLimitMinDelay},
		{"provider_timeout", &cfg.ProviderTimeout},
		{"http_timeout", &cfg.HTTPTimeout},
		{"warm_interval", &cfg.WarmInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(d.key), err)
		}
		*d.dst = parsed
	}

	for _, name := range common.SplitList(v.GetString("providers")) {
		id, err := weather.ParseProviderID(name)
		if err != nil {
			return nil, fmt.Errorf("invalid PROVIDERS: %w", err)
		}
		cfg.Providers = append(cfg.Providers, id)
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *AppConfig) Addr() string {
	return ":" + c.Port
}
