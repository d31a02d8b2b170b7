package httpapi

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

var validate = validator.New()

// WeatherService is what the handlers need from weather.Service.
type WeatherService interface {
	GetWeather(ctx context.Context, city string, forceRefresh bool) (weather.AggregatedWeather, error)
	GetSources(ctx context.Context, city string) ([]weather.ProviderReading, error)
	ProviderStatus() []weather.ProviderStatus
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service WeatherService, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v1 := app.Group("/api/v1")

	v1.Get("/weather/:city", func(c *fiber.Ctx) error {
		city, err := parseCity(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		// ?cache=false forces a fresh aggregation.
		force := !c.QueryBool("cache", true)

		result, err := service.GetWeather(c.UserContext(), city, force)
		if err != nil {
			return noDataError(logger, city, err)
		}
		return c.JSON(fiber.Map{"data": result})
	})

	v1.Get("/weather/:city/providers", func(c *fiber.Ctx) error {
		city, err := parseCity(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		sources, err := service.GetSources(c.UserContext(), city)
		if err != nil {
			return noDataError(logger, city, err)
		}
		return c.JSON(fiber.Map{"data": sources})
	})

	v1.Get("/providers/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"data": service.ProviderStatus()})
	})
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
// Unexpected errors are reported without their detail.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		message = fe.Message
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}

// cityParam holds the validated path parameter.
type cityParam struct {
	City string `validate:"required,max=100"`
}

func parseCity(c *fiber.Ctx) (string, error) {
	raw, err := url.PathUnescape(c.Params("city"))
	if err != nil {
		return "", errors.New("invalid city")
	}

	p := cityParam{City: strings.TrimSpace(raw)}
	if err := validate.Struct(p); err != nil {
		return "", errors.New("city must be between 1 and 100 characters")
	}
	return p.City, nil
}

// noDataError hides upstream detail from the caller.
func noDataError(logger *zap.Logger, city string, err error) error {
	if errors.Is(err, weather.ErrNoDataAvailable) {
		logger.Warn("no weather data available", zap.String("city", city))
	} else {
		logger.Error("weather lookup failed", zap.String("city", city), zap.Error(err))
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
}
