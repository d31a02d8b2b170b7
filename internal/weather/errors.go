package weather

import (
	"errors"
	"fmt"
)

var (
	// ErrNoDataAvailable is returned when no provider contributed a reading.
	ErrNoDataAvailable = errors.New("no weather data available from any provider")
	// ErrProviderTimeout marks a provider fetch that exceeded its time bound.
	ErrProviderTimeout = errors.New("provider request timed out")
)

// ProviderError wraps a failure of a single provider.
type ProviderError struct {
	Provider ProviderID
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
