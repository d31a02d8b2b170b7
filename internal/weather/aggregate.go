package weather

import (
	"math"
	"time"
)

// AggregateReadings combines provider readings into a single AggregatedWeather.
//
// Readings must be ordered by provider priority. Numeric fields are averaged;
// the condition is picked by majority and ties go to the condition reported
// first in priority order. An empty input yields ErrNoDataAvailable.
func AggregateReadings(city string, readings []ProviderReading, now time.Time) (AggregatedWeather, error) {
	if len(readings) == 0 {
		return AggregatedWeather{}, ErrNoDataAvailable
	}

	var (
		sumTemp      float64
		sumWind      float64
		sumHumidity  float64
		humiditySeen int
	)

	conditionCounts := make(map[Condition]int)
	conditionOrder := make([]Condition, 0, len(readings))

	for _, r := range readings {
		sumTemp += r.Temperature
		sumWind += r.WindSpeed

		if r.Humidity != nil {
			sumHumidity += float64(*r.Humidity)
			humiditySeen++
		}

		cond := r.Condition
		if cond == "" {
			cond = ConditionUnknown
		}
		if conditionCounts[cond] == 0 {
			conditionOrder = append(conditionOrder, cond)
		}
		conditionCounts[cond]++
	}

	n := float64(len(readings))

	// Strict comparison keeps the earliest (highest-priority) condition on ties.
	bestCond := conditionOrder[0]
	for _, cond := range conditionOrder[1:] {
		if conditionCounts[cond] > conditionCounts[bestCond] {
			bestCond = cond
		}
	}

	var humidity *int64
	if humiditySeen > 0 {
		h := int64(math.Round(sumHumidity / float64(humiditySeen)))
		humidity = &h
	}

	sources := make([]ProviderReading, len(readings))
	copy(sources, readings)

	return AggregatedWeather{
		City:      city,
		Timestamp: now.UTC(),
		Aggregated: AggregatedData{
			Temperature: sumTemp / n,
			Condition:   bestCond,
			Humidity:    humidity,
			WindSpeed:   sumWind / n,
		},
		Sources: sources,
	}, nil
}
