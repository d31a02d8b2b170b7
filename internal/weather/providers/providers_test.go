package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/ratelimit"
	"github.com/Nomad-Free-Talent/karl-systems-challenge/internal/weather"
)

var testBackoff = BackoffConfig{
	MaxRetries:      1,
	InitialInterval: time.Millisecond,
	MaxInterval:     5 * time.Millisecond,
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

// --- wttr.in ---

const wttrInBody = `{
  "current_condition": [{
    "temp_C": "18",
    "humidity": "72",
    "windspeedKmph": "36",
    "winddir16Point": "WSW",
    "pressure": "1012",
    "visibility": "10",
    "weatherDesc": [{"value": "Light rain shower"}]
  }]
}`

func newTestWttrIn(url string) *WttrInProvider {
	p := NewWttrInProvider(http.DefaultClient, testBackoff)
	p.baseURL = url
	return p
}

func TestWttrIn_Fetch(t *testing.T) {
	var gotPath, gotFormat, gotUA string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotFormat = r.URL.Query().Get("format")
		gotUA = r.Header.Get("User-Agent")
		writeJSON(w, http.StatusOK, wttrInBody)
	})

	reading, err := newTestWttrIn(srv.URL).Fetch(context.Background(), "New York")
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.Equal(t, "/New%20York", gotPath)
	assert.Equal(t, "j1", gotFormat)
	assert.Equal(t, wttrInUserAgent, gotUA)

	assert.Equal(t, weather.ProviderWttrIn, reading.Provider)
	assert.InDelta(t, 18.0, reading.Temperature, 1e-9)
	assert.Equal(t, weather.ConditionRain, reading.Condition)
	require.NotNil(t, reading.Humidity)
	assert.Equal(t, int64(72), *reading.Humidity)
	assert.InDelta(t, 10.0, reading.WindSpeed, 1e-9)
	assert.Equal(t, "WSW", reading.WindDirection)
	require.NotNil(t, reading.Pressure)
	assert.InDelta(t, 1012.0, *reading.Pressure, 1e-9)
	assert.JSONEq(t, wttrInBody, string(reading.Raw))
}

func TestWttrIn_UnknownCityIsNoData(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusNotFound, `Unknown location`)
			},
		},
		{
			name: "empty current condition",
			handler: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, `{"current_condition": []}`)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.handler)
			reading, err := newTestWttrIn(srv.URL).Fetch(context.Background(), "Atlantis")
			assert.NoError(t, err)
			assert.Nil(t, reading)
		})
	}
}

func TestWttrIn_MalformedBodyIsError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{not json`)
	})

	reading, err := newTestWttrIn(srv.URL).Fetch(context.Background(), "London")
	assert.Error(t, err)
	assert.Nil(t, reading)
}

// --- Open-Meteo ---

func TestOpenMeteo_Fetch(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Berlin", r.URL.Query().Get("name"))
		writeJSON(w, http.StatusOK, `{"results":[{"latitude":52.52,"longitude":13.41,"name":"Berlin"}]}`)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "52.5200", r.URL.Query().Get("latitude"))
		assert.Equal(t, "13.4100", r.URL.Query().Get("longitude"))
		writeJSON(w, http.StatusOK, `{"current":{
			"temperature_2m": 21.4,
			"relative_humidity_2m": 55.5,
			"weather_code": 3,
			"wind_speed_10m": 18.0,
			"wind_direction_10m": 270,
			"surface_pressure": 1008.2
		}}`)
	})
	srv := newServer(t, mux.ServeHTTP)

	p := NewOpenMeteoProvider(http.DefaultClient, testBackoff)
	p.geocodeURL = srv.URL + "/search"
	p.forecastURL = srv.URL + "/forecast"

	reading, err := p.Fetch(context.Background(), "Berlin")
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.Equal(t, weather.ProviderOpenMeteo, reading.Provider)
	assert.InDelta(t, 21.4, reading.Temperature, 1e-9)
	assert.Equal(t, weather.ConditionCloudy, reading.Condition)
	require.NotNil(t, reading.Humidity)
	assert.Equal(t, int64(56), *reading.Humidity)
	assert.InDelta(t, 5.0, reading.WindSpeed, 1e-9)
	assert.Equal(t, "W", reading.WindDirection)
	// The forecast body is kept, not the geocoding one.
	assert.Contains(t, string(reading.Raw), `"weather_code": 3`)
	assert.NotContains(t, string(reading.Raw), "results")
}

func TestOpenMeteo_UnknownCitySkipsForecast(t *testing.T) {
	var forecastCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"generationtime_ms":0.5}`)
	})
	mux.HandleFunc("/forecast", func(w http.ResponseWriter, r *http.Request) {
		forecastCalls.Add(1)
	})
	srv := newServer(t, mux.ServeHTTP)

	p := NewOpenMeteoProvider(http.DefaultClient, testBackoff)
	p.geocodeURL = srv.URL + "/search"
	p.forecastURL = srv.URL + "/forecast"

	reading, err := p.Fetch(context.Background(), "Atlantis")
	assert.NoError(t, err)
	assert.Nil(t, reading)
	assert.Zero(t, forecastCalls.Load())
}

func TestMapOpenMeteoCondition(t *testing.T) {
	tests := []struct {
		code int
		want weather.Condition
	}{
		{0, weather.ConditionClear},
		{2, weather.ConditionPartlyCloudy},
		{3, weather.ConditionCloudy},
		{45, weather.ConditionFog},
		{61, weather.ConditionRain},
		{81, weather.ConditionRain},
		{73, weather.ConditionSnow},
		{86, weather.ConditionSnow},
		{95, weather.ConditionStorm},
		{42, weather.ConditionUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapOpenMeteoCondition(tt.code), "code %d", tt.code)
	}
}

// --- OpenWeatherMap ---

func TestOpenWeather_Fetch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.URL.Query().Get("appid"))
		assert.Equal(t, "metric", r.URL.Query().Get("units"))
		assert.Equal(t, "Paris", r.URL.Query().Get("q"))
		writeJSON(w, http.StatusOK, `{
			"main": {"temp": 14.2, "humidity": 81, "pressure": 1019},
			"visibility": 8000,
			"wind": {"speed": 3.6, "deg": 45},
			"weather": [{"main": "Clouds", "description": "scattered clouds"}]
		}`)
	})

	p := NewOpenWeatherProvider(http.DefaultClient, "secret", testBackoff)
	p.baseURL = srv.URL

	reading, err := p.Fetch(context.Background(), "Paris")
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.InDelta(t, 14.2, reading.Temperature, 1e-9)
	assert.Equal(t, weather.ConditionPartlyCloudy, reading.Condition)
	assert.Equal(t, int64(81), *reading.Humidity)
	assert.InDelta(t, 3.6, reading.WindSpeed, 1e-9)
	assert.Equal(t, "NE", reading.WindDirection)
	assert.InDelta(t, 8.0, *reading.Visibility, 1e-9)
	assert.Contains(t, string(reading.Raw), `"scattered clouds"`)
}

func TestOpenWeather_NotFoundIsNoData(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"cod":"404","message":"city not found"}`)
	})

	p := NewOpenWeatherProvider(http.DefaultClient, "secret", testBackoff)
	p.baseURL = srv.URL

	reading, err := p.Fetch(context.Background(), "Atlantis")
	assert.NoError(t, err)
	assert.Nil(t, reading)
}

func TestOpenWeather_MissingAPIKey(t *testing.T) {
	p := NewOpenWeatherProvider(http.DefaultClient, "", testBackoff)
	_, err := p.Fetch(context.Background(), "Paris")
	assert.ErrorIs(t, err, errMissingAPIKey)
}

func TestOpenWeather_UnauthorizedIsError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, `{"cod":401}`)
	})

	p := NewOpenWeatherProvider(http.DefaultClient, "bad", testBackoff)
	p.baseURL = srv.URL

	_, err := p.Fetch(context.Background(), "Paris")
	assert.ErrorIs(t, err, errUnexpected)
}

// --- WeatherAPI ---

func TestWeatherAPI_Fetch(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key-1", r.URL.Query().Get("key"))
		writeJSON(w, http.StatusOK, `{"current": {
			"temp_c": 25.0,
			"humidity": 40,
			"wind_kph": 7.2,
			"wind_dir": "SE",
			"pressure_mb": 1015,
			"vis_km": 10,
			"condition": {"text": "Sunny"}
		}}`)
	})

	p := NewWeatherAPIProvider(http.DefaultClient, "key-1", testBackoff)
	p.baseURL = srv.URL

	reading, err := p.Fetch(context.Background(), "Madrid")
	require.NoError(t, err)
	require.NotNil(t, reading)

	assert.Equal(t, weather.ProviderWeatherAPI, reading.Provider)
	assert.Equal(t, weather.ConditionClear, reading.Condition)
	assert.InDelta(t, 2.0, reading.WindSpeed, 1e-9)
	assert.Equal(t, "SE", reading.WindDirection)
	assert.Contains(t, string(reading.Raw), `"temp_c": 25.0`)
}

func TestWeatherAPI_BadRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "no matching location", body: `{"error":{"code":1006,"message":"No matching location found."}}`},
		{name: "other client error", body: `{"error":{"code":1003,"message":"Parameter q is missing."}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			})
			p := NewWeatherAPIProvider(http.DefaultClient, "key-1", testBackoff)
			p.baseURL = srv.URL

			reading, err := p.Fetch(context.Background(), "Atlantis")
			assert.Nil(t, reading)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// --- resilience ---

func TestDoRequestWithResilience_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, wttrInBody)
	})

	reading, err := newTestWttrIn(srv.URL).Fetch(context.Background(), "London")
	require.NoError(t, err)
	assert.NotNil(t, reading)
	assert.Equal(t, int32(2), calls.Load())
}

func TestDoRequestWithResilience_BeforeRetryGatesEveryRetry(t *testing.T) {
	var calls, gated atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	p := newTestWttrIn(srv.URL)
	p.httpCfg.Backoff.MaxRetries = 2
	p.httpCfg.BeforeRetry = func(ctx context.Context) error {
		gated.Add(1)
		return nil
	}

	_, err := p.Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, errServerError)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), gated.Load())
}

func TestDoRequestWithResilience_BeforeRetryErrorStopsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	stop := errors.New("limiter closed")
	p := newTestWttrIn(srv.URL)
	p.httpCfg.BeforeRetry = func(ctx context.Context) error { return stop }

	_, err := p.Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, int32(1), calls.Load())
}

// sendTimes records when each request leaves the client.
type sendTimes struct {
	mu    sync.Mutex
	times []time.Time
}

func (s *sendTimes) RoundTrip(r *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.times = append(s.times, time.Now())
	s.mu.Unlock()
	return http.DefaultTransport.RoundTrip(r)
}

func TestBuild_RetriesShareTheProviderRateLimit(t *testing.T) {
	const minDelay = 150 * time.Millisecond

	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, wttrInBody)
	})

	sent := &sendTimes{}
	lim := ratelimit.New(minDelay)
	provs, err := Build([]weather.ProviderID{weather.ProviderWttrIn}, Settings{
		Client:  &http.Client{Transport: sent},
		Backoff: testBackoff,
		Limiter: lim,
	}, nil)
	require.NoError(t, err)
	require.Len(t, provs, 1)
	wttr, ok := provs[0].(*WttrInProvider)
	require.True(t, ok)
	wttr.baseURL = srv.URL

	agg := weather.NewAggregator(provs, lim)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = agg.Aggregate(context.Background(), "London")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(3), calls.Load())

	sent.mu.Lock()
	defer sent.mu.Unlock()
	require.Len(t, sent.times, 3)
	sort.Slice(sent.times, func(i, j int) bool { return sent.times[i].Before(sent.times[j]) })
	for i := 1; i < len(sent.times); i++ {
		// Allow for scheduling between the grant and the send. Without the
		// retry gate the retry follows its 503 after about a millisecond.
		assert.GreaterOrEqual(t, sent.times[i].Sub(sent.times[i-1]), minDelay-5*time.Millisecond,
			"requests %d and %d are too close", i-1, i)
	}
}

func TestDoRequestWithResilience_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := newTestWttrIn(srv.URL).Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, errRateLimited)
	assert.Equal(t, int32(testBackoff.MaxRetries+1), calls.Load())
}

func TestDoRequestWithResilience_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	p := newTestWttrIn(srv.URL)
	p.httpCfg.Backoff.MaxRetries = 0

	// gobreaker trips after more than five consecutive failures.
	for i := 0; i < 6; i++ {
		_, err := p.Fetch(context.Background(), "London")
		require.ErrorIs(t, err, errServerError)
	}

	_, err := p.Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, errCircuitOpen)
	assert.Equal(t, int32(6), calls.Load())
}

func TestDoRequestWithResilience_ClientErrorsDoNotTripCircuit(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{}`)
	})

	p := newTestWttrIn(srv.URL)
	for i := 0; i < 10; i++ {
		reading, err := p.Fetch(context.Background(), "Atlantis")
		require.NoError(t, err)
		require.Nil(t, reading)
	}
}

func TestDoRequestWithResilience_HonoursContext(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestWttrIn(srv.URL).Fetch(ctx, "London")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDoRequestWithResilience_InvalidConfig(t *testing.T) {
	p := newTestWttrIn("http://127.0.0.1:0")
	p.httpCfg.Backoff.InitialInterval = 0
	_, err := p.Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, errInvalidConfig)

	p.httpCfg.Client = nil
	_, err = p.Fetch(context.Background(), "London")
	assert.ErrorIs(t, err, errNoHTTPClient)
}

// --- helpers ---

func TestConditionFromText(t *testing.T) {
	tests := []struct {
		in   string
		want weather.Condition
	}{
		{"", weather.ConditionUnknown},
		{"Sunny", weather.ConditionClear},
		{"Clear", weather.ConditionClear},
		{"Partly cloudy", weather.ConditionPartlyCloudy},
		{"Overcast", weather.ConditionCloudy},
		{"Mist", weather.ConditionFog},
		{"Patchy light drizzle", weather.ConditionRain},
		{"Moderate snow", weather.ConditionSnow},
		{"Patchy light rain with thunder", weather.ConditionStorm},
		{"Volcanic ash", weather.ConditionUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, conditionFromText(tt.in), "input %q", tt.in)
	}
}

func TestCompassFromDegrees(t *testing.T) {
	assert.Equal(t, "N", compassFromDegrees(0))
	assert.Equal(t, "N", compassFromDegrees(355))
	assert.Equal(t, "NE", compassFromDegrees(45))
	assert.Equal(t, "S", compassFromDegrees(180))
	assert.Equal(t, "WSW", compassFromDegrees(247.5))
	assert.Equal(t, "E", compassFromDegrees(-270))
}

func TestBuild(t *testing.T) {
	ids := []weather.ProviderID{
		weather.ProviderOpenMeteo,
		weather.ProviderWeatherAPI,
		weather.ProviderWttrIn,
		weather.ProviderOpenMeteo,
		weather.ProviderOpenWeather,
	}

	built, err := Build(ids, Settings{Backoff: testBackoff, WeatherAPIKey: "k"}, nil)
	require.NoError(t, err)

	got := make([]weather.ProviderID, 0, len(built))
	for _, p := range built {
		got = append(got, p.ID())
	}
	assert.Equal(t, []weather.ProviderID{
		weather.ProviderOpenMeteo,
		weather.ProviderWeatherAPI,
		weather.ProviderWttrIn,
	}, got)

	for _, p := range built {
		switch v := p.(type) {
		case *WttrInProvider:
			assert.Nil(t, v.httpCfg.BeforeRetry)
		case *OpenMeteoProvider:
			assert.Nil(t, v.httpCfg.BeforeRetry)
		}
	}

	_, err = Build([]weather.ProviderID{"metaweather"}, Settings{}, nil)
	assert.Error(t, err)
}

func TestBuild_WiresRetryGate(t *testing.T) {
	built, err := Build([]weather.ProviderID{
		weather.ProviderWttrIn,
		weather.ProviderOpenMeteo,
		weather.ProviderOpenWeather,
		weather.ProviderWeatherAPI,
	}, Settings{
		Backoff:           testBackoff,
		OpenWeatherAPIKey: "a",
		WeatherAPIKey:     "b",
		Limiter:           ratelimit.New(time.Millisecond),
	}, nil)
	require.NoError(t, err)
	require.Len(t, built, 4)

	for _, p := range built {
		var gate func(context.Context) error
		switch v := p.(type) {
		case *WttrInProvider:
			gate = v.httpCfg.BeforeRetry
		case *OpenMeteoProvider:
			gate = v.httpCfg.BeforeRetry
		case *OpenWeatherProvider:
			gate = v.httpCfg.BeforeRetry
		case *WeatherAPIProvider:
			gate = v.httpCfg.BeforeRetry
		}
		require.NotNil(t, gate, "provider %s", p.ID())
		assert.NoError(t, gate(context.Background()))
	}
}
