package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"weathercast/internal/logger"
)

const testAPIKey = "0123456789abcdef0123456789abcdef"

type slot struct {
	dtTxt string
	temp  float64
	desc  string
	icon  string
}

func currentPayload(name, country string, temp, feelsLike float64, humidity int, wind *float64, desc, icon string) map[string]any {
	payload := map[string]any{
		"name": name,
		"sys":  map[string]any{"country": country},
		"main": map[string]any{"temp": temp, "feels_like": feelsLike, "humidity": humidity},
		"weather": []map[string]any{
			{"id": 800, "main": "Clear", "description": desc, "icon": icon},
		},
	}
	if wind != nil {
		payload["wind"] = map[string]any{"speed": *wind, "deg": 180}
	}
	return payload
}

func forecastPayload(slots ...slot) map[string]any {
	list := make([]map[string]any, len(slots))
	for i, s := range slots {
		list[i] = map[string]any{
			"dt_txt":  s.dtTxt,
			"main":    map[string]any{"temp": s.temp},
			"weather": []map[string]any{{"description": s.desc, "icon": s.icon}},
		}
	}
	return map[string]any{"cod": "200", "cnt": len(list), "list": list}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	return data
}

func floatPtr(v float64) *float64 { return &v }

// fakeOpenWeather is an httptest server standing in for the OpenWeather API
type fakeOpenWeather struct {
	*httptest.Server

	currentCalls  atomic.Int32
	forecastCalls atomic.Int32

	mu             sync.Mutex
	currentStatus  int
	currentBody    []byte
	forecastStatus int
	forecastBody   []byte
	currentDelay   time.Duration
	forecastDelay  time.Duration
	lastQueries    []url.Values
}

func newFakeOpenWeather(t *testing.T) *fakeOpenWeather {
	t.Helper()

	f := &fakeOpenWeather{
		currentStatus:  http.StatusOK,
		forecastStatus: http.StatusOK,
	}
	f.currentBody = mustJSON(t, currentPayload("Timbó", "BR", 25.7, 27.2, 65, floatPtr(3.46), "clear sky", "01d"))
	f.forecastBody = mustJSON(t, forecastPayload(
		slot{"2024-01-15 12:00:00", 28.0, "clear sky", "01d"},
		slot{"2024-01-15 15:00:00", 30.5, "few clouds", "02d"},
		slot{"2024-01-16 00:00:00", 22.4, "light rain", "10n"},
	))

	f.Server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeOpenWeather) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.lastQueries = append(f.lastQueries, r.URL.Query())
	var status int
	var body []byte
	var delay time.Duration
	switch r.URL.Path {
	case "/weather":
		f.currentCalls.Add(1)
		status, body, delay = f.currentStatus, f.currentBody, f.currentDelay
	case "/forecast":
		f.forecastCalls.Add(1)
		status, body, delay = f.forecastStatus, f.forecastBody, f.forecastDelay
	default:
		status, body = http.StatusNotFound, []byte(`{"cod":"404","message":"unknown endpoint"}`)
	}
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func (f *fakeOpenWeather) setCurrent(status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentStatus, f.currentBody = status, body
}

func (f *fakeOpenWeather) setForecast(status int, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forecastStatus, f.forecastBody = status, body
}

func (f *fakeOpenWeather) setDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentDelay, f.forecastDelay = d, d
}

func (f *fakeOpenWeather) setForecastDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forecastDelay = d
}

// heal restores healthy responses on both endpoints
func (f *fakeOpenWeather) heal(t *testing.T) {
	t.Helper()
	f.setCurrent(http.StatusOK, mustJSON(t, currentPayload("Timbó", "BR", 25.7, 27.2, 65, floatPtr(3.46), "clear sky", "01d")))
	f.setForecast(http.StatusOK, mustJSON(t, forecastPayload(
		slot{"2024-01-15 12:00:00", 28.0, "clear sky", "01d"},
		slot{"2024-01-15 15:00:00", 30.5, "few clouds", "02d"},
	)))
}

func (f *fakeOpenWeather) queries() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.lastQueries...)
}

func (f *fakeOpenWeather) totalCalls() int {
	return int(f.currentCalls.Load() + f.forecastCalls.Load())
}

func (f *fakeOpenWeather) client(cfg ClientConfig) *WeatherClient {
	cfg.BaseURL = f.URL
	return NewWeatherClient(cfg)
}

// captureLogs sends the global logger to a temp file at debug level and
// returns a function reading everything written so far.
func captureLogs(t *testing.T) func() string {
	t.Helper()

	if err := logger.Initialize(logger.Config{
		Enabled:         true,
		Directory:       t.TempDir(),
		FilenamePattern: "api-test.log",
		Level:           "debug",
	}); err != nil {
		t.Fatalf("Failed to initialize logger: %v", err)
	}
	path := logger.Get().FileName()
	t.Cleanup(func() {
		logger.Initialize(logger.Config{ConsoleOutput: true, Level: "info"})
	})

	return func() string {
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read log file: %v", err)
		}
		return string(data)
	}
}
