package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"weathercast/api"
)

type stubForecasts struct {
	mu        sync.Mutex
	locations []string
	result    *api.NormalizedForecast
	err       error
	panicMsg  string
}

func (s *stubForecasts) GetForecast(_ context.Context, location string) (*api.NormalizedForecast, error) {
	s.mu.Lock()
	s.locations = append(s.locations, location)
	s.mu.Unlock()

	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func sampleForecast() *api.NormalizedForecast {
	wind := 3.5
	return &api.NormalizedForecast{
		CurrentTemp: 25,
		HighTemp:    28,
		LowTemp:     18,
		Location:    "Indaial, BR",
		Description: "Clear sky",
		FeelsLike:   27,
		Humidity:    65,
		WindSpeed:   &wind,
		Icon:        "01d",
		Forecast: []api.DailyForecast{
			{Date: "15/01", DayName: "Mon", High: 28, Low: 18, Description: "Sunny", Icon: "01d"},
		},
	}
}

func doRequest(t *testing.T, srv *Server, path string) (*http.Response, map[string]any) {
	t.Helper()

	resp, err := srv.App().Test(httptest.NewRequest(http.MethodGet, path, nil))
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded), "body: %s", body)
	return resp, decoded
}

func TestGetForecastSuccess(t *testing.T) {
	stub := &stubForecasts{result: sampleForecast()}
	srv := New(Config{}, stub)

	resp, body := doRequest(t, srv, "/weather/Indaial")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	assert.Equal(t, "Indaial, BR", body["location"])
	assert.Equal(t, float64(25), body["current_temp"])
	assert.Equal(t, false, body["from_cache"])
	assert.Len(t, body["forecast"], 1)
	assert.Equal(t, []string{"Indaial"}, stub.locations)
}

func TestGetForecastCachedFlag(t *testing.T) {
	cached := sampleForecast()
	cached.FromCache = true
	srv := New(Config{}, &stubForecasts{result: cached})

	_, body := doRequest(t, srv, "/weather/Indaial")
	assert.Equal(t, true, body["from_cache"])
}

func TestGetForecastDecodesAndTrimsLocation(t *testing.T) {
	stub := &stubForecasts{result: sampleForecast()}
	srv := New(Config{}, stub)

	resp, _ := doRequest(t, srv, "/weather/%20S%C3%A3o%20Paulo%20")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"São Paulo"}, stub.locations)
}

func TestGetForecastBlankLocation(t *testing.T) {
	for _, path := range []string{"/weather/%20%20", "/weather/", "/weather"} {
		t.Run(path, func(t *testing.T) {
			stub := &stubForecasts{result: sampleForecast()}
			srv := New(Config{}, stub)

			resp, body := doRequest(t, srv, path)

			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, api.MsgLocationRequired, body["error"])
			assert.Empty(t, stub.locations)
		})
	}
}

func TestGetForecastServiceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing key", &api.ValidationError{Message: api.MsgAPIKeyMissing}, api.MsgAPIKeyMissing},
		{"upstream", &api.UpstreamError{Call: api.CallCurrent, StatusCode: 404}, api.MsgUpstreamFailure},
		{"normalization", &api.NormalizationError{Field: "main.temp"}, api.MsgNormalizationFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(Config{}, &stubForecasts{err: tt.err})

			resp, body := doRequest(t, srv, "/weather/Atlantis")

			assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			assert.Equal(t, map[string]any{"error": tt.want}, body)
		})
	}
}

func TestHealthAndIndex(t *testing.T) {
	srv := New(Config{}, &stubForecasts{})

	resp, body := doRequest(t, srv, "/up")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	resp, body = doRequest(t, srv, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "weathercast", body["service"])
}

func TestRequestIDHeader(t *testing.T) {
	srv := New(Config{}, &stubForecasts{})

	resp, _ := doRequest(t, srv, "/up")

	_, err := uuid.Parse(resp.Header.Get("X-Request-ID"))
	assert.NoError(t, err)
}

func TestPanicIsRecovered(t *testing.T) {
	srv := New(Config{}, &stubForecasts{panicMsg: "boom"})

	resp, body := doRequest(t, srv, "/weather/Paris")

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal server error", body["error"])
}

func TestUnknownRoute(t *testing.T) {
	srv := New(Config{}, &stubForecasts{})

	resp, body := doRequest(t, srv, "/nope")

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body["error"], "Cannot GET")
}
