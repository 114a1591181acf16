package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"weathercast/internal/errorutil"
)

func TestGetCurrentWeatherSendsQueryParams(t *testing.T) {
	server := newFakeOpenWeather(t)
	client := server.client(ClientConfig{})

	got, err := client.GetCurrentWeather(context.Background(), testAPIKey, "01310-100,BR")
	if err != nil {
		t.Fatalf("GetCurrentWeather() error = %v", err)
	}
	if got.Name != "Timbó" || got.Sys.Country != "BR" {
		t.Errorf("decoded = %+v", got)
	}
	if got.Main.Temp == nil || *got.Main.Temp != 25.7 {
		t.Errorf("Temp = %v", got.Main.Temp)
	}

	queries := server.queries()
	if len(queries) != 1 {
		t.Fatalf("requests = %d, want 1", len(queries))
	}
	q := queries[0]
	want := map[string]string{"q": "01310-100,BR", "appid": testAPIKey, "units": "metric", "lang": "en"}
	for key, value := range want {
		if q.Get(key) != value {
			t.Errorf("query %s = %q, want %q", key, q.Get(key), value)
		}
	}
	if q.Has("cnt") {
		t.Error("current weather call should not send cnt")
	}
}

func TestGetForecastSendsCount(t *testing.T) {
	server := newFakeOpenWeather(t)
	client := server.client(ClientConfig{Lang: "pt_br"})

	got, err := client.GetForecast(context.Background(), testAPIKey, "Blumenau")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if len(got.List) != 3 {
		t.Errorf("len(List) = %d, want 3", len(got.List))
	}

	q := server.queries()[0]
	if q.Get("cnt") != "16" {
		t.Errorf("cnt = %q, want 16", q.Get("cnt"))
	}
	if q.Get("units") != "metric" || q.Get("lang") != "pt_br" {
		t.Errorf("units/lang = %q/%q", q.Get("units"), q.Get("lang"))
	}
}

func TestGetCurrentWeatherNotFound(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusNotFound, []byte(`{"cod":"404","message":"city not found"}`))
	client := server.client(ClientConfig{})

	_, err := client.GetCurrentWeather(context.Background(), testAPIKey, "Atlantis")

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upstreamErr.Call != CallCurrent || upstreamErr.StatusCode != http.StatusNotFound {
		t.Errorf("UpstreamError = %+v", upstreamErr)
	}
	if upstreamErr.Body == "" {
		t.Error("Body should carry the response for logging")
	}

	var apiErr *OpenWeatherAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error chain should contain *OpenWeatherAPIError: %v", err)
	}
	if apiErr.Code != 404 || apiErr.Message != "city not found" {
		t.Errorf("OpenWeatherAPIError = %+v", apiErr)
	}
}

func TestGetForecastUnauthorizedWithoutBody(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setForecast(http.StatusUnauthorized, []byte(`not json`))
	client := server.client(ClientConfig{})

	_, err := client.GetForecast(context.Background(), testAPIKey, "Paris")

	var apiErr *OpenWeatherAPIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *OpenWeatherAPIError in chain", err)
	}
	if apiErr.Code != http.StatusUnauthorized {
		t.Errorf("Code = %d", apiErr.Code)
	}
}

func TestMalformedJSONIsUpstreamError(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusOK, []byte(`{"main": {"temp": "warm"`))
	client := server.client(ClientConfig{})

	_, err := client.GetCurrentWeather(context.Background(), testAPIKey, "Paris")

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upstreamErr.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", upstreamErr.StatusCode)
	}
}

func TestTimeoutIsUpstreamError(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setDelay(500 * time.Millisecond)
	client := server.client(ClientConfig{Timeout: 50 * time.Millisecond})

	_, err := client.GetCurrentWeather(context.Background(), testAPIKey, "Paris")

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upstreamErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a transport failure", upstreamErr.StatusCode)
	}

	var netErr *errorutil.NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("error chain should contain *errorutil.NetworkError: %v", err)
	}
	if netErr.Kind != errorutil.KindTimeout {
		t.Errorf("Kind = %q, want %q", netErr.Kind, errorutil.KindTimeout)
	}
	if got := server.currentCalls.Load(); got != 1 {
		t.Errorf("attempts = %d, want exactly 1", got)
	}
}

func TestServerErrorsOpenBreaker(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusInternalServerError, []byte(`{"cod":500,"message":"internal error"}`))
	client := server.client(ClientConfig{BreakerFailures: 2, BreakerOpen: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.GetCurrentWeather(ctx, testAPIKey, "Paris")
		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) || upstreamErr.StatusCode != http.StatusInternalServerError {
			t.Fatalf("call %d error = %v, want 500 UpstreamError", i, err)
		}
	}

	_, err := client.GetCurrentWeather(ctx, testAPIKey, "Paris")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want open breaker", err)
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Errorf("open breaker should still surface as *UpstreamError: %v", err)
	}
	if got := server.currentCalls.Load(); got != 2 {
		t.Errorf("server hits = %d, want 2", got)
	}
}

func TestNotFoundDoesNotOpenBreaker(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusNotFound, []byte(`{"cod":"404","message":"city not found"}`))
	client := server.client(ClientConfig{BreakerFailures: 1})

	for i := 0; i < 3; i++ {
		if _, err := client.GetCurrentWeather(context.Background(), testAPIKey, "Nowhere"); err == nil {
			t.Fatal("expected an error")
		}
	}
	if got := server.currentCalls.Load(); got != 3 {
		t.Errorf("server hits = %d, want 3", got)
	}
}

func TestFetchConditions(t *testing.T) {
	server := newFakeOpenWeather(t)
	client := server.client(ClientConfig{})

	got, err := client.FetchConditions(context.Background(), testAPIKey, "Timbó")
	if err != nil {
		t.Fatalf("FetchConditions() error = %v", err)
	}
	if got.Current == nil || got.Forecast == nil {
		t.Fatalf("partial result: %+v", got)
	}
	if server.currentCalls.Load() != 1 || server.forecastCalls.Load() != 1 {
		t.Errorf("calls = %d current, %d forecast", server.currentCalls.Load(), server.forecastCalls.Load())
	}
}

func TestFetchConditionsNamesFailingCall(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setForecast(http.StatusNotFound, []byte(`{"cod":"404","message":"city not found"}`))
	client := server.client(ClientConfig{})

	got, err := client.FetchConditions(context.Background(), testAPIKey, "Atlantis")
	if got != nil {
		t.Errorf("result = %+v, want nil on failure", got)
	}

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("error = %v, want *UpstreamError", err)
	}
	if upstreamErr.Call != CallForecast {
		t.Errorf("Call = %q, want %q", upstreamErr.Call, CallForecast)
	}
}

func TestFetchConditionsBreakerRecovers(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusInternalServerError, []byte(`{"cod":500,"message":"internal error"}`))
	server.setForecast(http.StatusInternalServerError, []byte(`{"cod":500,"message":"internal error"}`))
	client := server.client(ClientConfig{BreakerFailures: 1, BreakerOpen: 200 * time.Millisecond})
	ctx := context.Background()

	if _, err := client.FetchConditions(ctx, testAPIKey, "Paris"); err == nil {
		t.Fatal("expected the failing fetch to return an error")
	}

	time.Sleep(50 * time.Millisecond) // let an abandoned sibling request land
	hits := server.totalCalls()
	_, err := client.FetchConditions(ctx, testAPIKey, "Paris")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("error = %v, want open breaker", err)
	}
	if got := server.totalCalls(); got != hits {
		t.Errorf("open breaker let %d calls through", got-hits)
	}

	server.heal(t)
	time.Sleep(300 * time.Millisecond)

	currentBefore, forecastBefore := server.currentCalls.Load(), server.forecastCalls.Load()
	got, err := client.FetchConditions(ctx, testAPIKey, "Paris")
	if err != nil {
		t.Fatalf("half-open fetch error = %v, want recovery", err)
	}
	if got.Current == nil || got.Forecast == nil {
		t.Fatalf("partial result: %+v", got)
	}
	if server.currentCalls.Load() != currentBefore+1 || server.forecastCalls.Load() != forecastBefore+1 {
		t.Error("both calls of the half-open fetch should reach the server")
	}

	for i := 0; i < 3; i++ {
		if _, err := client.FetchConditions(ctx, testAPIKey, "Paris"); err != nil {
			t.Fatalf("fetch %d after recovery error = %v", i, err)
		}
	}
}

func TestCallerCancellationDoesNotTripBreaker(t *testing.T) {
	server := newFakeOpenWeather(t)
	server.setDelay(500 * time.Millisecond)
	client := server.client(ClientConfig{BreakerFailures: 1, BreakerOpen: time.Minute})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		_, err := client.FetchConditions(ctx, testAPIKey, "Paris")
		cancel()

		var upstreamErr *UpstreamError
		if !errors.As(err, &upstreamErr) {
			t.Fatalf("fetch %d error = %v, want *UpstreamError", i, err)
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			t.Fatalf("fetch %d hit an open breaker; abandoned calls must not count", i)
		}
	}

	server.setDelay(0)
	if _, err := client.FetchConditions(context.Background(), testAPIKey, "Paris"); err != nil {
		t.Fatalf("fetch after cancellations error = %v", err)
	}
}

func TestCancelledSiblingIsNotLoggedAsNetworkFailure(t *testing.T) {
	logs := captureLogs(t)
	server := newFakeOpenWeather(t)
	server.setCurrent(http.StatusNotFound, []byte(`{"cod":"404","message":"city not found"}`))
	server.setForecastDelay(2 * time.Second)
	client := server.client(ClientConfig{})

	start := time.Now()
	_, err := client.FetchConditions(context.Background(), testAPIKey, "Atlantis")

	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) || upstreamErr.Call != CallCurrent {
		t.Fatalf("error = %v, want the current call's *UpstreamError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("fetch took %v; the slow sibling should have been cancelled", elapsed)
	}
	if strings.Contains(logs(), "Network operation failed") {
		t.Errorf("cancelled sibling was logged as a network failure:\n%s", logs())
	}
}

func TestTransportFailureLogsNeverContainAPIKey(t *testing.T) {
	logs := captureLogs(t)
	server := newFakeOpenWeather(t)
	server.setDelay(300 * time.Millisecond)
	client := server.client(ClientConfig{Timeout: 20 * time.Millisecond})

	_, err := client.FetchConditions(context.Background(), testAPIKey, "Paris")
	if err == nil {
		t.Fatal("expected a timeout")
	}
	if strings.Contains(err.Error(), testAPIKey) {
		t.Errorf("error text contains the API key: %v", err)
	}

	output := logs()
	if !strings.Contains(output, "Network operation failed") {
		t.Fatalf("expected a network failure log line, got:\n%s", output)
	}
	if strings.Contains(output, testAPIKey) {
		t.Errorf("log output contains the API key:\n%s", output)
	}
}
