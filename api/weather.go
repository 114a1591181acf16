package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker/v2"

	"weathercast/internal/errorutil"
	"weathercast/internal/logger"
)

const (
	// OpenWeather API base URL and endpoints
	DefaultBaseURL   = "https://api.openweathermap.org/data/2.5"
	weatherEndpoint  = "/weather"
	forecastEndpoint = "/forecast"

	// Names used for the call in errors and logs
	CallCurrent  = "current"
	CallForecast = "forecast"

	defaultTimeout       = 10 * time.Second
	callsPerFetch        = 2 // current + forecast, issued together by FetchConditions
	defaultForecastCount = 16
	maxLoggedBodyBytes   = 2048

	userAgent = "weathercast/1.0"

	// Temperatures are always requested in Celsius; the normalized shape has no unit field.
	unitsMetric = "metric"
)

var (
	// errServerStatus marks a 5xx response as a failure for the circuit breaker
	errServerStatus = errors.New("upstream server error")
	// errCallerGone marks a call abandoned because its context ended; the
	// breaker neither counts it as a success nor as a failure
	errCallerGone = errors.New("request abandoned by caller")
)

// ClientConfig controls the OpenWeather client
type ClientConfig struct {
	BaseURL       string
	Lang          string
	ForecastCount int
	Timeout       time.Duration // Per call; there are no retries

	// Consecutive transport/5xx failures that open the breaker, and how long it stays open
	BreakerFailures uint32
	BreakerOpen     time.Duration
}

func (c *ClientConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Lang == "" {
		c.Lang = "en"
	}
	if c.ForecastCount <= 0 {
		c.ForecastCount = defaultForecastCount
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerOpen <= 0 {
		c.BreakerOpen = 30 * time.Second
	}
}

// WeatherClient handles OpenWeather API interactions. The API key is supplied
// per call so one client can serve any number of services.
type WeatherClient struct {
	client  *resty.Client
	breaker *gobreaker.CircuitBreaker[*resty.Response]
	cfg     ClientConfig
}

// NewWeatherClient creates an OpenWeather client that makes exactly one attempt per call
func NewWeatherClient(cfg ClientConfig) *WeatherClient {
	cfg.applyDefaults()

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetLogger(restyLogger{})

	client.OnBeforeRequest(func(c *resty.Client, req *resty.Request) error {
		headers := make(map[string]string)
		for key, values := range req.Header {
			if len(values) > 0 {
				headers[key] = values[0]
			}
		}
		for key, values := range c.Header {
			if _, ok := headers[key]; !ok && len(values) > 0 {
				headers[key] = values[0]
			}
		}
		logger.LogAPIRequest(req.Method, req.URL, headers)
		return nil
	})

	client.OnAfterResponse(func(c *resty.Client, resp *resty.Response) error {
		logger.LogAPIResponse(resp.Request.Method, resp.Request.URL, resp.StatusCode(), resp.Time(), len(resp.Body()))
		return nil
	})

	// Half-open admits one whole fetch: both of its calls must get through
	// together or the second is rejected and recovery can never succeed.
	breaker := gobreaker.NewCircuitBreaker[*resty.Response](gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: callsPerFetch,
		Interval:    60 * time.Second,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		IsExcluded: func(err error) bool {
			return errors.Is(err, errCallerGone)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	})

	return &WeatherClient{
		client:  client,
		breaker: breaker,
		cfg:     cfg,
	}
}

// CurrentWeatherResponse is the subset of the /weather payload the service reads.
// Pointer fields are required and stay nil when the provider omits them.
type CurrentWeatherResponse struct {
	Name    string             `json:"name"`
	Sys     CurrentSys         `json:"sys"`
	Main    CurrentMain        `json:"main"`
	Wind    *WindData          `json:"wind,omitempty"`
	Weather []WeatherCondition `json:"weather"`
	Dt      int64              `json:"dt"`
}

// CurrentSys carries the country code of the matched city
type CurrentSys struct {
	Country string `json:"country"`
}

// CurrentMain contains temperature and humidity readings
type CurrentMain struct {
	Temp      *float64 `json:"temp"`
	FeelsLike *float64 `json:"feels_like"`
	Humidity  *int     `json:"humidity"`
}

// WindData contains wind readings; Speed is absent on some stations
type WindData struct {
	Speed *float64 `json:"speed,omitempty"`
	Deg   float64  `json:"deg"`
}

// WeatherCondition represents weather condition details
type WeatherCondition struct {
	ID          int     `json:"id"`
	Main        string  `json:"main"`
	Description *string `json:"description"`
	Icon        string  `json:"icon"`
}

// ForecastResponse is the subset of the /forecast payload the service reads
type ForecastResponse struct {
	Cnt  int            `json:"cnt"`
	List []ForecastItem `json:"list"`
	City CityInfo       `json:"city"`
}

// ForecastItem is a single 3-hour forecast slot
type ForecastItem struct {
	Dt      int64              `json:"dt"`
	DtTxt   string             `json:"dt_txt"` // "2006-01-02 15:04:05", UTC
	Main    ForecastMain       `json:"main"`
	Weather []WeatherCondition `json:"weather"`
}

// ForecastMain contains the slot temperature
type ForecastMain struct {
	Temp *float64 `json:"temp"`
}

// CityInfo contains city information from the forecast response
type CityInfo struct {
	Name     string `json:"name"`
	Country  string `json:"country"`
	Timezone int    `json:"timezone"`
}

// GetCurrentWeather fetches /weather for query. Every failure is an *UpstreamError.
func (w *WeatherClient) GetCurrentWeather(ctx context.Context, apiKey, query string) (*CurrentWeatherResponse, error) {
	var out CurrentWeatherResponse
	if err := w.get(ctx, CallCurrent, weatherEndpoint, w.queryParams(apiKey, query), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetForecast fetches /forecast for query. Every failure is an *UpstreamError.
func (w *WeatherClient) GetForecast(ctx context.Context, apiKey, query string) (*ForecastResponse, error) {
	params := w.queryParams(apiKey, query)
	params["cnt"] = strconv.Itoa(w.cfg.ForecastCount)

	var out ForecastResponse
	if err := w.get(ctx, CallForecast, forecastEndpoint, params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (w *WeatherClient) queryParams(apiKey, query string) map[string]string {
	return map[string]string{
		"q":     query,
		"appid": apiKey,
		"units": unitsMetric,
		"lang":  w.cfg.Lang,
	}
}

// get performs one GET through the breaker and decodes a 2xx body into out
func (w *WeatherClient) get(ctx context.Context, call, path string, params map[string]string, out any) (err error) {
	complete := logger.LogOperationStart("weather_api_"+call, map[string]any{
		"endpoint": strings.TrimPrefix(path, "/"),
		"query":    params["q"],
	})
	defer func() { complete(err) }()

	resp, err := w.breaker.Execute(func() (*resty.Response, error) {
		resp, err := w.client.R().
			SetContext(ctx).
			SetQueryParams(params).
			Get(path)
		if err != nil {
			err = redactTransportError(err)
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", errCallerGone, err)
			}
			return nil, err
		}
		if resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if resp == nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return &UpstreamError{Call: call, Err: err}
		}
		if errors.Is(err, errCallerGone) {
			// The sibling call failed or the caller left; that failure is logged already.
			return &UpstreamError{Call: call, Err: err}
		}
		netErr := errorutil.NewNetworkError("weather_api_"+call, w.cfg.BaseURL+path, err)
		errorutil.LogNetworkError(logger.Get().Logger, netErr)
		return &UpstreamError{Call: call, Err: netErr}
	}

	if !resp.IsSuccess() {
		return &UpstreamError{
			Call:       call,
			StatusCode: resp.StatusCode(),
			Body:       truncateBody(resp.Body()),
			Err:        parseOpenWeatherError(resp),
		}
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return &UpstreamError{
			Call:       call,
			StatusCode: resp.StatusCode(),
			Body:       truncateBody(resp.Body()),
			Err:        fmt.Errorf("decode %s response: %w", call, err),
		}
	}

	return nil
}

// restyLogger routes resty's own diagnostics through the application logger,
// whose handler masks credentials in request URLs
type restyLogger struct{}

func (restyLogger) Errorf(format string, v ...interface{}) {
	logger.Get().Error("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (restyLogger) Warnf(format string, v ...interface{}) {
	logger.Get().Warn("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (restyLogger) Debugf(format string, v ...interface{}) {
	logger.Get().Debug("resty: " + strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// redactTransportError rebuilds a *url.Error so its text carries a masked
// request URL; the query string holds the API key.
func redactTransportError(err error) error {
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		return err
	}
	return &url.Error{
		Op:  urlErr.Op,
		URL: logger.RedactURL(urlErr.URL),
		Err: urlErr.Err,
	}
}

func truncateBody(body []byte) string {
	if len(body) > maxLoggedBodyBytes {
		return string(body[:maxLoggedBodyBytes]) + "..."
	}
	return string(body)
}

// parseOpenWeatherError creates an error from a non-2xx API response
func parseOpenWeatherError(resp *resty.Response) error {
	statusCode := resp.StatusCode()

	// cod is a number on some endpoints and a string on others
	var apiError struct {
		Cod     json.Number `json:"cod"`
		Message string      `json:"message"`
	}

	if err := json.Unmarshal(resp.Body(), &apiError); err == nil && apiError.Message != "" {
		code, convErr := apiError.Cod.Int64()
		if convErr != nil {
			code = int64(statusCode)
		}
		return &OpenWeatherAPIError{
			StatusCode: statusCode,
			Code:       int(code),
			Message:    apiError.Message,
		}
	}

	message := fmt.Sprintf("API request failed with status %d", statusCode)
	switch statusCode {
	case http.StatusUnauthorized:
		message = "Invalid API key. Please verify your OpenWeather API key."
	case http.StatusNotFound:
		message = "Location not found."
	case http.StatusTooManyRequests:
		message = "API rate limit exceeded. Please try again later."
	}

	return &OpenWeatherAPIError{
		StatusCode: statusCode,
		Code:       statusCode,
		Message:    message,
	}
}
