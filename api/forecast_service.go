package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"weathercast/internal/errorutil"
	"weathercast/internal/logger"
)

// DefaultCacheTTL is how long a normalized forecast is served from cache
const DefaultCacheTTL = 30 * time.Minute

// CacheStore is the storage the service needs. Values are opaque bytes.
type CacheStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// ConditionsFetcher retrieves both upstream payloads for a query
type ConditionsFetcher interface {
	FetchConditions(ctx context.Context, apiKey, query string) (*UpstreamConditions, error)
}

// ServiceConfig carries the collaborators of a ForecastService
type ServiceConfig struct {
	APIKey  string
	Fetcher ConditionsFetcher
	Cache   CacheStore
	TTL     time.Duration // DefaultCacheTTL when zero

	// Development enables verbose diagnostics: masked key at startup, query
	// traces and postal-code hints on failures.
	Development bool
	// CacheBackend names the store in log lines
	CacheBackend string
}

// ForecastService fetches, normalizes and caches forecasts per location
type ForecastService struct {
	apiKey       string
	fetcher      ConditionsFetcher
	cache        CacheStore
	ttl          time.Duration
	development  bool
	cacheBackend string
	log          *slog.Logger
}

// NewForecastService validates cfg and returns a ready service. A missing API key
// is not an error here; every request reports it instead.
func NewForecastService(cfg ServiceConfig) (*ForecastService, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("forecast service requires a fetcher")
	}
	if cfg.Cache == nil {
		return nil, errors.New("forecast service requires a cache store")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}

	s := &ForecastService{
		apiKey:       strings.TrimSpace(cfg.APIKey),
		fetcher:      cfg.Fetcher,
		cache:        cfg.Cache,
		ttl:          cfg.TTL,
		development:  cfg.Development,
		cacheBackend: cfg.CacheBackend,
		log:          logger.Get().Logger,
	}

	if s.development {
		if s.apiKey != "" {
			s.log.Info("Using OpenWeather API key", slog.String("api_key", logger.MaskSecret(s.apiKey)))
		} else {
			s.log.Error("No OpenWeather API key configured",
				slog.String("hint", "set OPENWEATHER_API_KEY or [apis] openweather in the config file"))
		}
	}

	return s, nil
}

// CacheKey returns the cache key for a location: trimmed, lower-cased and prefixed
func CacheKey(location string) string {
	return "weather_" + strings.ToLower(strings.TrimSpace(location))
}

// GetForecast returns the forecast for location, from cache when a live entry
// exists. Errors are *ValidationError, *UpstreamError or *NormalizationError;
// use PublicMessage for the user-facing text.
func (s *ForecastService) GetForecast(ctx context.Context, location string) (*NormalizedForecast, error) {
	if s.apiKey == "" {
		return nil, &ValidationError{Message: MsgAPIKeyMissing}
	}

	location = strings.TrimSpace(location)
	if location == "" {
		return nil, &ValidationError{Message: MsgLocationRequired}
	}

	key := CacheKey(location)
	if cached, ok := s.readCache(ctx, key); ok {
		return cached, nil
	}

	query := BuildQuery(location)
	if s.development {
		s.log.Info("Fetching weather", errorutil.AttrsToArgs(errorutil.LocationContext(location, query.Query))...)
	}

	conditions, err := s.fetcher.FetchConditions(ctx, s.apiKey, query.Query)
	if err != nil {
		return nil, s.upstreamFailure(location, query, err)
	}

	forecast, err := Normalize(conditions)
	if err != nil {
		logger.LogStructuredError(err, map[string]any{
			"operation": "normalize",
			"location":  location,
			"query":     query.Query,
		})
		return nil, err
	}

	s.writeCache(ctx, key, forecast)

	forecast.FromCache = false
	return forecast, nil
}

// readCache decodes a live entry. Any store or decode failure counts as a miss.
func (s *ForecastService) readCache(ctx context.Context, key string) (*NormalizedForecast, bool) {
	data, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		errorutil.LogWarning(s.log, "cache read", err, errorutil.CacheContext(s.cacheBackend, key)...)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	var forecast NormalizedForecast
	if err := json.Unmarshal(data, &forecast); err != nil {
		errorutil.LogWarning(s.log, "cache decode", err, errorutil.CacheContext(s.cacheBackend, key)...)
		return nil, false
	}

	forecast.FromCache = true
	return &forecast, true
}

// writeCache stores the forecast with from_cache=false. Failures are logged only.
func (s *ForecastService) writeCache(ctx context.Context, key string, forecast *NormalizedForecast) {
	stored := *forecast
	stored.FromCache = false

	data, err := json.Marshal(&stored)
	if err != nil {
		errorutil.LogWarning(s.log, "cache encode", err, errorutil.CacheContext(s.cacheBackend, key)...)
		return
	}

	if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
		errorutil.LogWarning(s.log, "cache write", err, errorutil.CacheContext(s.cacheBackend, key)...)
	}
}

// upstreamFailure logs a failed fetch and makes sure the caller gets an *UpstreamError
func (s *ForecastService) upstreamFailure(location string, query LocationQuery, err error) error {
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		upstreamErr = &UpstreamError{Call: "fetch", Err: err}
	}

	attrs := append(errorutil.LocationContext(location, query.Query),
		errorutil.UpstreamContext(upstreamErr.Call, upstreamErr.StatusCode, upstreamErr.Body)...)
	attrs = append(attrs, slog.String("error", fmt.Sprint(upstreamErr.Err)))
	s.log.Error("Weather API failed", errorutil.AttrsToArgs(attrs)...)

	if s.development && query.Kind == LocationBRPostalCode {
		s.log.Warn("Brazilian postal code lookup failed; a city name such as 'Blumenau' or 'São Paulo' may work instead",
			slog.String("location", location))
	}

	return upstreamErr
}
