package api

import (
	"errors"
	"fmt"
)

// User-facing messages. These are returned verbatim by the HTTP layer.
const (
	MsgAPIKeyMissing       = "API key not configured"
	MsgLocationRequired    = "Please provide a location"
	MsgUpstreamFailure     = "Location not found or API error"
	MsgNormalizationFailed = "Unable to fetch weather data"
)

// ValidationError is a caller mistake or missing configuration; its message is safe to show
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UpstreamError reports a failed OpenWeather call. StatusCode is zero when no
// response was received.
type UpstreamError struct {
	Call       string // "current" or "forecast"
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("openweather %s request failed with status %d: %v", e.Call, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("openweather %s request failed: %v", e.Call, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NormalizationError means the provider answered but the payload lacked a required field
type NormalizationError struct {
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("normalize forecast: %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("normalize forecast: missing %s", e.Field)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

func missingField(field string) error {
	return &NormalizationError{Field: field}
}

// OpenWeatherAPIError is the decoded error body of a non-2xx OpenWeather response
type OpenWeatherAPIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *OpenWeatherAPIError) Error() string {
	return fmt.Sprintf("OpenWeather API error (code %d): %s", e.Code, e.Message)
}

// PublicMessage maps any error from GetForecast to the string shown to end users
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Message
	}

	var upstreamErr *UpstreamError
	if errors.As(err, &upstreamErr) {
		return MsgUpstreamFailure
	}

	return MsgNormalizationFailed
}
