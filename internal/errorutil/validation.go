package errorutil

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// ValidationError represents a validation error with field context
type ValidationError struct {
	Field       string      // The field that failed validation
	Value       interface{} // The value that was being validated
	Rule        string      // The validation rule that failed
	Message     string      // Human-readable error message
	Suggestions []string    // Suggested corrections
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("validation failed for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed for field '%s' with rule '%s'", e.Field, e.Rule)
}

// ValidationErrors collects several validation failures
type ValidationErrors struct {
	Errors []ValidationError
}

func (e *ValidationErrors) Error() string {
	switch len(e.Errors) {
	case 0:
		return "validation failed"
	case 1:
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e.Errors), e.Errors[0].Error())
}

// Append adds err to the collection when it is non-nil
func (e *ValidationErrors) Append(err *ValidationError) {
	if err != nil {
		e.Errors = append(e.Errors, *err)
	}
}

// HasErrors returns true if there are validation errors
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// LogValidationErrors logs each validation error as a warning
func LogValidationErrors(logger *slog.Logger, valErr *ValidationErrors) *ValidationErrors {
	if logger == nil || !valErr.HasErrors() {
		return valErr
	}

	for _, err := range valErr.Errors {
		attrs := []any{
			slog.String("field", err.Field),
			slog.String("rule", err.Rule),
			slog.String("message", err.Message),
			slog.Any("value", err.Value),
		}
		if len(err.Suggestions) > 0 {
			attrs = append(attrs, slog.Any("suggestions", err.Suggestions))
		}
		logger.Warn("Validation error", attrs...)
	}

	return valErr
}

// ValidateRequired checks if a field has a non-empty value
func ValidateRequired(field string, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "required",
			Message: "field is required and cannot be empty",
		}
	}
	return nil
}

// ValidateIntRange checks if an integer value is within [min, max]
func ValidateIntRange(field string, value, min, max int) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "int_range",
			Message: fmt.Sprintf("value must be between %d and %d, got %d", min, max, value),
			Suggestions: []string{
				fmt.Sprintf("Try a value between %d and %d", min, max),
			},
		}
	}
	return nil
}

// ValidateEnum checks if a value is one of the allowed values (case-insensitive)
func ValidateEnum(field string, value string, allowedValues []string) *ValidationError {
	normalized := strings.TrimSpace(strings.ToLower(value))
	for _, allowed := range allowedValues {
		if strings.ToLower(allowed) == normalized {
			return nil
		}
	}

	return &ValidationError{
		Field:       field,
		Value:       value,
		Rule:        "enum",
		Message:     fmt.Sprintf("value must be one of: %s, got '%s'", strings.Join(allowedValues, ", "), value),
		Suggestions: allowedValues,
	}
}

// ValidateURL checks that value is an absolute http(s) URL
func ValidateURL(field string, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return ValidateRequired(field, value)
	}

	u, err := url.Parse(value)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{
			Field:   field,
			Value:   value,
			Rule:    "url",
			Message: "must be an absolute http:// or https:// URL",
			Suggestions: []string{
				"Ensure URL starts with http:// or https://",
			},
		}
	}

	return nil
}

// ValidateAPIKey rejects empty, short and placeholder API keys. An empty key is
// allowed when optional is true.
func ValidateAPIKey(field string, value string, minLength int, optional bool) *ValidationError {
	value = strings.TrimSpace(value)
	if value == "" {
		if optional {
			return nil
		}
		return &ValidationError{
			Field:   field,
			Value:   "[REDACTED]",
			Rule:    "required",
			Message: "API key is required",
			Suggestions: []string{
				"Obtain API key from the service provider",
			},
		}
	}

	if len(value) < minLength {
		return &ValidationError{
			Field:   field,
			Value:   "[REDACTED]",
			Rule:    "min_length",
			Message: fmt.Sprintf("API key too short, expected at least %d characters", minLength),
			Suggestions: []string{
				"Verify complete API key was copied",
			},
		}
	}

	placeholders := []string{
		"your-api-key-here",
		"your-openweather-api-key-here",
		"replace-with-your-key",
	}

	lowerValue := strings.ToLower(value)
	for _, placeholder := range placeholders {
		if lowerValue == placeholder {
			return &ValidationError{
				Field:   field,
				Value:   "[REDACTED]",
				Rule:    "placeholder",
				Message: "API key appears to be a placeholder value",
				Suggestions: []string{
					"Replace placeholder with actual API key",
				},
			}
		}
	}

	return nil
}
