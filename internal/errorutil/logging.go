package errorutil

import (
	"fmt"
	"log/slog"
	"time"
)

// LogAndWrap logs an error with structured context and returns it wrapped with the operation name.
// With a nil logger the error is returned untouched.
func LogAndWrap(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) error {
	if logger == nil || err == nil {
		return err
	}

	logger.Error(operation+" failed", withError(err, attrs)...)
	return fmt.Errorf("%s: %w", operation, err)
}

// LogWarning logs a recoverable error as a warning without wrapping it
func LogWarning(logger *slog.Logger, operation string, err error, attrs ...slog.Attr) {
	if logger == nil || err == nil {
		return
	}

	logger.Warn("Non-fatal error in "+operation, withError(err, attrs)...)
}

// ExecuteWithLogging runs fn and logs its start, duration and outcome
func ExecuteWithLogging(logger *slog.Logger, operation string, fn func() error, attrs ...slog.Attr) error {
	if logger == nil {
		return fn()
	}

	start := time.Now()
	logger.Debug("Starting "+operation, AttrsToArgs(attrs)...)

	err := fn()

	done := append(append([]slog.Attr{}, attrs...), slog.Duration("duration", time.Since(start)))
	if err != nil {
		logger.Error("Failed "+operation, withError(err, done)...)
		return fmt.Errorf("%s: %w", operation, err)
	}

	logger.Debug("Completed "+operation, AttrsToArgs(done)...)
	return nil
}

func withError(err error, attrs []slog.Attr) []any {
	all := make([]slog.Attr, 0, len(attrs)+1)
	all = append(all, slog.String("error", err.Error()))
	all = append(all, attrs...)
	return AttrsToArgs(all)
}

// AttrsToArgs converts attributes to the variadic form taken by slog.Logger methods
func AttrsToArgs(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, attr := range attrs {
		out[i] = attr
	}
	return out
}

// LocationContext creates context attributes for a forecast lookup
func LocationContext(location, query string) []slog.Attr {
	attrs := []slog.Attr{slog.String("location", location)}
	if query != "" && query != location {
		attrs = append(attrs, slog.String("query", query))
	}
	return attrs
}

// CacheContext creates context attributes for cache store operations
func CacheContext(backend, key string) []slog.Attr {
	attrs := make([]slog.Attr, 0, 2)
	if backend != "" {
		attrs = append(attrs, slog.String("cache_backend", backend))
	}
	if key != "" {
		attrs = append(attrs, slog.String("cache_key", key))
	}
	return attrs
}

// UpstreamContext creates context attributes for a failed provider call
func UpstreamContext(call string, statusCode int, body string) []slog.Attr {
	attrs := []slog.Attr{slog.String("call", call)}
	if statusCode > 0 {
		attrs = append(attrs, slog.Int("status_code", statusCode))
	}
	if body != "" {
		attrs = append(attrs, slog.String("body", body))
	}
	return attrs
}

// ConfigContext creates context attributes for configuration operations
func ConfigContext(configFile string) []slog.Attr {
	if configFile == "" {
		return nil
	}
	return []slog.Attr{slog.String("config_file", configFile)}
}

// FileContext creates context attributes for file operations
func FileContext(filePath string) []slog.Attr {
	if filePath == "" {
		return nil
	}
	return []slog.Attr{slog.String("file_path", filePath)}
}
