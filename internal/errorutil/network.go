package errorutil

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"syscall"
)

// Network failure kinds reported by NetworkError.Kind
const (
	KindTimeout           = "timeout"
	KindDNS               = "dns"
	KindConnectionRefused = "connection_refused"
	KindCanceled          = "canceled"
	KindOther             = "other"
)

// NetworkError describes a transport-level failure talking to a remote service
type NetworkError struct {
	Operation  string // e.g. "weather_api_current"
	URL        string // request URL with secrets redacted
	Kind       string // one of the Kind* constants
	Underlying error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s failed for %s (%s): %v", e.Operation, e.URL, e.Kind, e.Underlying)
}

func (e *NetworkError) Unwrap() error {
	return e.Underlying
}

// IsRetryable reports whether a later attempt might succeed. Callers decide whether to act on it.
func (e *NetworkError) IsRetryable() bool {
	switch e.Kind {
	case KindTimeout, KindDNS, KindConnectionRefused:
		return true
	}
	return false
}

// NewNetworkError wraps err and classifies it
func NewNetworkError(operation, url string, err error) *NetworkError {
	return &NetworkError{
		Operation:  operation,
		URL:        url,
		Kind:       classifyNetworkError(err),
		Underlying: err,
	}
}

// LogNetworkError logs a network error with structured context and returns it
func LogNetworkError(logger *slog.Logger, netErr *NetworkError) *NetworkError {
	if logger == nil || netErr == nil {
		return netErr
	}

	level := slog.LevelError
	if netErr.IsRetryable() {
		level = slog.LevelWarn
	}

	logger.Log(context.Background(), level, "Network operation failed",
		slog.String("operation", netErr.Operation),
		slog.String("url", netErr.URL),
		slog.String("kind", netErr.Kind),
		slog.Bool("retryable", netErr.IsRetryable()),
		slog.String("error", netErr.Underlying.Error()),
	)
	return netErr
}

func classifyNetworkError(err error) string {
	if err == nil {
		return KindOther
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return KindDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) || strings.Contains(err.Error(), "connection refused") {
		return KindConnectionRefused
	}

	return KindOther
}
