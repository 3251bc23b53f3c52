package application

import (
	"context"
	"errors"
	"log/slog"

	"github.com/example/resource-reservations/internal/logging"
)

func defaultLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

func serviceLogger(ctx context.Context, base *slog.Logger, serviceName, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = base
	}
	if logger == nil {
		logger = slog.Default()
	}

	pairs := []any{"service", serviceName}
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	if len(attrs) > 0 {
		pairs = append(pairs, attrs...)
	}
	return logger.With(pairs...)
}

// logOutcome records the result of an operation. Expected outcomes such as
// conflicts and validation failures log at info; unexpected ones at error.
func logOutcome(ctx context.Context, logger *slog.Logger, err error, attrs ...any) {
	if err == nil {
		logger.InfoContext(ctx, "operation completed", attrs...)
		return
	}
	attrs = append(attrs, "error", err, "error_kind", ErrorKind(err))
	switch ErrorKind(err) {
	case "unexpected":
		logger.ErrorContext(ctx, "operation failed", attrs...)
	case "contention":
		logger.WarnContext(ctx, "operation failed", attrs...)
	default:
		logger.InfoContext(ctx, "operation rejected", attrs...)
	}
}

// ErrorKind maps sentinel and taxonomy errors to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	}

	var (
		vErr *ValidationError
		cErr *ConflictError
		kErr *ContentionError
		tErr *TimeZoneAnomalyError
	)
	switch {
	case errors.As(err, &vErr):
		return "validation"
	case errors.As(err, &cErr):
		return "conflict"
	case errors.As(err, &kErr):
		return "contention"
	case errors.As(err, &tErr):
		return "timezone_anomaly"
	}
	return "unexpected"
}
