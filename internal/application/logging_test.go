package application

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/example/resource-reservations/internal/localtime"
	"github.com/example/resource-reservations/internal/logging"
)

func TestDefaultLogger(t *testing.T) {
	t.Parallel()

	custom := slog.New(slog.NewTextHandler(io.Discard, nil))
	if got := defaultLogger(custom); got != custom {
		t.Fatalf("expected custom logger to be returned")
	}

	if got := defaultLogger(nil); got != slog.Default() {
		t.Fatalf("expected default logger when none provided")
	}
}

func TestServiceLoggerPrefersContextLogger(t *testing.T) {
	t.Parallel()

	var ctxBuf, baseBuf bytes.Buffer
	ctxLogger := slog.New(slog.NewTextHandler(&ctxBuf, nil))
	base := slog.New(slog.NewTextHandler(&baseBuf, nil))

	ctx := logging.ContextWithLogger(context.Background(), ctxLogger)
	serviceLogger(ctx, base, "ReservationService", "CreateReservation", "resource_id", "room-1").Info("hello")

	if baseBuf.Len() != 0 {
		t.Fatalf("expected base logger to stay silent, got %q", baseBuf.String())
	}
	for _, want := range []string{"service=ReservationService", "operation=CreateReservation", "resource_id=room-1"} {
		if !strings.Contains(ctxBuf.String(), want) {
			t.Fatalf("expected %q in %q", want, ctxBuf.String())
		}
	}
}

func TestLogOutcomeLevels(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	logOutcome(ctx, logger, &ConflictError{ResourceID: "room-1"})
	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "error_kind=conflict") {
		t.Fatalf("expected conflict to log at info, got %q", buf.String())
	}

	buf.Reset()
	logOutcome(ctx, logger, errors.New("boom"))
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "error_kind=unexpected") {
		t.Fatalf("expected unexpected error to log at error, got %q", buf.String())
	}
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	cases := map[string]error{
		"":                 nil,
		"unauthorized":     ErrUnauthorized,
		"not_found":        ErrNotFound,
		"validation":       newValidationError("purpose", "is required"),
		"conflict":         &ConflictError{},
		"contention":       &ContentionError{},
		"timezone_anomaly": &TimeZoneAnomalyError{Kind: localtime.KindGap},
		"unexpected":       errors.New("boom"),
	}
	for want, err := range cases {
		if got := ErrorKind(err); got != want {
			t.Fatalf("ErrorKind(%v) = %q, want %q", err, got, want)
		}
	}
}
