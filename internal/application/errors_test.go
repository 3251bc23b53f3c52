package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/resource-reservations/internal/lifecycle"
	"github.com/example/resource-reservations/internal/persistence"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"start": "must be in the future", "purpose": "is required"}}
	want := "validation failed: purpose: is required; start: must be in the future"
	if got := withFields.Error(); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestValidationError_FirstMessageWins(t *testing.T) {
	t.Parallel()

	v := &ValidationError{}
	if v.HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	v.add("end", "must be after start")
	v.add("end", "reservation must not exceed 8h0m0s")
	if got := v.FieldErrors["end"]; got != "must be after start" {
		t.Fatalf("expected first message to be kept, got %q", got)
	}
	if !v.HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestContentionErrorMatchesStoreSentinel(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("create: %w", &ContentionError{ResourceID: "room-1", Attempts: 3})
	if !errors.Is(err, persistence.ErrContention) {
		t.Fatalf("expected ContentionError to match persistence.ErrContention")
	}
	var cErr *ContentionError
	if !errors.As(err, &cErr) || cErr.Attempts != 3 {
		t.Fatalf("expected to unwrap ContentionError with attempts, got %v", err)
	}
}

func TestMapStoreError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		in    error
		check func(error) bool
	}{
		{"not found", fmt.Errorf("get: %w", persistence.ErrNotFound), func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{"duplicate", persistence.ErrDuplicate, isValidation},
		{"foreign key", persistence.ErrForeignKeyViolation, isValidation},
		{"constraint", persistence.ErrConstraintViolation, isValidation},
		{"other", errors.New("disk on fire"), func(err error) bool { return err.Error() == "disk on fire" }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := mapStoreError(tc.in); !tc.check(got) {
				t.Fatalf("unexpected mapping for %v: %v", tc.in, got)
			}
		})
	}
	if mapStoreError(nil) != nil {
		t.Fatalf("expected nil to stay nil")
	}
}

func TestLifecycleErrorBecomesValidation(t *testing.T) {
	t.Parallel()

	_, err := lifecycle.Next(lifecycle.StatusActive, lifecycle.EventCancel)
	var vErr *ValidationError
	if !errors.As(lifecycleError(err), &vErr) || vErr.FieldErrors["status"] == "" {
		t.Fatalf("expected status validation error, got %v", lifecycleError(err))
	}

	if !errors.As(lifecycleError(lifecycle.ErrModificationDeadline), &vErr) || vErr.FieldErrors["start"] == "" {
		t.Fatalf("expected start validation error for the modification deadline")
	}
}

func TestFinishKeepsDomainErrors(t *testing.T) {
	t.Parallel()

	conflict := &ConflictError{ResourceID: "room-1"}
	if got := finish(conflict); got != conflict {
		t.Fatalf("expected conflict to pass through, got %v", got)
	}
	if got := finish(persistence.ErrNotFound); !errors.Is(got, ErrNotFound) {
		t.Fatalf("expected storage not found to be mapped, got %v", got)
	}
}

func isValidation(err error) bool {
	var vErr *ValidationError
	return errors.As(err, &vErr)
}
