package sqlstore_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/persistence/sqlstore"
	"github.com/example/resource-reservations/internal/testfixtures"
)

func TestMigrateIsIdempotent(t *testing.T) {
	store := testfixtures.NewSQLiteStore(t)
	if got := store.Driver(); got != sqlstore.DriverSQLite {
		t.Fatalf("Driver() = %q", got)
	}
	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestInsertDuplicateReservation(t *testing.T) {
	store := testfixtures.NewSQLiteStore(t)
	resource := testfixtures.SeedResource(t, store, testfixtures.NewResource())
	start := testfixtures.ReferenceTime().Add(24 * time.Hour)
	r := testfixtures.NewReservation(resource.ID, "alice", start, start.Add(time.Hour))
	testfixtures.SeedReservations(t, store, r)

	err := store.WithResourceLock(context.Background(), resource.ID, func(ctx context.Context, tx persistence.Tx) error {
		return tx.InsertReservation(ctx, r)
	})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
