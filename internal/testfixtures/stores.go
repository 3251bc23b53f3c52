package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/resource-reservations/internal/persistence"
	"github.com/example/resource-reservations/internal/persistence/memory"
	"github.com/example/resource-reservations/internal/persistence/sqlstore"
)

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// NewMemoryStore returns an empty in-process store.
func NewMemoryStore(tb testing.TB) *memory.Store {
	tb.Helper()
	store := memory.New(memory.WithLockTimeout(2 * time.Second))
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// NewSQLiteStore returns a migrated SQLite store in a temporary directory.
func NewSQLiteStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "reservations.db")
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{
		Driver:      sqlstore.DriverSQLite,
		DSN:         "file:" + path,
		LockTimeout: 5 * time.Second,
	}, DiscardLogger())
	if err != nil {
		tb.Fatalf("open sqlite store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		tb.Fatalf("migrate sqlite store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return store
}

// StoreCase names a store constructor for table-driven tests.
type StoreCase struct {
	Name string
	New  func(tb testing.TB) persistence.Store
}

// StoreCases lists every Store implementation.
func StoreCases() []StoreCase {
	return []StoreCase{
		{Name: "memory", New: func(tb testing.TB) persistence.Store { return NewMemoryStore(tb) }},
		{Name: "sqlite", New: func(tb testing.TB) persistence.Store { return NewSQLiteStore(tb) }},
	}
}

// ForEachStore runs fn as a subtest against every Store implementation.
func ForEachStore(t *testing.T, fn func(t *testing.T, store persistence.Store)) {
	t.Helper()
	for _, tc := range StoreCases() {
		tc := tc
		t.Run(tc.Name, func(t *testing.T) {
			fn(t, tc.New(t))
		})
	}
}
