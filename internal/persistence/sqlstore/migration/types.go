package migration

import (
	"context"
	"time"
)

// Migration is one versioned schema file. Version is the zero-padded numeric
// prefix of the file name and Checksum is the hex SHA-256 of SQL.
type Migration struct {
	Version     string
	Description string
	SQL         string
	FilePath    string
	Checksum    string
}

// Scanner lists the migrations available to a store.
type Scanner interface {
	// ScanMigrations returns every migration ordered by version.
	ScanMigrations() ([]Migration, error)
	ValidateFileName(filename string) error
}

// Executor applies migrations and keeps the schema_migrations history.
type Executor interface {
	InitializeVersionTable(ctx context.Context) error
	// ExecuteMigration applies migration and records it in one transaction.
	ExecuteMigration(ctx context.Context, migration Migration) (time.Duration, error)
	GetAppliedVersions(ctx context.Context) ([]AppliedMigration, error)
}

// Status is a read-only view of applied and pending migrations.
type Status struct {
	CurrentVersion    string
	PendingCount      int
	AppliedMigrations []AppliedMigration
	PendingMigrations []Migration
}

// AppliedMigration is one row of schema_migrations.
type AppliedMigration struct {
	Version       string
	AppliedAt     time.Time
	ExecutionTime time.Duration
	Checksum      string
}
