// Package migration applies versioned schema migrations to the reservation
// store.
//
// Migrations are read from an fs.FS (normally an embed.FS compiled into the
// binary) and must be named {version}_{description}.sql, for example
// "001_initial_schema.sql". Each file runs in its own transaction and is
// recorded in a schema_migrations table so it is never applied twice.
// Placeholders in bookkeeping statements are rebound for the target driver,
// so the same manager serves SQLite and PostgreSQL.
//
// Example usage:
//
//	manager := migration.NewManager(migration.NewFSScanner(files, "sqlite"), migration.NewSQLExecutor(db), logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
