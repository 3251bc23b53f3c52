package migration

import (
	"errors"
	"fmt"
)

var (
	ErrMigrationFailed      = errors.New("migration execution failed")
	ErrInvalidMigrationFile = errors.New("invalid migration file format")
	ErrInvalidVersion       = errors.New("invalid migration version")
	ErrDuplicateVersion     = errors.New("duplicate migration version")

	// ErrVersionConflict reports a gap in the file sequence or an applied
	// version whose file is gone.
	ErrVersionConflict = errors.New("migration version conflict")

	// ErrChecksumMismatch reports an applied file that was edited afterwards.
	ErrChecksumMismatch = errors.New("migration checksum mismatch")
)

// MigrationError ties a failure to the migration and step that caused it.
// Statement is set when the database rejected a specific SQL statement.
type MigrationError struct {
	Version   string
	FilePath  string
	Operation string
	Statement string
	Err       error
}

func (e *MigrationError) Error() string {
	subject := "migration"
	if e.Version != "" {
		subject += " " + e.Version
	}
	if e.FilePath != "" {
		subject += " (" + e.FilePath + ")"
	}
	return fmt.Sprintf("%s: %s: %v", subject, e.Operation, e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}

// NewMigrationError wraps err with the migration it belongs to.
func NewMigrationError(version, filePath, operation string, err error) *MigrationError {
	return &MigrationError{Version: version, FilePath: filePath, Operation: operation, Err: err}
}

func statementError(version, statement, operation string, err error) *MigrationError {
	return &MigrationError{Version: version, Operation: operation, Statement: statement, Err: err}
}
