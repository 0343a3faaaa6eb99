package repository

import (
	"errors"
	"fmt"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNotFound is returned by lookups and deletes that match no row.
var ErrNotFound = errors.New("repository: not found")

// DuplicateKeyError reports an insert that collided with an existing primary
// or unique key. The existing row is left untouched.
type DuplicateKeyError struct {
	Table string
	Key   string
	Err   error
}

func (e *DuplicateKeyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("repository: duplicate key %q in %s", e.Key, e.Table)
}

func (e *DuplicateKeyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ForeignKeyError reports a write that referenced a missing parent row.
type ForeignKeyError struct {
	Table string
	Ref   string
	Key   string
	Err   error
}

func (e *ForeignKeyError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("repository: %s references missing %s %q", e.Table, e.Ref, e.Key)
}

func (e *ForeignKeyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// Constraint failures are matched on the extended result code, falling back to
// the primary code plus message when extended codes are not reported.
func isUniqueViolation(err error) bool {
	switch code := sqliteCode(err); {
	case code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, code == sqlite3.SQLITE_CONSTRAINT_UNIQUE:
		return true
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "UNIQUE constraint failed")
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	switch code := sqliteCode(err); {
	case code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return true
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
	}
	return false
}
