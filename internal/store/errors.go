package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

// ErrNotFound is the cause of every not-found error returned by the store.
var ErrNotFound = errors.New("not found")

// classify wraps err with op, promoting failures of the database itself to
// StoreUnavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if fault.CodeOf(err) != "" {
		return err
	}
	if unavailable(err) {
		return fault.Wrap(fault.CodeStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func unavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrCantOpen,
			sqlite3.ErrIoErr,
			sqlite3.ErrCorrupt,
			sqlite3.ErrNotADB,
			sqlite3.ErrFull,
			sqlite3.ErrReadonly,
			sqlite3.ErrPerm:
			return true
		}
		return false
	}
	// database/sql does not export its closed-database sentinel.
	return strings.Contains(err.Error(), "sql: database is closed")
}

func notFound(op, format string, args ...any) error {
	return &fault.Error{
		Code:    fault.CodeNotFound,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		Err:     ErrNotFound,
	}
}
