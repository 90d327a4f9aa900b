package store

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/refledger/internal/apperr"
)

// classify maps driver errors onto the apperr taxonomy.
//
//   - SQLITE_CONSTRAINT -> CONSTRAINT_VIOLATION
//   - SQLITE_BUSY, SQLITE_LOCKED, SQLITE_IOERR, SQLITE_CANTOPEN, SQLITE_FULL,
//     bad or closed connections -> STORE_UNAVAILABLE
//
// Errors already carrying a code are returned unchanged. Anything else is
// wrapped with op.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if apperr.CodeOf(err) != "" {
		return err
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			return apperr.Constraint(op, err)
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrIoErr,
			sqlite3.ErrCantOpen, sqlite3.ErrFull, sqlite3.ErrProtocol:
			return apperr.Unavailable(op, err)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return apperr.Unavailable(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
