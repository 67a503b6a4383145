package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"syscall"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	mssql "github.com/microsoft/go-mssqldb"
	sqlite3 "github.com/mattn/go-sqlite3"
)

// IsTransient reports whether err looks like a temporary database
// condition that a retry may clear: connection loss, deadlock, lock
// contention, or pool exhaustion. Constraint violations and SQL errors
// are not transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)

		// Class 08 covers connection exceptions; 40001 and 40P01 are
		// serialization failures and deadlocks; class 53 is resource
		// exhaustion such as too_many_connections.
		return strings.HasPrefix(code, "08") ||
			strings.HasPrefix(code, "53") ||
			code == "40001" ||
			code == "40P01"
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, // ER_CON_COUNT_ERROR
			1205, // ER_LOCK_WAIT_TIMEOUT
			1213: // ER_LOCK_DEADLOCK
			return true
		}

		return false
	}

	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		case 1205, // deadlock victim
			4060,  // database unavailable
			10928, // resource limit reached
			10929,
			40197, // service error, retry
			40501, // service busy
			40613: // database unavailable
			return true
		}

		return false
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrBusy || liteErr.Code == sqlite3.ErrLocked
	}

	if errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}
