// Package repository defines the MySQL-backed stores for users, refresh
// tokens, sessions and audit entries, together with the sentinel errors
// that let the service layer tell failure scenarios apart.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when the requested row does not exist, or exists
// but belongs to someone other than the caller.
var ErrNotFound = errors.New("not found")

// ErrEmailExists is returned when a user insert hits the unique email key.
var ErrEmailExists = errors.New("email already exists")

// ErrTokenRevoked is returned by token operations that find the row already
// revoked.  The service translates it into TOKEN_REVOKED.
var ErrTokenRevoked = errors.New("refresh token revoked")

// ErrTokenExpired is returned when the row exists but its lifetime is over.
var ErrTokenExpired = errors.New("refresh token expired")

// ErrConflict signals a write that cannot proceed because of existing
// state, such as a refresh token hash that is already stored.
var ErrConflict = errors.New("conflict")

const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
