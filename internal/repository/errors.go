// Package repository holds the MySQL data access layer.  The sentinel
// values below let services tell storage outcomes apart without importing
// the driver.
package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Unique constraint violations on the users table.  Registration checks for
// duplicates before inserting, so these only surface when two requests race
// past that check.
var (
	ErrEmailExists  = errors.New("email already exists")
	ErrPhoneExists  = errors.New("phone already exists")
	ErrHandleExists = errors.New("profile handle already exists")
)

// ErrDuplicate is returned for unique violations on keys not listed above.
var ErrDuplicate = errors.New("duplicate key")

const mysqlDuplicateEntry = 1062

// translateDuplicate maps MySQL error 1062 onto the sentinel for the violated
// key.  The key name is the last quoted token of the server message, e.g.
// "Duplicate entry 'a@b.c' for key 'users.uq_users_email'".
func translateDuplicate(err error) error {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
		return err
	}
	msg := strings.ToLower(me.Message)
	key := msg
	if i := strings.LastIndex(msg, "for key"); i >= 0 {
		key = msg[i:]
	}
	switch {
	case strings.Contains(key, "email"):
		return ErrEmailExists
	case strings.Contains(key, "phone"):
		return ErrPhoneExists
	case strings.Contains(key, "handle"):
		return ErrHandleExists
	}
	return ErrDuplicate
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
