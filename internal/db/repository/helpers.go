// Package repository implements the content store collections on top of the
// memoized SQLite handle in package db.
package repository

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"duckq/internal/domain"
)

func mapDBError(err error, what, key string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound("%s %q not found", what, key)
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return domain.ErrConflict("%s %q already exists", what, key)
	}
	return err
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(d time.Duration) sql.NullInt64 {
	if d <= 0 {
		return sql.NullInt64{}
	}
	// Rounded up: a stored 0 would read back as no TTL.
	ms := (d + time.Millisecond - 1) / time.Millisecond
	return sql.NullInt64{Int64: int64(ms), Valid: true}
}
