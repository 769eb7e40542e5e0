package repo

import (
	"database/sql"
	"errors"
)

// Repo is the persistence layer over database/sql. Methods that take a *sql.Tx
// participate in the caller's atomic unit; the rest read committed state.
type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func nullableFloatPtr(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
