package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrInsufficientBalance is returned when a bonus change would drive a balance negative.
	ErrInsufficientBalance = errors.New("repository: insufficient bonus balance")
	// ErrConflict is returned on unique constraint violations.
	ErrConflict = errors.New("repository: conflict")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23514"
}
