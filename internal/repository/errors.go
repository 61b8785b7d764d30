// Package repository provides database access for domain entities.
package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePeriod is returned when an expense already exists for a
	// subscription period. The unique constraint on
	// (subscription_id, generated_for_period) is the source of truth.
	ErrDuplicatePeriod = errors.New("expense already exists for subscription period")

	// ErrScheduleMoved is returned when a compare-and-set advance finds the
	// subscription's next billing date no longer at the expected period.
	ErrScheduleMoved = errors.New("subscription schedule moved")
)

const pgUniqueViolation = "23505"

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgUniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
