package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert or update violates a unique
// constraint (email or cpf).
var ErrDuplicate = errors.New("duplicate record")

// pqUniqueViolation is the Postgres error code for unique_violation.
const pqUniqueViolation = "23505"

func mapUniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return ErrDuplicate
	}
	return err
}
