package pgstore

import (
	"errors"
	"fmt"

	"github.com/emilixs/Aicouncil/pkg/blackboard"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres SQLSTATE codes the store translates.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// mapError translates a driver failure into the blackboard error taxonomy.
func mapError(action string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", action, blackboard.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w", action, blackboard.ErrConflict)
		case foreignKeyViolation:
			return fmt.Errorf("%s: %w", action, blackboard.ErrNotFound)
		}
	}

	return fmt.Errorf("failed to %s: %w: %w", action, blackboard.ErrUnavailable, err)
}

// isMapped reports whether err already carries a taxonomy sentinel.
func isMapped(err error) bool {
	return errors.Is(err, blackboard.ErrNotFound) ||
		errors.Is(err, blackboard.ErrConflict) ||
		errors.Is(err, blackboard.ErrUnavailable)
}

// isUUID guards id columns: a malformed id cannot match a row and would
// otherwise fail the query with a cast error.
func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
