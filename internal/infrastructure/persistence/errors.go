package persistence

import (
	"errors"
	"fmt"

	"github.com/farmerp/backend/internal/domain/shared"
	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes that mean "another transaction holds what we need"
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
)

// translateTxError maps lock-wait and deadlock failures to
// shared.ErrConcurrencyConflict, keeping the driver error in the chain.
func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("%w: %w", shared.ErrConcurrencyConflict, err)
		}
	}
	return err
}
