package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/wolfeidau/opsengine/internal/store"
)

// stockConstraints guard non-negative stock. Hitting one means another
// movement committed first, so it is reported as a version conflict and
// the ledger re-reads before deciding.
var stockConstraints = map[string]bool{
	"items_stock_check":              true,
	"transactions_stock_after_check": true,
}

// mapPostgresError translates driver errors into store sentinels. Errors it
// does not recognise keep the PostgreSQL code and message.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch {
	case pgErr.Code == pgerrcode.UniqueViolation:
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, pgErr.ConstraintName)
	case pgErr.Code == pgerrcode.ForeignKeyViolation:
		return fmt.Errorf("%w: %s", store.ErrNotFound, pgErr.Detail)
	case pgErr.Code == pgerrcode.CheckViolation && stockConstraints[pgErr.ConstraintName]:
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.ConstraintName)
	case pgerrcode.IsTransactionRollback(pgErr.Code):
		// serialization failures and deadlocks are safe to retry
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case pgerrcode.IsConnectionException(pgErr.Code), pgerrcode.IsOperatorIntervention(pgErr.Code):
		return fmt.Errorf("database unavailable [%s]: %w", pgErr.Code, err)
	case pgerrcode.IsInsufficientResources(pgErr.Code):
		return fmt.Errorf("database resource limit [%s]: %w", pgErr.Code, err)
	}

	return fmt.Errorf("postgres error [%s]: %s: %w", pgErr.Code, pgErr.Message, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
