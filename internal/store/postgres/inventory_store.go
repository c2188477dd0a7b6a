package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// InventoryStore implements store.InventoryStore using PostgreSQL.
// Stock writes are guarded by the items.version column.
type InventoryStore struct {
	pool *pgxpool.Pool
}

// NewInventoryStore creates a new PostgreSQL-backed inventory store.
func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

const itemColumns = `id, name, barcode, category, unit, stock, threshold, version, created_at, updated_at`

const transactionColumns = `id, item_id, action, quantity, stock_after, actor, reason, created_at`

func scanItem(row pgx.Row) (*models.Item, error) {
	var i models.Item
	if err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Barcode,
		&i.Category,
		&i.Unit,
		&i.Stock,
		&i.Threshold,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &i, nil
}

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	if err := row.Scan(
		&t.ID,
		&t.ItemID,
		&t.Action,
		&t.Quantity,
		&t.StockAfter,
		&t.Actor,
		&t.Reason,
		&t.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// GetItem retrieves an item by ID.
func (s *InventoryStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, itemID))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return item, nil
}

// FindItem resolves a barcode or name in a single ranked query.
func (s *InventoryStore) FindItem(ctx context.Context, code string) (*models.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE barcode = $1
		   OR lower(name) = lower($1)
		   OR name ILIKE '%' || $2 || '%'
		ORDER BY
			CASE
				WHEN barcode = $1 THEN 0
				WHEN lower(name) = lower($1) THEN 1
				ELSE 2
			END,
			lower(name), id
		LIMIT 1
	`
	item, err := scanItem(s.pool.QueryRow(ctx, query, code, escapeLike(code)))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return item, nil
}

// ListItems returns all items ordered by name.
func (s *InventoryStore) ListItems(ctx context.Context) ([]*models.Item, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY lower(name), id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// CreateItem inserts a new item and, when opening is non-nil, its opening
// transaction in the same database transaction.
func (s *InventoryStore) CreateItem(ctx context.Context, item *models.Item, opening *models.Transaction) error {
	if item.ID == "" {
		item.ID = uuid.Must(uuid.NewV7()).String()
	}
	if item.Version == 0 {
		item.Version = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	err = tx.QueryRow(ctx, `
		INSERT INTO items (id, name, barcode, category, unit, stock, threshold, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, item.ID, item.Name, item.Barcode, item.Category, item.Unit, item.Stock, item.Threshold, item.Version).
		Scan(&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create item: %w", mapPostgresError(err))
	}

	if opening != nil {
		if opening.ID == "" {
			opening.ID = uuid.Must(uuid.NewV7()).String()
		}
		opening.ItemID = item.ID
		opening.StockAfter = item.Stock
		if opening.CreatedAt.IsZero() {
			opening.CreatedAt = item.CreatedAt
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO inventory_transactions (`+transactionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, opening.ID, opening.ItemID, opening.Action, opening.Quantity, opening.StockAfter, opening.Actor, opening.Reason, opening.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert opening transaction: %w", mapPostgresError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit item: %w", mapPostgresError(err))
	}
	return nil
}

// versionMiss distinguishes a missing row from a stale version after a
// guarded update matched nothing.
func (s *InventoryStore) versionMiss(ctx context.Context, tx pgx.Tx, itemID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM items WHERE id = $1)`, itemID).Scan(&exists); err != nil {
		return mapPostgresError(err)
	}
	if !exists {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// CommitMovement updates stock and appends the transaction in one database
// transaction.
func (s *InventoryStore) CommitMovement(ctx context.Context, item *models.Item, txn *models.Transaction) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var (
		version   int64
		updatedAt time.Time
	)
	err = tx.QueryRow(ctx, `
		UPDATE items
		SET stock = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at
	`, item.Stock, item.ID, item.Version).Scan(&version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.versionMiss(ctx, tx, item.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update stock: %w", mapPostgresError(err))
	}

	if txn.ID == "" {
		txn.ID = uuid.Must(uuid.NewV7()).String()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = updatedAt
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO inventory_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, txn.ID, txn.ItemID, txn.Action, txn.Quantity, txn.StockAfter, txn.Actor, txn.Reason, txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit movement: %w", mapPostgresError(err))
	}

	item.Version = version
	item.UpdatedAt = updatedAt

	log.Debug().
		Str("item_id", item.ID).
		Str("action", txn.Action).
		Int64("quantity", txn.Quantity).
		Int64("stock", item.Stock).
		Msg("Committed stock movement")

	return nil
}

// UpdateThreshold writes a new threshold guarded by the item version.
func (s *InventoryStore) UpdateThreshold(ctx context.Context, item *models.Item) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", mapPostgresError(err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	err = tx.QueryRow(ctx, `
		UPDATE items
		SET threshold = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
		RETURNING version, updated_at
	`, item.Threshold, item.ID, item.Version).Scan(&item.Version, &item.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.versionMiss(ctx, tx, item.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update threshold: %w", mapPostgresError(err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit threshold: %w", mapPostgresError(err))
	}
	return nil
}

func (s *InventoryStore) queryTransactions(ctx context.Context, query string, args ...any) ([]*models.Transaction, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListTransactions returns an item's transactions, newest first.
func (s *InventoryStore) ListTransactions(ctx context.Context, itemID string) ([]*models.Transaction, error) {
	if _, err := s.GetItem(ctx, itemID); err != nil {
		return nil, err
	}
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE item_id = $1
		ORDER BY created_at DESC, id DESC
	`, itemID)
}

// ListTransactionsSince returns transactions at or after since, oldest first.
func (s *InventoryStore) ListTransactionsSince(ctx context.Context, since time.Time) ([]*models.Transaction, error) {
	return s.queryTransactions(ctx, `
		SELECT `+transactionColumns+`
		FROM inventory_transactions
		WHERE created_at >= $1
		ORDER BY created_at, id
	`, since)
}
