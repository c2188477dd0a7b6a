package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// PurchaseRequestStore implements store.PurchaseRequestStore using PostgreSQL.
// Line items, approvals and history are stored as JSONB documents.
type PurchaseRequestStore struct {
	pool *pgxpool.Pool
}

// NewPurchaseRequestStore creates a new PostgreSQL-backed purchase request store.
func NewPurchaseRequestStore(pool *pgxpool.Pool) *PurchaseRequestStore {
	return &PurchaseRequestStore{pool: pool}
}

const purchaseRequestColumns = `id, code, requester_id, requester_name, items, reason, needed_by,
	status, approvals, history, version, created_at, updated_at`

func scanPurchaseRequest(row pgx.Row) (*models.PurchaseRequest, error) {
	var pr models.PurchaseRequest
	if err := row.Scan(
		&pr.ID,
		&pr.Code,
		&pr.RequesterID,
		&pr.RequesterName,
		&pr.Items,
		&pr.Reason,
		&pr.NeededBy,
		&pr.Status,
		&pr.Approvals,
		&pr.History,
		&pr.Version,
		&pr.CreatedAt,
		&pr.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &pr, nil
}

// CreatePurchaseRequest inserts a new request.
func (s *PurchaseRequestStore) CreatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest) error {
	if pr.Version == 0 {
		pr.Version = 1
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO purchase_requests (`+purchaseRequestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		pr.ID,
		pr.Code,
		pr.RequesterID,
		pr.RequesterName,
		pr.Items,
		pr.Reason,
		pr.NeededBy,
		pr.Status,
		pr.Approvals,
		pr.History,
		pr.Version,
		pr.CreatedAt,
		pr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create purchase request: %w", mapPostgresError(err))
	}

	log.Debug().Str("id", pr.ID).Str("code", pr.Code).Msg("Created purchase request")
	return nil
}

// GetPurchaseRequest retrieves a request by ID.
func (s *PurchaseRequestStore) GetPurchaseRequest(ctx context.Context, id string) (*models.PurchaseRequest, error) {
	pr, err := scanPurchaseRequest(s.pool.QueryRow(ctx, `SELECT `+purchaseRequestColumns+` FROM purchase_requests WHERE id = $1`, id))
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return pr, nil
}

// ListPurchaseRequests returns matching requests, newest first.
func (s *PurchaseRequestStore) ListPurchaseRequests(ctx context.Context, filter store.PurchaseRequestFilter) ([]*models.PurchaseRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		where = append(where, fmt.Sprintf("requester_id = $%d", len(args)))
	}

	query := `SELECT ` + purchaseRequestColumns + ` FROM purchase_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchase requests: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var out []*models.PurchaseRequest
	for rows.Next() {
		pr, err := scanPurchaseRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase request: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// UpdatePurchaseRequest replaces the mutable fields when the version matches.
func (s *PurchaseRequestStore) UpdatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE purchase_requests
		SET status = $1, approvals = $2, history = $3, updated_at = $4, version = version + 1
		WHERE id = $5 AND version = $6
	`, pr.Status, pr.Approvals, pr.History, pr.UpdatedAt, pr.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update purchase request: %w", mapPostgresError(err))
	}

	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM purchase_requests WHERE id = $1)`, pr.ID).Scan(&exists); err != nil {
			return mapPostgresError(err)
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}

	pr.Version = expectedVersion + 1
	return nil
}

// LastPurchaseRequestCode returns the highest issued code.
func (s *PurchaseRequestStore) LastPurchaseRequestCode(ctx context.Context) (string, error) {
	var code string
	err := s.pool.QueryRow(ctx, `
		SELECT code FROM purchase_requests
		ORDER BY length(code) DESC, code DESC
		LIMIT 1
	`).Scan(&code)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read last code: %w", mapPostgresError(err))
	}
	return code, nil
}

// CountPurchaseRequestsByStatus counts requests in any of the given statuses.
func (s *PurchaseRequestStore) CountPurchaseRequestsByStatus(ctx context.Context, statuses ...models.PurchaseStatus) (int, error) {
	values := make([]string, len(statuses))
	for i, st := range statuses {
		values[i] = string(st)
	}

	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM purchase_requests WHERE status = ANY($1)`, values).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count purchase requests: %w", mapPostgresError(err))
	}
	return n, nil
}
