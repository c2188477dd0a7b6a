// Package ledger owns inventory items and their movement transactions.
//
// Stock for an item always equals its initial stock plus the signed sum of
// its transactions, and never drops below zero. Movements on one item are
// serialized in-process by a keyed mutex, and across processes by the
// store's version check; a lost version race is re-read and retried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/fanout"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"github.com/wolfeidau/opsengine/internal/util"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Config configures a Ledger.
type Config struct {
	// MaxAttempts bounds commits retried after a version conflict. Default: 5
	MaxAttempts uint
	// RetryInitialInterval is the first conflict backoff. Default: 10ms
	RetryInitialInterval time.Duration
}

// Ledger applies stock movements.
type Ledger struct {
	inventory store.InventoryStore
	notifier  notify.Notifier
	push      fanout.Pusher
	locks     *util.KeyedMutex
	cfg       Config
}

// New creates a ledger. notifier may be nil, in which case no low-stock
// notifications are created.
func New(inventory store.InventoryStore, notifier notify.Notifier, push fanout.Pusher, cfg Config) *Ledger {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 10 * time.Millisecond
	}
	return &Ledger{
		inventory: inventory,
		notifier:  notifier,
		push:      push,
		locks:     util.NewKeyedMutex(),
		cfg:       cfg,
	}
}

// ApplyRequest is one stock movement. Code is a barcode or an item name.
type ApplyRequest struct {
	Code     string `json:"code"`
	Action   string `json:"action"`
	Quantity int64  `json:"quantity"`
	Reason   string `json:"reason,omitempty"`
}

// ApplyResult is the committed movement.
type ApplyResult struct {
	Item        *models.Item        `json:"item"`
	Transaction *models.Transaction `json:"transaction"`
}

func (r *ApplyRequest) normalize() error {
	r.Code = strings.TrimSpace(r.Code)
	r.Action = strings.ToUpper(strings.TrimSpace(r.Action))

	if r.Code == "" {
		return apperr.New(apperr.KindInvalidRequest, "item code is required")
	}
	if r.Action != models.ActionIn && r.Action != models.ActionOut {
		return apperr.New(apperr.KindInvalidRequest, "action must be IN or OUT, got %q", r.Action)
	}
	if r.Quantity <= 0 {
		return apperr.New(apperr.KindInvalidRequest, "quantity must be positive, got %d", r.Quantity)
	}
	return nil
}

// Apply resolves the item and commits the movement. An OUT that would take
// stock below zero fails with InsufficientStock and changes nothing.
func (l *Ledger) Apply(ctx context.Context, actor *auth.Actor, req ApplyRequest) (*ApplyResult, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ledger.Apply", trace.WithAttributes(
		attribute.String("code", req.Code),
		attribute.String("action", req.Action),
		attribute.Int64("quantity", req.Quantity),
	))
	defer span.End()

	if err := actor.Require(auth.CapInventoryManage); err != nil {
		return nil, err
	}
	if err := req.normalize(); err != nil {
		l.rejected(ctx, "invalid_request")
		return nil, err
	}

	item, err := l.inventory.FindItem(ctx, req.Code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			l.rejected(ctx, "not_found")
			return nil, apperr.New(apperr.KindNotFound, "item %q not found", req.Code)
		}
		return nil, downstream("find item", err)
	}
	span.SetAttributes(attribute.String("item_id", item.ID))

	result, err := l.commit(ctx, item.ID, actor, req)
	if err != nil {
		switch {
		case errors.Is(err, apperr.InsufficientStock):
			l.rejected(ctx, "insufficient_stock")
		case errors.Is(err, apperr.InvalidRequest):
			l.rejected(ctx, "invalid_request")
		}
		span.RecordError(err)
		return nil, err
	}

	telemetry.GetMetrics().LedgerAppliesTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("action", req.Action)))
	log.Info().
		Str("item_id", result.Item.ID).
		Str("action", req.Action).
		Int64("quantity", req.Quantity).
		Int64("stock", result.Item.Stock).
		Str("actor", actor.ID()).
		Msg("Stock movement applied")

	if result.Item.IsLowStock() {
		l.lowStock(ctx, result.Item)
	}
	l.push.Publish(ctx, broadcast.TopicInventory, broadcast.TopicDashboard)

	return result, nil
}

func (l *Ledger) commit(ctx context.Context, itemID string, actor *auth.Actor, req ApplyRequest) (*ApplyResult, error) {
	unlock := l.locks.Lock(itemID)
	defer unlock()

	return retry(ctx, l.cfg, func() (*ApplyResult, error) {
		item, err := l.inventory.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, backoff.Permanent(apperr.New(apperr.KindNotFound, "item %s not found", itemID))
			}
			return nil, backoff.Permanent(downstream("get item", err))
		}

		if req.Action == models.ActionIn && req.Quantity > math.MaxInt64-item.Stock {
			return nil, backoff.Permanent(apperr.New(apperr.KindInvalidRequest,
				"quantity out of range for %s: have %d, adding %d exceeds the maximum stock", item.Name, item.Stock, req.Quantity))
		}

		newStock := item.Stock + req.Quantity
		if req.Action == models.ActionOut {
			newStock = item.Stock - req.Quantity
		}
		if newStock < 0 {
			return nil, backoff.Permanent(apperr.New(apperr.KindInsufficientStock,
				"insufficient stock for %s: have %d, requested %d", item.Name, item.Stock, req.Quantity))
		}

		item.Stock = newStock
		txn := &models.Transaction{
			ID:         uuid.Must(uuid.NewV7()).String(),
			ItemID:     item.ID,
			Action:     req.Action,
			Quantity:   req.Quantity,
			StockAfter: newStock,
			Actor:      actor.Name(),
			Reason:     req.Reason,
			CreatedAt:  time.Now().UTC(),
		}
		if err := l.inventory.CommitMovement(ctx, item, txn); err != nil {
			return nil, l.commitError(ctx, err)
		}
		return &ApplyResult{Item: item, Transaction: txn}, nil
	})
}

// commitError keeps version conflicts retryable and makes everything else
// permanent.
func (l *Ledger) commitError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, store.ErrConflict):
		telemetry.GetMetrics().LedgerConflictRetries.Add(ctx, 1)
		return err
	case errors.Is(err, store.ErrNotFound):
		return backoff.Permanent(apperr.New(apperr.KindNotFound, "item not found"))
	default:
		return backoff.Permanent(downstream("commit", err))
	}
}

func retry[T any](ctx context.Context, cfg Config, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.RetryInitialInterval

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(cfg.MaxAttempts),
	)
	if err != nil {
		var zero T
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
		if errors.Is(err, store.ErrConflict) {
			return zero, apperr.New(apperr.KindConflict, "item changed concurrently, gave up after %d attempts", cfg.MaxAttempts)
		}
		return zero, err
	}
	return res, nil
}

func (l *Ledger) lowStock(ctx context.Context, item *models.Item) {
	telemetry.GetMetrics().LowStockAlertsTotal.Add(ctx, 1)
	notify.Best(ctx, l.notifier,
		"Low stock",
		fmt.Sprintf("%s is at %d (threshold %d)", item.Name, item.Stock, item.Threshold),
		models.SeverityWarning,
		map[string]any{"item_id": item.ID, "stock": item.Stock, "threshold": item.Threshold},
	)
}

func (l *Ledger) rejected(ctx context.Context, reason string) {
	telemetry.GetMetrics().LedgerRejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func downstream(op string, err error) error {
	return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to %s: %w", op, err))
}
