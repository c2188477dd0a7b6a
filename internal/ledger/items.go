package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/auth"
	"github.com/wolfeidau/opsengine/internal/broadcast"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/notify"
	"github.com/wolfeidau/opsengine/internal/store"
	"github.com/wolfeidau/opsengine/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewItem describes an item to register. InitialStock is booked as an IN
// movement, stored together with the item, so the item's transactions
// account for all of its stock.
type NewItem struct {
	Name         string `json:"name"`
	Barcode      string `json:"barcode"`
	Category     string `json:"category,omitempty"`
	Unit         string `json:"unit,omitempty"`
	Threshold    int64  `json:"threshold"`
	InitialStock int64  `json:"initial_stock"`
}

// CreateItem registers a new item.
func (l *Ledger) CreateItem(ctx context.Context, actor *auth.Actor, req NewItem) (*models.Item, error) {
	if err := actor.Require(auth.CapInventoryManage); err != nil {
		return nil, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Barcode = strings.TrimSpace(req.Barcode)
	if req.Name == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "item name is required")
	}
	if req.Barcode == "" {
		return nil, apperr.New(apperr.KindInvalidRequest, "item barcode is required")
	}
	if req.Threshold < 0 || req.InitialStock < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "threshold and initial stock must not be negative")
	}

	item := &models.Item{
		Name:      req.Name,
		Barcode:   req.Barcode,
		Category:  req.Category,
		Unit:      req.Unit,
		Stock:     req.InitialStock,
		Threshold: req.Threshold,
	}
	var opening *models.Transaction
	if req.InitialStock > 0 {
		opening = &models.Transaction{
			ID:         uuid.Must(uuid.NewV7()).String(),
			Action:     models.ActionIn,
			Quantity:   req.InitialStock,
			StockAfter: req.InitialStock,
			Actor:      actor.Name(),
			Reason:     "initial stock",
			CreatedAt:  time.Now().UTC(),
		}
	}
	if err := l.inventory.CreateItem(ctx, item, opening); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, apperr.New(apperr.KindConflict, "barcode %q is already registered", req.Barcode)
		}
		return nil, downstream("create item", err)
	}

	log.Info().
		Str("item_id", item.ID).
		Str("name", item.Name).
		Int64("stock", item.Stock).
		Str("actor", actor.ID()).
		Msg("Item registered")
	l.push.Publish(ctx, broadcast.TopicInventory, broadcast.TopicDashboard)
	return item, nil
}

// SetThreshold changes the low-stock threshold of an item.
func (l *Ledger) SetThreshold(ctx context.Context, actor *auth.Actor, itemID string, threshold int64) (*models.Item, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ledger.SetThreshold", trace.WithAttributes(
		attribute.String("item_id", itemID),
		attribute.Int64("threshold", threshold),
	))
	defer span.End()

	if err := actor.Require(auth.CapInventoryThreshold); err != nil {
		return nil, err
	}
	if threshold < 0 {
		return nil, apperr.New(apperr.KindInvalidRequest, "threshold must not be negative, got %d", threshold)
	}

	unlock := l.locks.Lock(itemID)
	defer unlock()

	item, err := retry(ctx, l.cfg, func() (*models.Item, error) {
		item, err := l.inventory.GetItem(ctx, itemID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, backoff.Permanent(apperr.New(apperr.KindNotFound, "item %s not found", itemID))
			}
			return nil, backoff.Permanent(downstream("get item", err))
		}
		item.Threshold = threshold
		if err := l.inventory.UpdateThreshold(ctx, item); err != nil {
			return nil, l.commitError(ctx, err)
		}
		return item, nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	log.Info().Str("item_id", item.ID).Int64("threshold", threshold).Str("actor", actor.ID()).Msg("Threshold updated")

	notify.Best(ctx, l.notifier,
		"Threshold updated",
		fmt.Sprintf("%s threshold set to %d by %s", item.Name, threshold, actor.Name()),
		models.SeverityInfo,
		map[string]any{"item_id": item.ID, "threshold": threshold},
	)
	l.push.Publish(ctx, broadcast.TopicInventory, broadcast.TopicDashboard)

	return item, nil
}

// Items lists every item ordered by name.
func (l *Ledger) Items(ctx context.Context, actor *auth.Actor) ([]*models.Item, error) {
	if err := actor.Require(auth.CapInventoryView); err != nil {
		return nil, err
	}
	items, err := l.inventory.ListItems(ctx)
	if err != nil {
		return nil, downstream("list items", err)
	}
	return items, nil
}

// Transactions lists an item's movements, newest first.
func (l *Ledger) Transactions(ctx context.Context, actor *auth.Actor, itemID string) ([]*models.Transaction, error) {
	if err := actor.Require(auth.CapInventoryView); err != nil {
		return nil, err
	}
	txns, err := l.inventory.ListTransactions(ctx, itemID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "item %s not found", itemID)
		}
		return nil, downstream("list transactions", err)
	}
	return txns, nil
}
