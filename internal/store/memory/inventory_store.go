package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// InventoryStore implements store.InventoryStore using in-memory storage.
// Each item carries a version which CommitMovement and UpdateThreshold
// compare before writing.
type InventoryStore struct {
	mu sync.RWMutex

	items        map[string]*models.Item // item_id -> Item
	itemsByCode  map[string]string       // barcode -> item_id
	transactions []*models.Transaction   // append-only, in commit order
}

// NewInventoryStore creates a new in-memory inventory store.
func NewInventoryStore() *InventoryStore {
	return &InventoryStore{
		items:       make(map[string]*models.Item),
		itemsByCode: make(map[string]string),
	}
}

// GetItem retrieves an item by ID.
func (s *InventoryStore) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *item
	return &clone, nil
}

// FindItem resolves a barcode or name to an item.
func (s *InventoryStore) FindItem(ctx context.Context, code string) (*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.itemsByCode[code]; ok {
		clone := *s.items[id]
		return &clone, nil
	}

	needle := strings.ToLower(code)
	var partial *models.Item
	for _, item := range s.sortedByName() {
		name := strings.ToLower(item.Name)
		if name == needle {
			clone := *item
			return &clone, nil
		}
		if partial == nil && strings.Contains(name, needle) {
			partial = item
		}
	}
	if partial == nil {
		return nil, store.ErrNotFound
	}
	clone := *partial
	return &clone, nil
}

// sortedByName must be called with the lock held.
func (s *InventoryStore) sortedByName() []*models.Item {
	items := make([]*models.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := strings.ToLower(items[i].Name), strings.ToLower(items[j].Name)
		if a == b {
			return items[i].ID < items[j].ID
		}
		return a < b
	})
	return items
}

// ListItems returns all items ordered by name.
func (s *InventoryStore) ListItems(ctx context.Context) ([]*models.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := s.sortedByName()
	out := make([]*models.Item, 0, len(sorted))
	for _, item := range sorted {
		clone := *item
		out = append(out, &clone)
	}
	return out, nil
}

// CreateItem stores a new item and its optional opening transaction under
// one lock. The barcode must be unique.
func (s *InventoryStore) CreateItem(ctx context.Context, item *models.Item, opening *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		item.ID = uuid.Must(uuid.NewV7()).String()
	}
	if _, exists := s.items[item.ID]; exists {
		return store.ErrAlreadyExists
	}
	if item.Barcode != "" {
		if _, exists := s.itemsByCode[item.Barcode]; exists {
			return store.ErrAlreadyExists
		}
	}

	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Version == 0 {
		item.Version = 1
	}

	clone := *item
	s.items[item.ID] = &clone
	if item.Barcode != "" {
		s.itemsByCode[item.Barcode] = item.ID
	}

	if opening != nil {
		if opening.ID == "" {
			opening.ID = uuid.Must(uuid.NewV7()).String()
		}
		opening.ItemID = item.ID
		opening.StockAfter = item.Stock
		if opening.CreatedAt.IsZero() {
			opening.CreatedAt = now
		}
		t := *opening
		s.transactions = append(s.transactions, &t)
	}
	return nil
}

// CommitMovement writes the new stock and appends the transaction.
func (s *InventoryStore) CommitMovement(ctx context.Context, item *models.Item, txn *models.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != item.Version {
		return store.ErrConflict
	}

	now := time.Now()
	item.Version++
	item.UpdatedAt = now
	current.Stock = item.Stock
	current.Version = item.Version
	current.UpdatedAt = now

	if txn.ID == "" {
		txn.ID = uuid.Must(uuid.NewV7()).String()
	}
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	t := *txn
	s.transactions = append(s.transactions, &t)

	log.Debug().
		Str("item_id", item.ID).
		Str("action", txn.Action).
		Int64("quantity", txn.Quantity).
		Int64("stock", item.Stock).
		Msg("Committed stock movement")

	return nil
}

// UpdateThreshold writes the item's threshold.
func (s *InventoryStore) UpdateThreshold(ctx context.Context, item *models.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != item.Version {
		return store.ErrConflict
	}

	item.Version++
	item.UpdatedAt = time.Now()
	current.Threshold = item.Threshold
	current.Version = item.Version
	current.UpdatedAt = item.UpdatedAt
	return nil
}

// ListTransactions returns an item's transactions, newest first.
func (s *InventoryStore) ListTransactions(ctx context.Context, itemID string) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.items[itemID]; !ok {
		return nil, store.ErrNotFound
	}

	var out []*models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].ItemID == itemID {
			t := *s.transactions[i]
			out = append(out, &t)
		}
	}
	return out, nil
}

// ListTransactionsSince returns transactions created at or after since,
// oldest first.
func (s *InventoryStore) ListTransactionsSince(ctx context.Context, since time.Time) ([]*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Transaction
	for _, txn := range s.transactions {
		if !txn.CreatedAt.Before(since) {
			t := *txn
			out = append(out, &t)
		}
	}
	return out, nil
}
