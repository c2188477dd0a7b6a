package memory

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// PurchaseRequestStore implements store.PurchaseRequestStore using in-memory storage.
type PurchaseRequestStore struct {
	mu sync.RWMutex

	requests map[string]*models.PurchaseRequest // id -> request
	codes    map[string]string                  // code -> id
}

// NewPurchaseRequestStore creates a new in-memory purchase request store.
func NewPurchaseRequestStore() *PurchaseRequestStore {
	return &PurchaseRequestStore{
		requests: make(map[string]*models.PurchaseRequest),
		codes:    make(map[string]string),
	}
}

// CreatePurchaseRequest stores a new request.
func (s *PurchaseRequestStore) CreatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[pr.ID]; exists {
		return store.ErrAlreadyExists
	}
	if _, exists := s.codes[pr.Code]; exists {
		return store.ErrAlreadyExists
	}
	if pr.Version == 0 {
		pr.Version = 1
	}
	s.requests[pr.ID] = pr.Clone()
	s.codes[pr.Code] = pr.ID
	return nil
}

// GetPurchaseRequest retrieves a request by ID.
func (s *PurchaseRequestStore) GetPurchaseRequest(ctx context.Context, id string) (*models.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pr, ok := s.requests[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return pr.Clone(), nil
}

// ListPurchaseRequests returns matching requests, newest first.
func (s *PurchaseRequestStore) ListPurchaseRequests(ctx context.Context, filter store.PurchaseRequestFilter) ([]*models.PurchaseRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.PurchaseRequest
	for _, pr := range s.requests {
		if filter.Status != "" && pr.Status != filter.Status {
			continue
		}
		if filter.RequesterID != "" && pr.RequesterID != filter.RequesterID {
			continue
		}
		out = append(out, pr.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdatePurchaseRequest replaces a request if its version matches.
func (s *PurchaseRequestStore) UpdatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[pr.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrConflict
	}
	pr.Version = expectedVersion + 1
	s.requests[pr.ID] = pr.Clone()
	return nil
}

// LastPurchaseRequestCode returns the highest issued code.
func (s *PurchaseRequestStore) LastPurchaseRequestCode(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	last := ""
	for code := range s.codes {
		// codes outgrow their zero padding past PR-9999
		if len(code) > len(last) || (len(code) == len(last) && code > last) {
			last = code
		}
	}
	return last, nil
}

// CountPurchaseRequestsByStatus counts requests in any of the given statuses.
func (s *PurchaseRequestStore) CountPurchaseRequestsByStatus(ctx context.Context, statuses ...models.PurchaseStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, pr := range s.requests {
		if slices.Contains(statuses, pr.Status) {
			n++
		}
	}
	return n, nil
}
