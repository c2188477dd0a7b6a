package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

func newRequest(id, code string) *models.PurchaseRequest {
	return &models.PurchaseRequest{
		ID:          id,
		Code:        code,
		RequesterID: "emp-1",
		Items:       []models.LineItem{{Name: "Paper", Quantity: 5}},
		Status:      models.PurchaseStatusPendingSupervisor,
		CreatedAt:   time.Now(),
	}
}

func TestPurchaseRequestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("duplicate code is rejected", func(t *testing.T) {
		st := NewPurchaseRequestStore()
		require.NoError(t, st.CreatePurchaseRequest(ctx, newRequest("a", "PR-0001")))
		err := st.CreatePurchaseRequest(ctx, newRequest("b", "PR-0001"))
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("last code", func(t *testing.T) {
		st := NewPurchaseRequestStore()
		last, err := st.LastPurchaseRequestCode(ctx)
		require.NoError(t, err)
		require.Empty(t, last)

		require.NoError(t, st.CreatePurchaseRequest(ctx, newRequest("a", "PR-0009")))
		require.NoError(t, st.CreatePurchaseRequest(ctx, newRequest("b", "PR-0010")))
		last, err = st.LastPurchaseRequestCode(ctx)
		require.NoError(t, err)
		require.Equal(t, "PR-0010", last)
	})

	t.Run("update checks version", func(t *testing.T) {
		st := NewPurchaseRequestStore()
		require.NoError(t, st.CreatePurchaseRequest(ctx, newRequest("a", "PR-0001")))

		pr, err := st.GetPurchaseRequest(ctx, "a")
		require.NoError(t, err)
		pr.Status = models.PurchaseStatusPendingExecutive
		require.NoError(t, st.UpdatePurchaseRequest(ctx, pr, 1))
		require.Equal(t, int64(2), pr.Version)

		err = st.UpdatePurchaseRequest(ctx, pr, 1)
		require.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("stored copy is isolated", func(t *testing.T) {
		st := NewPurchaseRequestStore()
		pr := newRequest("a", "PR-0001")
		require.NoError(t, st.CreatePurchaseRequest(ctx, pr))
		pr.Items[0].Name = "changed"

		got, err := st.GetPurchaseRequest(ctx, "a")
		require.NoError(t, err)
		require.Equal(t, "Paper", got.Items[0].Name)
	})

	t.Run("filter and count", func(t *testing.T) {
		st := NewPurchaseRequestStore()
		approved := newRequest("b", "PR-0002")
		approved.Status = models.PurchaseStatusApproved
		require.NoError(t, st.CreatePurchaseRequest(ctx, newRequest("a", "PR-0001")))
		require.NoError(t, st.CreatePurchaseRequest(ctx, approved))

		list, err := st.ListPurchaseRequests(ctx, store.PurchaseRequestFilter{Status: models.PurchaseStatusApproved})
		require.NoError(t, err)
		require.Len(t, list, 1)
		require.Equal(t, "b", list[0].ID)

		n, err := st.CountPurchaseRequestsByStatus(ctx, models.PurchaseStatusPendingSupervisor, models.PurchaseStatusPendingExecutive)
		require.NoError(t, err)
		require.Equal(t, 1, n)
	})
}
