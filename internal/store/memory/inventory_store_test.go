package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

func seedItems(t *testing.T, st *InventoryStore) {
	t.Helper()
	ctx := context.Background()
	for _, item := range []*models.Item{
		{ID: "item-1", Name: "Blue Pens", Barcode: "8991001", Stock: 10, Threshold: 2},
		{ID: "item-2", Name: "Pen Refills", Barcode: "8991002", Stock: 4, Threshold: 5},
		{ID: "item-3", Name: "Stapler", Barcode: "8991003", Stock: 1, Threshold: 0},
	} {
		require.NoError(t, st.CreateItem(ctx, item, nil))
	}
}

func TestInventoryStore_FindItem(t *testing.T) {
	st := NewInventoryStore()
	seedItems(t, st)
	ctx := context.Background()

	tests := []struct {
		name     string
		code     string
		expected string
	}{
		{name: "exact barcode", code: "8991003", expected: "item-3"},
		{name: "exact name ignoring case", code: "stapler", expected: "item-3"},
		{name: "exact name wins over substring", code: "pen refills", expected: "item-2"},
		{name: "substring picks first by name", code: "pen", expected: "item-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item, err := st.FindItem(ctx, tt.code)
			require.NoError(t, err)
			require.Equal(t, tt.expected, item.ID)
		})
	}

	t.Run("no match", func(t *testing.T) {
		_, err := st.FindItem(ctx, "toner")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestInventoryStore_CreateItem(t *testing.T) {
	st := NewInventoryStore()
	seedItems(t, st)

	err := st.CreateItem(context.Background(), &models.Item{Name: "Dup", Barcode: "8991001"}, nil)
	require.ErrorIs(t, err, store.ErrAlreadyExists)

	item := &models.Item{Name: "Tape", Barcode: "8991009"}
	require.NoError(t, st.CreateItem(context.Background(), item, nil))
	require.NotEmpty(t, item.ID)
	require.Equal(t, int64(1), item.Version)
}

func TestInventoryStore_CreateItemWithOpening(t *testing.T) {
	ctx := context.Background()
	st := NewInventoryStore()
	seedItems(t, st)

	item := &models.Item{Name: "Glue", Barcode: "8991010", Stock: 6}
	opening := &models.Transaction{Action: models.ActionIn, Quantity: 6, Actor: "u1", Reason: "initial stock"}
	require.NoError(t, st.CreateItem(ctx, item, opening))
	require.Equal(t, item.ID, opening.ItemID)

	txns, err := st.ListTransactions(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, int64(6), txns[0].StockAfter)

	// A duplicate barcode records neither the item nor its opening movement.
	err = st.CreateItem(ctx, &models.Item{ID: "item-dup", Name: "Glue 2", Barcode: "8991010", Stock: 3},
		&models.Transaction{Action: models.ActionIn, Quantity: 3, Actor: "u1"})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
	_, err = st.ListTransactions(ctx, "item-dup")
	require.ErrorIs(t, err, store.ErrNotFound)

	since, err := st.ListTransactionsSince(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, since, 1)
}

func TestInventoryStore_FindItemOrdersIgnoringCase(t *testing.T) {
	ctx := context.Background()
	st := NewInventoryStore()
	require.NoError(t, st.CreateItem(ctx, &models.Item{ID: "b", Name: "Apple crate", Barcode: "A-2"}, nil))
	require.NoError(t, st.CreateItem(ctx, &models.Item{ID: "a", Name: "apple Box", Barcode: "A-1"}, nil))

	item, err := st.FindItem(ctx, "pple")
	require.NoError(t, err)
	require.Equal(t, "a", item.ID)

	items, err := st.ListItems(ctx)
	require.NoError(t, err)
	require.Equal(t, "apple Box", items[0].Name)
	require.Equal(t, "Apple crate", items[1].Name)
}

func TestInventoryStore_CommitMovement(t *testing.T) {
	ctx := context.Background()

	t.Run("writes stock and appends transaction", func(t *testing.T) {
		st := NewInventoryStore()
		seedItems(t, st)

		item, err := st.GetItem(ctx, "item-1")
		require.NoError(t, err)
		item.Stock = 7

		txn := &models.Transaction{ItemID: item.ID, Action: models.ActionOut, Quantity: 3, StockAfter: 7, Actor: "u1"}
		require.NoError(t, st.CommitMovement(ctx, item, txn))
		require.Equal(t, int64(2), item.Version)
		require.NotEmpty(t, txn.ID)

		stored, err := st.GetItem(ctx, "item-1")
		require.NoError(t, err)
		require.Equal(t, int64(7), stored.Stock)

		txns, err := st.ListTransactions(ctx, "item-1")
		require.NoError(t, err)
		require.Len(t, txns, 1)
		require.Equal(t, int64(-3), txns[0].Signed())
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		st := NewInventoryStore()
		seedItems(t, st)

		first, err := st.GetItem(ctx, "item-1")
		require.NoError(t, err)
		second, err := st.GetItem(ctx, "item-1")
		require.NoError(t, err)

		first.Stock = 11
		require.NoError(t, st.CommitMovement(ctx, first, &models.Transaction{ItemID: "item-1", Action: models.ActionIn, Quantity: 1}))

		second.Stock = 12
		err = st.CommitMovement(ctx, second, &models.Transaction{ItemID: "item-1", Action: models.ActionIn, Quantity: 2})
		require.ErrorIs(t, err, store.ErrConflict)

		stored, err := st.GetItem(ctx, "item-1")
		require.NoError(t, err)
		require.Equal(t, int64(11), stored.Stock)

		txns, err := st.ListTransactions(ctx, "item-1")
		require.NoError(t, err)
		require.Len(t, txns, 1)
	})

	t.Run("unknown item", func(t *testing.T) {
		st := NewInventoryStore()
		err := st.CommitMovement(ctx, &models.Item{ID: "missing"}, &models.Transaction{})
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestInventoryStore_ListTransactionsSince(t *testing.T) {
	ctx := context.Background()
	st := NewInventoryStore()
	seedItems(t, st)

	item, err := st.GetItem(ctx, "item-2")
	require.NoError(t, err)
	item.Stock = 5
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, st.CommitMovement(ctx, item, &models.Transaction{ItemID: item.ID, Action: models.ActionIn, Quantity: 1, CreatedAt: old}))
	item.Stock = 6
	require.NoError(t, st.CommitMovement(ctx, item, &models.Transaction{ItemID: item.ID, Action: models.ActionIn, Quantity: 1}))

	txns, err := st.ListTransactionsSince(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, txns, 1)
}
