package models

import "time"

// Movement actions recorded by the ledger.
const (
	ActionIn  = "IN"
	ActionOut = "OUT"
)

// Item is a stocked inventory item. Stock is only changed by the ledger.
type Item struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Barcode   string    `json:"barcode"`
	Category  string    `json:"category,omitempty"`
	Unit      string    `json:"unit,omitempty"`
	Stock     int64     `json:"stock"`
	Threshold int64     `json:"threshold"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsLowStock reports whether stock has fallen to or below the threshold.
func (i *Item) IsLowStock() bool {
	return i.Stock <= i.Threshold
}

// Transaction is an immutable record of a single stock movement.
type Transaction struct {
	ID         string    `json:"id"`
	ItemID     string    `json:"item_id"`
	Action     string    `json:"action"`
	Quantity   int64     `json:"quantity"`
	StockAfter int64     `json:"stock_after"`
	Actor      string    `json:"actor"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Signed returns the quantity with the sign of its action.
func (t *Transaction) Signed() int64 {
	if t.Action == ActionOut {
		return -t.Quantity
	}
	return t.Quantity
}
