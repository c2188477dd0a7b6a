// Package memory provides in-memory implementations of the store interfaces
// for tests and single-process development servers.
package memory

import "github.com/wolfeidau/opsengine/internal/store"

// NewStores returns a fresh, empty set of in-memory stores.
func NewStores() *store.Stores {
	return &store.Stores{
		Roles:            NewRoleStore(),
		Employees:        NewEmployeeStore(),
		Inventory:        NewInventoryStore(),
		PurchaseRequests: NewPurchaseRequestStore(),
		Notifications:    NewNotificationStore(),
		Attendance:       NewAttendanceStore(),
		Close:            func() {},
	}
}

var (
	_ store.RoleStore            = (*RoleStore)(nil)
	_ store.EmployeeStore        = (*EmployeeStore)(nil)
	_ store.InventoryStore       = (*InventoryStore)(nil)
	_ store.PurchaseRequestStore = (*PurchaseRequestStore)(nil)
	_ store.NotificationStore    = (*NotificationStore)(nil)
	_ store.AttendanceStore      = (*AttendanceStore)(nil)
)
