package store

import (
	"context"
	"errors"
	"time"

	"github.com/wolfeidau/opsengine/internal/models"
)

// Sentinel errors for common error conditions
var (
	ErrNotFound      = errors.New("record not found")
	ErrConflict      = errors.New("record version conflict")
	ErrAlreadyExists = errors.New("record already exists")
)

// RoleStore defines the interface for role catalog storage.
type RoleStore interface {
	ListRoles(ctx context.Context) ([]*models.Role, error)
	GetRole(ctx context.Context, roleID string) (*models.Role, error)
	// UpsertRole creates the role or replaces it by ID.
	UpsertRole(ctx context.Context, role *models.Role) error
}

// EmployeeStore defines the interface for employee profile storage.
type EmployeeStore interface {
	GetEmployee(ctx context.Context, employeeID string) (*models.Employee, error)
	// CreateEmployee returns ErrAlreadyExists when the ID is taken, which
	// callers provisioning on first login treat as a lost race.
	CreateEmployee(ctx context.Context, employee *models.Employee) error
	ListEmployees(ctx context.Context) ([]*models.Employee, error)
}

// InventoryStore defines the interface for item and transaction storage.
type InventoryStore interface {
	GetItem(ctx context.Context, itemID string) (*models.Item, error)
	// FindItem resolves a code by exact barcode, then case-insensitive exact
	// name, then the first case-insensitive substring match ordered by
	// lowercased name and ID.
	FindItem(ctx context.Context, code string) (*models.Item, error)
	ListItems(ctx context.Context) ([]*models.Item, error)
	// CreateItem inserts item. A non-nil opening transaction is recorded
	// together with the item, or not at all.
	CreateItem(ctx context.Context, item *models.Item, opening *models.Transaction) error

	// CommitMovement writes item.Stock and appends txn atomically. The write
	// only happens when the stored version still equals item.Version,
	// otherwise ErrConflict is returned and nothing changes. On success
	// item.Version is advanced.
	CommitMovement(ctx context.Context, item *models.Item, txn *models.Transaction) error
	// UpdateThreshold follows the same version contract as CommitMovement.
	UpdateThreshold(ctx context.Context, item *models.Item) error

	ListTransactions(ctx context.Context, itemID string) ([]*models.Transaction, error)
	ListTransactionsSince(ctx context.Context, since time.Time) ([]*models.Transaction, error)
}

// PurchaseRequestFilter narrows a purchase request listing.
type PurchaseRequestFilter struct {
	Status      models.PurchaseStatus
	RequesterID string
}

// PurchaseRequestStore defines the interface for purchase request storage.
type PurchaseRequestStore interface {
	// CreatePurchaseRequest returns ErrAlreadyExists when the code is taken.
	CreatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest) error
	GetPurchaseRequest(ctx context.Context, id string) (*models.PurchaseRequest, error)
	ListPurchaseRequests(ctx context.Context, filter PurchaseRequestFilter) ([]*models.PurchaseRequest, error)
	// UpdatePurchaseRequest replaces the request when the stored version equals
	// expectedVersion and returns ErrConflict otherwise.
	UpdatePurchaseRequest(ctx context.Context, pr *models.PurchaseRequest, expectedVersion int64) error
	// LastPurchaseRequestCode returns the highest code issued so far, or ""
	// when no request exists.
	LastPurchaseRequestCode(ctx context.Context) (string, error)
	CountPurchaseRequestsByStatus(ctx context.Context, statuses ...models.PurchaseStatus) (int, error)
}

// NotificationStore defines the interface for notification storage.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	// ListNotifications returns the newest notifications first.
	ListNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	// MarkNotificationRead returns ErrNotFound for an unknown ID.
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) (int, error)
	CountUnreadNotifications(ctx context.Context) (int, error)
}

// AttendanceStore defines the interface for attendance storage.
type AttendanceStore interface {
	// RecordAttendance inserts or replaces the record for (EmployeeID, Day).
	RecordAttendance(ctx context.Context, rec *models.AttendanceRecord) error
	ListAttendance(ctx context.Context, day time.Time) ([]*models.AttendanceRecord, error)
}

// Stores groups every store the engine depends on.
type Stores struct {
	Roles            RoleStore
	Employees        EmployeeStore
	Inventory        InventoryStore
	PurchaseRequests PurchaseRequestStore
	Notifications    NotificationStore
	Attendance       AttendanceStore

	// Close releases backing resources, may be nil.
	Close func()
}
