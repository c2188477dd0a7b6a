package models

import "time"

// EmployeeStatus is the lifecycle state of an employee profile.
const (
	EmployeeStatusActive   = "active"
	EmployeeStatusInactive = "inactive"
)

// Employee is the profile of an authenticated principal.
// The ID is shared with the identity provider's subject.
type Employee struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Email  string  `json:"email,omitempty"`
	RoleID *string `json:"role_id,omitempty"`

	// RoleName is the legacy free-text role reference, consulted when
	// RoleID is unset or dangling.
	RoleName string `json:"role_name,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsActive reports whether the employee may act in the system.
func (e *Employee) IsActive() bool {
	return e.Status == "" || e.Status == EmployeeStatusActive
}
