package models

import "time"

// Role groups the capabilities granted to every employee assigned to it.
// A FullAccess role implies every capability and cannot be edited.
type Role struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	FullAccess   bool            `json:"full_access"`
	IsDefault    bool            `json:"is_default"` // assigned to auto-provisioned employees
	Capabilities map[string]bool `json:"capabilities"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can't mutate stored state.
func (r *Role) Clone() *Role {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Capabilities = make(map[string]bool, len(r.Capabilities))
	for k, v := range r.Capabilities {
		clone.Capabilities[k] = v
	}
	return &clone
}
