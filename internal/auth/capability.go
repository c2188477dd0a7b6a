package auth

import (
	"fmt"
	"slices"

	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/models"
)

// Capability is a named permission in resource:action form.
type Capability string

const (
	CapDashboardView      Capability = "dashboard:view"
	CapInventoryView      Capability = "inventory:view"
	CapInventoryManage    Capability = "inventory:manage"
	CapInventoryThreshold Capability = "inventory:threshold"
	CapAttendanceView     Capability = "attendance:view"
	CapAttendanceManage   Capability = "attendance:manage"
	CapPurchaseView       Capability = "purchase:view"
	CapPurchaseSubmit     Capability = "purchase:submit"
	CapPurchaseSupervise  Capability = "purchase:supervise"
	CapPurchaseApprove    Capability = "purchase:approve"
	CapNotificationsView  Capability = "notifications:view"
	CapRolesManage        Capability = "roles:manage"
)

// Catalog is the closed set of capabilities. New ones must be added here.
var Catalog = []Capability{
	CapDashboardView,
	CapInventoryView,
	CapInventoryManage,
	CapInventoryThreshold,
	CapAttendanceView,
	CapAttendanceManage,
	CapPurchaseView,
	CapPurchaseSubmit,
	CapPurchaseSupervise,
	CapPurchaseApprove,
	CapNotificationsView,
	CapRolesManage,
}

// Known reports whether c is part of the catalog.
func (c Capability) Known() bool {
	return slices.Contains(Catalog, c)
}

// ParseCapability converts a string into a catalog capability.
func ParseCapability(s string) (Capability, error) {
	c := Capability(s)
	if !c.Known() {
		return "", apperr.New(apperr.KindInvalidRequest, "unknown capability %q", s)
	}
	return c, nil
}

// Can reports whether role grants capability. A nil role grants nothing.
func Can(role *models.Role, c Capability) bool {
	if role == nil {
		return false
	}
	if role.FullAccess {
		return true
	}
	if !c.Known() {
		return false
	}
	return role.Capabilities[string(c)]
}

// Capabilities lists every catalog capability the role grants.
func Capabilities(role *models.Role) []Capability {
	var out []Capability
	for _, c := range Catalog {
		if Can(role, c) {
			out = append(out, c)
		}
	}
	return out
}

// Actor is an authenticated employee together with their resolved role.
type Actor struct {
	Employee *models.Employee
	Role     *models.Role
}

// ID returns the employee ID, or "" for a nil actor.
func (a *Actor) ID() string {
	if a == nil || a.Employee == nil {
		return ""
	}
	return a.Employee.ID
}

// Name returns a display name, falling back to the ID.
func (a *Actor) Name() string {
	if a == nil || a.Employee == nil {
		return ""
	}
	if a.Employee.Name != "" {
		return a.Employee.Name
	}
	return a.Employee.ID
}

// Can reports whether the actor's role grants c.
func (a *Actor) Can(c Capability) bool {
	if a == nil {
		return false
	}
	return Can(a.Role, c)
}

// Require returns an authorization failure unless the actor holds c.
func (a *Actor) Require(c Capability) error {
	if a == nil || a.Employee == nil {
		return apperr.New(apperr.KindAuthentication, "not authenticated")
	}
	if !a.Can(c) {
		return apperr.New(apperr.KindAuthorization, "permission denied: %s requires %s", a.ID(), c)
	}
	return nil
}

func (a *Actor) String() string {
	if a == nil || a.Role == nil {
		return fmt.Sprintf("actor(%s)", a.ID())
	}
	return fmt.Sprintf("actor(%s, role=%s)", a.ID(), a.Role.Name)
}
