package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/apperr"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// CacheTTL is how long a resolved actor is reused. Zero disables caching.
	CacheTTL time.Duration

	// RefreshInterval reloads the role catalog periodically so edits made
	// by other instances are picked up. Zero disables the loop.
	RefreshInterval time.Duration
}

// Resolver turns a verified identity into an Actor. Employees seen for the
// first time are provisioned with the default role.
type Resolver struct {
	roles     store.RoleStore
	employees store.EmployeeStore
	cfg       ResolverConfig

	roleMu  sync.RWMutex
	roleSet *RoleSet

	cacheMu sync.RWMutex
	cache   map[string]*cacheEntry

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type cacheEntry struct {
	actor     *Actor
	expiresAt time.Time
}

// NewResolver creates a resolver over the given stores.
func NewResolver(roles store.RoleStore, employees store.EmployeeStore, cfg ResolverConfig) *Resolver {
	return &Resolver{
		roles:     roles,
		employees: employees,
		cfg:       cfg,
		cache:     make(map[string]*cacheEntry),
	}
}

// Start loads the role catalog and starts the refresh loop.
func (r *Resolver) Start(ctx context.Context) error {
	if err := r.ReloadRoles(ctx); err != nil {
		return err
	}
	if r.cfg.RefreshInterval <= 0 {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.wg.Add(1)
	go r.refreshLoop(loopCtx)
	return nil
}

// Stop ends the refresh loop.
func (r *Resolver) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Resolver) refreshLoop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Role refresh stopped")
			return
		case <-ticker.C:
			if err := r.ReloadRoles(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to refresh role catalog")
			}
		}
	}
}

// ReloadRoles replaces the in-memory role catalog and drops cached actors.
func (r *Resolver) ReloadRoles(ctx context.Context) error {
	roles, err := r.roles.ListRoles(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindDownstreamUnavailable, fmt.Errorf("failed to load roles: %w", err))
	}

	rs := NewRoleSet(roles)
	r.roleMu.Lock()
	r.roleSet = rs
	r.roleMu.Unlock()
	r.InvalidateAll()

	log.Debug().Int("roles", rs.Len()).Msg("Loaded role catalog")
	return nil
}

// Roles returns the current role catalog.
func (r *Resolver) Roles() *RoleSet {
	r.roleMu.RLock()
	defer r.roleMu.RUnlock()
	return r.roleSet
}

// Resolve returns the actor for a verified identity.
func (r *Resolver) Resolve(ctx context.Context, id Identity) (*Actor, error) {
	if id.Subject == "" {
		return nil, apperr.New(apperr.KindAuthentication, "token has no subject")
	}

	if actor, ok := r.cached(id.Subject); ok {
		return actor, nil
	}

	roles := r.Roles()
	if roles == nil {
		if err := r.ReloadRoles(ctx); err != nil {
			return nil, err
		}
		roles = r.Roles()
	}

	employee, err := r.employees.GetEmployee(ctx, id.Subject)
	if errors.Is(err, store.ErrNotFound) {
		employee, err = r.provision(ctx, id, roles)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDownstreamUnavailable, err)
	}

	role, err := ResolvePrincipalRole(employee, roles)
	if err != nil {
		return nil, err
	}

	actor := &Actor{Employee: employee, Role: role}
	if r.cfg.CacheTTL > 0 {
		r.cacheMu.Lock()
		r.cache[id.Subject] = &cacheEntry{actor: actor, expiresAt: time.Now().Add(r.cfg.CacheTTL)}
		r.cacheMu.Unlock()
	}
	return actor, nil
}

func (r *Resolver) cached(subject string) (*Actor, bool) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	entry, ok := r.cache[subject]
	if !ok || !time.Now().Before(entry.expiresAt) {
		return nil, false
	}
	return entry.actor, true
}

func (r *Resolver) provision(ctx context.Context, id Identity, roles *RoleSet) (*models.Employee, error) {
	def := roles.Default()
	if def == nil {
		return nil, apperr.New(apperr.KindAuthorization, "no default role to provision %s", id.Subject)
	}

	name := id.Name
	if name == "" {
		name = id.Email
	}
	roleID := def.ID
	employee := &models.Employee{
		ID:     id.Subject,
		Name:   name,
		Email:  id.Email,
		RoleID: &roleID,
		Status: models.EmployeeStatusActive,
	}

	err := r.employees.CreateEmployee(ctx, employee)
	if errors.Is(err, store.ErrAlreadyExists) {
		// provisioned concurrently by another request
		return r.employees.GetEmployee(ctx, id.Subject)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to provision employee: %w", err)
	}

	log.Info().
		Str("employee_id", employee.ID).
		Str("role", def.Name).
		Msg("Provisioned employee")

	return employee, nil
}

// Invalidate drops the cached actor for one employee.
func (r *Resolver) Invalidate(employeeID string) {
	r.cacheMu.Lock()
	delete(r.cache, employeeID)
	r.cacheMu.Unlock()
}

// InvalidateAll drops every cached actor.
func (r *Resolver) InvalidateAll() {
	r.cacheMu.Lock()
	r.cache = make(map[string]*cacheEntry)
	r.cacheMu.Unlock()
}

// UpdateRoleCapabilities replaces the capability set of a role. Full-access
// roles cannot be edited.
func (r *Resolver) UpdateRoleCapabilities(ctx context.Context, actor *Actor, roleID string, capabilities []string) (*models.Role, error) {
	if err := actor.Require(CapRolesManage); err != nil {
		return nil, err
	}

	caps := make(map[string]bool, len(capabilities))
	for _, s := range capabilities {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		caps[string(c)] = true
	}

	role, err := r.roles.GetRole(ctx, roleID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "role %s not found", roleID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDownstreamUnavailable, err)
	}
	if role.FullAccess {
		return nil, apperr.New(apperr.KindInvalidRequest, "role %s has full access and cannot be edited", roleID)
	}

	role.Capabilities = caps
	if err := r.roles.UpsertRole(ctx, role); err != nil {
		return nil, apperr.Wrap(apperr.KindDownstreamUnavailable, err)
	}

	log.Info().
		Str("role_id", roleID).
		Str("actor", actor.ID()).
		Int("capabilities", len(caps)).
		Msg("Updated role capabilities")

	if err := r.ReloadRoles(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to reload roles after update")
		r.InvalidateAll()
	}
	return role, nil
}
