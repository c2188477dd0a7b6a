package auth

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/opsengine/internal/models"
	"github.com/wolfeidau/opsengine/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed roles.yaml
var defaultRolesYAML []byte

type roleSeedFile struct {
	Roles []roleSeed `yaml:"roles"`
}

type roleSeed struct {
	ID           string   `yaml:"id"`
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	FullAccess   bool     `yaml:"full_access"`
	Default      bool     `yaml:"default"`
	Capabilities []string `yaml:"capabilities"`
}

// ParseRoles decodes a YAML role catalog, rejecting unknown capabilities.
func ParseRoles(data []byte) ([]*models.Role, error) {
	var f roleSeedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse roles: %w", err)
	}

	seen := make(map[string]bool, len(f.Roles))
	defaults := 0
	roles := make([]*models.Role, 0, len(f.Roles))
	for _, s := range f.Roles {
		if s.ID == "" || s.Name == "" {
			return nil, errors.New("role id and name are required")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate role id %q", s.ID)
		}
		seen[s.ID] = true

		caps := make(map[string]bool, len(s.Capabilities))
		for _, c := range s.Capabilities {
			capability, err := ParseCapability(c)
			if err != nil {
				return nil, fmt.Errorf("role %s: %w", s.ID, err)
			}
			caps[string(capability)] = true
		}
		if s.Default {
			defaults++
		}

		roles = append(roles, &models.Role{
			ID:           s.ID,
			Name:         s.Name,
			Description:  s.Description,
			FullAccess:   s.FullAccess,
			IsDefault:    s.Default,
			Capabilities: caps,
		})
	}

	if defaults != 1 {
		return nil, fmt.Errorf("exactly one default role is required, found %d", defaults)
	}
	return roles, nil
}

// DefaultRoles returns the built-in role catalog.
func DefaultRoles() []*models.Role {
	roles, err := ParseRoles(defaultRolesYAML)
	if err != nil {
		panic(err)
	}
	return roles
}

// LoadRoles reads a role catalog from path, or the built-in one when path is empty.
func LoadRoles(path string) ([]*models.Role, error) {
	if path == "" {
		return DefaultRoles(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roles file: %w", err)
	}
	return ParseRoles(data)
}

// SeedRoles creates every role that does not exist yet.
func SeedRoles(ctx context.Context, rs store.RoleStore, roles []*models.Role) error {
	created := 0
	for _, r := range roles {
		_, err := rs.GetRole(ctx, r.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("failed to look up role %s: %w", r.ID, err)
		}
		if err := rs.UpsertRole(ctx, r); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", r.ID, err)
		}
		created++
	}

	log.Info().Int("created", created).Int("total", len(roles)).Msg("Seeded role catalog")
	return nil
}
