package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	charmLog "github.com/charmbracelet/log"

	"leadflow/internal/domain"
	"leadflow/internal/repo"
)

// Tier records which source produced a permission set.
type Tier string

const (
	TierAuthoritative Tier = "authoritative"
	TierFallback      Tier = "fallback"
)

// PermissionSet is the resolved capability set of one identity.
type PermissionSet struct {
	Role  domain.Role
	Perms []string
	Tier  Tier
}

func NewPermissionSet(role domain.Role, tier Tier, perms []string) PermissionSet {
	seen := map[string]bool{}
	var out []string
	for _, p := range perms {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	sort.Strings(out)
	return PermissionSet{Role: role, Perms: out, Tier: tier}
}

func (p PermissionSet) Has(perm string) bool {
	for _, have := range p.Perms {
		if have == perm {
			return true
		}
	}
	return false
}

// Require returns a *domain.PermissionError when perm is missing.
func (p PermissionSet) Require(op, perm string) error {
	if p.Has(perm) {
		return nil
	}
	return &domain.PermissionError{Op: op, Role: p.Role, Permission: perm}
}

// Source is the authoritative permission lookup.
type Source interface {
	Permissions(ctx context.Context, who domain.Identity) ([]string, error)
}

// UnavailableError marks an authoritative source that could not be reached.
// It is the only error the resolver answers with the static defaults.
type UnavailableError struct {
	Source string
	Err    error
}

func (e *UnavailableError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("permission source %s unavailable", e.Source)
	}
	return fmt.Sprintf("permission source %s unavailable: %v", e.Source, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// StaticDefaults is the role to permission table used as fallback tier.
type StaticDefaults map[domain.Role][]string

// Resolver resolves permissions from Source and falls back to Defaults only
// when Source reports UnavailableError. The tiers are never merged.
type Resolver struct {
	Source   Source
	Defaults StaticDefaults
	Logger   *charmLog.Logger
}

func (r Resolver) Resolve(ctx context.Context, who domain.Identity) (PermissionSet, error) {
	if !who.Role.Valid() {
		return NewPermissionSet(who.Role, TierAuthoritative, nil), nil
	}
	if r.Source != nil {
		perms, err := r.Source.Permissions(ctx, who)
		if err == nil {
			return NewPermissionSet(who.Role, TierAuthoritative, perms), nil
		}
		var unavailable *UnavailableError
		if !errors.As(err, &unavailable) {
			return PermissionSet{}, err
		}
		if r.Logger != nil {
			r.Logger.Warn("permission source unavailable, using defaults", "actor", who.ID, "role", who.Role, "tier", TierFallback, "err", err)
		}
	}
	return NewPermissionSet(who.Role, TierFallback, r.Defaults[who.Role]), nil
}

// SQLSource reads role_permissions for the actor's primary role and any
// granted roles.
type SQLSource struct {
	Repo repo.Repo
}

func (s SQLSource) Permissions(ctx context.Context, who domain.Identity) ([]string, error) {
	n, err := s.Repo.RoleCount(ctx, nil)
	if err != nil {
		return nil, &UnavailableError{Source: "sql", Err: err}
	}
	if n == 0 {
		return nil, &UnavailableError{Source: "sql", Err: errors.New("rbac tables not seeded")}
	}
	roles := []string{string(who.Role)}
	if who.ID != "" {
		granted, err := s.Repo.ActorRoles(ctx, nil, who.ID)
		if err != nil {
			return nil, &UnavailableError{Source: "sql", Err: err}
		}
		roles = append(roles, granted...)
	}
	perms, err := s.Repo.PermissionsForRoles(ctx, nil, roles)
	if err != nil {
		return nil, &UnavailableError{Source: "sql", Err: err}
	}
	return perms, nil
}

// Seed stores the default table into the RBAC tables inside tx.
func Seed(ctx context.Context, tx *sql.Tx, r repo.Repo, defaults map[domain.Role][]string, descriptions map[domain.Role]string) error {
	roles := make([]string, 0, len(defaults))
	for role := range defaults {
		roles = append(roles, string(role))
	}
	sort.Strings(roles)
	for _, role := range roles {
		if err := r.SeedRole(ctx, tx, role, descriptions[domain.Role(role)], defaults[domain.Role(role)]); err != nil {
			return fmt.Errorf("seed role %s: %w", role, err)
		}
	}
	return nil
}
