package repo

import (
	"context"
	"database/sql"
)

func (r Repo) InsertRole(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO roles(id, description) VALUES (?,?)`, id, nullable(desc))
	return err
}

func (r Repo) InsertPermission(ctx context.Context, tx *sql.Tx, id, desc string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO permissions(id, description) VALUES (?,?)`, id, nullable(desc))
	return err
}

func (r Repo) AddRolePermission(ctx context.Context, tx *sql.Tx, roleID, permID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO role_permissions(role_id, permission_id) VALUES (?,?)`, roleID, permID)
	return err
}

// SeedRole stores a role with its permissions, creating missing permission rows.
func (r Repo) SeedRole(ctx context.Context, tx *sql.Tx, roleID, desc string, perms []string) error {
	if err := r.InsertRole(ctx, tx, roleID, desc); err != nil {
		return err
	}
	for _, perm := range perms {
		if err := r.InsertPermission(ctx, tx, perm, ""); err != nil {
			return err
		}
		if err := r.AddRolePermission(ctx, tx, roleID, perm); err != nil {
			return err
		}
	}
	return nil
}

// AssignRole grants an extra role to an actor on top of their primary role.
func (r Repo) AssignRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT OR IGNORE INTO actor_roles(actor_id, role_id) VALUES (?,?)`, actorID, roleID)
	return err
}

func (r Repo) RevokeRole(ctx context.Context, tx *sql.Tx, actorID, roleID string) error {
	_, err := r.q(tx).ExecContext(ctx, `DELETE FROM actor_roles WHERE actor_id=? AND role_id=?`, actorID, roleID)
	return err
}

// ActorRoles returns the roles granted to an actor through actor_roles.
func (r Repo) ActorRoles(ctx context.Context, tx *sql.Tx, actorID string) ([]string, error) {
	return r.strings(ctx, tx, `SELECT role_id FROM actor_roles WHERE actor_id=? ORDER BY role_id`, actorID)
}

// PermissionsForRoles returns the distinct permissions held by any of roles.
func (r Repo) PermissionsForRoles(ctx context.Context, tx *sql.Tx, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT permission_id FROM role_permissions WHERE role_id IN (`
	args := make([]any, 0, len(roles))
	for i, role := range roles {
		if i > 0 {
			query += ","
		}
		query += "?"
		args = append(args, role)
	}
	query += `) ORDER BY permission_id`
	return r.strings(ctx, tx, query, args...)
}

// RoleCount reports how many roles are stored; zero means RBAC was never seeded.
func (r Repo) RoleCount(ctx context.Context, tx *sql.Tx) (int, error) {
	var n int
	err := r.q(tx).QueryRowContext(ctx, `SELECT COUNT(*) FROM roles`).Scan(&n)
	return n, err
}

func (r Repo) strings(ctx context.Context, tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := r.q(tx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
