package engine

import (
	"context"
	"fmt"

	"leadflow/internal/domain"
	"leadflow/internal/events"
)

// GrantRole gives an actor an additional role. Requires rbac.manage.
func (e Engine) GrantRole(ctx context.Context, who domain.Identity, actorID string, role domain.Role) error {
	return e.changeRole(ctx, who, actorID, role, true)
}

// RevokeRole removes a granted role. The actor's primary role is unaffected.
func (e Engine) RevokeRole(ctx context.Context, who domain.Identity, actorID string, role domain.Role) error {
	return e.changeRole(ctx, who, actorID, role, false)
}

func (e Engine) changeRole(ctx context.Context, who domain.Identity, actorID string, role domain.Role, grant bool) error {
	if actorID == "" {
		return &domain.ValidationError{Field: "actor_id", Reason: "required"}
	}
	if _, err := domain.ParseRole(string(role)); err != nil {
		return err
	}
	op := "revoke_role"
	if grant {
		op = "grant_role"
	}
	if _, err := e.require(ctx, who, op, domain.PermRBACManage); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := e.Repo.GetActor(ctx, tx, actorID); err != nil {
		return fmt.Errorf("actor %s: %w", actorID, err)
	}
	if grant {
		err = e.Repo.AssignRole(ctx, tx, actorID, string(role))
	} else {
		err = e.Repo.RevokeRole(ctx, tx, actorID, string(role))
	}
	if err != nil {
		return err
	}
	if _, err := e.Log.Append(ctx, tx, events.RBACChanged, "actor", actorID, who.ID, events.EventPayload{
		"role":  role,
		"grant": grant,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// RegisterActor records an identity so roles can be granted to it.
func (e Engine) RegisterActor(ctx context.Context, who domain.Identity) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.ensureActor(ctx, tx, who); err != nil {
		return err
	}
	return tx.Commit()
}
