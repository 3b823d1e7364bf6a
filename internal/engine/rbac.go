package engine

import (
	"context"
	"fmt"

	"taskline/internal/domain"
	"taskline/internal/events"
)

// GrantRole assigns a configured role to an actor in a project.
func (e Engine) GrantRole(ctx context.Context, projectID, actorID, roleID, grantedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ok, err := e.Repo.RoleExists(ctx, tx, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("role %s not found", roleID)
	}
	if err := e.Repo.EnsureActor(ctx, tx, actorID, e.stamp()); err != nil {
		return err
	}
	if err := e.Repo.AssignRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.eventLog().Append(ctx, tx, "rbac.role_granted", projectID, "actor", actorID, grantedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) RevokeRole(ctx context.Context, projectID, actorID, roleID, revokedBy string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := e.Repo.RevokeRole(ctx, tx, projectID, actorID, roleID); err != nil {
		return err
	}
	if err := e.eventLog().Append(ctx, tx, "rbac.role_revoked", projectID, "actor", actorID, revokedBy, events.EventPayload{"role": roleID}); err != nil {
		return err
	}
	return tx.Commit()
}

// ActorAccess reports the roles and permissions an actor holds in a project.
func (e Engine) ActorAccess(ctx context.Context, projectID, actorID string) (domain.ActorAccess, error) {
	roles, err := e.Auth.ActorRoles(ctx, e.DB, projectID, actorID)
	if err != nil {
		return domain.ActorAccess{}, err
	}
	perms, err := e.Auth.ActorPermissions(ctx, e.DB, projectID, actorID)
	if err != nil {
		return domain.ActorAccess{}, err
	}
	return domain.ActorAccess{ProjectID: projectID, ActorID: actorID, Roles: roles, Permissions: perms}, nil
}

// Authorize fails with auth.ForbiddenError when actorID lacks perm.
func (e Engine) Authorize(ctx context.Context, projectID, actorID, perm string) error {
	return e.Auth.Authorize(ctx, projectID, actorID, perm)
}
