package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"taskline/internal/repo"
)

const (
	PermTaskCreate        = "task.create"
	PermTaskRead          = "task.read"
	PermTaskAssign        = "task.assign"
	PermTaskTransition    = "task.transition"
	PermTaskQAReview      = "task.qa_review"
	PermTaskClientReview  = "task.client_review"
	PermTaskArchive       = "task.archive"
	PermChecklistWrite    = "checklist.write"
	PermProjectEventsRead = "project.events.read"
	PermRBACManage        = "rbac.manage"
)

// AllPermissions lists every permission the engine and its callers check.
var AllPermissions = []string{
	PermTaskCreate, PermTaskRead, PermTaskAssign, PermTaskTransition, PermTaskQAReview,
	PermTaskClientReview, PermTaskArchive, PermChecklistWrite, PermProjectEventsRead, PermRBACManage,
}

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

// Service provides RBAC helpers backed by SQL.
type Service struct {
	DB *sql.DB
}

// Authorize returns a ForbiddenError when actorID lacks perm in projectID.
func (s Service) Authorize(ctx context.Context, projectID, actorID, perm string) error {
	if actorID == "" {
		return errors.New("actor_id required")
	}
	ok, err := s.ActorHasPermission(ctx, s.DB, projectID, actorID, perm)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

func (s Service) ActorHasPermission(ctx context.Context, q repo.Querier, projectID, actorID, perm string) (bool, error) {
	row := q.QueryRowContext(ctx, `
SELECT 1 FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.project_id=? AND ar.actor_id=? AND rp.permission_id=? LIMIT 1`,
		projectID, actorID, perm)
	var n int
	err := row.Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s Service) ActorRoles(ctx context.Context, q repo.Querier, projectID, actorID string) ([]string, error) {
	return queryStrings(ctx, q, `SELECT role_id FROM actor_roles WHERE project_id=? AND actor_id=? ORDER BY role_id`, projectID, actorID)
}

func (s Service) ActorPermissions(ctx context.Context, q repo.Querier, projectID, actorID string) ([]string, error) {
	perms, err := queryStrings(ctx, q, `
SELECT DISTINCT rp.permission_id
FROM actor_roles ar
JOIN role_permissions rp ON rp.role_id=ar.role_id
WHERE ar.project_id=? AND ar.actor_id=?`, projectID, actorID)
	if err != nil {
		return nil, err
	}
	sort.Strings(perms)
	return perms, nil
}

func queryStrings(ctx context.Context, q repo.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}
