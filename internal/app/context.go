// Package app decides which project a CLI invocation or server process
// works on and loads that project's workflow config.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
)

// DefaultActor owns projects created implicitly when no actor was given.
const DefaultActor = "local-user"

// Resolved is the project a process acts on.
type Resolved struct {
	ProjectID string
	Config    *config.Config
	// Created is set when the project did not exist and was seeded with
	// the default config.
	Created bool
}

// Resolve picks the project named by projectOverride, or the only project
// in the database when no override is given. A named project that does
// not exist yet is created with actorID as owner. A project without a
// stored config gets the default one.
func Resolve(ctx context.Context, r repo.Repo, projectOverride, actorID string) (Resolved, error) {
	projectID := strings.TrimSpace(projectOverride)
	if projectID == "" {
		p, err := r.SingleProject(ctx)
		if err != nil {
			return Resolved{}, fmt.Errorf("project not specified; use --project or TASKLINE_PROJECT: %w", err)
		}
		projectID = p.ID
	}
	out := Resolved{ProjectID: projectID}
	seed := config.Default(projectID)

	if _, err := r.GetProject(ctx, projectID); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return Resolved{}, err
		}
		if err := seedProject(ctx, r, projectID, seed, actorID); err != nil {
			return Resolved{}, fmt.Errorf("create project %s: %w", projectID, err)
		}
		out.Created = true
	}
	cfg, err := r.GetProjectConfig(ctx, projectID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		if err := r.UpsertProjectConfig(ctx, projectID, seed); err != nil {
			return Resolved{}, fmt.Errorf("seed project config: %w", err)
		}
		cfg = seed
	case err != nil:
		return Resolved{}, err
	}
	cfg.Project.ID = projectID
	out.Config = cfg
	return out, nil
}

// seedProject stores the project, its roles and config, and the owner grant
// in one transaction, and logs project.init alongside them.
func seedProject(ctx context.Context, r repo.Repo, projectID string, cfg *config.Config, actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		actorID = DefaultActor
	}
	p := domain.Project{
		ID:        projectID,
		Kind:      cfg.Project.Kind,
		Status:    "active",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if p.Kind == "" {
		p.Kind = "client-project"
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.SeedProjectTx(ctx, tx, p, cfg, actorID); err != nil {
		return err
	}
	w := events.Writer{DB: r.DB}
	if err := w.Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status, "kind": p.Kind, "implicit": true}); err != nil {
		return err
	}
	return tx.Commit()
}
