// Package engine applies the task lifecycle to storage. Every status change
// runs through one transaction that re-checks the move, writes the task with
// a compare-and-swap on status and version, and appends a history row.
// Domain events are published only after that transaction commits.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine/auth"
	"taskline/internal/events"
	"taskline/internal/history"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

type Engine struct {
	DB   *sql.DB
	Repo repo.Repo
	Auth auth.Service
	// History defaults to a SQL recorder stamped with Now.
	History history.Sink
	Events  events.Writer
	Bus     events.Bus
	// Config is the fallback when a project has no stored config.
	Config *config.Config
	Logger zerolog.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	w := events.Writer{DB: db}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Auth:   auth.Service{DB: db},
		Events: w,
		Bus:    w,
		Config: cfg,
		Logger: zerolog.Nop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// eventLog is the outbox writer stamped with the engine clock.
func (e Engine) eventLog() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.Now
	}
	return w
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// projectConfig returns the stored config of a project, read through q so
// it is safe to call inside a transaction.
func (e Engine) projectConfig(ctx context.Context, q repo.Querier, projectID string) (*config.Config, error) {
	cfg, err := e.Repo.GetProjectConfigTx(ctx, q, projectID)
	if errors.Is(err, repo.ErrNotFound) {
		if e.Config != nil {
			return e.Config, nil
		}
		return config.Default(projectID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project config: %w", err)
	}
	return cfg, nil
}

// InitProject creates a project seeded with cfg (or the default config) and
// makes actorID its owner.
func (e Engine) InitProject(ctx context.Context, projectID, description, actorID string, cfg *config.Config) (domain.Project, error) {
	if strings.TrimSpace(projectID) == "" {
		return domain.Project{}, errors.New("project id is required")
	}
	if cfg == nil {
		cfg = config.Default(projectID)
	}
	p := domain.Project{
		ID:          projectID,
		Kind:        cfg.Project.Kind,
		Status:      "active",
		Description: description,
		CreatedAt:   e.stamp(),
	}
	if p.Kind == "" {
		p.Kind = "client-project"
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.SeedProjectTx(ctx, tx, p, cfg, actorID); err != nil {
		return domain.Project{}, err
	}
	if err := e.eventLog().Append(ctx, tx, "project.init", p.ID, "project", p.ID, actorID, events.EventPayload{"status": p.Status, "kind": p.Kind}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UpdateProject changes a project's status or description and logs
// project.updated with the new values.
func (e Engine) UpdateProject(ctx context.Context, projectID, status string, description *string, actorID string) (domain.Project, error) {
	switch status {
	case "", "active", "paused", "closed":
	default:
		return domain.Project{}, fmt.Errorf("invalid project status %q", status)
	}
	if status == "" && description == nil {
		return e.Repo.GetProject(ctx, projectID)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateProjectTx(ctx, tx, projectID, status, description); err != nil {
		return domain.Project{}, err
	}
	payload := events.EventPayload{}
	if status != "" {
		payload["status"] = status
	}
	if description != nil {
		payload["description"] = *description
	}
	if err := e.eventLog().Append(ctx, tx, "project.updated", projectID, "project", projectID, actorID, payload); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return e.Repo.GetProject(ctx, projectID)
}

// ImportConfig replaces a project's stored config and syncs its roles.
func (e Engine) ImportConfig(ctx context.Context, projectID string, cfg *config.Config, actorID string) error {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, projectID, cfg); err != nil {
		return err
	}
	if err := e.Repo.SyncRolesTx(ctx, tx, cfg); err != nil {
		return err
	}
	if err := e.eventLog().Append(ctx, tx, "project.config_imported", projectID, "project", projectID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ProjectID      string
	ParentID       string
	Title          string
	Description    string
	Priority       int
	DueDate        string
	EstimatedHours *float64
	SortOrder      int
	AssigneeID     string
	ActorID        string
}

// CreateTask stores a new task in draft.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	opts.Title = strings.TrimSpace(opts.Title)
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.ActorID == "" {
		return domain.Task{}, errors.New("actor is required")
	}
	if opts.Priority == 0 {
		opts.Priority = 3
	}
	if opts.Priority < 1 || opts.Priority > 5 {
		return domain.Task{}, fmt.Errorf("priority must be between 1 and 5, got %d", opts.Priority)
	}
	if opts.DueDate != "" {
		if _, err := time.Parse("2006-01-02", opts.DueDate); err != nil {
			return domain.Task{}, fmt.Errorf("due date must be YYYY-MM-DD: %w", err)
		}
	}
	if opts.EstimatedHours != nil && *opts.EstimatedHours < 0 {
		return domain.Task{}, errors.New("estimated hours must not be negative")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	var parentSeq int64
	if opts.ParentID != "" {
		parent, err := e.Repo.GetTask(ctx, opts.ParentID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("parent %s: %w", opts.ParentID, err)
		}
		if parent.ProjectID != opts.ProjectID {
			return domain.Task{}, errors.New("parent in different project")
		}
		if parent.ParentID != nil {
			return domain.Task{}, errors.New("subtasks cannot have subtasks")
		}
		parentSeq = parent.Seq
	}
	now := e.stamp()
	t := domain.Task{
		ID:             uuid.NewString(),
		ProjectID:      opts.ProjectID,
		ParentID:       optionalString(opts.ParentID),
		Title:          opts.Title,
		Description:    opts.Description,
		Priority:       opts.Priority,
		Status:         domain.StatusDraft,
		DueDate:        optionalString(opts.DueDate),
		EstimatedHours: opts.EstimatedHours,
		SortOrder:      opts.SortOrder,
		CreatedBy:      opts.ActorID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if opts.AssigneeID != "" {
		t.AssigneeID = &opts.AssigneeID
		t.AssignedBy = &opts.ActorID
		t.AssignedAt = &now
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	seq, err := e.Repo.InsertTask(ctx, tx, t, parentSeq)
	if err != nil {
		return domain.Task{}, err
	}
	t.Seq = seq
	if err := e.eventLog().Append(ctx, tx, "task.created", t.ProjectID, "task", t.ID, opts.ActorID, events.EventPayload{
		"title":  t.Title,
		"status": t.Status,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, taskID string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, taskID)
}

func (e Engine) ListTasks(ctx context.Context, f repo.TaskFilters) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, f)
}

// Assign sets the assignee. It is not a status change, so it writes no
// history row, but it shares the guarded shape: terminal tasks refuse it.
func (e Engine) Assign(ctx context.Context, taskID, assigneeID, actorID string) (workflow.Result, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return workflow.Result{}, err
	}
	if strings.TrimSpace(actorID) == "" {
		return workflow.Result{}, ErrActorRequired
	}
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return workflow.GuardFailed(workflow.OpAssign, t, t.Status, "assignee is required"), nil
	}
	if workflow.IsTerminal(t.Status) {
		return workflow.GuardFailed(workflow.OpAssign, t, t.Status, fmt.Sprintf("task is %s and cannot be reassigned", t.Status.Label())), nil
	}
	now := e.stamp()
	t.AssigneeID = &assigneeID
	t.AssignedBy = &actorID
	t.AssignedAt = &now
	t.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Result{}, workflow.Persistence("begin", err)
	}
	defer tx.Rollback()
	ok, err := e.Repo.UpdateTaskLifecycleTx(ctx, tx, t, t.Status, t.Version)
	if err != nil {
		return workflow.Result{}, workflow.Persistence("update task", err)
	}
	if !ok {
		return workflow.Conflict(workflow.OpAssign, t, t.Status), nil
	}
	if err := tx.Commit(); err != nil {
		return workflow.Result{}, workflow.Persistence("commit", err)
	}
	t.Version++
	e.publish(ctx, events.Event{
		Type:       "task.assigned",
		ProjectID:  t.ProjectID,
		EntityKind: "task",
		EntityID:   t.ID,
		ActorID:    actorID,
		Payload:    events.EventPayload{"task_id": t.ID, "assignee_id": assigneeID},
	})
	return workflow.Applied(workflow.OpAssign, t.Status, t), nil
}

type AvailableTransition struct {
	Operation workflow.Operation `json:"operation"`
	Target    domain.TaskStatus  `json:"target"`
	Label     string             `json:"label"`
}

// AvailableTransitions lists the operations a caller may invoke next, with
// the approval target resolved against the project's workflow settings.
func (e Engine) AvailableTransitions(ctx context.Context, taskID string) ([]AvailableTransition, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	cfg, err := e.projectConfig(ctx, e.DB, t.ProjectID)
	if err != nil {
		return nil, err
	}
	out := []AvailableTransition{}
	for _, op := range workflow.Available(t.Status) {
		to, err := workflow.Resolve(op, t.Status, cfg.Workflow.PMReviewRequired())
		if err != nil {
			continue
		}
		out = append(out, AvailableTransition{Operation: op, Target: to, Label: to.Label()})
	}
	return out, nil
}

func (e Engine) TaskHistory(ctx context.Context, taskID string) ([]domain.StatusHistoryEntry, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListStatusHistory(ctx, e.DB, t.Seq)
}

// publish hands an event to the bus. The change it describes is already
// committed, so failures are logged and dropped.
func (e Engine) publish(ctx context.Context, evt events.Event) {
	bus := e.Bus
	if bus == nil {
		return
	}
	if w, ok := bus.(events.Writer); ok && w.Now == nil {
		w.Now = e.Now
		bus = w
	}
	if err := bus.Publish(ctx, evt); err != nil {
		e.Logger.Warn().Err(err).Str("event", evt.Type).Str("entity_id", evt.EntityID).Msg("event publish failed")
	}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
