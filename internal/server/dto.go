package server

import (
	"encoding/json"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/workflow"
)

// Request payloads

type CreateTaskRequest struct {
	Title          string   `json:"title" minLength:"1"`
	Description    *string  `json:"description,omitempty"`
	ParentID       *string  `json:"parent_id,omitempty"`
	Priority       *int     `json:"priority,omitempty" minimum:"1" maximum:"5"`
	DueDate        *string  `json:"due_date,omitempty" example:"2025-03-01"`
	EstimatedHours *float64 `json:"estimated_hours,omitempty" minimum:"0"`
	SortOrder      *int     `json:"sort_order,omitempty"`
	AssigneeID     *string  `json:"assignee_id,omitempty"`
}

type AssignTaskRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// ActionRequest carries the free-text note of a status move. Reject actions
// read Reason and fall back to Notes.
type ActionRequest struct {
	Notes  string `json:"notes,omitempty"`
	Reason string `json:"reason,omitempty"`
}

type AddChecklistItemRequest struct {
	Text string `json:"text" minLength:"1"`
}

type UpdateChecklistItemRequest struct {
	Status string `json:"status" enum:"todo,done"`
}

type StartQAReviewRequest struct {
	Template string `json:"template,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

type CompleteQAReviewRequest struct {
	Approved bool                            `json:"approved"`
	Results  map[string]domain.QACheckResult `json:"results,omitempty"`
	Notes    string                          `json:"notes,omitempty"`
}

type RoleChangeRequest struct {
	ActorID string `json:"actor_id"`
	RoleID  string `json:"role_id"`
}

type DevLoginRequest struct {
	ActorID     string   `json:"actor_id"`
	Permissions []string `json:"permissions,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID          string         `json:"id"`
	Kind        string         `json:"kind"`
	Status      string         `json:"status"`
	Description string         `json:"description,omitempty"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	TaskCounts  map[string]int `json:"task_counts"`
}

type ProjectConfigResponse struct {
	ProjectID string         `json:"project_id"`
	Config    *config.Config `json:"config"`
}

type paginatedTasks struct {
	Items      []domain.Task `json:"items"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type TransitionResponse struct {
	Outcome   workflow.Outcome   `json:"outcome" enum:"applied"`
	Operation workflow.Operation `json:"operation"`
	From      domain.TaskStatus  `json:"from"`
	To        domain.TaskStatus  `json:"to"`
	Task      domain.Task        `json:"task"`
	Review    *domain.QAReview   `json:"review,omitempty"`
}

type TransitionsResponse struct {
	TaskID string                       `json:"task_id"`
	Status domain.TaskStatus            `json:"status"`
	Items  []engine.AvailableTransition `json:"items"`
}

type ChecklistResponse struct {
	TaskID   string                 `json:"task_id"`
	Progress string                 `json:"progress" example:"2/3"`
	Complete bool                   `json:"complete"`
	Items    []domain.ChecklistItem `json:"items"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts" format:"date-time"`
	Type       string          `json:"type"`
	ProjectID  string          `json:"project_id,omitempty"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload" jsonschema:"type=object,additionalProperties=true"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID     string   `json:"actor_id"`
	ProjectID   string   `json:"project_id,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

func projectResponse(p domain.Project, counts map[string]int) ProjectResponse {
	if counts == nil {
		counts = map[string]int{}
	}
	return ProjectResponse{
		ID:          p.ID,
		Kind:        p.Kind,
		Status:      p.Status,
		Description: p.Description,
		CreatedAt:   p.CreatedAt,
		TaskCounts:  counts,
	}
}

func transitionResponse(res workflow.Result) TransitionResponse {
	return TransitionResponse{
		Outcome:   res.Outcome,
		Operation: res.Operation,
		From:      res.From,
		To:        res.To,
		Task:      res.Task,
		Review:    res.Review,
	}
}

func checklistResponse(taskID string, items []domain.ChecklistItem) ChecklistResponse {
	if items == nil {
		items = []domain.ChecklistItem{}
	}
	return ChecklistResponse{
		TaskID:   taskID,
		Progress: workflow.ChecklistProgress(items),
		Complete: workflow.ChecklistComplete(items),
		Items:    items,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
