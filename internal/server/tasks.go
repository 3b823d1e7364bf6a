package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/engine/auth"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

// TaskPath holds the path parameters shared by the per-task routes.
type TaskPath struct {
	ProjectID string `path:"project_id"`
	TaskID    string `path:"task_id"`
}

// projectTask loads a task and hides it when it belongs to another project.
func projectTask(ctx context.Context, e engine.Engine, projectID, taskID string) (domain.Task, error) {
	t, err := e.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if t.ProjectID != projectID {
		return domain.Task{}, repo.ErrNotFound
	}
	return t, nil
}

func transitionReply(res workflow.Result, err error) (*struct {
	Body TransitionResponse `json:"body"`
}, error) {
	if err != nil {
		return nil, handleError(err)
	}
	if !res.OK() {
		return nil, resultError(res)
	}
	return &struct {
		Body TransitionResponse `json:"body"`
	}{Body: transitionResponse(res)}, nil
}

var transitionErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

func registerTasks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string            `path:"project_id"`
		Body      CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskCreate); err != nil {
			return nil, handleError(err)
		}
		if strings.TrimSpace(input.Body.Title) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "title is required", nil)
		}
		opts := engine.TaskCreateOptions{
			ProjectID:      input.ProjectID,
			Title:          input.Body.Title,
			Description:    stringOrEmpty(input.Body.Description),
			ParentID:       stringOrEmpty(input.Body.ParentID),
			DueDate:        stringOrEmpty(input.Body.DueDate),
			EstimatedHours: input.Body.EstimatedHours,
			AssigneeID:     stringOrEmpty(input.Body.AssigneeID),
			ActorID:        actorID,
		}
		if input.Body.Priority != nil {
			opts.Priority = *input.Body.Priority
		}
		if input.Body.SortOrder != nil {
			opts.SortOrder = *input.Body.SortOrder
		}
		t, err := e.CreateTask(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks",
		Summary:     "List tasks, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID  string `path:"project_id"`
		Status     string `query:"status"`
		ParentID   string `query:"parent_id"`
		AssigneeID string `query:"assignee_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedTasks `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		if input.Status != "" && !domain.TaskStatus(input.Status).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid status", map[string]any{"status": input.Status})
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		tasks, err := e.ListTasks(ctx, repo.TaskFilters{
			ProjectID:       input.ProjectID,
			Status:          input.Status,
			ParentID:        input.ParentID,
			AssigneeID:      input.AssigneeID,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedTasks{Items: []domain.Task{}}
		if len(tasks) > limit {
			tasks = tasks[:limit]
			last := tasks[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = append(resp.Items, tasks...)
		return &struct {
			Body paginatedTasks `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body domain.Task `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		t, err := projectTask(ctx, e, input.ProjectID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Task `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/assign",
		Summary:     "Assign task",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskAssign); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return transitionReply(e.Assign(ctx, input.TaskID, input.Body.AssigneeID, actorID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-transitions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}/transitions",
		Summary:     "Operations available from the task's current status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body TransitionsResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		t, err := projectTask(ctx, e, input.ProjectID, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.AvailableTransitions(ctx, t.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionsResponse `json:"body"`
		}{Body: TransitionsResponse{TaskID: t.ID, Status: t.Status, Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-history",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}/history",
		Summary:     "Status history, oldest first",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body []domain.StatusHistoryEntry `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		entries, err := e.TaskHistory(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if entries == nil {
			entries = []domain.StatusHistoryEntry{}
		}
		return &struct {
			Body []domain.StatusHistoryEntry `json:"body"`
		}{Body: entries}, nil
	})
}

type taskAction struct {
	perm string
	run  func(engine.Engine, context.Context, string, string, string) (workflow.Result, error)
	// reject actions take the body's reason, falling back to notes.
	reject bool
}

var taskActions = map[string]taskAction{
	"start":          {perm: auth.PermTaskTransition, run: engine.Engine.Start},
	"hold":           {perm: auth.PermTaskTransition, run: engine.Engine.ToggleHold},
	"submit":         {perm: auth.PermTaskTransition, run: engine.Engine.SubmitForQA},
	"send-to-pm":     {perm: auth.PermTaskTransition, run: engine.Engine.SendToPM},
	"pm-reject":      {perm: auth.PermTaskClientReview, run: engine.Engine.PMReject, reject: true},
	"send-to-client": {perm: auth.PermTaskClientReview, run: engine.Engine.SendToClient},
	"client-approve": {perm: auth.PermTaskClientReview, run: engine.Engine.ClientApprove},
	"client-reject":  {perm: auth.PermTaskClientReview, run: engine.Engine.ClientReject, reject: true},
	"return":         {perm: auth.PermTaskTransition, run: engine.Engine.ReturnToProgress},
	"complete":       {perm: auth.PermTaskTransition, run: engine.Engine.Complete},
	"archive":        {perm: auth.PermTaskArchive, run: engine.Engine.Archive},
}

func registerTaskActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "task-action",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/actions/{action}",
		Summary:     "Move a task through its lifecycle",
		Description: "Rejected moves answer 422 with code guard_failed or illegal_transition, and 409 with code conflict when the task changed concurrently.",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Action string         `path:"action" enum:"start,hold,submit,send-to-pm,pm-reject,send-to-client,client-approve,client-reject,return,complete,archive"`
		Body   *ActionRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		action, ok := taskActions[input.Action]
		if !ok {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown action", map[string]any{"action": input.Action})
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, action.perm); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		var body ActionRequest
		if input.Body != nil {
			body = *input.Body
		}
		text := body.Notes
		if action.reject && strings.TrimSpace(body.Reason) != "" {
			text = body.Reason
		}
		return transitionReply(action.run(e, ctx, input.TaskID, actorID, text))
	})
}

func registerChecklist(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-checklist",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}/checklist",
		Summary:     "List checklist items",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body ChecklistResponse `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.ChecklistItems(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ChecklistResponse `json:"body"`
		}{Body: checklistResponse(input.TaskID, items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-checklist-item",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/tasks/{task_id}/checklist",
		Summary:       "Add checklist item",
		DefaultStatus: http.StatusCreated,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AddChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermChecklistWrite); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		item, err := e.AddChecklistItem(ctx, input.TaskID, input.Body.Text, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist-item",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}/tasks/{task_id}/checklist/{item_id}",
		Summary:     "Mark checklist item done or todo",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		ItemID string                     `path:"item_id"`
		Body   UpdateChecklistItemRequest `json:"body"`
	}) (*struct {
		Body domain.ChecklistItem `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermChecklistWrite); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		item, err := e.SetChecklistItemStatus(ctx, input.TaskID, input.ItemID, domain.ChecklistStatus(input.Body.Status), actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChecklistItem `json:"body"`
		}{Body: item}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-checklist-item",
		Method:        http.MethodDelete,
		Path:          "/projects/{project_id}/tasks/{task_id}/checklist/{item_id}",
		Summary:       "Remove checklist item",
		DefaultStatus: http.StatusNoContent,
		Errors:        transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		ItemID string `path:"item_id"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermChecklistWrite); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		if err := e.RemoveChecklistItem(ctx, input.TaskID, input.ItemID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerQAReviews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-qa-reviews",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/tasks/{task_id}/qa-reviews",
		Summary:     "List QA review sessions of a task",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*struct {
		Body []domain.QAReview `json:"body"`
	}, error) {
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskRead); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		reviews, err := e.ListQAReviews(ctx, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		if reviews == nil {
			reviews = []domain.QAReview{}
		}
		return &struct {
			Body []domain.QAReview `json:"body"`
		}{Body: reviews}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-qa-review",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/tasks/{task_id}/qa-reviews",
		Summary:     "Open a QA review session; the caller is the reviewer",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body *StartQAReviewRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskQAReview); err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		var opts engine.StartQAReviewOptions
		if input.Body != nil {
			opts = engine.StartQAReviewOptions{Template: input.Body.Template, Notes: input.Body.Notes}
		}
		return transitionReply(e.StartQAReview(ctx, input.TaskID, actorID, opts))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-qa-review",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/qa-reviews/{review_id}/complete",
		Summary:     "Approve or reject an open QA review session",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string                  `path:"project_id"`
		ReviewID  string                  `path:"review_id"`
		Body      CompleteQAReviewRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := requirePermission(ctx, e, input.ProjectID, auth.PermTaskQAReview); err != nil {
			return nil, handleError(err)
		}
		rv, err := e.GetQAReview(ctx, input.ReviewID)
		if err != nil {
			return nil, handleError(err)
		}
		if _, err := projectTask(ctx, e, input.ProjectID, rv.TaskID); err != nil {
			return nil, handleError(err)
		}
		return transitionReply(e.CompleteQAReview(ctx, input.ReviewID, engine.CompleteQAReviewOptions{
			Approved: input.Body.Approved,
			Results:  input.Body.Results,
			Notes:    input.Body.Notes,
		}, actorID))
	})
}
