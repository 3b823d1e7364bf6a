package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/workflow"
)

func (e Engine) ChecklistItems(ctx context.Context, taskID string) ([]domain.ChecklistItem, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListChecklistItems(ctx, e.DB, t.Seq)
}

// AddChecklistItem appends a todo item to the end of the task's checklist.
func (e Engine) AddChecklistItem(ctx context.Context, taskID, text, actorID string) (domain.ChecklistItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChecklistItem{}, errors.New("checklist text is required")
	}
	var item domain.ChecklistItem
	err := e.editChecklist(ctx, taskID, func(tx *sql.Tx, t domain.Task) (string, events.EventPayload, error) {
		pos, err := e.Repo.NextChecklistPositionTx(ctx, tx, t.Seq)
		if err != nil {
			return "", nil, err
		}
		item = domain.ChecklistItem{
			ID:        uuid.NewString(),
			TaskSeq:   t.Seq,
			TaskID:    t.ID,
			Text:      text,
			Position:  pos,
			Status:    domain.ChecklistTodo,
			CreatedAt: e.stamp(),
		}
		seq, err := e.Repo.InsertChecklistItemTx(ctx, tx, item)
		if err != nil {
			return "", nil, err
		}
		item.Seq = seq
		return "checklist.item_added", events.EventPayload{"item_id": item.ID, "text": item.Text}, nil
	}, actorID)
	return item, err
}

// SetChecklistItemStatus marks an item done or todo. Done items carry who
// completed them and when; moving back to todo clears both.
func (e Engine) SetChecklistItemStatus(ctx context.Context, taskID, itemID string, status domain.ChecklistStatus, actorID string) (domain.ChecklistItem, error) {
	var item domain.ChecklistItem
	err := e.editChecklist(ctx, taskID, func(tx *sql.Tx, t domain.Task) (string, events.EventPayload, error) {
		cur, err := e.Repo.GetChecklistItemTx(ctx, tx, t.Seq, itemID)
		if err != nil {
			return "", nil, err
		}
		item, err = workflow.MarkChecklistItem(cur, status, actorID, e.stamp())
		if err != nil {
			return "", nil, err
		}
		if err := e.Repo.UpdateChecklistItemTx(ctx, tx, item); err != nil {
			return "", nil, err
		}
		return "checklist.item_updated", events.EventPayload{"item_id": item.ID, "status": item.Status}, nil
	}, actorID)
	return item, err
}

func (e Engine) RemoveChecklistItem(ctx context.Context, taskID, itemID, actorID string) error {
	return e.editChecklist(ctx, taskID, func(tx *sql.Tx, t domain.Task) (string, events.EventPayload, error) {
		cur, err := e.Repo.GetChecklistItemTx(ctx, tx, t.Seq, itemID)
		if err != nil {
			return "", nil, err
		}
		if err := e.Repo.DeleteChecklistItemTx(ctx, tx, cur.Seq); err != nil {
			return "", nil, err
		}
		return "checklist.item_removed", events.EventPayload{"item_id": cur.ID}, nil
	}, actorID)
}

// editChecklist runs fn in a transaction against a task that is still open
// and records the event fn names.
func (e Engine) editChecklist(ctx context.Context, taskID string, fn func(tx *sql.Tx, t domain.Task) (string, events.EventPayload, error), actorID string) error {
	if strings.TrimSpace(actorID) == "" {
		return ErrActorRequired
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if workflow.IsTerminal(t.Status) {
		return fmt.Errorf("%w: task is %s and its checklist is closed", workflow.ErrGuardFailed, t.Status.Label())
	}
	evtType, payload, err := fn(tx, t)
	if err != nil {
		return err
	}
	payload["task_id"] = t.ID
	if err := e.eventLog().Append(ctx, tx, evtType, t.ProjectID, "task", t.ID, actorID, payload); err != nil {
		return err
	}
	return tx.Commit()
}
