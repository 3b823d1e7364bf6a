package workflow

import (
	"fmt"

	"taskline/internal/domain"
)

// ChecklistComplete is the QA submission gate: true when the task has no
// items or every item is done.
func ChecklistComplete(items []domain.ChecklistItem) bool {
	for _, it := range items {
		if it.Status != domain.ChecklistDone {
			return false
		}
	}
	return true
}

// ChecklistProgress renders "done/total", or "" for an empty checklist.
func ChecklistProgress(items []domain.ChecklistItem) string {
	if len(items) == 0 {
		return ""
	}
	done := 0
	for _, it := range items {
		if it.Status == domain.ChecklistDone {
			done++
		}
	}
	return fmt.Sprintf("%d/%d", done, len(items))
}

// MarkChecklistItem sets status and keeps completed_by/completed_at in step:
// both are set when done and cleared otherwise.
func MarkChecklistItem(item domain.ChecklistItem, status domain.ChecklistStatus, actorID, now string) (domain.ChecklistItem, error) {
	switch status {
	case domain.ChecklistDone:
		if item.Status != domain.ChecklistDone {
			item.CompletedBy = &actorID
			item.CompletedAt = &now
		}
	case domain.ChecklistTodo:
		item.CompletedBy = nil
		item.CompletedAt = nil
	default:
		return item, fmt.Errorf("invalid checklist status %q", status)
	}
	item.Status = status
	return item, nil
}
