package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

// ListStatusHistory returns a task's status changes oldest first.
func (r Repo) ListStatusHistory(ctx context.Context, q Querier, taskSeq int64) ([]domain.StatusHistoryEntry, error) {
	rows, err := q.QueryContext(ctx, `SELECT h.id,h.task_id,t.public_id,h.from_status,h.to_status,h.actor_id,h.notes,h.created_at
FROM task_status_history h JOIN tasks t ON t.id=h.task_id WHERE h.task_id=? ORDER BY h.id`, taskSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.StatusHistoryEntry
	for rows.Next() {
		var (
			e        domain.StatusHistoryEntry
			from, to string
			notes    sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.TaskSeq, &e.TaskID, &from, &to, &e.ActorID, &notes, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromStatus = domain.TaskStatus(from)
		e.ToStatus = domain.TaskStatus(to)
		e.Notes = stringPtr(notes)
		res = append(res, e)
	}
	return res, rows.Err()
}
