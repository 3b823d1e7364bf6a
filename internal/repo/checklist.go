package repo

import (
	"context"
	"database/sql"
	"errors"

	"taskline/internal/domain"
)

const checklistColumns = `c.id,c.public_id,c.task_id,t.public_id,c.text,c.position,c.status,c.completed_by,c.completed_at,c.created_at`

const checklistFrom = ` FROM checklist_items c JOIN tasks t ON t.id=c.task_id`

func scanChecklistItem(row rowScanner) (domain.ChecklistItem, error) {
	var (
		it          domain.ChecklistItem
		status      string
		by, atStamp sql.NullString
	)
	err := row.Scan(&it.Seq, &it.ID, &it.TaskSeq, &it.TaskID, &it.Text, &it.Position, &status, &by, &atStamp, &it.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.Status = domain.ChecklistStatus(status)
	it.CompletedBy = stringPtr(by)
	it.CompletedAt = stringPtr(atStamp)
	return it, nil
}

// ListChecklistItems returns a task's items in position order.
func (r Repo) ListChecklistItems(ctx context.Context, q Querier, taskSeq int64) ([]domain.ChecklistItem, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+checklistColumns+checklistFrom+` WHERE c.task_id=? ORDER BY c.position, c.id`, taskSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []domain.ChecklistItem
	for rows.Next() {
		it, err := scanChecklistItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r Repo) GetChecklistItemTx(ctx context.Context, tx *sql.Tx, taskSeq int64, id string) (domain.ChecklistItem, error) {
	return scanChecklistItem(tx.QueryRowContext(ctx, `SELECT `+checklistColumns+checklistFrom+` WHERE c.task_id=? AND c.public_id=?`, taskSeq, id))
}

func (r Repo) NextChecklistPositionTx(ctx context.Context, tx *sql.Tx, taskSeq int64) (int, error) {
	var pos int
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position)+1, 0) FROM checklist_items WHERE task_id=?`, taskSeq).Scan(&pos)
	return pos, err
}

func (r Repo) InsertChecklistItemTx(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO checklist_items(public_id,task_id,text,position,status,completed_by,completed_at,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		it.ID, it.TaskSeq, it.Text, it.Position, string(it.Status), nullableStringPtr(it.CompletedBy), nullableStringPtr(it.CompletedAt), it.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateChecklistItemTx(ctx context.Context, tx *sql.Tx, it domain.ChecklistItem) error {
	res, err := tx.ExecContext(ctx, `UPDATE checklist_items SET text=?, position=?, status=?, completed_by=?, completed_at=? WHERE id=?`,
		it.Text, it.Position, string(it.Status), nullableStringPtr(it.CompletedBy), nullableStringPtr(it.CompletedAt), it.Seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteChecklistItemTx(ctx context.Context, tx *sql.Tx, seq int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE id=?`, seq)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
