// Package history records task status changes. Rows are written only inside
// the transaction that changes the status and are never updated or deleted.
package history

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskline/internal/domain"
)

type Entry struct {
	TaskSeq int64
	From    domain.TaskStatus
	To      domain.TaskStatus
	ActorID string
	Notes   string
}

// Sink appends a history entry as part of tx.
type Sink interface {
	Record(ctx context.Context, tx *sql.Tx, e Entry) error
}

type Recorder struct {
	Now func() time.Time
}

func (r Recorder) Record(ctx context.Context, tx *sql.Tx, e Entry) error {
	if e.TaskSeq == 0 {
		return errors.New("history entry without task")
	}
	if e.ActorID == "" {
		return errors.New("history entry without actor")
	}
	now := r.Now
	if now == nil {
		now = time.Now
	}
	var notes any
	if e.Notes != "" {
		notes = e.Notes
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO task_status_history(task_id,from_status,to_status,actor_id,notes,created_at) VALUES (?,?,?,?,?,?)`,
		e.TaskSeq, string(e.From), string(e.To), e.ActorID, notes, now().UTC().Format(time.RFC3339))
	return err
}
