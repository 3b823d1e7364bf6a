package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"taskline/internal/domain"
)

const qaReviewColumns = `q.id,q.public_id,q.task_id,t.public_id,q.reviewer_id,q.template,q.status,q.checks_json,q.results_json,q.notes,q.started_at,q.completed_at`

const qaReviewFrom = ` FROM qa_reviews q JOIN tasks t ON t.id=q.task_id`

func scanQAReview(row rowScanner) (domain.QAReview, error) {
	var (
		rv                        domain.QAReview
		status, checks, results   string
		template, notes, finished sql.NullString
	)
	err := row.Scan(&rv.Seq, &rv.ID, &rv.TaskSeq, &rv.TaskID, &rv.ReviewerID, &template, &status, &checks, &results, &notes, &rv.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return rv, ErrNotFound
	}
	if err != nil {
		return rv, err
	}
	rv.Status = domain.QAReviewStatus(status)
	rv.Template = stringPtr(template)
	rv.Notes = stringPtr(notes)
	rv.CompletedAt = stringPtr(finished)
	if err := json.Unmarshal([]byte(checks), &rv.Checks); err != nil {
		return rv, err
	}
	if err := json.Unmarshal([]byte(results), &rv.Results); err != nil {
		return rv, err
	}
	if rv.Checks == nil {
		rv.Checks = []domain.QACheck{}
	}
	if rv.Results == nil {
		rv.Results = map[string]domain.QACheckResult{}
	}
	return rv, nil
}

// InsertQAReviewTx opens a review session. A second open session for the
// same task fails on the partial unique index.
func (r Repo) InsertQAReviewTx(ctx context.Context, tx *sql.Tx, rv domain.QAReview) (int64, error) {
	checks, results, err := encodeReview(rv)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO qa_reviews(public_id,task_id,reviewer_id,template,status,checks_json,results_json,notes,started_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?)`,
		rv.ID, rv.TaskSeq, rv.ReviewerID, nullableStringPtr(rv.Template), string(rv.Status), checks, results,
		nullableStringPtr(rv.Notes), rv.StartedAt, nullableStringPtr(rv.CompletedAt))
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetQAReview(ctx context.Context, q Querier, id string) (domain.QAReview, error) {
	return scanQAReview(q.QueryRowContext(ctx, `SELECT `+qaReviewColumns+qaReviewFrom+` WHERE q.public_id=?`, id))
}

// OpenQAReview returns the in-progress session of a task, or ErrNotFound.
func (r Repo) OpenQAReview(ctx context.Context, q Querier, taskSeq int64) (domain.QAReview, error) {
	return scanQAReview(q.QueryRowContext(ctx, `SELECT `+qaReviewColumns+qaReviewFrom+` WHERE q.task_id=? AND q.status='in_progress'`, taskSeq))
}

func (r Repo) ListQAReviews(ctx context.Context, q Querier, taskSeq int64) ([]domain.QAReview, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+qaReviewColumns+qaReviewFrom+` WHERE q.task_id=? ORDER BY q.id`, taskSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QAReview
	for rows.Next() {
		rv, err := scanQAReview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rv)
	}
	return res, rows.Err()
}

// CompleteQAReviewTx closes an open session with its verdict. It reports
// false when the session was no longer in progress.
func (r Repo) CompleteQAReviewTx(ctx context.Context, tx *sql.Tx, rv domain.QAReview) (bool, error) {
	_, results, err := encodeReview(rv)
	if err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx, `UPDATE qa_reviews SET status=?, results_json=?, notes=?, completed_at=? WHERE id=? AND status='in_progress'`,
		string(rv.Status), results, nullableStringPtr(rv.Notes), nullableStringPtr(rv.CompletedAt), rv.Seq)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func encodeReview(rv domain.QAReview) (string, string, error) {
	checks := rv.Checks
	if checks == nil {
		checks = []domain.QACheck{}
	}
	results := rv.Results
	if results == nil {
		results = map[string]domain.QACheckResult{}
	}
	cb, err := json.Marshal(checks)
	if err != nil {
		return "", "", err
	}
	rb, err := json.Marshal(results)
	if err != nil {
		return "", "", err
	}
	return string(cb), string(rb), nil
}
