package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskline/internal/domain"
)

const taskColumns = `t.id,t.public_id,t.project_id,p.public_id,t.title,COALESCE(t.description,''),t.priority,t.status,
t.due_date,t.estimated_hours,t.actual_hours,t.sort_order,t.assignee_id,t.qa_user_id,t.created_by,
t.assigned_by,t.assigned_at,t.started_at,t.submitted_at,t.approved_at,t.sent_to_client_at,
t.client_approved_at,t.completed_at,t.archived_by,t.archived_at,t.version,t.created_at,t.updated_at`

const taskFrom = ` FROM tasks t LEFT JOIN tasks p ON p.id=t.parent_id`

func scanTask(row rowScanner) (domain.Task, error) {
	var (
		t                                                    domain.Task
		parent, due, assignee, qaUser, assignedBy, assigned  sql.NullString
		started, submitted, approved, sentToClient, clientOK sql.NullString
		completed, archivedBy, archived                      sql.NullString
		estimated, actual                                    sql.NullFloat64
		status                                               string
	)
	err := row.Scan(&t.Seq, &t.ID, &t.ProjectID, &parent, &t.Title, &t.Description, &t.Priority, &status,
		&due, &estimated, &actual, &t.SortOrder, &assignee, &qaUser, &t.CreatedBy,
		&assignedBy, &assigned, &started, &submitted, &approved, &sentToClient,
		&clientOK, &completed, &archivedBy, &archived, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.Status = domain.TaskStatus(status)
	t.ParentID = stringPtr(parent)
	t.DueDate = stringPtr(due)
	t.EstimatedHours = floatPtr(estimated)
	t.ActualHours = floatPtr(actual)
	t.AssigneeID = stringPtr(assignee)
	t.QAUserID = stringPtr(qaUser)
	t.AssignedBy = stringPtr(assignedBy)
	t.AssignedAt = stringPtr(assigned)
	t.StartedAt = stringPtr(started)
	t.SubmittedAt = stringPtr(submitted)
	t.ApprovedAt = stringPtr(approved)
	t.SentToClientAt = stringPtr(sentToClient)
	t.ClientApprovedAt = stringPtr(clientOK)
	t.CompletedAt = stringPtr(completed)
	t.ArchivedBy = stringPtr(archivedBy)
	t.ArchivedAt = stringPtr(archived)
	return t, nil
}

// InsertTask stores a new task and returns its internal key. parentSeq is 0
// for top-level tasks.
func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task, parentSeq int64) (int64, error) {
	var parent any
	if parentSeq > 0 {
		parent = parentSeq
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(public_id,project_id,parent_id,title,description,priority,status,
due_date,estimated_hours,actual_hours,sort_order,assignee_id,created_by,assigned_by,assigned_at,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.ProjectID, parent, t.Title, nullable(t.Description), t.Priority, string(t.Status),
		nullableStringPtr(t.DueDate), nullableFloatPtr(t.EstimatedHours), nullableFloatPtr(t.ActualHours), t.SortOrder,
		nullableStringPtr(t.AssigneeID), t.CreatedBy, nullableStringPtr(t.AssignedBy), nullableStringPtr(t.AssignedAt),
		t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, `t.public_id=?`, id)
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, `t.public_id=?`, id)
}

// GetTaskBySeq loads a task by its internal key.
func (r Repo) GetTaskBySeq(ctx context.Context, q Querier, seq int64) (domain.Task, error) {
	return r.getTask(ctx, q, `t.id=?`, seq)
}

func (r Repo) getTask(ctx context.Context, q Querier, where string, arg any) (domain.Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+taskFrom+` WHERE `+where, arg))
}

// UpdateTaskLifecycleTx writes the status and lifecycle stamps of t if the
// stored row still has expectStatus and expectVersion. It bumps the version
// and reports whether the row was updated.
func (r Repo) UpdateTaskLifecycleTx(ctx context.Context, tx *sql.Tx, t domain.Task, expectStatus domain.TaskStatus, expectVersion int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET
status=?, assignee_id=?, qa_user_id=?, assigned_by=?, assigned_at=?, started_at=?, submitted_at=?, approved_at=?,
sent_to_client_at=?, client_approved_at=?, completed_at=?, archived_by=?, archived_at=?, version=version+1, updated_at=?
WHERE id=? AND status=? AND version=?`,
		string(t.Status), nullableStringPtr(t.AssigneeID), nullableStringPtr(t.QAUserID), nullableStringPtr(t.AssignedBy),
		nullableStringPtr(t.AssignedAt), nullableStringPtr(t.StartedAt), nullableStringPtr(t.SubmittedAt),
		nullableStringPtr(t.ApprovedAt), nullableStringPtr(t.SentToClientAt), nullableStringPtr(t.ClientApprovedAt),
		nullableStringPtr(t.CompletedAt), nullableStringPtr(t.ArchivedBy), nullableStringPtr(t.ArchivedAt), t.UpdatedAt,
		t.Seq, string(expectStatus), expectVersion)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type TaskFilters struct {
	ProjectID       string
	Status          string
	AssigneeID      string
	ParentID        string
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

func (r Repo) ListTasks(ctx context.Context, f TaskFilters) ([]domain.Task, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.ProjectID != "" {
		clauses = append(clauses, "t.project_id=?")
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		clauses = append(clauses, "t.status=?")
		args = append(args, f.Status)
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "t.assignee_id=?")
		args = append(args, f.AssigneeID)
	}
	if f.ParentID != "" {
		clauses = append(clauses, "p.public_id=?")
		args = append(args, f.ParentID)
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(t.created_at < ? OR (t.created_at = ? AND t.public_id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	query := fmt.Sprintf(`SELECT %s%s WHERE %s ORDER BY t.created_at DESC, t.public_id DESC`, taskColumns, taskFrom, strings.Join(clauses, " AND "))
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) CountTasksByStatus(ctx context.Context, projectID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM tasks WHERE project_id=? GROUP BY status`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
