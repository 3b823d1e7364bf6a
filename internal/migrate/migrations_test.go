package migrate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/db"
	"taskline/internal/migrate"
)

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()

	latest, err := migrate.Latest()
	require.NoError(t, err)
	v, err := migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)
	v, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, latest, v)
}

func TestStatusHistoryIsAppendOnly(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	stmts := []string{
		`INSERT INTO projects(id,kind,status,created_at) VALUES ('p','client-project','active','2024-01-01T00:00:00Z')`,
		`INSERT INTO tasks(public_id,project_id,title,status,created_by,created_at,updated_at) VALUES ('t','p','x','draft','a','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`,
		`INSERT INTO task_status_history(task_id,from_status,to_status,actor_id,created_at) VALUES (1,'draft','in_progress','a','2024-01-01T00:00:00Z')`,
	}
	for _, s := range stmts {
		_, err := conn.ExecContext(ctx, s)
		require.NoError(t, err)
	}
	_, err = conn.ExecContext(ctx, `UPDATE task_status_history SET notes='edited'`)
	assert.ErrorContains(t, err, "append-only")
	_, err = conn.ExecContext(ctx, `DELETE FROM task_status_history`)
	assert.ErrorContains(t, err, "append-only")
}

func TestChecklistCompletionColumnsMatchStatus(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	_, err = conn.ExecContext(ctx, `INSERT INTO projects(id,kind,status,created_at) VALUES ('p','client-project','active','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO tasks(public_id,project_id,title,status,created_by,created_at,updated_at) VALUES ('t','p','x','draft','a','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO checklist_items(public_id,task_id,text,status,created_at) VALUES ('c',1,'x','done','2024-01-01T00:00:00Z')`)
	assert.Error(t, err)
}

func TestOneOpenQAReviewPerTask(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	for _, s := range []string{
		`INSERT INTO projects(id,kind,status,created_at) VALUES ('p','client-project','active','2024-01-01T00:00:00Z')`,
		`INSERT INTO tasks(public_id,project_id,title,status,created_by,created_at,updated_at) VALUES ('t','p','x','qa_in_review','a','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`,
		`INSERT INTO qa_reviews(public_id,task_id,reviewer_id,status,started_at) VALUES ('r1',1,'qa','rejected','2024-01-01T00:00:00Z')`,
		`INSERT INTO qa_reviews(public_id,task_id,reviewer_id,status,started_at) VALUES ('r2',1,'qa','in_progress','2024-01-01T00:00:00Z')`,
	} {
		_, err := conn.ExecContext(ctx, s)
		require.NoError(t, err)
	}
	_, err = conn.ExecContext(ctx, `INSERT INTO qa_reviews(public_id,task_id,reviewer_id,status,started_at) VALUES ('r3',1,'qa','in_progress','2024-01-01T00:00:00Z')`)
	assert.Error(t, err)
}
