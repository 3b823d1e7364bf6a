package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/migrate"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

func newCommitEngine(t *testing.T) (Engine, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)
	cfg := config.Default("p1")
	e := New(conn, cfg)
	_, err = e.InitProject(ctx, "p1", "", "owner", cfg)
	require.NoError(t, err)
	return e, ctx
}

func historyLen(t *testing.T, e Engine, ctx context.Context, taskID string) int {
	t.Helper()
	entries, err := e.TaskHistory(ctx, taskID)
	require.NoError(t, err)
	return len(entries)
}

func TestCommitStaleSnapshotConflicts(t *testing.T) {
	e, ctx := newCommitEngine(t)
	task, err := e.CreateTask(ctx, TaskCreateOptions{ProjectID: "p1", Title: "Raced", ActorID: "owner"})
	require.NoError(t, err)

	// Another caller starts the task after this one read it as draft.
	stale := task
	res, err := e.Start(ctx, task.ID, "dev-2", "")
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = e.commit(ctx, stale, move{op: workflow.OpArchive, actorID: "owner", guards: []guardFunc{e.archiveGuard}})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeConflict, res.Outcome)
	assert.ErrorIs(t, res.Err(), workflow.ErrConcurrencyConflict)

	got, err := e.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, 1, historyLen(t, e, ctx, task.ID))
}

func TestCommitStaleSnapshotNowIllegal(t *testing.T) {
	e, ctx := newCommitEngine(t)
	task, err := e.CreateTask(ctx, TaskCreateOptions{ProjectID: "p1", Title: "Raced", ActorID: "owner"})
	require.NoError(t, err)

	stale := task
	res, err := e.Archive(ctx, task.ID, "dev-2", "")
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = e.commit(ctx, stale, move{op: workflow.OpStart, actorID: "owner"})
	require.NoError(t, err)
	assert.Equal(t, workflow.OutcomeIllegal, res.Outcome)
	assert.Equal(t, 1, historyLen(t, e, ctx, task.ID))
}

func TestChecklistRecheckedInsideTransaction(t *testing.T) {
	e, ctx := newCommitEngine(t)
	task, err := e.CreateTask(ctx, TaskCreateOptions{ProjectID: "p1", Title: "Gate", ActorID: "owner"})
	require.NoError(t, err)
	item, err := e.AddChecklistItem(ctx, task.ID, "Tests green", "owner")
	require.NoError(t, err)
	_, err = e.SetChecklistItemStatus(ctx, task.ID, item.ID, domain.ChecklistDone, "owner")
	require.NoError(t, err)
	res, err := e.Start(ctx, task.ID, "owner", "")
	require.NoError(t, err)
	require.True(t, res.OK())

	// The item is reopened after the gate passed on the snapshot and before
	// the transaction begins.
	calls := 0
	reopen := func(ctx context.Context, _ repo.Querier, _ domain.Task, _ *config.Config) (string, error) {
		calls++
		if calls == 1 {
			if _, err := e.SetChecklistItemStatus(ctx, task.ID, item.ID, domain.ChecklistTodo, "dev-2"); err != nil {
				return "", err
			}
		}
		return "", nil
	}
	res, err = e.transition(ctx, task.ID, move{
		op:      workflow.OpSubmitForQA,
		actorID: "owner",
		guards:  []guardFunc{e.checklistGate, reopen},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, workflow.OutcomeGuardFailed, res.Outcome)
	assert.Contains(t, res.Reason, "checklist incomplete: 0/1")

	got, err := e.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
	assert.Equal(t, 1, historyLen(t, e, ctx, task.ID))
}
