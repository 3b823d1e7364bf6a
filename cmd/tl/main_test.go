package main

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/repo"
)

var setupOnce sync.Once

func run(t *testing.T, workspace string, args ...string) error {
	t.Helper()
	setupOnce.Do(func() {
		addPersistentFlags()
		registerCommands()
	})
	rootCmd.SetArgs(append([]string{"--workspace", workspace, "--project", "acme", "--quiet"}, args...))
	return rootCmd.ExecuteContext(context.Background())
}

func onlyTask(t *testing.T, workspace string) domain.Task {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	defer conn.Close()
	tasks, err := repo.Repo{DB: conn}.ListTasks(context.Background(), repo.TaskFilters{ProjectID: "acme"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestMoveCommandsAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, mc := range moveCommands {
		assert.False(t, seen[mc.use], mc.use)
		seen[mc.use] = true
		assert.NotEmpty(t, mc.perm, mc.use)
	}
	assert.True(t, seen["client-reject"])
}

func TestCLITaskFlow(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, run(t, workspace, "project", "create", "--id", "acme"))
	require.NoError(t, run(t, workspace, "task", "create", "--title", "Landing page"))
	task := onlyTask(t, workspace)
	assert.Equal(t, domain.StatusDraft, task.Status)

	require.NoError(t, run(t, workspace, "task", "start", task.ID))
	require.NoError(t, run(t, workspace, "checklist", "add", task.ID, "Hero", "section"))

	err := run(t, workspace, "task", "submit", task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checklist incomplete")

	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	items, err := repo.Repo{DB: conn}.ListChecklistItems(context.Background(), conn, task.Seq)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.Len(t, items, 1)
	assert.Equal(t, "Hero section", items[0].Text)

	require.NoError(t, run(t, workspace, "checklist", "check", task.ID, items[0].ID))
	require.NoError(t, run(t, workspace, "task", "submit", task.ID))
	assert.Equal(t, domain.StatusSubmittedForQA, onlyTask(t, workspace).Status)

	err = run(t, workspace, "task", "archive", task.ID)
	require.NoError(t, err)
	err = run(t, workspace, "task", "archive", task.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "archive")
}

func TestCLIRejectsUnauthorizedActor(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, run(t, workspace, "project", "create", "--id", "acme"))
	err := run(t, workspace, "--actor-id", "stranger", "task", "create", "--title", "Nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task.create")
	require.NoError(t, run(t, workspace, "--actor-id", "local-user"))
	assert.FileExists(t, filepath.Join(workspace, ".taskline", "taskline.db"))
}

func TestCLIProjectUpdate(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, run(t, workspace, "project", "create", "--id", "acme"))
	require.Error(t, run(t, workspace, "project", "update"))
	require.NoError(t, run(t, workspace, "project", "update", "--status", "paused", "--description", "On ice"))

	conn, err := db.Open(db.Config{Workspace: workspace})
	require.NoError(t, err)
	defer conn.Close()
	r := repo.Repo{DB: conn}
	p, err := r.GetProject(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "paused", p.Status)
	assert.Equal(t, "On ice", p.Description)

	evts, err := r.LatestEvents(context.Background(), repo.EventFilters{ProjectID: "acme", Type: "project.updated"})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "local-user", evts[0].ActorID)
}
