package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/engine/auth"
	"taskline/internal/migrate"
	"taskline/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	return repo.Repo{DB: conn}
}

func TestResolveCreatesNamedProject(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()

	res, err := Resolve(ctx, r, "acme", "")
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "acme", res.ProjectID)
	assert.Equal(t, "acme", res.Config.Project.ID)
	assert.True(t, res.Config.Workflow.PMReviewRequired())

	ok, err := auth.Service{DB: r.DB}.ActorHasPermission(ctx, r.DB, "acme", DefaultActor, auth.PermRBACManage)
	require.NoError(t, err)
	assert.True(t, ok)

	evts, err := r.LatestEvents(ctx, repo.EventFilters{ProjectID: "acme", Type: "project.init"})
	require.NoError(t, err)
	assert.Len(t, evts, 1)

	again, err := Resolve(ctx, r, "", "someone")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, "acme", again.ProjectID)
}

func TestResolveKeepsStoredConfig(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := Resolve(ctx, r, "acme", "owner-1")
	require.NoError(t, err)

	cfg := config.Default("acme")
	off := false
	cfg.Workflow.RequirePMReview = &off
	require.NoError(t, r.UpsertProjectConfig(ctx, "acme", cfg))

	res, err := Resolve(ctx, r, "acme", "owner-1")
	require.NoError(t, err)
	assert.False(t, res.Config.Workflow.PMReviewRequired())
}

func TestResolveNeedsProjectWhenAmbiguous(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	_, err := Resolve(ctx, r, "", "owner-1")
	require.Error(t, err)

	_, err = Resolve(ctx, r, "a", "owner-1")
	require.NoError(t, err)
	_, err = Resolve(ctx, r, "b", "owner-1")
	require.NoError(t, err)
	_, err = Resolve(ctx, r, "", "owner-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple projects")
}
