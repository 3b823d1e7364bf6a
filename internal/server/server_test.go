package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/db"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/migrate"
	"taskline/internal/workflow"
)

const (
	testProject = "acme"
	testSecret  = "test-secret"
	testOwner   = "owner-1"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = migrate.Migrate(ctx, conn)
	require.NoError(t, err)

	cfg := config.Default(testProject)
	e := engine.New(conn, cfg)
	_, err = e.InitProject(ctx, testProject, "", testOwner, cfg)
	require.NoError(t, err)
	require.NoError(t, e.GrantRole(ctx, testProject, "dev-1", "developer", testOwner))
	require.NoError(t, e.GrantRole(ctx, testProject, "qa-1", "qa", testOwner))

	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true, DevLogin: true},
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		_ = conn.Close()
	})
	return &testServer{URL: srv.URL + "/v0", Engine: e, client: srv.Client()}
}

func bearer(t *testing.T, actorID string, permissions ...string) map[string]string {
	t.Helper()
	token, err := signDevToken(testSecret, actorID, permissions)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader = http.NoBody
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := s.client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v), string(data))
	return v
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func (s *testServer) createTask(t *testing.T, title string) domain.Task {
	t.Helper()
	res, data := s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/tasks", map[string]any{"title": title}, bearer(t, testOwner))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	return decode[domain.Task](t, data)
}

func (s *testServer) action(t *testing.T, taskID, action string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	return s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/tasks/"+taskID+"/actions/"+action, body, headers)
}

func TestHealthAndOpenAPIArePublic(t *testing.T) {
	s := newTestServer(t)
	res, data := s.doJSON(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "ok", decode[map[string]any](t, data)["status"])

	res, data = s.doJSON(t, http.MethodGet, "/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/projects/{project_id}/tasks/{task_id}/actions/{action}")

	doc := decode[struct {
		Components struct {
			Schemas map[string]json.RawMessage `json:"schemas"`
		} `json:"components"`
	}](t, data)
	assert.Contains(t, doc.Components.Schemas, "QACheck")
	assert.Contains(t, doc.Components.Schemas, "QATemplateCheck")
}

func TestTaskRoutesBindPathParams(t *testing.T) {
	s := newTestServer(t)
	task := s.createTask(t, "Pricing page")
	base := "/projects/" + testProject + "/tasks/" + task.ID
	owner := bearer(t, testOwner)

	res, data := s.doJSON(t, http.MethodPost, base+"/assign", map[string]any{"assignee_id": "dev-1"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assigned := decode[TransitionResponse](t, data)
	assert.Equal(t, task.ID, assigned.Task.ID)
	require.NotNil(t, assigned.Task.AssigneeID)
	assert.Equal(t, "dev-1", *assigned.Task.AssigneeID)

	res, data = s.doJSON(t, http.MethodPost, base+"/checklist", map[string]any{"text": "Copy reviewed"}, owner)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	item := decode[domain.ChecklistItem](t, data)

	res, data = s.doJSON(t, http.MethodPatch, base+"/checklist/"+item.ID, map[string]any{"status": "done"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.ChecklistDone, decode[domain.ChecklistItem](t, data).Status)

	res, data = s.doJSON(t, http.MethodDelete, base+"/checklist/"+item.ID, nil, owner)
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = s.action(t, task.ID, "start", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	started := decode[TransitionResponse](t, data)
	assert.Equal(t, task.ID, started.Task.ID)
	assert.Equal(t, domain.StatusInProgress, started.To)

	res, data = s.action(t, task.ID, "submit", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodPost, base+"/qa-reviews", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	review := decode[TransitionResponse](t, data).Review
	require.NotNil(t, review)
	assert.Equal(t, task.ID, review.TaskID)
}

func TestAuthenticationRequired(t *testing.T) {
	s := newTestServer(t)
	res, data := s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decode[errorEnvelope](t, data).Error.Code)

	res, data = s.doJSON(t, http.MethodGet, "/me", nil, map[string]string{"Authorization": "Bearer nope"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decode[errorEnvelope](t, data).Error.Code)
}

func TestPermissionChecks(t *testing.T) {
	s := newTestServer(t)
	res, data := s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/tasks", map[string]any{"title": "x"}, bearer(t, "stranger"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "forbidden", env.Error.Code)
	assert.Equal(t, "task.create", env.Error.Details["permission"])

	res, data = s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/tasks", map[string]any{"title": "x"}, bearer(t, "bot", "task.create"))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	task := decode[domain.Task](t, data)
	res, data = s.action(t, task.ID, "start", nil, bearer(t, "qa-1"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
}

func TestLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	task := s.createTask(t, "Landing page")
	assert.Equal(t, domain.StatusDraft, task.Status)
	base := "/projects/" + testProject + "/tasks/" + task.ID
	dev := bearer(t, "dev-1")
	qa := bearer(t, "qa-1")
	owner := bearer(t, testOwner)

	res, data := s.doJSON(t, http.MethodPost, base+"/checklist", map[string]any{"text": "Hero section"}, dev)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	item := decode[domain.ChecklistItem](t, data)

	res, data = s.action(t, task.ID, "start", map[string]any{"notes": "picking it up"}, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusInProgress, decode[TransitionResponse](t, data).To)

	res, data = s.action(t, task.ID, "submit", nil, dev)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	env := decode[errorEnvelope](t, data)
	assert.Equal(t, "guard_failed", env.Error.Code)
	assert.Contains(t, env.Error.Message, "0/1")
	assert.Equal(t, "submit_for_qa", env.Error.Details["operation"])

	res, data = s.doJSON(t, http.MethodPatch, base+"/checklist/"+item.ID, map[string]any{"status": "done"}, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.action(t, task.ID, "submit", nil, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodPost, base+"/qa-reviews", map[string]any{"template": "standard"}, qa)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	started := decode[TransitionResponse](t, data)
	require.NotNil(t, started.Review)
	assert.Equal(t, domain.StatusQAInReview, started.To)
	assert.Len(t, started.Review.Checks, 3)

	res, data = s.doJSON(t, http.MethodPost, base+"/qa-reviews", nil, qa)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "illegal_transition", decode[errorEnvelope](t, data).Error.Code)

	complete := "/projects/" + testProject + "/qa-reviews/" + started.Review.ID + "/complete"
	res, data = s.doJSON(t, http.MethodPost, complete, map[string]any{
		"approved": true,
		"results":  map[string]any{"acceptance": map[string]any{"passed": true}},
	}, qa)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Contains(t, decode[errorEnvelope](t, data).Error.Message, "regression")

	res, data = s.doJSON(t, http.MethodPost, complete, map[string]any{
		"approved": true,
		"results": map[string]any{
			"acceptance": map[string]any{"passed": true},
			"regression": map[string]any{"passed": true},
		},
		"notes": "looks good",
	}, qa)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	approved := decode[TransitionResponse](t, data)
	assert.Equal(t, domain.StatusSentToPM, approved.To)
	assert.Equal(t, domain.QAReviewApproved, approved.Review.Status)

	res, data = s.action(t, task.ID, "send-to-client", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.action(t, task.ID, "client-reject", nil, owner)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, "guard_failed", decode[errorEnvelope](t, data).Error.Code)

	res, data = s.action(t, task.ID, "client-reject", map[string]any{"reason": "Wrong colors"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusClientRejected, decode[TransitionResponse](t, data).To)

	res, data = s.action(t, task.ID, "return", nil, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodGet, base+"/history", nil, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	history := decode[[]domain.StatusHistoryEntry](t, data)
	require.Len(t, history, 7)
	last := history[len(history)-1]
	assert.Equal(t, domain.StatusClientRejected, last.FromStatus)
	assert.Equal(t, domain.StatusInProgress, last.ToStatus)
	require.NotNil(t, history[5].Notes)
	assert.Equal(t, "Client rejected: Wrong colors", *history[5].Notes)

	res, data = s.doJSON(t, http.MethodGet, base+"/qa-reviews", nil, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.QAReview](t, data), 1)

	res, data = s.doJSON(t, http.MethodGet, base+"/transitions", nil, dev)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	transitions := decode[TransitionsResponse](t, data)
	assert.Equal(t, domain.StatusInProgress, transitions.Status)
	assert.NotEmpty(t, transitions.Items)
}

func TestArchiveTwiceIsIllegal(t *testing.T) {
	s := newTestServer(t)
	task := s.createTask(t, "Old idea")
	owner := bearer(t, testOwner)

	res, data := s.action(t, task.ID, "archive", map[string]any{"notes": "dropped"}, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, domain.StatusArchived, decode[TransitionResponse](t, data).Task.Status)

	res, data = s.action(t, task.ID, "archive", nil, owner)
	require.Equal(t, http.StatusUnprocessableEntity, res.StatusCode, string(data))
	assert.Equal(t, string(workflow.OutcomeIllegal), decode[errorEnvelope](t, data).Error.Code)

	res, data = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks/"+task.ID+"/history", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Len(t, decode[[]domain.StatusHistoryEntry](t, data), 1)
}

func TestTaskScopedToProject(t *testing.T) {
	s := newTestServer(t)
	task := s.createTask(t, "Scoped")

	res, _ := s.doJSON(t, http.MethodGet, "/projects/other/tasks/"+task.ID, nil, bearer(t, testOwner, "task.read"))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)

	res, _ = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks/missing", nil, bearer(t, testOwner))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestListTasksPaginates(t *testing.T) {
	s := newTestServer(t)
	for _, title := range []string{"a", "b", "c"} {
		s.createTask(t, title)
	}
	owner := bearer(t, testOwner)
	res, data := s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks?limit=2", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedTasks](t, data)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.NextCursor)

	res, data = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks?limit=2&cursor="+page.NextCursor, nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	next := decode[paginatedTasks](t, data)
	require.Len(t, next.Items, 1)
	assert.Empty(t, next.NextCursor)

	res, _ = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/tasks?status=bogus", nil, owner)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventsAndProject(t *testing.T) {
	s := newTestServer(t)
	task := s.createTask(t, "Evented")
	owner := bearer(t, testOwner)
	res, data := s.action(t, task.ID, "start", nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/events?entity_kind=task&entity_id="+task.ID, nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	page := decode[paginatedEvents](t, data)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "task.started", page.Items[0].Type)
	assert.Equal(t, "task.created", page.Items[1].Type)

	res, data = s.doJSON(t, http.MethodGet, "/projects/"+testProject, nil, owner)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	project := decode[ProjectResponse](t, data)
	assert.Equal(t, 1, project.TaskCounts["in_progress"])

	res, _ = s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/events", nil, bearer(t, "dev-1"))
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestWhoAmIAndCredentials(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, data := s.doJSON(t, http.MethodGet, "/projects/"+testProject+"/me", nil, bearer(t, "qa-1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	who := decode[WhoAmIResponse](t, data)
	assert.Equal(t, []string{"qa"}, who.Roles)
	assert.Contains(t, who.Permissions, "task.qa_review")
	assert.Equal(t, "jwt", who.Source)

	tx, err := s.Engine.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, secret, err := s.Engine.Repo.IssueAPIKey(ctx, tx, "dev-1", "ci")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	res, data = s.doJSON(t, http.MethodGet, "/me", nil, map[string]string{"X-Api-Key": secret})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	who = decode[WhoAmIResponse](t, data)
	assert.Equal(t, "dev-1", who.ActorID)
	assert.Equal(t, "api_key", who.Source)

	res, data = s.doJSON(t, http.MethodGet, "/me", nil, map[string]string{"X-Actor-Id": "legacy"})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "legacy_header", decode[WhoAmIResponse](t, data).Source)

	res, data = s.doJSON(t, http.MethodPost, "/auth/dev/login", map[string]any{"actor_id": "pm-1", "permissions": []string{"task.read"}}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	token := decode[DevLoginResponse](t, data).Token
	principal, err := authenticateJWT(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "pm-1", principal.ActorID)
	assert.Equal(t, []string{"task.read"}, principal.Permissions)
}

func TestGrantRoleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	res, data := s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/rbac/grant", map[string]any{"actor_id": "pm-1", "role_id": "pm"}, bearer(t, "dev-1"))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/rbac/grant", map[string]any{"actor_id": "pm-1", "role_id": "pm"}, bearer(t, testOwner))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))

	res, data = s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/rbac/grant", map[string]any{"actor_id": "pm-1", "role_id": "nope"}, bearer(t, testOwner))
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	task := s.createTask(t, "Needs PM")
	res, data = s.doJSON(t, http.MethodPost, "/projects/"+testProject+"/tasks/"+task.ID+"/assign", map[string]any{"assignee_id": "dev-1"}, bearer(t, "pm-1"))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assigned := decode[TransitionResponse](t, data)
	require.NotNil(t, assigned.Task.AssigneeID)
	assert.Equal(t, "dev-1", *assigned.Task.AssigneeID)
}
