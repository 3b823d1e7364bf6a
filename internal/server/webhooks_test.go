package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/config"
	"taskline/internal/engine"
)

type delivery struct {
	header http.Header
	event  webhookEvent
}

type receiver struct {
	mu         sync.Mutex
	deliveries []delivery
	failNext   int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		http.Error(w, "try later", http.StatusServiceUnavailable)
		return
	}
	var evt webhookEvent
	if err := json.NewDecoder(req.Body).Decode(&evt); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.deliveries = append(r.deliveries, delivery{header: req.Header.Clone(), event: evt})
	w.WriteHeader(http.StatusNoContent)
}

func (r *receiver) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, d.event.Type)
	}
	return out
}

func (r *receiver) failTimes(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

func (r *receiver) first() delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deliveries[0]
}

func newReceiver(t *testing.T) (*receiver, string) {
	t.Helper()
	rcv := &receiver{}
	srv := httptest.NewServer(rcv)
	t.Cleanup(srv.Close)
	return rcv, srv.URL
}

func createTask(t *testing.T, e engine.Engine, title string) string {
	t.Helper()
	task, err := e.CreateTask(context.Background(), engine.TaskCreateOptions{
		ProjectID: testProject,
		Title:     title,
		ActorID:   testOwner,
	})
	require.NoError(t, err)
	return task.ID
}

func TestWebhookDeliversNewEvents(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	rcv, url := newReceiver(t)

	d := NewWebhookDispatcher(s.Engine, testProject, []config.WebhookConfig{{URL: url, Secret: "shh"}}, zerolog.Nop())
	require.True(t, d.Enabled())

	// the first pass only positions the cursor; earlier events are not replayed
	require.NoError(t, d.DispatchOnce(ctx))
	assert.Empty(t, rcv.types())

	taskID := createTask(t, s.Engine, "Hooked")
	_, err := s.Engine.Start(ctx, taskID, testOwner, "")
	require.NoError(t, err)
	require.NoError(t, d.DispatchOnce(ctx))

	require.Equal(t, []string{"task.created", "task.started"}, rcv.types())
	first := rcv.first()
	assert.Equal(t, "task.created", first.header.Get("X-Taskline-Event"))
	assert.Equal(t, testProject, first.header.Get("X-Taskline-Project"))
	assert.Equal(t, "shh", first.header.Get("X-Taskline-Secret"))
	assert.NotEmpty(t, first.header.Get("X-Taskline-Delivery"))
	assert.Equal(t, taskID, first.event.EntityID)
	assert.Equal(t, testOwner, first.event.ActorID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(first.event.Payload, &payload))
	assert.Equal(t, "Hooked", payload["title"])

	require.NoError(t, d.DispatchOnce(ctx))
	assert.Len(t, rcv.types(), 2)
}

func TestWebhookFiltersAndRetries(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	filtered, filteredURL := newReceiver(t)
	flaky, flakyURL := newReceiver(t)
	disabled := false
	off, offURL := newReceiver(t)

	d := NewWebhookDispatcher(s.Engine, testProject, []config.WebhookConfig{
		{URL: filteredURL, Events: []string{"task.started"}},
		{URL: flakyURL},
		{URL: offURL, Enabled: &disabled},
	}, zerolog.Nop())
	require.NoError(t, d.DispatchOnce(ctx))

	taskID := createTask(t, s.Engine, "Filtered")
	_, err := s.Engine.Start(ctx, taskID, testOwner, "")
	require.NoError(t, err)

	flaky.failTimes(1)
	require.NoError(t, d.DispatchOnce(ctx))
	assert.Equal(t, []string{"task.started"}, filtered.types())
	assert.Empty(t, flaky.types())

	require.NoError(t, d.DispatchOnce(ctx))
	assert.Equal(t, []string{"task.created", "task.started"}, flaky.types())
	assert.Equal(t, []string{"task.started"}, filtered.types())
	assert.Empty(t, off.types())
}

func TestWebhookDispatcherDisabledWithoutHooks(t *testing.T) {
	s := newTestServer(t)
	disabled := false
	d := NewWebhookDispatcher(s.Engine, testProject, []config.WebhookConfig{{URL: "http://example.invalid", Enabled: &disabled}}, zerolog.Nop())
	assert.False(t, d.Enabled())
	assert.False(t, NewWebhookDispatcher(s.Engine, "", nil, zerolog.Nop()).Enabled())
}

func TestWebhookRunStopsOnCancel(t *testing.T) {
	s := newTestServer(t)
	_, url := newReceiver(t)
	d := NewWebhookDispatcher(s.Engine, testProject, []config.WebhookConfig{{URL: url}}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Run(ctx), context.Canceled)
}
