package workflow_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskline/internal/domain"
	"taskline/internal/workflow"
)

func TestTransitionTableCoversEveryStatus(t *testing.T) {
	for _, s := range domain.AllStatuses {
		_, ok := workflow.Transitions[s]
		assert.True(t, ok, "status %s missing from table", s)
	}
	assert.Len(t, workflow.Transitions, len(domain.AllStatuses))
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, workflow.IsTerminal(domain.StatusCompleted))
	assert.True(t, workflow.IsTerminal(domain.StatusArchived))
	for _, s := range domain.AllStatuses {
		if s == domain.StatusCompleted || s == domain.StatusArchived {
			continue
		}
		assert.False(t, workflow.IsTerminal(s), s)
	}
	assert.False(t, workflow.IsTerminal(domain.TaskStatus("bogus")))
}

func TestCheckRejectsEveryNonEdge(t *testing.T) {
	for _, from := range domain.AllStatuses {
		for _, to := range domain.AllStatuses {
			err := workflow.Check(from, to)
			if workflow.CanTransition(from, to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.ErrorIs(t, err, workflow.ErrIllegalTransition)
			var te *workflow.TransitionError
			require.True(t, errors.As(err, &te))
			assert.Equal(t, workflow.OutcomeIllegal, te.Outcome)
		}
	}
}

func TestCheckUnknownStatus(t *testing.T) {
	err := workflow.Check("nope", domain.StatusDraft)
	assert.ErrorIs(t, err, workflow.ErrUnknownStatus)
	assert.NotErrorIs(t, err, workflow.ErrIllegalTransition)

	err = workflow.Check(domain.StatusDraft, "nope")
	assert.ErrorIs(t, err, workflow.ErrUnknownStatus)
}

func TestArchiveNotReachableMidReview(t *testing.T) {
	for _, s := range []domain.TaskStatus{domain.StatusQAInReview, domain.StatusSentToPM, domain.StatusSentToClient} {
		assert.False(t, workflow.CanTransition(s, domain.StatusArchived), s)
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		op        workflow.Operation
		from      domain.TaskStatus
		requirePM bool
		want      domain.TaskStatus
		wantErr   error
	}{
		{name: "start from draft", op: workflow.OpStart, from: domain.StatusDraft, want: domain.StatusInProgress},
		{name: "start from on hold", op: workflow.OpStart, from: domain.StatusOnHold, want: domain.StatusInProgress, wantErr: workflow.ErrIllegalTransition},
		{name: "approve with pm", op: workflow.OpQAApprove, from: domain.StatusQAInReview, requirePM: true, want: domain.StatusSentToPM},
		{name: "approve without pm", op: workflow.OpQAApprove, from: domain.StatusQAInReview, want: domain.StatusCompleted},
		{name: "return only from client rejected", op: workflow.OpReturnToProgress, from: domain.StatusSentToPM, want: domain.StatusInProgress, wantErr: workflow.ErrIllegalTransition},
		{name: "archive archived", op: workflow.OpArchive, from: domain.StatusArchived, want: domain.StatusArchived, wantErr: workflow.ErrIllegalTransition},
		{name: "complete approved", op: workflow.OpComplete, from: domain.StatusClientApproved, want: domain.StatusCompleted},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := workflow.Resolve(tc.op, tc.from, tc.requirePM)
			assert.Equal(t, tc.want, got)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestEveryOperationFollowsTheTable(t *testing.T) {
	ops := []workflow.Operation{
		workflow.OpStart, workflow.OpHold, workflow.OpResume, workflow.OpSubmitForQA,
		workflow.OpStartQAReview, workflow.OpQAReject, workflow.OpSendToPM, workflow.OpPMReject,
		workflow.OpSendToClient, workflow.OpClientApprove, workflow.OpClientReject,
		workflow.OpReturnToProgress, workflow.OpComplete, workflow.OpArchive,
	}
	for _, op := range ops {
		spec, ok := workflow.Spec(op)
		require.True(t, ok, op)
		for _, from := range spec.Sources {
			assert.True(t, workflow.CanTransition(from, spec.Target), "%s: %s -> %s", op, from, spec.Target)
		}
	}
}

func TestAvailable(t *testing.T) {
	assert.Equal(t, []workflow.Operation{workflow.OpStart, workflow.OpArchive}, workflow.Available(domain.StatusDraft))
	assert.Equal(t, []workflow.Operation{workflow.OpHold, workflow.OpSubmitForQA, workflow.OpArchive}, workflow.Available(domain.StatusInProgress))
	assert.Empty(t, workflow.Available(domain.StatusQAInReview))
	assert.Empty(t, workflow.Available(domain.StatusCompleted))
	assert.Equal(t, []workflow.Operation{workflow.OpSendToClient, workflow.OpPMReject}, workflow.Available(domain.StatusSentToPM))
}

func TestResultErr(t *testing.T) {
	task := domain.Task{Status: domain.StatusInProgress}
	assert.NoError(t, workflow.Applied(workflow.OpStart, domain.StatusDraft, task).Err())

	err := workflow.GuardFailed(workflow.OpSubmitForQA, task, domain.StatusSubmittedForQA, "checklist incomplete").Err()
	assert.ErrorIs(t, err, workflow.ErrGuardFailed)
	assert.Contains(t, err.Error(), "checklist incomplete")

	assert.ErrorIs(t, workflow.Conflict(workflow.OpStart, task, domain.StatusOnHold).Err(), workflow.ErrConcurrencyConflict)
}

func TestPersistenceWrap(t *testing.T) {
	base := errors.New("disk full")
	err := workflow.Persistence("write history", base)
	assert.ErrorIs(t, err, workflow.ErrPersistence)
	assert.ErrorIs(t, err, base)
	assert.NoError(t, workflow.Persistence("noop", nil))
}

func TestChecklistGate(t *testing.T) {
	assert.True(t, workflow.ChecklistComplete(nil))
	items := []domain.ChecklistItem{
		{Status: domain.ChecklistDone},
		{Status: domain.ChecklistTodo},
	}
	assert.False(t, workflow.ChecklistComplete(items))
	assert.Equal(t, "1/2", workflow.ChecklistProgress(items))
	items[1].Status = domain.ChecklistDone
	assert.True(t, workflow.ChecklistComplete(items))
	assert.Equal(t, "", workflow.ChecklistProgress(nil))
}

func TestMarkChecklistItem(t *testing.T) {
	item := domain.ChecklistItem{Status: domain.ChecklistTodo}
	done, err := workflow.MarkChecklistItem(item, domain.ChecklistDone, "alice", "2024-01-01T00:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, done.CompletedBy)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, "alice", *done.CompletedBy)

	todo, err := workflow.MarkChecklistItem(done, domain.ChecklistTodo, "bob", "2024-01-02T00:00:00Z")
	require.NoError(t, err)
	assert.Nil(t, todo.CompletedBy)
	assert.Nil(t, todo.CompletedAt)

	_, err = workflow.MarkChecklistItem(item, "maybe", "alice", "")
	assert.Error(t, err)
}
