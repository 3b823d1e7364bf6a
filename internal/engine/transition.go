package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/history"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

var ErrActorRequired = errors.New("actor is required")

// guardFunc returns a non-empty reason when the move must not happen. It
// runs once before the transaction and again inside it, reading through q.
type guardFunc func(ctx context.Context, q repo.Querier, t domain.Task, cfg *config.Config) (string, error)

type move struct {
	op      workflow.Operation
	actorID string
	notes   string // replaces the operation's default history note
	payload events.EventPayload
	guards  []guardFunc
	// viaReview is set only by CompleteQAReview.
	viaReview bool
	// inTx runs inside the commit transaction once the guards pass. A
	// non-empty reason turns the move into a guard failure.
	inTx  func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (string, error)
	apply func(t *domain.Task, now string)
}

func (e Engine) transition(ctx context.Context, taskID string, m move) (workflow.Result, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return workflow.Result{}, err
	}
	return e.commit(ctx, t, m)
}

// evaluate resolves the target of m from t.Status and runs its guards. A
// routine rejection is returned as a Result; the error is for faults only.
func (e Engine) evaluate(ctx context.Context, q repo.Querier, t domain.Task, m move) (domain.TaskStatus, *workflow.Result, error) {
	cfg, err := e.projectConfig(ctx, q, t.ProjectID)
	if err != nil {
		return "", nil, err
	}
	to, err := workflow.Resolve(m.op, t.Status, cfg.Workflow.PMReviewRequired())
	var te *workflow.TransitionError
	if errors.As(err, &te) {
		r := workflow.Illegal(m.op, t, to, te.Reason)
		return to, &r, nil
	}
	if err != nil {
		return to, nil, err
	}
	if spec, _ := workflow.Spec(m.op); spec.ViaReview && !m.viaReview {
		r := workflow.GuardFailed(m.op, t, to, "only reachable by completing the open QA review")
		return to, &r, nil
	}
	for _, g := range m.guards {
		reason, err := g(ctx, q, t, cfg)
		if err != nil {
			return to, nil, err
		}
		if reason != "" {
			r := workflow.GuardFailed(m.op, t, to, reason)
			return to, &r, nil
		}
	}
	return to, nil, nil
}

// commit runs m against the task last seen as snap. The task is re-read and
// re-checked inside the transaction; the status write is a compare-and-swap
// so a concurrent change yields a conflict instead of a lost update.
func (e Engine) commit(ctx context.Context, snap domain.Task, m move) (workflow.Result, error) {
	if strings.TrimSpace(m.actorID) == "" {
		return workflow.Result{}, ErrActorRequired
	}
	if _, rej, err := e.evaluate(ctx, e.DB, snap, m); err != nil || rej != nil {
		if err != nil {
			return workflow.Result{}, err
		}
		return *rej, nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return workflow.Result{}, workflow.Persistence("begin", err)
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskBySeq(ctx, tx, snap.Seq)
	if err != nil {
		return workflow.Result{}, workflow.Persistence("reload task", err)
	}
	to, rej, err := e.evaluate(ctx, tx, t, m)
	if err != nil {
		if errors.Is(err, workflow.ErrUnknownStatus) {
			return workflow.Result{}, err
		}
		return workflow.Result{}, workflow.Persistence("evaluate guards", err)
	}
	if t.Status != snap.Status {
		if rej != nil && rej.Outcome == workflow.OutcomeIllegal {
			return *rej, nil
		}
		return workflow.Conflict(m.op, t, to), nil
	}
	if rej != nil {
		return *rej, nil
	}

	from := t.Status
	now := e.stamp()
	if m.inTx != nil {
		reason, err := m.inTx(ctx, tx, t, now)
		if repo.IsUniqueViolation(err) {
			return workflow.GuardFailed(m.op, t, to, "a QA review is already open for this task"), nil
		}
		if err != nil {
			return workflow.Result{}, workflow.Persistence(string(m.op), err)
		}
		if reason != "" {
			return workflow.GuardFailed(m.op, t, to, reason), nil
		}
	}

	next := t
	next.Status = to
	next.UpdatedAt = now
	applyStamps(&next, to, m.actorID, now)
	if m.apply != nil {
		m.apply(&next, now)
	}
	ok, err := e.Repo.UpdateTaskLifecycleTx(ctx, tx, next, from, t.Version)
	if err != nil {
		return workflow.Result{}, workflow.Persistence("update task", err)
	}
	if !ok {
		return workflow.Conflict(m.op, t, to), nil
	}

	spec, _ := workflow.Spec(m.op)
	notes := spec.Note
	if m.notes != "" {
		notes = m.notes
	}
	if err := e.recorder().Record(ctx, tx, history.Entry{TaskSeq: t.Seq, From: from, To: to, ActorID: m.actorID, Notes: notes}); err != nil {
		return workflow.Result{}, workflow.Persistence("record history", err)
	}
	if err := tx.Commit(); err != nil {
		return workflow.Result{}, workflow.Persistence("commit", err)
	}
	next.Version = t.Version + 1

	payload := events.EventPayload{"task_id": next.ID, "from": from, "to": to, "notes": notes}
	for k, v := range m.payload {
		payload[k] = v
	}
	e.publish(ctx, events.Event{
		Type:       spec.Event,
		ProjectID:  next.ProjectID,
		EntityKind: "task",
		EntityID:   next.ID,
		ActorID:    m.actorID,
		Payload:    payload,
	})
	e.Logger.Debug().Str("task_id", next.ID).Str("from", string(from)).Str("to", string(to)).Str("actor", m.actorID).Msg("task transitioned")
	return workflow.Applied(m.op, from, next), nil
}

func (e Engine) recorder() history.Sink {
	if e.History != nil {
		return e.History
	}
	return history.Recorder{Now: e.Now}
}

// applyStamps sets the lifecycle timestamps tied to entering a status.
func applyStamps(t *domain.Task, to domain.TaskStatus, actorID, now string) {
	switch to {
	case domain.StatusInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.StatusSubmittedForQA:
		t.SubmittedAt = &now
	case domain.StatusSentToClient:
		t.SentToClientAt = &now
	case domain.StatusClientApproved:
		t.ClientApprovedAt = &now
	case domain.StatusCompleted:
		t.CompletedAt = &now
	case domain.StatusArchived:
		t.ArchivedAt = &now
		t.ArchivedBy = &actorID
	}
}

func (e Engine) checklistGate(ctx context.Context, q repo.Querier, t domain.Task, _ *config.Config) (string, error) {
	items, err := e.Repo.ListChecklistItems(ctx, q, t.Seq)
	if err != nil {
		return "", fmt.Errorf("load checklist: %w", err)
	}
	if !workflow.ChecklistComplete(items) {
		return fmt.Sprintf("checklist incomplete: %s items done", workflow.ChecklistProgress(items)), nil
	}
	return "", nil
}

func (e Engine) noOpenReview(ctx context.Context, q repo.Querier, t domain.Task, _ *config.Config) (string, error) {
	_, err := e.Repo.OpenQAReview(ctx, q, t.Seq)
	if errors.Is(err, repo.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load open qa review: %w", err)
	}
	return "a QA review is already open for this task", nil
}

// archiveGuard refuses tasks that still own an open QA review. The table
// keeps qa_in_review away from archived; this also covers a session left
// open on a task in another status.
func (e Engine) archiveGuard(ctx context.Context, q repo.Querier, t domain.Task, cfg *config.Config) (string, error) {
	reason, err := e.noOpenReview(ctx, q, t, cfg)
	if reason != "" {
		reason = "task has an open QA review"
	}
	return reason, err
}

func (e Engine) Start(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpStart, actorID: actorID, notes: notes})
}

// ToggleHold puts an in-progress task on hold or resumes a held one.
func (e Engine) ToggleHold(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return workflow.Result{}, err
	}
	op := workflow.OpHold
	if t.Status == domain.StatusOnHold {
		op = workflow.OpResume
	}
	return e.commit(ctx, t, move{op: op, actorID: actorID, notes: notes})
}

// SubmitForQA requires every checklist item to be done, checked again at
// commit time.
func (e Engine) SubmitForQA(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{
		op:      workflow.OpSubmitForQA,
		actorID: actorID,
		notes:   notes,
		guards:  []guardFunc{e.checklistGate},
	})
}

// SendToPM exists for callers that name the step directly. The move is only
// taken through CompleteQAReview, so this always reports a rejection.
func (e Engine) SendToPM(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpSendToPM, actorID: actorID, notes: notes})
}

func (e Engine) PMReject(ctx context.Context, taskID, actorID, reason string) (workflow.Result, error) {
	return e.reject(ctx, taskID, actorID, reason, workflow.OpPMReject, "PM rejected: ")
}

func (e Engine) SendToClient(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpSendToClient, actorID: actorID, notes: notes})
}

func (e Engine) ClientApprove(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpClientApprove, actorID: actorID, notes: notes})
}

func (e Engine) ClientReject(ctx context.Context, taskID, actorID, reason string) (workflow.Result, error) {
	return e.reject(ctx, taskID, actorID, reason, workflow.OpClientReject, "Client rejected: ")
}

func (e Engine) reject(ctx context.Context, taskID, actorID, reason string, op workflow.Operation, prefix string) (workflow.Result, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return workflow.Result{}, err
		}
		spec, _ := workflow.Spec(op)
		return workflow.GuardFailed(op, t, spec.Target, "a reason is required to reject"), nil
	}
	return e.transition(ctx, taskID, move{
		op:      op,
		actorID: actorID,
		notes:   prefix + reason,
		payload: events.EventPayload{"reason": reason},
	})
}

func (e Engine) ReturnToProgress(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpReturnToProgress, actorID: actorID, notes: notes})
}

func (e Engine) Complete(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{op: workflow.OpComplete, actorID: actorID, notes: notes})
}

// Archive withdraws a task. Tasks with an open QA review are refused.
func (e Engine) Archive(ctx context.Context, taskID, actorID, notes string) (workflow.Result, error) {
	return e.transition(ctx, taskID, move{
		op:      workflow.OpArchive,
		actorID: actorID,
		notes:   notes,
		guards:  []guardFunc{e.archiveGuard},
	})
}
