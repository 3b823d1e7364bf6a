package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
	"taskline/internal/repo"
	"taskline/internal/workflow"
)

type StartQAReviewOptions struct {
	// Template names a qa.templates entry whose checks are copied into the
	// session. Empty means a session without checks.
	Template string
	Notes    string
}

// StartQAReview opens a review session and moves the task into QA review.
// The one-open-session rule is checked inside the transaction and backed by
// a unique index, so concurrent callers get exactly one success.
func (e Engine) StartQAReview(ctx context.Context, taskID, reviewerID string, opts StartQAReviewOptions) (workflow.Result, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return workflow.Result{}, err
	}
	var review domain.QAReview
	payload := events.EventPayload{"reviewer_id": reviewerID}
	templateGuard := func(_ context.Context, _ repo.Querier, _ domain.Task, cfg *config.Config) (string, error) {
		if opts.Template == "" {
			return "", nil
		}
		if _, ok := cfg.QATemplate(opts.Template); !ok {
			return fmt.Sprintf("unknown QA template %q", opts.Template), nil
		}
		return "", nil
	}
	res, err := e.commit(ctx, t, move{
		op:      workflow.OpStartQAReview,
		actorID: reviewerID,
		notes:   opts.Notes,
		payload: payload,
		guards:  []guardFunc{templateGuard, e.noOpenReview},
		inTx: func(ctx context.Context, tx *sql.Tx, t domain.Task, now string) (string, error) {
			cfg, err := e.projectConfig(ctx, tx, t.ProjectID)
			if err != nil {
				return "", err
			}
			checks := []domain.QACheck{}
			if opts.Template != "" {
				tpl, ok := cfg.QATemplate(opts.Template)
				if !ok {
					return fmt.Sprintf("unknown QA template %q", opts.Template), nil
				}
				for _, c := range tpl.Checks {
					checks = append(checks, domain.QACheck{Key: c.Key, Label: c.Label, Required: c.Required})
				}
			}
			review = domain.QAReview{
				ID:         uuid.NewString(),
				TaskSeq:    t.Seq,
				TaskID:     t.ID,
				ReviewerID: reviewerID,
				Template:   optionalString(opts.Template),
				Status:     domain.QAReviewInProgress,
				Checks:     checks,
				Results:    map[string]domain.QACheckResult{},
				StartedAt:  now,
			}
			seq, err := e.Repo.InsertQAReviewTx(ctx, tx, review)
			if err != nil {
				return "", err
			}
			review.Seq = seq
			payload["review_id"] = review.ID
			return "", nil
		},
		apply: func(t *domain.Task, _ string) {
			t.QAUserID = &reviewerID
		},
	})
	if err != nil || !res.OK() {
		return res, err
	}
	res.Review = &review
	return res, nil
}

type CompleteQAReviewOptions struct {
	Approved bool
	Results  map[string]domain.QACheckResult
	Notes    string
}

// CompleteQAReview closes an open session and resolves the task: approval
// moves it on to PM review (or straight to completed when the project skips
// PM review), rejection sends it back to in progress.
func (e Engine) CompleteQAReview(ctx context.Context, reviewID string, opts CompleteQAReviewOptions, actorID string) (workflow.Result, error) {
	rv, err := e.Repo.GetQAReview(ctx, e.DB, reviewID)
	if err != nil {
		return workflow.Result{}, err
	}
	t, err := e.Repo.GetTaskBySeq(ctx, e.DB, rv.TaskSeq)
	if err != nil {
		return workflow.Result{}, err
	}
	op := workflow.OpQAReject
	if opts.Approved {
		op = workflow.OpQAApprove
	}
	spec, _ := workflow.Spec(op)
	if rv.Status != domain.QAReviewInProgress {
		res := workflow.GuardFailed(op, t, spec.Target, fmt.Sprintf("qa review is already %s", rv.Status))
		res.Review = &rv
		return res, nil
	}
	if reason := checkResults(rv.Checks, opts.Results, opts.Approved); reason != "" {
		res := workflow.GuardFailed(op, t, spec.Target, reason)
		res.Review = &rv
		return res, nil
	}

	notes := strings.TrimSpace(opts.Notes)
	historyNote := "QA approved"
	if opts.Approved && notes != "" {
		historyNote = "QA approved: " + notes
	}
	if !opts.Approved {
		reason := notes
		if reason == "" {
			reason = "Issues found"
		}
		historyNote = "QA rejected: " + reason
	}

	var closed domain.QAReview
	res, err := e.commit(ctx, t, move{
		op:        op,
		actorID:   actorID,
		notes:     historyNote,
		viaReview: true,
		payload:   events.EventPayload{"review_id": rv.ID, "approved": opts.Approved},
		inTx: func(ctx context.Context, tx *sql.Tx, _ domain.Task, now string) (string, error) {
			cur, err := e.Repo.GetQAReview(ctx, tx, reviewID)
			if err != nil {
				return "", err
			}
			if cur.Status != domain.QAReviewInProgress {
				return fmt.Sprintf("qa review is already %s", cur.Status), nil
			}
			cur.Status = domain.QAReviewRejected
			if opts.Approved {
				cur.Status = domain.QAReviewApproved
			}
			cur.Results = opts.Results
			if cur.Results == nil {
				cur.Results = map[string]domain.QACheckResult{}
			}
			cur.Notes = optionalString(notes)
			cur.CompletedAt = &now
			ok, err := e.Repo.CompleteQAReviewTx(ctx, tx, cur)
			if err != nil {
				return "", err
			}
			if !ok {
				return "qa review was completed concurrently", nil
			}
			closed = cur
			return "", nil
		},
		apply: func(t *domain.Task, now string) {
			if opts.Approved {
				t.ApprovedAt = &now
			}
		},
	})
	if err != nil {
		return res, err
	}
	if res.OK() {
		res.Review = &closed
	} else {
		res.Review = &rv
	}
	return res, nil
}

// checkResults validates recorded results against the session's checks.
// Sessions without checks accept any results.
func checkResults(checks []domain.QACheck, results map[string]domain.QACheckResult, approved bool) string {
	if len(checks) == 0 {
		return ""
	}
	known := make(map[string]bool, len(checks))
	for _, c := range checks {
		known[c.Key] = true
	}
	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !known[k] {
			return fmt.Sprintf("unknown check %q", k)
		}
	}
	if !approved {
		return ""
	}
	for _, c := range checks {
		if !c.Required {
			continue
		}
		if r, ok := results[c.Key]; !ok || !r.Passed {
			return fmt.Sprintf("required check %q has not passed", c.Key)
		}
	}
	return ""
}

func (e Engine) ListQAReviews(ctx context.Context, taskID string) ([]domain.QAReview, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListQAReviews(ctx, e.DB, t.Seq)
}

func (e Engine) GetQAReview(ctx context.Context, reviewID string) (domain.QAReview, error) {
	return e.Repo.GetQAReview(ctx, e.DB, reviewID)
}
