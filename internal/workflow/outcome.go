package workflow

import "taskline/internal/domain"

type Outcome string

const (
	OutcomeApplied     Outcome = "applied"
	OutcomeGuardFailed Outcome = "guard_failed"
	OutcomeIllegal     Outcome = "illegal_transition"
	OutcomeConflict    Outcome = "conflict"
)

// Result is what every workflow operation returns for routine outcomes.
// Rejections are values, not errors; faults travel in the separate error
// return of the engine methods.
type Result struct {
	Outcome   Outcome           `json:"outcome" enum:"applied,guard_failed,illegal_transition,conflict"`
	Operation Operation         `json:"operation"`
	From      domain.TaskStatus `json:"from"`
	To        domain.TaskStatus `json:"to"`
	Reason    string            `json:"reason,omitempty"`
	Task      domain.Task       `json:"task"`
	Review    *domain.QAReview  `json:"review,omitempty"`
}

func (r Result) OK() bool { return r.Outcome == OutcomeApplied }

// Err returns nil for an applied result and a *TransitionError otherwise.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return &TransitionError{Outcome: r.Outcome, From: r.From, To: r.To, Reason: r.Reason}
}

func Applied(op Operation, from domain.TaskStatus, t domain.Task) Result {
	return Result{Outcome: OutcomeApplied, Operation: op, From: from, To: t.Status, Task: t}
}

func GuardFailed(op Operation, t domain.Task, to domain.TaskStatus, reason string) Result {
	return Result{Outcome: OutcomeGuardFailed, Operation: op, From: t.Status, To: to, Reason: reason, Task: t}
}

func Illegal(op Operation, t domain.Task, to domain.TaskStatus, reason string) Result {
	return Result{Outcome: OutcomeIllegal, Operation: op, From: t.Status, To: to, Reason: reason, Task: t}
}

func Conflict(op Operation, t domain.Task, to domain.TaskStatus) Result {
	return Result{
		Outcome:   OutcomeConflict,
		Operation: op,
		From:      t.Status,
		To:        to,
		Reason:    "task was modified concurrently; reload and retry",
		Task:      t,
	}
}
