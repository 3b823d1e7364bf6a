// Package workflow holds the task lifecycle rules: the status transition
// table, the named operations callers invoke, and the checklist gate. It does
// no I/O; the engine package applies these rules inside a transaction.
package workflow

import (
	"fmt"

	"taskline/internal/domain"
)

// Transitions maps each status to the statuses it may move to. Statuses with
// no entry, or an empty entry, are terminal.
var Transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.StatusDraft:          {domain.StatusInProgress, domain.StatusArchived},
	domain.StatusInProgress:     {domain.StatusOnHold, domain.StatusSubmittedForQA, domain.StatusArchived},
	domain.StatusOnHold:         {domain.StatusInProgress, domain.StatusArchived},
	domain.StatusSubmittedForQA: {domain.StatusQAInReview, domain.StatusArchived},
	domain.StatusQAInReview:     {domain.StatusInProgress, domain.StatusSentToPM, domain.StatusCompleted},
	domain.StatusSentToPM:       {domain.StatusSentToClient, domain.StatusInProgress},
	domain.StatusSentToClient:   {domain.StatusClientApproved, domain.StatusClientRejected},
	domain.StatusClientApproved: {domain.StatusCompleted, domain.StatusArchived},
	domain.StatusClientRejected: {domain.StatusInProgress, domain.StatusArchived},
	domain.StatusCompleted:      {},
	domain.StatusArchived:       {},
}

func IsTerminal(s domain.TaskStatus) bool {
	return s.Valid() && len(Transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge. Unknown statuses are
// never legal.
func CanTransition(from, to domain.TaskStatus) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check validates a move. Unknown statuses return ErrUnknownStatus; a missing
// edge returns a *TransitionError wrapping ErrIllegalTransition.
func Check(from, to domain.TaskStatus) error {
	if !from.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, from)
	}
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, to)
	}
	if !CanTransition(from, to) {
		return &TransitionError{Outcome: OutcomeIllegal, From: from, To: to, Reason: illegalReason(from, to)}
	}
	return nil
}

// Targets returns a copy of the allowed next statuses.
func Targets(from domain.TaskStatus) []domain.TaskStatus {
	out := make([]domain.TaskStatus, len(Transitions[from]))
	copy(out, Transitions[from])
	return out
}

func illegalReason(from, to domain.TaskStatus) string {
	if from == to {
		return fmt.Sprintf("task is already %s", from.Label())
	}
	if IsTerminal(from) {
		return fmt.Sprintf("task is %s and cannot change status", from.Label())
	}
	return fmt.Sprintf("cannot move from %s to %s", from.Label(), to.Label())
}
