package workflow

import (
	"errors"
	"fmt"

	"taskline/internal/domain"
)

var (
	// ErrIllegalTransition means the requested move is not an edge of the table.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrGuardFailed means the edge exists but a precondition does not hold.
	ErrGuardFailed = errors.New("guard failed")
	// ErrConcurrencyConflict means the task changed between validation and commit.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrPersistence wraps storage failures of the status or history write.
	ErrPersistence = errors.New("persistence failure")
	// ErrUnknownStatus is a programming error: a status outside the closed set.
	ErrUnknownStatus = errors.New("unknown task status")
)

// TransitionError is the error form of a rejected Result.
type TransitionError struct {
	Outcome Outcome
	From    domain.TaskStatus
	To      domain.TaskStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s -> %s: %s", e.Outcome, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s %s -> %s", e.Outcome, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	switch e.Outcome {
	case OutcomeIllegal:
		return ErrIllegalTransition
	case OutcomeGuardFailed:
		return ErrGuardFailed
	case OutcomeConflict:
		return ErrConcurrencyConflict
	}
	return nil
}

// Persistence marks err as a storage fault.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistence, err)
}
