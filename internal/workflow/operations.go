package workflow

import (
	"fmt"

	"taskline/internal/domain"
)

type Operation string

const (
	OpStart            Operation = "start"
	OpHold             Operation = "hold"
	OpResume           Operation = "resume"
	OpSubmitForQA      Operation = "submit_for_qa"
	OpStartQAReview    Operation = "start_qa_review"
	OpQAApprove        Operation = "qa_approve"
	OpQAReject         Operation = "qa_reject"
	OpSendToPM         Operation = "send_to_pm"
	OpPMReject         Operation = "pm_reject"
	OpSendToClient     Operation = "send_to_client"
	OpClientApprove    Operation = "client_approve"
	OpClientReject     Operation = "client_reject"
	OpReturnToProgress Operation = "return_to_progress"
	OpComplete         Operation = "complete"
	OpArchive          Operation = "archive"

	// OpAssign changes the assignee and never the status.
	OpAssign Operation = "assign"
)

// OperationSpec describes a named move. Target is empty for OpQAApprove, whose
// destination depends on the project's review settings.
type OperationSpec struct {
	Sources []domain.TaskStatus
	Target  domain.TaskStatus
	Event   string
	Note    string
	// ViaReview operations only happen as the outcome of a QA session.
	ViaReview bool
}

var operations = map[Operation]OperationSpec{
	OpStart: {
		Sources: []domain.TaskStatus{domain.StatusDraft},
		Target:  domain.StatusInProgress,
		Event:   "task.started",
		Note:    "Work started",
	},
	OpHold: {
		Sources: []domain.TaskStatus{domain.StatusInProgress},
		Target:  domain.StatusOnHold,
		Event:   "task.held",
		Note:    "Put on hold",
	},
	OpResume: {
		Sources: []domain.TaskStatus{domain.StatusOnHold},
		Target:  domain.StatusInProgress,
		Event:   "task.resumed",
		Note:    "Resumed from hold",
	},
	OpSubmitForQA: {
		Sources: []domain.TaskStatus{domain.StatusInProgress},
		Target:  domain.StatusSubmittedForQA,
		Event:   "task.submitted_for_qa",
		Note:    "Submitted for QA review",
	},
	OpStartQAReview: {
		Sources: []domain.TaskStatus{domain.StatusSubmittedForQA},
		Target:  domain.StatusQAInReview,
		Event:   "task.qa_started",
		Note:    "QA review started",
	},
	OpQAApprove: {
		Sources:   []domain.TaskStatus{domain.StatusQAInReview},
		Event:     "task.qa_approved",
		Note:      "QA approved",
		ViaReview: true,
	},
	OpQAReject: {
		Sources:   []domain.TaskStatus{domain.StatusQAInReview},
		Target:    domain.StatusInProgress,
		Event:     "task.qa_rejected",
		Note:      "QA rejected",
		ViaReview: true,
	},
	OpSendToPM: {
		Sources:   []domain.TaskStatus{domain.StatusQAInReview},
		Target:    domain.StatusSentToPM,
		Event:     "task.sent_to_pm",
		Note:      "Sent to PM for review",
		ViaReview: true,
	},
	OpPMReject: {
		Sources: []domain.TaskStatus{domain.StatusSentToPM},
		Target:  domain.StatusInProgress,
		Event:   "task.pm_rejected",
		Note:    "PM rejected",
	},
	OpSendToClient: {
		Sources: []domain.TaskStatus{domain.StatusSentToPM},
		Target:  domain.StatusSentToClient,
		Event:   "task.sent_to_client",
		Note:    "Sent to client for review",
	},
	OpClientApprove: {
		Sources: []domain.TaskStatus{domain.StatusSentToClient},
		Target:  domain.StatusClientApproved,
		Event:   "task.client_approved",
		Note:    "Approved by client",
	},
	OpClientReject: {
		Sources: []domain.TaskStatus{domain.StatusSentToClient},
		Target:  domain.StatusClientRejected,
		Event:   "task.client_rejected",
		Note:    "Client rejected",
	},
	OpReturnToProgress: {
		Sources: []domain.TaskStatus{domain.StatusClientRejected},
		Target:  domain.StatusInProgress,
		Event:   "task.returned_to_progress",
		Note:    "Returned to in progress",
	},
	OpComplete: {
		Sources: []domain.TaskStatus{domain.StatusClientApproved},
		Target:  domain.StatusCompleted,
		Event:   "task.completed",
		Note:    "Task completed",
	},
	OpArchive: {
		Sources: []domain.TaskStatus{
			domain.StatusDraft,
			domain.StatusInProgress,
			domain.StatusOnHold,
			domain.StatusSubmittedForQA,
			domain.StatusClientApproved,
			domain.StatusClientRejected,
		},
		Target: domain.StatusArchived,
		Event:  "task.archived",
		Note:   "Task archived",
	},
}

// manualOrder lists the operations callers can invoke directly, in the order
// they are offered.
var manualOrder = []Operation{
	OpStart,
	OpHold,
	OpResume,
	OpSubmitForQA,
	OpStartQAReview,
	OpSendToClient,
	OpPMReject,
	OpClientApprove,
	OpClientReject,
	OpReturnToProgress,
	OpComplete,
	OpArchive,
}

func Spec(op Operation) (OperationSpec, bool) {
	s, ok := operations[op]
	return s, ok
}

// ApprovalTarget is where an approved QA review sends the task.
func ApprovalTarget(requirePMReview bool) domain.TaskStatus {
	if requirePMReview {
		return domain.StatusSentToPM
	}
	return domain.StatusCompleted
}

// Resolve checks that op may run from the current status and returns the
// destination. A rejection comes back as a *TransitionError.
func Resolve(op Operation, from domain.TaskStatus, requirePMReview bool) (domain.TaskStatus, error) {
	spec, ok := operations[op]
	if !ok {
		return "", fmt.Errorf("unknown operation %q", op)
	}
	to := spec.Target
	if op == OpQAApprove {
		to = ApprovalTarget(requirePMReview)
	}
	if err := Check(from, to); err != nil {
		return to, err
	}
	if !containsStatus(spec.Sources, from) {
		return to, &TransitionError{
			Outcome: OutcomeIllegal,
			From:    from,
			To:      to,
			Reason:  fmt.Sprintf("%s is not allowed while task is %s", op, from.Label()),
		}
	}
	return to, nil
}

// Available lists the operations a caller can start from the given status.
func Available(from domain.TaskStatus) []Operation {
	var out []Operation
	for _, op := range manualOrder {
		spec := operations[op]
		if containsStatus(spec.Sources, from) && CanTransition(from, spec.Target) {
			out = append(out, op)
		}
	}
	return out
}

func containsStatus(list []domain.TaskStatus, s domain.TaskStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
