package domain

import "fmt"

type TaskStatus string

const (
	StatusDraft          TaskStatus = "draft"
	StatusInProgress     TaskStatus = "in_progress"
	StatusOnHold         TaskStatus = "on_hold"
	StatusSubmittedForQA TaskStatus = "submitted_for_qa"
	StatusQAInReview     TaskStatus = "qa_in_review"
	StatusSentToPM       TaskStatus = "sent_to_pm"
	StatusSentToClient   TaskStatus = "sent_to_client"
	StatusClientApproved TaskStatus = "client_approved"
	StatusClientRejected TaskStatus = "client_rejected"
	StatusCompleted      TaskStatus = "completed"
	StatusArchived       TaskStatus = "archived"
)

// AllStatuses is the closed set in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusDraft,
	StatusInProgress,
	StatusOnHold,
	StatusSubmittedForQA,
	StatusQAInReview,
	StatusSentToPM,
	StatusSentToClient,
	StatusClientApproved,
	StatusClientRejected,
	StatusCompleted,
	StatusArchived,
}

var statusLabels = map[TaskStatus]string{
	StatusDraft:          "Draft",
	StatusInProgress:     "In Progress",
	StatusOnHold:         "On Hold",
	StatusSubmittedForQA: "Submitted for QA",
	StatusQAInReview:     "QA In Review",
	StatusSentToPM:       "Sent to PM",
	StatusSentToClient:   "Sent to Client",
	StatusClientApproved: "Client Approved",
	StatusClientRejected: "Client Rejected",
	StatusCompleted:      "Completed",
	StatusArchived:       "Archived",
}

func (s TaskStatus) Valid() bool {
	_, ok := statusLabels[s]
	return ok
}

func (s TaskStatus) Label() string {
	if l, ok := statusLabels[s]; ok {
		return l
	}
	return string(s)
}

func (s TaskStatus) String() string { return string(s) }

// ParseTaskStatus rejects anything outside the closed set.
func ParseTaskStatus(v string) (TaskStatus, error) {
	s := TaskStatus(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown task status %q", v)
	}
	return s, nil
}
