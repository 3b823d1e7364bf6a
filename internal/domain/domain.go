package domain

type Project struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Task is the unit of work governed by the lifecycle engine. Seq is the
// internal row key and never leaves the process; ID is the public identifier.
type Task struct {
	Seq              int64      `json:"-"`
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	ParentID         *string    `json:"parent_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Priority         int        `json:"priority" minimum:"1" maximum:"5"`
	Status           TaskStatus `json:"status" enum:"draft,in_progress,on_hold,submitted_for_qa,qa_in_review,sent_to_pm,sent_to_client,client_approved,client_rejected,completed,archived"`
	DueDate          *string    `json:"due_date,omitempty"`
	EstimatedHours   *float64   `json:"estimated_hours,omitempty"`
	ActualHours      *float64   `json:"actual_hours,omitempty"`
	SortOrder        int        `json:"sort_order"`
	AssigneeID       *string    `json:"assignee_id,omitempty"`
	QAUserID         *string    `json:"qa_user_id,omitempty"`
	CreatedBy        string     `json:"created_by"`
	AssignedBy       *string    `json:"assigned_by,omitempty"`
	AssignedAt       *string    `json:"assigned_at,omitempty" format:"date-time"`
	StartedAt        *string    `json:"started_at,omitempty" format:"date-time"`
	SubmittedAt      *string    `json:"submitted_at,omitempty" format:"date-time"`
	ApprovedAt       *string    `json:"approved_at,omitempty" format:"date-time"`
	SentToClientAt   *string    `json:"sent_to_client_at,omitempty" format:"date-time"`
	ClientApprovedAt *string    `json:"client_approved_at,omitempty" format:"date-time"`
	CompletedAt      *string    `json:"completed_at,omitempty" format:"date-time"`
	ArchivedBy       *string    `json:"archived_by,omitempty"`
	ArchivedAt       *string    `json:"archived_at,omitempty" format:"date-time"`
	Version          int64      `json:"version"`
	CreatedAt        string     `json:"created_at" format:"date-time"`
	UpdatedAt        string     `json:"updated_at" format:"date-time"`
}

type ChecklistStatus string

const (
	ChecklistTodo ChecklistStatus = "todo"
	ChecklistDone ChecklistStatus = "done"
)

type ChecklistItem struct {
	Seq         int64           `json:"-"`
	ID          string          `json:"id"`
	TaskSeq     int64           `json:"-"`
	TaskID      string          `json:"task_id"`
	Text        string          `json:"text"`
	Position    int             `json:"position"`
	Status      ChecklistStatus `json:"status" enum:"todo,done"`
	CompletedBy *string         `json:"completed_by,omitempty"`
	CompletedAt *string         `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string          `json:"created_at" format:"date-time"`
}

type QAReviewStatus string

const (
	QAReviewInProgress QAReviewStatus = "in_progress"
	QAReviewApproved   QAReviewStatus = "approved"
	QAReviewRejected   QAReviewStatus = "rejected"
)

// QACheck is one item a reviewer is expected to evaluate, copied from a
// configured template when the session opens.
type QACheck struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

type QACheckResult struct {
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

type QAReview struct {
	Seq         int64                    `json:"-"`
	ID          string                   `json:"id"`
	TaskSeq     int64                    `json:"-"`
	TaskID      string                   `json:"task_id"`
	ReviewerID  string                   `json:"reviewer_id"`
	Template    *string                  `json:"template,omitempty"`
	Status      QAReviewStatus           `json:"status" enum:"in_progress,approved,rejected"`
	Checks      []QACheck                `json:"checks"`
	Results     map[string]QACheckResult `json:"results"`
	Notes       *string                  `json:"notes,omitempty"`
	StartedAt   string                   `json:"started_at" format:"date-time"`
	CompletedAt *string                  `json:"completed_at,omitempty" format:"date-time"`
}

type StatusHistoryEntry struct {
	ID         int64      `json:"id"`
	TaskSeq    int64      `json:"-"`
	TaskID     string     `json:"task_id"`
	FromStatus TaskStatus `json:"from_status"`
	ToStatus   TaskStatus `json:"to_status"`
	ActorID    string     `json:"actor_id"`
	Notes      *string    `json:"notes,omitempty"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// ActorAccess lists what an actor may do inside a project.
type ActorAccess struct {
	ProjectID   string   `json:"project_id"`
	ActorID     string   `json:"actor_id"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}
