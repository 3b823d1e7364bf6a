package tasklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskline HTTP API client bound to one project.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID         string `json:"id"`
	ProjectID  string `json:"project_id"`
	ParentID   string `json:"parent_id,omitempty"`
	Title      string `json:"title"`
	Priority   int    `json:"priority"`
	Status     string `json:"status"`
	AssigneeID string `json:"assignee_id,omitempty"`
	Version    int64  `json:"version"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ParentID    string `json:"parent_id,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	DueDate     string `json:"due_date,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
}

type ChecklistItem struct {
	ID       string `json:"id"`
	TaskID   string `json:"task_id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
	Status   string `json:"status"`
}

type Checklist struct {
	TaskID   string          `json:"task_id"`
	Progress string          `json:"progress"`
	Complete bool            `json:"complete"`
	Items    []ChecklistItem `json:"items"`
}

type QACheckResult struct {
	Passed bool   `json:"passed"`
	Notes  string `json:"notes,omitempty"`
}

type QAReview struct {
	ID         string                   `json:"id"`
	TaskID     string                   `json:"task_id"`
	ReviewerID string                   `json:"reviewer_id"`
	Template   string                   `json:"template,omitempty"`
	Status     string                   `json:"status"`
	Results    map[string]QACheckResult `json:"results"`
	Notes      string                   `json:"notes,omitempty"`
}

// Transition is the body of every successful status move.
type Transition struct {
	Outcome   string    `json:"outcome"`
	Operation string    `json:"operation"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Task      Task      `json:"task"`
	Review    *QAReview `json:"review,omitempty"`
}

type HistoryEntry struct {
	ID         int64  `json:"id"`
	TaskID     string `json:"task_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
	ActorID    string `json:"actor_id"`
	Notes      string `json:"notes,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the
// server's error envelope when it could be decoded.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsRejected reports whether err is a workflow rejection with the given
// code (guard_failed, illegal_transition or conflict).
func IsRejected(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func (c *Client) CreateTask(ctx context.Context, in CreateTaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, ""), nil, &resp)
	return resp, err
}

// Act invokes a lifecycle action such as "start", "submit" or
// "client-reject". Reject actions need a non-empty reason.
func (c *Client) Act(ctx context.Context, taskID, action, notes, reason string) (Transition, error) {
	body := map[string]string{}
	if notes != "" {
		body["notes"] = notes
	}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "actions/"+url.PathEscape(action)), body, &resp)
	return resp, err
}

func (c *Client) Assign(ctx context.Context, taskID, assigneeID string) (Transition, error) {
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "assign"), map[string]string{"assignee_id": assigneeID}, &resp)
	return resp, err
}

func (c *Client) History(ctx context.Context, taskID string) ([]HistoryEntry, error) {
	var resp []HistoryEntry
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "history"), nil, &resp)
	return resp, err
}

func (c *Client) Checklist(ctx context.Context, taskID string) (Checklist, error) {
	var resp Checklist
	err := c.do(ctx, http.MethodGet, c.taskPath(taskID, "checklist"), nil, &resp)
	return resp, err
}

func (c *Client) AddChecklistItem(ctx context.Context, taskID, text string) (ChecklistItem, error) {
	var resp ChecklistItem
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "checklist"), map[string]string{"text": text}, &resp)
	return resp, err
}

// SetChecklistItem marks an item done or back to todo.
func (c *Client) SetChecklistItem(ctx context.Context, taskID, itemID string, done bool) (ChecklistItem, error) {
	status := "todo"
	if done {
		status = "done"
	}
	var resp ChecklistItem
	err := c.do(ctx, http.MethodPatch, c.taskPath(taskID, "checklist/"+url.PathEscape(itemID)), map[string]string{"status": status}, &resp)
	return resp, err
}

// StartQAReview opens a review session with the caller as reviewer.
func (c *Client) StartQAReview(ctx context.Context, taskID, template string) (Transition, error) {
	body := map[string]string{}
	if template != "" {
		body["template"] = template
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.taskPath(taskID, "qa-reviews"), body, &resp)
	return resp, err
}

func (c *Client) CompleteQAReview(ctx context.Context, reviewID string, approved bool, results map[string]QACheckResult, notes string) (Transition, error) {
	body := map[string]any{"approved": approved}
	if len(results) > 0 {
		body["results"] = results
	}
	if notes != "" {
		body["notes"] = notes
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, c.projectPath("qa-reviews/"+url.PathEscape(reviewID)+"/complete"), body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.projectPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var reader io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
		reader = &buf
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Details = envelope.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) taskPath(taskID, suffix string) string {
	p := "tasks/" + url.PathEscape(taskID)
	if suffix != "" {
		p += "/" + suffix
	}
	return c.projectPath(p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
