package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type EventPayload map[string]any

// Event is a domain event published after a state change commits.
type Event struct {
	Type       string
	ProjectID  string
	EntityKind string
	EntityID   string
	ActorID    string
	Payload    EventPayload
}

// Bus receives events once the change that produced them is durable.
// Delivery is best effort; an error never undoes the change.
type Bus interface {
	Publish(ctx context.Context, e Event) error
}

// BusFunc adapts a function to Bus.
type BusFunc func(ctx context.Context, e Event) error

func (f BusFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }

// Discard drops every event.
var Discard Bus = BusFunc(func(context.Context, Event) error { return nil })

// Writer stores events in the events table, which doubles as the outbox
// read by webhook dispatch.
type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

// Append records an event inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, projectID, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.insert(ctx, tx, Event{Type: evtType, ProjectID: projectID, EntityKind: entityKind, EntityID: entityID, ActorID: actorID, Payload: payload})
}

// Publish records an event in its own statement.
func (w Writer) Publish(ctx context.Context, e Event) error {
	if w.DB == nil {
		return fmt.Errorf("event writer has no database")
	}
	return w.insert(ctx, w.DB, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (w Writer) insert(ctx context.Context, x execer, e Event) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	payload := e.Payload
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = x.ExecContext(ctx, `INSERT INTO events(ts,type,project_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`,
		ts, e.Type, nullable(e.ProjectID), e.EntityKind, nullable(e.EntityID), e.ActorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
