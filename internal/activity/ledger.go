// Package activity is the append-only project activity ledger.
package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/store"
)

type Type string

const (
	ProjectCreated    Type = "PROJECT_CREATED"
	ProjectDeleted    Type = "PROJECT_DELETED"
	TaskCreated       Type = "TASK_CREATED"
	TaskUpdated       Type = "TASK_UPDATED"
	TaskStatusChanged Type = "TASK_STATUS_CHANGED"
	TaskAssigned      Type = "TASK_ASSIGNED"
	TaskDeleted       Type = "TASK_DELETED"
	TaskCommented     Type = "TASK_COMMENTED"
	FileUploaded      Type = "FILE_UPLOADED"
	FileDeleted       Type = "FILE_DELETED"
	MemberAdded       Type = "MEMBER_ADDED"
	MemberRemoved     Type = "MEMBER_REMOVED"
)

var knownTypes = map[Type]struct{}{
	ProjectCreated: {}, ProjectDeleted: {},
	TaskCreated: {}, TaskUpdated: {}, TaskStatusChanged: {}, TaskAssigned: {}, TaskDeleted: {}, TaskCommented: {},
	FileUploaded: {}, FileDeleted: {},
	MemberAdded: {}, MemberRemoved: {},
}

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var ErrInvalidEvent = errors.New("invalid activity event")

// Event is the wire shape of an activity entry.
type Event struct {
	ID        int64          `json:"id"`
	ProjectID string         `json:"projectId"`
	Type      Type           `json:"type"`
	Payload   map[string]any `json:"payload"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorName string         `json:"actorName"`
	CreatedAt time.Time      `json:"createdAt"`
}

type Store interface {
	InsertActivity(ctx context.Context, event store.ActivityEvent) (store.ActivityEvent, error)
	ListActivity(ctx context.Context, query store.ActivityQuery) ([]store.ActivityEvent, error)
	NextActivityID(ctx context.Context) (int64, error)
}

type ListOptions struct {
	SinceID   int64
	Limit     int
	Ascending bool
}

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(s Store) *Ledger {
	return &Ledger{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Append persists one event. Ids come from a single global sequence, so
// they are strictly increasing across all projects.
func (l *Ledger) Append(ctx context.Context, projectID string, typ Type, payload map[string]any, actor auth.Actor) (Event, error) {
	event, raw, err := l.prepare(projectID, typ, payload, actor)
	if err != nil {
		return Event{}, err
	}
	stored, err := l.store.InsertActivity(ctx, store.ActivityEvent{
		ProjectID: event.ProjectID,
		Type:      string(event.Type),
		Payload:   raw,
		ActorID:   event.ActorID,
		ActorName: event.ActorName,
	})
	if err != nil {
		return Event{}, fmt.Errorf("append %s: %w", typ, err)
	}
	event.ID = stored.ID
	event.CreatedAt = stored.CreatedAt
	return event, nil
}

// Tombstone builds an event for a project whose ledger rows are being
// removed. It takes an id from the same sequence without writing a row.
func (l *Ledger) Tombstone(ctx context.Context, projectID string, typ Type, payload map[string]any, actor auth.Actor) (Event, error) {
	event, _, err := l.prepare(projectID, typ, payload, actor)
	if err != nil {
		return Event{}, err
	}
	id, err := l.store.NextActivityID(ctx)
	if err != nil {
		return Event{}, fmt.Errorf("tombstone %s: %w", typ, err)
	}
	event.ID = id
	event.CreatedAt = l.now()
	return event, nil
}

func (l *Ledger) prepare(projectID string, typ Type, payload map[string]any, actor auth.Actor) (Event, []byte, error) {
	if strings.TrimSpace(projectID) == "" {
		return Event{}, nil, fmt.Errorf("%w: project id required", ErrInvalidEvent)
	}
	if _, ok := knownTypes[typ]; !ok {
		return Event{}, nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, typ)
	}
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, nil, fmt.Errorf("%w: encode payload: %v", ErrInvalidEvent, err)
	}
	return Event{
		ProjectID: projectID,
		Type:      typ,
		Payload:   payload,
		ActorID:   actor.ID,
		ActorName: actor.DisplayName(),
	}, raw, nil
}

// List returns newest first unless Ascending is set.
func (l *Ledger) List(ctx context.Context, projectID string, opts ListOptions) ([]Event, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	since := opts.SinceID
	if since < 0 {
		since = 0
	}
	rows, err := l.store.ListActivity(ctx, store.ActivityQuery{
		ProjectID: projectID,
		SinceID:   since,
		Limit:     limit,
		Ascending: opts.Ascending,
	})
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(rows))
	for _, row := range rows {
		event, err := FromRow(row)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func FromRow(row store.ActivityEvent) (Event, error) {
	payload := map[string]any{}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &payload); err != nil {
			return Event{}, fmt.Errorf("decode activity %d payload: %w", row.ID, err)
		}
	}
	return Event{
		ID:        row.ID,
		ProjectID: row.ProjectID,
		Type:      Type(row.Type),
		Payload:   payload,
		ActorID:   row.ActorID,
		ActorName: row.ActorName,
		CreatedAt: row.CreatedAt,
	}, nil
}

// Excerpt shortens text to at most limit runes, marking truncation with an ellipsis.
func Excerpt(text string, limit int) string {
	text = strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
