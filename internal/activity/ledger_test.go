package activity

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.CreateUser(ctx, store.User{ID: "u1", Email: "avery@example.com", Name: "Avery"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	for _, id := range []string{"p1", "p2"} {
		if _, err := s.InsertProject(ctx, store.Project{ID: id, Name: id, OwnerID: "u1"}); err != nil {
			t.Fatalf("InsertProject() error = %v", err)
		}
	}
	return NewLedger(s), s
}

func TestAppendAssignsIncreasingIDs(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	actor := auth.Actor{ID: "u1", Name: "Avery"}

	var last int64
	for i, project := range []string{"p1", "p2", "p1", "p2"} {
		event, err := ledger.Append(ctx, project, TaskCreated, map[string]any{"n": i}, actor)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		if event.ID <= last {
			t.Fatalf("Append() id %d not greater than %d", event.ID, last)
		}
		if event.ActorName != "Avery" || event.ActorID != "u1" {
			t.Fatalf("Append() actor snapshot = %+v", event)
		}
		last = event.ID
	}
}

func TestAppendActorNameFallback(t *testing.T) {
	ledger, _ := newTestLedger(t)
	event, err := ledger.Append(context.Background(), "p1", ProjectCreated, nil, auth.Actor{ID: "u1", Email: "avery@example.com"})
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if event.ActorName != "avery@example.com" {
		t.Fatalf("ActorName = %q", event.ActorName)
	}
	if event.Payload == nil {
		t.Fatal("Payload should default to an empty object")
	}
}

func TestAppendRejectsInvalidEvents(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	if _, err := ledger.Append(ctx, "", TaskCreated, nil, auth.Actor{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Append() empty project error = %v", err)
	}
	if _, err := ledger.Append(ctx, "p1", Type("TASK_RENAMED"), nil, auth.Actor{}); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("Append() unknown type error = %v", err)
	}
	if _, err := ledger.Append(ctx, "missing", TaskCreated, nil, auth.Actor{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("Append() missing project error = %v", err)
	}
}

func TestListOrderingAndLimits(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	actor := auth.Actor{ID: "u1", Name: "Avery"}

	var ids []int64
	for i := 0; i < 5; i++ {
		event, err := ledger.Append(ctx, "p1", TaskCreated, map[string]any{"taskId": i}, actor)
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
		ids = append(ids, event.ID)
	}
	if _, err := ledger.Append(ctx, "p2", TaskCreated, nil, actor); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	newest, err := ledger.List(ctx, "p1", ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(newest) != 2 || newest[0].ID != ids[4] || newest[1].ID != ids[3] {
		t.Fatalf("List() newest = %+v", newest)
	}

	replay, err := ledger.List(ctx, "p1", ListOptions{SinceID: ids[1], Ascending: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(replay) != 3 || replay[0].ID != ids[2] || replay[2].ID != ids[4] {
		t.Fatalf("List() replay = %+v", replay)
	}
	if replay[0].Payload["taskId"] != float64(2) {
		t.Fatalf("payload round trip = %v", replay[0].Payload)
	}
}

type recordingStore struct {
	Store
	lastQuery store.ActivityQuery
}

func (r *recordingStore) ListActivity(ctx context.Context, q store.ActivityQuery) ([]store.ActivityEvent, error) {
	r.lastQuery = q
	return nil, nil
}

func TestListClampsLimit(t *testing.T) {
	rec := &recordingStore{}
	ledger := NewLedger(rec)
	ctx := context.Background()

	if _, err := ledger.List(ctx, "p1", ListOptions{Limit: 10000, SinceID: -3}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rec.lastQuery.Limit != MaxLimit || rec.lastQuery.SinceID != 0 {
		t.Fatalf("List() query = %+v", rec.lastQuery)
	}
	if _, err := ledger.List(ctx, "p1", ListOptions{}); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if rec.lastQuery.Limit != DefaultLimit {
		t.Fatalf("List() default limit = %d", rec.lastQuery.Limit)
	}
}

func TestTombstoneReservesID(t *testing.T) {
	ledger, s := newTestLedger(t)
	ctx := context.Background()
	actor := auth.Actor{ID: "u1", Name: "Avery"}

	before, _ := ledger.Append(ctx, "p1", TaskCreated, nil, actor)
	tomb, err := ledger.Tombstone(ctx, "p1", ProjectDeleted, map[string]any{"projectId": "p1"}, actor)
	if err != nil {
		t.Fatalf("Tombstone() error = %v", err)
	}
	after, _ := ledger.Append(ctx, "p2", TaskCreated, nil, actor)
	if !(before.ID < tomb.ID && tomb.ID < after.ID) {
		t.Fatalf("ids %d %d %d not increasing", before.ID, tomb.ID, after.ID)
	}
	rows, _ := s.ListActivity(ctx, store.ActivityQuery{ProjectID: "p1", Limit: 10})
	if len(rows) != 1 {
		t.Fatalf("Tombstone() wrote a row: %+v", rows)
	}
}

func TestExcerpt(t *testing.T) {
	if got := Excerpt("  short  ", 140); got != "short" {
		t.Fatalf("Excerpt() = %q", got)
	}
	long := strings.Repeat("ก", 200)
	got := Excerpt(long, 140)
	if utf8.RuneCountInString(got) != 140 || !strings.HasSuffix(got, "…") {
		t.Fatalf("Excerpt() runes = %d", utf8.RuneCountInString(got))
	}
}
