package store

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func openTestDB(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TEAMULATE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TEAMULATE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool := DefaultPool
	pool.ConnectTimeout = 10 * time.Second
	db, err := Open(ctx, dsn, pool)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

// TestActivityEventsRejectUpdate verifies the trigger that keeps the
// activity ledger append-only.
func TestActivityEventsRejectUpdate(t *testing.T) {
	s := openTestDB(t)
	ctx := context.Background()
	suffix := time.Now().Format("150405.000000")

	owner := User{ID: "it-owner-" + suffix, Email: "it-" + suffix + "@example.com", Name: "Owner", PasswordHash: "x", Role: "user"}
	if err := s.CreateUser(ctx, owner); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	project, err := s.InsertProject(ctx, Project{ID: "it-project-" + suffix, Name: "Integration", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = s.DeleteProject(context.Background(), project.ID)
		_, _ = s.DB().ExecContext(context.Background(), `DELETE FROM users WHERE id=$1`, owner.ID)
	})

	first, err := s.InsertActivity(ctx, ActivityEvent{ProjectID: project.ID, Type: "PROJECT_CREATED", ActorID: owner.ID, ActorName: owner.Name})
	if err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}
	reserved, err := s.NextActivityID(ctx)
	if err != nil {
		t.Fatalf("NextActivityID() error = %v", err)
	}
	second, err := s.InsertActivity(ctx, ActivityEvent{ProjectID: project.ID, Type: "TASK_CREATED", ActorID: owner.ID, ActorName: owner.Name})
	if err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}
	if !(first.ID < reserved && reserved < second.ID) {
		t.Fatalf("activity ids not monotonic: %d, %d, %d", first.ID, reserved, second.ID)
	}

	_, err = s.DB().ExecContext(ctx, `UPDATE activity_events SET actor_name='tampered' WHERE id=$1`, first.ID)
	if err == nil {
		t.Fatal("expected UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected PgError, got %T: %v", err, err)
	}
	if pgErr.SQLState() != "P0001" {
		t.Fatalf("expected SQLSTATE P0001, got %s (%s)", pgErr.SQLState(), pgErr.Message)
	}

	keys, err := s.DeleteProject(ctx, project.ID)
	if err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("DeleteProject() keys = %v", keys)
	}
	events, err := s.ListActivity(ctx, ActivityQuery{ProjectID: project.ID, Limit: 10})
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("activity survived project delete: %+v", events)
	}
}
