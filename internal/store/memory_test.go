package store

import (
	"context"
	"errors"
	"testing"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	ctx := context.Background()
	for _, user := range []User{
		{ID: "owner", Email: "owner@example.com", Name: "Owner"},
		{ID: "member", Email: "member@example.com", Name: "Member"},
	} {
		if err := s.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser() error = %v", err)
		}
	}
	if _, err := s.InsertProject(ctx, Project{ID: "p1", Name: "Launch", OwnerID: "owner"}); err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}
	return s
}

func TestMemoryWithTxDiscardsFailedWrites(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.InsertTask(ctx, Task{ID: "t1", ProjectID: "p1", Title: "Draft", Status: "UNASSIGNED", CreatorID: "owner"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetTask() after rollback error = %v, want ErrNotFound", err)
	}

	if err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.InsertTask(ctx, Task{ID: "t1", ProjectID: "p1", Title: "Draft", Status: "UNASSIGNED", CreatorID: "owner"})
		return err
	}); err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
	if _, err := s.GetTask(ctx, "t1"); err != nil {
		t.Fatalf("GetTask() after commit error = %v", err)
	}
}

func TestMemoryActivitySequenceIsGlobal(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	if _, err := s.InsertProject(ctx, Project{ID: "p2", Name: "Other", OwnerID: "owner"}); err != nil {
		t.Fatalf("InsertProject() error = %v", err)
	}

	first, _ := s.InsertActivity(ctx, ActivityEvent{ProjectID: "p1", Type: "A", ActorName: "x"})
	reserved, _ := s.NextActivityID(ctx)
	second, _ := s.InsertActivity(ctx, ActivityEvent{ProjectID: "p2", Type: "B", ActorName: "x"})
	third, _ := s.InsertActivity(ctx, ActivityEvent{ProjectID: "p1", Type: "C", ActorName: "x"})
	if !(first.ID < reserved && reserved < second.ID && second.ID < third.ID) {
		t.Fatalf("ids not monotonic: %d %d %d %d", first.ID, reserved, second.ID, third.ID)
	}

	events, err := s.ListActivity(ctx, ActivityQuery{ProjectID: "p1", Limit: 10})
	if err != nil {
		t.Fatalf("ListActivity() error = %v", err)
	}
	if len(events) != 2 || events[0].ID != third.ID {
		t.Fatalf("ListActivity() newest first = %+v", events)
	}
	events, _ = s.ListActivity(ctx, ActivityQuery{ProjectID: "p1", SinceID: first.ID, Limit: 10, Ascending: true})
	if len(events) != 1 || events[0].ID != third.ID {
		t.Fatalf("ListActivity() since = %+v", events)
	}

	if _, err := s.InsertActivity(ctx, ActivityEvent{ProjectID: "missing", Type: "A"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("InsertActivity() missing project error = %v", err)
	}
}

func TestMemoryDeleteProjectCascades(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	if _, err := s.AddMember(ctx, "p1", "member"); err != nil {
		t.Fatalf("AddMember() error = %v", err)
	}
	if _, err := s.InsertTask(ctx, Task{ID: "t1", ProjectID: "p1", Title: "Draft", Status: "ACTIVE", CreatorID: "owner"}); err != nil {
		t.Fatalf("InsertTask() error = %v", err)
	}
	if _, err := s.InsertComment(ctx, TaskComment{ID: "c1", TaskID: "t1", ProjectID: "p1", AuthorID: "member", Body: "hi"}); err != nil {
		t.Fatalf("InsertComment() error = %v", err)
	}
	if _, err := s.InsertFile(ctx, FileRecord{ID: "f1", ProjectID: "p1", BlobKey: "projects/p1/a.txt", OriginalName: "a.txt", UploadedBy: "owner"}); err != nil {
		t.Fatalf("InsertFile() error = %v", err)
	}
	if _, err := s.InsertActivity(ctx, ActivityEvent{ProjectID: "p1", Type: "TASK_CREATED", ActorName: "Owner"}); err != nil {
		t.Fatalf("InsertActivity() error = %v", err)
	}

	keys, err := s.DeleteProject(ctx, "p1")
	if err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "projects/p1/a.txt" {
		t.Fatalf("DeleteProject() keys = %v", keys)
	}
	if member, _ := s.IsMember(ctx, "p1", "member"); member {
		t.Fatal("membership survived cascade")
	}
	if _, err := s.GetTask(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatal("task survived cascade")
	}
	if comments, _ := s.ListComments(ctx, "t1"); len(comments) != 0 {
		t.Fatal("comments survived cascade")
	}
	if events, _ := s.ListActivity(ctx, ActivityQuery{ProjectID: "p1", Limit: 10}); len(events) != 0 {
		t.Fatal("activity survived cascade")
	}
	if _, err := s.DeleteProject(ctx, "p1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("DeleteProject() twice error = %v", err)
	}
}

func TestMemoryUsersAndMembers(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	if err := s.CreateUser(ctx, User{ID: "dup", Email: "OWNER@example.com"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("CreateUser() duplicate email error = %v", err)
	}
	users, _ := s.FindUsersByHandle(ctx, "member")
	if len(users) != 1 || users[0].ID != "member" {
		t.Fatalf("FindUsersByHandle() = %+v", users)
	}

	added, _ := s.AddMember(ctx, "p1", "member")
	again, _ := s.AddMember(ctx, "p1", "member")
	if !added || again {
		t.Fatalf("AddMember() = %v then %v", added, again)
	}
	projects, _ := s.ListProjectsForUser(ctx, "member")
	if len(projects) != 1 {
		t.Fatalf("ListProjectsForUser() = %+v", projects)
	}
	removed, _ := s.RemoveMember(ctx, "p1", "member")
	if !removed {
		t.Fatal("RemoveMember() = false")
	}
	projects, _ = s.ListProjectsForUser(ctx, "member")
	if len(projects) != 0 {
		t.Fatalf("ListProjectsForUser() after removal = %+v", projects)
	}
}

func TestMemoryChatKeepsLatestWindow(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()
	for _, text := range []string{"one", "two", "three"} {
		if _, err := s.InsertChatMessage(ctx, ChatMessage{ID: "msg-" + text, ProjectID: "p1", UserID: "owner", UserName: "Owner", Text: text}); err != nil {
			t.Fatalf("InsertChatMessage() error = %v", err)
		}
	}
	if _, err := s.InsertChatMessage(ctx, ChatMessage{ID: "msg-x", ProjectID: "gone", UserID: "owner", Text: "lost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("InsertChatMessage() into missing project error = %v", err)
	}

	latest, err := s.ListChatMessages(ctx, "p1", 2)
	if err != nil {
		t.Fatalf("ListChatMessages() error = %v", err)
	}
	if len(latest) != 2 || latest[0].Text != "two" || latest[1].Text != "three" {
		t.Fatalf("ListChatMessages() = %+v", latest)
	}

	if _, err := s.DeleteProject(ctx, "p1"); err != nil {
		t.Fatalf("DeleteProject() error = %v", err)
	}
	if left, _ := s.ListChatMessages(ctx, "p1", 50); len(left) != 0 {
		t.Fatalf("chat survived project deletion: %+v", left)
	}
}

func TestMemoryUpdateUserProfile(t *testing.T) {
	s := seedMemory(t)
	ctx := context.Background()

	taken := "MEMBER@example.com"
	if _, err := s.UpdateUserProfile(ctx, "owner", ProfileUpdate{Email: &taken}); !errors.Is(err, ErrConflict) {
		t.Fatalf("UpdateUserProfile() with taken email error = %v", err)
	}
	name, phone := "Olive", "+1 555 0100"
	user, err := s.UpdateUserProfile(ctx, "owner", ProfileUpdate{Name: &name, Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateUserProfile() error = %v", err)
	}
	if user.Name != "Olive" || user.Phone != phone || user.Email != "owner@example.com" {
		t.Fatalf("UpdateUserProfile() = %+v", user)
	}
	if _, err := s.UpdateUserProfile(ctx, "ghost", ProfileUpdate{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateUserProfile() for missing user error = %v", err)
	}
}
