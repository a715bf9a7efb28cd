package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/realtime"
)

func TestEvictionPrecedesActivityCommittedDuringRemoval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user(t, "Alice"), h.user(t, "Bob")
	projectID := h.project(t, alice, "Alpha", bob)

	held, release := h.store.holdNextActivity()
	defer release()
	removed := make(chan error, 1)
	go func() { removed <- h.svc.RemoveMember(ctx, alice, projectID, bob.ID) }()
	select {
	case <-held:
	case <-time.After(3 * time.Second):
		t.Fatal("removal never reached the ledger")
	}

	// Commits after the removal while its ledger append is still pending.
	h.task(t, alice, projectID, "Later work")
	release()
	if err := <-removed; err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	h.flush()

	calls := h.rooms.snapshot()
	evicted, later, notice := -1, -1, -1
	for i, call := range calls {
		switch {
		case call.kind == "evict" && call.userID == bob.ID:
			evicted = i
		case call.kind == "publish" && call.event.Payload["title"] == "Later work":
			later = i
		case call.kind == "publish" && call.event.Type == activity.MemberRemoved:
			notice = i
		}
	}
	if evicted < 0 || later < 0 || notice < 0 {
		t.Fatalf("missing broadcasts: %+v", calls)
	}
	if evicted > later || evicted > notice {
		t.Fatalf("eviction queued after activity the member may not see: %+v", calls)
	}
}

func TestDemotionRevalidatesRooms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user(t, "Alice"), h.user(t, "Bob")
	root, ops := h.admin(t, "Root"), h.admin(t, "Ops")
	projectID := h.project(t, alice, "Alpha", bob)

	if err := h.svc.AuthorizeJoin(ctx, ops, projectID); err != nil {
		t.Fatalf("AuthorizeJoin() as admin error = %v", err)
	}
	if _, err := h.svc.SetUserRole(ctx, root, bob.ID, auth.RoleAdmin); err != nil {
		t.Fatalf("promote: %v", err)
	}
	if _, err := h.svc.SetUserRole(ctx, root, ops.ID, auth.RoleUser); err != nil {
		t.Fatalf("demote: %v", err)
	}

	// ops still carries the admin role it had when its socket connected.
	if err := h.svc.AuthorizeJoin(ctx, ops, projectID); !errors.Is(err, realtime.ErrJoinDenied) {
		t.Fatalf("expected stale admin to be denied, got %v", err)
	}

	h.flush()
	var revalidated []string
	for _, call := range h.rooms.snapshot() {
		if call.kind == "revalidate" {
			revalidated = append(revalidated, call.userID)
		}
	}
	if len(revalidated) != 1 || revalidated[0] != ops.ID {
		t.Fatalf("expected one revalidation for the demoted user, got %v", revalidated)
	}
}

func TestCanReceive(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, victor, root := h.user(t, "Alice"), h.user(t, "Bob"), h.user(t, "Victor"), h.admin(t, "Root")
	projectID := h.project(t, alice, "Alpha", bob)
	everyone := []string{alice.ID, bob.ID, victor.ID, root.ID, "usr_missing"}

	allowed, err := h.svc.CanReceive(ctx, projectID, everyone)
	if err != nil {
		t.Fatalf("CanReceive() error = %v", err)
	}
	want := map[string]bool{alice.ID: true, bob.ID: true, victor.ID: false, root.ID: true, "usr_missing": false}
	for id, ok := range want {
		if allowed[id] != ok {
			t.Errorf("CanReceive(%s) = %v, want %v", id, allowed[id], ok)
		}
	}

	if err := h.svc.RemoveMember(ctx, alice, projectID, bob.ID); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	allowed, err = h.svc.CanReceive(ctx, projectID, []string{bob.ID})
	if err != nil || allowed[bob.ID] {
		t.Fatalf("removed member still allowed: %v, %v", allowed, err)
	}

	// A deleted project's room hears its deletion notice before it closes.
	allowed, err = h.svc.CanReceive(ctx, "prj_gone", []string{victor.ID})
	if err != nil || !allowed[victor.ID] {
		t.Fatalf("expected deleted project to pass listeners through, got %v, %v", allowed, err)
	}
}
