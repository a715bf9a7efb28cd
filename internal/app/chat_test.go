package app

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestPostChatMessageBroadcastsToRoom(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, victor := h.user(t, "Alice"), h.user(t, "Bob"), h.user(t, "Victor")
	projectID := h.project(t, alice, "Alpha", bob)
	ledger := len(h.events(t, alice, projectID))

	msg, err := h.svc.PostChatMessage(ctx, bob, projectID, "  ship it  ")
	if err != nil {
		t.Fatalf("PostChatMessage() error = %v", err)
	}
	if msg["text"] != "ship it" || msg["userName"] != "Bob" || !strings.HasPrefix(msg["id"].(string), "msg_") {
		t.Fatalf("PostChatMessage() = %+v", msg)
	}

	_, err = h.svc.PostChatMessage(ctx, bob, projectID, "   ")
	expectCode(t, err, CodeValidation)
	_, err = h.svc.PostChatMessage(ctx, bob, projectID, strings.Repeat("x", maxChatRunes+1))
	expectCode(t, err, CodeValidation)
	_, err = h.svc.PostChatMessage(ctx, victor, projectID, "let me in")
	expectCode(t, err, CodeForbidden)
	_, err = h.svc.PostChatMessage(ctx, alice, "prj_missing", "hello?")
	expectCode(t, err, CodeNotFound)

	h.flush()
	var chats []roomCall
	for _, call := range h.rooms.snapshot() {
		if call.kind == "chat" {
			chats = append(chats, call)
		}
	}
	if len(chats) != 1 || chats[0].projectID != projectID || chats[0].chat.Text != "ship it" || chats[0].chat.UserID != bob.ID {
		t.Fatalf("chat broadcasts = %+v", chats)
	}
	if events := h.events(t, alice, projectID); len(events) != ledger {
		t.Fatalf("chat leaked onto the activity ledger: %v", eventTypes(events))
	}
}

func TestListChatMessagesReturnsLatestWindow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob, victor := h.user(t, "Alice"), h.user(t, "Bob"), h.user(t, "Victor")
	projectID := h.project(t, alice, "Alpha", bob)

	for i := 1; i <= defaultChatLimit+5; i++ {
		if _, err := h.svc.PostChatMessage(ctx, alice, projectID, fmt.Sprintf("line %d", i)); err != nil {
			t.Fatalf("PostChatMessage(%d) error = %v", i, err)
		}
	}

	messages, err := h.svc.ListChatMessages(ctx, bob, projectID, 0)
	if err != nil {
		t.Fatalf("ListChatMessages() error = %v", err)
	}
	if len(messages) != defaultChatLimit {
		t.Fatalf("ListChatMessages() returned %d messages, want %d", len(messages), defaultChatLimit)
	}
	if messages[0]["text"] != "line 6" || messages[len(messages)-1]["text"] != fmt.Sprintf("line %d", defaultChatLimit+5) {
		t.Fatalf("window = %v .. %v", messages[0]["text"], messages[len(messages)-1]["text"])
	}

	short, err := h.svc.ListChatMessages(ctx, bob, projectID, 2)
	if err != nil || len(short) != 2 || short[1]["text"] != fmt.Sprintf("line %d", defaultChatLimit+5) {
		t.Fatalf("ListChatMessages(limit=2) = %v, %v", short, err)
	}

	_, err = h.svc.ListChatMessages(ctx, victor, projectID, 0)
	expectCode(t, err, CodeForbidden)
	_, err = h.svc.ListChatMessages(ctx, bob, projectID, maxChatLimit+1)
	expectCode(t, err, CodeValidation)
}

func TestRemovedMemberCannotChat(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	alice, bob := h.user(t, "Alice"), h.user(t, "Bob")
	projectID := h.project(t, alice, "Alpha", bob)

	if err := h.svc.RemoveMember(ctx, alice, projectID, bob.ID); err != nil {
		t.Fatalf("RemoveMember() error = %v", err)
	}
	_, err := h.svc.PostChatMessage(ctx, bob, projectID, "still here?")
	expectCode(t, err, CodeForbidden)
	_, err = h.svc.ListChatMessages(ctx, bob, projectID, 0)
	expectCode(t, err, CodeForbidden)
}
