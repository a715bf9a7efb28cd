package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/realtime"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

const (
	maxChatRunes     = 2000
	defaultChatLimit = 50
	maxChatLimit     = 200
)

// PostChatMessage stores a chat line and sends it to the project's room as
// chat:new. Chat is not recorded on the activity ledger.
func (s *Service) PostChatMessage(ctx context.Context, actor auth.Actor, projectID, text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	var posted store.ChatMessage
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := s.authorize(ctx, txMembership{tx}, actor, projectID, rbac.ActionWrite); err != nil {
			return err
		}
		if text == "" || utf8.RuneCountInString(text) > maxChatRunes {
			return errValidation("text", fmt.Sprintf("Message is required (max %d characters)", maxChatRunes))
		}
		msg, err := tx.InsertChatMessage(ctx, store.ChatMessage{
			ID:        util.NewID("msg"),
			ProjectID: projectID,
			UserID:    actor.ID,
			UserName:  actor.DisplayName(),
			Text:      text,
		})
		if err != nil {
			return notFoundAs(err, "Project")
		}
		posted = msg
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch.enqueue(outbound{kind: outboundChat, projectID: projectID, chat: realtime.ChatMessage{
		ID:        posted.ID,
		ProjectID: posted.ProjectID,
		UserID:    posted.UserID,
		UserName:  posted.UserName,
		Text:      posted.Text,
		CreatedAt: posted.CreatedAt,
	}})
	return chatView(posted), nil
}

// ListChatMessages returns the latest messages, oldest first. A limit of zero
// means the default window.
func (s *Service) ListChatMessages(ctx context.Context, actor auth.Actor, projectID string, limit int) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	switch {
	case limit == 0:
		limit = defaultChatLimit
	case limit < 0 || limit > maxChatLimit:
		return nil, errValidation("limit", fmt.Sprintf("limit must be between 1 and %d", maxChatLimit))
	}
	messages, err := s.store.ListChatMessages(ctx, projectID, limit)
	if err != nil {
		return nil, err
	}
	return mapSlice(messages, chatView), nil
}
