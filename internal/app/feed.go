package app

import (
	"context"
	"errors"
	"strings"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/realtime"
	"teamulate/api/internal/search"
	"teamulate/api/internal/store"
)

type ActivityQuery struct {
	SinceID   int64
	Limit     int
	Ascending bool
}

// ListActivity reads the project ledger, newest first unless Ascending.
func (s *Service) ListActivity(ctx context.Context, actor auth.Actor, projectID string, query ActivityQuery) ([]activity.Event, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	if query.SinceID < 0 {
		return nil, errValidation("sinceId", "sinceId must not be negative")
	}
	return s.ledger.List(ctx, projectID, activity.ListOptions{
		SinceID:   query.SinceID,
		Limit:     query.Limit,
		Ascending: query.Ascending,
	})
}

type SearchInput struct {
	Text   string
	Type   string
	Limit  int
	Offset int
}

func (s *Service) SearchProject(ctx context.Context, actor auth.Actor, projectID string, input SearchInput) (search.Response, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead); err != nil {
		return search.Response{}, err
	}
	text := strings.TrimSpace(input.Text)
	filter := search.ResultType(strings.ToLower(strings.TrimSpace(input.Type)))
	switch filter {
	case "", search.ResultTask, search.ResultFile:
	default:
		return search.Response{}, errValidation("type", "type must be task or file")
	}
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:       text,
		ProjectID:  projectID,
		FilterType: filter,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}), nil
}

// Admin

func (s *Service) ListUsers(ctx context.Context, actor auth.Actor) ([]map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	if !actor.IsAdmin() {
		return nil, errForbidden()
	}
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	return mapSlice(users, userView), nil
}

func (s *Service) SetUserRole(ctx context.Context, actor auth.Actor, userID, role string) (map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	if !actor.IsAdmin() {
		return nil, errForbidden()
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !auth.ValidRole(role) {
		return nil, errValidation("role", "role must be user or admin")
	}
	if userID == actor.ID {
		return nil, errValidation("userId", "Admins cannot change their own role")
	}
	user, err := s.store.UpdateUserRole(ctx, userID, role)
	if err != nil {
		return nil, notFoundAs(err, "User")
	}
	s.logger.InfoContext(ctx, "user role changed", "user_id", user.ID, "role", user.Role, "by", actor.ID)
	if user.Role != auth.RoleAdmin {
		// Rooms joined on admin rights must be re-checked.
		s.dispatch.enqueue(outbound{kind: outboundRevalidate, userID: user.ID})
	}
	return userView(user), nil
}

// Realtime

// AuthorizeJoin lets a socket into a project room when the actor can read
// the project. The actor is reloaded because sockets outlive role changes.
func (s *Service) AuthorizeJoin(ctx context.Context, actor auth.Actor, projectID string) error {
	current, err := s.LookupActor(ctx, actor.ID)
	if err != nil {
		if errors.Is(err, auth.ErrUnknownSubject) {
			return realtime.ErrJoinDenied
		}
		return err
	}
	_, err = s.authorize(ctx, s.store, current, projectID, rbac.ActionRead)
	switch {
	case err == nil:
		return nil
	case isCode(err, CodeNotFound):
		return realtime.ErrRoomNotFound
	case isCode(err, CodeForbidden), isCode(err, CodeUnauthorized):
		return realtime.ErrJoinDenied
	case errors.Is(err, store.ErrNotFound):
		return realtime.ErrRoomNotFound
	}
	return err
}

// CanReceive reports which of userIDs may read the project right now. A
// project that no longer exists keeps its room open only long enough for
// the deletion notice, so every listener still receives it.
func (s *Service) CanReceive(ctx context.Context, projectID string, userIDs []string) (map[string]bool, error) {
	allowed := make(map[string]bool, len(userIDs))
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		for _, id := range userIDs {
			allowed[id] = true
		}
		return allowed, nil
	}
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	isMember := make(map[string]bool, len(members))
	for _, m := range members {
		isMember[m.UserID] = true
	}
	for _, id := range userIDs {
		if id == project.OwnerID || isMember[id] {
			allowed[id] = true
			continue
		}
		user, err := s.store.GetUserByID(ctx, id)
		switch {
		case errors.Is(err, store.ErrNotFound):
			continue
		case err != nil:
			return nil, err
		}
		allowed[id] = rbac.Resolve(actorFromUser(user), project.OwnerID, false) != rbac.AccessDenied
	}
	return allowed, nil
}

var _ realtime.Audience = (*Service)(nil)

var _ realtime.Authorizer = (*Service)(nil)
