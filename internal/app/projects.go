package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/email"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

const (
	maxProjectNameRunes = 120
	maxDescriptionRunes = 5000
)

type CreateProjectInput struct {
	Name        string
	Description string
}

func (s *Service) CreateProject(ctx context.Context, actor auth.Actor, input CreateProjectInput) (map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	name := strings.TrimSpace(input.Name)
	description := strings.TrimSpace(input.Description)
	if name == "" || utf8.RuneCountInString(name) > maxProjectNameRunes {
		return nil, errValidation("name", fmt.Sprintf("Project name is required (max %d characters)", maxProjectNameRunes))
	}
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return nil, errValidation("description", fmt.Sprintf("Description is limited to %d characters", maxDescriptionRunes))
	}

	var created store.Project
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		project, err := tx.InsertProject(ctx, store.Project{
			ID:          util.NewID("prj"),
			Name:        name,
			Description: description,
			OwnerID:     actor.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("insert project: %w", err)
		}
		created = project
		return &change{
			projectID: project.ID,
			typ:       activity.ProjectCreated,
			payload:   map[string]any{"projectId": project.ID, "name": project.Name},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return projectView(created, rbac.Resolve(actor, created.OwnerID, false)), nil
}

func (s *Service) GetProject(ctx context.Context, actor auth.Actor, projectID string) (map[string]any, error) {
	decision, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, notFoundAs(err, "Project")
	}
	return projectView(project, decision.Access), nil
}

// ListProjects returns owned and joined projects, or every project for an admin.
func (s *Service) ListProjects(ctx context.Context, actor auth.Actor) ([]map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	var (
		projects []store.Project
		err      error
	)
	if actor.IsAdmin() {
		projects, err = s.store.ListAllProjects(ctx)
	} else {
		projects, err = s.store.ListProjectsForUser(ctx, actor.ID)
	}
	if err != nil {
		return nil, err
	}
	return mapSlice(projects, func(project store.Project) map[string]any {
		return projectView(project, rbac.Resolve(actor, project.OwnerID, true))
	}), nil
}

// DeleteProject removes the project and everything under it in one
// transaction. The room is told, then closed; blobs go afterwards.
func (s *Service) DeleteProject(ctx context.Context, actor auth.Actor, projectID string) error {
	var blobKeys []string
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		if _, err := s.authorize(ctx, txMembership{tx}, actor, projectID, rbac.ActionManage); err != nil {
			return nil, err
		}
		project, err := tx.GetProject(ctx, projectID)
		if err != nil {
			return nil, notFoundAs(err, "Project")
		}
		keys, err := tx.DeleteProject(ctx, projectID)
		if err != nil {
			return nil, notFoundAs(err, "Project")
		}
		blobKeys = keys
		return &change{
			projectID: projectID,
			typ:       activity.ProjectDeleted,
			payload:   map[string]any{"projectId": projectID, "name": project.Name},
			tombstone: true,
			closeRoom: true,
		}, nil
	})
	if err != nil {
		return err
	}

	s.afterCommit(ctx, "project blob cleanup", func(ctx context.Context) error {
		var errs []error
		for _, key := range blobKeys {
			if err := s.blobs.Delete(ctx, key); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, "project_id", projectID)
	if s.search != nil {
		s.search.DeleteProject(projectID)
	}
	s.logger.InfoContext(ctx, "project deleted", "project_id", projectID, "blobs", len(blobKeys))
	return nil
}

// Members

type AddMemberInput struct {
	UserID   string
	Username string
}

// AddMember grants membership by user id or by handle (email or display
// name). Adding an existing member is a no-op without an event.
func (s *Service) AddMember(ctx context.Context, actor auth.Actor, projectID string, input AddMemberInput) (map[string]any, bool, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionManage); err != nil {
		return nil, false, err
	}
	userID, err := s.resolveInvitee(ctx, input)
	if err != nil {
		return nil, false, err
	}

	var (
		member  store.User
		project store.Project
		added   bool
	)
	_, err = s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		decision, err := s.authorize(ctx, txMembership{tx}, actor, projectID, rbac.ActionManage)
		if err != nil {
			return nil, err
		}
		if userID == decision.OwnerID {
			return nil, errValidation("userId", "The project owner is already part of the project")
		}
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return nil, notFoundAs(err, "User")
		}
		if project, err = tx.GetProject(ctx, projectID); err != nil {
			return nil, notFoundAs(err, "Project")
		}
		member = user
		if added, err = tx.AddMember(ctx, projectID, userID); err != nil {
			return nil, notFoundAs(err, "User")
		}
		if !added {
			return nil, nil
		}
		return &change{
			projectID: projectID,
			typ:       activity.MemberAdded,
			payload:   map[string]any{"userId": user.ID, "name": user.Name},
		}, nil
	})
	if err != nil {
		return nil, false, err
	}
	if added {
		s.sendInvite(ctx, actor, member, project)
	}
	return map[string]any{
		"userId":    member.ID,
		"name":      member.Name,
		"email":     member.Email,
		"role":      "member",
		"projectId": projectID,
		"added":     added,
	}, added, nil
}

func (s *Service) resolveInvitee(ctx context.Context, input AddMemberInput) (string, error) {
	userID := strings.TrimSpace(input.UserID)
	handle := strings.TrimSpace(input.Username)
	switch {
	case userID != "" && handle != "":
		return "", errValidation("userId", "Provide either userId or username, not both")
	case userID != "":
		return userID, nil
	case handle == "":
		return "", errValidation("userId", "userId or username is required")
	}
	users, err := s.store.FindUsersByHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	switch len(users) {
	case 0:
		return "", errNotFound("User")
	case 1:
		return users[0].ID, nil
	default:
		return "", errValidation("username", "More than one user matches, invite by email or id")
	}
}

func (s *Service) sendInvite(ctx context.Context, actor auth.Actor, user store.User, project store.Project) {
	if s.mailer == nil || !s.mailer.IsConfigured() || user.Email == "" {
		return
	}
	data := email.InviteData{
		UserName:    user.Name,
		InviterName: actor.DisplayName(),
		ProjectName: project.Name,
	}
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := s.mailer.SendMemberInvite(user.Email, data); err != nil {
			s.reporter.Report(ctx, "invite mail", err, "project_id", project.ID, "user_id", user.ID)
		}
	}()
}

// RemoveMember revokes membership. The owner can never be removed, whatever
// the caller's role.
func (s *Service) RemoveMember(ctx context.Context, actor auth.Actor, projectID, userID string) error {
	userID = strings.TrimSpace(userID)
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		decision, err := s.authorize(ctx, txMembership{tx}, actor, projectID, rbac.ActionManage)
		if err != nil {
			return nil, err
		}
		if userID == decision.OwnerID {
			return nil, errValidation("userId", "The project owner cannot be removed")
		}
		user, err := tx.GetUserByID(ctx, userID)
		if err != nil {
			return nil, notFoundAs(err, "Member")
		}
		removed, err := tx.RemoveMember(ctx, projectID, userID)
		if err != nil {
			return nil, err
		}
		if !removed {
			return nil, errNotFound("Member")
		}
		return &change{
			projectID: projectID,
			typ:       activity.MemberRemoved,
			payload:   map[string]any{"userId": user.ID, "name": user.Name},
			evictUser: user.ID,
		}, nil
	})
	return err
}

// ListMembers returns the owner first, then members by join time.
func (s *Service) ListMembers(ctx context.Context, actor auth.Actor, projectID string) ([]map[string]any, error) {
	decision, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead)
	if err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, notFoundAs(err, "Project")
	}
	owner, err := s.store.GetUserByID(ctx, decision.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("load owner: %w", err)
	}
	members, err := s.store.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(members)+1)
	out = append(out, ownerView(owner, project.CreatedAt))
	for _, member := range members {
		out = append(out, memberView(member))
	}
	return out, nil
}
