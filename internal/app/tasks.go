package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/search"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

const (
	maxTaskTitleRunes   = 200
	maxCommentRunes     = 4000
	commentExcerptRunes = 140
)

type CreateTaskInput struct {
	Title       string
	Description string
	Status      string
	Deadline    string
	AssigneeID  string
}

// UpdateTaskInput carries optional edits; a nil field is left unchanged and
// an empty Deadline clears it.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Deadline    *string
}

// parseRFC3339 parses a time string in RFC3339 format, tolerating milliseconds
// from JavaScript's Date.toISOString() (e.g. "2026-03-12T16:10:00.000Z").
func parseRFC3339(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	return t, err
}

// parseDeadline accepts RFC3339 or a plain date from a date picker.
func parseDeadline(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	t, err := parseRFC3339(value)
	if err != nil {
		t, err = time.Parse(time.DateOnly, value)
	}
	if err != nil {
		return nil, errValidation("deadline", "Deadline must be an RFC3339 timestamp or YYYY-MM-DD date")
	}
	t = t.UTC()
	return &t, nil
}

func validateTitle(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" || utf8.RuneCountInString(title) > maxTaskTitleRunes {
		return "", errValidation("title", fmt.Sprintf("Task title is required (max %d characters)", maxTaskTitleRunes))
	}
	return title, nil
}

func validateDescription(description string) (string, error) {
	description = strings.TrimSpace(description)
	if utf8.RuneCountInString(description) > maxDescriptionRunes {
		return "", errValidation("description", fmt.Sprintf("Description is limited to %d characters", maxDescriptionRunes))
	}
	return description, nil
}

// checkAssignee requires the assignee to be the owner or a current member.
func checkAssignee(ctx context.Context, tx store.Tx, decision rbac.Decision, assigneeID string) error {
	if assigneeID == decision.OwnerID {
		return nil
	}
	member, err := tx.IsMember(ctx, decision.ProjectID, assigneeID)
	if err != nil {
		return err
	}
	if !member {
		return errValidation("assigneeId", "Assignee must be the project owner or a member")
	}
	return nil
}

// loadTask reads a task and authorizes action on its project. A task in a
// project the actor cannot access is FORBIDDEN, not NOT_FOUND.
func (s *Service) loadTask(ctx context.Context, tx store.Tx, actor auth.Actor, taskID string, action rbac.Action) (store.Task, rbac.Decision, error) {
	if !actor.Authenticated() {
		return store.Task{}, rbac.Decision{}, errUnauthorized()
	}
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, rbac.Decision{}, notFoundAs(err, "Task")
	}
	decision, err := s.authorize(ctx, txMembership{tx}, actor, task.ProjectID, action)
	if err != nil {
		return store.Task{}, rbac.Decision{}, err
	}
	return task, decision, nil
}

func (s *Service) indexTask(task store.Task) {
	if s.search == nil {
		return
	}
	s.search.IndexTask(search.TaskRecord{
		ID:          task.ID,
		ProjectID:   task.ProjectID,
		Title:       task.Title,
		Description: task.Description,
		Status:      task.Status,
	})
}

func (s *Service) CreateTask(ctx context.Context, actor auth.Actor, projectID string, input CreateTaskInput) (map[string]any, error) {
	var created store.Task
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		decision, err := s.authorize(ctx, txMembership{tx}, actor, projectID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		title, err := validateTitle(input.Title)
		if err != nil {
			return nil, err
		}
		description, err := validateDescription(input.Description)
		if err != nil {
			return nil, err
		}
		status := defaultStatus
		if strings.TrimSpace(input.Status) != "" {
			normalized, ok := normalizeStatus(input.Status)
			if !ok {
				return nil, errValidation("status", "Unknown task status")
			}
			status = normalized
		}
		deadline, err := parseDeadline(input.Deadline)
		if err != nil {
			return nil, err
		}
		var assigneeID *string
		if id := strings.TrimSpace(input.AssigneeID); id != "" {
			if !decision.Can(rbac.ActionManage) {
				return nil, errForbidden()
			}
			if err := checkAssignee(ctx, tx, decision, id); err != nil {
				return nil, err
			}
			assigneeID = &id
		}

		task, err := tx.InsertTask(ctx, store.Task{
			ID:          util.NewID("tsk"),
			ProjectID:   projectID,
			Title:       title,
			Description: description,
			Status:      status,
			Deadline:    deadline,
			AssigneeID:  assigneeID,
			CreatorID:   actor.ID,
		})
		if err != nil {
			return nil, notFoundAs(err, "Project")
		}
		created = task
		return &change{
			projectID: projectID,
			typ:       activity.TaskCreated,
			payload:   map[string]any{"taskId": task.ID, "title": task.Title, "status": task.Status},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.indexTask(created)
	return taskView(created), nil
}

func (s *Service) GetTask(ctx context.Context, actor auth.Actor, taskID string) (map[string]any, error) {
	task, err := s.readTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	return taskView(task), nil
}

func (s *Service) readTask(ctx context.Context, actor auth.Actor, taskID string) (store.Task, error) {
	if !actor.Authenticated() {
		return store.Task{}, errUnauthorized()
	}
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return store.Task{}, notFoundAs(err, "Task")
	}
	if _, err := s.authorize(ctx, s.store, actor, task.ProjectID, rbac.ActionRead); err != nil {
		return store.Task{}, err
	}
	return task, nil
}

func (s *Service) ListTasks(ctx context.Context, actor auth.Actor, projectID string) ([]map[string]any, error) {
	if _, err := s.authorize(ctx, s.store, actor, projectID, rbac.ActionRead); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return mapSlice(tasks, taskView), nil
}

func (s *Service) UpdateTask(ctx context.Context, actor auth.Actor, taskID string, input UpdateTaskInput) (map[string]any, error) {
	var updated store.Task
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		task, _, err := s.loadTask(ctx, tx, actor, taskID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		next := task
		changes := []string{}
		if input.Title != nil {
			title, err := validateTitle(*input.Title)
			if err != nil {
				return nil, err
			}
			if title != task.Title {
				next.Title = title
				changes = append(changes, "title")
			}
		}
		if input.Description != nil {
			description, err := validateDescription(*input.Description)
			if err != nil {
				return nil, err
			}
			if description != task.Description {
				next.Description = description
				changes = append(changes, "description")
			}
		}
		if input.Deadline != nil {
			deadline, err := parseDeadline(*input.Deadline)
			if err != nil {
				return nil, err
			}
			if !sameDeadline(task.Deadline, deadline) {
				next.Deadline = deadline
				changes = append(changes, "deadline")
			}
		}
		if len(changes) == 0 {
			updated = task
			return nil, nil
		}
		if updated, err = tx.UpdateTask(ctx, next); err != nil {
			return nil, notFoundAs(err, "Task")
		}
		return &change{
			projectID: task.ProjectID,
			typ:       activity.TaskUpdated,
			payload:   map[string]any{"taskId": task.ID, "title": updated.Title, "changes": changes},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	s.indexTask(updated)
	return taskView(updated), nil
}

func sameDeadline(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// ChangeTaskStatus moves a task to another status. Setting the current
// status writes nothing and records nothing. The write is conditional on the
// status read, so a concurrent transition is detected; the read is retried
// once before giving up.
func (s *Service) ChangeTaskStatus(ctx context.Context, actor auth.Actor, taskID, status string) (map[string]any, error) {
	var result store.Task
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		task, _, err := s.loadTask(ctx, tx, actor, taskID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		to, ok := normalizeStatus(status)
		if !ok {
			return nil, errValidation("status", "Unknown task status")
		}

		for attempt := 0; ; attempt++ {
			if task.Status == to {
				result = task
				return nil, nil
			}
			at := s.now()
			moved, err := tx.UpdateTaskStatus(ctx, task.ID, task.Status, to, at)
			if err != nil {
				return nil, err
			}
			if moved {
				from := task.Status
				task.Status, task.UpdatedAt = to, at
				result = task
				return &change{
					projectID: task.ProjectID,
					typ:       activity.TaskStatusChanged,
					payload:   map[string]any{"taskId": task.ID, "title": task.Title, "from": from, "to": to},
				}, nil
			}
			if attempt == 1 {
				return nil, domainError(http.StatusConflict, CodeConflict, "Task status changed concurrently, retry", nil)
			}
			if task, err = tx.GetTask(ctx, task.ID); err != nil {
				return nil, notFoundAs(err, "Task")
			}
		}
	})
	if err != nil {
		return nil, err
	}
	s.indexTask(result)
	return taskView(result), nil
}

// AssignTask sets or clears the assignee. Only owners and admins assign.
func (s *Service) AssignTask(ctx context.Context, actor auth.Actor, taskID string, assigneeID *string) (map[string]any, error) {
	var result store.Task
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		task, decision, err := s.loadTask(ctx, tx, actor, taskID, rbac.ActionManage)
		if err != nil {
			return nil, err
		}
		var next *string
		if assigneeID != nil {
			if id := strings.TrimSpace(*assigneeID); id != "" {
				next = &id
			}
		}
		if next != nil {
			if err := checkAssignee(ctx, tx, decision, *next); err != nil {
				return nil, err
			}
		}
		if sameAssignee(task.AssigneeID, next) {
			result = task
			return nil, nil
		}

		assigneeName := ""
		if next != nil {
			user, err := tx.GetUserByID(ctx, *next)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return nil, errValidation("assigneeId", "Assignee must be the project owner or a member")
				}
				return nil, err
			}
			assigneeName = user.Name
		}
		at := s.now()
		if err := tx.UpdateTaskAssignee(ctx, task.ID, next, at); err != nil {
			return nil, notFoundAs(err, "Task")
		}
		task.AssigneeID, task.UpdatedAt = next, at
		result = task

		var payloadAssignee any
		if next != nil {
			payloadAssignee = *next
		}
		return &change{
			projectID: task.ProjectID,
			typ:       activity.TaskAssigned,
			payload: map[string]any{
				"taskId":       task.ID,
				"title":        task.Title,
				"assigneeId":   payloadAssignee,
				"assigneeName": assigneeName,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return taskView(result), nil
}

func sameAssignee(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func (s *Service) DeleteTask(ctx context.Context, actor auth.Actor, taskID string) error {
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		task, _, err := s.loadTask(ctx, tx, actor, taskID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		deleted, err := tx.DeleteTask(ctx, task.ID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return nil, errNotFound("Task")
		}
		return &change{
			projectID: task.ProjectID,
			typ:       activity.TaskDeleted,
			payload:   map[string]any{"taskId": task.ID, "title": task.Title},
		}, nil
	})
	if err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteTask(taskID)
	}
	return nil
}

// Comments

func (s *Service) CommentTask(ctx context.Context, actor auth.Actor, taskID, body string) (map[string]any, error) {
	var created store.TaskComment
	_, err := s.mutate(ctx, actor, func(tx store.Tx) (*change, error) {
		task, _, err := s.loadTask(ctx, tx, actor, taskID, rbac.ActionWrite)
		if err != nil {
			return nil, err
		}
		text := strings.TrimSpace(body)
		if text == "" || utf8.RuneCountInString(text) > maxCommentRunes {
			return nil, errValidation("body", fmt.Sprintf("Comment is required (max %d characters)", maxCommentRunes))
		}
		comment, err := tx.InsertComment(ctx, store.TaskComment{
			ID:         util.NewID("cmt"),
			TaskID:     task.ID,
			ProjectID:  task.ProjectID,
			AuthorID:   actor.ID,
			AuthorName: actor.DisplayName(),
			Body:       text,
		})
		if err != nil {
			return nil, notFoundAs(err, "Task")
		}
		created = comment
		return &change{
			projectID: task.ProjectID,
			typ:       activity.TaskCommented,
			payload: map[string]any{
				"taskId":    task.ID,
				"title":     task.Title,
				"commentId": comment.ID,
				"comment":   activity.Excerpt(text, commentExcerptRunes),
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return commentView(created), nil
}

func (s *Service) ListComments(ctx context.Context, actor auth.Actor, taskID string) ([]map[string]any, error) {
	task, err := s.readTask(ctx, actor, taskID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	return mapSlice(comments, commentView), nil
}
