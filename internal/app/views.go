package app

import (
	"time"

	"teamulate/api/internal/rbac"
	"teamulate/api/internal/store"
)

func userView(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"name":      user.Name,
		"email":     user.Email,
		"phone":     user.Phone,
		"role":      user.Role,
		"createdAt": user.CreatedAt,
	}
}

func sessionView(session Session) map[string]any {
	return map[string]any{
		"token":        session.Token,
		"refreshToken": session.RefreshToken,
		"expiresAt":    session.ExpiresAt,
		"user":         userView(session.User),
	}
}

func projectView(project store.Project, access rbac.Access) map[string]any {
	return map[string]any{
		"id":          project.ID,
		"name":        project.Name,
		"description": project.Description,
		"ownerId":     project.OwnerID,
		"createdAt":   project.CreatedAt,
		"access":      access,
	}
}

func memberView(member store.Member) map[string]any {
	return map[string]any{
		"userId":   member.UserID,
		"name":     member.Name,
		"email":    member.Email,
		"role":     member.Role,
		"joinedAt": member.JoinedAt,
	}
}

func ownerView(owner store.User, createdAt time.Time) map[string]any {
	return map[string]any{
		"userId":   owner.ID,
		"name":     owner.Name,
		"email":    owner.Email,
		"role":     "owner",
		"joinedAt": createdAt,
	}
}

func taskView(task store.Task) map[string]any {
	return map[string]any{
		"id":          task.ID,
		"projectId":   task.ProjectID,
		"title":       task.Title,
		"description": task.Description,
		"status":      task.Status,
		"deadline":    task.Deadline,
		"assigneeId":  task.AssigneeID,
		"creatorId":   task.CreatorID,
		"createdAt":   task.CreatedAt,
		"updatedAt":   task.UpdatedAt,
	}
}

func commentView(comment store.TaskComment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"taskId":     comment.TaskID,
		"projectId":  comment.ProjectID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt,
	}
}

func chatView(msg store.ChatMessage) map[string]any {
	return map[string]any{
		"id":        msg.ID,
		"projectId": msg.ProjectID,
		"userId":    msg.UserID,
		"userName":  msg.UserName,
		"text":      msg.Text,
		"createdAt": msg.CreatedAt,
	}
}

func fileView(file store.FileRecord) map[string]any {
	return map[string]any{
		"id":         file.ID,
		"projectId":  file.ProjectID,
		"name":       file.OriginalName,
		"mimeType":   file.MimeType,
		"size":       file.Size,
		"uploadedBy": file.UploadedBy,
		"createdAt":  file.CreatedAt,
	}
}

func mapSlice[T any](items []T, view func(T) map[string]any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		out = append(out, view(item))
	}
	return out
}
