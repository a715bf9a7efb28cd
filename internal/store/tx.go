package store

import (
	"context"
	"time"
)

// Tx is the storage surface available to a mutation. Every method runs in
// the enclosing transaction when obtained through WithTx.
type Tx interface {
	GetUserByID(ctx context.Context, id string) (User, error)
	GetProject(ctx context.Context, id string) (Project, error)
	InsertProject(ctx context.Context, project Project) (Project, error)
	DeleteProject(ctx context.Context, id string) ([]string, error)

	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	AddMember(ctx context.Context, projectID, userID string) (bool, error)
	RemoveMember(ctx context.Context, projectID, userID string) (bool, error)

	GetTask(ctx context.Context, id string) (Task, error)
	InsertTask(ctx context.Context, task Task) (Task, error)
	UpdateTask(ctx context.Context, task Task) (Task, error)
	UpdateTaskStatus(ctx context.Context, id, from, to string, at time.Time) (bool, error)
	UpdateTaskAssignee(ctx context.Context, id string, assigneeID *string, at time.Time) error
	DeleteTask(ctx context.Context, id string) (bool, error)
	InsertComment(ctx context.Context, comment TaskComment) (TaskComment, error)
	InsertChatMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error)

	GetFile(ctx context.Context, id string) (FileRecord, error)
	InsertFile(ctx context.Context, file FileRecord) (FileRecord, error)
	DeleteFile(ctx context.Context, id string) (bool, error)
}
