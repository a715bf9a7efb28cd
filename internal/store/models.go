package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID           string
	Email        string
	Name         string
	Phone        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Project struct {
	ID          string
	Name        string
	Description string
	OwnerID     string
	CreatedAt   time.Time
}

// Member is a membership row joined with the member's user record.
type Member struct {
	ProjectID string
	UserID    string
	Role      string
	Name      string
	Email     string
	JoinedAt  time.Time
}

type Task struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	Status      string
	Deadline    *time.Time
	AssigneeID  *string
	CreatorID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type TaskComment struct {
	ID         string
	TaskID     string
	ProjectID  string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

// ChatMessage is a project chat line. UserName is the author's display name
// at the time of posting.
type ChatMessage struct {
	ID        string
	ProjectID string
	UserID    string
	UserName  string
	Text      string
	CreatedAt time.Time
}

// ProfileUpdate carries the self-service account fields. Nil fields are left
// unchanged.
type ProfileUpdate struct {
	Name  *string
	Email *string
	Phone *string
}

type FileRecord struct {
	ID           string
	ProjectID    string
	BlobKey      string
	OriginalName string
	MimeType     string
	Size         int64
	UploadedBy   string
	CreatedAt    time.Time
}

type ActivityEvent struct {
	ID        int64
	ProjectID string
	Type      string
	Payload   json.RawMessage
	ActorID   string
	ActorName string
	CreatedAt time.Time
}

type ActivityQuery struct {
	ProjectID string
	SinceID   int64
	Limit     int
	Ascending bool
}
