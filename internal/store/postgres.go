package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

type PostgresStore struct {
	db *sql.DB
	q  querier
}

var _ Tx = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a transaction. The transaction commits only when fn
// returns nil. Calling WithTx on a store already bound to a transaction
// reuses it.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	return s.inTx(ctx, func(tx *PostgresStore) error { return fn(tx) })
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(*PostgresStore) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&PostgresStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Users

const userColumns = `id, email, name, phone, password_hash, role, created_at, updated_at`

func scanUser(row rowScanner) (User, error) {
	var user User
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.Phone, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	return user, err
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, email, name, phone, password_hash, role)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.Name, user.Phone, user.PasswordHash, user.Role)
	if err != nil {
		if pgCode(err) == sqlStateUniqueViolation {
			return ErrConflict
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email)=LOWER($1)`, strings.TrimSpace(email)))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// FindUsersByHandle matches an email or display name, case-insensitively.
// At most two rows are returned so callers can detect ambiguity.
func (s *PostgresStore) FindUsersByHandle(ctx context.Context, handle string) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1) OR LOWER(name) = LOWER($1)
		ORDER BY created_at
		LIMIT 2
	`, strings.TrimSpace(handle))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]User, error) {
	users := []User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, id, role string) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users SET role=$2, updated_at=NOW()
		WHERE id=$1
		RETURNING `+userColumns, id, role))
	if err != nil {
		return User{}, notFound(err)
	}
	return user, nil
}

// UpdateUserProfile applies the non-nil fields of update. A taken email
// yields ErrConflict.
func (s *PostgresStore) UpdateUserProfile(ctx context.Context, id string, update ProfileUpdate) (User, error) {
	user, err := scanUser(s.q.QueryRowContext(ctx, `
		UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			phone = COALESCE($4, phone),
			updated_at = NOW()
		WHERE id=$1
		RETURNING `+userColumns, id, update.Name, update.Email, update.Phone))
	if err != nil {
		if pgCode(err) == sqlStateUniqueViolation {
			return User{}, ErrConflict
		}
		return User{}, notFound(err)
	}
	return user, nil
}

// Refresh sessions

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.q.QueryRowContext(ctx, `
		SELECT user_id FROM refresh_sessions
		WHERE token_hash=$1 AND revoked_at IS NULL AND expires_at > NOW()
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", notFound(err)
	}
	return userID, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.q.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

// Projects

const projectColumns = `id, name, description, owner_id, created_at`

func scanProject(row rowScanner) (Project, error) {
	var project Project
	err := row.Scan(&project.ID, &project.Name, &project.Description, &project.OwnerID, &project.CreatedAt)
	return project, err
}

func (s *PostgresStore) InsertProject(ctx context.Context, project Project) (Project, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, description, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, project.ID, project.Name, project.Description, project.OwnerID).Scan(&project.CreatedAt)
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return project, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (Project, error) {
	project, err := scanProject(s.q.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=$1`, id))
	if err != nil {
		return Project{}, notFound(err)
	}
	return project, nil
}

func (s *PostgresStore) ProjectOwner(ctx context.Context, id string) (string, error) {
	var ownerID string
	if err := s.q.QueryRowContext(ctx, `SELECT owner_id FROM projects WHERE id=$1`, id).Scan(&ownerID); err != nil {
		return "", notFound(err)
	}
	return ownerID, nil
}

// ListProjectsForUser returns projects the user owns or is a member of.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string) ([]Project, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT p.id, p.name, p.description, p.owner_id, p.created_at
		FROM projects p
		WHERE p.owner_id = $1
			OR EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $1)
		ORDER BY p.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return collectProjects(rows)
}

func (s *PostgresStore) ListAllProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	return collectProjects(rows)
}

func collectProjects(rows *sql.Rows) ([]Project, error) {
	projects := []Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

// DeleteProject removes the project and, through ON DELETE CASCADE, its
// members, tasks, comments, files and activity. It returns the blob keys of
// the deleted files so the caller can remove the objects after commit.
func (s *PostgresStore) DeleteProject(ctx context.Context, id string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT blob_key FROM files WHERE project_id=$1 ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("list project blobs: %w", err)
	}
	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan blob key: %w", err)
		}
		keys = append(keys, key)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	result, err := s.q.ExecContext(ctx, `DELETE FROM projects WHERE id=$1`, id)
	if err != nil {
		return nil, fmt.Errorf("delete project: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return nil, ErrNotFound
	}
	return keys, nil
}

// Members

func (s *PostgresStore) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists bool
	err := s.q.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM project_members WHERE project_id=$1 AND user_id=$2)
	`, projectID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return exists, nil
}

// AddMember reports whether a new row was inserted.
func (s *PostgresStore) AddMember(ctx context.Context, projectID, userID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		INSERT INTO project_members (project_id, user_id, role)
		VALUES ($1, $2, 'member')
		ON CONFLICT (project_id, user_id) DO NOTHING
	`, projectID, userID)
	if err != nil {
		if pgCode(err) == sqlStateForeignKeyViolation {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("add member: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, projectID, userID string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM project_members WHERE project_id=$1 AND user_id=$2`, projectID, userID)
	if err != nil {
		return false, fmt.Errorf("remove member: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT pm.project_id, pm.user_id, pm.role, u.name, u.email, pm.created_at
		FROM project_members pm
		JOIN users u ON u.id = pm.user_id
		WHERE pm.project_id = $1
		ORDER BY pm.created_at, u.email
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var member Member
		if err := rows.Scan(&member.ProjectID, &member.UserID, &member.Role, &member.Name, &member.Email, &member.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, member)
	}
	return members, rows.Err()
}

// Tasks

const taskColumns = `id, project_id, title, description, status, deadline, assignee_id, creator_id, created_at, updated_at`

func scanTask(row rowScanner) (Task, error) {
	var (
		task     Task
		deadline sql.NullTime
		assignee sql.NullString
	)
	err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &task.Description, &task.Status,
		&deadline, &assignee, &task.CreatorID, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		return Task{}, err
	}
	if deadline.Valid {
		value := deadline.Time
		task.Deadline = &value
	}
	if assignee.Valid {
		value := assignee.String
		task.AssigneeID = &value
	}
	return task, nil
}

func (s *PostgresStore) InsertTask(ctx context.Context, task Task) (Task, error) {
	created, err := scanTask(s.q.QueryRowContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, deadline, assignee_id, creator_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+taskColumns,
		task.ID, task.ProjectID, task.Title, task.Description, task.Status,
		nullTime(task.Deadline), nullString(task.AssigneeID), task.CreatorID))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (Task, error) {
	task, err := scanTask(s.q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, id))
	if err != nil {
		return Task{}, notFound(err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, projectID string) ([]Task, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE project_id=$1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// UpdateTask writes title, description and deadline.
func (s *PostgresStore) UpdateTask(ctx context.Context, task Task) (Task, error) {
	updated, err := scanTask(s.q.QueryRowContext(ctx, `
		UPDATE tasks SET title=$2, description=$3, deadline=$4, updated_at=NOW()
		WHERE id=$1
		RETURNING `+taskColumns,
		task.ID, task.Title, task.Description, nullTime(task.Deadline)))
	if err != nil {
		return Task{}, notFound(err)
	}
	return updated, nil
}

// UpdateTaskStatus moves the task from one status to another. It reports
// false when the stored status is no longer from.
func (s *PostgresStore) UpdateTaskStatus(ctx context.Context, id, from, to string, at time.Time) (bool, error) {
	result, err := s.q.ExecContext(ctx, `
		UPDATE tasks SET status=$3, updated_at=$4
		WHERE id=$1 AND status=$2
	`, id, from, to, at)
	if err != nil {
		return false, fmt.Errorf("update task status: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

func (s *PostgresStore) UpdateTaskAssignee(ctx context.Context, id string, assigneeID *string, at time.Time) error {
	result, err := s.q.ExecContext(ctx, `UPDATE tasks SET assignee_id=$2, updated_at=$3 WHERE id=$1`, id, nullString(assigneeID), at)
	if err != nil {
		return fmt.Errorf("update task assignee: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM tasks WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete task: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Comments

func (s *PostgresStore) InsertComment(ctx context.Context, comment TaskComment) (TaskComment, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO task_comments (id, task_id, project_id, author_id, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, comment.ID, comment.TaskID, comment.ProjectID, comment.AuthorID, comment.Body).Scan(&comment.CreatedAt)
	if err != nil {
		return TaskComment{}, fmt.Errorf("insert comment: %w", err)
	}
	return comment, nil
}

func (s *PostgresStore) ListComments(ctx context.Context, taskID string) ([]TaskComment, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT c.id, c.task_id, c.project_id, c.author_id, COALESCE(NULLIF(u.name, ''), u.email), c.body, c.created_at
		FROM task_comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.task_id = $1
		ORDER BY c.created_at, c.id
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	comments := []TaskComment{}
	for rows.Next() {
		var comment TaskComment
		if err := rows.Scan(&comment.ID, &comment.TaskID, &comment.ProjectID, &comment.AuthorID, &comment.AuthorName, &comment.Body, &comment.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// Chat

func (s *PostgresStore) InsertChatMessage(ctx context.Context, msg ChatMessage) (ChatMessage, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO chat_messages (id, project_id, user_id, user_name, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, msg.ID, msg.ProjectID, msg.UserID, msg.UserName, msg.Text).Scan(&msg.CreatedAt)
	if err != nil {
		if pgCode(err) == sqlStateForeignKeyViolation {
			return ChatMessage{}, ErrNotFound
		}
		return ChatMessage{}, fmt.Errorf("insert chat message: %w", err)
	}
	return msg, nil
}

// ListChatMessages returns the latest limit messages, oldest first.
func (s *PostgresStore) ListChatMessages(ctx context.Context, projectID string, limit int) ([]ChatMessage, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, user_id, user_name, body, created_at FROM (
			SELECT id, project_id, user_id, user_name, body, created_at
			FROM chat_messages
			WHERE project_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) latest
		ORDER BY created_at, id
	`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	messages := []ChatMessage{}
	for rows.Next() {
		var msg ChatMessage
		if err := rows.Scan(&msg.ID, &msg.ProjectID, &msg.UserID, &msg.UserName, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Files

const fileColumns = `id, project_id, blob_key, original_name, mime_type, size_bytes, uploaded_by, created_at`

func scanFile(row rowScanner) (FileRecord, error) {
	var file FileRecord
	err := row.Scan(&file.ID, &file.ProjectID, &file.BlobKey, &file.OriginalName, &file.MimeType, &file.Size, &file.UploadedBy, &file.CreatedAt)
	return file, err
}

func (s *PostgresStore) InsertFile(ctx context.Context, file FileRecord) (FileRecord, error) {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO files (id, project_id, blob_key, original_name, mime_type, size_bytes, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, file.ID, file.ProjectID, file.BlobKey, file.OriginalName, file.MimeType, file.Size, file.UploadedBy).Scan(&file.CreatedAt)
	if err != nil {
		if pgCode(err) == sqlStateUniqueViolation {
			return FileRecord{}, ErrConflict
		}
		return FileRecord{}, fmt.Errorf("insert file: %w", err)
	}
	return file, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, id string) (FileRecord, error) {
	file, err := scanFile(s.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id=$1`, id))
	if err != nil {
		return FileRecord{}, notFound(err)
	}
	return file, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, projectID string) ([]FileRecord, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files WHERE project_id=$1 ORDER BY created_at DESC, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := []FileRecord{}
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteFile(ctx context.Context, id string) (bool, error) {
	result, err := s.q.ExecContext(ctx, `DELETE FROM files WHERE id=$1`, id)
	if err != nil {
		return false, fmt.Errorf("delete file: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Activity

// ledgerLockKey is the advisory lock that serializes ledger appends.
const ledgerLockKey int64 = 0x74656d75

// InsertActivity appends one ledger row. Appends hold a transaction-scoped
// advisory lock from nextval through commit, so ids become visible in
// sequence order and a reader paging by sinceId never skips a row that
// commits later.
func (s *PostgresStore) InsertActivity(ctx context.Context, event ActivityEvent) (ActivityEvent, error) {
	payload := event.Payload
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	err := s.inTx(ctx, func(tx *PostgresStore) error {
		if _, err := tx.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
			return fmt.Errorf("lock activity ledger: %w", err)
		}
		err := tx.q.QueryRowContext(ctx, `
			INSERT INTO activity_events (project_id, type, payload, actor_id, actor_name)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id, created_at
		`, event.ProjectID, event.Type, string(payload), nullableText(event.ActorID), event.ActorName).Scan(&event.ID, &event.CreatedAt)
		if err != nil {
			if pgCode(err) == sqlStateForeignKeyViolation {
				return ErrNotFound
			}
			return fmt.Errorf("insert activity: %w", err)
		}
		return nil
	})
	if err != nil {
		return ActivityEvent{}, err
	}
	event.Payload = payload
	return event, nil
}

func (s *PostgresStore) ListActivity(ctx context.Context, query ActivityQuery) ([]ActivityEvent, error) {
	order := "DESC"
	if query.Ascending {
		order = "ASC"
	}
	rows, err := s.q.QueryContext(ctx, `
		SELECT id, project_id, type, payload, COALESCE(actor_id, ''), actor_name, created_at
		FROM activity_events
		WHERE project_id = $1 AND id > $2
		ORDER BY id `+order+`
		LIMIT $3
	`, query.ProjectID, query.SinceID, query.Limit)
	if err != nil {
		return nil, fmt.Errorf("list activity: %w", err)
	}
	defer rows.Close()

	events := []ActivityEvent{}
	for rows.Next() {
		var (
			event   ActivityEvent
			payload []byte
		)
		if err := rows.Scan(&event.ID, &event.ProjectID, &event.Type, &payload, &event.ActorID, &event.ActorName, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		event.Payload = payload
		events = append(events, event)
	}
	return events, rows.Err()
}

// NextActivityID reserves an id from the activity sequence without writing a row.
func (s *PostgresStore) NextActivityID(ctx context.Context) (int64, error) {
	var id int64
	err := s.q.QueryRowContext(ctx, `SELECT nextval(pg_get_serial_sequence('activity_events', 'id'))`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("reserve activity id: %w", err)
	}
	return id, nil
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}

func nullableText(value string) any {
	if value == "" {
		return nil
	}
	return value
}

// IsNotFound reports whether err is a not-found error from any store.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
