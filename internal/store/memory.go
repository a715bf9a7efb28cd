package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore is an in-process implementation of the Postgres store used for
// local development and tests. Transactions run against a copy of the state
// and are swapped in on success; the activity sequence, like a Postgres
// sequence, is not rolled back.
type MemoryStore struct {
	mu    *sync.Mutex
	state *memState
	inTx  bool
	seq   *atomic.Int64
	ord   *atomic.Int64
	now   func() time.Time
}

var _ Tx = (*MemoryStore)(nil)

type memSession struct {
	userID    string
	expiresAt time.Time
	revoked   bool
}

type memState struct {
	users    map[string]User
	sessions map[string]memSession
	projects map[string]Project
	members  map[string]map[string]Member
	tasks    map[string]Task
	comments map[string]TaskComment
	chats    map[string]ChatMessage
	files    map[string]FileRecord
	activity []ActivityEvent
	order    map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mu: &sync.Mutex{},
		state: &memState{
			users:    map[string]User{},
			sessions: map[string]memSession{},
			projects: map[string]Project{},
			members:  map[string]map[string]Member{},
			tasks:    map[string]Task{},
			comments: map[string]TaskComment{},
			chats:    map[string]ChatMessage{},
			files:    map[string]FileRecord{},
			order:    map[string]int64{},
		},
		seq: &atomic.Int64{},
		ord: &atomic.Int64{},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (st *memState) clone() *memState {
	next := &memState{
		users:    make(map[string]User, len(st.users)),
		sessions: make(map[string]memSession, len(st.sessions)),
		projects: make(map[string]Project, len(st.projects)),
		members:  make(map[string]map[string]Member, len(st.members)),
		tasks:    make(map[string]Task, len(st.tasks)),
		comments: make(map[string]TaskComment, len(st.comments)),
		chats:    make(map[string]ChatMessage, len(st.chats)),
		files:    make(map[string]FileRecord, len(st.files)),
		activity: append([]ActivityEvent(nil), st.activity...),
		order:    make(map[string]int64, len(st.order)),
	}
	for k, v := range st.users {
		next.users[k] = v
	}
	for k, v := range st.sessions {
		next.sessions[k] = v
	}
	for k, v := range st.projects {
		next.projects[k] = v
	}
	for k, set := range st.members {
		copied := make(map[string]Member, len(set))
		for uid, m := range set {
			copied[uid] = m
		}
		next.members[k] = copied
	}
	for k, v := range st.tasks {
		next.tasks[k] = v
	}
	for k, v := range st.comments {
		next.comments[k] = v
	}
	for k, v := range st.chats {
		next.chats[k] = v
	}
	for k, v := range st.files {
		next.files[k] = v
	}
	for k, v := range st.order {
		next.order[k] = v
	}
	return next
}

func (s *MemoryStore) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) stamp(key string) {
	s.state.order[key] = s.ord.Add(1)
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &MemoryStore{mu: s.mu, state: s.state.clone(), inTx: true, seq: s.seq, ord: s.ord, now: s.now}
	if err := fn(tx); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

// Users

func (s *MemoryStore) CreateUser(_ context.Context, user User) error {
	defer s.lock()()
	for _, existing := range s.state.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return ErrConflict
		}
	}
	now := s.now()
	if user.Role == "" {
		user.Role = "user"
	}
	user.CreatedAt, user.UpdatedAt = now, now
	s.state.users[user.ID] = user
	s.stamp("user:" + user.ID)
	return nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, id string) (User, error) {
	defer s.lock()()
	user, ok := s.state.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return user, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (User, error) {
	defer s.lock()()
	email = strings.TrimSpace(email)
	for _, user := range s.state.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return User{}, ErrNotFound
}

func (s *MemoryStore) FindUsersByHandle(_ context.Context, handle string) ([]User, error) {
	defer s.lock()()
	handle = strings.TrimSpace(handle)
	matches := []User{}
	for _, user := range s.sortedUsers() {
		if strings.EqualFold(user.Email, handle) || strings.EqualFold(user.Name, handle) {
			matches = append(matches, user)
			if len(matches) == 2 {
				break
			}
		}
	}
	return matches, nil
}

func (s *MemoryStore) ListUsers(context.Context) ([]User, error) {
	defer s.lock()()
	return s.sortedUsers(), nil
}

func (s *MemoryStore) sortedUsers() []User {
	users := make([]User, 0, len(s.state.users))
	for _, user := range s.state.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool {
		return s.state.order["user:"+users[i].ID] < s.state.order["user:"+users[j].ID]
	})
	return users
}

func (s *MemoryStore) UpdateUserRole(_ context.Context, id, role string) (User, error) {
	defer s.lock()()
	user, ok := s.state.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	user.Role = role
	user.UpdatedAt = s.now()
	s.state.users[id] = user
	return user, nil
}

func (s *MemoryStore) UpdateUserProfile(_ context.Context, id string, update ProfileUpdate) (User, error) {
	defer s.lock()()
	user, ok := s.state.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	if update.Email != nil {
		for uid, existing := range s.state.users {
			if uid != id && strings.EqualFold(existing.Email, *update.Email) {
				return User{}, ErrConflict
			}
		}
		user.Email = *update.Email
	}
	if update.Name != nil {
		user.Name = *update.Name
	}
	if update.Phone != nil {
		user.Phone = *update.Phone
	}
	user.UpdatedAt = s.now()
	s.state.users[id] = user
	return user, nil
}

// Refresh sessions

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	defer s.lock()()
	s.state.sessions[tokenHash] = memSession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	defer s.lock()()
	session, ok := s.state.sessions[tokenHash]
	if !ok || session.revoked || !s.now().Before(session.expiresAt) {
		return "", ErrNotFound
	}
	return session.userID, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	defer s.lock()()
	if session, ok := s.state.sessions[tokenHash]; ok {
		session.revoked = true
		s.state.sessions[tokenHash] = session
	}
	return nil
}

// Projects

func (s *MemoryStore) InsertProject(_ context.Context, project Project) (Project, error) {
	defer s.lock()()
	if _, ok := s.state.users[project.OwnerID]; !ok {
		return Project{}, ErrNotFound
	}
	if _, ok := s.state.projects[project.ID]; ok {
		return Project{}, ErrConflict
	}
	project.CreatedAt = s.now()
	s.state.projects[project.ID] = project
	s.stamp("project:" + project.ID)
	return project, nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (Project, error) {
	defer s.lock()()
	project, ok := s.state.projects[id]
	if !ok {
		return Project{}, ErrNotFound
	}
	return project, nil
}

func (s *MemoryStore) ProjectOwner(_ context.Context, id string) (string, error) {
	defer s.lock()()
	project, ok := s.state.projects[id]
	if !ok {
		return "", ErrNotFound
	}
	return project.OwnerID, nil
}

func (s *MemoryStore) ListProjectsForUser(_ context.Context, userID string) ([]Project, error) {
	defer s.lock()()
	return s.sortedProjects(func(p Project) bool {
		if p.OwnerID == userID {
			return true
		}
		_, member := s.state.members[p.ID][userID]
		return member
	}), nil
}

func (s *MemoryStore) ListAllProjects(context.Context) ([]Project, error) {
	defer s.lock()()
	return s.sortedProjects(func(Project) bool { return true }), nil
}

func (s *MemoryStore) sortedProjects(keep func(Project) bool) []Project {
	projects := []Project{}
	for _, project := range s.state.projects {
		if keep(project) {
			projects = append(projects, project)
		}
	}
	sort.Slice(projects, func(i, j int) bool {
		return s.state.order["project:"+projects[i].ID] > s.state.order["project:"+projects[j].ID]
	})
	return projects
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) ([]string, error) {
	defer s.lock()()
	if _, ok := s.state.projects[id]; !ok {
		return nil, ErrNotFound
	}
	files := []FileRecord{}
	for fid, file := range s.state.files {
		if file.ProjectID == id {
			files = append(files, file)
			delete(s.state.files, fid)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return s.state.order["file:"+files[i].ID] < s.state.order["file:"+files[j].ID]
	})
	keys := make([]string, 0, len(files))
	for _, file := range files {
		keys = append(keys, file.BlobKey)
	}
	for tid, task := range s.state.tasks {
		if task.ProjectID == id {
			delete(s.state.tasks, tid)
		}
	}
	for cid, comment := range s.state.comments {
		if comment.ProjectID == id {
			delete(s.state.comments, cid)
		}
	}
	for mid, msg := range s.state.chats {
		if msg.ProjectID == id {
			delete(s.state.chats, mid)
		}
	}
	kept := s.state.activity[:0:0]
	for _, event := range s.state.activity {
		if event.ProjectID != id {
			kept = append(kept, event)
		}
	}
	s.state.activity = kept
	delete(s.state.members, id)
	delete(s.state.projects, id)
	return keys, nil
}

// Members

func (s *MemoryStore) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	defer s.lock()()
	_, ok := s.state.members[projectID][userID]
	return ok, nil
}

func (s *MemoryStore) AddMember(_ context.Context, projectID, userID string) (bool, error) {
	defer s.lock()()
	user, ok := s.state.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	if _, ok := s.state.projects[projectID]; !ok {
		return false, ErrNotFound
	}
	set := s.state.members[projectID]
	if set == nil {
		set = map[string]Member{}
		s.state.members[projectID] = set
	}
	if _, exists := set[userID]; exists {
		return false, nil
	}
	set[userID] = Member{ProjectID: projectID, UserID: userID, Role: "member", Name: user.Name, Email: user.Email, JoinedAt: s.now()}
	s.stamp("member:" + projectID + "/" + userID)
	return true, nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, projectID, userID string) (bool, error) {
	defer s.lock()()
	if _, ok := s.state.members[projectID][userID]; !ok {
		return false, nil
	}
	delete(s.state.members[projectID], userID)
	return true, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, projectID string) ([]Member, error) {
	defer s.lock()()
	members := []Member{}
	for _, member := range s.state.members[projectID] {
		if user, ok := s.state.users[member.UserID]; ok {
			member.Name, member.Email = user.Name, user.Email
		}
		members = append(members, member)
	}
	sort.Slice(members, func(i, j int) bool {
		return s.state.order["member:"+projectID+"/"+members[i].UserID] < s.state.order["member:"+projectID+"/"+members[j].UserID]
	})
	return members, nil
}

// Tasks

func (s *MemoryStore) InsertTask(_ context.Context, task Task) (Task, error) {
	defer s.lock()()
	if _, ok := s.state.projects[task.ProjectID]; !ok {
		return Task{}, ErrNotFound
	}
	now := s.now()
	task.CreatedAt, task.UpdatedAt = now, now
	s.state.tasks[task.ID] = task
	s.stamp("task:" + task.ID)
	return task, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (Task, error) {
	defer s.lock()()
	task, ok := s.state.tasks[id]
	if !ok {
		return Task{}, ErrNotFound
	}
	return task, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, projectID string) ([]Task, error) {
	defer s.lock()()
	tasks := []Task{}
	for _, task := range s.state.tasks {
		if task.ProjectID == projectID {
			tasks = append(tasks, task)
		}
	}
	sort.Slice(tasks, func(i, j int) bool {
		return s.state.order["task:"+tasks[i].ID] < s.state.order["task:"+tasks[j].ID]
	})
	return tasks, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task Task) (Task, error) {
	defer s.lock()()
	current, ok := s.state.tasks[task.ID]
	if !ok {
		return Task{}, ErrNotFound
	}
	current.Title = task.Title
	current.Description = task.Description
	current.Deadline = task.Deadline
	current.UpdatedAt = s.now()
	s.state.tasks[task.ID] = current
	return current, nil
}

func (s *MemoryStore) UpdateTaskStatus(_ context.Context, id, from, to string, at time.Time) (bool, error) {
	defer s.lock()()
	task, ok := s.state.tasks[id]
	if !ok || task.Status != from {
		return false, nil
	}
	task.Status = to
	task.UpdatedAt = at
	s.state.tasks[id] = task
	return true, nil
}

func (s *MemoryStore) UpdateTaskAssignee(_ context.Context, id string, assigneeID *string, at time.Time) error {
	defer s.lock()()
	task, ok := s.state.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if assigneeID != nil {
		if _, ok := s.state.users[*assigneeID]; !ok {
			return ErrNotFound
		}
		value := *assigneeID
		assigneeID = &value
	}
	task.AssigneeID = assigneeID
	task.UpdatedAt = at
	s.state.tasks[id] = task
	return nil
}

func (s *MemoryStore) DeleteTask(_ context.Context, id string) (bool, error) {
	defer s.lock()()
	if _, ok := s.state.tasks[id]; !ok {
		return false, nil
	}
	delete(s.state.tasks, id)
	for cid, comment := range s.state.comments {
		if comment.TaskID == id {
			delete(s.state.comments, cid)
		}
	}
	return true, nil
}

// Comments

func (s *MemoryStore) InsertComment(_ context.Context, comment TaskComment) (TaskComment, error) {
	defer s.lock()()
	if _, ok := s.state.tasks[comment.TaskID]; !ok {
		return TaskComment{}, ErrNotFound
	}
	comment.CreatedAt = s.now()
	s.state.comments[comment.ID] = comment
	s.stamp("comment:" + comment.ID)
	return comment, nil
}

func (s *MemoryStore) ListComments(_ context.Context, taskID string) ([]TaskComment, error) {
	defer s.lock()()
	comments := []TaskComment{}
	for _, comment := range s.state.comments {
		if comment.TaskID != taskID {
			continue
		}
		if user, ok := s.state.users[comment.AuthorID]; ok {
			comment.AuthorName = user.Name
			if comment.AuthorName == "" {
				comment.AuthorName = user.Email
			}
		}
		comments = append(comments, comment)
	}
	sort.Slice(comments, func(i, j int) bool {
		return s.state.order["comment:"+comments[i].ID] < s.state.order["comment:"+comments[j].ID]
	})
	return comments, nil
}

// Chat

func (s *MemoryStore) InsertChatMessage(_ context.Context, msg ChatMessage) (ChatMessage, error) {
	defer s.lock()()
	if _, ok := s.state.projects[msg.ProjectID]; !ok {
		return ChatMessage{}, ErrNotFound
	}
	msg.CreatedAt = s.now()
	s.state.chats[msg.ID] = msg
	s.stamp("chat:" + msg.ID)
	return msg, nil
}

func (s *MemoryStore) ListChatMessages(_ context.Context, projectID string, limit int) ([]ChatMessage, error) {
	defer s.lock()()
	messages := []ChatMessage{}
	for _, msg := range s.state.chats {
		if msg.ProjectID == projectID {
			messages = append(messages, msg)
		}
	}
	sort.Slice(messages, func(i, j int) bool {
		return s.state.order["chat:"+messages[i].ID] < s.state.order["chat:"+messages[j].ID]
	})
	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// Files

func (s *MemoryStore) InsertFile(_ context.Context, file FileRecord) (FileRecord, error) {
	defer s.lock()()
	if _, ok := s.state.projects[file.ProjectID]; !ok {
		return FileRecord{}, ErrNotFound
	}
	for _, existing := range s.state.files {
		if existing.BlobKey == file.BlobKey {
			return FileRecord{}, ErrConflict
		}
	}
	file.CreatedAt = s.now()
	s.state.files[file.ID] = file
	s.stamp("file:" + file.ID)
	return file, nil
}

func (s *MemoryStore) GetFile(_ context.Context, id string) (FileRecord, error) {
	defer s.lock()()
	file, ok := s.state.files[id]
	if !ok {
		return FileRecord{}, ErrNotFound
	}
	return file, nil
}

func (s *MemoryStore) ListFiles(_ context.Context, projectID string) ([]FileRecord, error) {
	defer s.lock()()
	files := []FileRecord{}
	for _, file := range s.state.files {
		if file.ProjectID == projectID {
			files = append(files, file)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		return s.state.order["file:"+files[i].ID] > s.state.order["file:"+files[j].ID]
	})
	return files, nil
}

func (s *MemoryStore) DeleteFile(_ context.Context, id string) (bool, error) {
	defer s.lock()()
	if _, ok := s.state.files[id]; !ok {
		return false, nil
	}
	delete(s.state.files, id)
	return true, nil
}

// Activity

func (s *MemoryStore) InsertActivity(_ context.Context, event ActivityEvent) (ActivityEvent, error) {
	defer s.lock()()
	if _, ok := s.state.projects[event.ProjectID]; !ok {
		return ActivityEvent{}, ErrNotFound
	}
	if len(event.Payload) == 0 {
		event.Payload = []byte(`{}`)
	}
	event.ID = s.seq.Add(1)
	event.CreatedAt = s.now()
	s.state.activity = append(s.state.activity, event)
	return event, nil
}

func (s *MemoryStore) ListActivity(_ context.Context, query ActivityQuery) ([]ActivityEvent, error) {
	defer s.lock()()
	events := []ActivityEvent{}
	for _, event := range s.state.activity {
		if event.ProjectID == query.ProjectID && event.ID > query.SinceID {
			events = append(events, event)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		if query.Ascending {
			return events[i].ID < events[j].ID
		}
		return events[i].ID > events[j].ID
	})
	if query.Limit > 0 && len(events) > query.Limit {
		events = events[:query.Limit]
	}
	return events, nil
}

func (s *MemoryStore) NextActivityID(context.Context) (int64, error) {
	return s.seq.Add(1), nil
}
