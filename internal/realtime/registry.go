// Package realtime fans activity out to live client connections grouped in
// per-project rooms.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"teamulate/api/internal/activity"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrStaleJoin means an eviction touched the room or the user after the
	// join ticket was taken; the join must be authorized again.
	ErrStaleJoin = errors.New("join ticket is stale")
)

// Audience reports which users may currently receive a project's traffic.
// It is consulted on every delivery, so a user who lost access never sees
// later events even if their eviction has not reached this instance yet.
type Audience interface {
	CanReceive(ctx context.Context, projectID string, userIDs []string) (map[string]bool, error)
}

const audienceTimeout = 3 * time.Second

// Conn is one live client session. Send must not block; it reports false
// when the message was dropped.
type Conn interface {
	ID() string
	UserID() string
	Send(msg []byte) bool
}

type entry struct {
	conn Conn
	room string
}

// Registry tracks room membership. A connection is in at most one room.
type Registry struct {
	mu        sync.RWMutex
	conns     map[string]*entry
	rooms     map[string]map[string]Conn
	roomGen   map[string]uint64
	userGen   map[string]uint64
	backplane Backplane
	audience  Audience
	logger    *slog.Logger
	dropped   atomic.Int64
}

// NewRegistry returns a registry that delivers in-process.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		conns:   make(map[string]*entry),
		rooms:   make(map[string]map[string]Conn),
		roomGen: make(map[string]uint64),
		userGen: make(map[string]uint64),
		logger:  logger,
	}
	local := NewLocalBackplane()
	_ = local.Subscribe(context.Background(), r.Deliver)
	r.backplane = local
	return r
}

// UseBackplane routes publishes through bp and delivers what it receives
// to this registry's rooms.
func (r *Registry) UseBackplane(ctx context.Context, bp Backplane) error {
	if err := bp.Subscribe(ctx, r.Deliver); err != nil {
		return fmt.Errorf("subscribe backplane: %w", err)
	}
	r.mu.Lock()
	r.backplane = bp
	r.mu.Unlock()
	return nil
}

// UseAudience makes every delivery check current access. Without one the
// registry trusts joins and evictions alone.
func (r *Registry) UseAudience(a Audience) {
	r.mu.Lock()
	r.audience = a
	r.mu.Unlock()
}

func (r *Registry) Close() error {
	r.mu.RLock()
	bp := r.backplane
	r.mu.RUnlock()
	return bp.Close()
}

func (r *Registry) Register(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[conn.ID()]; !ok {
		r.conns[conn.ID()] = &entry{conn: conn}
	}
}

// Join moves the connection into projectID's room. Joining the current room
// is a no-op.
func (r *Registry) Join(connID, projectID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.joinLocked(connID, projectID)
}

func (r *Registry) joinLocked(connID, projectID string) error {
	e, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	if e.room == projectID {
		return nil
	}
	r.removeLocked(connID, e)
	room := r.rooms[projectID]
	if room == nil {
		room = make(map[string]Conn)
		r.rooms[projectID] = room
	}
	room[connID] = e.conn
	e.room = projectID
	return nil
}

// JoinTicket snapshots the eviction generations of a room and a user before
// the join is authorized.
type JoinTicket struct {
	ProjectID string
	UserID    string
	room      uint64
	user      uint64
}

func (r *Registry) Ticket(projectID, userID string) JoinTicket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return JoinTicket{
		ProjectID: projectID,
		UserID:    userID,
		room:      r.roomGen[projectID],
		user:      r.userGen[userID],
	}
}

// JoinWith joins like Join but fails with ErrStaleJoin when the room or the
// user saw an eviction since the ticket was taken.
func (r *Registry) JoinWith(connID string, t JoinTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomGen[t.ProjectID] != t.room || r.userGen[t.UserID] != t.user {
		return ErrStaleJoin
	}
	return r.joinLocked(connID, t.ProjectID)
}

// Leave removes the connection from its room. It is safe to call repeatedly.
func (r *Registry) Leave(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		r.removeLocked(connID, e)
	}
}

// Unregister forgets the connection entirely; used on disconnect.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.conns[connID]; ok {
		r.removeLocked(connID, e)
		delete(r.conns, connID)
	}
}

func (r *Registry) removeLocked(connID string, e *entry) {
	if e.room == "" {
		return
	}
	if room := r.rooms[e.room]; room != nil {
		delete(room, connID)
		if len(room) == 0 {
			delete(r.rooms, e.room)
		}
	}
	e.room = ""
}

func (r *Registry) RoomOf(connID string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[connID]; ok {
		return e.room
	}
	return ""
}

func (r *Registry) RoomSize(projectID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[projectID])
}

// Dropped counts messages discarded because a connection's queue was full.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

// Publish broadcasts an activity event to the project's room.
func (r *Registry) Publish(ctx context.Context, projectID string, event activity.Event) error {
	data, err := json.Marshal(serverMessage{Type: "activity:new", Event: &event})
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.send(ctx, Message{Kind: KindEvent, ProjectID: projectID, Data: data})
}

// ChatMessage is the payload of a chat:new frame.
type ChatMessage struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// PublishChat fans a chat line out to the project's room. Delivery is subject
// to the same access check as activity events.
func (r *Registry) PublishChat(ctx context.Context, projectID string, msg ChatMessage) error {
	data, err := json.Marshal(serverMessage{Type: "chat:new", Chat: &msg})
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	return r.send(ctx, Message{Kind: KindEvent, ProjectID: projectID, Data: data})
}

// EvictUser removes every connection of userID from the project's room.
func (r *Registry) EvictUser(ctx context.Context, projectID, userID string) error {
	return r.send(ctx, Message{Kind: KindEvict, ProjectID: projectID, UserID: userID})
}

// CloseRoom removes every connection from the project's room.
func (r *Registry) CloseRoom(ctx context.Context, projectID string) error {
	return r.send(ctx, Message{Kind: KindClose, ProjectID: projectID})
}

// RevalidateUser re-checks every room the user's connections are in and
// evicts them where access is gone, for example after a role change.
func (r *Registry) RevalidateUser(ctx context.Context, userID string) error {
	return r.send(ctx, Message{Kind: KindRevalidate, UserID: userID})
}

func (r *Registry) send(ctx context.Context, msg Message) error {
	r.mu.RLock()
	bp := r.backplane
	r.mu.RUnlock()
	if err := bp.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.Kind, msg.topic(), err)
	}
	return nil
}

// Deliver applies a backplane message to local rooms.
func (r *Registry) Deliver(msg Message) {
	switch msg.Kind {
	case KindEvent:
		r.fanOut(msg.ProjectID, msg.Data)
	case KindEvict:
		r.evict(msg.ProjectID, func(c Conn) bool { return c.UserID() == msg.UserID }, "access_revoked")
	case KindClose:
		r.evict(msg.ProjectID, func(Conn) bool { return true }, "project_deleted")
	case KindRevalidate:
		r.revalidate(msg.UserID)
	default:
		r.logger.Warn("unknown backplane message", "kind", msg.Kind, "project_id", msg.ProjectID)
	}
}

func (r *Registry) fanOut(projectID string, data []byte) {
	r.mu.RLock()
	targets := make([]Conn, 0, len(r.rooms[projectID]))
	for _, conn := range r.rooms[projectID] {
		targets = append(targets, conn)
	}
	audience := r.audience
	r.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	if audience != nil {
		ids := make([]string, 0, len(targets))
		for _, conn := range targets {
			ids = append(ids, conn.UserID())
		}
		allowed, err := r.checkAccess(audience, projectID, ids)
		if err != nil {
			r.dropped.Add(int64(len(targets)))
			r.logger.Warn("dropped event, access check failed", "project_id", projectID, "error", err)
			return
		}
		kept := targets[:0]
		revoked := make(map[string]bool)
		for _, conn := range targets {
			if allowed[conn.UserID()] {
				kept = append(kept, conn)
			} else {
				revoked[conn.UserID()] = true
			}
		}
		targets = kept
		for userID := range revoked {
			r.evict(projectID, func(c Conn) bool { return c.UserID() == userID }, "access_revoked")
		}
	}

	for _, conn := range targets {
		if !conn.Send(data) {
			r.dropped.Add(1)
			r.logger.Debug("dropped message for slow connection", "conn_id", conn.ID(), "project_id", projectID)
		}
	}
}

func (r *Registry) checkAccess(audience Audience, projectID string, userIDs []string) (map[string]bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), audienceTimeout)
	defer cancel()
	unique := make([]string, 0, len(userIDs))
	seen := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return audience.CanReceive(ctx, projectID, unique)
}

func (r *Registry) revalidate(userID string) {
	r.mu.Lock()
	r.userGen[userID]++
	rooms := make(map[string]bool)
	for _, e := range r.conns {
		if e.room != "" && e.conn.UserID() == userID {
			rooms[e.room] = true
		}
	}
	audience := r.audience
	r.mu.Unlock()

	for projectID := range rooms {
		if audience != nil {
			allowed, err := r.checkAccess(audience, projectID, []string{userID})
			if err == nil && allowed[userID] {
				continue
			}
		}
		r.evict(projectID, func(c Conn) bool { return c.UserID() == userID }, "access_revoked")
	}
}

// evict removes matching connections from the room. It always advances the
// room generation so joins authorized before the eviction are refused.
func (r *Registry) evict(projectID string, match func(Conn) bool, reason string) {
	r.mu.Lock()
	r.roomGen[projectID]++
	var removed []Conn
	for connID, conn := range r.rooms[projectID] {
		if !match(conn) {
			continue
		}
		if e, ok := r.conns[connID]; ok {
			r.removeLocked(connID, e)
		} else {
			delete(r.rooms[projectID], connID)
		}
		removed = append(removed, conn)
	}
	r.mu.Unlock()

	if len(removed) == 0 {
		return
	}
	notice, _ := json.Marshal(serverMessage{Type: "left", ProjectID: projectID, Reason: reason})
	for _, conn := range removed {
		conn.Send(notice)
	}
	r.logger.Info("connections removed from room", "project_id", projectID, "count", len(removed), "reason", reason)
}

// serverMessage is every frame the server sends to clients.
type serverMessage struct {
	Type      string          `json:"type"`
	ProjectID string          `json:"projectId,omitempty"`
	Event     *activity.Event `json:"event,omitempty"`
	Chat      *ChatMessage    `json:"chat,omitempty"`
	Code      string          `json:"code,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}
