package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/util"
)

var (
	ErrJoinDenied   = errors.New("join denied")
	ErrRoomNotFound = errors.New("room not found")
)

// Authorizer authenticates socket clients and approves room joins.
type Authorizer interface {
	Authenticate(ctx context.Context, token string) (auth.Actor, error)
	AuthorizeJoin(ctx context.Context, actor auth.Actor, projectID string) error
}

const (
	defaultQueueSize    = 64
	defaultPingInterval = 30 * time.Second
	joinTimeout         = 5 * time.Second
	joinAttempts        = 3
)

// Handler upgrades HTTP requests to websocket sessions attached to a Registry.
type Handler struct {
	registry     *Registry
	authz        Authorizer
	logger       *slog.Logger
	QueueSize    int
	PingInterval time.Duration
}

func NewHandler(registry *Registry, authz Authorizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:     registry,
		authz:        authz,
		logger:       logger,
		QueueSize:    defaultQueueSize,
		PingInterval: defaultPingInterval,
	}
}

type clientMessage struct {
	Type      string `json:"type"`
	ProjectID string `json:"projectId"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		}
	}
	actor, err := h.authz.Authenticate(r.Context(), token)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "UNAUTHORIZED", "error": "Unauthorized"})
		return
	}

	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sock := newSocket(util.ShortID(16), actor.ID, raw, h.QueueSize)
	h.registry.Register(sock)
	go sock.writeLoop(h.PingInterval)

	h.logger.Debug("socket connected", "conn_id", sock.id, "user_id", actor.ID)
	h.readLoop(r.Context(), sock, actor)

	h.registry.Unregister(sock.id)
	sock.Close()
	h.logger.Debug("socket disconnected", "conn_id", sock.id, "user_id", actor.ID)
}

func (h *Handler) readLoop(ctx context.Context, sock *socket, actor auth.Actor) {
	rw := struct {
		io.Reader
		io.Writer
	}{sock.conn, sock.writer()}

	for {
		data, op, err := wsutil.ReadClientData(rw)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sock.sendJSON(serverMessage{Type: "error", Code: "BAD_MESSAGE"})
			continue
		}
		switch msg.Type {
		case "join":
			h.join(ctx, sock, actor, strings.TrimSpace(msg.ProjectID))
		case "leave":
			room := h.registry.RoomOf(sock.id)
			h.registry.Leave(sock.id)
			sock.sendJSON(serverMessage{Type: "left", ProjectID: room})
		case "ping":
			sock.sendJSON(serverMessage{Type: "pong"})
		default:
			sock.sendJSON(serverMessage{Type: "error", Code: "UNKNOWN_MESSAGE"})
		}
	}
}

func (h *Handler) join(ctx context.Context, sock *socket, actor auth.Actor, projectID string) {
	if projectID == "" {
		sock.sendJSON(serverMessage{Type: "error", Code: "VALIDATION_ERROR"})
		return
	}
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()
	// An eviction between the check and the join invalidates the ticket,
	// so access is checked again rather than joining on a stale answer.
	for attempt := 0; attempt < joinAttempts; attempt++ {
		ticket := h.registry.Ticket(projectID, sock.userID)
		if err := h.authz.AuthorizeJoin(ctx, actor, projectID); err != nil {
			code := "FORBIDDEN"
			switch {
			case errors.Is(err, ErrRoomNotFound):
				code = "NOT_FOUND"
			case !errors.Is(err, ErrJoinDenied):
				code = "STORAGE_FAILURE"
				h.logger.Error("authorize join failed", "conn_id", sock.id, "project_id", projectID, "error", err)
			}
			sock.sendJSON(serverMessage{Type: "error", Code: code, ProjectID: projectID})
			return
		}
		err := h.registry.JoinWith(sock.id, ticket)
		switch {
		case err == nil:
			sock.sendJSON(serverMessage{Type: "joined", ProjectID: projectID})
			return
		case errors.Is(err, ErrStaleJoin):
			continue
		default:
			sock.sendJSON(serverMessage{Type: "error", Code: "NOT_CONNECTED", ProjectID: projectID})
			return
		}
	}
	sock.sendJSON(serverMessage{Type: "error", Code: "CONFLICT", ProjectID: projectID})
}

// socket is a websocket client. Only the write loop writes data frames;
// control replies from the reader go through the same lock.
type socket struct {
	id     string
	userID string
	conn   net.Conn
	out    chan []byte
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newSocket(id, userID string, conn net.Conn, queueSize int) *socket {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &socket{
		id:     id,
		userID: userID,
		conn:   conn,
		out:    make(chan []byte, queueSize),
		done:   make(chan struct{}),
	}
}

func (s *socket) ID() string     { return s.id }
func (s *socket) UserID() string { return s.userID }

func (s *socket) Send(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.out <- msg:
		return true
	default:
		return false
	}
}

func (s *socket) sendJSON(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	s.Send(data)
}

func (s *socket) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

func (s *socket) writeLoop(pingInterval time.Duration) {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.out:
			if err := s.writeFrame(ws.NewTextFrame(msg)); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			if err := s.writeFrame(ws.NewPingFrame(nil)); err != nil {
				s.Close()
				return
			}
		}
	}
}

func (s *socket) writeFrame(frame ws.Frame) error {
	data, err := ws.CompileFrame(frame)
	if err != nil {
		return err
	}
	_, err = s.writer().Write(data)
	return err
}

func (s *socket) writer() io.Writer {
	return lockedWriter{mu: &s.writeMu, w: s.conn}
}

type lockedWriter struct {
	mu *sync.Mutex
	w  io.Writer
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
