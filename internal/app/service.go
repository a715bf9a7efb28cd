package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"teamulate/api/internal/activity"
	"teamulate/api/internal/auth"
	"teamulate/api/internal/authpw"
	"teamulate/api/internal/blob"
	"teamulate/api/internal/config"
	"teamulate/api/internal/email"
	"teamulate/api/internal/logging"
	"teamulate/api/internal/rbac"
	"teamulate/api/internal/search"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	User         store.User
	ExpiresAt    time.Time
}

// DataStore is the storage the service reads outside transactions.
// *store.PostgresStore and *store.MemoryStore implement it.
type DataStore interface {
	WithTx(ctx context.Context, fn func(store.Tx) error) error
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) error
	GetUserByID(ctx context.Context, id string) (store.User, error)
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	FindUsersByHandle(ctx context.Context, handle string) ([]store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	UpdateUserRole(ctx context.Context, id, role string) (store.User, error)
	UpdateUserProfile(ctx context.Context, id string, update store.ProfileUpdate) (store.User, error)

	GetProject(ctx context.Context, id string) (store.Project, error)
	ProjectOwner(ctx context.Context, id string) (string, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]store.Project, error)
	ListAllProjects(ctx context.Context) ([]store.Project, error)
	ListMembers(ctx context.Context, projectID string) ([]store.Member, error)

	GetTask(ctx context.Context, id string) (store.Task, error)
	ListTasks(ctx context.Context, projectID string) ([]store.Task, error)
	ListComments(ctx context.Context, taskID string) ([]store.TaskComment, error)
	ListChatMessages(ctx context.Context, projectID string, limit int) ([]store.ChatMessage, error)

	GetFile(ctx context.Context, id string) (store.FileRecord, error)
	ListFiles(ctx context.Context, projectID string) ([]store.FileRecord, error)

	SessionStore
	activity.Store
}

// SessionStore keeps refresh tokens. The data store implements it; a Redis
// store can replace it.
type SessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (string, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

// SearchIndex is the project search facade. *search.Service implements it.
type SearchIndex interface {
	Search(q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	IndexFile(f search.FileRecord)
	DeleteTask(id string)
	DeleteFile(id string)
	DeleteProject(projectID string)
}

type InviteMailer interface {
	IsConfigured() bool
	SendMemberInvite(to string, data email.InviteData) error
}

type Dependencies struct {
	Store       DataStore
	Sessions    SessionStore
	Broadcaster Broadcaster
	Blobs       blob.Store
	Search      SearchIndex
	Mailer      InviteMailer
	Reporter    *logging.Reporter
	Logger      *slog.Logger
}

type Service struct {
	cfg       config.Config
	store     DataStore
	sessions  SessionStore
	ledger    *activity.Ledger
	verifier  *auth.Verifier
	passwords *authpw.Service
	blobs     blob.Store
	search    SearchIndex
	mailer    InviteMailer
	reporter  *logging.Reporter
	logger    *slog.Logger
	dispatch  *dispatcher
	now       func() time.Time
}

func New(cfg config.Config, deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reporter := deps.Reporter
	if reporter == nil {
		reporter, _ = logging.NewReporter(logger, "", cfg.Environment)
	}
	sessions := deps.Sessions
	if sessions == nil {
		sessions = deps.Store
	}
	blobs := deps.Blobs
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}
	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		sessions:  sessions,
		ledger:    activity.NewLedger(deps.Store),
		passwords: authpw.NewService(deps.Store),
		blobs:     blobs,
		search:    deps.Search,
		mailer:    deps.Mailer,
		reporter:  reporter,
		logger:    logger,
		dispatch:  newDispatcher(deps.Broadcaster, reporter, defaultDispatchQueue),
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.verifier = auth.NewVerifier(cfg.JWTSecret, s)
	return s
}

// Close flushes queued broadcasts.
func (s *Service) Close() {
	s.dispatch.close()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Accounts and sessions

type RegisterInput struct {
	Name     string
	Email    string
	Password string
}

func (s *Service) Register(ctx context.Context, input RegisterInput) (Session, error) {
	user, err := s.passwords.SignUp(ctx, authpw.SignUpRequest{
		Email:    input.Email,
		Password: input.Password,
		Name:     input.Name,
	})
	if err != nil {
		var verr *authpw.ValidationError
		switch {
		case errors.As(err, &verr):
			return Session{}, errValidation(verr.Field, verr.Message)
		case errors.Is(err, authpw.ErrEmailTaken):
			return Session{}, domainError(http.StatusConflict, CodeConflict, "Email already registered", map[string]any{"field": "email"})
		}
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "user registered", "user_id", user.ID)
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, emailAddr, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, emailAddr, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, CodeUnauthorized, "Invalid email or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Session{}, errUnauthorized()
	}
	tokenHash := auth.HashToken(refreshToken)
	userID, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errUnauthorized()
		}
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Session{}, errUnauthorized()
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := s.now()
	expiresAt := now.Add(s.cfg.AccessTTL)

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Name: user.Name,
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        util.NewID("jti"),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, now.Add(s.cfg.RefreshTTL)); err != nil {
		return Session{}, fmt.Errorf("save refresh session: %w", err)
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		User:         user,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return nil
	}
	return s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
}

// Authenticate verifies an access token against the current user record.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Actor, error) {
	return s.verifier.Verify(ctx, token)
}

func (s *Service) LookupActor(ctx context.Context, id string) (auth.Actor, error) {
	user, err := s.store.GetUserByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return auth.Actor{}, auth.ErrUnknownSubject
		}
		return auth.Actor{}, err
	}
	return actorFromUser(user), nil
}

func (s *Service) Me(ctx context.Context, actor auth.Actor) (map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	user, err := s.store.GetUserByID(ctx, actor.ID)
	if err != nil {
		return nil, notFoundAs(err, "User")
	}
	return userView(user), nil
}

// ProfileInput is a self-service profile edit; nil fields are unchanged.
type ProfileInput struct {
	Name  *string
	Email *string
	Phone *string
}

// UpdateProfile edits the caller's own account. Activity already recorded
// keeps the name it was written with.
func (s *Service) UpdateProfile(ctx context.Context, actor auth.Actor, input ProfileInput) (map[string]any, error) {
	if !actor.Authenticated() {
		return nil, errUnauthorized()
	}
	user, err := s.passwords.UpdateProfile(ctx, actor.ID, authpw.ProfileRequest{
		Name:  input.Name,
		Email: input.Email,
		Phone: input.Phone,
	})
	if err != nil {
		var verr *authpw.ValidationError
		switch {
		case errors.As(err, &verr):
			return nil, errValidation(verr.Field, verr.Message)
		case errors.Is(err, authpw.ErrEmailTaken):
			return nil, domainError(http.StatusConflict, CodeConflict, "Email already registered", map[string]any{"field": "email"})
		}
		return nil, notFoundAs(err, "User")
	}
	s.logger.InfoContext(ctx, "profile updated", "user_id", user.ID)
	return userView(user), nil
}

func actorFromUser(user store.User) auth.Actor {
	return auth.Actor{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}
}

// Authorization

// txMembership answers guard lookups from inside a transaction.
type txMembership struct {
	tx store.Tx
}

func (m txMembership) ProjectOwner(ctx context.Context, id string) (string, error) {
	project, err := m.tx.GetProject(ctx, id)
	if err != nil {
		return "", err
	}
	return project.OwnerID, nil
}

func (m txMembership) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	return m.tx.IsMember(ctx, projectID, userID)
}

// authorize resolves the actor's access to a project and requires action.
// A missing project is NOT_FOUND; any other refusal is FORBIDDEN.
func (s *Service) authorize(ctx context.Context, reader rbac.MembershipReader, actor auth.Actor, projectID string, action rbac.Action) (rbac.Decision, error) {
	if !actor.Authenticated() {
		return rbac.Decision{}, errUnauthorized()
	}
	decision, err := rbac.NewGuard(reader).Resolve(ctx, actor, projectID)
	if err != nil {
		return rbac.Decision{}, notFoundAs(err, "Project")
	}
	if !decision.Can(action) {
		return decision, errForbidden()
	}
	return decision, nil
}
