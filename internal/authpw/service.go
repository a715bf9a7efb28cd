// Package authpw provides email/password registration and sign-in.
package authpw

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"teamulate/api/internal/auth"
	"teamulate/api/internal/store"
	"teamulate/api/internal/util"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// ValidationError reports a rejected field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

const (
	minPasswordLength = 8
	maxPasswordBytes  = 72 // bcrypt ignores anything longer
	maxNameRunes      = 80
	maxPhoneRunes     = 32
)

// UserStore defines the storage interface for auth.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	UpdateUserProfile(ctx context.Context, id string, update store.ProfileUpdate) (store.User, error)
}

type Service struct {
	store UserStore
	cost  int
}

func NewService(s UserStore) *Service {
	return &Service{store: s, cost: bcrypt.DefaultCost}
}

// SignUpRequest contains sign-up parameters.
type SignUpRequest struct {
	Email    string
	Password string
	Name     string
}

// SignUp creates a regular user account.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email := NormalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return store.User{}, &ValidationError{Field: "email", Message: "a valid email is required"}
	}
	if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
		return store.User{}, &ValidationError{Field: "name", Message: fmt.Sprintf("name is required (max %d characters)", maxNameRunes)}
	}
	if len(req.Password) < minPasswordLength {
		return store.User{}, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at least %d characters", minPasswordLength)}
	}
	if len(req.Password) > maxPasswordBytes {
		return store.User{}, &ValidationError{Field: "password", Message: fmt.Sprintf("password must be at most %d bytes", maxPasswordBytes)}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         auth.RoleUser,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SignIn checks credentials. Unknown email and wrong password produce the
// same error.
func (s *Service) SignIn(ctx context.Context, email, password string) (store.User, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}
	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return store.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}

// ProfileRequest holds a self-service profile edit. Nil fields are kept.
type ProfileRequest struct {
	Name  *string
	Email *string
	Phone *string
}

// UpdateProfile validates and applies a profile edit. An empty phone clears
// it; name and email cannot be cleared.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req ProfileRequest) (store.User, error) {
	var update store.ProfileUpdate
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" || utf8.RuneCountInString(name) > maxNameRunes {
			return store.User{}, &ValidationError{Field: "name", Message: fmt.Sprintf("name is required (max %d characters)", maxNameRunes)}
		}
		update.Name = &name
	}
	if req.Email != nil {
		email := NormalizeEmail(*req.Email)
		if _, err := mail.ParseAddress(email); err != nil || email == "" {
			return store.User{}, &ValidationError{Field: "email", Message: "a valid email is required"}
		}
		update.Email = &email
	}
	if req.Phone != nil {
		phone := strings.TrimSpace(*req.Phone)
		if !validPhone(phone) {
			return store.User{}, &ValidationError{Field: "phone", Message: fmt.Sprintf("phone may hold digits, spaces and + - ( ) (max %d characters)", maxPhoneRunes)}
		}
		update.Phone = &phone
	}

	user, err := s.store.UpdateUserProfile(ctx, userID, update)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.User{}, ErrEmailTaken
		}
		return store.User{}, err
	}
	return user, nil
}

func validPhone(phone string) bool {
	if utf8.RuneCountInString(phone) > maxPhoneRunes {
		return false
	}
	for _, r := range phone {
		switch {
		case r >= '0' && r <= '9':
		case strings.ContainsRune(" +-()", r):
		default:
			return false
		}
	}
	return true
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
