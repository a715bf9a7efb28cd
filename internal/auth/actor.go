package auth

import (
	"context"
	"errors"
	"strings"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Actor is the authenticated principal of a request.
type Actor struct {
	ID    string
	Name  string
	Email string
	Role  string
}

func (a Actor) Authenticated() bool {
	return a.ID != ""
}

func (a Actor) IsAdmin() bool {
	return a.Authenticated() && a.Role == RoleAdmin
}

// DisplayName is the name recorded on activity; it falls back to the email
// and finally to "system".
func (a Actor) DisplayName() string {
	if name := strings.TrimSpace(a.Name); name != "" {
		return name
	}
	if email := strings.TrimSpace(a.Email); email != "" {
		return email
	}
	return "system"
}

func NormalizeRole(role string) string {
	if strings.EqualFold(strings.TrimSpace(role), RoleAdmin) {
		return RoleAdmin
	}
	return RoleUser
}

func ValidRole(role string) bool {
	return role == RoleUser || role == RoleAdmin
}

type actorKey struct{}

func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFrom returns the actor stored on ctx; the zero Actor means anonymous.
func ActorFrom(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok && actor.Authenticated()
}

// ActorLookup resolves the current state of a token subject so that a role
// change or deleted account takes effect before the token expires.
type ActorLookup interface {
	LookupActor(ctx context.Context, id string) (Actor, error)
}

// ErrUnknownSubject is returned by an ActorLookup when the subject no longer exists.
var ErrUnknownSubject = errors.New("unknown token subject")

type Verifier struct {
	secret []byte
	actors ActorLookup
}

func NewVerifier(secret string, actors ActorLookup) *Verifier {
	return &Verifier{secret: []byte(secret), actors: actors}
}

// Verify turns a bearer token into an Actor.
func (v *Verifier) Verify(ctx context.Context, token string) (Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Actor{}, ErrInvalidToken
	}
	claims, err := ParseToken(v.secret, token)
	if err != nil {
		return Actor{}, err
	}
	if v.actors == nil {
		return Actor{ID: claims.Subject, Name: claims.Name, Role: NormalizeRole(claims.Role)}, nil
	}
	actor, err := v.actors.LookupActor(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrUnknownSubject) {
			return Actor{}, ErrInvalidToken
		}
		return Actor{}, err
	}
	actor.Role = NormalizeRole(actor.Role)
	return actor, nil
}
