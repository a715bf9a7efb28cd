package rbac

import (
	"context"
	"fmt"

	"teamulate/api/internal/auth"
)

// Access is an actor's standing on one project.
type Access string
type Action string

const (
	AccessDenied Access = "DENIED"
	AccessMember Access = "MEMBER"
	AccessOwner  Access = "OWNER"
	AccessAdmin  Access = "ADMIN"
)

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionManage Action = "manage"
)

func Can(access Access, action Action) bool {
	switch access {
	case AccessOwner, AccessAdmin:
		return action == ActionRead || action == ActionWrite || action == ActionManage
	case AccessMember:
		return action == ActionRead || action == ActionWrite
	default:
		return false
	}
}

// Resolve applies the precedence admin, owner, member, denied.
func Resolve(actor auth.Actor, ownerID string, isMember bool) Access {
	switch {
	case !actor.Authenticated():
		return AccessDenied
	case actor.IsAdmin():
		return AccessAdmin
	case actor.ID == ownerID:
		return AccessOwner
	case isMember:
		return AccessMember
	default:
		return AccessDenied
	}
}

// MembershipReader is the storage view the guard needs.
// ProjectOwner returns the store's not-found error for a missing project.
type MembershipReader interface {
	ProjectOwner(ctx context.Context, projectID string) (string, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
}

type Decision struct {
	ProjectID string
	OwnerID   string
	Access    Access
}

func (d Decision) Can(action Action) bool {
	return Can(d.Access, action)
}

// Guard resolves access against current storage on every call.
type Guard struct {
	store MembershipReader
}

func NewGuard(store MembershipReader) *Guard {
	return &Guard{store: store}
}

func (g *Guard) Resolve(ctx context.Context, actor auth.Actor, projectID string) (Decision, error) {
	if !actor.Authenticated() {
		return Decision{ProjectID: projectID, Access: AccessDenied}, nil
	}
	ownerID, err := g.store.ProjectOwner(ctx, projectID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve project owner: %w", err)
	}
	decision := Decision{ProjectID: projectID, OwnerID: ownerID}
	if actor.IsAdmin() || actor.ID == ownerID {
		decision.Access = Resolve(actor, ownerID, false)
		return decision, nil
	}
	member, err := g.store.IsMember(ctx, projectID, actor.ID)
	if err != nil {
		return Decision{}, fmt.Errorf("resolve membership: %w", err)
	}
	decision.Access = Resolve(actor, ownerID, member)
	return decision, nil
}
