package rbac

import (
	"context"
	"errors"
	"testing"

	"teamulate/api/internal/auth"
)

func TestCanMatrix(t *testing.T) {
	tests := []struct {
		access Access
		action Action
		want   bool
	}{
		{AccessOwner, ActionManage, true},
		{AccessAdmin, ActionManage, true},
		{AccessAdmin, ActionRead, true},
		{AccessMember, ActionRead, true},
		{AccessMember, ActionWrite, true},
		{AccessMember, ActionManage, false},
		{AccessDenied, ActionRead, false},
		{AccessDenied, ActionWrite, false},
		{Access("bogus"), ActionRead, false},
	}
	for _, tt := range tests {
		if got := Can(tt.access, tt.action); got != tt.want {
			t.Fatalf("Can(%s, %s) = %v, want %v", tt.access, tt.action, got, tt.want)
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	admin := auth.Actor{ID: "a", Role: auth.RoleAdmin}
	owner := auth.Actor{ID: "o", Role: auth.RoleUser}
	member := auth.Actor{ID: "m", Role: auth.RoleUser}

	tests := []struct {
		name     string
		actor    auth.Actor
		ownerID  string
		isMember bool
		want     Access
	}{
		{"anonymous", auth.Actor{}, "o", true, AccessDenied},
		{"admin beats ownership", auth.Actor{ID: "o", Role: auth.RoleAdmin}, "o", false, AccessAdmin},
		{"admin on foreign project", admin, "o", false, AccessAdmin},
		{"owner", owner, "o", false, AccessOwner},
		{"owner with stray membership row", owner, "o", true, AccessOwner},
		{"member", member, "o", true, AccessMember},
		{"stranger", member, "o", false, AccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.actor, tt.ownerID, tt.isMember); got != tt.want {
				t.Fatalf("Resolve() = %s, want %s", got, tt.want)
			}
		})
	}
}

type fakeMembership struct {
	owners      map[string]string
	members     map[string]bool
	memberCalls int
}

var errMissing = errors.New("missing")

func (f *fakeMembership) ProjectOwner(_ context.Context, projectID string) (string, error) {
	owner, ok := f.owners[projectID]
	if !ok {
		return "", errMissing
	}
	return owner, nil
}

func (f *fakeMembership) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	f.memberCalls++
	return f.members[projectID+"/"+userID], nil
}

func TestGuardResolve(t *testing.T) {
	store := &fakeMembership{
		owners:  map[string]string{"p1": "owner"},
		members: map[string]bool{"p1/member": true},
	}
	guard := NewGuard(store)
	ctx := context.Background()

	decision, err := guard.Resolve(ctx, auth.Actor{ID: "owner", Role: auth.RoleUser}, "p1")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if decision.Access != AccessOwner || decision.OwnerID != "owner" {
		t.Fatalf("owner decision = %+v", decision)
	}
	if store.memberCalls != 0 {
		t.Fatal("owner resolution should not query membership")
	}

	decision, err = guard.Resolve(ctx, auth.Actor{ID: "member", Role: auth.RoleUser}, "p1")
	if err != nil || decision.Access != AccessMember || !decision.Can(ActionWrite) || decision.Can(ActionManage) {
		t.Fatalf("member decision = %+v, err = %v", decision, err)
	}

	decision, err = guard.Resolve(ctx, auth.Actor{ID: "stranger", Role: auth.RoleUser}, "p1")
	if err != nil || decision.Access != AccessDenied {
		t.Fatalf("stranger decision = %+v, err = %v", decision, err)
	}

	if _, err := guard.Resolve(ctx, auth.Actor{ID: "owner"}, "missing"); !errors.Is(err, errMissing) {
		t.Fatalf("Resolve() error = %v, want wrapped missing", err)
	}

	decision, err = guard.Resolve(ctx, auth.Actor{}, "missing")
	if err != nil || decision.Access != AccessDenied {
		t.Fatalf("anonymous decision = %+v, err = %v", decision, err)
	}
}
