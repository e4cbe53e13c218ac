package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

type fakeMembers struct {
	roles map[uuid.UUID]models.MemberRole
	err   error
	calls int
}

func (f *fakeMembers) GetMembership(_ context.Context, identityID, userID uuid.UUID) (*models.UploaderIdentityMember, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	role, ok := f.roles[userID]
	if !ok {
		return nil, nil
	}
	return &models.UploaderIdentityMember{IdentityID: identityID, UserID: userID, Role: role}, nil
}

func TestServiceAccountPredicates(t *testing.T) {
	owner := &models.User{ID: uuid.New(), Username: "owner", IsActive: true}
	member := &models.User{ID: uuid.New(), Username: "member", IsActive: true}
	outsider := &models.User{ID: uuid.New(), Username: "outsider", IsActive: true}
	inactive := &models.User{ID: uuid.New(), Username: "gone", IsActive: false}
	ident := &models.UploaderIdentity{ID: uuid.New(), Name: "Tester-0"}

	members := &fakeMembers{roles: map[uuid.UUID]models.MemberRole{
		owner.ID:    models.RoleOwner,
		member.ID:   models.RoleMember,
		inactive.ID: models.RoleOwner,
	}}
	perms := NewPermissions(members)

	tests := []struct {
		name string
		user *models.User
		want bool
	}{
		{"owner", owner, true},
		{"member", member, false},
		{"non-member", outsider, false},
		{"inactive owner", inactive, false},
		{"anonymous", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			canCreate, err := perms.CanCreateServiceAccount(context.Background(), tt.user, ident)
			if err != nil {
				t.Fatalf("CanCreateServiceAccount: %v", err)
			}
			canDelete, err := perms.CanDeleteServiceAccount(context.Background(), tt.user, ident)
			if err != nil {
				t.Fatalf("CanDeleteServiceAccount: %v", err)
			}
			if canCreate != tt.want || canDelete != tt.want {
				t.Errorf("create=%v delete=%v, want %v", canCreate, canDelete, tt.want)
			}
		})
	}
}

func TestIsMember(t *testing.T) {
	member := &models.User{ID: uuid.New(), IsActive: true}
	ident := &models.UploaderIdentity{ID: uuid.New()}
	perms := NewPermissions(&fakeMembers{roles: map[uuid.UUID]models.MemberRole{member.ID: models.RoleMember}})

	ok, err := perms.IsMember(context.Background(), member, ident)
	if err != nil || !ok {
		t.Errorf("IsMember() = %v, %v; want true", ok, err)
	}
	ok, _ = perms.IsMember(context.Background(), &models.User{ID: uuid.New(), IsActive: true}, ident)
	if ok {
		t.Error("stranger reported as member")
	}
}

func TestPredicatesSurfaceStorageErrors(t *testing.T) {
	perms := NewPermissions(&fakeMembers{err: errors.New("connection reset")})
	user := &models.User{ID: uuid.New(), IsActive: true}

	ok, err := perms.CanCreateServiceAccount(context.Background(), user, &models.UploaderIdentity{ID: uuid.New()})
	if err == nil || ok {
		t.Errorf("CanCreateServiceAccount() = %v, %v; want false and an error", ok, err)
	}
}
