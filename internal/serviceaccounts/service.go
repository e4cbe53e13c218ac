// Package serviceaccounts manages machine credentials owned by uploader
// identities. Each account is backed by a dedicated user row so that the rest
// of the system can treat it like any other principal.
package serviceaccounts

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/auth"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

const (
	MsgCreateRequiresOwner = "Must be identity owner to create a service account"
	MsgDeleteRequiresOwner = "Must be identity owner to delete a service account"
	MsgListRequiresMember  = "Must be identity member to list service accounts"
)

// Store persists service accounts together with their backing users.
type Store interface {
	CreateWithUser(ctx context.Context, user *models.User, sa *models.ServiceAccount) error
	DeleteWithUser(ctx context.Context, sa *models.ServiceAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ServiceAccount, error)
	ListByTokenPrefix(ctx context.Context, prefix string) ([]models.ServiceAccount, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// IdentityReader looks up uploader identities.
type IdentityReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.UploaderIdentity, error)
}

// UserReader looks up users.
type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Authorizer answers the role questions this service depends on.
type Authorizer interface {
	CanCreateServiceAccount(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error)
	CanDeleteServiceAccount(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error)
	IsMember(ctx context.Context, user *models.User, identity *models.UploaderIdentity) (bool, error)
}

// TokenMinter mints service tokens. Swappable in tests to avoid bcrypt cost.
type TokenMinter func(prefix string) (*auth.ServiceToken, error)

// Created is the result of Create. Token is only ever available here.
type Created struct {
	Account *models.ServiceAccount `json:"service_account"`
	Token   string                 `json:"api_token"`
}

// Service implements the service account lifecycle.
type Service struct {
	store       Store
	identities  IdentityReader
	users       UserReader
	authz       Authorizer
	ids         *IDGenerator
	mintToken   TokenMinter
	tokenPrefix string
}

// NewService creates a new Service
func NewService(store Store, identities IdentityReader, users UserReader, authz Authorizer, tokenPrefix string) *Service {
	return &Service{
		store:       store,
		identities:  identities,
		users:       users,
		authz:       authz,
		ids:         NewIDGenerator(),
		mintToken:   auth.GenerateServiceToken,
		tokenPrefix: tokenPrefix,
	}
}

// Create mints a service account under identityID. Only identity owners may
// do so; on rejection nothing is written.
func (s *Service) Create(ctx context.Context, requester *models.User, identityID uuid.UUID) (*Created, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		return nil, &apperrors.NotFoundError{Resource: "uploader identity"}
	}

	ok, err := s.authz.CanCreateServiceAccount(ctx, requester, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperrors.AuthorizationError{Field: "identity", Message: MsgCreateRequiresOwner}
	}

	id, err := s.ids.New()
	if err != nil {
		return nil, fmt.Errorf("failed to generate service account id: %w", err)
	}
	token, err := s.mintToken(s.tokenPrefix)
	if err != nil {
		return nil, err
	}

	username := models.ServiceAccountUsername(id)
	user := &models.User{ID: uuid.New(), Username: username, Email: username}
	sa := &models.ServiceAccount{
		ID:          id,
		OwnerID:     identity.ID,
		TokenPrefix: token.LookupPrefix,
		TokenHash:   token.Hash,
	}
	if err := s.store.CreateWithUser(ctx, user, sa); err != nil {
		return nil, err
	}

	slog.Info("service account created",
		"service_account", sa.ID, "identity", identity.Name, "created_by", requester.Username)
	return &Created{Account: sa, Token: token.Plaintext}, nil
}

// Delete removes a service account and its backing user. Only owners of the
// account's identity may do so; on rejection nothing is written.
func (s *Service) Delete(ctx context.Context, requester *models.User, serviceAccountID uuid.UUID) error {
	sa, err := s.store.GetByID(ctx, serviceAccountID)
	if err != nil {
		return err
	}
	if sa == nil {
		return &apperrors.NotFoundError{Resource: "service account"}
	}

	identity, err := s.identities.GetByID(ctx, sa.OwnerID)
	if err != nil {
		return fmt.Errorf("failed to load identity: %w", err)
	}

	ok, err := s.authz.CanDeleteServiceAccount(ctx, requester, identity)
	if err != nil {
		return err
	}
	if !ok {
		return &apperrors.AuthorizationError{Field: "service_account", Message: MsgDeleteRequiresOwner}
	}

	if err := s.store.DeleteWithUser(ctx, sa); err != nil {
		return err
	}

	slog.Info("service account deleted", "service_account", sa.ID, "deleted_by", requester.Username)
	return nil
}

// List returns the service accounts of an identity. Any member may list.
func (s *Service) List(ctx context.Context, requester *models.User, identityID uuid.UUID) ([]models.ServiceAccount, error) {
	identity, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load identity: %w", err)
	}
	if identity == nil {
		return nil, &apperrors.NotFoundError{Resource: "uploader identity"}
	}

	ok, err := s.authz.IsMember(ctx, requester, identity)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &apperrors.AuthorizationError{Field: "identity", Message: MsgListRequiresMember}
	}

	accounts, err := s.store.ListByOwner(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if accounts == nil {
		accounts = []models.ServiceAccount{}
	}
	return accounts, nil
}

// Authenticate resolves a presented token to the backing user. Returns
// (nil, nil) when the token matches no account.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	candidates, err := s.store.ListByTokenPrefix(ctx, auth.LookupPrefix(token))
	if err != nil {
		return nil, err
	}

	for i := range candidates {
		sa := &candidates[i]
		if !auth.VerifyServiceToken(token, sa.TokenHash) {
			continue
		}

		user, err := s.users.GetByID(ctx, sa.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load service account user: %w", err)
		}
		if user == nil || !user.IsActive {
			return nil, nil
		}

		if err := s.store.TouchLastUsed(ctx, sa.ID); err != nil {
			slog.Warn("failed to record service account use", "service_account", sa.ID, "error", err)
		}
		return user, nil
	}
	return nil, nil
}
