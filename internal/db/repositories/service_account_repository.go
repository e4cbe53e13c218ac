package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/thunderstore-io/thunderstore-registry/internal/apperrors"
	"github.com/thunderstore-io/thunderstore-registry/internal/db/models"
)

const serviceAccountSelect = `
	SELECT sa.id, sa.user_id, sa.owner_id, u.username, sa.token_prefix, sa.token_hash,
	       sa.created_at, sa.last_used_at
	FROM service_accounts sa
	JOIN users u ON u.id = sa.user_id`

// ServiceAccountRepository persists service accounts together with their
// backing users.
type ServiceAccountRepository struct {
	db *sqlx.DB
}

// NewServiceAccountRepository creates a new ServiceAccountRepository
func NewServiceAccountRepository(db *sqlx.DB) *ServiceAccountRepository {
	return &ServiceAccountRepository{db: db}
}

// CreateWithUser inserts the backing user and then the account row in one
// transaction. Neither row is visible unless both are.
func (r *ServiceAccountRepository) CreateWithUser(ctx context.Context, user *models.User, sa *models.ServiceAccount) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin service account transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	user.CreatedAt = now
	user.IsActive = true
	user.IsServiceAccount = true

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (id, username, email, is_active, is_staff, is_service_account, created_at)
		VALUES ($1, $2, $3, $4, FALSE, TRUE, $5)`,
		user.ID, user.Username, user.Email, user.IsActive, user.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Message: "service account user already exists"}
		}
		return storageError("create service account user", err)
	}

	sa.UserID = user.ID
	sa.Username = user.Username
	sa.CreatedAt = now
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO service_accounts (id, user_id, owner_id, token_prefix, token_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sa.ID, sa.UserID, sa.OwnerID, sa.TokenPrefix, sa.TokenHash, sa.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Message: "service account already exists"}
		}
		return storageError("create service account", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit service account", err)
	}
	return nil
}

// DeleteWithUser removes the account and its backing user in one transaction.
func (r *ServiceAccountRepository) DeleteWithUser(ctx context.Context, sa *models.ServiceAccount) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageError("begin service account transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM service_accounts WHERE id = $1`, sa.ID); err != nil {
		return storageError("delete service account", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1 AND is_service_account = TRUE`, sa.UserID,
	); err != nil {
		return storageError("delete service account user", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit service account deletion", err)
	}
	return nil
}

// GetByID retrieves a service account. Returns (nil, nil) when not found.
func (r *ServiceAccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ServiceAccount, error) {
	var sa models.ServiceAccount
	err := r.db.GetContext(ctx, &sa, serviceAccountSelect+` WHERE sa.id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service account: %w", err)
	}
	return &sa, nil
}

// ListByOwner lists the service accounts owned by an identity.
func (r *ServiceAccountRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.ServiceAccount, error) {
	var accounts []models.ServiceAccount
	err := r.db.SelectContext(ctx, &accounts, serviceAccountSelect+` WHERE sa.owner_id = $1 ORDER BY sa.created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list service accounts: %w", err)
	}
	return accounts, nil
}

// ListByTokenPrefix returns the candidate accounts for a presented token. The
// caller verifies the full token against each hash.
func (r *ServiceAccountRepository) ListByTokenPrefix(ctx context.Context, prefix string) ([]models.ServiceAccount, error) {
	var accounts []models.ServiceAccount
	err := r.db.SelectContext(ctx, &accounts, serviceAccountSelect+` WHERE sa.token_prefix = $1`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to look up service account token: %w", err)
	}
	return accounts, nil
}

// TouchLastUsed records that the account's token was just used.
func (r *ServiceAccountRepository) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE service_accounts SET last_used_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update service account last_used_at: %w", err)
	}
	return nil
}
