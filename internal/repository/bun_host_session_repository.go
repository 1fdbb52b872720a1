package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/terraconstructs/viewbridge/internal/db/models"
	"github.com/uptrace/bun"
)

// BunHostSessionRepository implements HostSessionRepository using Bun ORM
type BunHostSessionRepository struct {
	db *bun.DB
}

// NewBunHostSessionRepository creates a new Bun-based host session repository
func NewBunHostSessionRepository(db *bun.DB) *BunHostSessionRepository {
	return &BunHostSessionRepository{db: db}
}

// Create inserts a new session
func (r *BunHostSessionRepository) Create(ctx context.Context, session *models.HostSession) error {
	if _, err := r.db.NewInsert().Model(session).Exec(ctx); err != nil {
		return fmt.Errorf("create host session: %w", err)
	}
	return nil
}

// GetByTokenHash retrieves a session by its token hash.
// This is the lookup performed on every request carrying the host cookie.
func (r *BunHostSessionRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.HostSession, error) {
	session := new(models.HostSession)
	err := r.db.NewSelect().Model(session).Where("token_hash = ?", tokenHash).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("host session: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("get host session by token: %w", err)
	}
	return session, nil
}

// UpdateLastUsed updates the last_used_at timestamp for a session
func (r *BunHostSessionRepository) UpdateLastUsed(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.HostSession)(nil)).
		Set("last_used_at = ?", time.Now().UTC()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update last used: %w", err)
	}
	return nil
}

// Revoke marks a session as revoked
func (r *BunHostSessionRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.NewUpdate().
		Model((*models.HostSession)(nil)).
		Set("revoked = ?", true).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke host session: %w", err)
	}
	return nil
}

// RevokeByAccountID revokes every session of an account
func (r *BunHostSessionRepository) RevokeByAccountID(ctx context.Context, accountID int64) error {
	_, err := r.db.NewUpdate().
		Model((*models.HostSession)(nil)).
		Set("revoked = ?", true).
		Where("account_id = ?", accountID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("revoke account sessions: %w", err)
	}
	return nil
}

// DeleteExpired deletes expired sessions and reports how many were removed
func (r *BunHostSessionRepository) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := r.db.NewDelete().
		Model((*models.HostSession)(nil)).
		Where("expires_at < ?", time.Now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete expired host sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
