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

// BunAccountRepository implements AccountRepository using Bun ORM
type BunAccountRepository struct {
	db *bun.DB
}

// NewBunAccountRepository creates a new Bun-based account repository
func NewBunAccountRepository(db *bun.DB) *BunAccountRepository {
	return &BunAccountRepository{db: db}
}

// Create inserts a new account and fills in its generated ID.
func (r *BunAccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(account).Returning("id").Exec(ctx); err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its numeric ID
func (r *BunAccountRepository) GetByID(ctx context.Context, id int64) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().Model(account).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// GetByUsername retrieves an account by username
func (r *BunAccountRepository) GetByUsername(ctx context.Context, username string) (*models.Account, error) {
	account := new(models.Account)
	err := r.db.NewSelect().Model(account).Where("username = ?", username).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %q: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("get account by username: %w", err)
	}
	return account, nil
}

// SetPassword stores a new bcrypt hash
func (r *BunAccountRepository) SetPassword(ctx context.Context, id int64, hash string) error {
	return r.update(ctx, id, "password_hash = ?", hash)
}

// SetDisabled disables or re-enables an account
func (r *BunAccountRepository) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	var at *time.Time
	if disabled {
		now := time.Now().UTC()
		at = &now
	}
	return r.update(ctx, id, "disabled_at = ?", at)
}

// TouchLastLogin records a successful sign-in
func (r *BunAccountRepository) TouchLastLogin(ctx context.Context, id int64) error {
	return r.update(ctx, id, "last_login_at = ?", time.Now().UTC())
}

func (r *BunAccountRepository) update(ctx context.Context, id int64, set string, arg any) error {
	res, err := r.db.NewUpdate().
		Model((*models.Account)(nil)).
		Set(set, arg).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update account %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return nil
}

// List retrieves all accounts ordered by ID
func (r *BunAccountRepository) List(ctx context.Context) ([]models.Account, error) {
	var accounts []models.Account
	if err := r.db.NewSelect().Model(&accounts).Order("id ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}
