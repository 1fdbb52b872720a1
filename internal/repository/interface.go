package repository

import (
	"context"
	"errors"

	"github.com/terraconstructs/viewbridge/internal/db/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// AccountRepository exposes persistence operations for host accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	SetPassword(ctx context.Context, id int64, hash string) error
	SetDisabled(ctx context.Context, id int64, disabled bool) error
	TouchLastLogin(ctx context.Context, id int64) error
	List(ctx context.Context) ([]models.Account, error)
}

// HostSessionRepository exposes persistence operations for host sign-ins.
type HostSessionRepository interface {
	Create(ctx context.Context, session *models.HostSession) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.HostSession, error)
	UpdateLastUsed(ctx context.Context, id string) error
	Revoke(ctx context.Context, id string) error
	RevokeByAccountID(ctx context.Context, accountID int64) error
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProjectRepository exposes the host's repository registry.
type ProjectRepository interface {
	Create(ctx context.Context, project *models.Project) error
	Get(ctx context.Context, name string) (*models.Project, error)
	Exists(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]models.Project, error)
	Delete(ctx context.Context, name string) error
}
