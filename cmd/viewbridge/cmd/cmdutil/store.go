// Package cmdutil opens the host store for administrative commands.
package cmdutil

import (
	"context"
	"fmt"

	"github.com/terraconstructs/viewbridge/internal/config"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/host"
	"github.com/terraconstructs/viewbridge/internal/repository"
	"github.com/uptrace/bun"
)

// HostStore bundles the repositories and the access rule backend with the
// connection they share.
type HostStore struct {
	DB         *bun.DB
	Accounts   repository.AccountRepository
	Sessions   repository.HostSessionRepository
	Projects   repository.ProjectRepository
	Authorizer *host.CasbinAuthorizer
}

// Close releases the underlying database connection.
func (s *HostStore) Close() {
	if s == nil || s.DB == nil {
		return
	}
	_ = bunx.Close(s.DB)
}

// Open connects to the configured database. Rule changes made through the
// returned authorizer are written through immediately.
func Open(ctx context.Context, cfg *config.Config) (*HostStore, error) {
	db, err := bunx.NewDB(ctx, cfg.DatabaseURL, bunx.Options{MaxConns: cfg.MaxDBConnections})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	projects := repository.NewBunProjectRepository(db)
	authz, err := host.NewCasbinAuthorizer(db, projects)
	if err != nil {
		_ = bunx.Close(db)
		return nil, fmt.Errorf("failed to load access rules: %w", err)
	}

	return &HostStore{
		DB:         db,
		Accounts:   repository.NewBunAccountRepository(db),
		Sessions:   repository.NewBunHostSessionRepository(db),
		Projects:   projects,
		Authorizer: authz,
	}, nil
}

// Load reads the configuration and opens the host store.
func Load(ctx context.Context) (*HostStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return Open(ctx, cfg)
}
