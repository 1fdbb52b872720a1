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

// BunProjectRepository implements ProjectRepository using Bun ORM
type BunProjectRepository struct {
	db *bun.DB
}

// NewBunProjectRepository creates a new Bun-based project repository
func NewBunProjectRepository(db *bun.DB) *BunProjectRepository {
	return &BunProjectRepository{db: db}
}

// Create registers a project
func (r *BunProjectRepository) Create(ctx context.Context, project *models.Project) error {
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	if _, err := r.db.NewInsert().Model(project).Exec(ctx); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

// Get retrieves a project by name
func (r *BunProjectRepository) Get(ctx context.Context, name string) (*models.Project, error) {
	project := new(models.Project)
	err := r.db.NewSelect().Model(project).Where("name = ?", name).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// Exists reports whether a project is registered
func (r *BunProjectRepository) Exists(ctx context.Context, name string) (bool, error) {
	ok, err := r.db.NewSelect().Model((*models.Project)(nil)).Where("name = ?", name).Exists(ctx)
	if err != nil {
		return false, fmt.Errorf("check project: %w", err)
	}
	return ok, nil
}

// List retrieves all projects ordered by name
func (r *BunProjectRepository) List(ctx context.Context) ([]models.Project, error) {
	var projects []models.Project
	if err := r.db.NewSelect().Model(&projects).Order("name ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// Delete removes a project
func (r *BunProjectRepository) Delete(ctx context.Context, name string) error {
	res, err := r.db.NewDelete().Model((*models.Project)(nil)).Where("name = ?", name).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	return nil
}
