package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/terraconstructs/viewbridge/internal/db/bunx"
	"github.com/terraconstructs/viewbridge/internal/db/dbtest"
	"github.com/terraconstructs/viewbridge/internal/db/models"
)

func strptr(s string) *string { return &s }

func TestBunAccountRepository(t *testing.T) {
	db := dbtest.NewDB(t)
	repo := NewBunAccountRepository(db)
	ctx := context.Background()

	t.Run("create assigns id", func(t *testing.T) {
		acct := &models.Account{Username: strptr("alice"), FullName: "Alice A", PreferredEmail: "alice@example.com"}
		require.NoError(t, repo.Create(ctx, acct))
		assert.NotZero(t, acct.ID)

		got, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, acct.ID, got.ID)
		assert.Equal(t, "Alice A", got.FullName)
		assert.Equal(t, "alice", got.DisplayUsername())
	})

	t.Run("unnamed accounts are allowed", func(t *testing.T) {
		first := &models.Account{PreferredEmail: "ext1@example.com"}
		second := &models.Account{FullName: "External Two"}
		require.NoError(t, repo.Create(ctx, first))
		require.NoError(t, repo.Create(ctx, second))

		got, err := repo.GetByID(ctx, second.ID)
		require.NoError(t, err)
		assert.Nil(t, got.Username)
		assert.Equal(t, "", got.DisplayUsername())
	})

	t.Run("duplicate username rejected", func(t *testing.T) {
		err := repo.Create(ctx, &models.Account{Username: strptr("alice")})
		assert.Error(t, err)
	})

	t.Run("missing account is ErrNotFound", func(t *testing.T) {
		_, err := repo.GetByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.GetByID(ctx, 9999)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, repo.SetDisabled(ctx, 9999, true), ErrNotFound)
	})

	t.Run("password and disable", func(t *testing.T) {
		acct, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)

		require.NoError(t, repo.SetPassword(ctx, acct.ID, "hash"))
		require.NoError(t, repo.SetDisabled(ctx, acct.ID, true))
		require.NoError(t, repo.TouchLastLogin(ctx, acct.ID))

		got, err := repo.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		require.NotNil(t, got.PasswordHash)
		assert.Equal(t, "hash", *got.PasswordHash)
		assert.NotNil(t, got.DisabledAt)
		assert.NotNil(t, got.LastLoginAt)

		require.NoError(t, repo.SetDisabled(ctx, acct.ID, false))
		got, err = repo.GetByID(ctx, acct.ID)
		require.NoError(t, err)
		assert.Nil(t, got.DisabledAt)
	})

	t.Run("list", func(t *testing.T) {
		accounts, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, accounts, 3)
	})
}

func TestBunHostSessionRepository(t *testing.T) {
	db := dbtest.NewDB(t)
	accounts := NewBunAccountRepository(db)
	repo := NewBunHostSessionRepository(db)
	ctx := context.Background()

	acct := &models.Account{Username: strptr("bob")}
	require.NoError(t, accounts.Create(ctx, acct))

	live := &models.HostSession{
		ID:        bunx.NewUUIDv7(),
		AccountID: acct.ID,
		TokenHash: "live-hash",
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	expired := &models.HostSession{
		ID:        bunx.NewUUIDv7(),
		AccountID: acct.ID,
		TokenHash: "expired-hash",
		ExpiresAt: time.Now().Add(-time.Hour).UTC(),
	}
	require.NoError(t, repo.Create(ctx, live))
	require.NoError(t, repo.Create(ctx, expired))

	got, err := repo.GetByTokenHash(ctx, "live-hash")
	require.NoError(t, err)
	assert.Equal(t, live.ID, got.ID)
	assert.False(t, got.Revoked)

	_, err = repo.GetByTokenHash(ctx, "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.UpdateLastUsed(ctx, live.ID))
	require.NoError(t, repo.Revoke(ctx, live.ID))
	got, err = repo.GetByTokenHash(ctx, "live-hash")
	require.NoError(t, err)
	assert.True(t, got.Revoked)

	n, err := repo.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.RevokeByAccountID(ctx, acct.ID))
}

func TestBunProjectRepository(t *testing.T) {
	db := dbtest.NewDB(t)
	repo := NewBunProjectRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &models.Project{Name: "platform/core", Description: "core services"}))
	require.NoError(t, repo.Create(ctx, &models.Project{Name: "docs"}))

	ok, err := repo.Exists(ctx, "platform/core")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	projects, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "docs", projects[0].Name)

	p, err := repo.Get(ctx, "platform/core")
	require.NoError(t, err)
	assert.Equal(t, "core services", p.Description)

	require.NoError(t, repo.Delete(ctx, "docs"))
	assert.ErrorIs(t, repo.Delete(ctx, "docs"), ErrNotFound)
	_, err = repo.Get(ctx, "docs")
	assert.ErrorIs(t, err, ErrNotFound)
}
