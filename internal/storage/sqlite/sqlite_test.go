package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/open-apime/relay/internal/storage/model"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	schema, err := os.ReadFile(filepath.Join("..", "..", "..", "db", "migrations", "sqlite", "0001_init.up.sql"))
	require.NoError(t, err)
	for _, stmt := range strings.Split(string(schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		_, err := db.Conn.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository(newTestDB(t))

	admin, err := repo.Create(ctx, model.User{Email: "admin@example.com", PasswordHash: "x", Role: model.UserRoleAdmin})
	require.NoError(t, err)
	assert.NotEmpty(t, admin.ID)

	_, err = repo.Create(ctx, model.User{Email: "admin@example.com", PasswordHash: "y", Role: model.UserRoleUser})
	assert.ErrorIs(t, err, model.ErrDuplicate)

	op, err := repo.Create(ctx, model.User{Email: "op@example.com", PasswordHash: "y", Role: model.UserRoleUser})
	require.NoError(t, err)

	got, err := repo.GetByEmail(ctx, "op@example.com")
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.False(t, got.Banned)

	got.Banned = true
	updated, err := repo.Update(ctx, got)
	require.NoError(t, err)
	assert.True(t, updated.Banned)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, repo.Delete(ctx, admin.ID), ErrLastAdmin)
	require.NoError(t, repo.Delete(ctx, op.ID))

	_, err = repo.GetByID(ctx, op.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogRepositoryRecentNewestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewLogRepository(newTestDB(t))

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, msg := range []string{"um", "dois", "três"} {
		_, err := repo.Append(ctx, model.LogEntry{
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			Category:   "SYSTEM",
			InstanceID: "loja",
			Level:      "INFO",
			Message:    msg,
		})
		require.NoError(t, err)
	}

	entries, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "três", entries[0].Message)
	assert.Equal(t, "dois", entries[1].Message)
	assert.True(t, entries[0].Timestamp.Equal(base.Add(2*time.Second)))

	require.NoError(t, repo.DeleteByInstance(ctx, "loja"))
	entries, err = repo.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
