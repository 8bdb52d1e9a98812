package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

// setupPostgres starts a disposable PostgreSQL container and migrates it.
// Skipped in -short mode and when no container runtime is reachable.
func setupPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ideas_test"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.MigrateUp(url))
	return url
}

func TestPostgresStore(t *testing.T) {
	url := setupPostgres(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runStoreSuite(t, store.NewPostgresStore(pool))

	t.Run("ListIdeasFilters", func(t *testing.T) {
		ps := store.NewPostgresStore(pool)
		now := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
		require.NoError(t, ps.CreateIdea(ctx, &model.Idea{
			ID: "pg-open", Title: "open", Description: []string{"x"},
			FreezeDate: now.Add(time.Hour), CloseDate: now.Add(2 * time.Hour), CreatedAt: now,
		}))
		require.NoError(t, ps.CreateIdea(ctx, &model.Idea{
			ID: "pg-frozen", Title: "frozen", Description: []string{"x"},
			FreezeDate: now.Add(-time.Hour), CloseDate: now.Add(time.Hour), CreatedAt: now,
		}))
		_, err := ps.AppendStake(ctx, "pg-open", model.Bet{AccountID: "a", Side: true, Coins: d(2.5), PlacedAt: now}, now)
		require.NoError(t, err)

		open, err := ps.ListIdeas(ctx, model.IdeaQuery{Filter: model.FilterOpen, Now: now})
		require.NoError(t, err)
		require.Len(t, open, 1)
		assert.Equal(t, "pg-open", open[0].ID)
		require.Len(t, open[0].Stakes, 1)
		assert.True(t, open[0].Stakes[0].Coins.Equal(d(2.5)))

		frozen, err := ps.ListIdeas(ctx, model.IdeaQuery{Filter: model.FilterFrozen, Now: now})
		require.NoError(t, err)
		require.Len(t, frozen, 1)
		assert.Equal(t, "pg-frozen", frozen[0].ID)
	})

	t.Run("MigrationVersion", func(t *testing.T) {
		status, err := store.MigrateVersion(url)
		require.NoError(t, err)
		assert.True(t, status.Applied)
		assert.False(t, status.Dirty)
		assert.Equal(t, uint(1), status.Version)
	})
}
