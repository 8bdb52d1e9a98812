package store_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	ctx := context.Background()

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate redis container: %v", err)
		}
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestCachedIdeas(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	ms := store.NewMemoryStore()
	cached := store.NewCachedIdeas(ms, rdb, time.Minute)

	require.NoError(t, cached.CreateIdea(ctx, &model.Idea{
		ID: "cached", Title: "t", Description: []string{"p"},
		FreezeDate: t0.Add(time.Hour), CloseDate: t0.Add(time.Hour),
	}))
	n, err := rdb.Exists(ctx, "idea:cached").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "create populates the cache")

	_, err = cached.AppendStake(ctx, "cached", model.Bet{AccountID: "a", Side: true, Coins: d(4)}, t0)
	require.NoError(t, err)
	n, err = rdb.Exists(ctx, "idea:cached").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "stake invalidates the cache")

	idea, err := cached.GetIdea(ctx, "cached")
	require.NoError(t, err)
	require.Len(t, idea.Stakes, 1)
	assert.True(t, idea.Stakes[0].Coins.Equal(d(4)))

	require.NoError(t, cached.FinalizeIdea(ctx, "cached", true, "proof", t0.Add(2*time.Hour)))
	idea, err = cached.GetIdea(ctx, "cached")
	require.NoError(t, err)
	assert.True(t, idea.Resolved, "finalize must not leave a stale cached copy")

	_, err = cached.GetIdea(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCachedIdeas_ConsistentSkipsStaleCopy(t *testing.T) {
	rdb := setupRedis(t)
	ctx := context.Background()
	ms := store.NewMemoryStore()
	cached := store.NewCachedIdeas(ms, rdb, time.Minute)

	require.NoError(t, cached.CreateIdea(ctx, &model.Idea{
		ID: "racy", Title: "t",
		FreezeDate: t0.Add(time.Hour), CloseDate: t0.Add(time.Hour),
	}))
	snapshot, err := cached.GetIdea(ctx, "racy")
	require.NoError(t, err)
	require.Empty(t, snapshot.Stakes)

	_, err = cached.AppendStake(ctx, "racy", model.Bet{AccountID: "a", Side: true, Coins: d(4)}, t0)
	require.NoError(t, err)

	// A reader that fetched before the append writes its copy back afterwards.
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)
	require.NoError(t, rdb.Set(ctx, "idea:racy", data, time.Minute).Err())

	stale, err := cached.GetIdea(ctx, "racy")
	require.NoError(t, err)
	assert.Empty(t, stale.Stakes)

	fresh, err := cached.Consistent().GetIdea(ctx, "racy")
	require.NoError(t, err)
	require.Len(t, fresh.Stakes, 1)
	assert.True(t, fresh.Stakes[0].Coins.Equal(d(4)))

	require.NoError(t, cached.Consistent().FinalizeIdea(ctx, "racy", true, "proof", t0.Add(2*time.Hour)))
	n, err := rdb.Exists(ctx, "idea:racy").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "writes through the consistent view still invalidate")
}
