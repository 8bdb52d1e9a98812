package accounts_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotideas/ideas-engine/internal/accounts"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

func newService() (*accounts.Service, *store.MemoryStore) {
	ms := store.NewMemoryStore()
	return accounts.NewService(ms, ms, decimal.NewFromInt(1000), nil), ms
}

func TestLogin_CreatesOnce(t *testing.T) {
	svc, ms := newService()
	ctx := context.Background()

	s, err := svc.Login(ctx, "alice", "Alice")
	require.NoError(t, err)
	assert.True(t, s.Created)
	assert.True(t, s.Account.Balance.Equal(decimal.NewFromInt(1000)))

	_, err = ms.Debit(ctx, "alice", decimal.NewFromInt(300))
	require.NoError(t, err)

	s, err = svc.Login(ctx, "alice", "Alice")
	require.NoError(t, err)
	assert.False(t, s.Created)
	assert.True(t, s.Account.Balance.Equal(decimal.NewFromInt(700)), "login must not reset the balance")

	initial, err := svc.History(ctx, "alice", []model.EventType{model.EventInitialBalanceSet}, 0)
	require.NoError(t, err)
	assert.Len(t, initial, 1)

	logins, err := svc.History(ctx, "alice", []model.EventType{model.EventLoggedIn}, 0)
	require.NoError(t, err)
	assert.Len(t, logins, 2)
}

func TestLogin_RequiresID(t *testing.T) {
	svc, _ := newService()
	_, err := svc.Login(context.Background(), "  ", "x")
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
}

func TestSetEmail(t *testing.T) {
	svc, ms := newService()
	ctx := context.Background()
	_, err := svc.Login(ctx, "alice", "Alice")
	require.NoError(t, err)

	assert.ErrorIs(t, svc.SetEmail(ctx, "alice", "not-an-email"), model.ErrInvalidArgument)
	assert.ErrorIs(t, svc.SetEmail(ctx, "ghost", "g@example.com"), model.ErrNotFound)

	require.NoError(t, svc.SetEmail(ctx, "alice", "alice@example.com"))
	a, err := ms.GetAccount(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", a.Email)
	assert.False(t, a.Confirmed)

	events, err := svc.History(ctx, "alice", []model.EventType{model.EventEmailSet}, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "alice@example.com", events[0].Email)
}
