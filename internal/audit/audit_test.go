package audit_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotideas/ideas-engine/internal/accounts"
	"github.com/wotideas/ideas-engine/internal/audit"
	"github.com/wotideas/ideas-engine/internal/auth"
	"github.com/wotideas/ideas-engine/internal/betting"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/parimutuel"
	"github.com/wotideas/ideas-engine/internal/resolution"
	"github.com/wotideas/ideas-engine/internal/store"
)

var (
	t0    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	admin = auth.Principal{AccountID: "root", Admin: true}
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// lifecycle signs in three accounts, places bets and resolves the idea.
func lifecycle(t *testing.T, st store.Store) {
	t.Helper()
	ctx := context.Background()

	acc := accounts.NewService(st, st, d(100), nil)
	for _, id := range []string{"A", "B", "C"} {
		_, err := acc.Login(ctx, id, id)
		require.NoError(t, err)
	}

	require.NoError(t, st.CreateIdea(ctx, &model.Idea{
		ID: "idea-1", Title: "t", FreezeDate: t0.Add(time.Hour), CloseDate: t0.Add(2 * time.Hour),
	}))

	bets := betting.NewEngine(st, nil, nil).WithClock(func() time.Time { return t0 })
	for _, b := range []struct {
		id    string
		side  bool
		coins float64
	}{{"A", true, 40}, {"B", true, 20}, {"C", false, 30}, {"A", false, 5}} {
		_, err := bets.PlaceBet(ctx, auth.Principal{AccountID: b.id}, "idea-1", b.side, d(b.coins))
		require.NoError(t, err)
	}

	res := resolution.NewEngine(st, parimutuel.VoidRefund, nil).WithClock(func() time.Time { return t0.Add(3 * time.Hour) })
	_, err := res.Resolve(ctx, admin, "idea-1", true, "proof")
	require.NoError(t, err)
}

func TestVerify_CleanLifecycle(t *testing.T) {
	ms := store.NewMemoryStore()
	lifecycle(t, ms)
	ctx := context.Background()

	discrepancies, err := audit.Verify(ctx, ms, ms)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	pending, err := audit.PendingResolutions(ctx, ms)
	require.NoError(t, err)
	assert.Empty(t, pending)

	events, err := ms.ListEvents(ctx, model.EventFilter{})
	require.NoError(t, err)
	h := audit.Replay(events)
	require.Contains(t, h, "A")
	assert.Equal(t, 2, h["A"].Bets)
	assert.Equal(t, 1, h["A"].Prizes)
	// Pool 95, winners 60: A gets 95*40/60 = 63.33333333.
	assert.True(t, h["A"].Derived.Equal(decimal.RequireFromString("118.33333333")), "got %s", h["A"].Derived)
	assert.True(t, h["C"].Derived.Equal(d(70)))
}

func TestVerify_DetectsDrift(t *testing.T) {
	ms := store.NewMemoryStore()
	lifecycle(t, ms)
	ctx := context.Background()

	_, err := ms.Credit(ctx, "B", d(1))
	require.NoError(t, err)
	_, err = ms.CreateAccount(ctx, &model.Account{ID: "ghost", Balance: d(5)})
	require.NoError(t, err)

	discrepancies, err := audit.Verify(ctx, ms, ms)
	require.NoError(t, err)
	require.Len(t, discrepancies, 2)
	assert.Equal(t, "B", discrepancies[0].AccountID)
	assert.Equal(t, "ledger differs from event history", discrepancies[0].Reason)
	assert.Equal(t, "ghost", discrepancies[1].AccountID)
	assert.Equal(t, "no initial balance event", discrepancies[1].Reason)
}

func TestVerify_RefundedStakeIsBalanced(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	_, err := accounts.NewService(ms, ms, d(100), nil).Login(ctx, "A", "A")
	require.NoError(t, err)
	require.NoError(t, ms.CreateIdea(ctx, &model.Idea{
		ID: "idea-1", Title: "t", FreezeDate: t0.Add(time.Hour), CloseDate: t0.Add(2 * time.Hour),
	}))

	// The idea freezes between the open check and the stake append.
	calls := 0
	bets := betting.NewEngine(ms, nil, nil).WithClock(func() time.Time {
		calls++
		if calls == 1 {
			return t0
		}
		return t0.Add(time.Hour)
	})
	_, err = bets.PlaceBet(ctx, auth.Principal{AccountID: "A"}, "idea-1", true, d(10))
	require.ErrorIs(t, err, model.ErrIdeaFrozen)

	discrepancies, err := audit.Verify(ctx, ms, ms)
	require.NoError(t, err)
	assert.Empty(t, discrepancies)

	events, err := ms.ListEvents(ctx, model.EventFilter{AccountID: "A"})
	require.NoError(t, err)
	h := audit.Replay(events)["A"]
	require.NotNil(t, h)
	assert.Equal(t, 1, h.Refunds)
	assert.True(t, h.Derived.Equal(d(100)), "got %s", h.Derived)
}

// brokenCredit fails every credit, leaving resolutions half done.
type brokenCredit struct{ *store.MemoryStore }

func (brokenCredit) Credit(context.Context, string, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, errors.New("ledger offline")
}

func TestPendingResolutions(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.CreateIdea(ctx, &model.Idea{
		ID: "idea-2", Title: "t", FreezeDate: t0.Add(time.Hour), CloseDate: t0.Add(2 * time.Hour),
	}))
	_, err := ms.CreateAccount(ctx, &model.Account{ID: "A", Balance: d(10)})
	require.NoError(t, err)
	_, err = ms.AppendStake(ctx, "idea-2", model.Bet{AccountID: "A", Side: true, Coins: d(10)}, t0)
	require.NoError(t, err)

	res := resolution.NewEngine(brokenCredit{ms}, parimutuel.VoidRefund, nil).WithClock(func() time.Time { return t0.Add(3 * time.Hour) })
	_, err = res.Resolve(ctx, admin, "idea-2", false, "proof")
	require.Error(t, err)

	pending, err := audit.PendingResolutions(ctx, ms)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "idea-2", pending[0].IdeaID)
	assert.False(t, pending[0].Resolution)
	assert.Zero(t, pending[0].PrizesPaid)

	_, err = resolution.NewEngine(ms, parimutuel.VoidRefund, nil).Resume(ctx, admin, "idea-2")
	require.NoError(t, err)

	pending, err = audit.PendingResolutions(ctx, ms)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
