package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// runStoreSuite exercises the behavior every Store implementation must share.
// IDs are random so the suite can run against a shared database.
func runStoreSuite(t *testing.T, s store.Store) {
	ctx := context.Background()

	newAccount := func(t *testing.T, balance float64) string {
		t.Helper()
		id := "acct-" + uuid.NewString()
		created, err := s.CreateAccount(ctx, &model.Account{ID: id, Nickname: "nick", Balance: d(balance), CreatedAt: t0})
		require.NoError(t, err)
		require.True(t, created)
		return id
	}

	newIdea := func(t *testing.T, freeze, close time.Time) string {
		t.Helper()
		id := uuid.NewString()
		require.NoError(t, s.CreateIdea(ctx, &model.Idea{
			ID:          id,
			Title:       "Rain in Lisbon",
			Description: []string{"It will rain.", "Source: IPMA."},
			FreezeDate:  freeze,
			CloseDate:   close,
			CreatedAt:   t0,
		}))
		return id
	}

	t.Run("CreateAccountIsIdempotent", func(t *testing.T) {
		id := newAccount(t, 1000)
		created, err := s.CreateAccount(ctx, &model.Account{ID: id, Balance: d(5)})
		require.NoError(t, err)
		assert.False(t, created)

		bal, err := s.Balance(ctx, id)
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(1000)), "second create must not reset balance, got %s", bal)
	})

	t.Run("UnknownAccount", func(t *testing.T) {
		_, err := s.Balance(ctx, "nobody-"+uuid.NewString())
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.Debit(ctx, "nobody-"+uuid.NewString(), d(1))
		assert.ErrorIs(t, err, model.ErrNotFound)
		_, err = s.Credit(ctx, "nobody-"+uuid.NewString(), d(1))
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("DebitAndCredit", func(t *testing.T) {
		id := newAccount(t, 100)

		bal, err := s.Debit(ctx, id, d(30.5))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(69.5)), "got %s", bal)

		bal, err = s.Credit(ctx, id, d(0.5))
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(70)), "got %s", bal)
	})

	t.Run("DebitRejectsOverdraft", func(t *testing.T) {
		id := newAccount(t, 10)

		_, err := s.Debit(ctx, id, d(10.01))
		assert.ErrorIs(t, err, model.ErrInsufficientFunds)

		bal, err := s.Balance(ctx, id)
		require.NoError(t, err)
		assert.True(t, bal.Equal(d(10)), "failed debit must leave balance unchanged, got %s", bal)

		bal, err = s.Debit(ctx, id, d(10))
		require.NoError(t, err)
		assert.True(t, bal.IsZero())
	})

	t.Run("NonPositiveAmounts", func(t *testing.T) {
		id := newAccount(t, 10)
		for _, amt := range []decimal.Decimal{decimal.Zero, d(-1)} {
			_, err := s.Debit(ctx, id, amt)
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
			_, err = s.Credit(ctx, id, amt)
			assert.ErrorIs(t, err, model.ErrInvalidArgument)
		}
	})

	t.Run("ConcurrentDebitsNeverOverdraw", func(t *testing.T) {
		id := newAccount(t, 100)

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Debit(ctx, id, d(10)); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 10, succeeded)
		bal, err := s.Balance(ctx, id)
		require.NoError(t, err)
		assert.True(t, bal.IsZero(), "got %s", bal)
	})

	t.Run("SetEmail", func(t *testing.T) {
		id := newAccount(t, 0)
		require.NoError(t, s.SetEmail(ctx, id, "a@example.com"))

		a, err := s.GetAccount(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "a@example.com", a.Email)
		assert.False(t, a.Confirmed)
	})

	t.Run("AppendStakeBeforeFreeze", func(t *testing.T) {
		id := newIdea(t, t0.Add(time.Hour), t0.Add(2*time.Hour))

		idx, err := s.AppendStake(ctx, id, model.Bet{AccountID: "a", Side: true, Coins: d(5), PlacedAt: t0}, t0)
		require.NoError(t, err)
		assert.Equal(t, 0, idx)

		idx, err = s.AppendStake(ctx, id, model.Bet{AccountID: "b", Side: false, Coins: d(7), PlacedAt: t0}, t0)
		require.NoError(t, err)
		assert.Equal(t, 1, idx)

		idea, err := s.GetIdea(ctx, id)
		require.NoError(t, err)
		require.Len(t, idea.Stakes, 2)
		assert.Equal(t, "a", idea.Stakes[0].AccountID)
		assert.True(t, idea.Stakes[0].Side)
		assert.Equal(t, "b", idea.Stakes[1].AccountID)
		assert.True(t, idea.Stakes[1].Coins.Equal(d(7)))
		assert.Equal(t, []string{"It will rain.", "Source: IPMA."}, idea.Description)
	})

	t.Run("AppendStakeAtFreezeRejected", func(t *testing.T) {
		freeze := t0.Add(time.Hour)
		id := newIdea(t, freeze, freeze.Add(time.Hour))

		_, err := s.AppendStake(ctx, id, model.Bet{AccountID: "a", Side: true, Coins: d(5)}, freeze)
		assert.ErrorIs(t, err, model.ErrIdeaFrozen)

		_, err = s.AppendStake(ctx, "missing-"+uuid.NewString(), model.Bet{AccountID: "a", Coins: d(5)}, t0)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("FinalizeOnce", func(t *testing.T) {
		id := newIdea(t, t0, t0)

		require.NoError(t, s.FinalizeIdea(ctx, id, true, "proof", t0.Add(time.Minute)))
		err := s.FinalizeIdea(ctx, id, false, "other", t0.Add(2*time.Minute))
		assert.ErrorIs(t, err, model.ErrAlreadyResolved)

		idea, err := s.GetIdea(ctx, id)
		require.NoError(t, err)
		assert.True(t, idea.Resolved)
		require.NotNil(t, idea.Resolution)
		assert.True(t, *idea.Resolution)
		assert.Equal(t, "proof", idea.Proof)

		_, err = s.AppendStake(ctx, id, model.Bet{AccountID: "a", Coins: d(1)}, t0.Add(-time.Hour))
		assert.ErrorIs(t, err, model.ErrIdeaFrozen, "resolved ideas accept no stakes")
	})

	t.Run("EventKeysAreUnique", func(t *testing.T) {
		key := "prize:" + uuid.NewString() + ":0"
		e := &model.Event{Type: model.EventPrizePaid, AccountID: "a", Coins: model.Amount(d(3)), Key: key}
		require.NoError(t, s.AppendEvent(ctx, e))
		assert.Positive(t, e.Seq)

		err := s.AppendEvent(ctx, &model.Event{Type: model.EventPrizePaid, AccountID: "a", Key: key})
		assert.ErrorIs(t, err, model.ErrDuplicateEvent)
	})

	t.Run("ListEventsFilters", func(t *testing.T) {
		acct := "acct-" + uuid.NewString()
		idea := uuid.NewString()

		events := []*model.Event{
			{Type: model.EventLoggedIn, AccountID: acct},
			{Type: model.EventBetPlaced, AccountID: acct, IdeaID: idea, Side: model.BoolPtr(true), Coins: model.Amount(d(1.5)), Balance: model.Amount(d(98.5))},
			{Type: model.EventBetPlaced, AccountID: "other-" + acct, IdeaID: idea, Side: model.BoolPtr(false), Coins: model.Amount(d(2))},
		}
		for _, e := range events {
			require.NoError(t, s.AppendEvent(ctx, e))
		}
		assert.Less(t, events[0].Seq, events[1].Seq)
		assert.Less(t, events[1].Seq, events[2].Seq)

		got, err := s.ListEvents(ctx, model.EventFilter{AccountID: acct})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, model.EventLoggedIn, got[0].Type)

		got, err = s.ListEvents(ctx, model.EventFilter{Types: []model.EventType{model.EventBetPlaced}, AccountID: acct})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].Coins.Valid)
		assert.True(t, got[0].Coins.Decimal.Equal(d(1.5)))
		assert.True(t, got[0].Balance.Decimal.Equal(d(98.5)))
		require.NotNil(t, got[0].Side)
		assert.True(t, *got[0].Side)

		got, err = s.ListEvents(ctx, model.EventFilter{IdeaID: idea, AfterSeq: events[1].Seq})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, events[2].Seq, got[0].Seq)
		assert.False(t, got[0].Balance.Valid)
	})
}
