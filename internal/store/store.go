// Package store defines the persistence interfaces for the ideas engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// idea cache), and in-memory (for testing).
//
// Every method is a single atomic store operation. Multi-step consistency
// (debit then append, credit then log) is the engines' job; no lock is held
// across calls.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
)

// Ledger holds account balances. Debit is the only concurrency-control
// primitive in the system: its check-and-decrement is indivisible, so two
// racing debits can never both succeed when only one is affordable.
type Ledger interface {
	// CreateAccount inserts a new account. Returns false, nil if an account
	// with the same ID already exists.
	CreateAccount(ctx context.Context, account *model.Account) (bool, error)

	// GetAccount retrieves an account by ID.
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)

	// Balance returns the current balance of an account.
	Balance(ctx context.Context, accountID string) (decimal.Decimal, error)

	// Debit decrements the balance only if it covers amount, returning the
	// new balance. Fails with model.ErrInsufficientFunds otherwise.
	Debit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)

	// Credit increments the balance, returning the new balance.
	Credit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error)

	// SetEmail records an unconfirmed e-mail address for the account.
	SetEmail(ctx context.Context, accountID, email string) error

	// ListAccounts returns all accounts ordered by ID.
	ListAccounts(ctx context.Context) ([]model.Account, error)
}

// Ideas holds idea documents and their stakes.
type Ideas interface {
	// CreateIdea persists a new, already validated idea.
	CreateIdea(ctx context.Context, idea *model.Idea) error

	// GetIdea retrieves an idea with its stakes in submission order.
	GetIdea(ctx context.Context, id string) (*model.Idea, error)

	// AppendStake appends bet to the idea if, on a freshly read document,
	// now is before the freeze date. Returns the stake's index.
	AppendStake(ctx context.Context, id string, bet model.Bet, now time.Time) (int, error)

	// FinalizeIdea marks the idea resolved. Succeeds exactly once per idea;
	// later calls fail with model.ErrAlreadyResolved.
	FinalizeIdea(ctx context.Context, id string, resolution bool, proof string, at time.Time) error

	// ListIdeas returns ideas matching the query.
	ListIdeas(ctx context.Context, q model.IdeaQuery) ([]model.Idea, error)
}

// Events is the append-only audit log.
type Events interface {
	// AppendEvent assigns the next sequence number to e and stores it.
	// Fails with model.ErrDuplicateEvent if e.Key is set and already used.
	AppendEvent(ctx context.Context, e *model.Event) error

	// ListEvents returns matching events in ascending seq order.
	ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error)
}

// Store bundles the three collections.
type Store interface {
	Ledger
	Ideas
	Events
}

// Collections lets callers swap one collection (e.g. a cached Ideas or a
// publishing Events) while keeping the others.
type Collections struct {
	Ledger
	Ideas
	Events
}

var _ Store = Collections{}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return model.ErrInvalidAmount
	}
	return nil
}
