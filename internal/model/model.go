// Package model defines the core domain types shared across the ideas engine.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account holds one user's coin balance. Balances only change through the
// ledger's conditional debit and credit.
type Account struct {
	ID        string          `json:"account_id" db:"account_id"`
	Nickname  string          `json:"nickname" db:"nickname"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Email     string          `json:"email,omitempty" db:"email"`
	Confirmed bool            `json:"confirmed" db:"confirmed"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Bet is a stake committed by one account to one side of an idea.
// Once appended to an idea it is never modified.
type Bet struct {
	AccountID string          `json:"account_id" db:"account_id"`
	Nickname  string          `json:"nickname" db:"nickname"`
	Side      bool            `json:"side" db:"side"` // true agrees with the proposition
	Coins     decimal.Decimal `json:"coins" db:"coins"`
	PlacedAt  time.Time       `json:"placed_at" db:"placed_at"`
}

// Idea is a binary proposition users stake coins on.
type Idea struct {
	ID          string     `json:"id" db:"id"`
	Title       string     `json:"title" db:"title"`
	Description []string   `json:"description" db:"description"`
	FreezeDate  time.Time  `json:"freeze_date" db:"freeze_date"`
	CloseDate   time.Time  `json:"close_date" db:"close_date"`
	Resolved    bool       `json:"resolved" db:"resolved"`
	Resolution  *bool      `json:"resolution,omitempty" db:"resolution"`
	Proof       string     `json:"proof,omitempty" db:"proof"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
	Stakes      []Bet      `json:"stakes" db:"-"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// IdeaState is the lifecycle position of an idea. Only Resolved is stored;
// the others are derived from the wall clock.
type IdeaState string

const (
	StateOpen     IdeaState = "open"
	StateFrozen   IdeaState = "frozen"
	StateClosed   IdeaState = "closed"
	StateResolved IdeaState = "resolved"
)

// State returns the lifecycle state of the idea at now.
func (i *Idea) State(now time.Time) IdeaState {
	switch {
	case i.Resolved:
		return StateResolved
	case now.Before(i.FreezeDate):
		return StateOpen
	case now.Before(i.CloseDate):
		return StateFrozen
	default:
		return StateClosed
	}
}

// AcceptsStakes reports whether a stake placed at now may be appended.
func (i *Idea) AcceptsStakes(now time.Time) bool {
	return !i.Resolved && now.Before(i.FreezeDate)
}

// StakedBy returns the total coins the account has already staked on the idea.
func (i *Idea) StakedBy(accountID string) decimal.Decimal {
	total := decimal.Zero
	for _, b := range i.Stakes {
		if b.AccountID == accountID {
			total = total.Add(b.Coins)
		}
	}
	return total
}

// Prize is a settlement payout for one stake. It is not persisted on its
// own; it becomes a ledger credit and a PrizePaid event.
type Prize struct {
	AccountID  string          `json:"account_id"`
	StakeIndex int             `json:"stake_index"`
	Coins      decimal.Decimal `json:"coins"`
	Refund     bool            `json:"refund,omitempty"` // stake returned from a void pool
}

// IdeaFilter selects ideas by lifecycle position.
type IdeaFilter string

const (
	FilterAll        IdeaFilter = "all"
	FilterOpen       IdeaFilter = "open"
	FilterFrozen     IdeaFilter = "frozen"
	FilterClosed     IdeaFilter = "closed"
	FilterUnclosed   IdeaFilter = "unclosed"
	FilterResolved   IdeaFilter = "resolved"
	FilterUnresolved IdeaFilter = "unresolved"
)

// IdeaSort is the ordering key for idea listings.
type IdeaSort string

const (
	SortCreated IdeaSort = "created"
	SortFreeze  IdeaSort = "freeze"
	SortClose   IdeaSort = "close"
)

// IdeaQuery is the read-only listing request consumed by the presentation layer.
type IdeaQuery struct {
	Filter     IdeaFilter
	Sort       IdeaSort
	Descending bool
	Limit      int
	Offset     int
	Now        time.Time // reference time for open/frozen/closed filters
}

// Matches reports whether the idea passes the query's filter.
func (q IdeaQuery) Matches(i *Idea) bool {
	state := i.State(q.Now)
	switch q.Filter {
	case FilterOpen:
		return state == StateOpen
	case FilterFrozen:
		return state == StateFrozen
	case FilterClosed:
		return !q.Now.Before(i.CloseDate)
	case FilterUnclosed:
		return q.Now.Before(i.CloseDate)
	case FilterResolved:
		return i.Resolved
	case FilterUnresolved:
		return !i.Resolved
	default:
		return true
	}
}
