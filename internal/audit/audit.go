// Package audit rebuilds account and resolution state from the event log
// and compares it with the ledger.
//
// Events are processed in seq order. Wall-clock timestamps are never used
// for ordering.
package audit

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

// AccountHistory is one account's state as reconstructed from its events.
type AccountHistory struct {
	AccountID string
	// Derived is initial balance minus bets plus prizes. Refunded stakes
	// never left the account, so they do not move it.
	Derived decimal.Decimal
	// Recorded is the resulting balance carried by the most recent event
	// that had one.
	Recorded    decimal.NullDecimal
	Initialized bool
	Bets        int
	Prizes      int
	Refunds     int
	LastSeq     int64
}

// Replay folds events into per-account histories.
func Replay(events []model.Event) map[string]*AccountHistory {
	sorted := append([]model.Event(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	histories := make(map[string]*AccountHistory)
	for i := range sorted {
		e := &sorted[i]
		if e.AccountID == "" {
			continue
		}
		h, ok := histories[e.AccountID]
		if !ok {
			h = &AccountHistory{AccountID: e.AccountID}
			histories[e.AccountID] = h
		}

		coins := e.Coins.Decimal
		switch e.Type {
		case model.EventInitialBalanceSet:
			h.Derived = h.Derived.Add(coins)
			h.Initialized = true
		case model.EventBetPlaced:
			h.Derived = h.Derived.Sub(coins)
			h.Bets++
		case model.EventPrizePaid:
			h.Derived = h.Derived.Add(coins)
			h.Prizes++
		case model.EventStakeRefunded:
			// The debit it returns has no event of its own; the pair nets to zero.
			h.Refunds++
		}

		if e.Balance.Valid {
			h.Recorded = e.Balance
		}
		h.LastSeq = e.Seq
	}
	return histories
}

// Discrepancy is an account whose ledger balance disagrees with its events.
type Discrepancy struct {
	AccountID string          `json:"account_id"`
	Ledger    decimal.Decimal `json:"ledger"`
	Derived   decimal.Decimal `json:"derived"`
	Recorded  *string         `json:"recorded,omitempty"`
	Reason    string          `json:"reason"`
}

func (d Discrepancy) String() string {
	return fmt.Sprintf("%s: ledger=%s derived=%s (%s)", d.AccountID, d.Ledger, d.Derived, d.Reason)
}

// Verify compares every ledger account with the balance derived from the
// event log. An empty result means the log fully explains the ledger.
func Verify(ctx context.Context, ledger store.Ledger, events store.Events) ([]Discrepancy, error) {
	accounts, err := ledger.ListAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("verify: list accounts: %w", err)
	}
	all, err := events.ListEvents(ctx, model.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("verify: list events: %w", err)
	}
	histories := Replay(all)

	var out []Discrepancy
	for _, a := range accounts {
		h, ok := histories[a.ID]
		if !ok || !h.Initialized {
			out = append(out, Discrepancy{
				AccountID: a.ID,
				Ledger:    a.Balance,
				Reason:    "no initial balance event",
			})
			continue
		}

		var recorded *string
		if h.Recorded.Valid {
			s := h.Recorded.Decimal.String()
			recorded = &s
		}

		switch {
		case !a.Balance.Equal(h.Derived):
			out = append(out, Discrepancy{
				AccountID: a.ID,
				Ledger:    a.Balance,
				Derived:   h.Derived,
				Recorded:  recorded,
				Reason:    "ledger differs from event history",
			})
		case h.Recorded.Valid && !a.Balance.Equal(h.Recorded.Decimal):
			out = append(out, Discrepancy{
				AccountID: a.ID,
				Ledger:    a.Balance,
				Derived:   h.Derived,
				Recorded:  recorded,
				Reason:    "ledger differs from last recorded balance",
			})
		}
	}
	return out, nil
}

// PendingResolution is an idea whose resolution started but never finished.
type PendingResolution struct {
	IdeaID     string `json:"idea_id"`
	Resolution bool   `json:"resolution"`
	StartedSeq int64  `json:"started_seq"`
	PrizesPaid int    `json:"prizes_paid"`
}

// PendingResolutions lists ideas with a ResolutionStarted event and no
// ResolutionFinished event, in start order. These need Resume.
func PendingResolutions(ctx context.Context, events store.Events) ([]PendingResolution, error) {
	all, err := events.ListEvents(ctx, model.EventFilter{
		Types: []model.EventType{
			model.EventResolutionStarted,
			model.EventPrizePaid,
			model.EventResolutionFinished,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("pending resolutions: %w", err)
	}

	started := make(map[string]*PendingResolution)
	var order []string
	finished := make(map[string]bool)
	paid := make(map[string]int)

	for _, e := range all {
		switch e.Type {
		case model.EventResolutionStarted:
			if _, ok := started[e.IdeaID]; ok {
				continue
			}
			p := &PendingResolution{IdeaID: e.IdeaID, StartedSeq: e.Seq}
			if e.Resolution != nil {
				p.Resolution = *e.Resolution
			}
			started[e.IdeaID] = p
			order = append(order, e.IdeaID)
		case model.EventPrizePaid:
			paid[e.IdeaID]++
		case model.EventResolutionFinished:
			finished[e.IdeaID] = true
		}
	}

	out := []PendingResolution{}
	for _, id := range order {
		if finished[id] {
			continue
		}
		p := started[id]
		p.PrizesPaid = paid[id]
		out = append(out, *p)
	}
	return out, nil
}
