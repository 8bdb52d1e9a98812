// Package limits implements optional stake limits per account.
//
// Two caps are enforced when configured:
//   - MaxPerBet caps the coins of a single stake.
//   - MaxPerIdea caps the total an account may stake on one idea, across
//     both sides and all of its earlier stakes.
//
// A zero cap means unlimited.
package limits

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
)

// StakeLimiter enforces per-bet and per-idea stake caps.
type StakeLimiter struct {
	// MaxPerBet is the largest single stake accepted. Zero disables the check.
	MaxPerBet decimal.Decimal

	// MaxPerIdea is the largest total an account may have staked on one idea.
	// Zero disables the check.
	MaxPerIdea decimal.Decimal
}

// NewStakeLimiter creates a limiter. Negative caps are treated as unlimited.
func NewStakeLimiter(maxPerBet, maxPerIdea decimal.Decimal) *StakeLimiter {
	if maxPerBet.IsNegative() {
		maxPerBet = decimal.Zero
	}
	if maxPerIdea.IsNegative() {
		maxPerIdea = decimal.Zero
	}
	return &StakeLimiter{
		MaxPerBet:  maxPerBet,
		MaxPerIdea: maxPerIdea,
	}
}

// CheckLimit validates a new stake of coins by accountID on idea.
// Returns nil if the stake is within limits; otherwise an error wrapping
// model.ErrStakeLimitExceeded. A nil limiter allows everything.
func (l *StakeLimiter) CheckLimit(idea *model.Idea, accountID string, coins decimal.Decimal) error {
	if l == nil {
		return nil
	}

	// 1. Single stake.
	if l.MaxPerBet.IsPositive() && coins.GreaterThan(l.MaxPerBet) {
		return fmt.Errorf("%w: stake %s above per-bet maximum %s",
			model.ErrStakeLimitExceeded, coins, l.MaxPerBet)
	}

	// 2. Account total on this idea, including earlier stakes.
	if l.MaxPerIdea.IsPositive() {
		total := idea.StakedBy(accountID).Add(coins)
		if total.GreaterThan(l.MaxPerIdea) {
			return fmt.Errorf("%w: total stake %s above per-idea maximum %s",
				model.ErrStakeLimitExceeded, total, l.MaxPerIdea)
		}
	}

	return nil
}
