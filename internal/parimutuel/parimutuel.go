// Package parimutuel implements pari-mutuel prize distribution for binary
// ideas: the whole stake pool is split among the stakes on the winning side
// in proportion to their size, losers receive nothing.
//
// Prizes are truncated to Scale decimal places and the truncation remainder
// is assigned to the last winning stake, so the distributed total always
// equals the pool exactly.
package parimutuel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
)

// Scale is the number of decimal places prizes are truncated to.
var Scale int32 = 8

// VoidPolicy decides what happens to a pool that has stakes but none on the
// winning side, where the proportional formula would divide by zero.
type VoidPolicy string

const (
	// VoidRefund returns every stake to its owner.
	VoidRefund VoidPolicy = "refund"
	// VoidRetain pays nothing; the pool stays with the house.
	VoidRetain VoidPolicy = "retain"
)

var ErrUnknownPolicy = errors.New("parimutuel: unknown void policy")

// ParseVoidPolicy parses a configured policy name. Empty means VoidRetain.
func ParseVoidPolicy(s string) (VoidPolicy, error) {
	switch VoidPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", VoidRetain:
		return VoidRetain, nil
	case VoidRefund:
		return VoidRefund, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

// Pools summarizes the coins staked on each side of an idea.
type Pools struct {
	Agree    decimal.Decimal `json:"agree"`
	Disagree decimal.Decimal `json:"disagree"`
	Total    decimal.Decimal `json:"total"`
}

// Side returns the pool for one side.
func (p Pools) Side(side bool) decimal.Decimal {
	if side {
		return p.Agree
	}
	return p.Disagree
}

// PoolsOf sums stakes per side.
func PoolsOf(stakes []model.Bet) Pools {
	p := Pools{Agree: decimal.Zero, Disagree: decimal.Zero}
	for _, b := range stakes {
		if b.Side {
			p.Agree = p.Agree.Add(b.Coins)
		} else {
			p.Disagree = p.Disagree.Add(b.Coins)
		}
	}
	p.Total = p.Agree.Add(p.Disagree)
	return p
}

// ImpliedProbability is the crowd's estimate that side wins: the side's
// share of the pool. Returns 0.5 for an empty pool.
func (p Pools) ImpliedProbability(side bool) decimal.Decimal {
	if !p.Total.IsPositive() {
		return decimal.NewFromFloat(0.5)
	}
	return p.Side(side).DivRound(p.Total, Scale)
}

// Multiplier is the gross return per coin staked on side if it wins
// (total / side pool). Zero when nobody has staked on that side yet.
func (p Pools) Multiplier(side bool) decimal.Decimal {
	pool := p.Side(side)
	if !pool.IsPositive() {
		return decimal.Zero
	}
	return p.Total.DivRound(pool, Scale)
}

// Distribute computes the prizes for an idea resolved as resolution.
// Prizes are returned in stake order and carry the stake's index so that
// settlement can be resumed without paying a stake twice.
//
//	prize(b) = total_pool * b.coins / winners_pool
//
// No stakes → no prizes. Stakes but no winners → policy decides.
func Distribute(stakes []model.Bet, resolution bool, policy VoidPolicy) []model.Prize {
	if len(stakes) == 0 {
		return nil
	}

	pools := PoolsOf(stakes)
	winnersPool := pools.Side(resolution)

	if !winnersPool.IsPositive() {
		if policy != VoidRefund {
			return nil
		}
		prizes := make([]model.Prize, 0, len(stakes))
		for i, b := range stakes {
			prizes = append(prizes, model.Prize{
				AccountID:  b.AccountID,
				StakeIndex: i,
				Coins:      b.Coins,
				Refund:     true,
			})
		}
		return prizes
	}

	var prizes []model.Prize
	paid := decimal.Zero
	for i, b := range stakes {
		if b.Side != resolution {
			continue
		}
		coins := pools.Total.Mul(b.Coins).Div(winnersPool).Truncate(Scale)
		paid = paid.Add(coins)
		prizes = append(prizes, model.Prize{
			AccountID:  b.AccountID,
			StakeIndex: i,
			Coins:      coins,
		})
	}

	// Hand the truncation dust to the last winner so Σ prizes == total pool.
	if dust := pools.Total.Sub(paid); !dust.IsZero() {
		last := &prizes[len(prizes)-1]
		last.Coins = last.Coins.Add(dust)
	}
	return prizes
}

// Total sums prize coins.
func Total(prizes []model.Prize) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range prizes {
		sum = sum.Add(p.Coins)
	}
	return sum
}
