// Package betting places stakes on ideas.
//
// A bet is three independent store operations: a conditional debit, a stake
// append and an audit event. No lock spans them. The debit is the
// authoritative funds check; if the append fails afterwards, the debit is
// returned by a compensating credit.
package betting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/auth"
	"github.com/wotideas/ideas-engine/internal/limits"
	"github.com/wotideas/ideas-engine/internal/metrics"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

// Receipt describes an accepted bet.
type Receipt struct {
	IdeaID     string          `json:"idea_id"`
	AccountID  string          `json:"account_id"`
	Side       bool            `json:"side"`
	Coins      decimal.Decimal `json:"coins"`
	Balance    decimal.Decimal `json:"balance"`
	StakeIndex int             `json:"stake_index"`
	EventSeq   int64           `json:"event_seq,omitempty"` // zero if the event could not be recorded
	PlacedAt   time.Time       `json:"placed_at"`
}

// Engine places bets.
type Engine struct {
	ledger  store.Ledger
	ideas   store.Ideas
	events  store.Events
	limiter *limits.StakeLimiter
	now     func() time.Time
	logger  *slog.Logger
}

// NewEngine creates a betting engine. limiter may be nil.
func NewEngine(s store.Store, limiter *limits.StakeLimiter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:  s,
		ideas:   s,
		events:  s,
		limiter: limiter,
		now:     func() time.Time { return time.Now().UTC() },
		logger:  logger,
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// PlaceBet stakes coins from the principal's account on one side of an idea.
func (e *Engine) PlaceBet(ctx context.Context, p auth.Principal, ideaID string, side bool, coins decimal.Decimal) (*Receipt, error) {
	start := time.Now()
	sideLabel := strconv.FormatBool(side)

	if p.AccountID == "" {
		return nil, model.ErrUnauthenticated
	}

	// 1. Amount.
	if !coins.IsPositive() {
		metrics.BetRejections.WithLabelValues("invalid_amount").Inc()
		return nil, model.ErrInvalidAmount
	}

	// 2. Idea exists and is still open.
	idea, err := e.ideas.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if !idea.AcceptsStakes(now) {
		metrics.BetRejections.WithLabelValues("frozen").Inc()
		return nil, fmt.Errorf("%w: %s", model.ErrIdeaFrozen, ideaID)
	}

	// 3. Optional caps.
	if err := e.limiter.CheckLimit(idea, p.AccountID, coins); err != nil {
		metrics.BetRejections.WithLabelValues("limit").Inc()
		return nil, err
	}

	// 4. Conditional debit. Failure here leaves no trace.
	balance, err := e.ledger.Debit(ctx, p.AccountID, coins)
	if err != nil {
		if errors.Is(err, model.ErrInsufficientFunds) {
			metrics.BetRejections.WithLabelValues("insufficient_funds").Inc()
		}
		return nil, err
	}

	// The debit is committed; finish the bet even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("idea_id", ideaID, "account_id", p.AccountID)

	// 5. Append the stake, re-checking the freeze date on a fresh read.
	bet := model.Bet{
		AccountID: p.AccountID,
		Nickname:  p.Nickname,
		Side:      side,
		Coins:     coins,
		PlacedAt:  now,
	}
	idx, err := e.ideas.AppendStake(ctx, ideaID, bet, e.now())
	if err != nil {
		e.refund(ctx, logger, ideaID, p.AccountID, coins, err)
		return nil, err
	}

	// 6. Audit event. The bet stands even if this fails.
	ev := &model.Event{
		Type:       model.EventBetPlaced,
		AccountID:  p.AccountID,
		IdeaID:     ideaID,
		Side:       model.BoolPtr(side),
		Coins:      model.Amount(coins),
		Balance:    model.Amount(balance),
		StakeIndex: model.IntPtr(idx),
	}
	if err := e.events.AppendEvent(ctx, ev); err != nil {
		metrics.EventWriteFailures.WithLabelValues(model.EventBetPlaced.String()).Inc()
		logger.Error("bet placed but event not recorded",
			"stake_index", idx,
			"coins", coins.String(),
			"error", err,
		)
	}

	metrics.BetsTotal.WithLabelValues(sideLabel).Inc()
	metrics.BetLatency.WithLabelValues(sideLabel).Observe(time.Since(start).Seconds())
	metrics.CoinsStaked.Add(coins.InexactFloat64())

	logger.Info("bet placed",
		"side", side,
		"coins", coins.String(),
		"balance", balance.String(),
		"stake_index", idx,
	)

	return &Receipt{
		IdeaID:     ideaID,
		AccountID:  p.AccountID,
		Side:       side,
		Coins:      coins,
		Balance:    balance,
		StakeIndex: idx,
		EventSeq:   ev.Seq,
		PlacedAt:   now,
	}, nil
}

// refund returns a debit whose stake could not be appended and records it.
func (e *Engine) refund(ctx context.Context, logger *slog.Logger, ideaID, accountID string, coins decimal.Decimal, cause error) {
	metrics.StakeRefunds.Inc()
	if errors.Is(cause, model.ErrIdeaFrozen) {
		metrics.BetRejections.WithLabelValues("frozen").Inc()
	}

	balance, err := e.ledger.Credit(ctx, accountID, coins)
	if err != nil {
		// Coins are now missing from the account; the audit reports the gap.
		logger.Error("failed to refund stake after append failure",
			"coins", coins.String(),
			"append_error", cause,
			"error", err,
		)
		return
	}

	ev := &model.Event{
		Type:      model.EventStakeRefunded,
		AccountID: accountID,
		IdeaID:    ideaID,
		Coins:     model.Amount(coins),
		Balance:   model.Amount(balance),
	}
	if err := e.events.AppendEvent(ctx, ev); err != nil {
		metrics.EventWriteFailures.WithLabelValues(model.EventStakeRefunded.String()).Inc()
		logger.Error("stake refunded but event not recorded", "coins", coins.String(), "error", err)
	}

	logger.Warn("stake refunded after append failure",
		"coins", coins.String(),
		"balance", balance.String(),
		"cause", cause,
	)
}
