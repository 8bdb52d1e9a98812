// Package resolution settles ideas: it fixes the outcome, pays the
// pari-mutuel prizes and records every step in the event log.
//
// Each step is its own store operation. Idempotency keys on the events
// ("resolution-started:<idea>", "prize:<idea>:<stake>",
// "resolution-finished:<idea>") make a second resolver fail fast and let an
// interrupted resolution be completed later with Resume.
package resolution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/wotideas/ideas-engine/internal/auth"
	"github.com/wotideas/ideas-engine/internal/metrics"
	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/parimutuel"
	"github.com/wotideas/ideas-engine/internal/store"
)

// Engine resolves ideas.
type Engine struct {
	ledger store.Ledger
	ideas  store.Ideas
	events store.Events
	policy parimutuel.VoidPolicy
	now    func() time.Time
	logger *slog.Logger
}

// NewEngine creates a resolution engine. An empty policy means retain.
func NewEngine(s store.Store, policy parimutuel.VoidPolicy, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == "" {
		policy = parimutuel.VoidRetain
	}
	return &Engine{
		ledger: s,
		ideas:  s,
		events: s,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// WithClock replaces the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Resolve fixes the outcome of a closed idea and pays its prizes.
func (e *Engine) Resolve(ctx context.Context, p auth.Principal, ideaID string, resolution bool, proof string) ([]model.Prize, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return nil, model.ErrEmptyProof
	}

	idea, err := e.ideas.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if idea.Resolved {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyResolved, ideaID)
	}
	finished, _, err := e.progress(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if finished {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyResolved, ideaID)
	}
	now := e.now()
	if now.Before(idea.CloseDate) {
		return nil, fmt.Errorf("%w: %s closes at %s", model.ErrIdeaNotClosed, ideaID, idea.CloseDate.Format(time.RFC3339))
	}

	started := &model.Event{
		Type:       model.EventResolutionStarted,
		AccountID:  p.AccountID,
		IdeaID:     ideaID,
		Resolution: model.BoolPtr(resolution),
		Proof:      proof,
		Key:        model.ResolutionStartedKey(ideaID),
	}
	if err := e.events.AppendEvent(ctx, started); err != nil {
		if errors.Is(err, model.ErrDuplicateEvent) {
			return nil, fmt.Errorf("%w: %s", model.ErrResolutionInProgress, ideaID)
		}
		return nil, fmt.Errorf("record resolution start: %w", err)
	}

	// From here on the resolution is committed to; finish it regardless of the caller.
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("idea_id", ideaID, "resolution", resolution)
	logger.Info("resolution started", "stakes", len(idea.Stakes), "admin", p.AccountID)

	prizes := parimutuel.Distribute(idea.Stakes, resolution, e.policy)
	paid, err := e.pay(ctx, logger, ideaID, prizes)
	if err != nil {
		return nil, err
	}
	if err := e.ideas.FinalizeIdea(ctx, ideaID, resolution, proof, now); err != nil {
		return nil, fmt.Errorf("finalize idea %s: %w", ideaID, err)
	}
	e.finish(ctx, logger, ideaID, resolution, prizes)
	return paid, nil
}

// Resume completes a resolution that was started but never finished,
// paying only the stakes that have no PrizePaid event yet. It returns the
// prizes paid by this call.
func (e *Engine) Resume(ctx context.Context, p auth.Principal, ideaID string) ([]model.Prize, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}

	finished, started, err := e.progress(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	if finished {
		return nil, fmt.Errorf("%w: %s", model.ErrAlreadyResolved, ideaID)
	}
	if started == nil || started.Resolution == nil {
		return nil, fmt.Errorf("%w: %s", model.ErrNoResolutionInProgress, ideaID)
	}
	resolution := *started.Resolution

	idea, err := e.ideas.GetIdea(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	paid, err := e.paidStakes(ctx, ideaID)
	if err != nil {
		return nil, err
	}

	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("idea_id", ideaID, "resolution", resolution)
	logger.Info("resuming resolution", "already_paid", len(paid), "admin", p.AccountID)

	all := parimutuel.Distribute(idea.Stakes, resolution, e.policy)
	var pending []model.Prize
	for _, prize := range all {
		if _, ok := paid[prize.StakeIndex]; !ok {
			pending = append(pending, prize)
		}
	}

	paidNow, err := e.pay(ctx, logger, ideaID, pending)
	if err != nil {
		return nil, err
	}
	err = e.ideas.FinalizeIdea(ctx, ideaID, resolution, started.Proof, e.now())
	if err != nil && !errors.Is(err, model.ErrAlreadyResolved) {
		return nil, fmt.Errorf("finalize idea %s: %w", ideaID, err)
	}
	e.finish(ctx, logger, ideaID, resolution, all)
	return paidNow, nil
}

// pay credits each prize and records a PrizePaid event keyed by stake index,
// returning the prizes this call paid. A failed credit stops settlement; the
// resolution stays in progress. If another resolver recorded the same prize
// first, the credit is taken back.
func (e *Engine) pay(ctx context.Context, logger *slog.Logger, ideaID string, prizes []model.Prize) ([]model.Prize, error) {
	paid := make([]model.Prize, 0, len(prizes))
	for _, prize := range prizes {
		if !prize.Coins.IsPositive() {
			logger.Warn("skipping empty prize", "stake_index", prize.StakeIndex, "account_id", prize.AccountID)
			continue
		}

		balance, err := e.ledger.Credit(ctx, prize.AccountID, prize.Coins)
		if err != nil {
			logger.Error("prize credit failed; resolution left in progress",
				"stake_index", prize.StakeIndex,
				"account_id", prize.AccountID,
				"coins", prize.Coins.String(),
				"error", err,
			)
			return nil, fmt.Errorf("credit prize for stake %d: %w", prize.StakeIndex, err)
		}

		ev := &model.Event{
			Type:       model.EventPrizePaid,
			AccountID:  prize.AccountID,
			IdeaID:     ideaID,
			Coins:      model.Amount(prize.Coins),
			Balance:    model.Amount(balance),
			StakeIndex: model.IntPtr(prize.StakeIndex),
			Key:        model.PrizeKey(ideaID, prize.StakeIndex),
		}
		err = e.events.AppendEvent(ctx, ev)
		if errors.Is(err, model.ErrDuplicateEvent) {
			e.revert(ctx, logger, prize)
			continue
		}
		metrics.PrizesPaid.Add(prize.Coins.InexactFloat64())
		paid = append(paid, prize)
		if err != nil {
			metrics.EventWriteFailures.WithLabelValues(model.EventPrizePaid.String()).Inc()
			logger.Error("prize credited but event not recorded",
				"stake_index", prize.StakeIndex,
				"account_id", prize.AccountID,
				"coins", prize.Coins.String(),
				"error", err,
			)
			continue
		}

		logger.Debug("prize paid",
			"stake_index", prize.StakeIndex,
			"account_id", prize.AccountID,
			"coins", prize.Coins.String(),
			"refund", prize.Refund,
			"balance", balance.String(),
		)
	}
	return paid, nil
}

// revert takes back a prize credit whose PrizePaid key was already recorded
// by a concurrent resolver.
func (e *Engine) revert(ctx context.Context, logger *slog.Logger, prize model.Prize) {
	metrics.DuplicatePrizes.Inc()
	if _, err := e.ledger.Debit(ctx, prize.AccountID, prize.Coins); err != nil {
		logger.Error("prize paid twice and could not be taken back",
			"stake_index", prize.StakeIndex,
			"account_id", prize.AccountID,
			"coins", prize.Coins.String(),
			"error", err,
		)
		return
	}
	logger.Warn("prize already paid by another resolver, credit reverted",
		"stake_index", prize.StakeIndex,
		"account_id", prize.AccountID,
		"coins", prize.Coins.String(),
	)
}

// finish records ResolutionFinished. The idea is already final, so a
// failure is logged and left for Resume.
func (e *Engine) finish(ctx context.Context, logger *slog.Logger, ideaID string, resolution bool, prizes []model.Prize) {
	ev := &model.Event{
		Type:       model.EventResolutionFinished,
		IdeaID:     ideaID,
		Resolution: model.BoolPtr(resolution),
		Coins:      model.Amount(parimutuel.Total(prizes)),
		Key:        model.ResolutionFinishedKey(ideaID),
	}
	if err := e.events.AppendEvent(ctx, ev); err != nil && !errors.Is(err, model.ErrDuplicateEvent) {
		metrics.EventWriteFailures.WithLabelValues(model.EventResolutionFinished.String()).Inc()
		logger.Error("idea resolved but finish event not recorded", "error", err)
		return
	}

	metrics.ResolutionsTotal.WithLabelValues(strconv.FormatBool(resolution)).Inc()
	logger.Info("resolution finished",
		"prizes", len(prizes),
		"paid", parimutuel.Total(prizes).String(),
	)
}

// progress reports whether the idea has a ResolutionFinished event and
// returns its ResolutionStarted event, if any.
func (e *Engine) progress(ctx context.Context, ideaID string) (bool, *model.Event, error) {
	events, err := e.events.ListEvents(ctx, model.EventFilter{
		IdeaID: ideaID,
		Types:  []model.EventType{model.EventResolutionStarted, model.EventResolutionFinished},
	})
	if err != nil {
		return false, nil, fmt.Errorf("read resolution events: %w", err)
	}

	var finished bool
	var started *model.Event
	for i := range events {
		switch events[i].Type {
		case model.EventResolutionFinished:
			finished = true
		case model.EventResolutionStarted:
			if started == nil {
				started = &events[i]
			}
		}
	}
	return finished, started, nil
}

func (e *Engine) paidStakes(ctx context.Context, ideaID string) (map[int]struct{}, error) {
	events, err := e.events.ListEvents(ctx, model.EventFilter{
		IdeaID: ideaID,
		Types:  []model.EventType{model.EventPrizePaid},
	})
	if err != nil {
		return nil, fmt.Errorf("read prize events: %w", err)
	}
	paid := make(map[int]struct{}, len(events))
	for _, ev := range events {
		if ev.StakeIndex != nil {
			paid[*ev.StakeIndex] = struct{}{}
		}
	}
	return paid, nil
}

func requireAdmin(p auth.Principal) error {
	if p.AccountID == "" {
		return model.ErrUnauthenticated
	}
	if !p.Admin {
		return fmt.Errorf("%w: %s may not resolve ideas", model.ErrForbidden, p.AccountID)
	}
	return nil
}
