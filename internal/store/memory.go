package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Each method holds the mutex for its own duration only, which makes every
// call one atomic operation, the same guarantee a single SQL statement gives.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	ideas    map[string]*model.Idea
	events   []model.Event
	keys     map[string]struct{}
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		ideas:    make(map[string]*model.Idea),
		keys:     make(map[string]struct{}),
	}
}

// --- Ledger ---

func (s *MemoryStore) CreateAccount(_ context.Context, a *model.Account) (bool, error) {
	if a.Balance.IsNegative() {
		return false, fmt.Errorf("%w: negative initial balance", model.ErrInvalidArgument)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[a.ID]; ok {
		return false, nil
	}
	copy := *a
	s.accounts[a.ID] = &copy
	return true, nil
}

func (s *MemoryStore) GetAccount(_ context.Context, accountID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	copy := *a
	return &copy, nil
}

func (s *MemoryStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

func (s *MemoryStore) Debit(_ context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if a.Balance.LessThan(amount) {
		return decimal.Zero, fmt.Errorf("%w: balance %s, debit %s", model.ErrInsufficientFunds, a.Balance, amount)
	}
	a.Balance = a.Balance.Sub(amount)
	return a.Balance, nil
}

func (s *MemoryStore) Credit(_ context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	a.Balance = a.Balance.Add(amount)
	return a.Balance, nil
}

func (s *MemoryStore) SetEmail(_ context.Context, accountID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	a.Email = email
	a.Confirmed = false
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i].ID < accounts[j].ID })
	return accounts, nil
}

// --- Ideas ---

func (s *MemoryStore) CreateIdea(_ context.Context, idea *model.Idea) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ideas[idea.ID]; ok {
		return fmt.Errorf("idea %s already exists", idea.ID)
	}
	s.ideas[idea.ID] = cloneIdea(idea)
	return nil
}

func (s *MemoryStore) GetIdea(_ context.Context, id string) (*model.Idea, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idea, ok := s.ideas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
	}
	return cloneIdea(idea), nil
}

func (s *MemoryStore) AppendStake(_ context.Context, id string, bet model.Bet, now time.Time) (int, error) {
	if err := validAmount(bet.Coins); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	idea, ok := s.ideas[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
	}
	if !idea.AcceptsStakes(now) {
		return 0, fmt.Errorf("%w: %s froze at %s", model.ErrIdeaFrozen, id, idea.FreezeDate.Format(time.RFC3339))
	}
	idea.Stakes = append(idea.Stakes, bet)
	return len(idea.Stakes) - 1, nil
}

func (s *MemoryStore) FinalizeIdea(_ context.Context, id string, resolution bool, proof string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idea, ok := s.ideas[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
	}
	if idea.Resolved {
		return fmt.Errorf("%w: %s", model.ErrAlreadyResolved, id)
	}
	idea.Resolved = true
	idea.Resolution = model.BoolPtr(resolution)
	idea.Proof = proof
	idea.ResolvedAt = &at
	return nil
}

func (s *MemoryStore) ListIdeas(_ context.Context, q model.IdeaQuery) ([]model.Idea, error) {
	s.mu.RLock()
	var ideas []model.Idea
	for _, idea := range s.ideas {
		if q.Matches(idea) {
			ideas = append(ideas, *cloneIdea(idea))
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(ideas, func(i, j int) bool {
		a, b := sortKey(&ideas[i], q.Sort), sortKey(&ideas[j], q.Sort)
		if a.Equal(b) {
			return ideas[i].ID < ideas[j].ID
		}
		if q.Descending {
			return a.After(b)
		}
		return a.Before(b)
	})

	if q.Offset >= len(ideas) {
		return []model.Idea{}, nil
	}
	ideas = ideas[q.Offset:]
	if q.Limit > 0 && q.Limit < len(ideas) {
		ideas = ideas[:q.Limit]
	}
	return ideas, nil
}

func sortKey(idea *model.Idea, by model.IdeaSort) time.Time {
	switch by {
	case model.SortFreeze:
		return idea.FreezeDate
	case model.SortClose:
		return idea.CloseDate
	default:
		return idea.CreatedAt
	}
}

// cloneIdea deep-copies an idea so callers never share slices with the store.
func cloneIdea(idea *model.Idea) *model.Idea {
	copy := *idea
	copy.Description = append([]string(nil), idea.Description...)
	copy.Stakes = append([]model.Bet(nil), idea.Stakes...)
	if idea.Resolution != nil {
		copy.Resolution = model.BoolPtr(*idea.Resolution)
	}
	if idea.ResolvedAt != nil {
		at := *idea.ResolvedAt
		copy.ResolvedAt = &at
	}
	return &copy
}

// --- Events ---

func (s *MemoryStore) AppendEvent(_ context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Key != "" {
		if _, dup := s.keys[e.Key]; dup {
			return fmt.Errorf("%w: %s", model.ErrDuplicateEvent, e.Key)
		}
		s.keys[e.Key] = struct{}{}
	}
	e.Seq = int64(len(s.events)) + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, *e)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f model.EventFilter) ([]model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Event
	for i := range s.events {
		if !f.Matches(&s.events[i]) {
			continue
		}
		result = append(result, s.events[i])
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}
