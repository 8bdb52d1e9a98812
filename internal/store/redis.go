package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wotideas/ideas-engine/internal/model"
)

// CachedIdeas wraps a primary Ideas store (PostgreSQL) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Only reads are served from cache. AppendStake re-checks the freeze date on
// the primary's fresh row, never on a cached copy.
type CachedIdeas struct {
	primary Ideas
	rdb     redis.Cmdable
	ttl     time.Duration
}

// NewCachedIdeas creates a cached wrapper around a primary idea store.
func NewCachedIdeas(primary Ideas, rdb redis.Cmdable, ttl time.Duration) *CachedIdeas {
	return &CachedIdeas{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedIdeas) CreateIdea(ctx context.Context, idea *model.Idea) error {
	if err := s.primary.CreateIdea(ctx, idea); err != nil {
		return err
	}
	s.cacheIdea(ctx, idea)
	return nil
}

func (s *CachedIdeas) AppendStake(ctx context.Context, id string, bet model.Bet, now time.Time) (int, error) {
	idx, err := s.primary.AppendStake(ctx, id, bet, now)
	if err != nil {
		return 0, err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, ideaKey(id))
	return idx, nil
}

func (s *CachedIdeas) FinalizeIdea(ctx context.Context, id string, resolution bool, proof string, at time.Time) error {
	// Invalidate even on failure: AlreadyResolved means the cached copy is stale.
	defer s.rdb.Del(ctx, ideaKey(id))
	return s.primary.FinalizeIdea(ctx, id, resolution, proof, at)
}

// --- Read-through (check cache first) ---

func (s *CachedIdeas) GetIdea(ctx context.Context, id string) (*model.Idea, error) {
	data, err := s.rdb.Get(ctx, ideaKey(id)).Bytes()
	if err == nil {
		var idea model.Idea
		if json.Unmarshal(data, &idea) == nil {
			return &idea, nil
		}
	}

	// Cache miss: read from primary.
	idea, err := s.primary.GetIdea(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheIdea(ctx, idea)
	return idea, nil
}

// Consistent returns a view that reads ideas from the primary store and
// still invalidates the cache on writes. Settlement uses it: a read that
// races a stake append can repopulate the cache with a copy missing that
// stake.
func (s *CachedIdeas) Consistent() Ideas {
	return consistentIdeas{s}
}

type consistentIdeas struct {
	*CachedIdeas
}

func (c consistentIdeas) GetIdea(ctx context.Context, id string) (*model.Idea, error) {
	return c.primary.GetIdea(ctx, id)
}

// --- Passthrough (not cached) ---

func (s *CachedIdeas) ListIdeas(ctx context.Context, q model.IdeaQuery) ([]model.Idea, error) {
	return s.primary.ListIdeas(ctx, q)
}

// --- Cache helpers ---

func (s *CachedIdeas) cacheIdea(ctx context.Context, idea *model.Idea) {
	if data, err := json.Marshal(idea); err == nil {
		s.rdb.Set(ctx, ideaKey(idea.ID), data, s.ttl)
	}
}

func ideaKey(id string) string { return fmt.Sprintf("idea:%s", id) }
