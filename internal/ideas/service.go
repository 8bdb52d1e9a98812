// Package ideas manages idea creation and listing on top of store.Ideas.
package ideas

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// NewIdea is the input for creating an idea.
type NewIdea struct {
	Title       string    `json:"title" validate:"required,max=200"`
	Description []string  `json:"description" validate:"required,min=1,dive,required"`
	FreezeDate  time.Time `json:"freeze_date" validate:"required"`
	CloseDate   time.Time `json:"close_date" validate:"required"`
}

// Service creates, reads and lists ideas.
type Service struct {
	store    store.Ideas
	validate *validator.Validate
	now      func() time.Time
	logger   *slog.Logger
}

// NewService creates an idea service. A nil logger falls back to slog.Default.
func NewService(s store.Ideas, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
}

// WithClock replaces the service's time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Create validates and stores a new idea, returning its id.
func (s *Service) Create(ctx context.Context, in NewIdea) (string, error) {
	in.Title = strings.TrimSpace(in.Title)
	desc := make([]string, len(in.Description))
	for i, p := range in.Description {
		desc[i] = strings.TrimSpace(p)
	}
	in.Description = desc

	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return "", fmt.Errorf("%w: field %s failed %q", model.ErrInvalidIdea, verrs[0].Namespace(), verrs[0].Tag())
		}
		return "", fmt.Errorf("%w: %v", model.ErrInvalidIdea, err)
	}

	now := s.now()
	if !in.FreezeDate.After(now) {
		return "", fmt.Errorf("%w: freeze date must be in the future", model.ErrInvalidIdea)
	}
	if !in.CloseDate.After(now) {
		return "", fmt.Errorf("%w: close date must be in the future", model.ErrInvalidIdea)
	}
	if in.CloseDate.Before(in.FreezeDate) {
		return "", fmt.Errorf("%w: close date precedes freeze date", model.ErrInvalidIdea)
	}

	idea := &model.Idea{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		FreezeDate:  in.FreezeDate.UTC(),
		CloseDate:   in.CloseDate.UTC(),
		Stakes:      []model.Bet{},
		CreatedAt:   now,
	}
	if err := s.store.CreateIdea(ctx, idea); err != nil {
		return "", fmt.Errorf("create idea: %w", err)
	}

	s.logger.Info("idea created",
		"idea_id", idea.ID,
		"freeze_date", idea.FreezeDate,
		"close_date", idea.CloseDate,
	)
	return idea.ID, nil
}

// Get returns the idea with its stakes.
func (s *Service) Get(ctx context.Context, id string) (*model.Idea, error) {
	return s.store.GetIdea(ctx, id)
}

// List normalizes the query and returns the matching page of ideas.
// Now defaults to the service clock.
func (s *Service) List(ctx context.Context, q model.IdeaQuery) ([]model.Idea, error) {
	switch q.Filter {
	case "":
		q.Filter = model.FilterAll
	case model.FilterAll, model.FilterOpen, model.FilterFrozen, model.FilterClosed,
		model.FilterUnclosed, model.FilterResolved, model.FilterUnresolved:
	default:
		return nil, fmt.Errorf("%w: unknown filter %q", model.ErrInvalidArgument, q.Filter)
	}

	switch q.Sort {
	case "":
		q.Sort = model.SortCreated
	case model.SortCreated, model.SortFreeze, model.SortClose:
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", model.ErrInvalidArgument, q.Sort)
	}

	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	if q.Now.IsZero() {
		q.Now = s.now()
	}

	ideas, err := s.store.ListIdeas(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	if ideas == nil {
		ideas = []model.Idea{}
	}
	return ideas, nil
}
