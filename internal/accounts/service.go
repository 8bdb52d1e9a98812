// Package accounts handles sign-in and profile changes. Every balance an
// account starts with is recorded as an InitialBalanceSet event so the
// audit can explain the whole ledger.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
	"github.com/wotideas/ideas-engine/internal/store"
)

// Session is the result of a login.
type Session struct {
	Account *model.Account `json:"account"`
	Created bool           `json:"created"`
}

// Service signs accounts in and updates their profile.
type Service struct {
	ledger   store.Ledger
	events   store.Events
	starting decimal.Decimal
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService creates an account service. New accounts receive starting coins.
func NewService(ledger store.Ledger, events store.Events, starting decimal.Decimal, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:   ledger,
		events:   events,
		starting: starting,
		validate: validator.New(),
		logger:   logger,
	}
}

func initialBalanceKey(accountID string) string { return "initial-balance:" + accountID }

// Login creates the account on first sight and records the sign-in.
func (s *Service) Login(ctx context.Context, accountID, nickname string) (*Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id required", model.ErrInvalidArgument)
	}

	created, err := s.ledger.CreateAccount(ctx, &model.Account{
		ID:       accountID,
		Nickname: nickname,
		Balance:  s.starting,
	})
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	if created {
		err := s.events.AppendEvent(ctx, &model.Event{
			Type:      model.EventInitialBalanceSet,
			AccountID: accountID,
			Coins:     model.Amount(s.starting),
			Balance:   model.Amount(s.starting),
			Key:       initialBalanceKey(accountID),
		})
		if err != nil && !errors.Is(err, model.ErrDuplicateEvent) {
			s.logger.Error("account created but initial balance not recorded", "account_id", accountID, "error", err)
		}
		s.logger.Info("account created", "account_id", accountID, "balance", s.starting.String())
	}

	if err := s.events.AppendEvent(ctx, &model.Event{Type: model.EventLoggedIn, AccountID: accountID}); err != nil {
		s.logger.Warn("login not recorded", "account_id", accountID, "error", err)
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &Session{Account: account, Created: created}, nil
}

// SetEmail stores an unconfirmed address and records an EmailSet event.
func (s *Service) SetEmail(ctx context.Context, accountID, email string) error {
	email = strings.TrimSpace(email)
	if err := s.validate.Var(email, "required,email"); err != nil {
		return fmt.Errorf("%w: invalid email address", model.ErrInvalidArgument)
	}
	if err := s.ledger.SetEmail(ctx, accountID, email); err != nil {
		return err
	}
	if err := s.events.AppendEvent(ctx, &model.Event{
		Type:      model.EventEmailSet,
		AccountID: accountID,
		Email:     email,
	}); err != nil {
		s.logger.Warn("email set but event not recorded", "account_id", accountID, "error", err)
	}
	return nil
}

// Balance returns the account's current balance.
func (s *Service) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, accountID)
}

// History returns the account's own events, oldest first.
func (s *Service) History(ctx context.Context, accountID string, types []model.EventType, limit int) ([]model.Event, error) {
	events, err := s.events.ListEvents(ctx, model.EventFilter{
		AccountID: accountID,
		Types:     types,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return events, nil
}
