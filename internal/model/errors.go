package model

import (
	"errors"
	"fmt"
)

// Failure kinds reported by the settlement core. Callers match them with
// errors.Is; specific errors below wrap one of these kinds.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrNotFound             = errors.New("not found")
	ErrIdeaFrozen           = errors.New("idea is frozen")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAlreadyResolved      = errors.New("idea already resolved")
	ErrResolutionInProgress = errors.New("resolution already in progress")
	ErrDuplicateEvent       = errors.New("event with this key already recorded")
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrForbidden            = errors.New("forbidden")
)

var (
	ErrAccountNotFound        = fmt.Errorf("account %w", ErrNotFound)
	ErrIdeaNotFound           = fmt.Errorf("idea %w", ErrNotFound)
	ErrInvalidAmount          = fmt.Errorf("%w: coins must be positive", ErrInvalidArgument)
	ErrInvalidIdea            = fmt.Errorf("%w: invalid idea", ErrInvalidArgument)
	ErrEmptyProof             = fmt.Errorf("%w: proof must not be empty", ErrInvalidArgument)
	ErrIdeaNotClosed          = fmt.Errorf("%w: idea is not closed yet", ErrInvalidArgument)
	ErrStakeLimitExceeded     = fmt.Errorf("%w: stake limit exceeded", ErrInvalidArgument)
	ErrNoResolutionInProgress = fmt.Errorf("%w: no resolution in progress", ErrInvalidArgument)
)
