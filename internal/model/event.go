package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventType identifies what an audit event records. The numeric tags are a
// stable wire format: they are persisted and consumed by history queries,
// so existing values must never be renumbered.
type EventType int16

const (
	EventLoggedIn           EventType = 1
	EventInitialBalanceSet  EventType = 2
	EventBetPlaced          EventType = 3
	EventResolutionStarted  EventType = 4
	EventResolutionFinished EventType = 5
	EventPrizePaid          EventType = 6
	EventEmailSet           EventType = 7
	EventStakeRefunded      EventType = 8
)

var eventTypeNames = map[EventType]string{
	EventLoggedIn:           "LoggedIn",
	EventInitialBalanceSet:  "InitialBalanceSet",
	EventBetPlaced:          "BetPlaced",
	EventResolutionStarted:  "ResolutionStarted",
	EventResolutionFinished: "ResolutionFinished",
	EventPrizePaid:          "PrizePaid",
	EventEmailSet:           "EmailSet",
	EventStakeRefunded:      "StakeRefunded",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("EventType(%d)", int16(t))
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	_, ok := eventTypeNames[t]
	return ok
}

// ParseEventType accepts either the name ("BetPlaced") or the numeric tag ("3").
func ParseEventType(s string) (EventType, error) {
	for t, name := range eventTypeNames {
		if name == s || fmt.Sprint(int16(t)) == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown event type %q", ErrInvalidArgument, s)
}

func (t EventType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *EventType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n int16
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		*t = EventType(n)
		return nil
	}
	parsed, err := ParseEventType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Event is an immutable audit record. Seq is assigned by the event log on
// append and orders all events; wall-clock time is informational only.
// Schema: {seq, type, account_id?, idea_id?, coins?, balance?, ...}
type Event struct {
	Seq        int64               `json:"seq" db:"seq"`
	Type       EventType           `json:"type" db:"type"`
	AccountID  string              `json:"account_id,omitempty" db:"account_id"`
	IdeaID     string              `json:"idea_id,omitempty" db:"idea_id"`
	Side       *bool               `json:"side,omitempty" db:"side"`
	Coins      decimal.NullDecimal `json:"coins" db:"coins"`
	Balance    decimal.NullDecimal `json:"balance" db:"balance"` // resulting balance after the change
	StakeIndex *int                `json:"stake_index,omitempty" db:"stake_index"`
	Resolution *bool               `json:"resolution,omitempty" db:"resolution"`
	Proof      string              `json:"proof,omitempty" db:"proof"`
	Email      string              `json:"email,omitempty" db:"email"`
	Key        string              `json:"key,omitempty" db:"key"` // idempotency key, unique when set
	CreatedAt  time.Time           `json:"created_at" db:"created_at"`
}

// EventFilter selects events from the log. Zero values mean "any".
// Results are always in ascending seq order.
type EventFilter struct {
	Types     []EventType
	AccountID string
	IdeaID    string
	AfterSeq  int64
	Limit     int
}

// Matches reports whether e passes the filter (ignoring Limit).
func (f EventFilter) Matches(e *Event) bool {
	if e.Seq <= f.AfterSeq {
		return false
	}
	if f.AccountID != "" && e.AccountID != f.AccountID {
		return false
	}
	if f.IdeaID != "" && e.IdeaID != f.IdeaID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Amount wraps a decimal as a present NullDecimal.
func Amount(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool { return &b }

// IntPtr returns a pointer to i.
func IntPtr(i int) *int { return &i }

// Idempotency keys used by settlement.
func ResolutionStartedKey(ideaID string) string  { return "resolution-started:" + ideaID }
func ResolutionFinishedKey(ideaID string) string { return "resolution-finished:" + ideaID }
func PrizeKey(ideaID string, stakeIndex int) string {
	return fmt.Sprintf("prize:%s:%d", ideaID, stakeIndex)
}
