package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/wotideas/ideas-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const uniqueViolation = "23505"

// --- Ledger ---

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) (bool, error) {
	if a.Balance.IsNegative() {
		return false, fmt.Errorf("%w: negative initial balance", model.ErrInvalidArgument)
	}
	createdAt := a.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (account_id, nickname, balance, email, confirmed, created_at)
		 VALUES ($1, $2, $3::NUMERIC, NULLIF($4, ''), $5, $6)
		 ON CONFLICT (account_id) DO NOTHING`,
		a.ID, a.Nickname, a.Balance.String(), a.Email, a.Confirmed, createdAt,
	)
	if err != nil {
		return false, fmt.Errorf("create account %s: %w", a.ID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*model.Account, error) {
	var a model.Account
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT account_id, nickname, balance::TEXT, COALESCE(email, ''), confirmed, created_at
		 FROM accounts WHERE account_id = $1`, accountID).
		Scan(&a.ID, &a.Nickname, &balance, &a.Email, &a.Confirmed, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}

	if a.Balance, err = parseNumeric("balance", balance); err != nil {
		return nil, fmt.Errorf("get account %s: %w", accountID, err)
	}
	return &a, nil
}

func (s *PostgresStore) Balance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", accountID, err)
	}
	return parseNumeric("balance", balance)
}

// Debit is a single conditional UPDATE: the funds check and the decrement
// are evaluated by PostgreSQL under the row lock, so racing debits serialize.
func (s *PostgresStore) Debit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var balance string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $2::NUMERIC
		 WHERE account_id = $1 AND balance >= $2::NUMERIC
		 RETURNING balance::TEXT`,
		accountID, amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		// Either the account is missing or the precondition failed.
		if _, err := s.Balance(ctx, accountID); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("%w: debit %s from %s", model.ErrInsufficientFunds, amount, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", accountID, err)
	}
	return parseNumeric("balance", balance)
}

func (s *PostgresStore) Credit(ctx context.Context, accountID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := validAmount(amount); err != nil {
		return decimal.Zero, err
	}

	var balance string
	err := s.pool.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $2::NUMERIC
		 WHERE account_id = $1
		 RETURNING balance::TEXT`,
		accountID, amount.String()).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit %s: %w", accountID, err)
	}
	return parseNumeric("balance", balance)
}

func (s *PostgresStore) SetEmail(ctx context.Context, accountID, email string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET email = $2, confirmed = FALSE WHERE account_id = $1`,
		accountID, email)
	if err != nil {
		return fmt.Errorf("set email %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrAccountNotFound, accountID)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT account_id, nickname, balance::TEXT, COALESCE(email, ''), confirmed, created_at
		 FROM accounts ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		var a model.Account
		var balance string
		if err := rows.Scan(&a.ID, &a.Nickname, &balance, &a.Email, &a.Confirmed, &a.CreatedAt); err != nil {
			return nil, err
		}
		if a.Balance, err = parseNumeric("balance", balance); err != nil {
			return nil, fmt.Errorf("list accounts: %s: %w", a.ID, err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// --- Ideas ---

func (s *PostgresStore) CreateIdea(ctx context.Context, idea *model.Idea) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ideas (id, title, description, freeze_date, close_date, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, FALSE, $6)`,
		idea.ID, idea.Title, idea.Description, idea.FreezeDate, idea.CloseDate, idea.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create idea %s: %w", idea.ID, err)
	}
	return nil
}

const ideaColumns = `id, title, description, freeze_date, close_date,
	resolved, resolution, COALESCE(proof, ''), resolved_at, created_at`

func scanIdea(row pgx.Row) (*model.Idea, error) {
	var idea model.Idea
	if err := row.Scan(&idea.ID, &idea.Title, &idea.Description, &idea.FreezeDate, &idea.CloseDate,
		&idea.Resolved, &idea.Resolution, &idea.Proof, &idea.ResolvedAt, &idea.CreatedAt); err != nil {
		return nil, err
	}
	idea.Stakes = []model.Bet{}
	return &idea, nil
}

func (s *PostgresStore) GetIdea(ctx context.Context, id string) (*model.Idea, error) {
	idea, err := scanIdea(s.pool.QueryRow(ctx,
		`SELECT `+ideaColumns+` FROM ideas WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get idea %s: %w", id, err)
	}

	stakes, err := s.loadStakes(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if bets, ok := stakes[id]; ok {
		idea.Stakes = bets
	}
	return idea, nil
}

// AppendStake locks the idea row, re-checks the freeze date on the fresh
// row and appends at the next position, all in one transaction.
func (s *PostgresStore) AppendStake(ctx context.Context, id string, bet model.Bet, now time.Time) (int, error) {
	if err := validAmount(bet.Coins); err != nil {
		return 0, err
	}

	var position int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var freezeDate time.Time
		var resolved bool
		err := tx.QueryRow(ctx,
			`SELECT freeze_date, resolved FROM ideas WHERE id = $1 FOR UPDATE`, id).
			Scan(&freezeDate, &resolved)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("lock idea %s: %w", id, err)
		}
		if resolved || !now.Before(freezeDate) {
			return fmt.Errorf("%w: %s froze at %s", model.ErrIdeaFrozen, id, freezeDate.Format(time.RFC3339))
		}

		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(position) + 1, 0) FROM stakes WHERE idea_id = $1`, id).
			Scan(&position); err != nil {
			return fmt.Errorf("next stake position %s: %w", id, err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO stakes (idea_id, position, account_id, nickname, side, coins, placed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
			id, position, bet.AccountID, bet.Nickname, bet.Side, bet.Coins.String(), bet.PlacedAt)
		if err != nil {
			return fmt.Errorf("insert stake %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return position, nil
}

func (s *PostgresStore) FinalizeIdea(ctx context.Context, id string, resolution bool, proof string, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ideas SET resolved = TRUE, resolution = $2, proof = $3, resolved_at = $4
		 WHERE id = $1 AND NOT resolved`,
		id, resolution, proof, at)
	if err != nil {
		return fmt.Errorf("finalize idea %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM ideas WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("finalize idea %s: %w", id, err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", model.ErrIdeaNotFound, id)
	}
	return fmt.Errorf("%w: %s", model.ErrAlreadyResolved, id)
}

func (s *PostgresStore) ListIdeas(ctx context.Context, q model.IdeaQuery) ([]model.Idea, error) {
	var args []any
	nowParam := func() string {
		args = append(args, q.Now)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "TRUE"
	switch q.Filter {
	case model.FilterOpen:
		where = "NOT resolved AND " + nowParam() + " < freeze_date"
	case model.FilterFrozen:
		now := nowParam()
		where = "NOT resolved AND freeze_date <= " + now + " AND " + now + " < close_date"
	case model.FilterClosed:
		where = "close_date <= " + nowParam()
	case model.FilterUnclosed:
		where = nowParam() + " < close_date"
	case model.FilterResolved:
		where = "resolved"
	case model.FilterUnresolved:
		where = "NOT resolved"
	}

	orderBy := "created_at"
	switch q.Sort {
	case model.SortFreeze:
		orderBy = "freeze_date"
	case model.SortClose:
		orderBy = "close_date"
	}
	direction := "ASC"
	if q.Descending {
		direction = "DESC"
	}

	query := `SELECT ` + ideaColumns + ` FROM ideas WHERE ` + where +
		fmt.Sprintf(" ORDER BY %s %s, id %s", orderBy, direction, direction)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	var ideas []model.Idea
	var ids []string
	for rows.Next() {
		idea, err := scanIdea(rows)
		if err != nil {
			return nil, err
		}
		ideas = append(ideas, *idea)
		ids = append(ids, idea.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []model.Idea{}, nil
	}

	stakes, err := s.loadStakes(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range ideas {
		if bets, ok := stakes[ideas[i].ID]; ok {
			ideas[i].Stakes = bets
		}
	}
	return ideas, nil
}

// loadStakes returns stakes per idea ID, each in position order.
func (s *PostgresStore) loadStakes(ctx context.Context, ideaIDs []string) (map[string][]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT idea_id, account_id, nickname, side, coins::TEXT, placed_at
		 FROM stakes WHERE idea_id = ANY($1) ORDER BY idea_id, position`, ideaIDs)
	if err != nil {
		return nil, fmt.Errorf("load stakes: %w", err)
	}
	defer rows.Close()

	stakes := make(map[string][]model.Bet)
	for rows.Next() {
		var ideaID, coins string
		var b model.Bet
		if err := rows.Scan(&ideaID, &b.AccountID, &b.Nickname, &b.Side, &coins, &b.PlacedAt); err != nil {
			return nil, err
		}
		if b.Coins, err = parseNumeric("coins", coins); err != nil {
			return nil, fmt.Errorf("load stakes: idea %s: %w", ideaID, err)
		}
		stakes[ideaID] = append(stakes[ideaID], b)
	}
	return stakes, rows.Err()
}

// --- Events ---

func (s *PostgresStore) AppendEvent(ctx context.Context, e *model.Event) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO events (type, account_id, idea_id, side, coins, balance, stake_index,
		                     resolution, proof, email, key, created_at)
		 VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5::NUMERIC, $6::NUMERIC, $7,
		         $8, NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), $12)
		 RETURNING seq`,
		int16(e.Type), e.AccountID, e.IdeaID, e.Side,
		nullNumeric(e.Coins), nullNumeric(e.Balance), e.StakeIndex,
		e.Resolution, e.Proof, e.Email, e.Key, e.CreatedAt,
	).Scan(&e.Seq)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", model.ErrDuplicateEvent, e.Key)
	}
	if err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, f model.EventFilter) ([]model.Event, error) {
	args := []any{f.AfterSeq}
	where := []string{"seq > $1"}

	if len(f.Types) > 0 {
		tags := make([]int16, len(f.Types))
		for i, t := range f.Types {
			tags[i] = int16(t)
		}
		args = append(args, tags)
		where = append(where, fmt.Sprintf("type = ANY($%d)", len(args)))
	}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	if f.IdeaID != "" {
		args = append(args, f.IdeaID)
		where = append(where, fmt.Sprintf("idea_id = $%d", len(args)))
	}

	query := `SELECT seq, type, COALESCE(account_id, ''), COALESCE(idea_id, ''), side,
	                 coins::TEXT, balance::TEXT, stake_index, resolution,
	                 COALESCE(proof, ''), COALESCE(email, ''), COALESCE(key, ''), created_at
	          FROM events WHERE ` + strings.Join(where, " AND ") + ` ORDER BY seq`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var e model.Event
		var typ int16
		var coins, balance *string
		if err := rows.Scan(&e.Seq, &typ, &e.AccountID, &e.IdeaID, &e.Side,
			&coins, &balance, &e.StakeIndex, &e.Resolution,
			&e.Proof, &e.Email, &e.Key, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		if e.Coins, err = parseNullNumeric("coins", coins); err != nil {
			return nil, fmt.Errorf("list events: seq %d: %w", e.Seq, err)
		}
		if e.Balance, err = parseNullNumeric("balance", balance); err != nil {
			return nil, fmt.Errorf("list events: seq %d: %w", e.Seq, err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullNumeric(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNullNumeric(column string, s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := parseNumeric(column, *s)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return model.Amount(d), nil
}

// parseNumeric converts a NUMERIC column read as text.
func parseNumeric(column, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %w", column, err)
	}
	return d, nil
}
