package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wagerhall/betledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Balances are BIGINT currency units; every multi-row mutation runs in a
// single transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	server_id TEXT   NOT NULL,
	user_id   TEXT   NOT NULL,
	balance   BIGINT NOT NULL CHECK (balance >= 0),
	PRIMARY KEY (server_id, user_id)
);

CREATE TABLE IF NOT EXISTS bets (
	server_id   TEXT    NOT NULL,
	bet_id      TEXT    NOT NULL,
	is_open     BOOLEAN NOT NULL DEFAULT TRUE,
	description TEXT    NOT NULL DEFAULT '',
	PRIMARY KEY (server_id, bet_id)
);

CREATE TABLE IF NOT EXISTS options (
	server_id   TEXT NOT NULL,
	option_id   TEXT NOT NULL,
	bet_id      TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	ordinal     INT  NOT NULL DEFAULT 0,
	PRIMARY KEY (server_id, option_id),
	FOREIGN KEY (server_id, bet_id) REFERENCES bets (server_id, bet_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS wagers (
	server_id TEXT   NOT NULL,
	option_id TEXT   NOT NULL,
	user_id   TEXT   NOT NULL,
	amount    BIGINT NOT NULL CHECK (amount > 0),
	PRIMARY KEY (server_id, option_id, user_id),
	FOREIGN KEY (server_id, option_id) REFERENCES options (server_id, option_id) ON DELETE CASCADE,
	FOREIGN KEY (server_id, user_id) REFERENCES accounts (server_id, user_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS bet_tombstones (
	server_id TEXT NOT NULL,
	bet_id    TEXT NOT NULL,
	PRIMARY KEY (server_id, bet_id),
	FOREIGN KEY (server_id, bet_id) REFERENCES bets (server_id, bet_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS options_bet_idx ON options (server_id, bet_id);
CREATE INDEX IF NOT EXISTS wagers_user_idx ON wagers (server_id, user_id);
`

// EnsureSchema creates the ledger tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// mapErr translates driver errors into the store taxonomy: unique-constraint
// violations become ErrAlreadyExists, empty result sets become ErrNotFound.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *PostgresStore) CreateAccount(ctx context.Context, server, user string, balance int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO accounts (server_id, user_id, balance) VALUES ($1, $2, $3)`,
		server, user, balance)
	return mapErr(err)
}

func (s *PostgresStore) Balance(ctx context.Context, server, user string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE server_id = $1 AND user_id = $2`,
		server, user).Scan(&balance)
	return balance, mapErr(err)
}

func (s *PostgresStore) AddIncome(ctx context.Context, amount int64) ([]model.AccountUpdate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`UPDATE accounts SET balance = balance + $1
		 RETURNING server_id, user_id, balance`, amount)
	if err != nil {
		return nil, err
	}

	var updates []model.AccountUpdate
	for rows.Next() {
		u := model.AccountUpdate{Diff: amount}
		if err := rows.Scan(&u.Server, &u.User, &u.Balance); err != nil {
			rows.Close()
			return nil, err
		}
		updates = append(updates, u)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return updates, tx.Commit(ctx)
}

func (s *PostgresStore) ResetServer(ctx context.Context, server string, balance int64) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Deleting the bets cascades through options, wagers and tombstones.
	if _, err := tx.Exec(ctx,
		`DELETE FROM bets WHERE server_id = $1`, server); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $1 WHERE server_id = $2`,
		balance, server); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) AccountStatuses(ctx context.Context, server string) ([]model.AccountStatus, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.user_id, a.balance, COALESCE(SUM(w.amount), 0)
		 FROM accounts a
		 LEFT JOIN wagers w ON w.server_id = a.server_id AND w.user_id = a.user_id
		 WHERE a.server_id = $1
		 GROUP BY a.user_id, a.balance
		 ORDER BY a.user_id`, server)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var statuses []model.AccountStatus
	for rows.Next() {
		var st model.AccountStatus
		if err := rows.Scan(&st.User, &st.Balance, &st.InBet); err != nil {
			return nil, err
		}
		statuses = append(statuses, st)
	}
	return statuses, rows.Err()
}

func (s *PostgresStore) CreateBet(ctx context.Context, bet *model.Bet, options []model.Option) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO bets (server_id, bet_id, is_open, description)
		 VALUES ($1, $2, $3, $4)`,
		bet.Server, bet.ID, bet.IsOpen, bet.Description); err != nil {
		return mapErr(err)
	}
	for i, opt := range options {
		if _, err := tx.Exec(ctx,
			`INSERT INTO options (server_id, option_id, bet_id, description, ordinal)
			 VALUES ($1, $2, $3, $4, $5)`,
			opt.Server, opt.ID, opt.BetID, opt.Description, i); err != nil {
			return mapErr(err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) BetOfOption(ctx context.Context, server, optionID string) (string, error) {
	var betID string
	err := s.pool.QueryRow(ctx,
		`SELECT bet_id FROM options WHERE server_id = $1 AND option_id = $2`,
		server, optionID).Scan(&betID)
	return betID, mapErr(err)
}

func (s *PostgresStore) GetBet(ctx context.Context, server, betID string) (*model.Bet, error) {
	bet := model.Bet{Server: server, ID: betID}
	err := s.pool.QueryRow(ctx,
		`SELECT is_open, description FROM bets WHERE server_id = $1 AND bet_id = $2`,
		server, betID).Scan(&bet.IsOpen, &bet.Description)
	if err != nil {
		return nil, mapErr(err)
	}
	return &bet, nil
}

func (s *PostgresStore) LockBet(ctx context.Context, server, betID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE bets SET is_open = FALSE WHERE server_id = $1 AND bet_id = $2`,
		server, betID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) BetSnapshot(ctx context.Context, server, betID string) (*model.BetStatus, error) {
	status := model.BetStatus{Bet: betID}
	err := s.pool.QueryRow(ctx,
		`SELECT description, is_open FROM bets WHERE server_id = $1 AND bet_id = $2`,
		server, betID).Scan(&status.Desc, &status.IsOpen)
	if err != nil {
		return nil, mapErr(err)
	}

	// One pass over options and wagers, options in creation order and
	// wagers in user order so snapshots are deterministic.
	rows, err := s.pool.Query(ctx,
		`SELECT o.option_id, o.description, w.user_id, w.amount
		 FROM options o
		 LEFT JOIN wagers w ON w.server_id = o.server_id AND w.option_id = o.option_id
		 WHERE o.server_id = $1 AND o.bet_id = $2
		 ORDER BY o.ordinal, w.user_id`, server, betID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			optionID, desc string
			user           *string
			amount         *int64
		)
		if err := rows.Scan(&optionID, &desc, &user, &amount); err != nil {
			return nil, err
		}
		n := len(status.Options)
		if n == 0 || status.Options[n-1].Option != optionID {
			status.Options = append(status.Options, model.OptionStatus{
				Option: optionID,
				Desc:   desc,
			})
			n++
		}
		if user != nil {
			status.Options[n-1].Wagers = append(status.Options[n-1].Wagers, model.Wager{
				Server:   server,
				OptionID: optionID,
				User:     *user,
				Amount:   *amount,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &status, nil
}

func (s *PostgresStore) UserWagers(ctx context.Context, server, betID, user string) ([]model.Wager, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT w.option_id, w.amount
		 FROM wagers w
		 JOIN options o ON o.server_id = w.server_id AND o.option_id = w.option_id
		 WHERE w.server_id = $1 AND o.bet_id = $2 AND w.user_id = $3
		 ORDER BY o.ordinal`, server, betID, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var wagers []model.Wager
	for rows.Next() {
		w := model.Wager{Server: server, User: user}
		if err := rows.Scan(&w.OptionID, &w.Amount); err != nil {
			return nil, err
		}
		wagers = append(wagers, w)
	}
	return wagers, rows.Err()
}

func (s *PostgresStore) IsTombstoned(ctx context.Context, server, betID string) (bool, error) {
	var tombstoned bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM bet_tombstones WHERE server_id = $1 AND bet_id = $2
		 )`, server, betID).Scan(&tombstoned)
	return tombstoned, err
}

func (s *PostgresStore) PlaceWager(ctx context.Context, server, optionID, user string, amount int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance - $1
		 WHERE server_id = $2 AND user_id = $3 AND balance >= $1
		 RETURNING balance`,
		amount, server, user).Scan(&balance)
	if err != nil {
		return 0, mapErr(err)
	}

	// Insert-if-absent-then-increment: concurrent stakes by the same user
	// accumulate instead of losing an update.
	if _, err := tx.Exec(ctx,
		`INSERT INTO wagers (server_id, option_id, user_id, amount)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (server_id, option_id, user_id)
		 DO UPDATE SET amount = wagers.amount + EXCLUDED.amount`,
		server, optionID, user, amount); err != nil {
		return 0, mapErr(err)
	}

	return balance, tx.Commit(ctx)
}

func (s *PostgresStore) SettleBet(ctx context.Context, server, betID string, credits []model.Credit) ([]model.AccountUpdate, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	updates := make([]model.AccountUpdate, 0, len(credits))
	for _, c := range credits {
		var balance int64
		err := tx.QueryRow(ctx,
			`UPDATE accounts SET balance = balance + $1
			 WHERE server_id = $2 AND user_id = $3
			 RETURNING balance`,
			c.Amount, server, c.User).Scan(&balance)
		if err != nil {
			return nil, mapErr(err)
		}
		updates = append(updates, model.AccountUpdate{
			Server:  server,
			User:    c.User,
			Diff:    c.Amount,
			Balance: balance,
		})
	}

	// The tombstone commits with the credits: a concurrent settle loses
	// the unique-constraint race and observes the bet as already gone.
	if _, err := tx.Exec(ctx,
		`INSERT INTO bet_tombstones (server_id, bet_id) VALUES ($1, $2)`,
		server, betID); err != nil {
		if errors.Is(mapErr(err), ErrAlreadyExists) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	return updates, tx.Commit(ctx)
}

func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM bets
		 WHERE (server_id, bet_id) IN (SELECT server_id, bet_id FROM bet_tombstones)`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
