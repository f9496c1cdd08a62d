// Package store defines the persistence interface for the wagering ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// snapshot cache), and in-memory (for testing and single-binary runs).
//
// Every method that mutates more than one row executes as one all-or-nothing
// transaction: a failure partway leaves state exactly as before the call.
package store

import (
	"context"
	"errors"

	"github.com/wagerhall/betledger/internal/model"
)

var (
	// ErrNotFound is returned when a referenced account, bet or option
	// does not exist. Tombstoned bets are reported the same way.
	ErrNotFound = errors.New("store: not found")

	// ErrAlreadyExists is returned when a uniqueness constraint rejects a
	// create. Concurrent duplicate creation races surface as this error
	// instead of a silent overwrite.
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the persistence interface for accounts, bets, options, wagers and
// the tombstone table.
type Store interface {
	// --- Accounts ---

	// CreateAccount opens an account with the given starting balance.
	// Fails with ErrAlreadyExists if the account exists.
	CreateAccount(ctx context.Context, server, user string, balance int64) error

	// Balance returns an account's current balance.
	Balance(ctx context.Context, server, user string) (int64, error)

	// AddIncome credits amount to every account across all servers in one
	// statement and returns one update record per account.
	AddIncome(ctx context.Context, amount int64) ([]model.AccountUpdate, error)

	// ResetServer deletes every bet of the server (cascading options and
	// wagers) and resets every account to balance, atomically.
	ResetServer(ctx context.Context, server string, balance int64) error

	// AccountStatuses lists every account of a server with its balance and
	// the total amount it has riding on open bets.
	AccountStatuses(ctx context.Context, server string) ([]model.AccountStatus, error)

	// --- Bets ---

	// CreateBet inserts the bet and all its options in one transaction.
	// Fails with ErrAlreadyExists on a bet or option id collision.
	CreateBet(ctx context.Context, bet *model.Bet, options []model.Option) error

	// BetOfOption resolves the bet owning an option.
	BetOfOption(ctx context.Context, server, optionID string) (string, error)

	// GetBet retrieves a bet row.
	GetBet(ctx context.Context, server, betID string) (*model.Bet, error)

	// LockBet sets is_open to false. ErrNotFound if the bet is absent.
	LockBet(ctx context.Context, server, betID string) error

	// BetSnapshot returns the full read-only view of a bet: description,
	// open flag, and per-option wager lists in creation order.
	BetSnapshot(ctx context.Context, server, betID string) (*model.BetStatus, error)

	// UserWagers returns the wagers a user holds across all options of a
	// bet. The engine uses this to enforce one option per bet per user.
	UserWagers(ctx context.Context, server, betID, user string) ([]model.Wager, error)

	// IsTombstoned reports whether the bet has been marked for deletion.
	// Tombstone reads always hit the primary store, never a cache.
	IsTombstoned(ctx context.Context, server, betID string) (bool, error)

	// --- Money movement ---

	// PlaceWager debits the account by amount and adds amount to the
	// user's wager on the option (insert-if-absent-then-increment), in one
	// transaction. Returns the new balance.
	PlaceWager(ctx context.Context, server, optionID, user string, amount int64) (int64, error)

	// SettleBet applies the credits and records the bet's tombstone in one
	// transaction, returning one update record per credited account. Used
	// for both refunds (abort) and payouts (resolution).
	SettleBet(ctx context.Context, server, betID string, credits []model.Credit) ([]model.AccountUpdate, error)

	// Sweep physically deletes every tombstoned bet, cascading its options
	// and wagers. Returns the number of bets removed. Safe to run at any
	// time; readers already treat tombstoned bets as absent.
	Sweep(ctx context.Context) (int64, error)
}
