// Package engine implements the wagering ledger core: account bookkeeping,
// the bet state machine (open → locked → resolved/aborted), wager placement
// with single-option-per-bet enforcement, and pooled proportional payouts.
//
// The engine is the single writer. A mutex serializes every read-compute-
// apply sequence (single-instance deployment); the store guarantees that
// each multi-row apply is one all-or-nothing transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/wagerhall/betledger/internal/model"
	"github.com/wagerhall/betledger/internal/payout"
	"github.com/wagerhall/betledger/internal/store"
)

// Error taxonomy surfaced to callers. Anything else coming out of an engine
// operation is an unclassified store failure, already rolled back.
var (
	// ErrNotFound: the referenced bet, option or account is absent or has
	// been tombstoned by a payout or refund.
	ErrNotFound = store.ErrNotFound

	// ErrAlreadyExists: a create collided with an existing id.
	ErrAlreadyExists = store.ErrAlreadyExists

	// ErrBetLocked: a wager was attempted on a non-open bet.
	ErrBetLocked = errors.New("engine: bet is locked")

	// ErrNotEnoughMoney: the computed stake rounds to zero.
	ErrNotEnoughMoney = errors.New("engine: stake amount is zero")

	// ErrInvalidArgument: a caller supplied an out-of-domain value, such
	// as a negative starting balance or a fraction outside [0, 1].
	ErrInvalidArgument = errors.New("engine: invalid argument")
)

// MultiOptError is returned when a user tries to wager on a second option of
// the same bet. Options carries the option ids the user already holds so the
// caller can explain the conflict.
type MultiOptError struct {
	Options []string
}

func (e *MultiOptError) Error() string {
	return fmt.Sprintf("engine: already wagered on option(s) %s",
		strings.Join(e.Options, ", "))
}

// Engine exposes the ledger operations over a Store.
type Engine struct {
	st store.Store
	mu sync.Mutex
}

// New creates an engine on top of the given store.
func New(st store.Store) *Engine {
	return &Engine{st: st}
}

// --- AccountLedger ---

// CreateAccount opens an account with the given starting balance. Accounts
// are created explicitly, never materialized by a read.
func (e *Engine) CreateAccount(ctx context.Context, server, user string, start int64) error {
	if start < 0 {
		return fmt.Errorf("%w: negative starting balance %d", ErrInvalidArgument, start)
	}
	if err := e.st.CreateAccount(ctx, server, user, start); err != nil {
		return err
	}
	slog.Info("account created", "server", server, "user", user, "balance", start)
	return nil
}

// Balance returns an account's current balance.
func (e *Engine) Balance(ctx context.Context, server, user string) (int64, error) {
	return e.st.Balance(ctx, server, user)
}

// Income credits amount to every account in the store, across all servers,
// and returns one update per account. Called by an external scheduler; the
// whole distribution is a single bulk operation.
func (e *Engine) Income(ctx context.Context, amount int64) ([]model.AccountUpdate, error) {
	updates, err := e.st.AddIncome(ctx, amount)
	if err != nil {
		return nil, err
	}
	slog.Info("income distributed", "amount", amount, "accounts", len(updates))
	return updates, nil
}

// Reset aborts every bet of a server and sets every account back to start,
// atomically. Destructive; there is no undo.
func (e *Engine) Reset(ctx context.Context, server string, start int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.st.ResetServer(ctx, server, start); err != nil {
		return err
	}
	slog.Info("server economy reset", "server", server, "balance", start)
	return nil
}

// --- MarketEngine ---

// CreateBet creates a bet with its options in one transaction. options and
// optionDescs must be the same non-zero length; a minimum option count is
// the caller's concern.
func (e *Engine) CreateBet(ctx context.Context, server, betID, desc string, options, optionDescs []string) error {
	if len(options) == 0 || len(options) != len(optionDescs) {
		return fmt.Errorf("%w: %d options with %d descriptions",
			ErrInvalidArgument, len(options), len(optionDescs))
	}

	bet := &model.Bet{Server: server, ID: betID, Description: desc, IsOpen: true}
	opts := make([]model.Option, len(options))
	for i, id := range options {
		opts[i] = model.Option{
			Server:      server,
			ID:          id,
			BetID:       betID,
			Description: optionDescs[i],
		}
	}
	if err := e.st.CreateBet(ctx, bet, opts); err != nil {
		return err
	}
	slog.Info("bet created", "server", server, "bet", betID, "options", len(options))
	return nil
}

// BetOn stakes a fraction of the user's current balance on an option.
// fraction is a decimal in [0, 1]; the staked amount is
// ceil(balance * fraction), so callers can offer 10%/50%/all-in actions
// without knowing the balance. Repeated stakes on the same option
// accumulate into one wager. Returns the balance update and a refreshed
// snapshot of the bet for display.
func (e *Engine) BetOn(ctx context.Context, server, optionID, user string, fraction decimal.Decimal) (model.AccountUpdate, *model.BetStatus, error) {
	var noUpdate model.AccountUpdate

	if fraction.IsNegative() || fraction.GreaterThan(decimal.NewFromInt(1)) {
		return noUpdate, nil, fmt.Errorf("%w: fraction %s outside [0, 1]", ErrInvalidArgument, fraction)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	betID, err := e.st.BetOfOption(ctx, server, optionID)
	if err != nil {
		return noUpdate, nil, err
	}
	if err := e.requireLive(ctx, server, betID); err != nil {
		return noUpdate, nil, err
	}
	bet, err := e.st.GetBet(ctx, server, betID)
	if err != nil {
		return noUpdate, nil, err
	}
	if !bet.IsOpen {
		return noUpdate, nil, ErrBetLocked
	}

	// One option per bet per user: a stake on a sibling option is a
	// conflict, a stake on the same option accumulates.
	held, err := e.st.UserWagers(ctx, server, betID, user)
	if err != nil {
		return noUpdate, nil, err
	}
	var others []string
	for _, w := range held {
		if w.OptionID != optionID {
			others = append(others, w.OptionID)
		}
	}
	if len(others) > 0 {
		return noUpdate, nil, &MultiOptError{Options: others}
	}

	balance, err := e.st.Balance(ctx, server, user)
	if err != nil {
		return noUpdate, nil, err
	}
	amount := decimal.NewFromInt(balance).Mul(fraction).Ceil().IntPart()
	if amount == 0 {
		return noUpdate, nil, ErrNotEnoughMoney
	}

	newBalance, err := e.st.PlaceWager(ctx, server, optionID, user, amount)
	if err != nil {
		return noUpdate, nil, err
	}

	status, err := e.st.BetSnapshot(ctx, server, betID)
	if err != nil {
		return noUpdate, nil, err
	}

	slog.Info("wager placed",
		"server", server,
		"bet", betID,
		"option", optionID,
		"user", user,
		"amount", amount,
	)

	update := model.AccountUpdate{
		Server:  server,
		User:    user,
		Diff:    -amount,
		Balance: newBalance,
	}
	return update, status, nil
}

// LockBet closes a bet for new wagers. The status flag is all that changes;
// existing wagers stay in place until resolution or abort.
func (e *Engine) LockBet(ctx context.Context, server, betID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireLive(ctx, server, betID); err != nil {
		return err
	}
	if err := e.st.LockBet(ctx, server, betID); err != nil {
		return err
	}
	slog.Info("bet locked", "server", server, "bet", betID)
	return nil
}

// AbortBet refunds every wager in full and tears the bet down. The refunds
// and the tombstone commit in one transaction; returns one update per
// refunded user.
func (e *Engine) AbortBet(ctx context.Context, server, betID string) ([]model.AccountUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireLive(ctx, server, betID); err != nil {
		return nil, err
	}
	status, err := e.st.BetSnapshot(ctx, server, betID)
	if err != nil {
		return nil, err
	}

	var credits []model.Credit
	for _, opt := range status.Options {
		for _, w := range opt.Wagers {
			credits = append(credits, model.Credit{User: w.User, Amount: w.Amount})
		}
	}

	updates, err := e.st.SettleBet(ctx, server, betID, credits)
	if err != nil {
		return nil, err
	}
	slog.Info("bet aborted", "server", server, "bet", betID, "refunds", len(updates))
	return updates, nil
}

// CloseBet resolves the bet owning winningOption. The whole pool (every
// wager across every option) is distributed among the winning option's
// wagers, proportional to each winner's own stake, using the largest
// remainder method so no unit is created or destroyed. Losing stakes were
// already debited and fold into the pool. Returns the resolved bet id and
// one update per winner.
func (e *Engine) CloseBet(ctx context.Context, server, winningOption string) (string, []model.AccountUpdate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	betID, err := e.st.BetOfOption(ctx, server, winningOption)
	if err != nil {
		return "", nil, err
	}
	if err := e.requireLive(ctx, server, betID); err != nil {
		return "", nil, err
	}
	status, err := e.st.BetSnapshot(ctx, server, betID)
	if err != nil {
		return "", nil, err
	}

	total := status.Total()
	var winners []string
	var stakes []int64
	for _, opt := range status.Options {
		if opt.Option != winningOption {
			continue
		}
		for _, w := range opt.Wagers {
			winners = append(winners, w.User)
			stakes = append(stakes, w.Amount)
		}
	}

	gains := payout.Allocate(total, stakes)
	credits := make([]model.Credit, len(winners))
	for i, user := range winners {
		credits[i] = model.Credit{User: user, Amount: gains[i]}
	}

	updates, err := e.st.SettleBet(ctx, server, betID, credits)
	if err != nil {
		return "", nil, err
	}
	slog.Info("bet resolved",
		"server", server,
		"bet", betID,
		"winning_option", winningOption,
		"pool", total,
		"winners", len(winners),
	)
	return betID, updates, nil
}

// --- QueryViews ---

// Status returns the read-only snapshot of a bet: description plus each
// option's description and full wager list.
func (e *Engine) Status(ctx context.Context, server, betID string) (*model.BetStatus, error) {
	if err := e.requireLive(ctx, server, betID); err != nil {
		return nil, err
	}
	return e.st.BetSnapshot(ctx, server, betID)
}

// Accounts lists every account of a server with balance and in-bet totals.
func (e *Engine) Accounts(ctx context.Context, server string) ([]model.AccountStatus, error) {
	return e.st.AccountStatuses(ctx, server)
}

// Sweep physically removes tombstoned bets. Deferred deletion is safe
// because every operation treats a tombstoned bet as absent.
func (e *Engine) Sweep(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	swept, err := e.st.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		slog.Info("swept tombstoned bets", "count", swept)
	}
	return swept, nil
}

// requireLive fails with ErrNotFound when the bet is tombstoned: a bet being
// torn down must be indistinguishable from one already gone, even before the
// cascade delete has physically run.
func (e *Engine) requireLive(ctx context.Context, server, betID string) error {
	tombstoned, err := e.st.IsTombstoned(ctx, server, betID)
	if err != nil {
		return err
	}
	if tombstoned {
		return ErrNotFound
	}
	return nil
}
