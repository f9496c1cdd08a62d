package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/wagerhall/betledger/internal/engine"
	"github.com/wagerhall/betledger/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func newTestEngine(t *testing.T) (*engine.Engine, context.Context) {
	t.Helper()
	return engine.New(store.NewMemoryStore()), context.Background()
}

// seedRainBet sets up the worked example: accounts A, B, C with 10 each and
// a two-option bet "rain?" with options X and Y.
func seedRainBet(t *testing.T, e *engine.Engine, ctx context.Context) {
	t.Helper()
	for _, user := range []string{"A", "B", "C"} {
		if err := e.CreateAccount(ctx, "S", user, 10); err != nil {
			t.Fatalf("create account %s: %v", user, err)
		}
	}
	err := e.CreateBet(ctx, "S", "rain", "rain?",
		[]string{"X", "Y"}, []string{"yes", "no"})
	if err != nil {
		t.Fatalf("create bet: %v", err)
	}
}

func mustBalance(t *testing.T, e *engine.Engine, ctx context.Context, server, user string) int64 {
	t.Helper()
	balance, err := e.Balance(ctx, server, user)
	if err != nil {
		t.Fatalf("balance %s/%s: %v", server, user, err)
	}
	return balance
}

// --- Accounts ---

func TestCreateAccount_Duplicate(t *testing.T) {
	e, ctx := newTestEngine(t)
	if err := e.CreateAccount(ctx, "S", "alice", 350); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := e.CreateAccount(ctx, "S", "alice", 350); !errors.Is(err, engine.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
	// Same user on another server is a separate economy.
	if err := e.CreateAccount(ctx, "S2", "alice", 100); err != nil {
		t.Errorf("same user on other server should succeed, got %v", err)
	}
}

func TestCreateAccount_NegativeStart(t *testing.T) {
	e, ctx := newTestEngine(t)
	if err := e.CreateAccount(ctx, "S", "alice", -5); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestBalance_UnknownAccount(t *testing.T) {
	e, ctx := newTestEngine(t)
	if _, err := e.Balance(ctx, "S", "nobody"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestIncome_CreditsEveryAccount(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.CreateAccount(ctx, "S1", "alice", 10)
	e.CreateAccount(ctx, "S1", "bob", 20)
	e.CreateAccount(ctx, "S2", "carol", 30)

	updates, err := e.Income(ctx, 50)
	if err != nil {
		t.Fatalf("income: %v", err)
	}
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	for _, u := range updates {
		if u.Diff != 50 {
			t.Errorf("update diff = %d, want 50", u.Diff)
		}
	}
	if got := mustBalance(t, e, ctx, "S1", "alice"); got != 60 {
		t.Errorf("alice balance = %d, want 60", got)
	}
	if got := mustBalance(t, e, ctx, "S2", "carol"); got != 80 {
		t.Errorf("carol balance = %d, want 80", got)
	}
}

// --- Bet creation ---

func TestCreateBet_DuplicateID(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	err := e.CreateBet(ctx, "S", "rain", "again?",
		[]string{"P", "Q"}, []string{"p", "q"})
	if !errors.Is(err, engine.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreateBet_MismatchedDescriptions(t *testing.T) {
	e, ctx := newTestEngine(t)
	err := e.CreateBet(ctx, "S", "b", "?", []string{"X", "Y"}, []string{"only one"})
	if !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("mismatched lengths: expected ErrInvalidArgument, got %v", err)
	}
	err = e.CreateBet(ctx, "S", "b", "?", nil, nil)
	if !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("empty options: expected ErrInvalidArgument, got %v", err)
	}
}

// --- Wager placement ---

func TestBetOn_FractionOfBalance(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	update, status, err := e.BetOn(ctx, "S", "X", "A", d(0.5))
	if err != nil {
		t.Fatalf("bet on: %v", err)
	}
	if update.Diff != -5 || update.Balance != 5 {
		t.Errorf("update = {diff: %d, balance: %d}, want {-5, 5}", update.Diff, update.Balance)
	}
	if len(status.Options) != 2 {
		t.Fatalf("snapshot should list both options, got %d", len(status.Options))
	}
	if len(status.Options[0].Wagers) != 1 || status.Options[0].Wagers[0].Amount != 5 {
		t.Errorf("option X should carry A's wager of 5, got %+v", status.Options[0].Wagers)
	}
}

func TestBetOn_CeilRoundsUp(t *testing.T) {
	e, ctx := newTestEngine(t)
	e.CreateAccount(ctx, "S", "A", 1)
	e.CreateBet(ctx, "S", "b", "?", []string{"X", "Y"}, []string{"x", "y"})

	// ceil(1 * 0.3) = 1: a low balance still stakes a whole unit.
	update, _, err := e.BetOn(ctx, "S", "X", "A", d(0.3))
	if err != nil {
		t.Fatalf("bet on: %v", err)
	}
	if update.Diff != -1 || update.Balance != 0 {
		t.Errorf("update = {diff: %d, balance: %d}, want {-1, 0}", update.Diff, update.Balance)
	}
}

func TestBetOn_ZeroStake(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	// fraction = 0 always rounds to nothing.
	if _, _, err := e.BetOn(ctx, "S", "X", "A", d(0)); !errors.Is(err, engine.ErrNotEnoughMoney) {
		t.Errorf("fraction 0: expected ErrNotEnoughMoney, got %v", err)
	}

	// A zero balance rounds to nothing for any fraction.
	e.CreateAccount(ctx, "S", "broke", 0)
	if _, _, err := e.BetOn(ctx, "S", "X", "broke", d(1)); !errors.Is(err, engine.ErrNotEnoughMoney) {
		t.Errorf("zero balance: expected ErrNotEnoughMoney, got %v", err)
	}
}

func TestBetOn_FractionOutOfRange(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	if _, _, err := e.BetOn(ctx, "S", "X", "A", d(1.5)); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("fraction > 1: expected ErrInvalidArgument, got %v", err)
	}
	if _, _, err := e.BetOn(ctx, "S", "X", "A", d(-0.1)); !errors.Is(err, engine.ErrInvalidArgument) {
		t.Errorf("negative fraction: expected ErrInvalidArgument, got %v", err)
	}
}

func TestBetOn_AccumulatesOnSameOption(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	e.BetOn(ctx, "S", "X", "A", d(0.5)) // stakes 5, balance 5
	_, status, err := e.BetOn(ctx, "S", "X", "A", d(0.2)) // stakes ceil(1) = 1
	if err != nil {
		t.Fatalf("second bet: %v", err)
	}

	wagers := status.Options[0].Wagers
	if len(wagers) != 1 {
		t.Fatalf("expected a single accumulated wager row, got %d", len(wagers))
	}
	if wagers[0].Amount != 6 {
		t.Errorf("accumulated amount = %d, want 6", wagers[0].Amount)
	}
}

func TestBetOn_SecondOptionRejected(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	e.BetOn(ctx, "S", "X", "A", d(0.5))
	before := mustBalance(t, e, ctx, "S", "A")

	_, _, err := e.BetOn(ctx, "S", "Y", "A", d(0.5))
	var multiOpt *engine.MultiOptError
	if !errors.As(err, &multiOpt) {
		t.Fatalf("expected MultiOptError, got %v", err)
	}
	if len(multiOpt.Options) != 1 || multiOpt.Options[0] != "X" {
		t.Errorf("held options = %v, want [X]", multiOpt.Options)
	}
	if after := mustBalance(t, e, ctx, "S", "A"); after != before {
		t.Errorf("rejected wager mutated balance: %d → %d", before, after)
	}
}

func TestBetOn_LockedBet(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	if err := e.LockBet(ctx, "S", "rain"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, _, err := e.BetOn(ctx, "S", "X", "A", d(0.5)); !errors.Is(err, engine.ErrBetLocked) {
		t.Errorf("expected ErrBetLocked, got %v", err)
	}
}

func TestBetOn_UnknownOption(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	if _, _, err := e.BetOn(ctx, "S", "Z", "A", d(0.5)); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

// --- Resolution ---

func TestCloseBet_WorkedExample(t *testing.T) {
	// A=10, B=10, C=10. A bets 50% on X (5), B bets 30% on Y (3), C bets
	// 40% on Y (4). Closing on X: pool = 12, sole winner A takes all of it.
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	e.BetOn(ctx, "S", "X", "A", d(0.5))
	e.BetOn(ctx, "S", "Y", "B", d(0.3))
	e.BetOn(ctx, "S", "Y", "C", d(0.4))

	betID, updates, err := e.CloseBet(ctx, "S", "X")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if betID != "rain" {
		t.Errorf("resolved bet id = %q, want rain", betID)
	}
	if len(updates) != 1 {
		t.Fatalf("expected 1 winner update, got %d", len(updates))
	}
	if updates[0].User != "A" || updates[0].Diff != 12 || updates[0].Balance != 17 {
		t.Errorf("winner update = %+v, want A +12 → 17", updates[0])
	}

	balances := map[string]int64{"A": 17, "B": 7, "C": 6}
	var total int64
	for user, want := range balances {
		got := mustBalance(t, e, ctx, "S", user)
		if got != want {
			t.Errorf("%s balance = %d, want %d", user, got, want)
		}
		total += got
	}
	if total != 30 {
		t.Errorf("money not conserved: total = %d, want 30", total)
	}
}

func TestCloseBet_ProportionalWithRounding(t *testing.T) {
	e, ctx := newTestEngine(t)
	for user, balance := range map[string]int64{"u1": 1, "u2": 2, "u3": 7} {
		e.CreateAccount(ctx, "S", user, balance)
	}
	e.CreateBet(ctx, "S", "b", "?", []string{"X", "Y"}, []string{"x", "y"})

	e.BetOn(ctx, "S", "X", "u1", d(1)) // 1
	e.BetOn(ctx, "S", "X", "u2", d(1)) // 2
	e.BetOn(ctx, "S", "Y", "u3", d(1)) // 7

	// Pool 10 over winner stakes [1, 2]: ideal 3.33/6.67 → 3 and 7.
	_, updates, err := e.CloseBet(ctx, "S", "X")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	gains := map[string]int64{}
	var distributed int64
	for _, u := range updates {
		gains[u.User] = u.Diff
		distributed += u.Diff
	}
	if distributed != 10 {
		t.Errorf("distributed %d, want the full pool of 10", distributed)
	}
	if gains["u1"] != 3 || gains["u2"] != 7 {
		t.Errorf("gains = %v, want u1=3 u2=7", gains)
	}
}

func TestCloseBet_Conservation(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	var deltas int64
	for _, stake := range []struct {
		option, user string
		fraction     float64
	}{
		{"X", "A", 0.7},
		{"Y", "B", 0.35},
		{"X", "C", 1},
	} {
		update, _, err := e.BetOn(ctx, "S", stake.option, stake.user, d(stake.fraction))
		if err != nil {
			t.Fatalf("bet %s/%s: %v", stake.option, stake.user, err)
		}
		deltas += update.Diff
	}

	_, updates, err := e.CloseBet(ctx, "S", "X")
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	for _, u := range updates {
		deltas += u.Diff
	}
	if deltas != 0 {
		t.Errorf("stake and payout deltas sum to %d, want 0", deltas)
	}
}

func TestAbortBet_RefundsEveryWager(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)

	e.BetOn(ctx, "S", "X", "A", d(0.5))
	e.BetOn(ctx, "S", "Y", "B", d(0.3))

	updates, err := e.AbortBet(ctx, "S", "rain")
	if err != nil {
		t.Fatalf("abort: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected 2 refunds, got %d", len(updates))
	}
	for _, user := range []string{"A", "B", "C"} {
		if got := mustBalance(t, e, ctx, "S", user); got != 10 {
			t.Errorf("%s balance after refund = %d, want 10", user, got)
		}
	}
}

// --- Tombstone exclusion ---

func TestTombstone_ExcludesEveryOperation(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	e.BetOn(ctx, "S", "X", "A", d(0.5))

	if _, _, err := e.CloseBet(ctx, "S", "X"); err != nil {
		t.Fatalf("close: %v", err)
	}

	if _, _, err := e.BetOn(ctx, "S", "X", "B", d(0.5)); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("bet_on after close: expected ErrNotFound, got %v", err)
	}
	if err := e.LockBet(ctx, "S", "rain"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("lock after close: expected ErrNotFound, got %v", err)
	}
	if _, err := e.AbortBet(ctx, "S", "rain"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("abort after close: expected ErrNotFound, got %v", err)
	}
	if _, _, err := e.CloseBet(ctx, "S", "X"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("double close: expected ErrNotFound, got %v", err)
	}
	if _, err := e.Status(ctx, "S", "rain"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("status after close: expected ErrNotFound, got %v", err)
	}
}

func TestSweep_RemovesTombstonedBets(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	e.BetOn(ctx, "S", "X", "A", d(0.5))
	e.CloseBet(ctx, "S", "X")

	swept, err := e.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 1 {
		t.Errorf("swept %d bets, want 1", swept)
	}

	// The id is free again once the rows are physically gone.
	err = e.CreateBet(ctx, "S", "rain", "round two",
		[]string{"X2", "Y2"}, []string{"x", "y"})
	if err != nil {
		t.Errorf("recreate after sweep: %v", err)
	}
}

// --- Views and reset ---

func TestAccounts_InBetTotals(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	e.BetOn(ctx, "S", "X", "A", d(0.5))
	e.BetOn(ctx, "S", "Y", "B", d(0.3))

	statuses, err := e.Accounts(ctx, "S")
	if err != nil {
		t.Fatalf("accounts: %v", err)
	}
	want := map[string]struct{ balance, inBet int64 }{
		"A": {5, 5},
		"B": {7, 3},
		"C": {10, 0},
	}
	if len(statuses) != len(want) {
		t.Fatalf("expected %d accounts, got %d", len(want), len(statuses))
	}
	for _, st := range statuses {
		w := want[st.User]
		if st.Balance != w.balance || st.InBet != w.inBet {
			t.Errorf("%s = {balance: %d, in_bet: %d}, want {%d, %d}",
				st.User, st.Balance, st.InBet, w.balance, w.inBet)
		}
	}
}

func TestReset_ClearsBetsAndRestoresBalances(t *testing.T) {
	e, ctx := newTestEngine(t)
	seedRainBet(t, e, ctx)
	e.BetOn(ctx, "S", "X", "A", d(0.5))
	e.CreateAccount(ctx, "other", "zed", 42)

	if err := e.Reset(ctx, "S", 350); err != nil {
		t.Fatalf("reset: %v", err)
	}

	for _, user := range []string{"A", "B", "C"} {
		if got := mustBalance(t, e, ctx, "S", user); got != 350 {
			t.Errorf("%s balance = %d, want 350", user, got)
		}
	}
	if _, err := e.Status(ctx, "S", "rain"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("bet should be gone after reset, got %v", err)
	}
	// Other servers are untouched.
	if got := mustBalance(t, e, ctx, "other", "zed"); got != 42 {
		t.Errorf("unrelated server balance = %d, want 42", got)
	}
}

func TestLockBet_Unknown(t *testing.T) {
	e, ctx := newTestEngine(t)
	if err := e.LockBet(ctx, "S", "nope"); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
