// Package model defines the core domain types shared across the ledger.
// Every row is scoped by an opaque server id: each server is an isolated
// economy. Currency amounts are int64 units — never float64 for money.
package model

// Bet is a named event with two or more mutually exclusive options.
// It starts open, can be locked, and is torn down on abort or resolution.
type Bet struct {
	Server      string `json:"server" db:"server_id"`
	ID          string `json:"bet_id" db:"bet_id"`
	Description string `json:"description" db:"description"`
	IsOpen      bool   `json:"is_open" db:"is_open"`
}

// Option is one possible outcome of a bet. Options are created atomically
// with their parent bet and never change afterwards.
type Option struct {
	Server      string `json:"server" db:"server_id"`
	ID          string `json:"option_id" db:"option_id"`
	BetID       string `json:"bet_id" db:"bet_id"`
	Description string `json:"description" db:"description"`
}

// Wager is a user's accumulated stake on one option. Repeated stakes by the
// same user on the same option add up in a single row.
type Wager struct {
	Server   string `json:"server" db:"server_id"`
	OptionID string `json:"option_id" db:"option_id"`
	User     string `json:"user" db:"user_id"`
	Amount   int64  `json:"amount" db:"amount"`
}

// AccountUpdate is the canonical balance-change notification: the signed
// delta applied and the resulting balance. One record per touched account is
// returned by every operation that moves money.
type AccountUpdate struct {
	Server  string `json:"server"`
	User    string `json:"user"`
	Diff    int64  `json:"diff"`
	Balance int64  `json:"balance"`
}

// Credit is a pending balance adjustment applied by a settlement
// transaction (refund or payout).
type Credit struct {
	User   string
	Amount int64
}

// OptionStatus is the read-only view of one option: its description and the
// full (user, amount) wager list.
type OptionStatus struct {
	Option string  `json:"option"`
	Desc   string  `json:"desc"`
	Wagers []Wager `json:"wagers"`
}

// BetStatus is the read-only snapshot of a bet consumed by presentation
// layers to render odds, percentages and headcounts.
type BetStatus struct {
	Bet     string         `json:"bet"`
	Desc    string         `json:"desc"`
	IsOpen  bool           `json:"is_open"`
	Options []OptionStatus `json:"options"`
}

// Total returns the pool: the sum of every wager across all options.
func (s *BetStatus) Total() int64 {
	var total int64
	for _, opt := range s.Options {
		for _, w := range opt.Wagers {
			total += w.Amount
		}
	}
	return total
}

// AccountStatus pairs an account's free balance with the total it currently
// has locked up in open bets.
type AccountStatus struct {
	User    string `json:"user"`
	Balance int64  `json:"balance"`
	InBet   int64  `json:"in_bet"`
}
