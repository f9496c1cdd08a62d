package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wagerhall/betledger/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache for bet
// snapshots, the hottest read (every wager placement returns one). Writes go
// to the primary store and invalidate the affected snapshot — a server reset
// drops every snapshot of that server — and correctness checks (tombstones,
// bet existence, balances) always pass through to the primary, so a stale
// cache entry can never resurrect a torn-down bet.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func snapshotKey(server, betID string) string {
	return fmt.Sprintf("bet:%s:%s", server, betID)
}

// --- Read-through ---

func (s *CachedStore) BetSnapshot(ctx context.Context, server, betID string) (*model.BetStatus, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(server, betID)).Bytes()
	if err == nil {
		var status model.BetStatus
		if json.Unmarshal(data, &status) == nil {
			return &status, nil
		}
	}

	status, err := s.primary.BetSnapshot(ctx, server, betID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(status); err == nil {
		s.rdb.Set(ctx, snapshotKey(server, betID), data, s.ttl)
	}
	return status, nil
}

// --- Write-through with invalidation ---

func (s *CachedStore) CreateBet(ctx context.Context, bet *model.Bet, options []model.Option) error {
	if err := s.primary.CreateBet(ctx, bet, options); err != nil {
		return err
	}
	// A bet id can be reused after a settle and sweep; drop any leftover
	// snapshot.
	s.rdb.Del(ctx, snapshotKey(bet.Server, bet.ID))
	return nil
}

func (s *CachedStore) LockBet(ctx context.Context, server, betID string) error {
	if err := s.primary.LockBet(ctx, server, betID); err != nil {
		return err
	}
	s.rdb.Del(ctx, snapshotKey(server, betID))
	return nil
}

func (s *CachedStore) PlaceWager(ctx context.Context, server, optionID, user string, amount int64) (int64, error) {
	balance, err := s.primary.PlaceWager(ctx, server, optionID, user, amount)
	if err != nil {
		return 0, err
	}
	if betID, err := s.primary.BetOfOption(ctx, server, optionID); err == nil {
		s.rdb.Del(ctx, snapshotKey(server, betID))
	}
	return balance, nil
}

func (s *CachedStore) SettleBet(ctx context.Context, server, betID string, credits []model.Credit) ([]model.AccountUpdate, error) {
	updates, err := s.primary.SettleBet(ctx, server, betID, credits)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, snapshotKey(server, betID))
	return updates, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreateAccount(ctx context.Context, server, user string, balance int64) error {
	return s.primary.CreateAccount(ctx, server, user, balance)
}

func (s *CachedStore) Balance(ctx context.Context, server, user string) (int64, error) {
	return s.primary.Balance(ctx, server, user)
}

func (s *CachedStore) AddIncome(ctx context.Context, amount int64) ([]model.AccountUpdate, error) {
	return s.primary.AddIncome(ctx, amount)
}

func (s *CachedStore) ResetServer(ctx context.Context, server string, balance int64) error {
	if err := s.primary.ResetServer(ctx, server, balance); err != nil {
		return err
	}
	// Reset destroys bets without tombstoning them, so the tombstone
	// passthrough cannot mask stale entries here. Drop every snapshot of
	// the server.
	s.invalidateServer(ctx, server)
	return nil
}

// invalidateServer deletes every cached bet snapshot of a server.
func (s *CachedStore) invalidateServer(ctx context.Context, server string) {
	var cursor uint64
	pattern := snapshotKey(server, "*")
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			s.rdb.Del(ctx, keys...)
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func (s *CachedStore) AccountStatuses(ctx context.Context, server string) ([]model.AccountStatus, error) {
	return s.primary.AccountStatuses(ctx, server)
}

func (s *CachedStore) BetOfOption(ctx context.Context, server, optionID string) (string, error) {
	return s.primary.BetOfOption(ctx, server, optionID)
}

func (s *CachedStore) GetBet(ctx context.Context, server, betID string) (*model.Bet, error) {
	return s.primary.GetBet(ctx, server, betID)
}

func (s *CachedStore) UserWagers(ctx context.Context, server, betID, user string) ([]model.Wager, error) {
	return s.primary.UserWagers(ctx, server, betID, user)
}

func (s *CachedStore) IsTombstoned(ctx context.Context, server, betID string) (bool, error) {
	return s.primary.IsTombstoned(ctx, server, betID)
}

func (s *CachedStore) Sweep(ctx context.Context) (int64, error) {
	return s.primary.Sweep(ctx)
}
