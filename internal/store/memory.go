package store

import (
	"context"
	"sort"
	"sync"

	"github.com/wagerhall/betledger/internal/model"
)

// MemoryStore implements Store with mutex-guarded maps. Used for testing and
// for running the server without a database. Iteration orders are made
// deterministic (creation order for options, user order for wagers) so the
// payout allocator sees the same sequence a relational store would produce.
type MemoryStore struct {
	mu         sync.RWMutex
	accounts   map[acctKey]int64
	bets       map[betKey]*model.Bet
	options    map[optKey]*model.Option
	betOptions map[betKey][]string // option ids in creation order
	wagers     map[wagerKey]int64
	tombstones map[betKey]struct{}
}

type acctKey struct{ server, user string }
type betKey struct{ server, bet string }
type optKey struct{ server, option string }
type wagerKey struct {
	server, option, user string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:   make(map[acctKey]int64),
		bets:       make(map[betKey]*model.Bet),
		options:    make(map[optKey]*model.Option),
		betOptions: make(map[betKey][]string),
		wagers:     make(map[wagerKey]int64),
		tombstones: make(map[betKey]struct{}),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, server, user string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := acctKey{server, user}
	if _, ok := s.accounts[k]; ok {
		return ErrAlreadyExists
	}
	s.accounts[k] = balance
	return nil
}

func (s *MemoryStore) Balance(_ context.Context, server, user string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	balance, ok := s.accounts[acctKey{server, user}]
	if !ok {
		return 0, ErrNotFound
	}
	return balance, nil
}

func (s *MemoryStore) AddIncome(_ context.Context, amount int64) ([]model.AccountUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]acctKey, 0, len(s.accounts))
	for k := range s.accounts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		if keys[a].server != keys[b].server {
			return keys[a].server < keys[b].server
		}
		return keys[a].user < keys[b].user
	})

	updates := make([]model.AccountUpdate, 0, len(keys))
	for _, k := range keys {
		s.accounts[k] += amount
		updates = append(updates, model.AccountUpdate{
			Server:  k.server,
			User:    k.user,
			Diff:    amount,
			Balance: s.accounts[k],
		})
	}
	return updates, nil
}

func (s *MemoryStore) ResetServer(_ context.Context, server string, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.bets {
		if k.server == server {
			s.deleteBetLocked(k)
		}
	}
	for k := range s.accounts {
		if k.server == server {
			s.accounts[k] = balance
		}
	}
	return nil
}

func (s *MemoryStore) AccountStatuses(_ context.Context, server string) ([]model.AccountStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inBet := make(map[string]int64)
	for k, amount := range s.wagers {
		if k.server == server {
			inBet[k.user] += amount
		}
	}

	var statuses []model.AccountStatus
	for k, balance := range s.accounts {
		if k.server != server {
			continue
		}
		statuses = append(statuses, model.AccountStatus{
			User:    k.user,
			Balance: balance,
			InBet:   inBet[k.user],
		})
	}
	sort.Slice(statuses, func(a, b int) bool { return statuses[a].User < statuses[b].User })
	return statuses, nil
}

func (s *MemoryStore) CreateBet(_ context.Context, bet *model.Bet, options []model.Option) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := betKey{bet.Server, bet.ID}
	if _, ok := s.bets[bk]; ok {
		return ErrAlreadyExists
	}
	for _, opt := range options {
		if _, ok := s.options[optKey{opt.Server, opt.ID}]; ok {
			return ErrAlreadyExists
		}
	}

	b := *bet
	s.bets[bk] = &b
	for _, opt := range options {
		o := opt
		s.options[optKey{opt.Server, opt.ID}] = &o
		s.betOptions[bk] = append(s.betOptions[bk], opt.ID)
	}
	return nil
}

func (s *MemoryStore) BetOfOption(_ context.Context, server, optionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	opt, ok := s.options[optKey{server, optionID}]
	if !ok {
		return "", ErrNotFound
	}
	return opt.BetID, nil
}

func (s *MemoryStore) GetBet(_ context.Context, server, betID string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bet, ok := s.bets[betKey{server, betID}]
	if !ok {
		return nil, ErrNotFound
	}
	b := *bet
	return &b, nil
}

func (s *MemoryStore) LockBet(_ context.Context, server, betID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bet, ok := s.bets[betKey{server, betID}]
	if !ok {
		return ErrNotFound
	}
	bet.IsOpen = false
	return nil
}

func (s *MemoryStore) BetSnapshot(_ context.Context, server, betID string) (*model.BetStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bk := betKey{server, betID}
	bet, ok := s.bets[bk]
	if !ok {
		return nil, ErrNotFound
	}

	status := model.BetStatus{
		Bet:    betID,
		Desc:   bet.Description,
		IsOpen: bet.IsOpen,
	}
	for _, optionID := range s.betOptions[bk] {
		opt := s.options[optKey{server, optionID}]
		os := model.OptionStatus{Option: optionID, Desc: opt.Description}
		for k, amount := range s.wagers {
			if k.server == server && k.option == optionID {
				os.Wagers = append(os.Wagers, model.Wager{
					Server:   server,
					OptionID: optionID,
					User:     k.user,
					Amount:   amount,
				})
			}
		}
		sort.Slice(os.Wagers, func(a, b int) bool {
			return os.Wagers[a].User < os.Wagers[b].User
		})
		status.Options = append(status.Options, os)
	}
	return &status, nil
}

func (s *MemoryStore) UserWagers(_ context.Context, server, betID, user string) ([]model.Wager, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var wagers []model.Wager
	for _, optionID := range s.betOptions[betKey{server, betID}] {
		if amount, ok := s.wagers[wagerKey{server, optionID, user}]; ok {
			wagers = append(wagers, model.Wager{
				Server:   server,
				OptionID: optionID,
				User:     user,
				Amount:   amount,
			})
		}
	}
	return wagers, nil
}

func (s *MemoryStore) IsTombstoned(_ context.Context, server, betID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.tombstones[betKey{server, betID}]
	return ok, nil
}

func (s *MemoryStore) PlaceWager(_ context.Context, server, optionID, user string, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ak := acctKey{server, user}
	balance, ok := s.accounts[ak]
	if !ok || balance < amount {
		return 0, ErrNotFound
	}
	s.accounts[ak] = balance - amount
	s.wagers[wagerKey{server, optionID, user}] += amount
	return s.accounts[ak], nil
}

func (s *MemoryStore) SettleBet(_ context.Context, server, betID string, credits []model.Credit) ([]model.AccountUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bk := betKey{server, betID}
	if _, ok := s.tombstones[bk]; ok {
		return nil, ErrNotFound
	}
	for _, c := range credits {
		if _, ok := s.accounts[acctKey{server, c.User}]; !ok {
			return nil, ErrNotFound
		}
	}

	updates := make([]model.AccountUpdate, 0, len(credits))
	for _, c := range credits {
		ak := acctKey{server, c.User}
		s.accounts[ak] += c.Amount
		updates = append(updates, model.AccountUpdate{
			Server:  server,
			User:    c.User,
			Diff:    c.Amount,
			Balance: s.accounts[ak],
		})
	}
	s.tombstones[bk] = struct{}{}
	return updates, nil
}

func (s *MemoryStore) Sweep(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept int64
	for bk := range s.tombstones {
		s.deleteBetLocked(bk)
		swept++
	}
	return swept, nil
}

// deleteBetLocked removes a bet with its options, wagers and tombstone.
// Caller must hold the write lock.
func (s *MemoryStore) deleteBetLocked(bk betKey) {
	for _, optionID := range s.betOptions[bk] {
		for wk := range s.wagers {
			if wk.server == bk.server && wk.option == optionID {
				delete(s.wagers, wk)
			}
		}
		delete(s.options, optKey{bk.server, optionID})
	}
	delete(s.betOptions, bk)
	delete(s.bets, bk)
	delete(s.tombstones, bk)
}
