// Package api provides the HTTP binding for the ledger engine: account and
// bet management, wager placement, resolution, and the WebSocket feed of
// balance updates.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/wagerhall/betledger/internal/engine"
	"github.com/wagerhall/betledger/internal/metrics"
	"github.com/wagerhall/betledger/internal/model"
	"github.com/wagerhall/betledger/internal/notify"
	"github.com/wagerhall/betledger/internal/payout"
)

// Server handles the ledger HTTP API.
type Server struct {
	engine    *engine.Engine
	hub       *WSHub // optional; nil disables broadcasting
	publisher notify.Publisher

	startingBalance int64
	incomeAmount    int64
}

// NewServer creates an API server. Pass nil for hub if WebSocket
// broadcasting is not needed; publisher may be notify.NopPublisher{}.
func NewServer(e *engine.Engine, hub *WSHub, publisher notify.Publisher, startingBalance, incomeAmount int64) *Server {
	return &Server{
		engine:          e,
		hub:             hub,
		publisher:       publisher,
		startingBalance: startingBalance,
		incomeAmount:    incomeAmount,
	}
}

// Routes mounts every API route on the given router.
func (s *Server) Routes(r chi.Router) {
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}

	r.Route("/servers/{server}", func(r chi.Router) {
		r.Post("/accounts", s.CreateAccount)
		r.Get("/accounts", s.ListAccounts)
		r.Get("/accounts/{user}", s.GetAccount)
		r.Post("/reset", s.ResetServer)

		r.Post("/bets", s.CreateBet)
		r.Get("/bets/{betID}", s.GetBet)
		r.Post("/bets/{betID}/lock", s.LockBet)
		r.Post("/bets/{betID}/abort", s.AbortBet)

		r.Post("/options/{optionID}/wagers", s.PlaceWager)
		r.Post("/options/{optionID}/close", s.CloseBet)
	})

	r.Post("/income", s.DistributeIncome)
}

// --- Request/Response types ---

// CreateAccountRequest is the JSON body for account creation. A zero
// Balance means the configured starting balance.
type CreateAccountRequest struct {
	User    string `json:"user"`
	Balance *int64 `json:"balance,omitempty"`
}

// CreateBetRequest is the JSON body for bet creation. IDs are optional;
// missing ones are generated.
type CreateBetRequest struct {
	BetID       string `json:"bet_id,omitempty"`
	Description string `json:"description"`
	Options     []struct {
		ID          string `json:"id,omitempty"`
		Description string `json:"description"`
	} `json:"options"`
}

// WagerRequest is the JSON body for wager placement. Fraction is the share
// of the user's current balance to stake, in [0, 1].
type WagerRequest struct {
	User     string          `json:"user"`
	Fraction decimal.Decimal `json:"fraction"`
}

// WagerResponse is returned from wager placement: the balance change plus a
// refreshed view of the bet.
type WagerResponse struct {
	Update model.AccountUpdate `json:"update"`
	Bet    BetView             `json:"bet"`
}

// SettleResponse is returned from close, abort, reset and income: one
// balance update per affected account.
type SettleResponse struct {
	Updates []model.AccountUpdate `json:"updates"`
}

// BetView is the API shape of a bet snapshot, with per-option pool
// percentages for display.
type BetView struct {
	BetID       string       `json:"bet_id"`
	Description string       `json:"description"`
	IsOpen      bool         `json:"is_open"`
	Options     []OptionView `json:"options"`
}

// OptionView is one option of a BetView. Percent values sum to exactly 100
// whenever any wager exists.
type OptionView struct {
	OptionID    string        `json:"option_id"`
	Description string        `json:"description"`
	Percent     int64         `json:"percent"`
	Total       int64         `json:"total"`
	Wagers      []model.Wager `json:"wagers"`
}

func betView(status *model.BetStatus) BetView {
	view := BetView{
		BetID:       status.Bet,
		Description: status.Desc,
		IsOpen:      status.IsOpen,
		Options:     make([]OptionView, len(status.Options)),
	}

	totals := make([]int64, len(status.Options))
	for i, opt := range status.Options {
		for _, w := range opt.Wagers {
			totals[i] += w.Amount
		}
	}
	percents := payout.Percentages(totals)

	for i, opt := range status.Options {
		wagers := opt.Wagers
		if wagers == nil {
			wagers = []model.Wager{}
		}
		view.Options[i] = OptionView{
			OptionID:    opt.Option,
			Description: opt.Desc,
			Percent:     percents[i],
			Total:       totals[i],
			Wagers:      wagers,
		}
	}
	return view
}

// --- Account handlers ---

// CreateAccount handles POST /api/v1/servers/{server}/accounts
func (s *Server) CreateAccount(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}

	balance := s.startingBalance
	if req.Balance != nil {
		balance = *req.Balance
	}

	if err := s.engine.CreateAccount(r.Context(), server, req.User, balance); err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(model.AccountStatus{User: req.User, Balance: balance})
}

// GetAccount handles GET /api/v1/servers/{server}/accounts/{user}
func (s *Server) GetAccount(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	user := chi.URLParam(r, "user")

	balance, err := s.engine.Balance(r.Context(), server, user)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(model.AccountStatus{User: user, Balance: balance})
}

// ListAccounts handles GET /api/v1/servers/{server}/accounts
// Returns every account with balance and in-bet totals.
func (s *Server) ListAccounts(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")

	statuses, err := s.engine.Accounts(r.Context(), server)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if statuses == nil {
		statuses = []model.AccountStatus{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(statuses)
}

// ResetServer handles POST /api/v1/servers/{server}/reset
// Deletes every bet of the server and resets all balances to the starting
// balance. Destructive.
func (s *Server) ResetServer(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")

	if err := s.engine.Reset(r.Context(), server, s.startingBalance); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DistributeIncome handles POST /api/v1/income
// Credits the configured income amount to every account across all servers.
func (s *Server) DistributeIncome(w http.ResponseWriter, r *http.Request) {
	updates, err := s.engine.Income(r.Context(), s.incomeAmount)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.IncomeRuns.Inc()
	s.fanOut(r, notify.KindIncome, "", updates)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettleResponse{Updates: updates})
}

// --- Bet handlers ---

// CreateBet handles POST /api/v1/servers/{server}/bets
func (s *Server) CreateBet(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")

	var req CreateBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Options) < 2 {
		writeError(w, "a bet needs at least two options", http.StatusBadRequest)
		return
	}

	betID := req.BetID
	if betID == "" {
		betID = uuid.New().String()
	}
	options := make([]string, len(req.Options))
	descs := make([]string, len(req.Options))
	for i, opt := range req.Options {
		options[i] = opt.ID
		if options[i] == "" {
			options[i] = uuid.New().String()
		}
		descs[i] = opt.Description
	}

	ctx := r.Context()
	if err := s.engine.CreateBet(ctx, server, betID, req.Description, options, descs); err != nil {
		writeEngineError(w, err)
		return
	}

	status, err := s.engine.Status(ctx, server, betID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(betView(status))
}

// GetBet handles GET /api/v1/servers/{server}/bets/{betID}
func (s *Server) GetBet(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	betID := chi.URLParam(r, "betID")

	status, err := s.engine.Status(r.Context(), server, betID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(betView(status))
}

// LockBet handles POST /api/v1/servers/{server}/bets/{betID}/lock
func (s *Server) LockBet(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	betID := chi.URLParam(r, "betID")

	if err := s.engine.LockBet(r.Context(), server, betID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AbortBet handles POST /api/v1/servers/{server}/bets/{betID}/abort
// Refunds every wager in full and tears the bet down.
func (s *Server) AbortBet(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	betID := chi.URLParam(r, "betID")

	updates, err := s.engine.AbortBet(r.Context(), server, betID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.BetsResolved.WithLabelValues("aborted").Inc()
	s.fanOut(r, notify.KindRefund, betID, updates)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettleResponse{Updates: updates})
}

// CloseBet handles POST /api/v1/servers/{server}/options/{optionID}/close
// Resolves the bet owning the option, distributing the whole pool among the
// option's backers.
func (s *Server) CloseBet(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	optionID := chi.URLParam(r, "optionID")

	betID, updates, err := s.engine.CloseBet(r.Context(), server, optionID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	var pool int64
	for _, u := range updates {
		pool += u.Diff
	}
	metrics.BetsResolved.WithLabelValues("closed").Inc()
	metrics.PayoutPool.Observe(float64(pool))
	s.fanOut(r, notify.KindPayout, betID, updates)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SettleResponse{Updates: updates})
}

// PlaceWager handles POST /api/v1/servers/{server}/options/{optionID}/wagers
func (s *Server) PlaceWager(w http.ResponseWriter, r *http.Request) {
	server := chi.URLParam(r, "server")
	optionID := chi.URLParam(r, "optionID")

	var req WagerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.User == "" {
		writeError(w, "user is required", http.StatusBadRequest)
		return
	}
	if req.Fraction.IsNegative() || req.Fraction.GreaterThan(decimal.NewFromInt(1)) {
		writeError(w, "fraction must be within [0, 1]", http.StatusBadRequest)
		return
	}

	update, status, err := s.engine.BetOn(r.Context(), server, optionID, req.User, req.Fraction)
	if err != nil {
		recordWagerRejection(err)
		writeEngineError(w, err)
		return
	}
	metrics.WagersTotal.WithLabelValues(server).Inc()
	s.fanOut(r, notify.KindWager, status.Bet, []model.AccountUpdate{update})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(WagerResponse{Update: update, Bet: betView(status)})
}

// fanOut pushes balance updates to the WebSocket hub and the event stream.
func (s *Server) fanOut(r *http.Request, kind, betID string, updates []model.AccountUpdate) {
	if s.hub != nil {
		for _, u := range updates {
			s.hub.Broadcast(WSMessage{
				Type:    kind,
				Server:  u.Server,
				User:    u.User,
				Diff:    u.Diff,
				Balance: u.Balance,
				BetID:   betID,
			})
		}
	}
	s.publisher.PublishUpdates(r.Context(), kind, betID, updates)
}

func recordWagerRejection(err error) {
	var multiOpt *engine.MultiOptError
	switch {
	case errors.Is(err, engine.ErrNotFound):
		metrics.WagerRejections.WithLabelValues("not_found").Inc()
	case errors.Is(err, engine.ErrBetLocked):
		metrics.WagerRejections.WithLabelValues("locked").Inc()
	case errors.Is(err, engine.ErrNotEnoughMoney):
		metrics.WagerRejections.WithLabelValues("no_money").Inc()
	case errors.As(err, &multiOpt):
		metrics.WagerRejections.WithLabelValues("multi_option").Inc()
	}
}

// writeEngineError maps the engine error taxonomy onto HTTP statuses.
func writeEngineError(w http.ResponseWriter, err error) {
	var multiOpt *engine.MultiOptError
	switch {
	case errors.Is(err, engine.ErrInvalidArgument):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, engine.ErrAlreadyExists):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrBetLocked):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, engine.ErrNotEnoughMoney):
		writeError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.As(err, &multiOpt):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"error":        multiOpt.Error(),
			"held_options": multiOpt.Options,
		})
	default:
		writeError(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
