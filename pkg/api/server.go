// Package api exposes the trading core over REST and WebSocket. Handlers
// never touch engine state directly: every read and write is a closure
// submitted to the sequencer, preserving the single-writer discipline.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/scalex/core/pkg/exchange"
	"github.com/scalex/core/pkg/exchange/book"
	"github.com/scalex/core/pkg/exchange/history"
	"github.com/scalex/core/pkg/exchange/ledger"
	"github.com/scalex/core/pkg/exchange/pool"
	"github.com/scalex/core/pkg/sequencer"
)

// Server handles REST and WebSocket connections.
type Server struct {
	ex     *exchange.Exchange
	seq    *sequencer.Sequencer
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer wires the router and registers the fill hook that feeds the
// WebSocket stream.
func NewServer(ex *exchange.Exchange, seq *sequencer.Sequencer, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		ex:     ex,
		seq:    seq,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	ex.SetTradeHook(func(t history.Trade) { s.hub.Broadcast(t) })
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/pools", s.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{base}/{quote}/book", s.handleGetBook).Methods("GET")
	api.HandleFunc("/pools/{base}/{quote}/best/{side}", s.handleGetBest).Methods("GET")
	api.HandleFunc("/pools/{base}/{quote}/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/trades", s.handleGetTrades).Methods("GET")

	api.HandleFunc("/accounts/{address}/balances/{currency}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/approve", s.handleApprove).Methods("POST")
	api.HandleFunc("/deposit", s.handleDeposit).Methods("POST")
	api.HandleFunc("/withdraw", s.handleWithdraw).Methods("POST")

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods("POST")
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods("POST")
	api.HandleFunc("/swap", s.handleSwap).Methods("POST")
	api.HandleFunc("/swap/quote", s.handleQuote).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start serves HTTP on addr until the listener fails.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "applied": s.seq.Applied()})
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	var out []PoolInfo
	err := s.seq.Do(r.Context(), func() error {
		for _, p := range s.ex.Registry().List() {
			out = append(out, PoolInfo{
				Base:         p.Base.Hex(),
				Quote:        p.Quote.Hex(),
				TickSize:     p.Rules.TickSize,
				LotSize:      p.Rules.LotSize,
				MinOrderSize: p.Rules.MinOrderSize,
				MinNotional:  p.Rules.MinNotional,
				MakerFeeBps:  p.Rules.MakerFeeBps,
				TakerFeeBps:  p.Rules.TakerFeeBps,
			})
		}
		return nil
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	base, quote := common.HexToAddress(vars["base"]), common.HexToAddress(vars["quote"])
	depth := 10
	if d := r.URL.Query().Get("depth"); d != "" {
		if n, err := strconv.Atoi(d); err == nil && n > 0 {
			depth = n
		}
	}
	var snap BookSnapshot
	err := s.seq.Do(r.Context(), func() error {
		bids, asks, err := s.ex.Depth(base, quote, depth)
		if err != nil {
			return err
		}
		snap = BookSnapshot{
			Base:      base.Hex(),
			Quote:     quote.Hex(),
			Bids:      toBookLevels(bids),
			Asks:      toBookLevels(asks),
			Timestamp: time.Now().UnixMilli(),
		}
		return nil
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleGetBest(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	base, quote := common.HexToAddress(vars["base"]), common.HexToAddress(vars["quote"])
	side, err := parseSide(vars["side"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	var price, volume int64
	err = s.seq.Do(r.Context(), func() error {
		var err error
		price, volume, err = s.ex.Best(base, quote, side)
		return err
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, BookLevel{Price: price, Volume: volume})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	base, quote := common.HexToAddress(vars["base"]), common.HexToAddress(vars["quote"])
	id, err := strconv.ParseUint(vars["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	var o book.Order
	err = s.seq.Do(r.Context(), func() error {
		var err error
		o, err = s.ex.Order(base, quote, id)
		return err
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, toOrderInfo(o))
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	n := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		if v, err := strconv.Atoi(q); err == nil && v > 0 && v <= 1000 {
			n = v
		}
	}
	trades, err := s.ex.RecentTrades(n)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "trade log read failed", err.Error())
		return
	}
	respondJSON(w, trades)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	owner, currency := common.HexToAddress(vars["address"]), common.HexToAddress(vars["currency"])
	var acc ledger.Account
	err := s.seq.Do(r.Context(), func() error {
		acc = s.ex.Ledger().Balance(owner, currency)
		return nil
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, BalanceInfo{
		Owner:     owner.Hex(),
		Currency:  currency.Hex(),
		Available: acc.Available,
		Locked:    acc.TotalLocked(),
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	owner := common.HexToAddress(mux.Vars(r)["address"])
	err := s.seq.Do(r.Context(), func() error {
		s.ex.ApproveOperator(owner)
		return nil
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "approved"})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.seq.Do(r.Context(), func() error {
		return s.ex.Deposit(common.HexToAddress(req.Owner), common.HexToAddress(req.Currency), req.Amount)
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.seq.Do(r.Context(), func() error {
		return s.ex.Withdraw(common.HexToAddress(req.Owner), common.HexToAddress(req.Currency), req.Amount)
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	side, err := parseSide(req.Side)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	base, quote := common.HexToAddress(req.Base), common.HexToAddress(req.Quote)
	owner := common.HexToAddress(req.Owner)

	var (
		id     uint64
		fills  []book.Fill
		status string
	)
	err = s.seq.Do(r.Context(), func() error {
		var err error
		switch req.Type {
		case "market":
			id, fills, err = s.ex.PlaceMarketOrder(base, quote, owner, side, req.Qty)
		case "limit":
			if req.Deposit > 0 {
				id, fills, err = s.ex.PlaceOrderWithDeposit(base, quote, owner, side, req.Price, req.Qty, book.GTC, req.Deposit)
			} else {
				id, fills, err = s.ex.PlaceLimitOrder(base, quote, owner, side, req.Price, req.Qty, book.GTC)
			}
		default:
			err = errors.New("order type must be limit or market")
		}
		if err != nil {
			return err
		}
		if o, lookupErr := s.ex.Order(base, quote, id); lookupErr == nil {
			status = o.Status.String()
		}
		return nil
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}

	resp := PlaceOrderResponse{OrderID: id, Status: status, Fills: make([]FillInfo, 0, len(fills))}
	for _, f := range fills {
		resp.Fills = append(resp.Fills, FillInfo{Price: f.Price, Qty: f.Qty, MakerID: f.MakerID})
	}
	respondJSON(w, resp)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	err := s.seq.Do(r.Context(), func() error {
		return s.ex.CancelOrder(
			common.HexToAddress(req.Base),
			common.HexToAddress(req.Quote),
			common.HexToAddress(req.Caller),
			req.OrderID,
		)
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, map[string]string{"status": "cancelled"})
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req SwapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	caller := common.HexToAddress(req.Caller)
	recipient := caller
	if req.Recipient != "" {
		recipient = common.HexToAddress(req.Recipient)
	}
	var out int64
	err := s.seq.Do(r.Context(), func() error {
		var err error
		out, err = s.ex.Swap(caller,
			common.HexToAddress(req.Src),
			common.HexToAddress(req.Dst),
			req.AmountIn, req.MinOut, recipient)
		return err
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, SwapResponse{AmountOut: out})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req QuoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	var minOut int64
	err := s.seq.Do(r.Context(), func() error {
		var err error
		minOut, err = s.ex.QuoteSwap(
			common.HexToAddress(req.Src),
			common.HexToAddress(req.Dst),
			req.AmountIn, req.SlippageBps)
		return err
	})
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, QuoteResponse{MinOut: minOut})
}

// ---- helpers ----

func toBookLevels(levels []book.LevelInfo) []BookLevel {
	out := make([]BookLevel, len(levels))
	for i, lv := range levels {
		out[i] = BookLevel{Price: lv.Price, Volume: lv.Volume, Count: lv.Count}
	}
	return out
}

func toOrderInfo(o book.Order) OrderInfo {
	return OrderInfo{
		ID:        o.ID,
		Owner:     o.Owner.Hex(),
		Side:      o.Side.String(),
		Type:      o.Type.String(),
		Price:     o.Price,
		Qty:       o.Qty,
		Filled:    o.Filled,
		Remaining: o.Remaining(),
		Status:    o.Status.String(),
	}
}

func parseSide(s string) (book.Side, error) {
	switch s {
	case "buy", "BUY", "bid":
		return book.Buy, nil
	case "sell", "SELL", "ask":
		return book.Sell, nil
	default:
		return 0, errors.New("side must be buy or sell")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg, details string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: msg, Details: details})
}

// respondEngineError maps engine sentinels onto HTTP status codes.
func respondEngineError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pool.ErrPoolNotFound),
		errors.Is(err, book.ErrOrderNotFound),
		errors.Is(err, exchange.ErrNoRoute):
		status = http.StatusNotFound
	case errors.Is(err, pool.ErrValidation),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, book.ErrOrderNotActive):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, exchange.ErrSlippage):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrUnauthorized),
		errors.Is(err, exchange.ErrNotOwner):
		status = http.StatusForbidden
	case errors.Is(err, pool.ErrPoolExists):
		status = http.StatusConflict
	}
	respondError(w, status, err.Error(), "")
}
