// Package exchange is the public entry surface of the trading core. It
// combines the pool registry, the order books and the balance ledger into
// the common flows: deposit-and-place, limit/market placement, cancel and
// slippage-guarded swaps.
//
// Every mutating operation runs under a snapshot/commit-or-discard wrapper:
// the ledger and the touched books are deep-copied up front and restored on
// any error, so a failed request never leaves a partial fill or a partial
// ledger mutation behind. The Exchange itself carries no lock; it is owned
// by a single writer (see the sequencer package).
package exchange

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/scalex/core/pkg/exchange/book"
	"github.com/scalex/core/pkg/exchange/history"
	"github.com/scalex/core/pkg/exchange/ledger"
	"github.com/scalex/core/pkg/exchange/pool"
)

var (
	// ErrNotOwner is returned when a caller cancels an order it neither
	// owns nor operates.
	ErrNotOwner = errors.New("caller is not the order owner")
	// ErrSlippage is returned when a swap's realized output falls below
	// the caller-supplied minimum; the whole call is reverted.
	ErrSlippage = errors.New("slippage exceeded")
	// ErrNoRoute is returned when no pool path connects two currencies.
	ErrNoRoute = errors.New("no route between currencies")
)

// Exchange is the trading facade over one registry and one ledger.
type Exchange struct {
	registry   *pool.Registry
	ledger     *ledger.Ledger
	trades     *history.Store // optional trade log
	operator   common.Address // identity used for ledger locks and settles
	feeAccount common.Address
	nextID     uint64
	log        *zap.Logger
	onTrade    func(history.Trade)
	now        func() int64
}

// New wires a facade. operator is the address the engine acts under in the
// ledger's capability table; owners must approve it before trading.
func New(registry *pool.Registry, led *ledger.Ledger, operator, feeAccount common.Address, log *zap.Logger) *Exchange {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exchange{
		registry:   registry,
		ledger:     led,
		operator:   operator,
		feeAccount: feeAccount,
		log:        log,
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// SetTradeLog attaches a persistent trade log.
func (e *Exchange) SetTradeLog(s *history.Store) { e.trades = s }

// SetTradeHook registers a callback invoked after each committed fill.
// Used by the websocket hub.
func (e *Exchange) SetTradeHook(fn func(history.Trade)) { e.onTrade = fn }

// Operator returns the engine's ledger identity.
func (e *Exchange) Operator() common.Address { return e.operator }

// Registry exposes the pool registry for read-only callers.
func (e *Exchange) Registry() *pool.Registry { return e.registry }

// Ledger exposes the balance ledger for read-only callers.
func (e *Exchange) Ledger() *ledger.Ledger { return e.ledger }

// CreatePool registers a new trading pool.
func (e *Exchange) CreatePool(base, quote common.Address, rules pool.TradingRules) (*pool.Pool, error) {
	p, err := e.registry.Create(base, quote, rules)
	if err != nil {
		return nil, err
	}
	e.log.Info("pool created",
		zap.String("pair", p.Symbol()),
		zap.Int64("tickSize", rules.TickSize),
		zap.Int64("lotSize", rules.LotSize))
	return p, nil
}

// ApproveOperator grants the engine the right to lock and settle the
// owner's balances. Required before the owner can trade.
func (e *Exchange) ApproveOperator(owner common.Address) {
	e.ledger.Approve(owner, e.operator)
}

// RevokeOperator removes the engine's grant for an owner.
func (e *Exchange) RevokeOperator(owner common.Address) {
	e.ledger.Revoke(owner, e.operator)
}

// Deposit credits the owner's available balance. Also the entry point used
// by the bridging subsystem for inbound transfers.
func (e *Exchange) Deposit(owner, currency common.Address, amount int64) error {
	if err := e.ledger.Deposit(owner, currency, amount); err != nil {
		return err
	}
	e.flush()
	return nil
}

// Withdraw debits the owner's available balance.
func (e *Exchange) Withdraw(owner, currency common.Address, amount int64) error {
	if err := e.ledger.Withdraw(owner, currency, amount); err != nil {
		return err
	}
	e.flush()
	return nil
}

type lockKey struct {
	owner    common.Address
	currency common.Address
}

// ReconcileLocks releases engine-held locks that no resting order backs.
// Order books live in memory only, so after a restart the persisted ledger
// can carry locks whose orders are gone; without this pass that collateral
// is stranded forever. Run once at startup, before the sequencer accepts
// requests.
func (e *Exchange) ReconcileLocks() error {
	backed := make(map[lockKey]int64)
	for _, p := range e.registry.List() {
		quote, base := p.Quote, p.Base
		p.Book.EachResting(func(o book.Order) {
			if o.Side == book.Buy {
				backed[lockKey{o.Owner, quote}] += o.Remaining() * o.Price
			} else {
				backed[lockKey{o.Owner, base}] += o.Remaining()
			}
		})
	}

	released := 0
	for _, le := range e.ledger.LockedByOperator(e.operator) {
		excess := le.Amount - backed[lockKey{le.Owner, le.Currency}]
		if excess <= 0 {
			continue
		}
		if err := e.ledger.ReleaseLock(e.operator, le.Owner, le.Currency, excess); err != nil {
			return err
		}
		e.log.Warn("released stranded lock",
			zap.String("owner", le.Owner.Hex()),
			zap.String("currency", le.Currency.Hex()),
			zap.Int64("amount", excess))
		released++
	}
	if released == 0 {
		return nil
	}
	return e.ledger.Flush()
}

// PlaceLimitOrder places a GTC limit order, crossing what it can and
// resting the remainder. Returns the order id and the fills produced.
func (e *Exchange) PlaceLimitOrder(base, quote, owner common.Address, side book.Side, price, qty int64, tif book.TimeInForce) (uint64, []book.Fill, error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return 0, nil, err
	}
	o := &book.Order{
		ID:        e.allocID(),
		Owner:     owner,
		Side:      side,
		Type:      book.Limit,
		TIF:       tif,
		Price:     price,
		Qty:       qty,
		CreatedAt: e.now(),
	}
	fills, err := e.place(p, o)
	if err != nil {
		return 0, nil, err
	}
	return o.ID, fills, nil
}

// PlaceMarketOrder places an immediate-or-cancel market order. The unfilled
// remainder is dropped, never rested.
func (e *Exchange) PlaceMarketOrder(base, quote, owner common.Address, side book.Side, qty int64) (uint64, []book.Fill, error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return 0, nil, err
	}
	o := &book.Order{
		ID:        e.allocID(),
		Owner:     owner,
		Side:      side,
		Type:      book.Market,
		Qty:       qty,
		CreatedAt: e.now(),
	}
	fills, err := e.place(p, o)
	if err != nil {
		return 0, nil, err
	}
	return o.ID, fills, nil
}

// PlaceOrderWithDeposit deposits the side-appropriate currency into the
// owner's account and places a limit order, all as one atomic operation.
func (e *Exchange) PlaceOrderWithDeposit(base, quote, owner common.Address, side book.Side, price, qty int64, tif book.TimeInForce, depositAmount int64) (uint64, []book.Fill, error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return 0, nil, err
	}
	o := &book.Order{
		ID:        e.allocID(),
		Owner:     owner,
		Side:      side,
		Type:      book.Limit,
		TIF:       tif,
		Price:     price,
		Qty:       qty,
		CreatedAt: e.now(),
	}
	var fills []book.Fill
	err = e.atomically([]*pool.Pool{p}, func() error {
		currency := p.Quote
		if side == book.Sell {
			currency = p.Base
		}
		if err := e.ledger.Deposit(owner, currency, depositAmount); err != nil {
			return err
		}
		var err error
		fills, err = e.executePlacement(p, o)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	e.recordFills(p, fills)
	return o.ID, fills, nil
}

// CancelOrder verifies ownership, splices the order out of its level and
// releases the ledger lock backing its unfilled remainder.
func (e *Exchange) CancelOrder(base, quote, caller common.Address, id uint64) error {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return err
	}
	o, ok := p.Book.Order(id)
	if !ok {
		return fmt.Errorf("%w: id %d", book.ErrOrderNotFound, id)
	}
	if caller != o.Owner && !e.ledger.IsApproved(o.Owner, caller) {
		return fmt.Errorf("%w: %s cancelling order of %s", ErrNotOwner, caller.Hex(), o.Owner.Hex())
	}
	err = e.atomically([]*pool.Pool{p}, func() error {
		cancelled, err := p.Book.Cancel(id)
		if err != nil {
			return err
		}
		rem := cancelled.Remaining()
		if rem == 0 {
			return nil
		}
		if cancelled.Side == book.Buy {
			return e.ledger.Unlock(e.operator, cancelled.Owner, p.Quote, rem*cancelled.Price)
		}
		return e.ledger.Unlock(e.operator, cancelled.Owner, p.Base, rem)
	})
	if err != nil {
		return err
	}
	e.log.Info("order cancelled", zap.Uint64("id", id), zap.String("pair", p.Symbol()))
	return nil
}

// Order returns the order record, resting or terminal.
func (e *Exchange) Order(base, quote common.Address, id uint64) (book.Order, error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return book.Order{}, err
	}
	o, ok := p.Book.Order(id)
	if !ok {
		return book.Order{}, fmt.Errorf("%w: id %d", book.ErrOrderNotFound, id)
	}
	return o, nil
}

// Best returns the best price and open quantity on one side of a pool.
func (e *Exchange) Best(base, quote common.Address, side book.Side) (price, volume int64, err error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return 0, 0, err
	}
	price, volume, _ = p.Book.Best(side)
	return price, volume, nil
}

// PriceLevel returns the order count and open quantity at an exact price.
func (e *Exchange) PriceLevel(base, quote common.Address, side book.Side, price int64) (count int, volume int64, err error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return 0, 0, err
	}
	count, volume, _ = p.Book.Level(side, price)
	return count, volume, nil
}

// Depth returns the n best levels per side of a pool.
func (e *Exchange) Depth(base, quote common.Address, n int) (bids, asks []book.LevelInfo, err error) {
	p, err := e.registry.Get(base, quote)
	if err != nil {
		return nil, nil, err
	}
	return p.Book.Depth(book.Buy, n), p.Book.Depth(book.Sell, n), nil
}

// RecentTrades reads the newest n fills from the trade log.
func (e *Exchange) RecentTrades(n int) ([]history.Trade, error) {
	if e.trades == nil {
		return nil, nil
	}
	return e.trades.Recent(n)
}

// place runs one placement under the snapshot wrapper and records fills.
func (e *Exchange) place(p *pool.Pool, o *book.Order) ([]book.Fill, error) {
	var fills []book.Fill
	err := e.atomically([]*pool.Pool{p}, func() error {
		var err error
		fills, err = e.executePlacement(p, o)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.recordFills(p, fills)
	return fills, nil
}

// executePlacement matches the order and locks collateral for any resting
// remainder. Must run inside the snapshot wrapper.
func (e *Exchange) executePlacement(p *pool.Pool, o *book.Order) ([]book.Fill, error) {
	fills, err := p.Book.Place(o, p.Rules, poolSettler{e: e, p: p})
	if err != nil {
		return nil, err
	}
	if o.Resting() {
		if o.Side == book.Buy {
			err = e.ledger.Lock(e.operator, o.Owner, p.Quote, o.Remaining()*o.Price)
		} else {
			err = e.ledger.Lock(e.operator, o.Owner, p.Base, o.Remaining())
		}
		if err != nil {
			return nil, err
		}
	}
	return fills, nil
}

// poolSettler settles one fill against the ledger: a just-in-time lock of
// the taker's pay leg, then two locked-to-available settles. The fee on
// each leg is charged to the receiving party's role (maker or taker) and
// reduces the receipt, never the payer's cost.
type poolSettler struct {
	e *Exchange
	p *pool.Pool
}

func (s poolSettler) SettleFill(taker, maker *book.Order, price, qty int64) error {
	e, p := s.e, s.p
	notional := price * qty

	buyer, seller := taker, maker
	if taker.Side == book.Sell {
		buyer, seller = maker, taker
	}
	buyerFee := p.Rules.MakerFeeBps
	if buyer == taker {
		buyerFee = p.Rules.TakerFeeBps
	}
	sellerFee := p.Rules.MakerFeeBps
	if seller == taker {
		sellerFee = p.Rules.TakerFeeBps
	}

	// Taker collateral is locked fill-by-fill at the execution price; the
	// maker's was locked when its order rested.
	if taker.Side == book.Buy {
		if err := e.ledger.Lock(e.operator, taker.Owner, p.Quote, notional); err != nil {
			return err
		}
	} else {
		if err := e.ledger.Lock(e.operator, taker.Owner, p.Base, qty); err != nil {
			return err
		}
	}

	// Quote leg: buyer pays the seller.
	if err := e.ledger.Settle(e.operator, buyer.Owner, seller.Owner, p.Quote, notional, sellerFee, e.feeAccount); err != nil {
		return err
	}
	// Base leg: seller pays the buyer.
	return e.ledger.Settle(e.operator, seller.Owner, buyer.Owner, p.Base, qty, buyerFee, e.feeAccount)
}

// recordFills appends committed fills to the trade log, notifies the trade
// hook and logs them. Called only after a successful commit.
func (e *Exchange) recordFills(p *pool.Pool, fills []book.Fill) {
	for _, f := range fills {
		t := history.Trade{
			Base:      p.Base,
			Quote:     p.Quote,
			Price:     f.Price,
			Qty:       f.Qty,
			TakerSide: f.TakerSide.String(),
			Taker:     f.Taker,
			Maker:     f.Maker,
			TakerID:   f.TakerID,
			MakerID:   f.MakerID,
			Timestamp: e.now(),
		}
		if e.trades != nil {
			stored, err := e.trades.Append(t)
			if err != nil {
				e.log.Error("append trade", zap.Error(err))
			} else {
				t = stored
			}
		}
		if e.onTrade != nil {
			e.onTrade(t)
		}
		e.log.Info("fill",
			zap.String("pair", p.Symbol()),
			zap.Int64("price", f.Price),
			zap.Int64("qty", f.Qty),
			zap.Uint64("taker", f.TakerID),
			zap.Uint64("maker", f.MakerID))
	}
}

func (e *Exchange) allocID() uint64 {
	e.nextID++
	return e.nextID
}

// atomically snapshots the ledger and the given pools' books, runs fn and
// either commits (flushing dirty ledger accounts) or restores everything.
func (e *Exchange) atomically(pools []*pool.Pool, fn func() error) error {
	snap := e.ledger.Snapshot()
	saved := make(map[*pool.Pool]*book.OrderBook, len(pools))
	for _, p := range pools {
		saved[p] = p.Book.Clone()
	}
	if err := fn(); err != nil {
		e.ledger.Restore(snap)
		for p, b := range saved {
			p.Book = b
		}
		return err
	}
	e.flush()
	return nil
}

// flush persists committed ledger state. A flush failure is logged, never
// returned: the in-memory state is authoritative and a returned error must
// always mean nothing happened, or a retrying caller would double-apply.
func (e *Exchange) flush() {
	if err := e.ledger.Flush(); err != nil {
		e.log.Error("ledger flush", zap.Error(err))
	}
}
