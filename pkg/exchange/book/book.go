package book

import (
	"errors"
	"fmt"

	"github.com/google/btree"
)

var (
	// ErrOrderNotFound is returned for ids the book has never seen.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderNotActive is returned when cancelling an order that is
	// already filled or cancelled.
	ErrOrderNotActive = errors.New("order not active")
)

// RuleChecker validates an incoming order's price and quantity. Satisfied by
// pool.TradingRules.
type RuleChecker interface {
	CheckOrder(price, qty int64) error
}

// Settler is invoked once per fill, before the fill is applied to either
// order. A settlement error aborts the whole placement; the caller is
// expected to discard any partial state via its snapshot wrapper.
type Settler interface {
	SettleFill(taker, maker *Order, price, qty int64) error
}

// OrderBook is a price-time-priority matching engine for one trading pool.
//
// Orders live in a flat table keyed by id; FIFO queues within a price level
// are threaded through prev/next ids. Price levels sit in one btree per
// side, ordered best-first. The book has no internal locking: the engine is
// driven by a single writer (see the sequencer package).
type OrderBook struct {
	bids   *btree.BTreeG[*level]
	asks   *btree.BTreeG[*level]
	orders map[uint64]*Order // includes terminal records, kept for history
}

// New creates an empty order book.
func New() *OrderBook {
	return &OrderBook{
		bids:   newSideTree(Buy),
		asks:   newSideTree(Sell),
		orders: make(map[uint64]*Order),
	}
}

func (b *OrderBook) tree(side Side) *btree.BTreeG[*level] {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// crosses reports whether a taker at limit price p may trade against a
// resting level. Market orders (price 0) cross any level.
func crosses(o *Order, levelPrice int64) bool {
	if o.Type == Market {
		return true
	}
	if o.Side == Buy {
		return o.Price >= levelPrice
	}
	return o.Price <= levelPrice
}

// Place validates the incoming order, crosses it against the opposing side
// and rests any limit remainder. The settler is called once per fill with
// the maker's price; a settler error aborts matching immediately.
//
// The caller assigns the order id before calling Place; ids must be unique
// and monotonically increasing, as they double as the FIFO tie-break.
func (b *OrderBook) Place(o *Order, rules RuleChecker, s Settler) ([]Fill, error) {
	if o.ID == 0 {
		return nil, fmt.Errorf("order id must be assigned before placement")
	}
	if _, exists := b.orders[o.ID]; exists {
		return nil, fmt.Errorf("duplicate order id %d", o.ID)
	}
	if o.Type == Limit && o.TIF != GTC {
		return nil, fmt.Errorf("unsupported time in force %v", o.TIF)
	}
	if o.Type == Limit && o.Price <= 0 {
		return nil, fmt.Errorf("limit order requires a positive price")
	}
	if rules != nil {
		price := o.Price
		if o.Type == Market {
			price = 0
		}
		if err := rules.CheckOrder(price, o.Qty); err != nil {
			return nil, err
		}
	}

	fills, err := b.cross(o, s)
	if err != nil {
		return fills, err
	}

	switch {
	case o.Remaining() == 0:
		o.Status = Filled
	case o.Type == Market:
		// Unfilled market remainder is dropped, never rested.
		o.Status = Cancelled
	default:
		if o.Filled > 0 {
			o.Status = PartiallyFilled
		} else {
			o.Status = Open
		}
		b.rest(o)
	}

	b.orders[o.ID] = o
	return fills, nil
}

// cross consumes opposing liquidity best level first, FIFO head first within
// each level. Execution price is always the resting order's price.
func (b *OrderBook) cross(o *Order, s Settler) ([]Fill, error) {
	var fills []Fill
	opp := b.tree(o.Side.Opposite())

	for o.Remaining() > 0 {
		lv, ok := opp.Min()
		if !ok || !crosses(o, lv.price) {
			break
		}

		for o.Remaining() > 0 && lv.head != 0 {
			maker := b.orders[lv.head]
			qty := min(o.Remaining(), maker.Remaining())

			if s != nil {
				if err := s.SettleFill(o, maker, lv.price, qty); err != nil {
					return fills, err
				}
			}

			o.Filled += qty
			maker.Filled += qty
			lv.openQty -= qty

			fills = append(fills, Fill{
				TakerID:   o.ID,
				MakerID:   maker.ID,
				Taker:     o.Owner,
				Maker:     maker.Owner,
				TakerSide: o.Side,
				Price:     lv.price,
				Qty:       qty,
			})

			if maker.Remaining() == 0 {
				maker.Status = Filled
				b.unlink(lv, maker)
			} else {
				// Partial fill keeps the maker at the head of the
				// queue; priority is never forfeited.
				maker.Status = PartiallyFilled
			}
		}

		if lv.count == 0 {
			opp.Delete(lv)
		}
	}

	return fills, nil
}

// rest appends the order to the tail of its own side's level at its limit
// price, creating the level if absent.
func (b *OrderBook) rest(o *Order) {
	own := b.tree(o.Side)
	probe := &level{price: o.Price}
	lv, ok := own.Get(probe)
	if !ok {
		lv = probe
		own.ReplaceOrInsert(lv)
	}

	o.prev, o.next = lv.tail, 0
	if lv.tail != 0 {
		b.orders[lv.tail].next = o.ID
	} else {
		lv.head = o.ID
	}
	lv.tail = o.ID
	lv.count++
	lv.openQty += o.Remaining()
}

// unlink splices an order out of its level queue and fixes neighbour links.
// The level's openQty contribution of the order must already be settled by
// the caller (fills decrement it fill-by-fill; cancel subtracts Remaining).
func (b *OrderBook) unlink(lv *level, o *Order) {
	if o.prev != 0 {
		b.orders[o.prev].next = o.next
	} else {
		lv.head = o.next
	}
	if o.next != 0 {
		b.orders[o.next].prev = o.prev
	} else {
		lv.tail = o.prev
	}
	o.prev, o.next = 0, 0
	lv.count--
}

// Cancel removes a resting order from its level, marks it cancelled and
// returns the record. The released quantity (Remaining at time of cancel)
// is the caller's to unlock in the ledger.
func (b *OrderBook) Cancel(id uint64) (*Order, error) {
	o, ok := b.orders[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrOrderNotFound, id)
	}
	if o.IsClosed() {
		return nil, fmt.Errorf("%w: id %d is %s", ErrOrderNotActive, id, o.Status)
	}

	own := b.tree(o.Side)
	lv, ok := own.Get(&level{price: o.Price})
	if !ok {
		return nil, fmt.Errorf("%w: id %d has no level at price %d", ErrOrderNotFound, id, o.Price)
	}

	lv.openQty -= o.Remaining()
	b.unlink(lv, o)
	if lv.count == 0 {
		own.Delete(lv)
	}

	o.Status = Cancelled
	return o, nil
}

// Order returns a copy of the order record, terminal or resting.
func (b *OrderBook) Order(id uint64) (Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

// EachResting invokes fn with a copy of every resting order. Iteration
// order is unspecified.
func (b *OrderBook) EachResting(fn func(Order)) {
	for _, o := range b.orders {
		if o.Resting() {
			fn(*o)
		}
	}
}

// Best returns the best price and aggregate open quantity on one side.
func (b *OrderBook) Best(side Side) (price, volume int64, ok bool) {
	lv, ok := b.tree(side).Min()
	if !ok {
		return 0, 0, false
	}
	return lv.price, lv.openQty, true
}

// Level returns the order count and open quantity at an exact price.
func (b *OrderBook) Level(side Side, price int64) (count int, volume int64, ok bool) {
	lv, ok := b.tree(side).Get(&level{price: price})
	if !ok {
		return 0, 0, false
	}
	return lv.count, lv.openQty, true
}

// Depth returns up to n best levels for one side, best first.
func (b *OrderBook) Depth(side Side, n int) []LevelInfo {
	out := make([]LevelInfo, 0, n)
	b.tree(side).Ascend(func(lv *level) bool {
		if len(out) >= n {
			return false
		}
		out = append(out, LevelInfo{Price: lv.price, Volume: lv.openQty, Count: lv.count})
		return true
	})
	return out
}

// Clone deep-copies the book: order records, queue links and both level
// trees. Used by the snapshot/commit-or-discard wrapper around public
// operations.
func (b *OrderBook) Clone() *OrderBook {
	c := &OrderBook{
		bids:   newSideTree(Buy),
		asks:   newSideTree(Sell),
		orders: make(map[uint64]*Order, len(b.orders)),
	}
	for id, o := range b.orders {
		cp := *o
		c.orders[id] = &cp
	}
	b.bids.Ascend(func(lv *level) bool {
		cp := *lv
		c.bids.ReplaceOrInsert(&cp)
		return true
	})
	b.asks.Ascend(func(lv *level) bool {
		cp := *lv
		c.asks.ReplaceOrInsert(&cp)
		return true
	})
	return c
}
