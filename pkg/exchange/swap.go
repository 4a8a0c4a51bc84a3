package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/scalex/core/pkg/exchange/book"
	"github.com/scalex/core/pkg/exchange/pool"
)

// hop is one market-order leg of a swap route: Buy spends the pool's quote
// currency for base, Sell spends base for quote.
type hop struct {
	pool *pool.Pool
	side book.Side
}

// in returns the currency this hop consumes.
func (h hop) in() common.Address {
	if h.side == book.Buy {
		return h.pool.Quote
	}
	return h.pool.Base
}

// out returns the currency this hop produces.
func (h hop) out() common.Address {
	if h.side == book.Buy {
		return h.pool.Base
	}
	return h.pool.Quote
}

// directHop finds a single pool converting from -> to.
func (e *Exchange) directHop(from, to common.Address) (hop, bool) {
	if p, err := e.registry.Get(to, from); err == nil {
		return hop{pool: p, side: book.Buy}, true
	}
	if p, err := e.registry.Get(from, to); err == nil {
		return hop{pool: p, side: book.Sell}, true
	}
	return hop{}, false
}

// findRoute returns the hop sequence from src to dst: the direct pool when
// one exists, otherwise a two-hop route through the first intermediate
// currency (in the registry's deterministic order) pooled against both.
func (e *Exchange) findRoute(src, dst common.Address) ([]hop, error) {
	if h, ok := e.directHop(src, dst); ok {
		return []hop{h}, nil
	}
	for _, p := range e.registry.List() {
		var mid common.Address
		switch {
		case p.Base == src:
			mid = p.Quote
		case p.Quote == src:
			mid = p.Base
		default:
			continue
		}
		if mid == dst {
			continue
		}
		first, _ := e.directHop(src, mid)
		if second, ok := e.directHop(mid, dst); ok {
			return []hop{first, second}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, src.Hex(), dst.Hex())
}

// Swap converts amountIn of src into dst for the caller by executing market
// orders along the route, then asserts the realized output (after fees)
// meets minOut. On a slippage failure every effect of the call is reverted:
// fills, locks and balance moves on every touched pool.
//
// The realized output lands in the caller's available balance and is
// transferred to recipient when the two differ.
func (e *Exchange) Swap(caller, src, dst common.Address, amountIn, minOut int64, recipient common.Address) (int64, error) {
	if amountIn <= 0 {
		return 0, fmt.Errorf("%w: swap input %d", pool.ErrValidation, amountIn)
	}
	if minOut < 0 {
		return 0, fmt.Errorf("%w: negative minOut %d", pool.ErrValidation, minOut)
	}
	route, err := e.findRoute(src, dst)
	if err != nil {
		return 0, err
	}

	pools := make([]*pool.Pool, len(route))
	for i, h := range route {
		pools[i] = h.pool
	}

	type legFills struct {
		p     *pool.Pool
		fills []book.Fill
	}
	var (
		out  int64
		legs []legFills
	)
	err = e.atomically(pools, func() error {
		legs = legs[:0]
		amt := amountIn
		for _, h := range route {
			got, fills, err := e.swapHop(caller, h, amt)
			if err != nil {
				return err
			}
			legs = append(legs, legFills{p: h.pool, fills: fills})
			amt = got
		}
		out = amt
		if out < minOut {
			return fmt.Errorf("%w: realized %d below minimum %d", ErrSlippage, out, minOut)
		}
		if recipient != caller && out > 0 {
			return e.ledger.Transfer(e.operator, caller, recipient, dst, out)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, leg := range legs {
		e.recordFills(leg.p, leg.fills)
	}
	e.log.Info("swap",
		zap.String("src", src.Hex()),
		zap.String("dst", dst.Hex()),
		zap.Int64("in", amountIn),
		zap.Int64("out", out),
		zap.Int("hops", len(route)))
	return out, nil
}

// swapHop executes one market-order leg and returns the caller's realized
// receipt after taker fees. A hop with no executable size returns zero
// output without error; the caller's minOut check decides the outcome.
func (e *Exchange) swapHop(caller common.Address, h hop, amountIn int64) (int64, []book.Fill, error) {
	p := h.pool
	var qty int64
	if h.side == book.Buy {
		qty, _ = p.Book.SimulateBuy(amountIn, p.Rules.LotSize)
	} else {
		qty = amountIn - amountIn%p.Rules.LotSize
	}
	if qty < p.Rules.MinOrderSize {
		return 0, nil, nil
	}

	o := &book.Order{
		ID:        e.allocID(),
		Owner:     caller,
		Side:      h.side,
		Type:      book.Market,
		Qty:       qty,
		CreatedAt: e.now(),
	}
	fills, err := p.Book.Place(o, p.Rules, poolSettler{e: e, p: p})
	if err != nil {
		return 0, nil, err
	}

	// Mirror the ledger's per-fill fee arithmetic exactly: receipt is
	// amount - floor(amount * takerFeeBps / 10000) per fill.
	out := int64(0)
	for _, f := range fills {
		if h.side == book.Buy {
			out += f.Qty - f.Qty*p.Rules.TakerFeeBps/10000
		} else {
			notional := f.Qty * f.Price
			out += notional - notional*p.Rules.TakerFeeBps/10000
		}
	}
	return out, fills, nil
}

// QuoteSwap estimates the achievable output of a swap with the same
// crossing walk the execution path uses, then discounts it by slippageBps
// to produce a minOut bound for Swap. Advisory only: no state is touched.
func (e *Exchange) QuoteSwap(src, dst common.Address, amountIn, slippageBps int64) (int64, error) {
	if amountIn <= 0 {
		return 0, fmt.Errorf("%w: swap input %d", pool.ErrValidation, amountIn)
	}
	if slippageBps < 0 || slippageBps > 10000 {
		return 0, fmt.Errorf("%w: slippage bps out of range [0,10000]: %d", pool.ErrValidation, slippageBps)
	}
	route, err := e.findRoute(src, dst)
	if err != nil {
		return 0, err
	}

	amt := amountIn
	for _, h := range route {
		p := h.pool
		if h.side == book.Buy {
			base, _ := p.Book.SimulateBuy(amt, p.Rules.LotSize)
			amt = base - base*p.Rules.TakerFeeBps/10000
		} else {
			qty := amt - amt%p.Rules.LotSize
			quoteOut, _ := p.Book.SimulateSell(qty)
			amt = quoteOut - quoteOut*p.Rules.TakerFeeBps/10000
		}
	}
	return amt * (10000 - slippageBps) / 10000, nil
}
