package book

// Simulation walks mirror the crossing loop in Place (same trees, same
// best-first ordering, same maker-price execution) without committing any
// state change. They back swap estimation and the quote endpoint.

// SimulateBuy estimates how much base a market buy can take out of the ask
// side for a given quote budget. Per-level takes are floored to lot
// multiples. Returns the base obtained and the quote actually spent.
func (b *OrderBook) SimulateBuy(quoteBudget, lotSize int64) (baseOut, quoteSpent int64) {
	if quoteBudget <= 0 || lotSize <= 0 {
		return 0, 0
	}
	remaining := quoteBudget
	b.asks.Ascend(func(lv *level) bool {
		if lv.price <= 0 {
			return false
		}
		affordable := remaining / lv.price
		affordable -= affordable % lotSize
		take := min(affordable, lv.openQty)
		take -= take % lotSize
		if take <= 0 {
			return false
		}
		baseOut += take
		quoteSpent += take * lv.price
		remaining -= take * lv.price
		return remaining > 0
	})
	return baseOut, quoteSpent
}

// SimulateSell estimates the quote proceeds of a market sell of baseQty
// against the bid side. Returns the quote obtained and the base consumed.
func (b *OrderBook) SimulateSell(baseQty int64) (quoteOut, baseUsed int64) {
	if baseQty <= 0 {
		return 0, 0
	}
	remaining := baseQty
	b.bids.Ascend(func(lv *level) bool {
		take := min(remaining, lv.openQty)
		if take <= 0 {
			return false
		}
		quoteOut += take * lv.price
		baseUsed += take
		remaining -= take
		return remaining > 0
	})
	return quoteOut, baseUsed
}
