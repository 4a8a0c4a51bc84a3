package book

import (
	"github.com/google/btree"
)

// level is the FIFO queue of all resting orders at one price on one side.
// Orders are linked head-to-tail through their prev/next ids; head is the
// oldest order and is always consumed first. Link surgery lives on the
// OrderBook, which owns the order table the ids point into.
type level struct {
	price   int64
	head    uint64
	tail    uint64
	count   int
	openQty int64 // sum of Remaining() over all queued orders
}

// LevelInfo is the aggregate view of one price level, returned by depth
// queries.
type LevelInfo struct {
	Price  int64 `json:"price"`
	Volume int64 `json:"volume"`
	Count  int   `json:"count"`
}

const levelTreeDegree = 32

// newSideTree builds the ordered price-level map for one side. Both trees
// order levels best-first, so Min() is always the top of book: bids sort by
// descending price, asks by ascending price.
func newSideTree(side Side) *btree.BTreeG[*level] {
	if side == Buy {
		return btree.NewG(levelTreeDegree, func(a, b *level) bool { return a.price > b.price })
	}
	return btree.NewG(levelTreeDegree, func(a, b *level) bool { return a.price < b.price })
}
