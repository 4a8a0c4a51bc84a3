package book

import (
	"github.com/ethereum/go-ethereum/common"
)

// Side of an order relative to the base asset.
type Side int8

const (
	Buy  Side = 1
	Sell Side = -1
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

// Opposite returns the other side.
func (s Side) Opposite() Side { return -s }

// OrderType distinguishes resting-capable limit orders from
// immediate-or-cancel market orders.
type OrderType int8

const (
	Limit OrderType = iota
	Market
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return "unknown"
	}
}

// TimeInForce for limit orders. Only GTC is settled today; IOC/FOK are
// extension points and rejected at validation.
type TimeInForce int8

const (
	GTC TimeInForce = iota
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	default:
		return "unknown"
	}
}

// Status is the lifecycle state of an order.
//
// Open -> PartiallyFilled -> Filled (terminal)
// Open | PartiallyFilled -> Cancelled (terminal)
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is one entry in the book's flat order table. Queue membership is
// expressed through prev/next ids rather than pointers, so a record can be
// copied freely and terminal records can be kept for history.
type Order struct {
	ID    uint64
	Owner common.Address
	Side  Side
	Type  OrderType
	TIF   TimeInForce

	Price  int64 // limit price in ticks; 0 for market orders
	Qty    int64 // original quantity in lots
	Filled int64 // quantity filled so far, never exceeds Qty

	Status Status

	// FIFO queue links within the order's price level. Zero means none;
	// order ids start at 1.
	prev, next uint64

	CreatedAt int64 // unix milliseconds
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() int64 { return o.Qty - o.Filled }

// IsClosed reports whether the order is in a terminal state.
func (o *Order) IsClosed() bool {
	return o.Status == Filled || o.Status == Cancelled
}

// Resting reports whether the order currently rests in a price level queue.
func (o *Order) Resting() bool {
	return o.Type == Limit && !o.IsClosed()
}

// Fill is one match between an incoming taker order and a resting maker
// order. Price is always the maker's price.
type Fill struct {
	TakerID   uint64
	MakerID   uint64
	Taker     common.Address
	Maker     common.Address
	TakerSide Side
	Price     int64
	Qty       int64
}
