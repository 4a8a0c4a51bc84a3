package pool

import (
	"errors"
	"fmt"
)

// ErrValidation is the base error for order parameters that violate the
// pool's trading rules. Callers match it with errors.Is.
var ErrValidation = errors.New("validation error")

// TradingRules fixes the precision and fee schedule of one pool.
// All fields are immutable after the pool is created.
type TradingRules struct {
	// TickSize: minimum price increment. All prices are integer ticks and
	// must be multiples of this.
	TickSize int64

	// LotSize: minimum quantity increment. All quantities are integer lots
	// and must be multiples of this.
	LotSize int64

	// MinOrderSize: smallest accepted order quantity in lots.
	MinOrderSize int64

	// MinNotional: minimum order value (price x qty) in quote units.
	// Prevents dust orders.
	MinNotional int64

	// Fees in basis points, deducted from each party's receipt.
	// Never negative: a fee reduces proceeds, it never pays the payer.
	MakerFeeBps int64
	TakerFeeBps int64
}

// DefaultRules returns the rule set used for newly listed pools unless the
// operator overrides them.
var DefaultRules = TradingRules{
	TickSize:     1,
	LotSize:      1,
	MinOrderSize: 1,
	MinNotional:  0,
	MakerFeeBps:  2,
	TakerFeeBps:  5,
}

// Validate checks the rule set itself at pool creation time.
func (r TradingRules) Validate() error {
	if r.TickSize <= 0 {
		return fmt.Errorf("%w: tick size must be positive, got %d", ErrValidation, r.TickSize)
	}
	if r.LotSize <= 0 {
		return fmt.Errorf("%w: lot size must be positive, got %d", ErrValidation, r.LotSize)
	}
	if r.MinOrderSize <= 0 {
		return fmt.Errorf("%w: min order size must be positive, got %d", ErrValidation, r.MinOrderSize)
	}
	if r.MinNotional < 0 {
		return fmt.Errorf("%w: min notional cannot be negative, got %d", ErrValidation, r.MinNotional)
	}
	if r.MakerFeeBps < 0 || r.MakerFeeBps >= 10000 {
		return fmt.Errorf("%w: maker fee out of range [0,10000): %d", ErrValidation, r.MakerFeeBps)
	}
	if r.TakerFeeBps < 0 || r.TakerFeeBps >= 10000 {
		return fmt.Errorf("%w: taker fee out of range [0,10000): %d", ErrValidation, r.TakerFeeBps)
	}
	return nil
}

// CheckOrder validates an incoming order's price and quantity against the
// rules. price == 0 means a market order: the price checks are skipped and
// the notional floor is not enforceable up front.
func (r TradingRules) CheckOrder(price, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", ErrValidation, qty)
	}
	if qty < r.MinOrderSize {
		return fmt.Errorf("%w: quantity %d below minimum %d", ErrValidation, qty, r.MinOrderSize)
	}
	if qty%r.LotSize != 0 {
		return fmt.Errorf("%w: quantity %d not a multiple of lot size %d", ErrValidation, qty, r.LotSize)
	}
	if price == 0 {
		return nil
	}
	if price < 0 {
		return fmt.Errorf("%w: price cannot be negative, got %d", ErrValidation, price)
	}
	if price%r.TickSize != 0 {
		return fmt.Errorf("%w: price %d not a multiple of tick size %d", ErrValidation, price, r.TickSize)
	}
	if price*qty < r.MinNotional {
		return fmt.Errorf("%w: notional %d below minimum %d", ErrValidation, price*qty, r.MinNotional)
	}
	return nil
}
