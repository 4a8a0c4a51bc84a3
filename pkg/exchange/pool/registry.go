package pool

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalex/core/pkg/exchange/book"
)

var (
	// ErrPoolExists is returned when creating a pool for a pair that is
	// already registered.
	ErrPoolExists = errors.New("pool already exists")
	// ErrPoolNotFound is returned for lookups of unregistered pairs.
	ErrPoolNotFound = errors.New("pool not found")
)

// Key identifies a pool by its ordered currency pair.
type Key struct {
	Base  common.Address
	Quote common.Address
}

// Pool pairs a base and quote currency with one order book and the trading
// rules fixed at creation. The pairing is immutable.
type Pool struct {
	Base  common.Address
	Quote common.Address
	Rules TradingRules
	Book  *book.OrderBook
}

// Symbol renders the pair as "0xBASE/0xQUOTE" for logs and the API.
func (p *Pool) Symbol() string {
	return p.Base.Hex() + "/" + p.Quote.Hex()
}

// Registry maps currency pairs to pools. Pools are created once and never
// removed; rule mutation is an administrative operation outside this core.
type Registry struct {
	pools map[Key]*Pool
}

// NewRegistry creates an empty pool registry.
func NewRegistry() *Registry {
	return &Registry{pools: make(map[Key]*Pool)}
}

// Create registers a new pool for (base, quote) and allocates its order
// book. The pair must be distinct and not yet registered, and the rules
// must be self-consistent.
func (r *Registry) Create(base, quote common.Address, rules TradingRules) (*Pool, error) {
	if base == quote {
		return nil, fmt.Errorf("%w: base and quote must differ (%s)", ErrValidation, base.Hex())
	}
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	k := Key{Base: base, Quote: quote}
	if _, exists := r.pools[k]; exists {
		return nil, fmt.Errorf("%w: %s/%s", ErrPoolExists, base.Hex(), quote.Hex())
	}
	p := &Pool{Base: base, Quote: quote, Rules: rules, Book: book.New()}
	r.pools[k] = p
	return p, nil
}

// Get returns the pool for (base, quote).
func (r *Registry) Get(base, quote common.Address) (*Pool, error) {
	p, ok := r.pools[Key{Base: base, Quote: quote}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrPoolNotFound, base.Hex(), quote.Hex())
	}
	return p, nil
}

// Exists reports whether a pool is registered for (base, quote).
func (r *Registry) Exists(base, quote common.Address) bool {
	_, ok := r.pools[Key{Base: base, Quote: quote}]
	return ok
}

// List returns all pools in a deterministic order (sorted by pair hex).
func (r *Registry) List() []*Pool {
	out := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Base != out[j].Base {
			return out[i].Base.Hex() < out[j].Base.Hex()
		}
		return out[i].Quote.Hex() < out[j].Quote.Hex()
	})
	return out
}

// Count returns the number of registered pools.
func (r *Registry) Count() int { return len(r.pools) }
