// Package history persists executed fills to pebble so the API can serve
// recent trades across restarts. Records are append-only, keyed by a
// monotonic sequence number zero-padded for lexicographic order.
package history

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Trade is one persisted fill.
type Trade struct {
	Seq       uint64         `json:"seq"`
	Base      common.Address `json:"base"`
	Quote     common.Address `json:"quote"`
	Price     int64          `json:"price"`
	Qty       int64          `json:"qty"`
	TakerSide string         `json:"takerSide"`
	Taker     common.Address `json:"taker"`
	Maker     common.Address `json:"maker"`
	TakerID   uint64         `json:"takerOrderId"`
	MakerID   uint64         `json:"makerOrderId"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
}

const tradePrefix = "trade:"

func tradeKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", tradePrefix, seq))
}

// Store is the pebble-backed trade log.
type Store struct {
	db      *pebble.DB
	nextSeq uint64
}

// Open opens (or creates) the trade log at path and recovers the next
// sequence number from the last persisted key.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(32 << 20),
		MaxOpenFiles: 500,
	})
	if err != nil {
		return nil, fmt.Errorf("open trade log at %s: %w", path, err)
	}
	s := &Store{db: db, nextSeq: 1}

	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(tradePrefix),
		UpperBound: []byte(tradePrefix + "~"),
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	defer iter.Close()
	if iter.Last() && iter.Valid() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err == nil {
			s.nextSeq = t.Seq + 1
		}
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append assigns the trade its sequence number and persists it.
func (s *Store) Append(t Trade) (Trade, error) {
	t.Seq = s.nextSeq
	data, err := json.Marshal(t)
	if err != nil {
		return t, fmt.Errorf("marshal trade: %w", err)
	}
	if err := s.db.Set(tradeKey(t.Seq), data, pebble.Sync); err != nil {
		return t, fmt.Errorf("append trade %d: %w", t.Seq, err)
	}
	s.nextSeq++
	return t, nil
}

// Recent returns up to n trades, newest first.
func (s *Store) Recent(n int) ([]Trade, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(tradePrefix),
		UpperBound: []byte(tradePrefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make([]Trade, 0, n)
	for ok := iter.Last(); ok && len(out) < n; ok = iter.Prev() {
		var t Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			return nil, fmt.Errorf("unmarshal trade at %q: %w", iter.Key(), err)
		}
		out = append(out, t)
	}
	return out, nil
}
