package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store is the pebble-backed persistence layer for ledger accounts and
// operator grants. All writes are synchronous; the ledger only flushes
// after an operation has committed.
type Store struct {
	db *pebble.DB
}

// Grant is a persisted (owner, operator) capability.
type Grant struct {
	Owner    common.Address `json:"owner"`
	Operator common.Address `json:"operator"`
}

// OpenStore opens (or creates) a pebble database at path.
func OpenStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20),
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAccount persists one account record.
func (s *Store) SaveAccount(acc *Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return s.db.Set(accountKey(acc.Owner, acc.Currency), data, pebble.Sync)
}

// LoadAccounts scans every persisted account.
func (s *Store) LoadAccounts() ([]*Account, error) {
	iter, err := s.db.NewIter(prefixIterOptions(accountPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []*Account
	for iter.First(); iter.Valid(); iter.Next() {
		var acc Account
		if err := json.Unmarshal(iter.Value(), &acc); err != nil {
			return nil, fmt.Errorf("unmarshal account at %q: %w", iter.Key(), err)
		}
		if acc.Locked == nil {
			acc.Locked = make(map[common.Address]int64)
		}
		out = append(out, &acc)
	}
	return out, nil
}

// SaveGrant persists or deletes one capability entry.
func (s *Store) SaveGrant(owner, operator common.Address, granted bool) error {
	key := grantDBKey(owner, operator)
	if !granted {
		return s.db.Delete(key, pebble.Sync)
	}
	data, err := json.Marshal(Grant{Owner: owner, Operator: operator})
	if err != nil {
		return fmt.Errorf("marshal grant: %w", err)
	}
	return s.db.Set(key, data, pebble.Sync)
}

// LoadGrants scans every persisted capability.
func (s *Store) LoadGrants() ([]Grant, error) {
	iter, err := s.db.NewIter(prefixIterOptions(grantPrefix))
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Grant
	for iter.First(); iter.Valid(); iter.Next() {
		var g Grant
		if err := json.Unmarshal(iter.Value(), &g); err != nil {
			return nil, fmt.Errorf("unmarshal grant at %q: %w", iter.Key(), err)
		}
		out = append(out, g)
	}
	return out, nil
}
