package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Account holds one owner's balance in one currency: the freely spendable
// amount plus per-operator locked buckets. Created implicitly on first
// deposit and never destroyed.
type Account struct {
	Owner     common.Address           `json:"owner"`
	Currency  common.Address           `json:"currency"`
	Available int64                    `json:"available"`
	Locked    map[common.Address]int64 `json:"locked"` // operator -> locked amount
}

func newAccount(owner, currency common.Address) *Account {
	return &Account{
		Owner:    owner,
		Currency: currency,
		Locked:   make(map[common.Address]int64),
	}
}

// TotalLocked sums the locked buckets across all operators.
func (a *Account) TotalLocked() int64 {
	total := int64(0)
	for _, v := range a.Locked {
		total += v
	}
	return total
}

// Total is available plus all locked value.
func (a *Account) Total() int64 { return a.Available + a.TotalLocked() }

// clone deep-copies the account for ledger snapshots.
func (a *Account) clone() *Account {
	cp := *a
	cp.Locked = make(map[common.Address]int64, len(a.Locked))
	for op, v := range a.Locked {
		cp.Locked[op] = v
	}
	return &cp
}

// Validate checks account invariants.
func (a *Account) Validate() error {
	if a.Available < 0 {
		return fmt.Errorf("negative available balance: %d", a.Available)
	}
	for op, v := range a.Locked {
		if v < 0 {
			return fmt.Errorf("negative locked balance for operator %s: %d", op.Hex(), v)
		}
	}
	return nil
}
