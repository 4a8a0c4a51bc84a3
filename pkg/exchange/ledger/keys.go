package ledger

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema:
//
//   bal:<owner>:<currency>  → Account (JSON)
//   op:<owner>:<operator>   → Grant (JSON)

const (
	accountPrefix = "bal:"
	grantPrefix   = "op:"
)

// accountKey formats "bal:{owner}:{currency}".
func accountKey(owner, currency common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", accountPrefix, owner.Hex(), currency.Hex()))
}

// grantDBKey formats "op:{owner}:{operator}".
func grantDBKey(owner, operator common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", grantPrefix, owner.Hex(), operator.Hex()))
}

// prefixIterOptions bounds an iterator to one key prefix.
func prefixIterOptions(prefix string) *pebble.IterOptions {
	lower := []byte(prefix)
	upper := make([]byte, len(lower))
	copy(upper, lower)
	upper[len(upper)-1]++
	return &pebble.IterOptions{LowerBound: lower, UpperBound: upper}
}
