package ledger

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientBalance covers withdraw/lock/settle amounts that
	// exceed the relevant balance bucket.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnauthorized is returned when an operator acts for an owner
	// without a grant in the capability table.
	ErrUnauthorized = errors.New("unauthorized operator")
	// ErrInvalidAmount rejects zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

type balanceKey struct {
	owner    common.Address
	currency common.Address
}

type grantKey struct {
	owner    common.Address
	operator common.Address
}

// Ledger tracks per-owner, per-currency available and locked balances and
// the (owner, operator) capability table gating privileged mutations.
//
// Every operation validates fully before touching state, so a returned
// error always leaves the ledger unchanged. The ledger itself carries no
// lock: like the order book it is owned by the single-writer sequencer.
type Ledger struct {
	balances map[balanceKey]*Account
	grants   map[grantKey]bool
	store    *Store // optional persistence, flushed on commit
	dirty    map[balanceKey]struct{}
	log      *zap.Logger
}

// New creates a ledger. store may be nil for a purely in-memory ledger;
// when present, all persisted accounts and grants are loaded eagerly.
func New(store *Store, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{
		balances: make(map[balanceKey]*Account),
		grants:   make(map[grantKey]bool),
		store:    store,
		dirty:    make(map[balanceKey]struct{}),
		log:      log,
	}
	if store != nil {
		accounts, err := store.LoadAccounts()
		if err != nil {
			return nil, fmt.Errorf("load accounts: %w", err)
		}
		for _, acc := range accounts {
			l.balances[balanceKey{acc.Owner, acc.Currency}] = acc
		}
		grants, err := store.LoadGrants()
		if err != nil {
			return nil, fmt.Errorf("load grants: %w", err)
		}
		for _, g := range grants {
			l.grants[grantKey{g.Owner, g.Operator}] = true
		}
		log.Info("ledger loaded",
			zap.Int("accounts", len(accounts)),
			zap.Int("grants", len(grants)))
	}
	return l, nil
}

func (l *Ledger) account(owner, currency common.Address) *Account {
	k := balanceKey{owner, currency}
	acc, ok := l.balances[k]
	if !ok {
		acc = newAccount(owner, currency)
		l.balances[k] = acc
	}
	return acc
}

func (l *Ledger) touch(owner, currency common.Address) {
	l.dirty[balanceKey{owner, currency}] = struct{}{}
}

// authorized reports whether operator may act for owner. Owners always act
// for themselves.
func (l *Ledger) authorized(owner, operator common.Address) bool {
	return owner == operator || l.grants[grantKey{owner, operator}]
}

// Approve grants operator the right to lock and settle on behalf of owner.
func (l *Ledger) Approve(owner, operator common.Address) {
	l.grants[grantKey{owner, operator}] = true
	if l.store != nil {
		if err := l.store.SaveGrant(owner, operator, true); err != nil {
			l.log.Error("persist grant", zap.Error(err))
		}
	}
}

// Revoke removes an operator grant. Existing locks held by the operator
// stay in place until unlocked or settled.
func (l *Ledger) Revoke(owner, operator common.Address) {
	delete(l.grants, grantKey{owner, operator})
	if l.store != nil {
		if err := l.store.SaveGrant(owner, operator, false); err != nil {
			l.log.Error("persist grant", zap.Error(err))
		}
	}
}

// IsApproved reports whether operator holds a grant for owner.
func (l *Ledger) IsApproved(owner, operator common.Address) bool {
	return l.authorized(owner, operator)
}

// Deposit credits amount to the owner's available balance, creating the
// account on first use. The bridging subsystem calls this on inbound
// transfers; authenticity of the bridge message is not this layer's concern.
func (l *Ledger) Deposit(owner, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: deposit %d", ErrInvalidAmount, amount)
	}
	acc := l.account(owner, currency)
	acc.Available += amount
	l.touch(owner, currency)
	return nil
}

// Withdraw debits amount from the owner's available balance.
func (l *Ledger) Withdraw(owner, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: withdraw %d", ErrInvalidAmount, amount)
	}
	acc := l.account(owner, currency)
	if acc.Available < amount {
		return fmt.Errorf("%w: available %d, withdraw %d", ErrInsufficientBalance, acc.Available, amount)
	}
	acc.Available -= amount
	l.touch(owner, currency)
	return nil
}

// Lock moves amount from the owner's available balance into the operator's
// locked bucket. Requires an operator grant (or operator == owner).
func (l *Ledger) Lock(operator, owner, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: lock %d", ErrInvalidAmount, amount)
	}
	if !l.authorized(owner, operator) {
		return fmt.Errorf("%w: %s for owner %s", ErrUnauthorized, operator.Hex(), owner.Hex())
	}
	acc := l.account(owner, currency)
	if acc.Available < amount {
		return fmt.Errorf("%w: available %d, lock %d", ErrInsufficientBalance, acc.Available, amount)
	}
	acc.Available -= amount
	acc.Locked[operator] += amount
	l.touch(owner, currency)
	return nil
}

// Unlock returns amount from the operator's locked bucket to available.
func (l *Ledger) Unlock(operator, owner, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: unlock %d", ErrInvalidAmount, amount)
	}
	if !l.authorized(owner, operator) {
		return fmt.Errorf("%w: %s for owner %s", ErrUnauthorized, operator.Hex(), owner.Hex())
	}
	acc := l.account(owner, currency)
	if acc.Locked[operator] < amount {
		return fmt.Errorf("%w: locked %d, unlock %d", ErrInsufficientBalance, acc.Locked[operator], amount)
	}
	acc.Locked[operator] -= amount
	if acc.Locked[operator] == 0 {
		delete(acc.Locked, operator)
	}
	acc.Available += amount
	l.touch(owner, currency)
	return nil
}

// Settle moves amount from the payer's locked bucket to the receiver.
// fee = floor(amount * feeBps / 10000) is split off to the fee account;
// the receiver is credited amount - fee. Rounding always floors, in the
// ledger's favour.
func (l *Ledger) Settle(operator, payer, receiver, currency common.Address, amount, feeBps int64, feeAccount common.Address) error {
	if amount <= 0 {
		return fmt.Errorf("%w: settle %d", ErrInvalidAmount, amount)
	}
	if feeBps < 0 || feeBps >= 10000 {
		return fmt.Errorf("fee bps out of range [0,10000): %d", feeBps)
	}
	if !l.authorized(payer, operator) {
		return fmt.Errorf("%w: %s for payer %s", ErrUnauthorized, operator.Hex(), payer.Hex())
	}
	payerAcc := l.account(payer, currency)
	if payerAcc.Locked[operator] < amount {
		return fmt.Errorf("%w: locked %d, settle %d", ErrInsufficientBalance, payerAcc.Locked[operator], amount)
	}

	fee := amount * feeBps / 10000

	payerAcc.Locked[operator] -= amount
	if payerAcc.Locked[operator] == 0 {
		delete(payerAcc.Locked, operator)
	}
	l.account(receiver, currency).Available += amount - fee
	if fee > 0 {
		l.account(feeAccount, currency).Available += fee
		l.touch(feeAccount, currency)
	}
	l.touch(payer, currency)
	l.touch(receiver, currency)
	return nil
}

// Transfer moves amount between available balances. Used by the swap path
// to hand realized output to a distinct recipient.
func (l *Ledger) Transfer(operator, from, to common.Address, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: transfer %d", ErrInvalidAmount, amount)
	}
	if !l.authorized(from, operator) {
		return fmt.Errorf("%w: %s for owner %s", ErrUnauthorized, operator.Hex(), from.Hex())
	}
	acc := l.account(from, currency)
	if acc.Available < amount {
		return fmt.Errorf("%w: available %d, transfer %d", ErrInsufficientBalance, acc.Available, amount)
	}
	acc.Available -= amount
	l.account(to, currency).Available += amount
	l.touch(from, currency)
	l.touch(to, currency)
	return nil
}

// LockEntry reports one owner's locked amount under an operator.
type LockEntry struct {
	Owner    common.Address
	Currency common.Address
	Amount   int64
}

// LockedByOperator lists every non-empty locked bucket held by one
// operator.
func (l *Ledger) LockedByOperator(operator common.Address) []LockEntry {
	var out []LockEntry
	for k, acc := range l.balances {
		if amt := acc.Locked[operator]; amt > 0 {
			out = append(out, LockEntry{Owner: k.owner, Currency: k.currency, Amount: amt})
		}
	}
	return out
}

// ReleaseLock returns amount from the operator's locked bucket to the
// owner's available balance without an authorization check. Recovery path
// for locks whose backing orders no longer exist; not reachable from any
// caller-facing operation.
func (l *Ledger) ReleaseLock(operator, owner, currency common.Address, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: release %d", ErrInvalidAmount, amount)
	}
	acc := l.account(owner, currency)
	if acc.Locked[operator] < amount {
		return fmt.Errorf("%w: locked %d, release %d", ErrInsufficientBalance, acc.Locked[operator], amount)
	}
	acc.Locked[operator] -= amount
	if acc.Locked[operator] == 0 {
		delete(acc.Locked, operator)
	}
	acc.Available += amount
	l.touch(owner, currency)
	return nil
}

// Available returns the owner's free balance in a currency.
func (l *Ledger) Available(owner, currency common.Address) int64 {
	acc, ok := l.balances[balanceKey{owner, currency}]
	if !ok {
		return 0
	}
	return acc.Available
}

// Locked returns the amount an operator holds locked for the owner.
func (l *Ledger) Locked(owner, operator, currency common.Address) int64 {
	acc, ok := l.balances[balanceKey{owner, currency}]
	if !ok {
		return 0
	}
	return acc.Locked[operator]
}

// Balance returns a copy of the full account record, or zeroes if the
// account was never funded.
func (l *Ledger) Balance(owner, currency common.Address) Account {
	acc, ok := l.balances[balanceKey{owner, currency}]
	if !ok {
		return *newAccount(owner, currency)
	}
	return *acc.clone()
}

// TotalSupply sums available plus locked across all owners for a currency.
// Test hook for the conservation property.
func (l *Ledger) TotalSupply(currency common.Address) int64 {
	total := int64(0)
	for k, acc := range l.balances {
		if k.currency == currency {
			total += acc.Total()
		}
	}
	return total
}

// Snapshot captures the full ledger state for commit-or-discard execution.
type Snapshot struct {
	balances map[balanceKey]*Account
	grants   map[grantKey]bool
	dirty    map[balanceKey]struct{}
}

// Snapshot deep-copies balances, grants and the dirty set.
func (l *Ledger) Snapshot() *Snapshot {
	s := &Snapshot{
		balances: make(map[balanceKey]*Account, len(l.balances)),
		grants:   make(map[grantKey]bool, len(l.grants)),
		dirty:    make(map[balanceKey]struct{}, len(l.dirty)),
	}
	for k, acc := range l.balances {
		s.balances[k] = acc.clone()
	}
	for k, v := range l.grants {
		s.grants[k] = v
	}
	for k := range l.dirty {
		s.dirty[k] = struct{}{}
	}
	return s
}

// Restore discards the current state in favour of a snapshot.
func (l *Ledger) Restore(s *Snapshot) {
	l.balances = s.balances
	l.grants = s.grants
	l.dirty = s.dirty
}

// Flush persists all dirty accounts and clears the dirty set. Called after
// a public operation commits; a failed operation restores the snapshot and
// never flushes.
func (l *Ledger) Flush() error {
	if l.store == nil {
		l.dirty = make(map[balanceKey]struct{})
		return nil
	}
	for k := range l.dirty {
		if acc, ok := l.balances[k]; ok {
			if err := l.store.SaveAccount(acc); err != nil {
				return fmt.Errorf("save account %s/%s: %w", k.owner.Hex(), k.currency.Hex(), err)
			}
		}
	}
	l.dirty = make(map[balanceKey]struct{})
	return nil
}
