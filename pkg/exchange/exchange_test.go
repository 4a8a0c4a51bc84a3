package exchange

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalex/core/pkg/exchange/book"
	"github.com/scalex/core/pkg/exchange/ledger"
	"github.com/scalex/core/pkg/exchange/pool"
)

var (
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol   = common.HexToAddress("0x00000000000000000000000000000000000ca401")
	engine  = common.HexToAddress("0x00000000000000000000000000000000000e9919")
	feeAcct = common.HexToAddress("0x00000000000000000000000000000000000fee00")

	baseTok  = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	quoteTok = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	midTok   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

// feeFreeRules keeps balance arithmetic exact where fees are not the thing
// under test.
var feeFreeRules = pool.TradingRules{
	TickSize:     1,
	LotSize:      1,
	MinOrderSize: 1,
}

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	led, err := ledger.New(nil, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	return New(pool.NewRegistry(), led, engine, feeAcct, nil)
}

// fund deposits and approves the engine in one step.
func fund(t *testing.T, e *Exchange, owner, currency common.Address, amount int64) {
	t.Helper()
	if err := e.Deposit(owner, currency, amount); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	e.ApproveOperator(owner)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	e := newTestExchange(t)
	if err := e.Deposit(alice, quoteTok, 1000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := e.Withdraw(alice, quoteTok, 1000); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := e.Ledger().Available(alice, quoteTok); got != 0 {
		t.Errorf("balance after round trip = %d, want 0", got)
	}
	if err := e.Withdraw(alice, quoteTok, 1); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("Withdraw from empty error = %v, want ErrInsufficientBalance", err)
	}
}

// A resting bid on an empty book produces no fills and locks its full
// notional.
func TestRestingBidLocksCollateral(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)

	id, fills, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("fills = %d, want 0", len(fills))
	}

	if got := e.Ledger().Available(bob, quoteTok); got != 500 {
		t.Errorf("available = %d, want 500", got)
	}
	if got := e.Ledger().Locked(bob, engine, quoteTok); got != 500 {
		t.Errorf("locked = %d, want 500", got)
	}

	price, volume, err := e.Best(baseTok, quoteTok, book.Buy)
	if err != nil || price != 50 || volume != 10 {
		t.Errorf("Best(Buy) = (%d, %d, %v), want (50, 10, nil)", price, volume, err)
	}
	o, err := e.Order(baseTok, quoteTok, id)
	if err != nil || o.Status != book.Open {
		t.Errorf("order = %v (%v), want Open", o.Status, err)
	}
}

// A 12-lot market buy against asks of 10@100 and 5@101 fills 10@100 then
// 2@101, leaving 3@101 resting.
func TestMarketBuyWalksTheBook(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, alice, baseTok, 15)
	fund(t, e, bob, quoteTok, 2000)

	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 100, 10, book.GTC); err != nil {
		t.Fatalf("ask 10@100: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 101, 5, book.GTC); err != nil {
		t.Fatalf("ask 5@101: %v", err)
	}

	id, fills, err := e.PlaceMarketOrder(baseTok, quoteTok, bob, book.Buy, 12)
	if err != nil {
		t.Fatalf("PlaceMarketOrder: %v", err)
	}
	if len(fills) != 2 {
		t.Fatalf("fills = %d, want 2", len(fills))
	}
	if fills[0].Price != 100 || fills[0].Qty != 10 {
		t.Errorf("fill[0] = %d@%d, want 10@100", fills[0].Qty, fills[0].Price)
	}
	if fills[1].Price != 101 || fills[1].Qty != 2 {
		t.Errorf("fill[1] = %d@%d, want 2@101", fills[1].Qty, fills[1].Price)
	}

	// Buyer paid 10*100 + 2*101 = 1202 quote for 12 base.
	if got := e.Ledger().Available(bob, quoteTok); got != 798 {
		t.Errorf("buyer quote = %d, want 798", got)
	}
	if got := e.Ledger().Available(bob, baseTok); got != 12 {
		t.Errorf("buyer base = %d, want 12", got)
	}
	// Seller received the same 1202; 3 base stays locked behind the rest.
	if got := e.Ledger().Available(alice, quoteTok); got != 1202 {
		t.Errorf("seller quote = %d, want 1202", got)
	}
	if got := e.Ledger().Locked(alice, engine, baseTok); got != 3 {
		t.Errorf("seller locked base = %d, want 3", got)
	}

	o, err := e.Order(baseTok, quoteTok, id)
	if err != nil || o.Status != book.Filled {
		t.Errorf("taker order = %v (%v), want Filled", o.Status, err)
	}
	count, volume, err := e.PriceLevel(baseTok, quoteTok, book.Sell, 101)
	if err != nil || count != 1 || volume != 3 {
		t.Errorf("level 101 = (%d, %d, %v), want (1, 3, nil)", count, volume, err)
	}
}

func TestFeesReduceReceiptsOnly(t *testing.T) {
	rules := feeFreeRules
	rules.MakerFeeBps = 100 // 1%
	rules.TakerFeeBps = 200 // 2%

	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, rules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, alice, baseTok, 1000)
	fund(t, e, bob, quoteTok, 10000)

	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 10, 1000, book.GTC); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, _, err := e.PlaceMarketOrder(baseTok, quoteTok, bob, book.Buy, 1000); err != nil {
		t.Fatalf("market buy: %v", err)
	}

	// Notional 10000. Seller is the maker: receives 10000 - 1% = 9900.
	// Buyer is the taker: receives 1000 base - 2% = 980.
	if got := e.Ledger().Available(alice, quoteTok); got != 9900 {
		t.Errorf("seller quote = %d, want 9900", got)
	}
	if got := e.Ledger().Available(bob, baseTok); got != 980 {
		t.Errorf("buyer base = %d, want 980", got)
	}
	if got := e.Ledger().Available(feeAcct, quoteTok); got != 100 {
		t.Errorf("fee quote = %d, want 100", got)
	}
	if got := e.Ledger().Available(feeAcct, baseTok); got != 20 {
		t.Errorf("fee base = %d, want 20", got)
	}
	// The payer's cost is never grossed up: buyer spent exactly 10000.
	if got := e.Ledger().Available(bob, quoteTok); got != 0 {
		t.Errorf("buyer quote = %d, want 0", got)
	}

	// Including the fee account, both supplies are conserved.
	if got := e.Ledger().TotalSupply(quoteTok); got != 10000 {
		t.Errorf("quote supply = %d, want 10000", got)
	}
	if got := e.Ledger().TotalSupply(baseTok); got != 1000 {
		t.Errorf("base supply = %d, want 1000", got)
	}
}

// A placement that dies mid-match leaves no trace: no fills committed, no
// balances moved, no order record.
func TestFailedPlacementFullyReverts(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, alice, baseTok, 15)
	fund(t, e, bob, quoteTok, 1050) // enough for the first fill only

	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 100, 10, book.GTC); err != nil {
		t.Fatalf("ask 10@100: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 101, 5, book.GTC); err != nil {
		t.Fatalf("ask 5@101: %v", err)
	}

	_, _, err := e.PlaceMarketOrder(baseTok, quoteTok, bob, book.Buy, 12)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	// The first fill would have succeeded in isolation; nothing of it
	// survives the revert.
	if got := e.Ledger().Available(bob, quoteTok); got != 1050 {
		t.Errorf("buyer quote = %d, want untouched 1050", got)
	}
	if got := e.Ledger().Available(bob, baseTok); got != 0 {
		t.Errorf("buyer base = %d, want 0", got)
	}
	if got := e.Ledger().Available(alice, quoteTok); got != 0 {
		t.Errorf("seller quote = %d, want 0", got)
	}
	count, volume, err := e.PriceLevel(baseTok, quoteTok, book.Sell, 100)
	if err != nil || count != 1 || volume != 10 {
		t.Errorf("level 100 = (%d, %d, %v), want full 10 restored", count, volume, err)
	}
}

func TestUnapprovedOwnerCannotTrade(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	if err := e.Deposit(bob, quoteTok, 1000); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	// No ApproveOperator call.
	_, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if got := e.Ledger().Available(bob, quoteTok); got != 1000 {
		t.Errorf("balance disturbed by rejected order: %d", got)
	}
}

func TestCancelReleasesLock(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)

	id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}

	// A stranger cannot cancel.
	if err := e.CancelOrder(baseTok, quoteTok, carol, id); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger cancel error = %v, want ErrNotOwner", err)
	}

	if err := e.CancelOrder(baseTok, quoteTok, bob, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	if got := e.Ledger().Available(bob, quoteTok); got != 1000 {
		t.Errorf("available after cancel = %d, want 1000", got)
	}
	if got := e.Ledger().Locked(bob, engine, quoteTok); got != 0 {
		t.Errorf("locked after cancel = %d, want 0", got)
	}

	// Cancelling again fails and releases nothing.
	if err := e.CancelOrder(baseTok, quoteTok, bob, id); !errors.Is(err, book.ErrOrderNotActive) {
		t.Errorf("double cancel error = %v, want ErrOrderNotActive", err)
	}
	if got := e.Ledger().Available(bob, quoteTok); got != 1000 {
		t.Errorf("double cancel minted funds: %d", got)
	}
}

func TestCancelPartiallyFilledReleasesRemainder(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)
	fund(t, e, alice, baseTok, 100)

	id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	// Fill 4 of the 10.
	if _, _, err := e.PlaceMarketOrder(baseTok, quoteTok, alice, book.Sell, 4); err != nil {
		t.Fatalf("market sell: %v", err)
	}

	if err := e.CancelOrder(baseTok, quoteTok, bob, id); err != nil {
		t.Fatalf("CancelOrder: %v", err)
	}
	// 4*50 spent on the fill; the remaining 6*50 lock is released.
	if got := e.Ledger().Available(bob, quoteTok); got != 800 {
		t.Errorf("available = %d, want 800", got)
	}
	if got := e.Ledger().Locked(bob, engine, quoteTok); got != 0 {
		t.Errorf("locked = %d, want 0", got)
	}
}

func TestOperatorMayCancelForOwner(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)
	// bob also approves carol as an operator of his account.
	e.Ledger().Approve(bob, carol)

	id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if err := e.CancelOrder(baseTok, quoteTok, carol, id); err != nil {
		t.Errorf("approved operator cancel: %v", err)
	}
}

func TestPlaceOrderWithDeposit(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	e.ApproveOperator(bob)

	// No prior deposit: the bundled deposit funds the order.
	id, fills, err := e.PlaceOrderWithDeposit(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC, 500)
	if err != nil {
		t.Fatalf("PlaceOrderWithDeposit: %v", err)
	}
	if len(fills) != 0 {
		t.Fatalf("fills = %d, want 0", len(fills))
	}
	if got := e.Ledger().Locked(bob, engine, quoteTok); got != 500 {
		t.Errorf("locked = %d, want 500", got)
	}
	if o, err := e.Order(baseTok, quoteTok, id); err != nil || o.Status != book.Open {
		t.Errorf("order = %v (%v), want Open", o.Status, err)
	}
}

func TestPlaceOrderWithDepositRevertsAtomically(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	e.ApproveOperator(bob)

	// Deposit covers half the order; the lock fails and the deposit must
	// roll back with it.
	_, _, err := e.PlaceOrderWithDeposit(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC, 250)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}
	if got := e.Ledger().Available(bob, quoteTok); got != 0 {
		t.Errorf("deposit survived the revert: %d", got)
	}
	if _, _, err := e.Best(baseTok, quoteTok, book.Buy); err != nil {
		t.Fatalf("Best: %v", err)
	}
}

func TestOrderIDsAreMonotonic(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 10000)

	var last uint64
	for i := 0; i < 5; i++ {
		id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 1, book.GTC)
		if err != nil {
			t.Fatalf("PlaceLimitOrder: %v", err)
		}
		if id <= last {
			t.Errorf("id %d not greater than previous %d", id, last)
		}
		last = id
	}
}

func TestDepthAggregatesBothSides(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 10000)
	fund(t, e, alice, baseTok, 100)

	e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 49, 5, book.GTC)
	e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 51, 7, book.GTC)

	bids, asks, err := e.Depth(baseTok, quoteTok, 10)
	if err != nil {
		t.Fatalf("Depth: %v", err)
	}
	if len(bids) != 2 || bids[0].Price != 50 || bids[1].Price != 49 {
		t.Errorf("bids = %+v, want levels 50 then 49", bids)
	}
	if len(asks) != 1 || asks[0].Price != 51 || asks[0].Volume != 7 {
		t.Errorf("asks = %+v, want one level 51/7", asks)
	}
}

// A resting order's lock persists in pebble while the book it lives in does
// not. Reconciliation on a fresh boot must hand the collateral back.
func TestRestartReleasesStrandedLocks(t *testing.T) {
	dir := t.TempDir()

	store, err := ledger.OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	led, err := ledger.New(store, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	e := New(pool.NewRegistry(), led, engine, feeAcct, nil)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)
	id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("PlaceLimitOrder: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Restart: the ledger comes back from pebble, the book starts empty.
	store2, err := ledger.OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	led2, err := ledger.New(store2, nil)
	if err != nil {
		t.Fatalf("ledger.New after reopen: %v", err)
	}
	e2 := New(pool.NewRegistry(), led2, engine, feeAcct, nil)
	if _, err := e2.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}

	if got := e2.Ledger().Locked(bob, engine, quoteTok); got != 500 {
		t.Fatalf("recovered lock = %d, want 500", got)
	}
	if err := e2.CancelOrder(baseTok, quoteTok, bob, id); !errors.Is(err, book.ErrOrderNotFound) {
		t.Fatalf("cancel of pre-restart order error = %v, want ErrOrderNotFound", err)
	}

	if err := e2.ReconcileLocks(); err != nil {
		t.Fatalf("ReconcileLocks: %v", err)
	}
	if got := e2.Ledger().Locked(bob, engine, quoteTok); got != 0 {
		t.Errorf("locked after reconcile = %d, want 0", got)
	}
	if got := e2.Ledger().Available(bob, quoteTok); got != 1000 {
		t.Errorf("available after reconcile = %d, want 1000", got)
	}

	// The release is durable: a third boot sees the reconciled balances.
	if err := store2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	store3, err := ledger.OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store3.Close()
	led3, err := ledger.New(store3, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	if got := led3.Available(bob, quoteTok); got != 1000 {
		t.Errorf("available after third boot = %d, want 1000", got)
	}
}

// Reconciliation must not touch locks that live resting orders account for.
func TestReconcileKeepsBackedLocks(t *testing.T) {
	e := newTestExchange(t)
	if _, err := e.CreatePool(baseTok, quoteTok, feeFreeRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	fund(t, e, bob, quoteTok, 1000)
	fund(t, e, alice, baseTok, 20)

	id, _, err := e.PlaceLimitOrder(baseTok, quoteTok, bob, book.Buy, 50, 10, book.GTC)
	if err != nil {
		t.Fatalf("bid: %v", err)
	}
	if _, _, err := e.PlaceLimitOrder(baseTok, quoteTok, alice, book.Sell, 60, 20, book.GTC); err != nil {
		t.Fatalf("ask: %v", err)
	}

	if err := e.ReconcileLocks(); err != nil {
		t.Fatalf("ReconcileLocks: %v", err)
	}
	if got := e.Ledger().Locked(bob, engine, quoteTok); got != 500 {
		t.Errorf("bid lock = %d, want untouched 500", got)
	}
	if got := e.Ledger().Locked(alice, engine, baseTok); got != 20 {
		t.Errorf("ask lock = %d, want untouched 20", got)
	}
	// The orders are still live and cancellable.
	if err := e.CancelOrder(baseTok, quoteTok, bob, id); err != nil {
		t.Errorf("cancel after reconcile: %v", err)
	}
}

// A flush failure after the in-memory commit is not surfaced to the caller:
// a returned error must always mean nothing happened, or a retrying bridge
// would double-credit.
func TestDepositCommitsWhenFlushFails(t *testing.T) {
	store, err := ledger.OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	led, err := ledger.New(store, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	e := New(pool.NewRegistry(), led, engine, feeAcct, nil)

	// Kill persistence out from under the ledger.
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := e.Deposit(alice, quoteTok, 100); err != nil {
		t.Fatalf("Deposit with dead store: %v", err)
	}
	if got := e.Ledger().Available(alice, quoteTok); got != 100 {
		t.Errorf("available = %d, want 100", got)
	}
	if err := e.Withdraw(alice, quoteTok, 40); err != nil {
		t.Fatalf("Withdraw with dead store: %v", err)
	}
	if got := e.Ledger().Available(alice, quoteTok); got != 60 {
		t.Errorf("available = %d, want 60", got)
	}
}
