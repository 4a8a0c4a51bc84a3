package ledger

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreAccountRoundTrip(t *testing.T) {
	s := openTestStore(t)

	acc := newAccount(alice, usd)
	acc.Available = 1234
	acc.Locked[engine] = 55
	if err := s.SaveAccount(acc); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	other := newAccount(bob, tokenXYZ)
	other.Available = 7
	if err := s.SaveAccount(other); err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}

	loaded, err := s.LoadAccounts()
	if err != nil {
		t.Fatalf("LoadAccounts: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d accounts, want 2", len(loaded))
	}

	byOwner := make(map[common.Address]*Account)
	for _, a := range loaded {
		byOwner[a.Owner] = a
	}
	got := byOwner[alice]
	if got == nil || got.Available != 1234 || got.Locked[engine] != 55 {
		t.Errorf("alice account = %+v, want available 1234 locked 55", got)
	}
	if got := byOwner[bob]; got == nil || got.Available != 7 || got.Locked == nil {
		t.Errorf("bob account = %+v, want available 7 with non-nil locked map", got)
	}
}

func TestStoreGrantRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.SaveGrant(alice, engine, true); err != nil {
		t.Fatalf("SaveGrant: %v", err)
	}
	if err := s.SaveGrant(bob, engine, true); err != nil {
		t.Fatalf("SaveGrant: %v", err)
	}
	if err := s.SaveGrant(bob, engine, false); err != nil {
		t.Fatalf("SaveGrant delete: %v", err)
	}

	grants, err := s.LoadGrants()
	if err != nil {
		t.Fatalf("LoadGrants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("loaded %d grants, want 1", len(grants))
	}
	if grants[0].Owner != alice || grants[0].Operator != engine {
		t.Errorf("grant = %+v, want alice/engine", grants[0])
	}
}

func TestLedgerPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	l, err := New(s, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l.Deposit(alice, usd, 900)
	l.Approve(alice, engine)
	l.Lock(engine, alice, usd, 250)
	if err := l.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := OpenStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	l2, err := New(s2, nil)
	if err != nil {
		t.Fatalf("New after reopen: %v", err)
	}

	if got := l2.Available(alice, usd); got != 650 {
		t.Errorf("recovered available = %d, want 650", got)
	}
	if got := l2.Locked(alice, engine, usd); got != 250 {
		t.Errorf("recovered locked = %d, want 250", got)
	}
	if !l2.IsApproved(alice, engine) {
		t.Error("recovered grant missing")
	}
}
