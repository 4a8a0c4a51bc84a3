package pool

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	tokenA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	tokenB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	tokenC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestRegistryCreateAndGet(t *testing.T) {
	r := NewRegistry()

	p, err := r.Create(tokenA, tokenB, DefaultRules)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.Book == nil {
		t.Fatal("pool created without an order book")
	}

	got, err := r.Get(tokenA, tokenB)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != p {
		t.Error("Get returned a different pool instance")
	}
	if !r.Exists(tokenA, tokenB) {
		t.Error("Exists = false for registered pair")
	}
	if r.Exists(tokenB, tokenA) {
		t.Error("Exists = true for reversed pair; pairs are ordered")
	}
}

func TestRegistryCreateErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Create(tokenA, tokenB, DefaultRules); err != nil {
		t.Fatalf("Create: %v", err)
	}

	tests := []struct {
		name    string
		base    common.Address
		quote   common.Address
		rules   TradingRules
		wantErr error
	}{
		{name: "duplicate pair", base: tokenA, quote: tokenB, rules: DefaultRules, wantErr: ErrPoolExists},
		{name: "identical currencies", base: tokenA, quote: tokenA, rules: DefaultRules, wantErr: ErrValidation},
		{name: "bad rules", base: tokenB, quote: tokenC, rules: TradingRules{}, wantErr: ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Create(tt.base, tt.quote, tt.rules)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := r.Get(tokenB, tokenA); !errors.Is(err, ErrPoolNotFound) {
		t.Errorf("Get unregistered pair error = %v, want ErrPoolNotFound", err)
	}
}

func TestRegistryListDeterministic(t *testing.T) {
	r := NewRegistry()
	pairs := [][2]common.Address{
		{tokenC, tokenB},
		{tokenA, tokenB},
		{tokenB, tokenC},
		{tokenA, tokenC},
	}
	for _, p := range pairs {
		if _, err := r.Create(p[0], p[1], DefaultRules); err != nil {
			t.Fatalf("Create %s/%s: %v", p[0].Hex(), p[1].Hex(), err)
		}
	}
	if r.Count() != len(pairs) {
		t.Fatalf("Count = %d, want %d", r.Count(), len(pairs))
	}

	first := r.List()
	for i := 0; i < 5; i++ {
		again := r.List()
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("List order changed between calls at index %d", j)
			}
		}
	}
	for i := 1; i < len(first); i++ {
		prev, cur := first[i-1], first[i]
		if prev.Base.Hex() > cur.Base.Hex() {
			t.Errorf("List not sorted by base at index %d", i)
		}
	}
}
