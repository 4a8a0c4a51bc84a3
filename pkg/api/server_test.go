package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/scalex/core/pkg/exchange"
	"github.com/scalex/core/pkg/exchange/ledger"
	"github.com/scalex/core/pkg/exchange/pool"
	"github.com/scalex/core/pkg/sequencer"
)

var (
	testOperator = common.HexToAddress("0x00000000000000000000000000000000000e9919")
	testFeeAcct  = common.HexToAddress("0x00000000000000000000000000000000000fee00")
	testBase     = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	testQuote    = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	testOwner    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func newTestCore(t *testing.T) *exchange.Exchange {
	t.Helper()
	led, err := ledger.New(nil, nil)
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	e := exchange.New(pool.NewRegistry(), led, testOperator, testFeeAcct, nil)
	if _, err := e.CreatePool(testBase, testQuote, pool.DefaultRules); err != nil {
		t.Fatalf("CreatePool: %v", err)
	}
	return e
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHandlersServeThroughSequencer(t *testing.T) {
	e := newTestCore(t)
	seq := sequencer.New(8, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)
	s := NewServer(e, seq, nil)

	rr := serve(s, "GET", "/api/v1/pools")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET /pools = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), testBase.Hex()) {
		t.Errorf("pool listing missing base address: %s", rr.Body.String())
	}

	rr = serve(s, "GET", "/api/v1/accounts/"+testOwner.Hex()+"/balances/"+testQuote.Hex())
	if rr.Code != http.StatusOK {
		t.Fatalf("GET balance = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"available":0`) {
		t.Errorf("balance body = %s, want zero available", rr.Body.String())
	}
}

// A stopped sequencer must surface as an error status, never as a 200 with
// an empty body.
func TestHandlersFailAfterShutdown(t *testing.T) {
	e := newTestCore(t)
	seq := sequencer.New(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go seq.Run(ctx)
	s := NewServer(e, seq, nil)

	cancel()
	waitForStop(t, seq)

	paths := []string{
		"/api/v1/pools",
		"/api/v1/accounts/" + testOwner.Hex() + "/balances/" + testQuote.Hex(),
		"/api/v1/pools/" + testBase.Hex() + "/" + testQuote.Hex() + "/book",
	}
	for _, path := range paths {
		rr := serve(s, "GET", path)
		if rr.Code == http.StatusOK {
			t.Errorf("GET %s = 200 after shutdown, want error status", path)
		}
	}
}

func waitForStop(t *testing.T, seq *sequencer.Sequencer) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		err := seq.Do(context.Background(), func() error { return nil })
		if errors.Is(err, sequencer.ErrStopped) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("sequencer did not stop")
}
