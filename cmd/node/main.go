package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/scalex/core/params"
	"github.com/scalex/core/pkg/api"
	"github.com/scalex/core/pkg/exchange"
	"github.com/scalex/core/pkg/exchange/history"
	"github.com/scalex/core/pkg/exchange/ledger"
	"github.com/scalex/core/pkg/exchange/pool"
	"github.com/scalex/core/pkg/sequencer"
	"github.com/scalex/core/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.Node.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		logger.Fatal("data dir", zap.Error(err))
	}

	// ---- Persistence ----
	store, err := ledger.OpenStore(filepath.Join(cfg.Node.DataDir, "ledger"))
	if err != nil {
		logger.Fatal("ledger store", zap.Error(err))
	}
	defer store.Close()

	trades, err := history.Open(filepath.Join(cfg.Node.DataDir, "trades"))
	if err != nil {
		logger.Fatal("trade log", zap.Error(err))
	}
	defer trades.Close()

	// ---- Trading core ----
	led, err := ledger.New(store, logger)
	if err != nil {
		logger.Fatal("ledger", zap.Error(err))
	}

	ex := exchange.New(pool.NewRegistry(), led, cfg.Engine.Operator, cfg.Engine.FeeAccount, logger)
	ex.SetTradeLog(trades)

	bootstrapPools(ex, cfg, logger)

	// Books are rebuilt empty on every start; release any persisted locks
	// their orders no longer back.
	if err := ex.ReconcileLocks(); err != nil {
		logger.Fatal("lock reconciliation", zap.Error(err))
	}

	// ---- Sequencer ----
	// Single writer goroutine: every API mutation and read funnels through
	// it, so the core never needs internal locking.
	seq := sequencer.New(cfg.Node.InboxSize, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go seq.Run(ctx)

	// ---- API server ----
	srv := api.NewServer(ex, seq, logger)
	go func() {
		if err := srv.Start(cfg.Node.ListenAddr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	logger.Info("node started",
		zap.String("listen", cfg.Node.ListenAddr),
		zap.String("data_dir", cfg.Node.DataDir),
		zap.String("operator", cfg.Engine.Operator.Hex()))

	<-ctx.Done()
	logger.Info("node shutting down")
}

// bootstrapPools creates pools named in SCALEX_POOLS so a fresh node comes
// up tradeable. Format: comma-separated "base/quote" address pairs.
func bootstrapPools(ex *exchange.Exchange, cfg params.Config, logger *zap.Logger) {
	listing := os.Getenv("SCALEX_POOLS")
	if listing == "" {
		return
	}
	rules := pool.DefaultRules
	rules.MakerFeeBps = cfg.Engine.MakerFeeBps
	rules.TakerFeeBps = cfg.Engine.TakerFeeBps

	for _, pair := range splitAndTrim(listing, ',') {
		parts := splitAndTrim(pair, '/')
		if len(parts) != 2 {
			logger.Warn("skipping malformed pool pair", zap.String("pair", pair))
			continue
		}
		base := common.HexToAddress(parts[0])
		quote := common.HexToAddress(parts[1])
		if _, err := ex.CreatePool(base, quote, rules); err != nil {
			logger.Warn("pool bootstrap failed",
				zap.String("base", parts[0]),
				zap.String("quote", parts[1]),
				zap.Error(err))
			continue
		}
		logger.Info("pool created", zap.String("base", parts[0]), zap.String("quote", parts[1]))
	}
}

func splitAndTrim(s string, sep rune) []string {
	var out []string
	for _, part := range strings.Split(s, string(sep)) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
