package params

import (
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Engine holds the trading core's identities and fee defaults.
type Engine struct {
	// Operator is the ledger identity the engine locks and settles under.
	// Accounts must approve it before trading.
	Operator common.Address
	// FeeAccount collects the fee leakage from every settle.
	FeeAccount common.Address
	// Default fee schedule applied to pools created without explicit rules.
	MakerFeeBps int64
	TakerFeeBps int64
}

// Node holds process-level settings.
type Node struct {
	ListenAddr string // REST/WebSocket bind address
	DataDir    string // pebble databases live under here
	LogLevel   string
	// InboxSize bounds the sequencer's request queue.
	InboxSize int
}

type Config struct {
	Engine Engine
	Node   Node
}

func Default() Config {
	return Config{
		Engine: Engine{
			Operator:    common.HexToAddress("0x00000000000000000000000000000000000e9919"),
			FeeAccount:  common.HexToAddress("0x00000000000000000000000000000000000fee00"),
			MakerFeeBps: 2,
			TakerFeeBps: 5,
		},
		Node: Node{
			ListenAddr: ":8080",
			DataDir:    "./data",
			LogLevel:   "info",
			InboxSize:  1024,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and the
// environment. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ENGINE_OPERATOR"); v != "" {
		cfg.Engine.Operator = common.HexToAddress(v)
	}
	if v := os.Getenv("ENGINE_FEE_ACCOUNT"); v != "" {
		cfg.Engine.FeeAccount = common.HexToAddress(v)
	}
	if v := os.Getenv("ENGINE_MAKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MakerFeeBps = bps
		}
	}
	if v := os.Getenv("ENGINE_TAKER_FEE_BPS"); v != "" {
		if bps, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.TakerFeeBps = bps
		}
	}
	if v := os.Getenv("NODE_LISTEN_ADDR"); v != "" {
		cfg.Node.ListenAddr = v
	}
	if v := os.Getenv("NODE_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("NODE_LOG_LEVEL"); v != "" {
		cfg.Node.LogLevel = v
	}
	if v := os.Getenv("NODE_INBOX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.InboxSize = n
		}
	}

	return cfg
}
