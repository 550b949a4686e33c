package params

import (
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Ledger holds everything needed to reach the on-chain order book.
type Ledger struct {
	RPCURL       string
	ContractAddr string
	// KeeperKey is the hex-encoded secp256k1 private key used to sign
	// match/cancel transactions. The ledger enforces that cancels only
	// succeed for orders this key owns.
	KeeperKey string
	ChainID   int64
}

// Keeper tunes the reconciliation engine.
type Keeper struct {
	// ScanInterval is the fixed period between reconciliation cycles.
	// Ticks that arrive while a cycle is still running are dropped.
	ScanInterval time.Duration
	// DustThreshold is the smallest remaining amountIn (in the asset's
	// smallest unit) still considered worth filling. Orders below it are
	// cancellation candidates instead of match candidates.
	DustThreshold *big.Int
	// RetryLimit bounds attempts per (buy, sell) candidate before the
	// pair is abandoned and any owned side cancelled.
	RetryLimit int
	// SelfMatchAllowlist are maker addresses (lowercase hex) permitted to
	// trade against themselves, and whose orders the keeper may cancel.
	SelfMatchAllowlist []string
	// RetryDB is a pebble directory for durable retry counters. Empty
	// keeps counters in memory, reset on restart.
	RetryDB string
}

type Config struct {
	Ledger  Ledger
	Keeper  Keeper
	APIAddr string
	LogFile string
}

func Default() Config {
	return Config{
		Ledger: Ledger{
			RPCURL:  "http://localhost:8545",
			ChainID: 1,
		},
		Keeper: Keeper{
			ScanInterval:  5 * time.Second,
			DustThreshold: big.NewInt(1_000_000_000_000), // 1e12 smallest units
			RetryLimit:    3,
		},
		APIAddr: ":8080",
		LogFile: "data/keeper.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.Ledger.RPCURL = getEnv("RPC_URL", cfg.Ledger.RPCURL)
	cfg.Ledger.ContractAddr = getEnv("CONTRACT_ADDR", cfg.Ledger.ContractAddr)
	cfg.Ledger.KeeperKey = getEnv("KEEPER_KEY", cfg.Ledger.KeeperKey)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if v, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Ledger.ChainID = v
		}
	}

	if ms := os.Getenv("SCAN_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil && v > 0 {
			cfg.Keeper.ScanInterval = time.Duration(v) * time.Millisecond
		}
	}
	if dust := os.Getenv("DUST_THRESHOLD"); dust != "" {
		if v, ok := new(big.Int).SetString(dust, 10); ok && v.Sign() >= 0 {
			cfg.Keeper.DustThreshold = v
		}
	}
	if limit := os.Getenv("RETRY_LIMIT"); limit != "" {
		if v, err := strconv.Atoi(limit); err == nil && v > 0 {
			cfg.Keeper.RetryLimit = v
		}
	}
	// Example: "0xabc...,0xdef..."
	if list := os.Getenv("SELF_MATCH_ALLOWLIST"); list != "" {
		for _, addr := range strings.Split(list, ",") {
			addr = strings.ToLower(strings.TrimSpace(addr))
			if addr != "" {
				cfg.Keeper.SelfMatchAllowlist = append(cfg.Keeper.SelfMatchAllowlist, addr)
			}
		}
	}
	cfg.Keeper.RetryDB = getEnv("RETRY_DB", cfg.Keeper.RetryDB)

	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
