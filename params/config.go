package params

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperdex/pkg/app/core/decmath"
)

// Dex holds the exchange-wide parameters.
type Dex struct {
	// Enabled is the global trading switch. When false only admin calls
	// and withdrawals are accepted.
	Enabled bool

	Admin        common.Address // pair administration and fee overrides
	Account      common.Address // custody account receiving deposits
	FeeCollector common.Address
	RootAccount  common.Address // referral chains stop here

	// Ratios in decmath.RatioPrecision units.
	TakerFeeRatio     int64
	MakerFeeRatio     int64
	ParentRewardRatio int64
	GrandRewardRatio  int64

	// MaxMatchCount bounds the round run after each admitted order.
	// Zero disables matching on admission.
	MaxMatchCount int

	// AdminSignRequired makes every order require an admin co-signature.
	AdminSignRequired bool

	// DeferredMatching is the delay before a continuation call runs.
	DeferredMatching time.Duration

	// Referrals is "child:referrer,..." for the static referral directory.
	Referrals string
}

type Node struct {
	// MinBlockTime throttles block production to prevent excessive empty blocks.
	//
	// Recommended values:
	//   - Devnet:  200ms (5 blocks/sec, prevents log spam)
	//   - Load tests: 0ms (produce as fast as calls arrive)
	MinBlockTime time.Duration
	MaxTxBytes   int64
	LogFile      string // empty logs to stdout only
	LogLevel     string
}

type Storage struct {
	Backend     string // "pebble" or "memory"
	Path        string
	JournalPath string // empty disables the call journal
}

type API struct {
	Addr string
	// DevTransfers exposes the in-memory bank's faucet and transfer routes.
	DevTransfers bool
	// RequireSignatures ignores declared signers; calls authenticate only
	// through recovered signatures.
	RequireSignatures bool
}

type Kafka struct {
	Brokers []string // empty disables trade publication
	Topic   string
}

type Config struct {
	Dex     Dex
	Node    Node
	Storage Storage
	API     API
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Dex: Dex{
			Enabled:           true,
			Admin:             common.HexToAddress("0x00000000000000000000000000000000000ad111"),
			Account:           common.HexToAddress("0x00000000000000000000000000000000000de111"),
			FeeCollector:      common.HexToAddress("0x00000000000000000000000000000000000fee11"),
			RootAccount:       common.HexToAddress("0x0000000000000000000000000000000000000001"),
			TakerFeeRatio:     20, // 0.20%
			MakerFeeRatio:     10, // 0.10%
			ParentRewardRatio: 3000,
			GrandRewardRatio:  1000,
			MaxMatchCount:     20,
			DeferredMatching:  500 * time.Millisecond,
		},
		Node: Node{
			MinBlockTime: 200 * time.Millisecond, // Devnet default: prevent log spam
			MaxTxBytes:   1 << 24,
			LogLevel:     "info",
		},
		Storage: Storage{
			Backend: "pebble",
			Path:    "data/hyperdex",
		},
		API: API{
			Addr:         ":8080",
			DevTransfers: true,
		},
		Kafka: Kafka{
			Topic: "trades.executed",
		},
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

	// Dex
	cfg.Dex.Enabled = getBool("DEX_ENABLED", cfg.Dex.Enabled)
	cfg.Dex.Admin = getAddress("DEX_ADMIN", cfg.Dex.Admin)
	cfg.Dex.Account = getAddress("DEX_ACCOUNT", cfg.Dex.Account)
	cfg.Dex.FeeCollector = getAddress("DEX_FEE_COLLECTOR", cfg.Dex.FeeCollector)
	cfg.Dex.RootAccount = getAddress("DEX_ROOT_ACCOUNT", cfg.Dex.RootAccount)
	cfg.Dex.TakerFeeRatio = getInt64("DEX_TAKER_FEE_RATIO", cfg.Dex.TakerFeeRatio)
	cfg.Dex.MakerFeeRatio = getInt64("DEX_MAKER_FEE_RATIO", cfg.Dex.MakerFeeRatio)
	cfg.Dex.ParentRewardRatio = getInt64("DEX_PARENT_REWARD_RATIO", cfg.Dex.ParentRewardRatio)
	cfg.Dex.GrandRewardRatio = getInt64("DEX_GRAND_REWARD_RATIO", cfg.Dex.GrandRewardRatio)
	cfg.Dex.MaxMatchCount = int(getInt64("DEX_MAX_MATCH_COUNT", int64(cfg.Dex.MaxMatchCount)))
	cfg.Dex.AdminSignRequired = getBool("DEX_ADMIN_SIGN_REQUIRED", cfg.Dex.AdminSignRequired)
	cfg.Dex.DeferredMatching = getMillis("DEX_DEFERRED_MATCHING_MS", cfg.Dex.DeferredMatching)
	cfg.Dex.Referrals = getEnv("DEX_REFERRALS", cfg.Dex.Referrals)

	// Node
	cfg.Node.MinBlockTime = getMillis("NODE_MIN_BLOCK_TIME_MS", cfg.Node.MinBlockTime)
	cfg.Node.MaxTxBytes = getInt64("NODE_MAX_TX_BYTES", cfg.Node.MaxTxBytes)
	cfg.Node.LogFile = getEnv("NODE_LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)

	// Storage
	cfg.Storage.Backend = getEnv("STORAGE_BACKEND", cfg.Storage.Backend)
	cfg.Storage.Path = getEnv("STORAGE_PATH", cfg.Storage.Path)
	cfg.Storage.JournalPath = getEnv("STORAGE_JOURNAL_PATH", cfg.Storage.JournalPath)

	// API
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.API.DevTransfers = getBool("API_DEV_TRANSFERS", cfg.API.DevTransfers)
	cfg.API.RequireSignatures = getBool("API_REQUIRE_SIGNATURES", cfg.API.RequireSignatures)

	// Kafka brokers from comma-separated list, e.g. "localhost:9092,localhost:9093"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka.Brokers = nil
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
			}
		}
	}
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", cfg.Kafka.Topic)

	return cfg
}

// Validate checks the parameter bounds the exchange relies on.
func (c Config) Validate() error {
	d := c.Dex
	if !decmath.ValidFeeRatio(d.TakerFeeRatio) || !decmath.ValidFeeRatio(d.MakerFeeRatio) {
		return fmt.Errorf("fee ratios must be in [0,%d], got taker=%d maker=%d",
			decmath.FeeRatioMax, d.TakerFeeRatio, d.MakerFeeRatio)
	}
	if d.ParentRewardRatio < 0 || d.GrandRewardRatio < 0 ||
		d.ParentRewardRatio+d.GrandRewardRatio > decmath.RatioPrecision {
		return fmt.Errorf("referral ratios must be non-negative and sum to at most %d, got parent=%d grand=%d",
			decmath.RatioPrecision, d.ParentRewardRatio, d.GrandRewardRatio)
	}
	if d.MaxMatchCount < 0 {
		return fmt.Errorf("max match count must be non-negative, got %d", d.MaxMatchCount)
	}
	if d.DeferredMatching < 0 {
		return fmt.Errorf("deferred matching delay must be non-negative, got %s", d.DeferredMatching)
	}
	zero := common.Address{}
	if d.Admin == zero || d.Account == zero || d.FeeCollector == zero {
		return fmt.Errorf("admin, dex account and fee collector must be set")
	}
	if d.Account == d.Admin || d.Account == d.FeeCollector {
		return fmt.Errorf("dex account %s must differ from admin and fee collector", d.Account.Hex())
	}
	if c.Node.MaxTxBytes <= 0 {
		return fmt.Errorf("max tx bytes must be positive, got %d", c.Node.MaxTxBytes)
	}
	return nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getMillis(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getAddress(key string, defaultValue common.Address) common.Address {
	if v := os.Getenv(key); common.IsHexAddress(v) {
		return common.HexToAddress(v)
	}
	return defaultValue
}
