package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// PeerOracle identifies one member of the multisig oracle set.
type PeerOracle struct {
	Index  int
	Pubkey string
	URL    string
}

// Config is the full runtime configuration, populated from environment
// variables. All credentials MUST come from the environment; there are no
// fallback defaults for security-sensitive values.
type Config struct {
	Port       string
	SocketPort string
	CORSOrigin string

	DatabaseURL      string
	SolanaRPCURL     string
	ArenaProgramID   string
	OraclePrivateKey string
	WebhookSecret    string

	LogInterval          time.Duration // battle:log pacing, clamped [500ms, 1000ms]
	MaxConcurrentBattles int

	EnableStaking      bool // wagering mode when true, immediate mode otherwise
	EnableOnChainArena bool
	UseMultisigOracle  bool
	OracleNodeIndex    int
	PeerOracles        []PeerOracle
}

const (
	defaultPort        = "5340"
	defaultLogInterval = 700 * time.Millisecond
	minLogInterval     = 500 * time.Millisecond
	maxLogInterval     = 1000 * time.Millisecond
	defaultMaxBattles  = 3
)

// Load builds a Config from the process environment. It returns an error for
// missing required values so main can exit with a clear message.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", defaultPort),
		CORSOrigin:           os.Getenv("CORS_ORIGIN"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SolanaRPCURL:         getEnvOrDefault("SOLANA_RPC_URL", "https://api.devnet.solana.com"),
		ArenaProgramID:       os.Getenv("ARENA_PROGRAM_ID"),
		OraclePrivateKey:     os.Getenv("ORACLE_PRIVATE_KEY"),
		WebhookSecret:        os.Getenv("WEBHOOK_SECRET"),
		LogInterval:          clampLogInterval(getEnvInt("BATTLE_LOG_INTERVAL_MS", int(defaultLogInterval/time.Millisecond))),
		MaxConcurrentBattles: getEnvInt("MAX_CONCURRENT_BATTLES", defaultMaxBattles),
		EnableStaking:        os.Getenv("ENABLE_STAKING") == "true",
		EnableOnChainArena:   os.Getenv("ENABLE_ON_CHAIN_ARENA") == "true",
		UseMultisigOracle:    os.Getenv("USE_MULTISIG_ORACLE") == "true",
		OracleNodeIndex:      getEnvInt("ORACLE_NODE_INDEX", 0),
	}
	cfg.SocketPort = getEnvOrDefault("SOCKET_PORT", cfg.Port)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variable DATABASE_URL is not set")
	}
	if cfg.MaxConcurrentBattles < 1 {
		cfg.MaxConcurrentBattles = defaultMaxBattles
	}
	if cfg.EnableOnChainArena && (cfg.ArenaProgramID == "" || cfg.OraclePrivateKey == "") {
		return nil, fmt.Errorf("ENABLE_ON_CHAIN_ARENA=true requires ARENA_PROGRAM_ID and ORACLE_PRIVATE_KEY")
	}

	// Peer oracles are declared as ORACLE_<i>_PUBKEY / ORACLE_<i>_KEY pairs.
	// ORACLE_<i>_KEY holds the peer's base URL for /sign requests; our own
	// signing key comes from ORACLE_PRIVATE_KEY.
	for i := 0; i < 8; i++ {
		pub := os.Getenv(fmt.Sprintf("ORACLE_%d_PUBKEY", i))
		if pub == "" {
			continue
		}
		cfg.PeerOracles = append(cfg.PeerOracles, PeerOracle{
			Index:  i,
			Pubkey: pub,
			URL:    os.Getenv(fmt.Sprintf("ORACLE_%d_KEY", i)),
		})
	}
	if cfg.UseMultisigOracle && len(cfg.PeerOracles) < 2 {
		return nil, fmt.Errorf("USE_MULTISIG_ORACLE=true requires at least 2 ORACLE_<i>_PUBKEY entries")
	}

	return cfg, nil
}

func clampLogInterval(ms int) time.Duration {
	d := time.Duration(ms) * time.Millisecond
	if d < minLogInterval {
		return minLogInterval
	}
	if d > maxLogInterval {
		return maxLogInterval
	}
	return d
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return n
}
