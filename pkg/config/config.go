// Package config builds a single immutable Config value at startup, the way
// the teacher's pkg/config/config.go does with godotenv plus getEnv helpers.
// Per spec §9's re-architecture note ("singleton configuration with mutable
// flags"), no package-level mutable config exists here: Load returns a value
// that every component constructor receives explicitly.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Mode is the process run mode the StartupGate checks (spec §4.12/§6).
type Mode string

const (
	ModeProduction Mode = "PRODUCTION"
	ModeBeta       Mode = "BETA"
)

// Config holds every environment-driven setting for the trading core.
type Config struct {
	Mode Mode

	DBPath   string
	LogLevel string

	OrderExecutionEnabled bool
	PersistTickEvents     bool
	AsyncEventWriterEnabled bool

	ReconcileInterval        time.Duration
	ReconcilePendingTimeout  time.Duration
	ReconcileMaxConcurrent   int

	EvaluatorWindowSizes map[int]int // timeframe minutes -> lookback window length

	RiskProfileDefault string
	RiskProfilesPath   string

	DefaultPWin float64 // Open Question 1: explicit, not hardcoded in source

	MarketOpenOffset  time.Duration
	MarketCloseOffset time.Duration
	PreCloseQuiet     time.Duration

	Brokers []BrokerConfig

	// Symbols is the watchlist the paper data broker streams when no live
	// adapter is configured for a role-DATA user-broker.
	Symbols []string

	// SimStartPrice seeds internal/broker/sim's random-walk generator.
	SimStartPrice float64
	// SeedCashPerBroker seeds internal/account.Ledger for every enabled
	// EXEC user-broker at startup.
	SeedCashPerBroker float64

	// UseEmpiricalWinRateEstimator switches signal.Evaluator from the
	// constant Open Question 1 default onto the RSI/SMA heuristic.
	UseEmpiricalWinRateEstimator bool

	ATRPeriod int
	ATRWindow int
}

// BrokerConfig describes one configured broker connection.
type BrokerConfig struct {
	UserBrokerID   string
	Env            string // PRODUCTION | UAT | SANDBOX, explicit marker only
	CredentialsRef string
	APIBaseURL     string
}

// Load reads environment variables (optionally via .env) into a Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Mode:     Mode(strings.ToUpper(getEnv("MODE", "BETA"))),
		DBPath:   getEnv("DB_PATH", "./data/trading.db"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),

		OrderExecutionEnabled:   getEnv("ORDER_EXECUTION_ENABLED", "true") == "true",
		PersistTickEvents:       getEnv("PERSIST_TICK_EVENTS", "false") == "true",
		AsyncEventWriterEnabled: getEnv("ASYNC_EVENT_WRITER_ENABLED", "true") == "true",

		ReconcileInterval:       getEnvDurationSeconds("RECONCILE_INTERVAL_SECONDS", 30),
		ReconcilePendingTimeout: getEnvDurationMinutes("RECONCILE_PENDING_TIMEOUT_MINUTES", 10),
		ReconcileMaxConcurrent:  getEnvInt("RECONCILE_MAX_CONCURRENT", 5),

		EvaluatorWindowSizes: map[int]int{1: 20, 25: 20, 125: 20},

		RiskProfileDefault: getEnv("RISK_PROFILE_DEFAULT", "balanced"),
		RiskProfilesPath:   getEnv("RISK_PROFILES_PATH", "./config/risk_profiles.yaml"),

		DefaultPWin: getEnvFloat("DEFAULT_PWIN", 0.65),

		MarketOpenOffset:  getEnvDurationMinutes("MARKET_OPEN_OFFSET_MINUTES", 9*60+15),
		MarketCloseOffset: getEnvDurationMinutes("MARKET_CLOSE_OFFSET_MINUTES", 15*60+30),
		PreCloseQuiet:     getEnvDurationSeconds("PRE_CLOSE_QUIET_SECONDS", 60),

		Symbols:           strings.Split(getEnv("SYMBOLS", "SBIN,RELIANCE,INFY"), ","),
		SimStartPrice:     getEnvFloat("SIM_START_PRICE", 500),
		SeedCashPerBroker: getEnvFloat("SEED_CASH_PER_BROKER", 500000),

		UseEmpiricalWinRateEstimator: getEnv("USE_EMPIRICAL_PWIN", "false") == "true",

		ATRPeriod: getEnvInt("ATR_PERIOD", 14),
		ATRWindow: getEnvInt("ATR_WINDOW", 60),
	}
	return cfg, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDurationSeconds(key string, defSeconds int) time.Duration {
	return time.Duration(getEnvInt(key, defSeconds)) * time.Second
}

func getEnvDurationMinutes(key string, defMinutes int) time.Duration {
	return time.Duration(getEnvInt(key, defMinutes)) * time.Minute
}
