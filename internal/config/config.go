// Package config loads the full engine configuration from environment
// variables (via a .env file when present), the way config/loader.go
// loads broker credentials: godotenv.Load(), then os.Getenv with a
// typed fallback default for every key. This generalizes that loader
// from "broker + exposure settings" to every recognized key in the
// configuration surface (rate limiter, margin, spread, lot randomizer,
// smart entry, multi-TP, trailing, break-even, command interpreter).
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/sentineldesk/core/internal/logging"
)

// RateLimitConfig configures C7.
type RateLimitConfig struct {
	SymbolHourlyLimit     int
	SymbolDailyLimit      int
	ProviderHourlyLimit   int
	ProviderDailyLimit    int
	GlobalHourlyLimit     int
	GlobalDailyLimit      int
	CooldownMinutes       int
	EmergencyOverrideLimit int
	SymbolSpecificLimits   map[string]int
	ProviderSpecificLimits map[string]int
}

// MarginThresholds configures C6's status classification.
type MarginThresholds struct {
	Safe           float64
	Warning        float64
	Critical       float64
	MarginCall     float64
	EmergencyClose float64
}

// MarginConfig configures C6.
type MarginConfig struct {
	Thresholds          MarginThresholds
	AlertCooldownMinutes int
	EmergencyCloseEnabled bool
}

// SpreadConfig configures C5.
type SpreadConfig struct {
	DefaultThresholdPips float64
	PerSymbolThresholds  map[string]float64
}

// RandomizerConfig configures C11.
type RandomizerConfig struct {
	VarianceRange     float64
	RoundingPrecision int32
	AvoidRepeats      bool
	MaxRepeatHistory  int
}

// SmartEntryConfig configures C12.
type SmartEntryConfig struct {
	DefaultWaitSeconds   int
	PriceTolerancePips   float64
	MaxConcurrentEntries int
	FallbackToImmediate  bool
}

// MultiTPConfig configures C14.
type MultiTPConfig struct {
	DefaultMonitoringIntervalMS int
	DefaultSLShiftMode          string
	DefaultSLBufferPips         float64
	MinRemainingVolume          float64
	MaxSlippagePips             float64
}

// TrailingConfig configures C15.
type TrailingConfig struct {
	UpdateIntervalSeconds    int
	ActivationThresholdPips  float64
	StepSizePips             float64
	BreakevenLock            bool
}

// BreakEvenConfig configures C16 (per-position overrides apply on top).
type BreakEvenConfig struct {
	DefaultTriggerPips   float64
	DefaultBufferPips    float64
	MinProfitPips        float64
	OnlyWhenProfitable   bool
}

// CommandConfig configures C19.
type CommandConfig struct {
	AdminUsers             []string
	StealthCommandsEnabled bool
	ReplayCommandsEnabled  bool
}

// ExecutorConfig configures C13's worker pool and retry policy.
type ExecutorConfig struct {
	WorkerPoolSize   int
	MaxSlippagePips  float64
	MagicNumber      int64
	MaxRetries       int
	RetryBaseDelayMS int
}

// Config aggregates every recognized configuration key.
type Config struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	IsTestnet        bool

	TelegramBotToken string
	TelegramChatID   int64
	FirebaseCredsPath string

	DataDir string

	RateLimit  RateLimitConfig
	Margin     MarginConfig
	Spread     SpreadConfig
	Randomizer RandomizerConfig
	SmartEntry SmartEntryConfig
	MultiTP    MultiTPConfig
	Trailing   TrailingConfig
	BreakEven  BreakEvenConfig
	Command    CommandConfig
	Executor   ExecutorConfig
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load reads .env (if present) then the process environment, applying
// documented defaults for every key that isn't set.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logging.Warn(".env file not found, relying on process environment")
	}

	apiKey := getString("BINANCE_API_KEY", "")
	apiSecret := getString("BINANCE_API_SECRET", "")
	if apiSecret == "" {
		apiSecret = getString("BINANCE_SECRET_KEY", "")
	}
	if apiKey == "" || apiSecret == "" {
		logging.Warn("broker credentials missing")
	}

	return &Config{
		BinanceAPIKey:     apiKey,
		BinanceAPISecret:  apiSecret,
		IsTestnet:         getBool("BINANCE_TESTNET", false),
		TelegramBotToken:  getString("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:    getInt64("TELEGRAM_CHAT_ID", 0),
		FirebaseCredsPath: getString("FIREBASE_CREDENTIALS_PATH", ""),
		DataDir:           getString("DATA_DIR", "./data"),

		RateLimit: RateLimitConfig{
			SymbolHourlyLimit:     getInt("SYMBOL_HOURLY_LIMIT", 10),
			SymbolDailyLimit:      getInt("SYMBOL_DAILY_LIMIT", 30),
			ProviderHourlyLimit:   getInt("PROVIDER_HOURLY_LIMIT", 30),
			ProviderDailyLimit:    getInt("PROVIDER_DAILY_LIMIT", 100),
			GlobalHourlyLimit:     getInt("GLOBAL_HOURLY_LIMIT", 60),
			GlobalDailyLimit:      getInt("GLOBAL_DAILY_LIMIT", 300),
			CooldownMinutes:       getInt("COOLDOWN_MINUTES", 1),
			EmergencyOverrideLimit: getInt("EMERGENCY_OVERRIDE_LIMIT", 3),
			SymbolSpecificLimits:   map[string]int{},
			ProviderSpecificLimits: map[string]int{},
		},
		Margin: MarginConfig{
			Thresholds: MarginThresholds{
				Safe:           getFloat("MARGIN_SAFE", 300),
				Warning:        getFloat("MARGIN_WARNING", 200),
				Critical:       getFloat("MARGIN_CRITICAL", 150),
				MarginCall:     getFloat("MARGIN_CALL", 100),
				EmergencyClose: getFloat("MARGIN_EMERGENCY_CLOSE", 110),
			},
			AlertCooldownMinutes:  getInt("MARGIN_ALERT_COOLDOWN_MINUTES", 5),
			EmergencyCloseEnabled: getBool("MARGIN_EMERGENCY_CLOSE_ENABLED", true),
		},
		Spread: SpreadConfig{
			DefaultThresholdPips: getFloat("SPREAD_THRESHOLD_PIPS", 3.0),
			PerSymbolThresholds:  map[string]float64{},
		},
		Randomizer: RandomizerConfig{
			VarianceRange:     getFloat("LOT_VARIANCE_RANGE", 0.003),
			RoundingPrecision: int32(getInt("LOT_ROUNDING_PRECISION", 2)),
			AvoidRepeats:      getBool("LOT_AVOID_REPEATS", true),
			MaxRepeatHistory:  getInt("LOT_MAX_REPEAT_HISTORY", 5),
		},
		SmartEntry: SmartEntryConfig{
			DefaultWaitSeconds:   getInt("SMART_ENTRY_WAIT_SECONDS", 120),
			PriceTolerancePips:   getFloat("SMART_ENTRY_TOLERANCE_PIPS", 2.0),
			MaxConcurrentEntries: getInt("SMART_ENTRY_MAX_CONCURRENT", 20),
			FallbackToImmediate:  getBool("SMART_ENTRY_FALLBACK_IMMEDIATE", true),
		},
		MultiTP: MultiTPConfig{
			DefaultMonitoringIntervalMS: getInt("MULTI_TP_INTERVAL_MS", 100),
			DefaultSLShiftMode:          getString("MULTI_TP_SL_SHIFT_MODE", "BREAK_EVEN"),
			DefaultSLBufferPips:         getFloat("MULTI_TP_SL_BUFFER_PIPS", 2.0),
			MinRemainingVolume:          getFloat("MULTI_TP_MIN_REMAINING_VOLUME", 0.01),
			MaxSlippagePips:             getFloat("MULTI_TP_MAX_SLIPPAGE_PIPS", 3.0),
		},
		Trailing: TrailingConfig{
			UpdateIntervalSeconds:   getInt("TRAILING_UPDATE_INTERVAL_SECONDS", 15),
			ActivationThresholdPips: getFloat("TRAILING_ACTIVATION_THRESHOLD_PIPS", 5.0),
			StepSizePips:            getFloat("TRAILING_STEP_SIZE_PIPS", 1.0),
			BreakevenLock:           getBool("TRAILING_BREAKEVEN_LOCK", true),
		},
		BreakEven: BreakEvenConfig{
			DefaultTriggerPips: getFloat("BREAK_EVEN_TRIGGER_PIPS", 10.0),
			DefaultBufferPips:  getFloat("BREAK_EVEN_BUFFER_PIPS", 1.0),
			MinProfitPips:      getFloat("BREAK_EVEN_MIN_PROFIT_PIPS", 5.0),
			OnlyWhenProfitable: getBool("BREAK_EVEN_ONLY_WHEN_PROFITABLE", true),
		},
		Command: CommandConfig{
			AdminUsers:             getList("ADMIN_USERS", nil),
			StealthCommandsEnabled: getBool("STEALTH_COMMANDS_ENABLED", true),
			ReplayCommandsEnabled:  getBool("REPLAY_COMMANDS_ENABLED", true),
		},
		Executor: ExecutorConfig{
			WorkerPoolSize:   getInt("EXECUTOR_WORKER_POOL_SIZE", 5),
			MaxSlippagePips:  getFloat("EXECUTOR_MAX_SLIPPAGE_PIPS", 3.0),
			MagicNumber:      getInt64("EXECUTOR_MAGIC_NUMBER", 990099),
			MaxRetries:       getInt("EXECUTOR_MAX_RETRIES", 4),
			RetryBaseDelayMS: getInt("EXECUTOR_RETRY_BASE_DELAY_MS", 200),
		},
	}
}
