package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// ErrFatalConfig marks configuration problems that must stop the process at startup.
var ErrFatalConfig = errors.New("fatal config")

// Known market names. Kept as plain strings so pkg/ stays free of internal imports.
const (
	MarketCrypto = "CRYPTO"
	MarketKRX    = "KRX"
	MarketUS     = "US"
)

// Config holds all configuration for the application
// ⭐ SSOT: 모든 환경변수는 여기서만 읽음
type Config struct {
	// Server (ops API)
	Port string
	Env  string // development, staging, production

	// Database
	Database DatabaseConfig

	// Redis
	Redis RedisConfig

	// Brokers
	KIS   KISConfig
	Upbit UpbitConfig

	// Notifications
	Notify NotifyConfig

	// Trading pipeline
	Trading   TradingConfig
	Risk      RiskConfig
	Breaker   BreakerConfig
	Reconcile ReconcileConfig

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   LogFileConfig

	// Monitoring
	MetricsEnabled bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL string

	// Connection Pool
	MaxConns        int
	MinConns        int
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// KISConfig holds KIS (한국투자증권) API configuration
type KISConfig struct {
	AppKey    string
	AppSecret string
	AccountNo string
	BaseURL   string
	IsVirtual bool // 모의투자 여부
}

// UpbitConfig holds Upbit API configuration
type UpbitConfig struct {
	AccessKey string
	SecretKey string
	BaseURL   string
}

// NotifyConfig holds notification sink configuration
type NotifyConfig struct {
	TelegramToken  string
	TelegramChatID string
}

// TradingConfig controls the market loops
type TradingConfig struct {
	DryRun           bool
	LoopMode         bool
	ExecuteMarkets   []string
	CryptoInterval   time.Duration
	KRXInterval      time.Duration
	USInterval       time.Duration
	MinConfidence    decimal.Decimal
	DailyOrderBudget int // 0 = unlimited
}

// RiskConfig holds sizing and validation limits
type RiskConfig struct {
	RiskPct              decimal.Decimal
	StopLossPct          decimal.Decimal
	TakeProfitPct        decimal.Decimal
	MaxExposurePct       decimal.Decimal
	MaxTotalExposurePct  decimal.Decimal
	MaxPortfolioLeverage decimal.Decimal
	DefaultMaxLeverage   decimal.Decimal
	MaxLeveragePerSymbol map[string]decimal.Decimal
	MinStopDistancePct   decimal.Decimal
	MaxStopDistancePct   decimal.Decimal
	BlockOnEventRisk     bool
	LimitsFile           string // optional YAML override
}

// BreakerConfig holds circuit breaker limits
type BreakerConfig struct {
	Enabled           bool
	DailyLossLimitPct decimal.Decimal // negative, e.g. -0.05
	MaxDrawdownPct    decimal.Decimal // negative, e.g. -0.10
	Cooldown          time.Duration
	Interval          time.Duration
	LiquidatePct      decimal.Decimal
}

// ReconcileConfig holds broker position reconciliation settings
type ReconcileConfig struct {
	Interval time.Duration
}

// LogFileConfig enables a rotating log file next to stdout
type LogFileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Load reads configuration from environment variables
// ⭐ SSOT: 이 함수만 os.Getenv()를 호출함
func Load() (*Config, error) {
	loadEnvFile()

	cfg := &Config{
		Port: getEnv("PORT", "8089"),
		Env:  getEnv("ENV", "development"),

		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			MaxConns:        getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns:        getEnvAsInt("DB_MIN_CONNS", 2),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", "1h"),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", "30m"),
		},

		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
		},

		KIS: KISConfig{
			AppKey:    getEnv("KIS_APP_KEY", ""),
			AppSecret: getEnv("KIS_APP_SECRET", ""),
			AccountNo: getEnv("KIS_ACCOUNT_NO", ""),
			BaseURL:   getEnv("KIS_BASE_URL", "https://openapi.koreainvestment.com:9443"),
			IsVirtual: getEnvAsBool("KIS_IS_VIRTUAL", false),
		},

		Upbit: UpbitConfig{
			AccessKey: getEnv("UPBIT_ACCESS_KEY", ""),
			SecretKey: getEnv("UPBIT_SECRET_KEY", ""),
			BaseURL:   getEnv("UPBIT_BASE_URL", "https://api.upbit.com"),
		},

		Notify: NotifyConfig{
			TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
			TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		},

		Trading: TradingConfig{
			DryRun:           getEnvAsBool("DRY_RUN", true),
			LoopMode:         getEnvAsBool("LOOP_MODE", false),
			ExecuteMarkets:   getEnvAsList("EXECUTE_MARKETS", "CRYPTO"),
			CryptoInterval:   getEnvAsDuration("LOOP_INTERVAL_CRYPTO", "1m"),
			KRXInterval:      getEnvAsDuration("LOOP_INTERVAL_KRX", "5m"),
			USInterval:       getEnvAsDuration("LOOP_INTERVAL_US", "5m"),
			MinConfidence:    getEnvAsDecimal("MIN_CONFIDENCE", "0.6"),
			DailyOrderBudget: getEnvAsInt("DAILY_ORDER_BUDGET", 0),
		},

		Risk: RiskConfig{
			RiskPct:              getEnvAsDecimal("RISK_PCT", "0.01"),
			StopLossPct:          getEnvAsDecimal("STOP_LOSS_PCT", "0.02"),
			TakeProfitPct:        getEnvAsDecimal("TAKE_PROFIT_PCT", "0.04"),
			MaxExposurePct:       getEnvAsDecimal("MAX_EXPOSURE_PCT", "0.25"),
			MaxTotalExposurePct:  getEnvAsDecimal("MAX_TOTAL_EXPOSURE_PCT", "1.0"),
			MaxPortfolioLeverage: getEnvAsDecimal("MAX_PORTFOLIO_LEVERAGE", "1.0"),
			DefaultMaxLeverage:   getEnvAsDecimal("DEFAULT_MAX_LEVERAGE", "1.2"),
			MaxLeveragePerSymbol: getEnvAsDecimalMap("MAX_LEVERAGE_PER_SYMBOL", "BTC=1.5,ETH=1.5"),
			MinStopDistancePct:   getEnvAsDecimal("MIN_STOP_DISTANCE_PCT", "0.005"),
			MaxStopDistancePct:   getEnvAsDecimal("MAX_STOP_DISTANCE_PCT", "0.05"),
			BlockOnEventRisk:     getEnvAsBool("BLOCK_ON_EVENT_RISK", false),
			LimitsFile:           getEnv("RISK_LIMITS_FILE", ""),
		},

		Breaker: BreakerConfig{
			Enabled:           getEnvAsBool("BREAKER_ENABLED", true),
			DailyLossLimitPct: getEnvAsDecimal("DAILY_LOSS_LIMIT_PCT", "-0.05"),
			MaxDrawdownPct:    getEnvAsDecimal("MAX_DRAWDOWN_PCT", "-0.10"),
			Cooldown:          getEnvAsDuration("COOLDOWN", "60m"),
			Interval:          getEnvAsDuration("BREAKER_INTERVAL", "1m"),
			LiquidatePct:      getEnvAsDecimal("LIQUIDATE_PCT", "1"),
		},

		Reconcile: ReconcileConfig{
			Interval: getEnvAsDuration("RECONCILE_INTERVAL", "10m"),
		},

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile: LogFileConfig{
			Path:       getEnv("LOG_FILE", ""),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 7),
			MaxAgeDays: getEnvAsInt("LOG_FILE_MAX_AGE_DAYS", 30),
		},

		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("%w: DATABASE_URL is required", ErrFatalConfig)
	}

	if c.Env != "development" && c.Env != "staging" && c.Env != "production" {
		return fmt.Errorf("%w: ENV must be one of: development, staging, production", ErrFatalConfig)
	}

	for _, m := range c.Trading.ExecuteMarkets {
		if m != MarketCrypto && m != MarketKRX && m != MarketUS {
			return fmt.Errorf("%w: unknown market %q in EXECUTE_MARKETS", ErrFatalConfig, m)
		}
	}

	if c.Trading.MinConfidence.IsNegative() || c.Trading.MinConfidence.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: MIN_CONFIDENCE must be within [0,1]", ErrFatalConfig)
	}

	if !c.Breaker.DailyLossLimitPct.IsNegative() || !c.Breaker.MaxDrawdownPct.IsNegative() {
		return fmt.Errorf("%w: DAILY_LOSS_LIMIT_PCT and MAX_DRAWDOWN_PCT must be negative", ErrFatalConfig)
	}

	// 실거래 모드: 브로커 인증정보 필수
	if !c.Trading.DryRun {
		if c.HasMarket(MarketKRX) || c.HasMarket(MarketUS) {
			if c.KIS.AppKey == "" || c.KIS.AppSecret == "" {
				return fmt.Errorf("%w: KIS_APP_KEY and KIS_APP_SECRET are required for live KRX/US trading", ErrFatalConfig)
			}
			if len(c.KIS.AccountNo) < 10 {
				return fmt.Errorf("%w: KIS_ACCOUNT_NO must be 10 digits", ErrFatalConfig)
			}
		}
		if c.HasMarket(MarketCrypto) && (c.Upbit.AccessKey == "" || c.Upbit.SecretKey == "") {
			return fmt.Errorf("%w: UPBIT_ACCESS_KEY and UPBIT_SECRET_KEY are required for live CRYPTO trading", ErrFatalConfig)
		}
	}

	return nil
}

// HasMarket reports whether the market is enabled for execution
func (c *Config) HasMarket(market string) bool {
	for _, m := range c.Trading.ExecuteMarkets {
		if m == market {
			return true
		}
	}
	return false
}

// LoopInterval returns the configured tick interval for a market
func (c *Config) LoopInterval(market string) time.Duration {
	switch market {
	case MarketKRX:
		return c.Trading.KRXInterval
	case MarketUS:
		return c.Trading.USInterval
	default:
		return c.Trading.CryptoInterval
	}
}

// Helper functions (private, only used within this file)

// loadEnvFile tries to load .env from multiple locations
func loadEnvFile() {
	paths := []string{".env"}

	if exe, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exe)
		paths = append(paths,
			filepath.Join(exeDir, ".env"),
			filepath.Join(exeDir, "..", ".env"),
		)
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		valueStr = defaultValue
	}

	duration, err := time.ParseDuration(valueStr)
	if err != nil {
		duration, _ = time.ParseDuration(defaultValue)
	}

	return duration
}

// getEnvAsDecimal parses money/percentage values without going through float64
func getEnvAsDecimal(key string, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return decimal.RequireFromString(defaultValue)
	}

	return value
}

func getEnvAsList(key string, defaultValue string) []string {
	raw := getEnv(key, defaultValue)

	items := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			items = append(items, part)
		}
	}
	return items
}

// getEnvAsDecimalMap parses "BTC=1.5,ETH=1.5" style values
func getEnvAsDecimalMap(key string, defaultValue string) map[string]decimal.Decimal {
	raw := getEnv(key, defaultValue)

	result := make(map[string]decimal.Decimal)
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		value, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		result[strings.ToUpper(strings.TrimSpace(k))] = value
	}
	return result
}
