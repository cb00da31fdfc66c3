package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel       string
	HTTPPort       string
	SimulationMode bool

	// Kalshi API
	KalshiBaseURL   string
	KalshiWSURL     string
	KalshiKeyID     string
	KalshiKeyPEM    string // PEM or base64-wrapped PEM, or a path to a key file
	KalshiSeries    []string

	// Polymarket API
	PolyGammaURL    string
	PolyClobURL     string
	PolyWSURL       string
	PolyAPIKey      string
	PolySecret      string
	PolyPassphrase  string
	PolyPrivateKey  string
	PolyProxyWallet string
	PolyTagID       int

	// Fees (single model: flat per contract on Polymarket, taker rate on Kalshi)
	KalshiTakerRate float64
	PolyFlatFee     float64

	// Risk
	MaxRiskPerTrade float64
	MaxDailyLoss    float64
	MaxNetExposure  float64

	// Detection
	MinProfit       float64
	DetectCacheTTL  time.Duration
	ProbSpreadGap   float64

	// Execution
	CooldownDuration   time.Duration
	PairCooldown       time.Duration
	BookFreshness      time.Duration
	BalanceSyncEvery   time.Duration
	BalanceSyncMaxAge  time.Duration
	RequestTimeout     time.Duration
	MinPolyOrderValue  float64

	// WebSocket
	WSDialTimeout           time.Duration
	WSPingInterval          time.Duration
	WSReconnectInitialDelay time.Duration
	WSReconnectMaxDelay     time.Duration
	WSReconnectBackoffMult  float64
	WSMessageBufferSize     int

	// Discovery
	DiscoveryLimit     int
	MaxMarketHorizon   time.Duration

	// Storage
	StorageMode  string // "sqlite", "postgres" or "console"
	SQLitePath   string
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	// Event log
	EventQueueSize int
}

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		LogLevel:       getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort:       getEnvOrDefault("HTTP_PORT", "8080"),
		SimulationMode: getBoolOrDefault("SIMULATION_MODE", true),

		KalshiBaseURL: getEnvOrDefault("KALSHI_BASE_URL", "https://api.elections.kalshi.com/trade-api/v2"),
		KalshiWSURL:   getEnvOrDefault("KALSHI_WS_URL", "wss://api.elections.kalshi.com/trade-api/ws/v2"),
		KalshiKeyID:   os.Getenv("KALSHI_API_KEY"),
		KalshiKeyPEM:  os.Getenv("KALSHI_API_SECRET"),
		KalshiSeries:  []string{"KXBTC15M", "KXETH15M", "KXSOL15M"},

		PolyGammaURL:    getEnvOrDefault("POLYMARKET_GAMMA_API_URL", "https://gamma-api.polymarket.com"),
		PolyClobURL:     getEnvOrDefault("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		PolyWSURL:       getEnvOrDefault("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com/ws/market"),
		PolyAPIKey:      os.Getenv("POLYMARKET_API_KEY"),
		PolySecret:      os.Getenv("POLYMARKET_SECRET"),
		PolyPassphrase:  os.Getenv("POLYMARKET_PASSPHRASE"),
		PolyPrivateKey:  os.Getenv("POLYMARKET_PRIVATE_KEY"),
		PolyProxyWallet: os.Getenv("POLYMARKET_PROXY_WALLET"),
		PolyTagID:       getIntOrDefault("POLYMARKET_TAG_ID", 102467), // 15-minute markets

		KalshiTakerRate: getFloat64OrDefault("KALSHI_TAKER_RATE", 0.01),
		PolyFlatFee:     getFloat64OrDefault("POLY_FLAT_FEE", 0.001),

		MaxRiskPerTrade: getFloat64OrDefault("MAX_RISK_PER_TRADE", 0.90),
		MaxDailyLoss:    getFloat64OrDefault("MAX_DAILY_LOSS", 0.20),
		MaxNetExposure:  getFloat64OrDefault("MAX_NET_EXPOSURE", 0.50),

		MinProfit:      getFloat64OrDefault("MIN_PROFIT", 0.01),
		DetectCacheTTL: getDurationOrDefault("DETECT_CACHE_MS", 100*time.Millisecond),
		ProbSpreadGap:  getFloat64OrDefault("PROB_SPREAD_GAP", 0.15),

		CooldownDuration:  getDurationOrDefault("COOLDOWN_SECONDS", 60*time.Second),
		PairCooldown:      getDurationOrDefault("PAIR_COOLDOWN_SECONDS", 15*time.Second),
		BookFreshness:     getDurationOrDefault("BOOK_FRESHNESS_MS", 500*time.Millisecond),
		BalanceSyncEvery:  getDurationOrDefault("BALANCE_SYNC_SECONDS", 30*time.Second),
		BalanceSyncMaxAge: getDurationOrDefault("BALANCE_SYNC_MAX_AGE", 10*time.Second),
		RequestTimeout:    getDurationOrDefault("REQUEST_TIMEOUT", 5*time.Second),
		MinPolyOrderValue: getFloat64OrDefault("POLY_MIN_ORDER_VALUE", 1.00),

		WSDialTimeout:           getDurationOrDefault("WS_DIAL_TIMEOUT", 10*time.Second),
		WSPingInterval:          getDurationOrDefault("WS_PING_INTERVAL", 10*time.Second),
		WSReconnectInitialDelay: getDurationOrDefault("WS_RECONNECT_INITIAL_DELAY", 1*time.Second),
		WSReconnectMaxDelay:     getDurationOrDefault("WS_RECONNECT_MAX_DELAY", 30*time.Second),
		WSReconnectBackoffMult:  getFloat64OrDefault("WS_RECONNECT_BACKOFF_MULTIPLIER", 2.0),
		WSMessageBufferSize:     getIntOrDefault("WS_MESSAGE_BUFFER_SIZE", 1000),

		DiscoveryLimit:   getIntOrDefault("DISCOVERY_LIMIT", 100),
		MaxMarketHorizon: getDurationOrDefault("MAX_MARKET_HORIZON", 24*time.Hour),

		StorageMode:  getEnvOrDefault("STORAGE_MODE", "sqlite"),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "arbitrage_bot.db"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "arb"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", ""),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "kalshi_poly_arb"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		EventQueueSize: getIntOrDefault("EVENT_QUEUE_SIZE", 10000),
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid. Credential checks are
// skipped in simulation mode so the bot can run against live market data
// without trading keys.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.MaxRiskPerTrade <= 0 || c.MaxRiskPerTrade > 1.0 {
		return fmt.Errorf("MAX_RISK_PER_TRADE must be in (0, 1], got %f", c.MaxRiskPerTrade)
	}

	if c.MaxDailyLoss <= 0 || c.MaxDailyLoss > 1.0 {
		return fmt.Errorf("MAX_DAILY_LOSS must be in (0, 1], got %f", c.MaxDailyLoss)
	}

	if c.MaxNetExposure <= 0 || c.MaxNetExposure > 1.0 {
		return fmt.Errorf("MAX_NET_EXPOSURE must be in (0, 1], got %f", c.MaxNetExposure)
	}

	if c.MinProfit < 0 {
		return fmt.Errorf("MIN_PROFIT cannot be negative, got %f", c.MinProfit)
	}

	if c.BookFreshness <= 0 {
		return fmt.Errorf("BOOK_FRESHNESS_MS must be positive")
	}

	switch c.StorageMode {
	case "sqlite", "postgres", "console":
	default:
		return fmt.Errorf("STORAGE_MODE must be 'sqlite', 'postgres' or 'console', got %q", c.StorageMode)
	}

	if !c.SimulationMode {
		if c.KalshiKeyID == "" || c.KalshiKeyPEM == "" {
			return fmt.Errorf("KALSHI_API_KEY and KALSHI_API_SECRET are required for live trading")
		}
		if c.PolyAPIKey == "" || c.PolySecret == "" || c.PolyPassphrase == "" || c.PolyPrivateKey == "" {
			return fmt.Errorf("Polymarket API credentials are required for live trading")
		}
	}

	return nil
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

// getDurationOrDefault accepts either a Go duration string ("500ms") or a
// bare number interpreted in the unit implied by the key suffix (_MS, _SECONDS).
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err == nil {
		return duration
	}

	num, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	if len(key) > 3 && key[len(key)-3:] == "_MS" {
		return time.Duration(num) * time.Millisecond
	}
	return time.Duration(num) * time.Second
}
