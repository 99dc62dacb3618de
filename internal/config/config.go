package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Telegram
	BotToken string

	// Scheduler
	TickInterval           time.Duration
	WorkerBudget           int
	DefaultIntervalMinutes int

	// Fetch
	FetchTimeout time.Duration
	FetchMaxSize int64
	UserAgent    string

	// Health / Backoff
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	DisableThreshold int
	RateLimitedFloor time.Duration

	// Fingerprint
	FingerprintTTL  time.Duration
	CleanupInterval time.Duration

	// Dispatch
	MaxMessageLength int
	MaxItemsPerCheck int
	SendRatePerSec   float64
	SendBurst        int
	SendRetryMax     int

	// Ops server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.TickInterval = getEnvDuration("SCHEDULER_TICK", time.Minute)
	cfg.WorkerBudget = getEnvInt("WORKER_BUDGET", 10)
	cfg.DefaultIntervalMinutes = getEnvInt("DEFAULT_INTERVAL_MINUTES", 30)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 30*time.Second)
	cfg.FetchMaxSize = getEnvInt64("FETCH_MAX_SIZE", 5242880)
	cfg.UserAgent = getEnvString("USER_AGENT", "Feedbot/1.0 Feed Reader")
	cfg.BackoffBase = getEnvDuration("BACKOFF_BASE", time.Minute)
	cfg.BackoffCap = getEnvDuration("BACKOFF_CAP", time.Hour)
	cfg.DisableThreshold = getEnvInt("DISABLE_THRESHOLD", 5)
	cfg.RateLimitedFloor = getEnvDuration("RATE_LIMITED_FLOOR", 15*time.Minute)
	cfg.FingerprintTTL = getEnvDuration("FINGERPRINT_TTL", 30*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.MaxMessageLength = getEnvInt("MAX_MESSAGE_LENGTH", 4000)
	cfg.MaxItemsPerCheck = getEnvInt("MAX_ITEMS_PER_CHECK", 5)
	cfg.SendRatePerSec = getEnvFloat("SEND_RATE_PER_SEC", 25)
	cfg.SendBurst = getEnvInt("SEND_BURST", 5)
	cfg.SendRetryMax = getEnvInt("SEND_RETRY_MAX", 3)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は設定値の範囲を検証する。
// 不正な値はパイプラインの無限ループや即時disableを招くため起動時に落とす。
func (c *Config) validate() error {
	if c.TickInterval <= 0 {
		return fmt.Errorf("SCHEDULER_TICK must be positive: %v", c.TickInterval)
	}
	if c.WorkerBudget <= 0 {
		return fmt.Errorf("WORKER_BUDGET must be positive: %d", c.WorkerBudget)
	}
	if c.BackoffBase <= 0 || c.BackoffCap < c.BackoffBase {
		return fmt.Errorf("invalid backoff range: base=%v cap=%v", c.BackoffBase, c.BackoffCap)
	}
	if c.DisableThreshold <= 0 {
		return fmt.Errorf("DISABLE_THRESHOLD must be positive: %d", c.DisableThreshold)
	}
	if c.SendRatePerSec <= 0 {
		return fmt.Errorf("SEND_RATE_PER_SEC must be positive: %v", c.SendRatePerSec)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
