package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Brokers
	ActiveBroker        string
	BrokersFile         string // optional YAML broker catalogue
	AngelScripMasterURL string

	// Registry store
	StoreDriver string // sqlite | postgres | memory
	SQLitePath  string
	PostgresDSN string

	// Refresh events
	RedisAddr     string // empty disables pub/sub
	RedisPassword string
	RedisChannel  string

	// HTTP
	HTTPAddr    string
	MetricsAddr string

	// Refresh
	RefreshAt      string // HH:MM IST
	RefreshOnStart bool
	MaxRejectRate  float64
	SourceTimeout  time.Duration
	SearchLimit    int

	// Alerts
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string

	// Logging
	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ActiveBroker:        strings.ToLower(getEnv("ACTIVE_BROKER", "angel")),
		BrokersFile:         getEnv("BROKERS_FILE", ""),
		AngelScripMasterURL: getEnv("ANGEL_SCRIP_MASTER_URL", ""),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "data/symtoken.db"),
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "symreg:refresh"),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		RefreshAt:      getEnv("REFRESH_AT", "08:00"),
		RefreshOnStart: getEnvBool("REFRESH_ON_START", true),
		MaxRejectRate:  getEnvFloat("MAX_REJECT_RATE", 0.2),
		SourceTimeout:  getEnvDuration("SOURCE_TIMEOUT", 2*time.Minute),
		SearchLimit:    getEnvInt("SEARCH_LIMIT", 50),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSizeMB:  getEnvInt("LOG_MAX_SIZE_MB", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAgeDays: getEnvInt("LOG_MAX_AGE_DAYS", 30),
	}
}

func mustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("[config] required env var %s not set", key)
	}
	return v
}

// MustPostgresDSN returns POSTGRES_DSN and exits when it is missing.
func (c *Config) MustPostgresDSN() string {
	if c.PostgresDSN != "" {
		return c.PostgresDSN
	}
	return mustEnv("POSTGRES_DSN")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || f < 0 || f > 1 {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil || d <= 0 {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
