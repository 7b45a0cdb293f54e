package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the trading core.
type Config struct {
	Port string

	// Delta Exchange
	DeltaBaseURL string

	// Client whitelist
	ClientsCSVPath string

	// Database
	DBPath string

	// Auth
	JWTSecret  string
	SessionTTL time.Duration

	// Strategy engine
	StrategyDefaultsPath string

	// HTTP
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration

	// Sentiment
	SentimentTTL time.Duration
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	// Database path: prefer DB_PATH, then DATABASE_PATH for backward compatibility.
	dbPath := getEnv("DB_PATH", "")
	if dbPath == "" {
		dbPath = getEnv("DATABASE_PATH", "./data/delta-core.db")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DeltaBaseURL:         strings.TrimRight(getEnv("DELTA_BASE_URL", "https://api.india.delta.exchange"), "/"),
		ClientsCSVPath:       getEnv("CLIENTS_CSV_PATH", "./privatedata/clients.csv"),
		DBPath:               dbPath,
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
		SessionTTL:           time.Duration(getEnvInt("SESSION_TTL_MINUTES", 720)) * time.Minute,
		StrategyDefaultsPath: getEnv("STRATEGY_DEFAULTS_PATH", "./strategies.yaml"),
		CORSOrigins:          splitAndTrim(getEnv("CORS_ORIGINS", "*")),
		RateLimitRPS:         getEnvFloat("RATE_LIMIT_RPS", 20),
		RateLimitBurst:       getEnvInt("RATE_LIMIT_BURST", 40),
		RequestTimeout:       time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 120)) * time.Second,
		SentimentTTL:         time.Duration(getEnvInt("SENTIMENT_TTL_SECONDS", 300)) * time.Second,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
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
