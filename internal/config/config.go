package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all application configuration
type Config struct {
	// Provider
	AIProvider        string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	OpenAIAPIKey      string
	OpenAIModel       string
	SiteURL           string

	// Analysis gateway
	MaxConcurrency int
	MaxRetries     int
	RequestTimeout time.Duration
	RequestsPerSec int
	MaxImageBytes  int

	// HTTP server
	HTTPAddr string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Payments
	StripeAPIKey        string
	StripeCreditsPrice  string
	StripeWebhookSecret string

	// Notifications
	TelegramBotToken  string
	TelegramOpsChatID int64

	// Accounts
	InitialCredits int
	AdminToken     string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load initializes configuration from environment variables
func Load() (*Config, error) {
	// Load environment variables from .env file if present
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg(".env file not found, relying on actual environment variables")
	}

	cfg := &Config{
		AIProvider:        getEnvWithDefault("AI_PROVIDER", "openrouter"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getEnvWithDefault("OPENROUTER_MODEL", "google/gemini-2.0-flash-001"),
		OpenRouterBaseURL: getEnvWithDefault("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:       getEnvWithDefault("OPENAI_MODEL", "gpt-4o"),
		SiteURL:           getEnvWithDefault("SITE_URL", "http://localhost:8080"),

		MaxConcurrency: getEnvIntWithDefault("AI_MAX_CONCURRENCY", 1),
		MaxRetries:     getEnvIntWithDefault("AI_MAX_RETRIES", 3),
		RequestTimeout: getEnvDurationWithDefault("AI_REQUEST_TIMEOUT", 25*time.Second),
		RequestsPerSec: getEnvIntWithDefault("AI_REQUESTS_PER_SEC", 5),
		MaxImageBytes:  getEnvIntWithDefault("MAX_IMAGE_BYTES", 10<<20),

		HTTPAddr: getEnvWithDefault("HTTP_ADDR", ":8080"),

		DBHost:     getEnvWithDefault("DB_HOST", ""),
		DBPort:     getEnvWithDefault("DB_PORT", "5432"),
		DBUser:     getEnvWithDefault("DB_USER", "postgres"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnvWithDefault("DB_NAME", "chartlens"),
		DBSSLMode:  getEnvWithDefault("DB_SSLMODE", "disable"),

		StripeAPIKey:        os.Getenv("STRIPE_API_KEY"),
		StripeCreditsPrice:  os.Getenv("STRIPE_CREDITS_PRICE_ID"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),

		TelegramBotToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramOpsChatID: getEnvInt64WithDefault("TELEGRAM_OPS_CHAT_ID", 0),

		InitialCredits: getEnvIntWithDefault("INITIAL_CREDITS", 3),
		AdminToken:     os.Getenv("ADMIN_API_TOKEN"),

		LogLevel:  getEnvWithDefault("LOG_LEVEL", "info"),
		LogFormat: getEnvWithDefault("LOG_FORMAT", "json"),
	}

	if cfg.MaxConcurrency < 1 {
		cfg.MaxConcurrency = 1
	}
	if cfg.RequestTimeout < 5*time.Second {
		cfg.RequestTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	return cfg, nil
}

// HasDatabase reports whether Postgres connection parameters were provided.
func (c *Config) HasDatabase() bool {
	return c.DBHost != ""
}

// Helper functions for environment variable handling
func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64WithDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}
