package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Port     int
	LogLevel string

	// Auth
	JWTSecret       string
	JWTTTL          time.Duration
	VerificationTTL time.Duration
	PublicBaseURL   string

	// Primary store
	UseMockDB   bool
	DatabaseURL string

	// ClickHouse activity log
	ClickHouseEnabled  bool
	ClickHouseHost     string
	ClickHousePort     int
	ClickHouseDatabase string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseUseTLS   bool

	// Mail; an empty host logs mail instead of sending it
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	// Telegram; an empty token disables the bot
	TelegramToken        string
	AllowedUserIDs       []int64
	NotificationChatID   int64
	NotificationThreadID int

	// Webhook mode receives updates on /telegram-webhook instead of polling
	WebhookMode bool
	WebhookURL  string

	CORSOrigins []string
	CacheTTL    time.Duration
	CacheSize   int
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	config := &Config{
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		ClickHouseDatabase: getEnv("CLICKHOUSE_DATABASE", "default"),
		ClickHouseUser:     getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePassword: os.Getenv("CLICKHOUSE_PASSWORD"),
		SMTPHost:           os.Getenv("SMTP_HOST"),
		SMTPUsername:       os.Getenv("SMTP_USERNAME"),
		SMTPPassword:       os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:           getEnv("SMTP_FROM", "no-reply@libmanager.local"),
		TelegramToken:      os.Getenv("TELEGRAM_BOT_TOKEN"),
		UseMockDB:          os.Getenv("USE_MOCK_DB") == "true",
		ClickHouseEnabled:  os.Getenv("CLICKHOUSE_ENABLED") == "true",
		ClickHouseUseTLS:   os.Getenv("CLICKHOUSE_USE_TLS") == "true",
	}

	var err error
	if config.Port, err = intEnv("PORT", 8080); err != nil {
		return nil, err
	}
	config.PublicBaseURL = getEnv("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", config.Port))

	// JWT secret (required)
	config.JWTSecret = os.Getenv("JWT_SECRET")
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if config.JWTTTL, err = durationEnv("JWT_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.VerificationTTL, err = durationEnv("VERIFICATION_TTL", 15*time.Minute); err != nil {
		return nil, err
	}

	// PostgreSQL (required if not using mock)
	if !config.UseMockDB {
		config.DatabaseURL = os.Getenv("DATABASE_URL")
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required when USE_MOCK_DB is not set")
		}
	}

	if config.ClickHouseEnabled {
		config.ClickHouseHost = os.Getenv("CLICKHOUSE_HOST")
		if config.ClickHouseHost == "" {
			return nil, fmt.Errorf("CLICKHOUSE_HOST is required when CLICKHOUSE_ENABLED is true")
		}
		// Default ClickHouse native port
		if config.ClickHousePort, err = intEnv("CLICKHOUSE_PORT", 9000); err != nil {
			return nil, err
		}
	}

	if config.SMTPPort, err = intEnv("SMTP_PORT", 587); err != nil {
		return nil, err
	}

	if config.TelegramToken != "" {
		allowedIDsStr := os.Getenv("ALLOWED_USER_IDS")
		if allowedIDsStr == "" {
			return nil, fmt.Errorf("ALLOWED_USER_IDS is required when TELEGRAM_BOT_TOKEN is set (comma-separated list of Telegram user IDs)")
		}
		for _, idStr := range strings.Split(allowedIDsStr, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(idStr), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid user ID in ALLOWED_USER_IDS: %s", idStr)
			}
			config.AllowedUserIDs = append(config.AllowedUserIDs, id)
		}

		if chatStr := os.Getenv("NOTIFICATION_CHAT_ID"); chatStr != "" {
			if config.NotificationChatID, err = strconv.ParseInt(chatStr, 10, 64); err != nil {
				return nil, fmt.Errorf("invalid NOTIFICATION_CHAT_ID: %w", err)
			}
		}
		if config.NotificationThreadID, err = intEnv("NOTIFICATION_THREAD_ID", 0); err != nil {
			return nil, err
		}

		config.WebhookMode = os.Getenv("WEBHOOK_MODE") == "true"
		if config.WebhookMode {
			config.WebhookURL = strings.TrimRight(os.Getenv("WEBHOOK_URL"), "/")
			if config.WebhookURL == "" {
				return nil, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_MODE is true")
			}
		}
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				config.CORSOrigins = append(config.CORSOrigins, origin)
			}
		}
	}

	if config.CacheTTL, err = durationEnv("CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.CacheSize, err = intEnv("CACHE_SIZE", 512); err != nil {
		return nil, err
	}

	return config, nil
}

// getEnv retrieves environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func intEnv(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func durationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
