package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Telegram
	BotToken       string
	SuperAdminTgID int64

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Security
	JWTSecret     string
	TokenTTLHours int

	// Application
	AppEnv      string
	AppPort     string
	PublicURL   string
	LogLevel    string
	CORSOrigins []string

	// Rate Limiting
	RateLimitPerUser       int
	RateLimitPerIP         int
	RateLimitWindowSeconds int

	// Admission
	StrictCapacity bool

	// Outbox
	OutboxPollSeconds            int
	OutboxDeliveryTimeoutSeconds int
	OutboxMaxAttempts            int
	OutboxBackoffSeconds         int

	// Optional integrations
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	CensusCacheSeconds int
	AMQPURL            string
}

const defaultJWTSecret = "your_jwt_secret_minimum_32_chars_here_change_this"

func LoadConfig() (*Config, error) {
	cfg := &Config{
		BotToken:   getEnv("BOT_TOKEN", ""),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "portal"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "portal_db"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		JWTSecret:     getEnv("JWT_SECRET_KEY", ""),
		TokenTTLHours: getEnvInt("TOKEN_TTL_HOURS", 24),

		AppEnv:      getEnv("APP_ENV", "development"),
		AppPort:     getEnv("APP_PORT", "8080"),
		PublicURL:   strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "")),

		RateLimitPerUser:       getEnvInt("RATE_LIMIT_PER_USER", 20),
		RateLimitPerIP:         getEnvInt("RATE_LIMIT_PER_IP", 100),
		RateLimitWindowSeconds: getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60),

		StrictCapacity: getEnvBool("STRICT_CAPACITY", false),

		OutboxPollSeconds:            getEnvInt("OUTBOX_POLL_SECONDS", 5),
		OutboxDeliveryTimeoutSeconds: getEnvInt("OUTBOX_DELIVERY_TIMEOUT_SECONDS", 10),
		OutboxMaxAttempts:            getEnvInt("OUTBOX_MAX_ATTEMPTS", 8),
		OutboxBackoffSeconds:         getEnvInt("OUTBOX_BACKOFF_SECONDS", 5),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		CensusCacheSeconds: getEnvInt("CENSUS_CACHE_SECONDS", 30),
		AMQPURL:            getEnv("AMQP_URL", ""),
	}

	superAdminStr := getEnv("SUPER_ADMIN_TELEGRAM_ID", "")
	if superAdminStr != "" {
		id, err := strconv.ParseInt(superAdminStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SUPER_ADMIN_TELEGRAM_ID: %w", err)
		}
		cfg.SuperAdminTgID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET_KEY must be at least 32 characters")
	}
	if c.TokenTTLHours <= 0 {
		return fmt.Errorf("TOKEN_TTL_HOURS must be positive")
	}
	if c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}
	if c.OutboxPollSeconds <= 0 || c.OutboxDeliveryTimeoutSeconds <= 0 || c.OutboxBackoffSeconds <= 0 {
		return fmt.Errorf("outbox intervals must be positive")
	}
	return nil
}

func (c *Config) ValidateProductionSecurity() error {
	if c.AppEnv != "production" {
		return nil
	}

	if c.DBSSLMode != "require" {
		return fmt.Errorf("DB_SSLMODE must be 'require' in production")
	}
	if c.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("JWT_SECRET_KEY must be changed from default in production")
	}
	if c.SuperAdminTgID == 0 {
		return fmt.Errorf("SUPER_ADMIN_TELEGRAM_ID must be set in production")
	}
	if !strings.HasPrefix(c.PublicURL, "https://") {
		return fmt.Errorf("PUBLIC_URL must use https in production")
	}

	return nil
}

func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}

func (c *Config) GetTokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

func (c *Config) GetRateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSeconds) * time.Second
}

func (c *Config) GetOutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollSeconds) * time.Second
}

func (c *Config) GetOutboxDeliveryTimeout() time.Duration {
	return time.Duration(c.OutboxDeliveryTimeoutSeconds) * time.Second
}

func (c *Config) GetOutboxBackoff() time.Duration {
	return time.Duration(c.OutboxBackoffSeconds) * time.Second
}

func (c *Config) GetCensusCacheTTL() time.Duration {
	return time.Duration(c.CensusCacheSeconds) * time.Second
}

func (c *Config) BridgeEnabled() bool {
	return c.BotToken != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
