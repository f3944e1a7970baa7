package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/covebase/cove/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	ObjectStore   ObjectStoreConfig
	Auth          AuthConfig
	Billing       BillingConfig
	Chat          ChatConfig
	Indexing      IndexingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL          string
	MaxConns     int
	MinConns     int
	ConnLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
}

// ObjectStoreConfig holds document blob storage configuration.
// Type selects the backend: "filesystem" for local development,
// "s3" for production.
type ObjectStoreConfig struct {
	Type           string
	FilesystemRoot string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	JWTSecret       string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

// BillingConfig holds payment provider configuration
type BillingConfig struct {
	APIBaseURL         string
	APIKey             string
	WebhookSecret      string
	ProPriceID         string
	EnterprisePriceID  string
	CheckoutSuccessURL string
	CheckoutCancelURL  string
	PortalReturnURL    string
}

// ChatConfig holds assistant configuration
type ChatConfig struct {
	RateLimitRequests int
	RateLimitWindow   time.Duration
	CompletionAPIKey  string
	CompletionBaseURL string
}

// IndexingConfig holds document pipeline configuration
type IndexingConfig struct {
	ChunkSize    int
	ChunkOverlap int
	Workers      int
	JobTimeout   time.Duration
	StuckJobAge  time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("COVE_HOST", "0.0.0.0"),
			Port:            getEnv("COVE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("COVE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("COVE_WRITE_TIMEOUT", 60*time.Second),
			IdleTimeout:     getEnvDuration("COVE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("COVE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:          getEnv("COVE_POSTGRES_URL", ""),
			MaxConns:     getEnvInt("COVE_POSTGRES_MAX_CONNS", 25),
			MinConns:     getEnvInt("COVE_POSTGRES_MIN_CONNS", 5),
			ConnLifetime: getEnvDuration("COVE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL:        getEnv("COVE_REDIS_URL", "redis://localhost:6379/0"),
			Password:   getEnv("COVE_REDIS_PASSWORD", ""),
			DB:         getEnvInt("COVE_REDIS_DB", 0),
			PoolSize:   getEnvInt("COVE_REDIS_POOL_SIZE", 10),
			MaxRetries: getEnvInt("COVE_REDIS_MAX_RETRIES", 3),
		},
		ObjectStore: ObjectStoreConfig{
			Type:           getEnv("COVE_OBJECT_STORE_TYPE", "filesystem"),
			FilesystemRoot: getEnv("COVE_FILESYSTEM_ROOT", "/var/lib/cove/documents"),
			S3Endpoint:     getEnv("COVE_S3_ENDPOINT", ""),
			S3Region:       getEnv("COVE_S3_REGION", "us-east-1"),
			S3Bucket:       getEnv("COVE_S3_BUCKET", ""),
			S3AccessKey:    getEnv("COVE_S3_ACCESS_KEY", ""),
			S3SecretKey:    getEnv("COVE_S3_SECRET_KEY", ""),
			S3UsePathStyle: getEnvBool("COVE_S3_USE_PATH_STYLE", false),
		},
		Auth: AuthConfig{
			JWTSecret:       getEnv("COVE_JWT_SECRET", ""),
			AccessTokenTTL:  getEnvDuration("COVE_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshTokenTTL: getEnvDuration("COVE_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		},
		Billing: BillingConfig{
			APIBaseURL:         getEnv("COVE_BILLING_API_BASE_URL", "https://api.billing.example.com"),
			APIKey:             getEnv("COVE_BILLING_API_KEY", ""),
			WebhookSecret:      getEnv("COVE_BILLING_WEBHOOK_SECRET", ""),
			ProPriceID:         getEnv("COVE_BILLING_PRO_PRICE_ID", ""),
			EnterprisePriceID:  getEnv("COVE_BILLING_ENTERPRISE_PRICE_ID", ""),
			CheckoutSuccessURL: getEnv("COVE_BILLING_CHECKOUT_SUCCESS_URL", ""),
			CheckoutCancelURL:  getEnv("COVE_BILLING_CHECKOUT_CANCEL_URL", ""),
			PortalReturnURL:    getEnv("COVE_BILLING_PORTAL_RETURN_URL", ""),
		},
		Chat: ChatConfig{
			RateLimitRequests: getEnvInt("COVE_CHAT_RATE_LIMIT_REQUESTS", 10),
			RateLimitWindow:   getEnvDuration("COVE_CHAT_RATE_LIMIT_WINDOW", 60*time.Second),
			CompletionAPIKey:  getEnv("COVE_COMPLETION_API_KEY", ""),
			CompletionBaseURL: getEnv("COVE_COMPLETION_BASE_URL", ""),
		},
		Indexing: IndexingConfig{
			ChunkSize:    getEnvInt("COVE_CHUNK_SIZE", 800),
			ChunkOverlap: getEnvInt("COVE_CHUNK_OVERLAP", 150),
			Workers:      getEnvInt("COVE_INDEXING_WORKERS", 4),
			JobTimeout:   getEnvDuration("COVE_INDEXING_JOB_TIMEOUT", 5*time.Minute),
			StuckJobAge:  getEnvDuration("COVE_INDEXING_STUCK_JOB_AGE", time.Hour),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("COVE_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("COVE_METRICS_ENABLED", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	switch c.ObjectStore.Type {
	case "filesystem":
		if c.ObjectStore.FilesystemRoot == "" {
			return fmt.Errorf("filesystem root is required for filesystem object storage")
		}
	case "s3":
		if c.ObjectStore.S3Bucket == "" {
			return fmt.Errorf("S3 bucket is required for s3 object storage")
		}
	default:
		return fmt.Errorf("invalid object store type: %s (must be filesystem or s3)", c.ObjectStore.Type)
	}

	if c.Indexing.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive")
	}
	if c.Indexing.ChunkOverlap < 0 || c.Indexing.ChunkOverlap >= c.Indexing.ChunkSize {
		return fmt.Errorf("chunk overlap must be non-negative and smaller than chunk size")
	}

	if c.Chat.RateLimitRequests <= 0 {
		return fmt.Errorf("chat rate limit must be positive")
	}

	return nil
}

// PriceTable maps payment provider price IDs to plan names for
// subscription.updated events.
func (c *Config) PriceTable() map[string]string {
	table := make(map[string]string, 2)
	if c.Billing.ProPriceID != "" {
		table[c.Billing.ProPriceID] = "pro"
	}
	if c.Billing.EnterprisePriceID != "" {
		table[c.Billing.EnterprisePriceID] = "enterprise"
	}
	return table
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
