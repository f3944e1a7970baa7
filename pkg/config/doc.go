// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	COVE_HOST="0.0.0.0"
//	COVE_PORT="8080"
//	COVE_READ_TIMEOUT="15s"
//	COVE_WRITE_TIMEOUT="60s"
//	COVE_SHUTDOWN_TIMEOUT="30s"
//
// Storage settings:
//
//	COVE_POSTGRES_URL="postgres://localhost/cove"
//	COVE_POSTGRES_MAX_CONNS="25"
//	COVE_REDIS_URL="redis://localhost:6379/0"
//	COVE_OBJECT_STORE_TYPE="filesystem"  # filesystem, s3
//	COVE_FILESYSTEM_ROOT="/var/lib/cove/documents"
//	COVE_S3_BUCKET="cove-documents"
//
// Auth and billing settings:
//
//	COVE_JWT_SECRET="..."
//	COVE_ACCESS_TOKEN_TTL="15m"
//	COVE_BILLING_API_KEY="..."
//	COVE_BILLING_WEBHOOK_SECRET="..."
//	COVE_BILLING_PRO_PRICE_ID="price_..."
//
// Assistant and indexing settings:
//
//	COVE_COMPLETION_API_KEY="..."
//	COVE_CHAT_RATE_LIMIT_REQUESTS="10"
//	COVE_CHUNK_SIZE="800"
//	COVE_INDEXING_WORKERS="4"
//
// Observability settings:
//
//	COVE_LOG_LEVEL="info"  # debug, info, warn, error
//	COVE_METRICS_ENABLED="true"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Server: %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// # Related Packages
//
//   - pkg/storage/postgres: Uses database and Redis configuration
//   - pkg/observability: Uses observability configuration
package config
