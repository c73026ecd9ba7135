// Package config loads lectern's configuration from LECTERN_* environment
// variables and validates it.
//
// # Configuration Structure
//
// Server settings:
//
//	LECTERN_HOST="0.0.0.0"
//	LECTERN_PORT="8080"
//	LECTERN_READ_TIMEOUT="30s"
//	LECTERN_WRITE_TIMEOUT="60s"
//	LECTERN_ALLOWED_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	LECTERN_STORAGE_TYPE="postgres"  # memory, postgres
//	LECTERN_POSTGRES_URL="postgres://localhost/lectern"
//	LECTERN_POSTGRES_MAX_CONNS="20"
//	LECTERN_REDIS_URL="redis://localhost:6379/0"
//	LECTERN_CATALOG_CACHE_TTL="5m"
//
// Lecture materials:
//
//	LECTERN_BLOB_TYPE="s3"  # filesystem, s3
//	LECTERN_BLOB_ROOT="/var/lectern/materials"
//	LECTERN_S3_BUCKET="lectern-materials"
//	LECTERN_S3_REGION="ap-south-1"
//	LECTERN_MAX_UPLOAD_BYTES="104857600"
//
// Payments and licensing:
//
//	LECTERN_RAZORPAY_KEY_ID="rzp_live_..."
//	LECTERN_RAZORPAY_KEY_SECRET="..."
//	LECTERN_RAZORPAY_WEBHOOK_SECRET="..."
//	LECTERN_CATALOG_FILE="/etc/lectern/catalog.yaml"
//	LECTERN_CATALOG_WATCH="true"
//	LECTERN_SWEEP_SCHEDULE="*/30 * * * *"  # empty disables the sweep
//	LECTERN_UNPAID_GRACE="336h"
//
// Locking:
//
//	LECTERN_LOCK_BACKEND="redis"  # local, redis
//	LECTERN_LOCK_TTL="10s"
//
// Observability settings:
//
//	LECTERN_LOG_LEVEL="info"  # debug, info, warn, error
//	LECTERN_METRICS_ENABLED="true"
//	LECTERN_OTEL_ENABLED="true"
//	LECTERN_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Addr(), cfg.Storage.Type)
package config
