package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/storage"
	"github.com/platinummonkey/lectern/pkg/storage/postgres"
)

// Blob store types
const (
	BlobFilesystem = "filesystem"
	BlobS3         = "s3"
)

// Lock backends
const (
	LockLocal = "local"
	LockRedis = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Storage       storage.Config
	Redis         RedisConfig
	Blob          BlobConfig
	Payments      PaymentsConfig
	Licensing     LicensingConfig
	Locking       LockingConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
	MaxBodyBytes    int64
}

// RedisConfig is shared by the catalog cache, the distributed lock and the
// payment rate limiter. An empty URL disables all three.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	CacheTTL   time.Duration
}

// BlobConfig selects where lecture materials are written
type BlobConfig struct {
	Type           string
	Root           string
	BaseURL        string
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	MaxUploadBytes int64
}

// PaymentsConfig holds Razorpay credentials
type PaymentsConfig struct {
	Disabled          bool
	RazorpayKeyID     string
	RazorpayKeySecret string
	WebhookSecret     string
	BaseURL           string
	Currency          string
	RequestsPerMinute int
}

// LicensingConfig controls the catalog seed file and the reconcile sweep
type LicensingConfig struct {
	CatalogFile  string
	WatchCatalog bool
	// SweepSchedule is a cron spec; empty disables the periodic sweep
	SweepSchedule string
	SweepWorkers  int
	UnpaidGrace   time.Duration
}

// LockingConfig selects the per-institute quota lock
type LockingConfig struct {
	Backend  string
	LeaseTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Storage:       loadStorageConfig(),
		Redis:         loadRedisConfig(),
		Blob:          loadBlobConfig(),
		Payments:      loadPaymentsConfig(),
		Licensing:     loadLicensingConfig(),
		Locking:       loadLockingConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("LECTERN_HOST", "0.0.0.0"),
		Port:            getEnv("LECTERN_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LECTERN_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("LECTERN_WRITE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LECTERN_SHUTDOWN_TIMEOUT", 30*time.Second),
		AllowedOrigins:  getEnvList("LECTERN_ALLOWED_ORIGINS"),
		MaxBodyBytes:    getEnvInt64("LECTERN_MAX_BODY_BYTES", 1<<20),
	}
}

func loadStorageConfig() storage.Config {
	cfg := storage.DefaultConfig()

	if storageType := getEnv("LECTERN_STORAGE_TYPE", ""); storageType != "" {
		cfg.Type = storageType
	}
	if pgURL := getEnv("LECTERN_POSTGRES_URL", ""); pgURL != "" {
		cfg.PostgresURL = pgURL
	}
	if replicaURLs := getEnv("LECTERN_POSTGRES_REPLICA_URLS", ""); replicaURLs != "" {
		cfg.PostgresReplicaURLs = postgres.ParseReplicaURLs(replicaURLs)
	}
	if maxConns := getEnvInt("LECTERN_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("LECTERN_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("LECTERN_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}

	return cfg
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("LECTERN_REDIS_URL", ""),
		Password:   getEnv("LECTERN_REDIS_PASSWORD", ""),
		DB:         getEnvInt("LECTERN_REDIS_DB", 0),
		MaxRetries: getEnvInt("LECTERN_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("LECTERN_REDIS_POOL_SIZE", 10),
		CacheTTL:   getEnvDuration("LECTERN_CATALOG_CACHE_TTL", 5*time.Minute),
	}
}

func loadBlobConfig() BlobConfig {
	cfg := BlobConfig{
		Type:           getEnv("LECTERN_BLOB_TYPE", BlobFilesystem),
		Root:           getEnv("LECTERN_BLOB_ROOT", "./data/materials"),
		BaseURL:        getEnv("LECTERN_BLOB_BASE_URL", ""),
		S3Endpoint:     getEnv("LECTERN_S3_ENDPOINT", ""),
		S3Region:       getEnv("LECTERN_S3_REGION", ""),
		S3Bucket:       getEnv("LECTERN_S3_BUCKET", ""),
		S3AccessKey:    getEnv("LECTERN_S3_ACCESS_KEY", ""),
		S3SecretKey:    getEnv("LECTERN_S3_SECRET_KEY", ""),
		S3UsePathStyle: getEnvBool("LECTERN_S3_USE_PATH_STYLE", false),
		MaxUploadBytes: getEnvInt64("LECTERN_MAX_UPLOAD_BYTES", 100<<20),
	}
	// local files are served by lectern itself
	if cfg.Type == BlobFilesystem && cfg.BaseURL == "" {
		cfg.BaseURL = "/files"
	}
	return cfg
}

func loadPaymentsConfig() PaymentsConfig {
	return PaymentsConfig{
		Disabled:          getEnvBool("LECTERN_PAYMENTS_DISABLED", false),
		RazorpayKeyID:     getEnv("LECTERN_RAZORPAY_KEY_ID", ""),
		RazorpayKeySecret: getEnv("LECTERN_RAZORPAY_KEY_SECRET", ""),
		WebhookSecret:     getEnv("LECTERN_RAZORPAY_WEBHOOK_SECRET", ""),
		BaseURL:           getEnv("LECTERN_RAZORPAY_BASE_URL", ""),
		Currency:          getEnv("LECTERN_CURRENCY", "INR"),
		RequestsPerMinute: getEnvInt("LECTERN_PAYMENT_REQUESTS_PER_MINUTE", 30),
	}
}

func loadLicensingConfig() LicensingConfig {
	return LicensingConfig{
		CatalogFile:   getEnv("LECTERN_CATALOG_FILE", ""),
		WatchCatalog:  getEnvBool("LECTERN_CATALOG_WATCH", false),
		SweepSchedule: getEnv("LECTERN_SWEEP_SCHEDULE", ""),
		SweepWorkers:  getEnvInt("LECTERN_SWEEP_WORKERS", 4),
		UnpaidGrace:   getEnvDuration("LECTERN_UNPAID_GRACE", licensing.DefaultUnpaidGrace),
	}
}

func loadLockingConfig() LockingConfig {
	return LockingConfig{
		Backend:  getEnv("LECTERN_LOCK_BACKEND", LockLocal),
		LeaseTTL: getEnvDuration("LECTERN_LOCK_TTL", 10*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(strings.ToLower(getEnv("LECTERN_LOG_LEVEL", "info"))),
		MetricsEnabled:     getEnvBool("LECTERN_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LECTERN_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LECTERN_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LECTERN_OTEL_SERVICE_NAME", "lectern"),
		OTelServiceVersion: getEnv("LECTERN_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LECTERN_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Storage.Type {
	case storage.TypeMemory:
	case storage.TypePostgres:
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("postgres URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory or postgres)", c.Storage.Type)
	}

	switch c.Blob.Type {
	case BlobFilesystem:
		if c.Blob.Root == "" {
			return fmt.Errorf("blob root is required for filesystem blob storage")
		}
	case BlobS3:
		if c.Blob.S3Bucket == "" || c.Blob.S3Region == "" {
			return fmt.Errorf("S3 bucket and region are required for s3 blob storage")
		}
	default:
		return fmt.Errorf("invalid blob type: %s (must be filesystem or s3)", c.Blob.Type)
	}

	switch c.Locking.Backend {
	case LockLocal:
	case LockRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis URL is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("invalid lock backend: %s (must be local or redis)", c.Locking.Backend)
	}

	if !c.Payments.Disabled {
		if c.Payments.RazorpayKeyID == "" || c.Payments.RazorpayKeySecret == "" {
			return fmt.Errorf("razorpay key id and secret are required unless payments are disabled")
		}
	}

	if c.Licensing.SweepSchedule != "" {
		if _, err := cron.ParseStandard(c.Licensing.SweepSchedule); err != nil {
			return fmt.Errorf("invalid sweep schedule %q: %w", c.Licensing.SweepSchedule, err)
		}
		if c.Licensing.SweepWorkers <= 0 {
			return fmt.Errorf("sweep workers must be positive")
		}
	}
	if c.Licensing.WatchCatalog && c.Licensing.CatalogFile == "" {
		return fmt.Errorf("catalog file is required when catalog watching is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
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

// getEnvList splits a comma separated variable, dropping empty items
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
