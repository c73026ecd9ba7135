package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/storage"
)

// TestGetEnv tests the getEnv helper function
func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}
			assert.Equal(t, tt.want, getEnv(tt.key, tt.defaultValue))
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		envValue     string
		defaultValue bool
		want         bool
	}{
		{"true", false, true},
		{"TRUE", false, true},
		{"1", false, true},
		{"false", true, false},
		{"yes", true, false},
		{"", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.envValue, func(t *testing.T) {
			t.Setenv("TEST_BOOL", tt.envValue)
			assert.Equal(t, tt.want, getEnvBool("TEST_BOOL", tt.defaultValue))
		})
	}
}

func TestGetEnvNumbers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_INT64", "104857600")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD_DURATION", "soon")

	assert.Equal(t, 42, getEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_BAD_INT", 1))
	assert.Equal(t, int64(100<<20), getEnvInt64("TEST_INT64", 0))
	assert.Equal(t, 90*time.Second, getEnvDuration("TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_BAD_DURATION", time.Second))
}

func TestGetEnvList(t *testing.T) {
	t.Setenv("TEST_LIST", " https://a.example , ,https://b.example")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, getEnvList("TEST_LIST"))
	assert.Nil(t, getEnvList("TEST_LIST_NOT_SET"))
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("LECTERN_PAYMENTS_DISABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, storage.TypeMemory, cfg.Storage.Type)
	assert.Equal(t, BlobFilesystem, cfg.Blob.Type)
	assert.Equal(t, int64(100<<20), cfg.Blob.MaxUploadBytes)
	assert.Equal(t, LockLocal, cfg.Locking.Backend)
	assert.Equal(t, "INR", cfg.Payments.Currency)
	assert.Equal(t, 30, cfg.Payments.RequestsPerMinute)
	assert.Equal(t, licensing.DefaultUnpaidGrace, cfg.Licensing.UnpaidGrace)
	assert.Empty(t, cfg.Licensing.SweepSchedule)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
	assert.False(t, cfg.Observability.OTelEnabled)
}

func TestLoadConfig_FromEnv(t *testing.T) {
	env := map[string]string{
		"LECTERN_PORT":                "9000",
		"LECTERN_ALLOWED_ORIGINS":     "https://app.example",
		"LECTERN_STORAGE_TYPE":        "postgres",
		"LECTERN_POSTGRES_URL":        "postgres://localhost/lectern",
		"LECTERN_POSTGRES_MAX_CONNS":  "50",
		"LECTERN_REDIS_URL":           "redis://localhost:6379/0",
		"LECTERN_LOCK_BACKEND":        "redis",
		"LECTERN_BLOB_TYPE":           "s3",
		"LECTERN_S3_BUCKET":           "materials",
		"LECTERN_S3_REGION":           "ap-south-1",
		"LECTERN_RAZORPAY_KEY_ID":     "rzp_live",
		"LECTERN_RAZORPAY_KEY_SECRET": "secret",
		"LECTERN_SWEEP_SCHEDULE":      "*/15 * * * *",
		"LECTERN_UNPAID_GRACE":        "72h",
		"LECTERN_LOG_LEVEL":           "DEBUG",
	}
	for k, v := range env {
		t.Setenv(k, v)
	}

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, []string{"https://app.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, storage.TypePostgres, cfg.Storage.Type)
	assert.Equal(t, 50, cfg.Storage.PostgresMaxConns)
	assert.Equal(t, LockRedis, cfg.Locking.Backend)
	assert.Equal(t, "materials", cfg.Blob.S3Bucket)
	assert.Equal(t, "*/15 * * * *", cfg.Licensing.SweepSchedule)
	assert.Equal(t, 72*time.Hour, cfg.Licensing.UnpaidGrace)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func validConfig() *Config {
	return &Config{
		Server:  ServerConfig{Port: "8080"},
		Storage: storage.DefaultConfig(),
		Blob:    BlobConfig{Type: BlobFilesystem, Root: "/tmp/materials"},
		Payments: PaymentsConfig{
			RazorpayKeyID:     "rzp_test",
			RazorpayKeySecret: "secret",
		},
		Licensing: LicensingConfig{SweepWorkers: 4},
		Locking:   LockingConfig{Backend: LockLocal},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "missing port",
			mutate:  func(c *Config) { c.Server.Port = "" },
			wantErr: "server port is required",
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.Storage.Type = storage.TypePostgres },
			wantErr: "postgres URL is required",
		},
		{
			name:    "unknown storage type",
			mutate:  func(c *Config) { c.Storage.Type = "filesystem" },
			wantErr: "invalid storage type",
		},
		{
			name:    "s3 without region",
			mutate:  func(c *Config) { c.Blob = BlobConfig{Type: BlobS3, S3Bucket: "b"} },
			wantErr: "S3 bucket and region are required",
		},
		{
			name:    "unknown blob type",
			mutate:  func(c *Config) { c.Blob.Type = "ftp" },
			wantErr: "invalid blob type",
		},
		{
			name:    "redis lock without redis",
			mutate:  func(c *Config) { c.Locking.Backend = LockRedis },
			wantErr: "redis URL is required",
		},
		{
			name: "redis lock with redis",
			mutate: func(c *Config) {
				c.Locking.Backend = LockRedis
				c.Redis.URL = "redis://localhost:6379"
			},
		},
		{
			name:    "missing razorpay secret",
			mutate:  func(c *Config) { c.Payments.RazorpayKeySecret = "" },
			wantErr: "razorpay key id and secret are required",
		},
		{
			name: "payments disabled needs no secret",
			mutate: func(c *Config) {
				c.Payments = PaymentsConfig{Disabled: true}
			},
		},
		{
			name:    "bad cron spec",
			mutate:  func(c *Config) { c.Licensing.SweepSchedule = "every tuesday" },
			wantErr: "invalid sweep schedule",
		},
		{
			name:   "cron descriptor",
			mutate: func(c *Config) { c.Licensing.SweepSchedule = "@hourly" },
		},
		{
			name: "no sweep workers",
			mutate: func(c *Config) {
				c.Licensing.SweepSchedule = "@hourly"
				c.Licensing.SweepWorkers = 0
			},
			wantErr: "sweep workers must be positive",
		},
		{
			name:    "watch without file",
			mutate:  func(c *Config) { c.Licensing.WatchCatalog = true },
			wantErr: "catalog file is required",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelServiceName = "lectern"
			},
			wantErr: "OpenTelemetry endpoint is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	t.Setenv("LECTERN_STORAGE_TYPE", "postgres")
	t.Setenv("LECTERN_PAYMENTS_DISABLED", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
}
