package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/platinummonkey/lectern/pkg/api"
	"github.com/platinummonkey/lectern/pkg/blobstore"
	"github.com/platinummonkey/lectern/pkg/config"
	"github.com/platinummonkey/lectern/pkg/content"
	"github.com/platinummonkey/lectern/pkg/institutes"
	"github.com/platinummonkey/lectern/pkg/licensing"
	"github.com/platinummonkey/lectern/pkg/lock"
	"github.com/platinummonkey/lectern/pkg/middleware"
	"github.com/platinummonkey/lectern/pkg/observability"
	"github.com/platinummonkey/lectern/pkg/payments"
	"github.com/platinummonkey/lectern/pkg/permissions"
	"github.com/platinummonkey/lectern/pkg/quota"
	"github.com/platinummonkey/lectern/pkg/storage"
	"github.com/platinummonkey/lectern/pkg/storage/postgres"
)

var sweepOnce = flag.Bool("sweep-once", false, "Reconcile every institute's orders once and exit")

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("lectern exited with error")
		os.Exit(1)
	}
}

// app holds everything that must be closed on shutdown
type app struct {
	backend storage.Backend
	redis   *redis.Client
	otel    *observability.OTelProviders
	ledger  *licensing.Service
	server  *api.Server
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close(logger)

	if *sweepOnce {
		sweeper, err := licensing.NewSweeper(a.ledger, "@every 1h", cfg.Licensing.SweepWorkers, logger)
		if err != nil {
			return err
		}
		res, err := sweeper.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		logger.WithFields(map[string]interface{}{"expired": res.Expired, "purged": res.Purged}).Info("sweep completed")
		return nil
	}

	if cfg.Licensing.SweepSchedule != "" {
		sweeper, err := licensing.NewSweeper(a.ledger, cfg.Licensing.SweepSchedule, cfg.Licensing.SweepWorkers, logger)
		if err != nil {
			return err
		}
		sweeper.Start()
		defer sweeper.Stop()
		logger.WithField("schedule", cfg.Licensing.SweepSchedule).Info("reconcile sweep scheduled")
	}

	if cfg.Licensing.WatchCatalog {
		watcher := licensing.NewCatalogWatcher(a.ledger, cfg.Licensing.CatalogFile, logger)
		go func() {
			defer observability.RecoverPanic(logger, "catalog watcher")
			if err := watcher.Watch(ctx); err != nil {
				logger.WithError(err).Error("catalog watcher stopped")
			}
		}()
	}

	httpServer := a.server.NewHTTPServer(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("starting lectern")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func build(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close(logger)
		}
	}()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return nil, err
	}
	a.otel = otelProviders

	var registry *prometheus.Registry
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		metrics = observability.NewMetrics(registry)
	}

	backend, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	if cfg.Redis.URL != "" {
		client, err := postgres.NewRedisClient(ctx, postgres.RedisConfig{
			URL:        cfg.Redis.URL,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			MaxRetries: cfg.Redis.MaxRetries,
			PoolSize:   cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, err
		}
		a.redis = client
	}

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Locking.Backend == config.LockRedis {
		locker = lock.NewRedisLocker(a.redis, cfg.Locking.LeaseTTL, lock.WithLogger(logger))
	}

	var ledgerStore licensing.Store = backend
	if a.redis != nil {
		ledgerStore = postgres.NewCatalogCache(backend, a.redis, cfg.Redis.CacheTTL, logger)
	}

	permStore := permissions.NewCachedStore(backend, permissions.DefaultCacheConfig(), metrics)
	authz := permissions.NewAuthorizer(permStore, metrics)

	ledgerOpts := []licensing.Option{
		licensing.WithLogger(logger),
		licensing.WithMetrics(metrics),
		licensing.WithCurrency(cfg.Payments.Currency),
		licensing.WithUnpaidGrace(cfg.Licensing.UnpaidGrace),
	}
	var verifier payments.Verifier = payments.DisabledVerifier{}
	if !cfg.Payments.Disabled {
		razorpay := payments.NewRazorpay(payments.RazorpayConfig{
			KeyID:         cfg.Payments.RazorpayKeyID,
			KeySecret:     cfg.Payments.RazorpayKeySecret,
			WebhookSecret: cfg.Payments.WebhookSecret,
			BaseURL:       cfg.Payments.BaseURL,
		})
		ledgerOpts = append(ledgerOpts, licensing.WithGateway(razorpay))
		verifier = razorpay
	}
	ledger := licensing.NewService(ledgerStore, authz, ledgerOpts...)
	a.ledger = ledger

	if cfg.Licensing.CatalogFile != "" {
		file, err := licensing.LoadCatalogFile(cfg.Licensing.CatalogFile)
		if err != nil {
			return nil, err
		}
		if err := ledger.ApplyCatalog(ctx, file); err != nil {
			return nil, err
		}
	}

	tracker := quota.NewTracker(backend, ledger,
		quota.WithLocker(locker),
		quota.WithLogger(logger),
		quota.WithMetrics(metrics),
	)
	perms := permissions.NewService(permStore, authz, tracker, backend,
		permissions.WithLogger(logger),
		permissions.WithMetrics(metrics),
	)
	inst := institutes.NewService(backend, authz, perms, tracker, ledger, backend, institutes.WithLogger(logger))

	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return nil, err
	}
	validator := blobstore.NewValidator(cfg.Blob.MaxUploadBytes, blobstore.KindPDF, blobstore.KindImage)
	materials := content.NewService(backend, backend, authz, ledger, tracker, blobs, validator, content.WithLogger(logger))

	processor := payments.NewProcessor(ledger, verifier, backend,
		payments.WithLogger(logger),
		payments.WithMetrics(metrics),
	)

	limitCfg := &middleware.RateLimitConfig{RequestsPerWindow: cfg.Payments.RequestsPerMinute, WindowDuration: time.Minute}
	var limiter middleware.Limiter = middleware.NewRateLimiter(limitCfg)
	if a.redis != nil {
		limiter = middleware.NewDistributedRateLimiter(a.redis, limitCfg, "")
	}

	a.server = api.NewServer(api.Services{
		Institutes:  inst,
		Permissions: perms,
		Licensing:   ledger,
		Quota:       tracker,
		Content:     materials,
		Payments:    processor,
		Directory:   backend,
		Health:      backend,
	}, api.ServerConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		MaxUploadBytes: cfg.Blob.MaxUploadBytes,
		PaymentLimiter: limiter,
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
	})

	if fs, isFS := blobs.(*blobstore.FileStore); isFS {
		a.server.Router().PathPrefix(blobstore.FilesPathPrefix).Handler(fs.Handler())
	}

	ok = true
	return a, nil
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blobstore.Store, error) {
	if cfg.Type == config.BlobS3 {
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			Endpoint:      cfg.S3Endpoint,
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			AccessKey:     cfg.S3AccessKey,
			SecretKey:     cfg.S3SecretKey,
			UsePathStyle:  cfg.S3UsePathStyle,
			PublicBaseURL: cfg.BaseURL,
		})
	}
	return blobstore.NewFileStore(cfg.Root, cfg.BaseURL)
}

func (a *app) close(logger *observability.Logger) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}
	if a.otel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := observability.ShutdownOTel(ctx, a.otel); err != nil {
			logger.WithError(err).Warn("failed to flush telemetry")
		}
	}
}
