// Package bootstrap wires the process dependencies shared by the HTTP server
// and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/deveasyclick/billpay/config"
	"github.com/deveasyclick/billpay/consumer"
	"github.com/deveasyclick/billpay/database"
	"github.com/deveasyclick/billpay/logger"
	aws_pkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/deveasyclick/billpay/providers"
	"github.com/deveasyclick/billpay/queue"
	"github.com/deveasyclick/billpay/repository"
	"github.com/deveasyclick/billpay/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errNoQueue = errors.New("RECONCILE_QUEUE_URL or RECONCILE_QUEUE_NAME must be set")

// App holds every long-lived dependency.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *gorm.DB
	Redis   *redis.Client
	AWS     sdkaws.Config
	Metrics *aws_pkg.MetricsClient

	Payments       services.PaymentService
	BillPayments   services.BillPaymentService
	Reconciliation services.ReconciliationService
	CatalogSync    services.CatalogSyncService

	Consumer *consumer.ReconciliationConsumer
	// Poller consumes the reconciliation queue with the retry budget applied.
	Poller *aws_pkg.SQSClient
}

// NewLogger returns base, or a logger that also ships to CloudWatch Logs when
// enabled. Failing to reach CloudWatch is not fatal.
func NewLogger(ctx context.Context, cfg *config.Config, base *zap.Logger, process string) *zap.Logger {
	if !cfg.CloudWatchEnabled {
		return base
	}
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx, aws_pkg.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}, base)
	if err != nil {
		base.Warn("CloudWatch logs disabled", zap.Error(err))
		return base
	}
	sink, err := aws_pkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.CloudWatchLogGroup, process)
	if err != nil {
		base.Warn("CloudWatch logs disabled", zap.Error(err))
		return base
	}
	log, err := logger.Initialize(cfg.Env, sink)
	if err != nil {
		base.Warn("CloudWatch logs disabled", zap.Error(err))
		return base
	}
	return log
}

// New connects to every backing service and builds the service graph.
func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	if cfg.ReconcileQueueURL == "" && cfg.ReconcileQueueName == "" {
		return nil, errNoQueue
	}

	db, err := database.Connect(ctx, cfg.DSN(), log)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Connected to Redis", zap.String("addr", cfg.RedisAddr))

	awsCfg, err := aws_pkg.LoadAWSConfig(ctx, aws_pkg.Options{Region: cfg.AWSRegion, Endpoint: cfg.AWSEndpoint}, log)
	if err == nil && cfg.ReconcileQueueURL == "" {
		cfg.ReconcileQueueURL, err = aws_pkg.GetQueueURL(ctx, awsCfg, cfg.ReconcileQueueName)
	}
	if err != nil {
		_ = rdb.Close()
		_ = database.Close(db)
		return nil, err
	}

	app := &App{Config: cfg, Logger: log, DB: db, Redis: rdb, AWS: awsCfg}
	app.Metrics = aws_pkg.NewMetricsClient(awsCfg, cfg.CloudWatchNamespace, cfg.CloudWatchEnabled)
	notifier := services.NewNotifier(aws_pkg.NewSNSClient(awsCfg), cfg.EventsTopicARN, app.Metrics, log)

	registry := newRegistry(cfg, log)
	payments := repository.NewGormPaymentRepo(db)
	billing := repository.NewGormBillingRepository(db)

	sender := aws_pkg.NewSQSClient(awsCfg, cfg.ReconcileQueueURL, aws_pkg.ConsumerOptions{}, log)
	scheduler := queue.NewSQSScheduler(queue.NewRedisDedupe(rdb, queue.DefaultDedupeTTL), sender, cfg.ReconciliationDelay, log)

	app.Payments = services.NewPaymentService(payments, billing, registry, log)
	app.BillPayments = services.NewBillPaymentService(
		payments, billing, registry, scheduler, queue.NewRedisLocker(rdb), notifier,
		services.BillPaymentConfig{ConfirmationDelay: cfg.ConfirmationDelay, LockTTL: cfg.PaymentLockTTL},
		log,
	)
	app.Reconciliation = services.NewReconciliationService(payments, registry, scheduler, notifier, log)

	var archiver services.Archiver
	if cfg.CatalogArchiveBucket != "" {
		archiver = aws_pkg.NewS3Archiver(awsCfg, cfg.CatalogArchiveBucket)
	}
	app.CatalogSync = services.NewCatalogSyncService(billing, registry, archiver, notifier, log)

	app.Consumer = consumer.NewReconciliationConsumer(app.Reconciliation, log)
	backoff := queue.Backoff{Base: cfg.ReconciliationBackoffBase, Max: cfg.ReconciliationBackoffMax}
	app.Poller = aws_pkg.NewSQSClient(awsCfg, cfg.ReconcileQueueURL, aws_pkg.ConsumerOptions{
		MaxReceives: cfg.ReconciliationMaxAttempts,
		Backoff:     backoff.Delay,
		OnExhausted: app.Consumer.Exhausted,
	}, log)

	return app, nil
}

// newRegistry builds the provider adapters, each behind its own circuit breaker.
func newRegistry(cfg *config.Config, log *zap.Logger) providers.Registry {
	vtpass := providers.NewVTPassProvider(providers.VTPassConfig{
		BaseURL:      cfg.VTPass.BaseURL,
		APIKey:       cfg.VTPass.APIKey,
		SecretKey:    cfg.VTPass.SecretKey,
		PublicKey:    cfg.VTPass.PublicKey,
		DefaultPhone: cfg.VTPass.DefaultPhone,
		Timeout:      cfg.ProviderTimeout,
	}, log)
	interswitch := providers.NewInterswitchProvider(providers.InterswitchConfig{
		BaseURL:         cfg.Interswitch.BaseURL,
		PaymentBaseURL:  cfg.Interswitch.PaymentBaseURL,
		AuthURL:         cfg.Interswitch.AuthURL,
		BasicToken:      cfg.Interswitch.BasicToken,
		TerminalID:      cfg.Interswitch.TerminalID,
		ReferencePrefix: cfg.Interswitch.ReferencePrefix,
		Timeout:         cfg.ProviderTimeout,
	}, log)

	return providers.NewRegistry(
		providers.WithBreaker(vtpass, providers.BreakerConfig{}, log),
		providers.WithBreaker(interswitch, providers.BreakerConfig{}, log),
	)
}

// Close releases the connections opened by New.
func (a *App) Close() {
	if err := a.Redis.Close(); err != nil {
		a.Logger.Error("Redis close error", zap.Error(err))
	}
	if err := database.Close(a.DB); err != nil {
		a.Logger.Error("Database close error", zap.Error(err))
	}
}
