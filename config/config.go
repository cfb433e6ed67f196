// Package config loads service configuration from the environment, with an
// optional AWS Secrets Manager override for credentials.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	awspkg "github.com/deveasyclick/billpay/pkg/aws"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Secret names read when AWS_USE_SECRETS=true.
const (
	SecretDBCredentials         = "billpay/DB_CREDENTIALS"
	SecretVTPassKeys            = "billpay/VTPASS_KEYS"
	SecretInterswitchBasicToken = "billpay/INTERSWITCH_BASIC_TOKEN"
)

var ErrIncompleteDatabase = errors.New("database config incomplete")

type VTPassConfig struct {
	BaseURL      string
	APIKey       string
	SecretKey    string
	PublicKey    string
	DefaultPhone string
}

type InterswitchConfig struct {
	BaseURL         string
	PaymentBaseURL  string
	AuthURL         string
	BasicToken      string
	TerminalID      string
	ReferencePrefix string
}

// Config holds all configuration for the billpay service.
type Config struct {
	Env  string
	Port string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AWSRegion            string
	AWSEndpoint          string
	AWSUseSecrets        bool
	ReconcileQueueURL    string
	ReconcileQueueName   string
	EventsTopicARN       string
	CatalogArchiveBucket string
	CloudWatchEnabled    bool
	CloudWatchLogGroup   string
	CloudWatchNamespace  string

	JWTSecret      string
	AllowedOrigins []string
	RateLimitRPM   int
	RateLimitBurst int
	RequestTimeout time.Duration

	VTPass          VTPassConfig
	Interswitch     InterswitchConfig
	ProviderTimeout time.Duration

	ConfirmationDelay         time.Duration
	PaymentLockTTL            time.Duration
	ReconciliationDelay       time.Duration
	ReconciliationMaxAttempts int
	ReconciliationBackoffBase time.Duration
	ReconciliationBackoffMax  time.Duration
	CatalogSyncInterval       time.Duration
}

// SecretSource is where credential overrides come from.
type SecretSource interface {
	GetSecret(ctx context.Context, name string) (string, error)
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads .env (if present) and the process environment. With
// AWS_USE_SECRETS=true credentials are overridden from Secrets Manager.
func LoadConfig(ctx context.Context, logger *zap.Logger) (*Config, error) {
	_ = godotenv.Load()

	var secrets SecretSource
	if os.Getenv("AWS_USE_SECRETS") == "true" {
		awsCfg, err := awspkg.LoadAWSConfig(ctx, awspkg.Options{
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("AWS_ENDPOINT"),
		}, logger)
		if err != nil {
			return nil, err
		}
		secrets = awspkg.NewSecretsClient(awsCfg)
	}
	return Load(ctx, secrets, logger)
}

// Load builds the Config from the environment and applies overrides from
// secrets when it is non-nil.
func Load(ctx context.Context, secrets SecretSource, logger *zap.Logger) (*Config, error) {
	var errs []error
	duration := func(key string, fallback time.Duration) time.Duration {
		d, err := getDuration(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return d
	}
	integer := func(key string, fallback int) int {
		n, err := getInt(key, fallback)
		if err != nil {
			errs = append(errs, err)
		}
		return n
	}

	cfg := &Config{
		Env:  getEnv("APP_ENV", "development"),
		Port: getEnv("PORT", "8080"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Africa/Lagos"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       integer("REDIS_DB", 0),

		AWSRegion:            getEnv("AWS_REGION", "eu-west-1"),
		AWSEndpoint:          os.Getenv("AWS_ENDPOINT"),
		AWSUseSecrets:        secrets != nil,
		ReconcileQueueURL:    os.Getenv("RECONCILE_QUEUE_URL"),
		ReconcileQueueName:   os.Getenv("RECONCILE_QUEUE_NAME"),
		EventsTopicARN:       os.Getenv("EVENTS_TOPIC_ARN"),
		CatalogArchiveBucket: os.Getenv("CATALOG_ARCHIVE_BUCKET"),
		CloudWatchEnabled:    os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchLogGroup:   getEnv("CLOUDWATCH_LOG_GROUP", "/billpay/service"),
		CloudWatchNamespace:  getEnv("CLOUDWATCH_NAMESPACE", "BillPay"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		RateLimitRPM:   integer("RATE_LIMIT_RPM", 100),
		RateLimitBurst: integer("RATE_LIMIT_BURST", 50),
		RequestTimeout: duration("REQUEST_TIMEOUT", 30*time.Second),

		VTPass: VTPassConfig{
			BaseURL:      getEnv("VTPASS_BASE_URL", "https://sandbox.vtpass.com/api"),
			APIKey:       os.Getenv("VTPASS_API_KEY"),
			SecretKey:    os.Getenv("VTPASS_SECRET_KEY"),
			PublicKey:    os.Getenv("VTPASS_PUBLIC_KEY"),
			DefaultPhone: os.Getenv("VTPASS_DEFAULT_PHONE"),
		},
		Interswitch: InterswitchConfig{
			BaseURL:         getEnv("INTERSWITCH_BASE_URL", "https://qa.interswitchng.com"),
			PaymentBaseURL:  os.Getenv("INTERSWITCH_PAYMENT_BASE_URL"),
			AuthURL:         getEnv("INTERSWITCH_AUTH_URL", "https://passport.k8.isw.la/passport/oauth/token?grant_type=client_credentials"),
			BasicToken:      os.Getenv("INTERSWITCH_BASIC_TOKEN"),
			TerminalID:      os.Getenv("INTERSWITCH_TERMINAL_ID"),
			ReferencePrefix: os.Getenv("INTERSWITCH_REFERENCE_PREFIX"),
		},
		ProviderTimeout: duration("PROVIDER_TIMEOUT", 30*time.Second),

		ConfirmationDelay:         duration("CONFIRMATION_DELAY", 3*time.Second),
		PaymentLockTTL:            duration("PAYMENT_LOCK_TTL", 5*time.Minute),
		ReconciliationDelay:       duration("RECONCILIATION_DELAY", 60*time.Second),
		ReconciliationMaxAttempts: integer("RECONCILIATION_MAX_ATTEMPTS", 3),
		ReconciliationBackoffBase: duration("RECONCILIATION_BACKOFF_BASE", 30*time.Second),
		ReconciliationBackoffMax:  duration("RECONCILIATION_BACKOFF_MAX", 15*time.Minute),
		CatalogSyncInterval:       duration("CATALOG_SYNC_INTERVAL", 24*time.Hour),
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if secrets != nil {
		cfg.applySecrets(ctx, secrets, logger)
	}

	if cfg.PostgresUser == "" || cfg.PostgresPassword == "" || cfg.PostgresDB == "" || cfg.PostgresHost == "" {
		return nil, ErrIncompleteDatabase
	}
	return cfg, nil
}

// applySecrets overrides credentials. A missing secret keeps the environment
// value.
func (c *Config) applySecrets(ctx context.Context, secrets SecretSource, logger *zap.Logger) {
	if m, err := secrets.GetSecretMap(ctx, SecretDBCredentials); err != nil {
		logger.Warn("DB credentials secret unavailable", zap.Error(err))
	} else {
		override(&c.PostgresUser, m["POSTGRES_USER"])
		override(&c.PostgresPassword, m["POSTGRES_PASSWORD"])
		override(&c.PostgresDB, m["POSTGRES_DB"])
		override(&c.PostgresHost, m["POSTGRES_HOST"])
		override(&c.PostgresPort, m["POSTGRES_PORT"])
	}

	if m, err := secrets.GetSecretMap(ctx, SecretVTPassKeys); err != nil {
		logger.Warn("VTPass keys secret unavailable", zap.Error(err))
	} else {
		override(&c.VTPass.APIKey, m["VTPASS_API_KEY"])
		override(&c.VTPass.SecretKey, m["VTPASS_SECRET_KEY"])
		override(&c.VTPass.PublicKey, m["VTPASS_PUBLIC_KEY"])
	}

	if v, err := secrets.GetSecret(ctx, SecretInterswitchBasicToken); err != nil {
		logger.Warn("Interswitch token secret unavailable", zap.Error(err))
	} else {
		override(&c.Interswitch.BasicToken, strings.TrimSpace(v))
	}
}

// DSN returns the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone)
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "/")); p != "" {
			out = append(out, p)
		}
	}
	return out
}
