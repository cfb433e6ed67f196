package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deveasyclick/billpay/bootstrap"
	"github.com/deveasyclick/billpay/config"
	"github.com/deveasyclick/billpay/controllers"
	"github.com/deveasyclick/billpay/logger"
	"github.com/deveasyclick/billpay/middleware"
	"github.com/deveasyclick/billpay/routes"
	"github.com/deveasyclick/billpay/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 10 * time.Second

func main() {
	base := logger.MustInitialize(os.Getenv("APP_ENV"), nil)
	defer base.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(ctx, base)
	if err != nil {
		base.Fatal("Failed to load config", zap.Error(err))
	}
	log := bootstrap.NewLogger(ctx, cfg, base, "billpay")
	defer log.Sync() //nolint:errcheck
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer app.Close()

	limiter := middleware.NewRateLimiter(ctx, rate.Limit(float64(cfg.RateLimitRPM)/60), cfg.RateLimitBurst, 10*time.Minute)
	router := routes.NewRouter(routes.Options{
		Logger:         log,
		Metrics:        app.Metrics,
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
		JWTSecret:      []byte(cfg.JWTSecret),
	},
		controllers.NewBillsController(app.Payments, app.BillPayments),
		controllers.NewAdminController(app.CatalogSync, app.Reconciliation, log),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Billpay service started", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return app.Consumer.Start(gctx, app.Poller)
	})
	g.Go(func() error {
		runCatalogSync(gctx, app.CatalogSync, cfg.CatalogSyncInterval, log)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Initiating graceful shutdown...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Billpay service stopped with error", zap.Error(err))
		return
	}
	log.Info("Billpay service stopped gracefully")
}

// runCatalogSync syncs once at startup and then every interval until ctx is
// done. A zero interval disables the schedule.
func runCatalogSync(ctx context.Context, svc services.CatalogSyncService, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	sync := func() {
		if _, err := svc.Sync(ctx); err != nil && ctx.Err() == nil {
			log.Error("Scheduled catalog sync failed", zap.Error(err))
		}
	}

	sync()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sync()
		}
	}
}
