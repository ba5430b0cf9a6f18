package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/podworks/podworks/config"
	"github.com/podworks/podworks/internal/events"
	"github.com/podworks/podworks/internal/health"
	"github.com/podworks/podworks/internal/infrastructure/postgres"
	ctxlog "github.com/podworks/podworks/internal/log"
	"github.com/podworks/podworks/internal/metrics"
	"github.com/podworks/podworks/internal/notify"
	"github.com/podworks/podworks/internal/pipeline"
	"github.com/podworks/podworks/internal/platform"
	"github.com/podworks/podworks/internal/retry"
	"github.com/podworks/podworks/internal/schedule"
	"github.com/podworks/podworks/internal/scheduler"
	httptransport "github.com/podworks/podworks/internal/transport/http"
	"github.com/podworks/podworks/internal/transport/http/handler"
	"github.com/podworks/podworks/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer dbPool.Close()

	store := postgres.NewJobRepository(dbPool)
	bus := events.NewBus()

	// External clients.
	imageGen := platform.NewImageGenClient(cfg.ImageGenURL, cfg.ImageGenToken)
	imageStore, err := platform.NewDiskStore(cfg.StorageDir, cfg.ImageBaseURL)
	if err != nil {
		log.Fatalf("image store: %v", err)
	}
	var platforms []pipeline.CommercePlatform
	if cfg.PrintifyURL != "" {
		platforms = append(platforms, platform.NewCommerceClient("printify", cfg.PrintifyURL, cfg.PrintifyToken))
	}
	if cfg.ShopifyURL != "" {
		platforms = append(platforms, platform.NewCommerceClient("shopify", cfg.ShopifyURL, cfg.ShopifyToken))
	}

	retryOpts := retry.Options{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.RetryInitialBackoff(),
		MaxBackoff:     cfg.RetryMaxBackoff(),
		Multiplier:     cfg.RetryBackoffMultiplier,
	}

	deps := pipeline.NewDeps(imageGen, imageStore, platforms, pipeline.DepsConfig{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Cooldown:         cfg.BreakerCooldown(),
		CallTimeout:      cfg.CallTimeout(),
		Retry:            retryOpts,
		CatalogTTL:       cfg.CatalogTTL(),
	}, logger)
	engine := pipeline.NewEngine(deps, pipeline.Config{
		BatchConcurrency:   cfg.BatchConcurrency,
		PublishConcurrency: cfg.PublishConcurrency,
	}, logger)

	sender := notify.NewSender(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	notifier := notify.New(sender, cfg.NotifyEmail, logger)

	pool := scheduler.NewPool(store, engine, bus, notifier, scheduler.Options{
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		PollInterval:      cfg.PollInterval(),
		JobTimeout:        cfg.JobTimeout(),
		Retry:             retryOpts,
	}, logger)

	// Jobs left running by a previous process can never finish; settle
	// them before accepting new work.
	if n, err := store.ReconcileRunning(ctx); err != nil {
		log.Fatalf("reconcile running jobs: %v", err)
	} else if n > 0 {
		logger.Warn("reconciled orphaned running jobs", "count", n)
	}
	if err := pool.Resume(ctx); err != nil {
		log.Fatalf("resume pending jobs: %v", err)
	}
	go pool.Start(ctx)

	metrics.Register()
	reporter := metrics.NewReporter(store, bus, logger, 15*time.Second)
	go reporter.Start(ctx)
	checker := health.NewChecker(dbPool, deps, reporter, cfg.SuccessRateFloor, logger, prometheus.DefaultRegisterer)

	jobUsecase := usecase.NewJobUsecase(store, pool, bus, deps.PlatformNames())

	recurring, err := schedule.New(cfg.ScheduleCron, cfg.SchedulePrompts, jobUsecase, logger)
	if err != nil {
		log.Fatalf("schedule: %v", err)
	}
	recurring.Start()

	jobHandler := handler.NewJobHandler(jobUsecase, logger)
	systemHandler := handler.NewSystemHandler(checker, reporter, logger)
	eventsHandler := handler.NewEventsHandler(bus, logger)

	srv := http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, jobHandler, systemHandler, eventsHandler, []byte(cfg.JWTSecret)),
	}

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	<-recurring.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
