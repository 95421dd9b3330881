package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/northwind-digital/agency/internal/app"
	"github.com/northwind-digital/agency/internal/auth"
	"github.com/northwind-digital/agency/internal/datastore"
	"github.com/northwind-digital/agency/internal/datastore/datastorehttp"
	"github.com/northwind-digital/agency/internal/media"
	"github.com/northwind-digital/agency/internal/observability"
	"github.com/northwind-digital/agency/internal/platform/cache"
	"github.com/northwind-digital/agency/internal/platform/db"
	"github.com/northwind-digital/agency/internal/rbac"
	"github.com/northwind-digital/agency/internal/shared"
	"github.com/northwind-digital/agency/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agency server", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, pool); err != nil {
			return err
		}
	}
	if cfg.AdminEmail != "" {
		granted, err := auth.EnsureAdministrator(ctx, pool, cfg.AdminEmail)
		switch {
		case errors.Is(err, shared.ErrNotFound):
			logger.Warn("administrator account not confirmed yet", slog.String("email", cfg.AdminEmail))
		case err != nil:
			return err
		case granted:
			logger.Info("administrator role granted", slog.String("email", cfg.AdminEmail))
		}
	}

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		return err
	}
	defer jobClient.Close()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	metrics := observability.NewMetrics()

	authService := auth.NewService(auth.ServiceConfig{
		Repo:      auth.NewRepository(pool),
		Sessions:  auth.NewSessionStore(redisClient, cfg.SessionTTL, clock.RealClock{}),
		Mailer:    jobClient,
		Metrics:   metrics,
		Logger:    logger,
		PublicURL: cfg.PublicURL,
	})

	store := datastore.NewPGStore(pool)
	policy := rbac.NewService(store, rbac.DefaultPolicy())

	var mediaHandler *media.Handler
	if cfg.S3Endpoint != "" {
		s3Client, err := media.NewS3Client(ctx, media.S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
		if err != nil {
			return err
		}
		mediaHandler = media.NewHandler(media.NewUploader(s3Client, cfg.MediaPublicURL), logger)
	} else {
		logger.Warn("S3_ENDPOINT not set, uploads disabled")
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    auth.NewHandler(auth.HandlerConfig{Service: authService, Logger: logger, Metrics: metrics}),
		AuthMiddleware: auth.NewMiddleware(authService, logger),
		StoreHandler:   datastorehttp.NewHandler(store, policy, logger),
		MediaHandler:   mediaHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		RBACMiddleware: rbac.Middleware{Service: policy, Logger: logger},
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:        cfg.AppAddr,
		Handler:     router,
		ReadTimeout: cfg.AppReadTimeout,
		// Event streams clear their own write deadline.
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
