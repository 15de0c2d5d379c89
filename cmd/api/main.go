package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/greenhouse/api/controllers"
	"github.com/angelmondragon/greenhouse/api/routes"
	"github.com/angelmondragon/greenhouse/internal/cart"
	product "github.com/angelmondragon/greenhouse/internal/products"
	"github.com/angelmondragon/greenhouse/internal/storefront"
	"github.com/angelmondragon/greenhouse/pkg/config"
	"github.com/angelmondragon/greenhouse/pkg/db"
	"github.com/angelmondragon/greenhouse/pkg/instance"
	"github.com/angelmondragon/greenhouse/pkg/logger"
	"github.com/angelmondragon/greenhouse/pkg/metrics"
	"github.com/angelmondragon/greenhouse/pkg/migrate"
	"github.com/angelmondragon/greenhouse/pkg/redis"
	"github.com/angelmondragon/greenhouse/pkg/storage"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	var (
		primary     storage.Target
		redisPinger controllers.Pinger
	)
	switch cfg.Cart.PrimaryKind() {
	case config.CartPrimaryRedis:
		redisClient, err := redis.New(ctx, cfg.Redis, logg)
		if err != nil {
			logg.Error(ctx, "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		target, err := storage.NewRedisTarget(redisClient)
		if err != nil {
			logg.Error(ctx, "failed to create redis storage target", err)
			os.Exit(1)
		}
		primary = target
		redisPinger = redisClient
	default:
		logg.Warn(ctx, "cart primary storage is in-memory; carts will not survive restarts without the secondary")
		primary = storage.NewMemoryTarget()
	}

	secondaryCfg := cfg.DB
	secondaryCfg.Driver = db.DriverSQLite
	secondaryCfg.DSN = cfg.Cart.SecondaryDSN
	secondaryCfg.MaxOpenConns = 1
	secondaryCfg.MaxIdleConns = 1
	secondaryClient, err := db.New(ctx, secondaryCfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to open secondary cart storage", err)
		os.Exit(1)
	}
	defer func() {
		if err := secondaryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing secondary cart storage", err)
		}
	}()

	secondary, err := storage.NewSQLTarget(secondaryClient.DB())
	if err != nil {
		logg.Error(ctx, "failed to create secondary storage target", err)
		os.Exit(1)
	}
	if err := secondary.EnsureSchema(ctx); err != nil {
		logg.Error(ctx, "failed to prepare secondary cart storage", err)
		os.Exit(1)
	}

	cartStorage, err := storage.NewMirrored(primary, secondary)
	if err != nil {
		logg.Error(ctx, "failed to create cart storage", err)
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	cartMetrics := metrics.NewCartMetrics(promRegistry)

	productService, err := product.NewService(product.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(ctx, "failed to create product service", err)
		os.Exit(1)
	}

	sessions, err := storefront.NewRegistry(storefront.RegistryParams{
		Storage: cartStorage,
		Remote:  cart.NewRemoteRepository(dbClient.DB()),
		Config:  cfg.Cart,
		Logger:  logg,
		Metrics: cartMetrics,
	})
	if err != nil {
		logg.Error(ctx, "failed to create session registry", err)
		os.Exit(1)
	}

	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		if err := sessions.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "session janitor stopped unexpectedly", err)
		}
	}()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	serverCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID(),
		"primary":  cfg.Cart.PrimaryKind(),
	})
	logg.Info(serverCtx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisPinger,
			sessions,
			productService,
			promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		logg.Info(serverCtx, "shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logg.Error(serverCtx, "api server stopped unexpectedly", err)
			exitCode = 1
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "http server shutdown failed", err)
		exitCode = 1
	}
	<-janitorDone
	if err := sessions.Close(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "closing cart sessions failed", err)
		exitCode = 1
	}
	logg.Info(shutdownCtx, "api server stopped")

	if exitCode != 0 {
		os.Exit(exitCode)
	}
}
