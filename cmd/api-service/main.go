package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/applyflow/internal/api/auth"
	"github.com/cuongbtq/applyflow/internal/api/handler"
	"github.com/cuongbtq/applyflow/internal/api/router"
	"github.com/cuongbtq/applyflow/internal/bootstrap"
	"github.com/cuongbtq/applyflow/internal/config"
	"github.com/cuongbtq/applyflow/internal/dispatch"
	"github.com/cuongbtq/applyflow/internal/metrics"
	"github.com/cuongbtq/applyflow/internal/outreach"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
	"github.com/cuongbtq/applyflow/internal/storage"
	"github.com/cuongbtq/applyflow/internal/vault"
)

const serviceName = "api-service"

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	migrate := flag.Bool("migrate", false, "Apply pending database migrations on startup")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	credentialVault, err := vault.New(cfg.Security.VaultKey)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	var roles *outreach.Library
	if dir := cfg.Pipeline.BaseDocumentsDir; dir != "" {
		if roles, err = outreach.LoadLibrary(dir); err != nil {
			return fmt.Errorf("failed to load base documents: %w", err)
		}
		appLogger.Info("Base documents loaded", slog.Any("roles", roles.Roles()))
	}

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.Postgres(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if *migrate {
		if err := dbClient.Migrate(context.Background()); err != nil {
			return err
		}
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	// Initialize Redis client
	redisClient, err := bootstrap.Redis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	defer redisClient.Close()

	appLogger.Info("Redis connection established")

	reg, metricsHandler := bootstrap.Registry()
	m := metrics.New(reg)
	reg.MustRegister(collectors.NewDBStatsCollector(dbClient.GetDB().DB, cfg.Database.Database))

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	limiter := ratelimit.NewLimiter(store, appLogger.Logger,
		ratelimit.WithPolicies(cfg.RateLimit.RatePolicies()),
	)

	opts := []dispatch.Option{
		dispatch.WithGuard(ratelimit.NewCooldown(redisClient.GetClient(), cfg.RateLimit.Cooldown())),
		dispatch.WithQuota(limiter),
	}
	if roles != nil {
		opts = append(opts, dispatch.WithRoleChecker(roles))
	}
	dispatcher := dispatch.New(dispatch.NewSQLStore(store), rabbitClient, credentialVault, appLogger.Logger, opts...)

	// Initialize router
	bootstrap.GinMode(cfg.App.Environment)
	routerOpts := router.Options{
		Service:      serviceName,
		Auth:         auth.New(cfg.Security.JWTSecret),
		Quota:        limiter,
		QuotaMetrics: m,
		Health: map[string]router.HealthCheck{
			"postgres": dbClient.HealthCheck,
			"redis":    redisClient.HealthCheck,
			"rabbitmq": func(context.Context) error {
				if !rabbitClient.IsConnected() {
					return fmt.Errorf("rabbitmq is not connected")
				}
				return nil
			},
		},
	}
	if cfg.Metrics.Enabled {
		routerOpts.Metrics = metricsHandler
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:     appLogger.Logger,
		Dispatcher: dispatcher,
		Jobs:       store,
		Metrics:    m,
	}, routerOpts)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
