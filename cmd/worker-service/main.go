package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/applyflow/internal/artifact"
	"github.com/cuongbtq/applyflow/internal/bootstrap"
	"github.com/cuongbtq/applyflow/internal/config"
	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/internal/mailer"
	"github.com/cuongbtq/applyflow/internal/metrics"
	"github.com/cuongbtq/applyflow/internal/outreach"
	"github.com/cuongbtq/applyflow/internal/pipeline"
	"github.com/cuongbtq/applyflow/internal/render"
	"github.com/cuongbtq/applyflow/internal/storage"
	"github.com/cuongbtq/applyflow/internal/vault"
	"github.com/cuongbtq/applyflow/internal/worker"
)

const serviceName = "worker-service"

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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging, serviceName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	credentialVault, err := vault.New(cfg.Security.VaultKey)
	if err != nil {
		return fmt.Errorf("failed to initialize vault: %w", err)
	}

	library, err := outreach.LoadLibrary(cfg.Pipeline.BaseDocumentsDir)
	if err != nil {
		return fmt.Errorf("failed to load base documents: %w", err)
	}
	appLogger.Info("Base documents loaded", slog.Any("roles", library.Roles()))

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.Postgres(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	reg, metricsHandler := bootstrap.Registry()
	m := metrics.New(reg)
	reg.MustRegister(collectors.NewDBStatsCollector(dbClient.GetDB().DB, cfg.Database.Database))
	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	smtp := mailer.NewSMTP(mailer.Config{
		Host:    cfg.SMTP.Host,
		Port:    cfg.SMTP.Port,
		Timeout: cfg.SMTP.Timeout,
		TLS:     cfg.SMTP.TLS,
	}, appLogger.Logger)

	runner, err := buildPipeline(ctx, cfg, appLogger.Logger, m, store, smtp)
	if err != nil {
		return err
	}

	// Create worker instance
	w, err := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Store:             store,
		Transport:         worker.NewRabbitTransport(rabbitClient),
		Vault:             credentialVault,
		Verifier:          smtp,
		Documents:         library,
		Runner:            runner,
		Metrics:           m,
		WorkerID:          cfg.Worker.ID,
		Concurrency:       cfg.Worker.Concurrency,
		BatchSize:         cfg.Worker.BatchSize,
		WaitTime:          cfg.Worker.WaitTime,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		LoopBackoff:       cfg.Worker.LoopBackoff,
		OrphanGrace:       cfg.Worker.OrphanGrace,
	})
	if err != nil {
		return fmt.Errorf("failed to create worker: %w", err)
	}

	reclaimer := worker.NewReclaimer(store, cfg.Worker.LeaseTimeout, appLogger.Logger,
		worker.WithReclaimMetrics(m),
	)
	if err := reclaimer.Start(ctx, cfg.Worker.ReclaimSchedule); err != nil {
		return fmt.Errorf("failed to start reclaimer: %w", err)
	}
	defer reclaimer.Stop()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled && cfg.Metrics.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				appLogger.Error("Metrics server failed", slog.Any("error", err))
			}
		}()
	}

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", w.ID()),
		slog.Any("steps", runner.StepNames()),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
	}

	// Stop receiving; the batch in hand runs to completion
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	select {
	case <-errChan:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			appLogger.Warn("Metrics server shutdown failed", slog.Any("error", err))
		}
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// buildPipeline wires the cost-metered LLM client, the renderer, the mailer
// and the optional artifact store into the outreach pipeline.
func buildPipeline(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics, store *storage.Storage, sender outreach.Sender) (*pipeline.Pipeline[outreach.Context], error) {
	client, err := bootstrap.LLM(ctx, &cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm client: %w", err)
	}

	generator := llm.NewMetered(client, costguard.NewGovernor(cfg.Cost.Governor()), logger,
		llm.WithRecorder(m),
		llm.WithEstimator(llm.NewTokenEstimator(client.Model())),
	)

	tmpl, err := render.NewTemplate(cfg.Renderer.TemplatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load document template: %w", err)
	}

	deps := outreach.Deps{
		Generator: generator,
		Renderer: render.NewClient(render.Config{
			BaseURL:     cfg.Renderer.BaseURL,
			Timeout:     cfg.Renderer.Timeout,
			PaperWidth:  cfg.Renderer.PaperWidth,
			PaperHeight: cfg.Renderer.PaperHeight,
		}),
		Template: tmpl,
		Sender:   sender,
	}

	if cfg.Storage.Enabled {
		artifacts, err := artifact.NewStore(ctx, artifact.Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			Bucket:    cfg.Storage.Bucket,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize artifact store: %w", err)
		}
		deps.Artifacts = artifacts
	}

	p := outreach.NewPipeline(deps, outreach.Options{
		Review:       cfg.Pipeline.Review,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		DocumentName: cfg.Pipeline.DocumentName,
		Title:        cfg.Pipeline.DocumentTitle,
	})
	p.Observe(pipeline.NewLogObserver(logger), m, worker.NewTrailObserver(store, logger))
	return p, nil
}
