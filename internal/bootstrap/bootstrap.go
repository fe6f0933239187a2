// Package bootstrap turns configuration sections into connected clients
// for the service binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/applyflow/internal/config"
	"github.com/cuongbtq/applyflow/internal/llm"
	"github.com/cuongbtq/applyflow/shared/logger"
	"github.com/cuongbtq/applyflow/shared/postgresql"
	"github.com/cuongbtq/applyflow/shared/rabbitmq"
	"github.com/cuongbtq/applyflow/shared/redis"
)

// Logger initializes the application logger for service.
func Logger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	})
}

// Postgres connects to the jobs database.
func Postgres(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// RabbitConfig maps the rabbitmq section onto the client config.
func RabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PublisherConfirms:  cfg.Publish.Confirms,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		ConsumerTag:        cfg.Consumer.Tag,
	}
}

// RabbitMQ connects to the broker and declares the topology.
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitConfig(cfg), logger)
}

// Redis connects to the cooldown store.
func Redis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}, logger)
}

// LLM builds the configured provider client.
func LLM(ctx context.Context, cfg *config.LLMConfig) (llm.Client, error) {
	switch cfg.Provider {
	case "openai":
		return llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		})
	case "gemini":
		return llm.NewGeminiClient(ctx, llm.GeminiConfig{
			APIKey:  cfg.Gemini.APIKey,
			BaseURL: cfg.Gemini.BaseURL,
			Model:   cfg.Gemini.Model,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

// GinMode sets the Gin mode based on environment.
func GinMode(environment string) {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
}

// Registry returns a registry with the Go runtime and process collectors
// and the handler that serves it.
func Registry() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
