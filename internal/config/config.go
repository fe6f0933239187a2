package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/applyflow/internal/costguard"
	"github.com/cuongbtq/applyflow/internal/ratelimit"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	RabbitMQ  RabbitMQConfig  `yaml:"rabbitmq"`
	Redis     RedisConfig     `yaml:"redis"`
	Logging   LoggingConfig   `yaml:"logging"`
	App       AppConfig       `yaml:"app"`
	Worker    WorkerConfig    `yaml:"worker"`
	Security  SecurityConfig  `yaml:"security"`
	LLM       LLMConfig       `yaml:"llm"`
	Cost      CostConfig      `yaml:"cost"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Renderer  RendererConfig  `yaml:"renderer"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Storage   StorageConfig   `yaml:"storage"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST"`
	Port            int           `yaml:"port" env:"DB_PORT"`
	User            string        `yaml:"user" env:"DB_USER"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Database        string        `yaml:"database" env:"DB_NAME"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host" env:"RABBITMQ_HOST"`
	Port       int              `yaml:"port" env:"RABBITMQ_PORT"`
	User       string           `yaml:"user" env:"RABBITMQ_USER"`
	Password   string           `yaml:"password" env:"RABBITMQ_PASSWORD"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Confirms          bool          `yaml:"confirms"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int    `yaml:"prefetch_count"`
	Tag           string `yaml:"tag"`
}

// RedisConfig holds the cooldown store connection
type RedisConfig struct {
	Addr         string        `yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level" env:"LOG_LEVEL"`
	Format       string `yaml:"format" env:"LOG_FORMAT"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment" env:"APP_ENV"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID                string        `yaml:"id" env:"WORKER_ID"`
	Concurrency       int           `yaml:"concurrency"`
	BatchSize         int           `yaml:"batch_size"`
	WaitTime          time.Duration `yaml:"wait_time"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	LeaseTimeout      time.Duration `yaml:"lease_timeout"`
	ReclaimSchedule   string        `yaml:"reclaim_schedule"`
	LoopBackoff       time.Duration `yaml:"loop_backoff"`
	OrphanGrace       time.Duration `yaml:"orphan_grace"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// SecurityConfig holds key material. Values come from the environment.
type SecurityConfig struct {
	VaultKey  string `yaml:"vault_key" env:"VAULT_KEY"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// LLMConfig selects the text-generation provider
type LLMConfig struct {
	Provider    string         `yaml:"provider" env:"LLM_PROVIDER"`
	MaxTokens   int            `yaml:"max_tokens"`
	Temperature float64        `yaml:"temperature"`
	OpenAI      ProviderConfig `yaml:"openai" envPrefix:"OPENAI_"`
	Gemini      ProviderConfig `yaml:"gemini" envPrefix:"GEMINI_"`
}

// ProviderConfig holds one provider's credentials and model
type ProviderConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// CostConfig holds the per-run spend ceiling and price table
type CostConfig struct {
	MaxCostPerRun float64                        `yaml:"max_cost_per_run" env:"MAX_COST_PER_RUN"`
	DefaultRate   costguard.ModelRate            `yaml:"default_rate"`
	Rates         map[string]costguard.ModelRate `yaml:"rates"`
}

// RateLimitConfig holds per-tier quotas and the duplicate cooldown
type RateLimitConfig struct {
	Tiers        map[string]TierQuota `yaml:"tiers"`
	CooldownDays int                  `yaml:"cooldown_days"`
}

// TierQuota is one tier's quota. Window is "rolling" or "utc_day".
type TierQuota struct {
	Limit        int    `yaml:"limit"`
	Window       string `yaml:"window"`
	LookbackDays int    `yaml:"lookback_days"`
}

// RendererConfig holds the HTML-to-PDF service settings
type RendererConfig struct {
	BaseURL      string        `yaml:"base_url" env:"RENDERER_URL"`
	Timeout      time.Duration `yaml:"timeout"`
	PaperWidth   float64       `yaml:"paper_width"`
	PaperHeight  float64       `yaml:"paper_height"`
	TemplatePath string        `yaml:"template_path"`
}

// SMTPConfig holds the outgoing mail server
type SMTPConfig struct {
	Host    string        `yaml:"host" env:"SMTP_HOST"`
	Port    int           `yaml:"port" env:"SMTP_PORT"`
	Timeout time.Duration `yaml:"timeout"`
	TLS     string        `yaml:"tls"`
}

// StorageConfig holds the artifact bucket. Disabled skips the upload step.
type StorageConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Endpoint  string `yaml:"endpoint" env:"MINIO_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// PipelineConfig shapes the outreach pipeline
type PipelineConfig struct {
	Review           bool   `yaml:"review"`
	BaseDocumentsDir string `yaml:"base_documents_dir" env:"BASE_DOCUMENTS_DIR"`
	DocumentName     string `yaml:"document_name"`
	DocumentTitle    string `yaml:"document_title"`
}

// MetricsConfig controls the Prometheus endpoint. The worker serves it on Port.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file, then applies environment
// overrides and defaults.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	w := &c.Worker
	if w.Concurrency <= 0 {
		w.Concurrency = 5
	}
	if w.BatchSize <= 0 {
		w.BatchSize = 10
	}
	if w.WaitTime <= 0 {
		w.WaitTime = 20 * time.Second
	}
	if w.JobTimeout <= 0 {
		w.JobTimeout = 10 * time.Minute
	}
	if w.HeartbeatInterval <= 0 {
		w.HeartbeatInterval = 30 * time.Second
	}
	if w.LeaseTimeout <= 0 {
		w.LeaseTimeout = 5 * w.HeartbeatInterval
	}
	if w.ReclaimSchedule == "" {
		w.ReclaimSchedule = "@every 1m"
	}
	if w.LoopBackoff <= 0 {
		w.LoopBackoff = 5 * time.Second
	}
	if w.OrphanGrace <= 0 {
		w.OrphanGrace = time.Minute
	}
	if w.ShutdownTimeout <= 0 {
		w.ShutdownTimeout = 30 * time.Second
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.MaxTokens <= 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4o-mini"
	}
	if c.LLM.Gemini.Model == "" {
		c.LLM.Gemini.Model = "gemini-2.5-flash"
	}
	if c.RateLimit.CooldownDays <= 0 {
		c.RateLimit.CooldownDays = 7
	}
	if c.Renderer.Timeout <= 0 {
		c.Renderer.Timeout = 60 * time.Second
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Pipeline.DocumentName == "" {
		c.Pipeline.DocumentName = "resume.pdf"
	}
}

// Validate checks the settings every service needs
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return validVaultKey(c.Security.VaultKey)
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.Validate(); err != nil {
		return err
	}

	if c.Security.JWTSecret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}

	for name, q := range c.RateLimit.Tiers {
		if q.Limit <= 0 {
			return fmt.Errorf("rate limit for tier %s must be greater than 0", name)
		}
		if q.Window != "" && q.Window != "rolling" && q.Window != "utc_day" {
			return fmt.Errorf("rate limit window for tier %s must be rolling or utc_day", name)
		}
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.LeaseTimeout <= c.Worker.HeartbeatInterval {
		return fmt.Errorf("worker lease_timeout must be greater than heartbeat_interval")
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.OpenAI.APIKey == "" {
			return fmt.Errorf("openai api key is required")
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			return fmt.Errorf("gemini api key is required")
		}
	default:
		return fmt.Errorf("unknown llm provider: %s", c.LLM.Provider)
	}

	if c.Cost.MaxCostPerRun <= 0 {
		return fmt.Errorf("cost max_cost_per_run must be greater than 0")
	}

	if c.Renderer.BaseURL == "" {
		return fmt.Errorf("renderer base_url is required")
	}

	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp host is required")
	}

	if c.Storage.Enabled && (c.Storage.Endpoint == "" || c.Storage.Bucket == "") {
		return fmt.Errorf("storage endpoint and bucket are required when storage is enabled")
	}

	return nil
}

func validVaultKey(key string) error {
	switch len(key) {
	case 16, 24, 32:
		return nil
	case 0:
		return errors.New("vault key is required")
	default:
		return fmt.Errorf("vault key must be 16, 24, or 32 bytes, got %d", len(key))
	}
}

// RatePolicies converts the configured tiers. Unknown tier names are ignored.
func (c RateLimitConfig) RatePolicies() map[ratelimit.Tier]ratelimit.Policy {
	out := make(map[ratelimit.Tier]ratelimit.Policy, len(c.Tiers))
	for name, q := range c.Tiers {
		tier := ratelimit.Tier(strings.ToUpper(name))
		if ratelimit.ParseTier(name) != tier {
			continue
		}

		p := ratelimit.Policy{Limit: q.Limit, Kind: ratelimit.UTCDay}
		if q.Window == "rolling" {
			days := q.LookbackDays
			if days <= 0 {
				days = 30
			}
			p.Kind = ratelimit.Rolling
			p.Lookback = time.Duration(days) * 24 * time.Hour
		}
		out[tier] = p
	}
	return out
}

// Governor converts the cost settings.
func (c CostConfig) Governor() costguard.Config {
	return costguard.Config{
		MaxCostPerRun: c.MaxCostPerRun,
		Rates:         costguard.RateTable(c.Rates),
		DefaultRate:   c.DefaultRate,
	}
}

// Cooldown returns the duplicate-application cooldown period.
func (c RateLimitConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}
