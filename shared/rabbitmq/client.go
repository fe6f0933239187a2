package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	QueueDurable       bool
	QueueAutoDelete    bool
	QueueExclusive     bool
	RoutingKey         string
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
	PublisherConfirms  bool
	PrefetchCount      int
	ConsumerTag        string
}

// ErrNotConnected is returned when the client has no open channel.
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Client represents a RabbitMQ client
type Client struct {
	mu          sync.RWMutex
	config      *Config
	conn        *amqp.Connection
	channel     *amqp.Channel
	deliveries  <-chan amqp.Delivery
	logger      *slog.Logger
	closeChan   chan *amqp.Error
	isConnected bool
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config:      config,
		logger:      logger,
		isConnected: false,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// connect establishes connection to RabbitMQ with retry logic
func (c *Client) connect() error {
	var err error

	dsn := fmt.Sprintf("amqp://%s:%s@%s:%d%s",
		c.config.User,
		c.config.Password,
		c.config.Host,
		c.config.Port,
		c.config.VHost,
	)

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.config.RetryAttempts),
		)

		c.conn, err = amqp.DialConfig(dsn, amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < c.config.RetryAttempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", c.config.RetryAttempts, err)
	}

	// Create channel
	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	// Setup exchange and queue
	if err := c.setup(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	// Monitor connection; buffered so the library never blocks on delivery
	c.closeChan = make(chan *amqp.Error, 1)
	c.channel.NotifyClose(c.closeChan)
	c.isConnected = true

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

// setup declares exchange, queue, and bindings
func (c *Client) setup() error {
	// Declare exchange
	err := c.channel.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	// Declare queue
	_, err = c.channel.QueueDeclare(
		c.config.QueueName,       // name
		c.config.QueueDurable,    // durable
		c.config.QueueAutoDelete, // auto-delete
		c.config.QueueExclusive,  // exclusive
		false,                    // no-wait
		nil,                      // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// Bind queue to exchange
	err = c.channel.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if c.config.PrefetchCount > 0 {
		if err := c.channel.Qos(c.config.PrefetchCount, 0, false); err != nil {
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}

	if c.config.PublisherConfirms {
		if err := c.channel.Confirm(false); err != nil {
			return fmt.Errorf("failed to enable publisher confirms: %w", err)
		}
	}

	return nil
}

// Publish publishes a persistent message, retrying with exponential backoff.
// With publisher confirms enabled it returns only after the broker confirmed the message.
func (c *Client) Publish(ctx context.Context, body []byte, contentType string) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publishOnce(ctx, body, contentType)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.Int("body_size", len(body)),
				)
			} else {
				c.logger.Debug("Message published to RabbitMQ",
					slog.Int("body_size", len(body)),
					slog.String("content_type", contentType),
				)
			}
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return fmt.Errorf("failed to publish message: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

func (c *Client) publishOnce(ctx context.Context, body []byte, contentType string) error {
	c.mu.RLock()
	ch, connected := c.channel, c.isConnected
	c.mu.RUnlock()
	if !connected || ch == nil {
		return ErrNotConnected
	}

	confirm, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		c.config.ExchangeName, // exchange
		c.config.RoutingKey,   // routing key
		false,                 // mandatory
		false,                 // immediate
		amqp.Publishing{
			ContentType:  contentType,
			Body:         body,
			DeliveryMode: amqp.Persistent, // persistent
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		return err
	}

	// nil unless the channel is in confirm mode
	if confirm == nil {
		return nil
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return errors.New("message was nacked by the broker")
	}
	return nil
}

// Receive returns up to maxMessages deliveries. It waits at most wait for the first
// one and then takes whatever is already buffered. An empty slice means the wait elapsed.
func (c *Client) Receive(ctx context.Context, maxMessages int, wait time.Duration) ([]amqp.Delivery, error) {
	deliveries, closed, err := c.consume()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	batch := make([]amqp.Delivery, 0, maxMessages)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return batch, nil
	case amqpErr := <-closed:
		c.logger.Warn("RabbitMQ channel closed", slog.Any("error", amqpErr))
		return nil, c.lost()
	case d, ok := <-deliveries:
		if !ok {
			return nil, c.lost()
		}
		batch = append(batch, d)
	}

	for len(batch) < maxMessages {
		select {
		case d, ok := <-deliveries:
			if !ok {
				return batch, nil
			}
			batch = append(batch, d)
		default:
			return batch, nil
		}
	}
	return batch, nil
}

func (c *Client) consume() (<-chan amqp.Delivery, <-chan *amqp.Error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isConnected || c.channel == nil {
		return nil, nil, ErrNotConnected
	}
	if c.deliveries != nil {
		return c.deliveries, c.closeChan, nil
	}

	messages, err := c.channel.Consume(
		c.config.QueueName,   // queue
		c.config.ConsumerTag, // consumer tag
		false,                // auto-ack
		false,                // exclusive
		false,                // no-local
		false,                // no-wait
		nil,                  // args
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", c.config.ConsumerTag),
	)

	c.deliveries = messages
	return messages, c.closeChan, nil
}

func (c *Client) lost() error {
	c.mu.Lock()
	c.isConnected = false
	c.deliveries = nil
	c.mu.Unlock()
	return fmt.Errorf("delivery channel closed: %w", ErrNotConnected)
}

// Reconnect drops the current connection and dials again.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
	c.deliveries = nil
	return c.connect()
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.closeLocked(); err != nil {
		return err
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

func (c *Client) closeLocked() error {
	c.isConnected = false

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isConnected && c.conn != nil && !c.conn.IsClosed()
}
