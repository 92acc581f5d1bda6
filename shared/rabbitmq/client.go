package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
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
}

// Client is a single-connection, single-channel RabbitMQ client bound to one
// exchange/queue pair.
type Client struct {
	config  *Config
	logger  *slog.Logger
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient connects and declares the topology
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

func (c *Client) connect() error {
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
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	conn, err := retry(context.Background(), backoff.NewConstantBackOff(c.config.RetryInterval), attempts,
		func() (*amqp.Connection, error) {
			return amqp.DialConfig(dsn, amqpConfig)
		},
		func(attempt int, err error, _ time.Duration) {
			c.logger.Error("Failed to connect to RabbitMQ",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Int("max_attempts", attempts),
			)
		},
	)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.declare(channel); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
	)

	return nil
}

func (c *Client) declare(channel *amqp.Channel) error {
	if err := channel.ExchangeDeclare(
		c.config.ExchangeName,
		c.config.ExchangeType,
		c.config.ExchangeDurable,
		c.config.ExchangeAutoDelete,
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		c.config.QueueDurable,
		c.config.QueueAutoDelete,
		c.config.QueueExclusive,
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := channel.QueueBind(
		c.config.QueueName,
		c.config.RoutingKey,
		c.config.ExchangeName,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

func (c *Client) currentChannel() (*amqp.Channel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.channel == nil || c.channel.IsClosed() {
		return nil, fmt.Errorf("not connected to RabbitMQ")
	}
	return c.channel, nil
}

// PublishJSON marshals v and publishes it as a persistent message, retrying
// with exponential backoff.
func (c *Client) PublishJSON(ctx context.Context, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	b, tries := publishBackOff(c.config)
	retried := 0
	_, err = retry(ctx, b, tries,
		func() (struct{}, error) {
			return struct{}{}, c.publishOnce(ctx, body)
		},
		func(attempt int, err error, next time.Duration) {
			retried = attempt
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying",
				slog.Int("attempt", attempt),
				slog.Duration("retry_after", next),
				slog.Any("error", err),
			)
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("publish canceled: %w", err)
		}
		return fmt.Errorf("failed to publish message after %d attempts: %w", tries, err)
	}

	if retried > 0 {
		c.logger.Info("Published message to RabbitMQ after retry",
			slog.Int("attempt", retried+1),
		)
	}
	return nil
}

// publishBackOff turns the publish knobs into a backoff and a try budget.
// PublishRetries counts retries, so the budget is one more than that.
func publishBackOff(cfg *Config) (*backoff.ExponentialBackOff, int) {
	retries := cfg.PublishRetries
	if retries <= 0 {
		retries = 3
	}
	delay := cfg.PublishRetryDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	mult := cfg.PublishBackoffMult
	if mult <= 1 {
		mult = 2.0
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.Multiplier = mult
	b.RandomizationFactor = 0
	b.MaxInterval = time.Duration(float64(delay) * math.Pow(mult, float64(retries)))
	return b, retries + 1
}

// retry runs op until it succeeds or tries runs out, calling notify with
// the 1-based number of each failed attempt before sleeping.
func retry[T any](ctx context.Context, b backoff.BackOff, tries int, op func() (T, error), notify func(attempt int, err error, next time.Duration)) (T, error) {
	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(tries)),
		backoff.WithNotify(func(err error, next time.Duration) {
			notify(attempt, err, next)
		}),
	)
}

func (c *Client) publishOnce(ctx context.Context, body []byte) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}

	return channel.PublishWithContext(
		ctx,
		c.config.ExchangeName,
		c.config.RoutingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

// Consume sets the prefetch window and starts a manual-ack consumer
func (c *Client) Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error) {
	channel, err := c.currentChannel()
	if err != nil {
		return nil, err
	}

	if err := channel.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := channel.Consume(
		c.config.QueueName,
		consumerTag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.String("consumer_tag", consumerTag),
		slog.Int("prefetch", prefetch),
	)

	return deliveries, nil
}

// Ack acknowledges a delivery by tag
func (c *Client) Ack(tag uint64) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.Ack(tag, false)
}

// Nack rejects a delivery by tag
func (c *Client) Nack(tag uint64, requeue bool) error {
	channel, err := c.currentChannel()
	if err != nil {
		return err
	}
	return channel.Nack(tag, false, requeue)
}

// IsConnected reports whether the connection is still open
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// HealthCheck fails once the connection has dropped
func (c *Client) HealthCheck(context.Context) error {
	if !c.IsConnected() {
		return errors.New("rabbitmq connection is closed")
	}
	return nil
}

// Close closes the channel and connection
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("Closing RabbitMQ connection")

	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel", slog.Any("error", err))
		}
		c.channel = nil
	}

	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		if err != nil {
			c.logger.Error("Failed to close RabbitMQ connection", slog.Any("error", err))
			return err
		}
	}

	return nil
}
