package messaging

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

// ErrNotConnected is returned when publishing without a live broker connection
var ErrNotConnected = errors.New("no connection to RabbitMQ")

// Config holds RabbitMQ connection settings
type Config struct {
	URL        string
	Exchange   string // topic exchange, declared durable on connect
	RetryCount int
	RetryDelay time.Duration
}

// Client owns one connection and channel to RabbitMQ and reconnects when the
// broker drops the connection
type Client struct {
	config     Config
	connection *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	isClosing  bool
	logger     *logrus.Logger
}

// NewClient creates a client. Call Connect before publishing.
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.RetryCount < 1 {
		config.RetryCount = 1
	}
	return &Client{config: config, logger: logger}
}

// Connect dials the broker, opens a channel and declares the exchange,
// retrying up to RetryCount times
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for i := 0; i < c.config.RetryCount; i++ {
		c.connection, err = amqp.Dial(c.config.URL)
		if err != nil {
			c.logger.WithError(err).Warnf("RabbitMQ connection error (attempt %d/%d)", i+1, c.config.RetryCount)
			if i < c.config.RetryCount-1 {
				time.Sleep(c.config.RetryDelay)
			}
			continue
		}

		c.channel, err = c.connection.Channel()
		if err != nil {
			c.connection.Close()
			return fmt.Errorf("failed to open RabbitMQ channel: %w", err)
		}

		err = c.channel.ExchangeDeclare(
			c.config.Exchange, // name
			"topic",           // type
			true,              // durable
			false,             // auto-deleted
			false,             // internal
			false,             // no-wait
			nil,               // arguments
		)
		if err != nil {
			c.channel.Close()
			c.connection.Close()
			return fmt.Errorf("failed to declare exchange: %w", err)
		}

		c.logger.WithField("exchange", c.config.Exchange).Info("Connected to RabbitMQ")

		go c.handleReconnection(c.connection)
		return nil
	}

	return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
}

func (c *Client) handleReconnection(conn *amqp.Connection) {
	notifyClose := conn.NotifyClose(make(chan *amqp.Error, 1))

	err, ok := <-notifyClose
	if !ok {
		// closed by Close()
		return
	}

	c.mu.RLock()
	closing := c.isClosing
	c.mu.RUnlock()
	if closing {
		return
	}

	c.logger.WithField("reason", err).Warn("RabbitMQ connection lost, reconnecting")
	time.Sleep(c.config.RetryDelay)
	if reconnectErr := c.Connect(); reconnectErr != nil {
		c.logger.WithError(reconnectErr).Error("RabbitMQ reconnect failed")
	}
}

// IsConnected reports whether the connection is open
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connection != nil && !c.connection.IsClosed()
}

// Publish sends payload as a persistent JSON message to the exchange
func (c *Client) Publish(routingKey, messageID string, headers map[string]interface{}, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.channel == nil || c.connection == nil || c.connection.IsClosed() {
		return ErrNotConnected
	}

	err = c.channel.Publish(
		c.config.Exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			MessageId:    messageID,
			Timestamp:    time.Now(),
			Headers:      amqp.Table(headers),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}
	return nil
}

// Close closes the channel and connection. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosing {
		return nil
	}
	c.isClosing = true

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil {
			errs = append(errs, fmt.Errorf("channel close error: %w", err))
		}
	}
	if c.connection != nil {
		if err := c.connection.Close(); err != nil {
			errs = append(errs, fmt.Errorf("connection close error: %w", err))
		}
	}

	if len(errs) == 0 {
		c.logger.Info("RabbitMQ connection closed")
	}
	return errors.Join(errs...)
}
