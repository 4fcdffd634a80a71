package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	// DefaultStatusExchange - topic exchange событий статуса историй.
	DefaultStatusExchange = "story_status"
	publishTimeout        = 5 * time.Second
)

// amqpChannel - подмножество *amqp.Channel, используемое издателем.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQNotifier публикует StoryStatusEvent в topic exchange с ключом story.<status>.
type RabbitMQNotifier struct {
	mu       sync.Mutex
	ch       amqpChannel
	exchange string
	logger   *zap.Logger
}

var _ Notifier = (*RabbitMQNotifier)(nil)

// NewRabbitMQNotifier открывает канал и объявляет durable exchange.
func NewRabbitMQNotifier(conn *amqp.Connection, exchange string, logger *zap.Logger) (*RabbitMQNotifier, error) {
	if conn == nil {
		return nil, fmt.Errorf("rabbitmq connection is nil")
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}
	n, err := newRabbitMQNotifier(ch, exchange, logger)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	return n, nil
}

func newRabbitMQNotifier(ch amqpChannel, exchange string, logger *zap.Logger) (*RabbitMQNotifier, error) {
	if exchange == "" {
		exchange = DefaultStatusExchange
	}
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange '%s': %w", exchange, err)
	}

	logger.Info("Story status exchange declared", zap.String("exchange", exchange))
	return &RabbitMQNotifier{
		ch:       ch,
		exchange: exchange,
		logger:   logger.Named("StatusNotifier"),
	}, nil
}

// RoutingKey возвращает ключ маршрутизации для события.
func RoutingKey(event StoryStatusEvent) string {
	return "story." + string(event.Status)
}

func (n *RabbitMQNotifier) NotifyStatus(ctx context.Context, event StoryStatusEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	n.mu.Lock()
	err = n.ch.PublishWithContext(ctx,
		n.exchange,        // exchange
		RoutingKey(event), // routing key
		false,             // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.At,
			MessageId:    fmt.Sprintf("%s:%s:%d", event.StoryID, event.Status, event.At.UnixNano()),
			Body:         body,
		},
	)
	n.mu.Unlock()
	if err != nil {
		n.logger.Warn("Failed to publish status event",
			zap.String("story_id", event.StoryID.String()),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	n.logger.Debug("Status event published",
		zap.String("story_id", event.StoryID.String()),
		zap.String("status", string(event.Status)),
	)
	return nil
}

// Close закрывает канал.
func (n *RabbitMQNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.ch.Close()
}

// ConnectRabbitMQ подключается к брокеру с несколькими попытками.
func ConnectRabbitMQ(ctx context.Context, url string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) (*amqp.Connection, error) {
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := amqp.Dial(url)
		if err == nil {
			logger.Info("Connected to RabbitMQ", zap.Int("attempt", attempt))
			return conn, nil
		}
		lastErr = err
		logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_delay", retryDelay),
			zap.Error(err),
		)
		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return nil, fmt.Errorf("failed to connect to rabbitmq after %d attempts: %w", maxRetries, lastErr)
}
