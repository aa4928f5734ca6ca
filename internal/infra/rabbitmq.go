// README: RabbitMQ connection used to fan booking events out to notification consumers.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

type RabbitMQ struct {
	url      string
	exchange string

	mu   sync.RWMutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewRabbitMQ dials url with capped exponential backoff and declares a
// durable topic exchange for booking events.
func NewRabbitMQ(ctx context.Context, url, exchange string) (*RabbitMQ, error) {
	mq := &RabbitMQ{url: url, exchange: exchange}

	const maxAttempts = 8
	delay := time.Second
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = mq.connect(); err == nil {
			log.Printf("[amqp] connected exchange=%s attempt=%d", exchange, attempt)
			return mq, nil
		}
		log.Printf("[amqp] connect attempt %d/%d failed: %v", attempt, maxAttempts, err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*3/2, 30*time.Second)
	}
	return nil, fmt.Errorf("rabbitmq: giving up after %d attempts: %w", maxAttempts, err)
}

func (mq *RabbitMQ) connect() error {
	conn, err := amqp.Dial(mq.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(mq.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare %s: %w", mq.exchange, err)
	}

	mq.mu.Lock()
	mq.conn = conn
	mq.ch = ch
	mq.mu.Unlock()
	return nil
}

// Publish sends a persistent JSON message to the booking exchange.
func (mq *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	mq.mu.RLock()
	ch := mq.ch
	mq.mu.RUnlock()
	if ch == nil {
		return errors.New("rabbitmq channel not available")
	}

	publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return ch.PublishWithContext(publishCtx, mq.exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	})
}

func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()
	if mq.ch != nil {
		_ = mq.ch.Close()
	}
	if mq.conn != nil {
		return mq.conn.Close()
	}
	return nil
}

// DiscardPublisher drops events; wired when no broker URL is configured.
type DiscardPublisher struct{}

func (DiscardPublisher) Publish(context.Context, string, []byte) error { return nil }
