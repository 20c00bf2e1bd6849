package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	SessionsExchange = "admin.sessions"
	AuditQueue       = "session.audit"
	auditBindingKey  = "session.#"
)

// Session event types
const (
	EventAuthenticated = "authenticated"
	EventCleared       = "cleared"
	EventExpired       = "expired"
)

// SessionEvent describes a session change. It never carries the token.
type SessionEvent struct {
	Type      string `json:"type"`
	Device    string `json:"device"`
	ProfileID string `json:"profile_id,omitempty"`
	Username  string `json:"username,omitempty"`
	ShopName  string `json:"shop_name,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// RoutingKey is the topic key the event is published under
func (e *SessionEvent) RoutingKey() string {
	return "session." + e.Type
}

type RabbitMQ struct {
	conn *amqp.Connection

	// amqp channels are not safe for concurrent publishing
	mu      sync.Mutex
	channel *amqp.Channel
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		channel: ch,
	}

	if err := rmq.Setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

// Setup declares the sessions exchange and the durable audit queue bound to it
func (r *RabbitMQ) Setup() error {
	if err := r.channel.ExchangeDeclare(
		SessionsExchange, // name
		"topic",          // type
		true,             // durable
		false,            // auto-deleted
		false,            // internal
		false,            // no-wait
		nil,              // arguments
	); err != nil {
		return fmt.Errorf("failed to declare sessions exchange: %w", err)
	}

	if _, err := r.channel.QueueDeclare(
		AuditQueue, // name
		true,       // durable
		false,      // delete when unused
		false,      // exclusive
		false,      // no-wait
		nil,        // arguments
	); err != nil {
		return fmt.Errorf("failed to declare %s queue: %w", AuditQueue, err)
	}

	if err := r.channel.QueueBind(
		AuditQueue,       // queue name
		auditBindingKey,  // routing key
		SessionsExchange, // exchange
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to bind %s queue: %w", AuditQueue, err)
	}

	slog.Info("rabbitmq setup completed successfully")
	return nil
}

func (r *RabbitMQ) PublishSessionEvent(ctx context.Context, event *SessionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal session event: %w", err)
	}

	r.mu.Lock()
	err = r.channel.PublishWithContext(
		ctx,
		SessionsExchange,
		event.RoutingKey(),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	r.mu.Unlock()

	if err != nil {
		return fmt.Errorf("failed to publish session event: %w", err)
	}

	slog.Debug("published session event",
		slog.String("type", event.Type),
		slog.String("device", event.Device))
	return nil
}

func (r *RabbitMQ) ConsumeSessionEvents() (<-chan amqp.Delivery, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channel.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	msgs, err := r.channel.Consume(
		AuditQueue,
		"",
		false, // manual ack
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("started consuming session events",
		slog.String("queue", AuditQueue))
	return msgs, nil
}

func (r *RabbitMQ) IsClosed() bool {
	return r.conn == nil || r.conn.IsClosed()
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// NewRabbitMQWithRetry dials until it succeeds or ctx is done, backing off
// between attempts
func NewRabbitMQWithRetry(ctx context.Context, url string) (*RabbitMQ, error) {
	backoff := time.Second
	for attempt := 1; ; attempt++ {
		rmq, err := NewRabbitMQ(url)
		if err == nil {
			return rmq, nil
		}

		slog.Warn("rabbitmq not reachable, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("giving up on rabbitmq after %d attempts: %w", attempt, err)
		case <-time.After(backoff):
		}

		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}
