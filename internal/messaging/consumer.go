package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventHandler processes one audit event
type EventHandler func(ctx context.Context, event *SessionEvent) error

// AuditConsumer reads session events from the audit queue
type AuditConsumer struct {
	rmq    *RabbitMQ
	handle EventHandler
}

func NewAuditConsumer(rmq *RabbitMQ, handle EventHandler) *AuditConsumer {
	return &AuditConsumer{
		rmq:    rmq,
		handle: handle,
	}
}

// Start begins consuming in a goroutine that stops when ctx is done
func (c *AuditConsumer) Start(ctx context.Context) error {
	msgs, err := c.rmq.ConsumeSessionEvents()
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				slog.Info("stopping audit consumer")
				return
			case msg, ok := <-msgs:
				if !ok {
					slog.Warn("audit consumer channel closed")
					return
				}
				c.process(ctx, msg)
			}
		}
	}()

	return nil
}

func (c *AuditConsumer) process(ctx context.Context, msg amqp.Delivery) {
	event, err := DecodeSessionEvent(msg.Body)
	if err != nil {
		slog.Error("discarding malformed session event",
			slog.String("error", err.Error()),
			slog.Int("body_size", len(msg.Body)))
		msg.Nack(false, false)
		return
	}

	if err := c.handle(ctx, event); err != nil {
		slog.Error("failed to handle session event",
			slog.String("type", event.Type),
			slog.String("error", err.Error()))
		msg.Nack(false, true)
		return
	}
	msg.Ack(false)
}

// DecodeSessionEvent parses a published event body
func DecodeSessionEvent(body []byte) (*SessionEvent, error) {
	var event SessionEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("failed to decode session event: %w", err)
	}
	if event.Type == "" {
		return nil, fmt.Errorf("session event without type")
	}
	return &event, nil
}
