// Package events republishes hub events to a RabbitMQ topic exchange for
// operational visibility (fallback routing, crew churn, context lifecycle).
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"github.com/GiovanoMP/chatwootai-hub/internal/domain"
)

// AMQPPublisher forwards bus events to a durable topic exchange. The event
// type doubles as the routing key, so consumers can bind to e.g.
// "routing.fallback" alone.
type AMQPPublisher struct {
	conn        *amqp091.Connection
	exchange    string
	logger      *slog.Logger
	unsubscribe func()
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}

	return &AMQPPublisher{
		conn:     conn,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Attach subscribes to every bus event and republishes it. Publish failures
// are logged, never propagated: event delivery is best-effort and must not
// affect message processing.
func (p *AMQPPublisher) Attach(bus domain.EventBus) {
	p.unsubscribe = bus.SubscribeAll(func(ctx context.Context, event domain.Event) {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Warn("event publish failed", "type", event.Type, "error", err)
		}
	})
}

func (p *AMQPPublisher) publish(ctx context.Context, event domain.Event) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	correlationID := event.ConversationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return ch.PublishWithContext(
		ctx, p.exchange, string(event.Type), false, false,
		amqp091.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp091.Persistent,
			MessageId:     uuid.NewString(),
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	)
}

// Close detaches from the bus and closes the connection.
func (p *AMQPPublisher) Close() error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	return p.conn.Close()
}
