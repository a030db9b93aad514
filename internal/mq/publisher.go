package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Kontora/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeInstanceTrigger MessageType = "instance.trigger"
	MessageTypeActionCallback  MessageType = "action.callback"
	MessageTypeInstanceStatus  MessageType = "instance.status"
)

// Причины триггера продвижения instance.
const (
	TriggerReasonCreated   = "created"
	TriggerReasonUserInput = "user_input"
	TriggerReasonTimer     = "timer"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TriggerPayload — payload триггера продвижения instance.
type TriggerPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`

	// Reason — что разбудило instance: created, user_input, timer.
	Reason string `json:"reason"`
}

// CallbackPayload — payload callback'а внешнего действия.
type CallbackPayload struct {
	Handle  domain.TaskHandle    `json:"handle"`
	Outcome domain.ActionOutcome `json:"outcome"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTrigger публикует триггер продвижения instance.
// Потребитель: core.
func (p *Publisher) PublishTrigger(ctx context.Context, instanceID uuid.UUID, reason string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceTrigger,
		Payload:   TriggerPayload{InstanceID: instanceID, Reason: reason},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyTrigger, msg)
}

// PublishCallback публикует callback внешнего действия.
// Потребитель: core.
func (p *Publisher) PublishCallback(ctx context.Context, payload CallbackPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeActionCallback,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeActions, RoutingKeyCallback, msg)
}

// PublishStatus публикует статусное событие instance.
// Потребители: frontend, admin console.
func (p *Publisher) PublishStatus(ctx context.Context, event domain.StatusChangedEvent) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceStatus,
		Payload:   event,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyStatus, msg)
}
