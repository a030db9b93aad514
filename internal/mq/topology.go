package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeInstances Exchange = "kontora.instances"
	ExchangeActions   Exchange = "kontora.actions"
	ExchangeDLQ       Exchange = "kontora.dlq"
)

// Queues — имена очередей.
const (
	QueueInstanceTriggers Queue = "instances.trigger"
	QueueActionCallbacks  Queue = "actions.callback"
	QueueInstanceStatus   Queue = "instances.status"
	QueueDLQCallbacks     Queue = "dlq.callbacks"
)

// Routing keys.
const (
	RoutingKeyTrigger      RoutingKey = "trigger"
	RoutingKeyCallback     RoutingKey = "callback"
	RoutingKeyStatus       RoutingKey = "status"
	RoutingKeyDLQCallbacks RoutingKey = "callbacks"
)

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeInstances, "direct"},
		{ExchangeActions, "direct"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel) error {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQCallbacks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// instances.trigger — без DLQ (polling fallback подхватит)
		{QueueInstanceTriggers, nil},

		// actions.callback — с DLQ: callback нельзя терять молча,
		// после исчерпания requeue уходит на ручной разбор
		{QueueActionCallbacks, dlqArgs},

		// instances.status — потребляют frontend/admin, без DLQ
		{QueueInstanceStatus, nil},

		// dlq.callbacks — сама DLQ очередь
		{QueueDLQCallbacks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueInstanceTriggers, RoutingKeyTrigger, ExchangeInstances},
		{QueueInstanceStatus, RoutingKeyStatus, ExchangeInstances},
		{QueueActionCallbacks, RoutingKeyCallback, ExchangeActions},
		{QueueDLQCallbacks, RoutingKeyDLQCallbacks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}
