// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - instance.trigger — instance требует продвижения (создан, таймер, ввод)
//   - action.callback  — automation-коллаборатор сообщил результат
//   - instance.status  — статус instance изменился (для frontend/admin)
//
// Exchanges:
//   - kontora.instances — триггеры и статусные события instances
//   - kontora.actions   — callbacks внешних действий
//   - kontora.dlq       — dead letter queue
package mq
